package aggregator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/jask/banksync/internal/daterange"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

const accountSet = `{
  "accounts": [
    {
      "id": "act-1",
      "name": "Everyday Checking",
      "type": "checking",
      "mask": "xxxx-4321",
      "org": {"name": "ANZ"},
      "balance": "1,234.56",
      "earliest-transaction": 1718409600,
      "transactions": [
        {"id": "ext-1", "posted": 1736985600, "amount": "-42.00", "description": "STARBUCKS #123", "payee": "Starbucks"},
        {"id": "ext-2", "posted": 1737072000, "amount": "1500.00", "description": "SALARY"}
      ]
    }
  ],
  "errors": []
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewHTTPClient(srv.URL, 100, log)
}

func TestListAccounts(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("balances-only"))
		_, _ = w.Write([]byte(accountSet))
	})

	accounts, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, AccountDescriptor{
		ID:           "act-1",
		Name:         "Everyday Checking",
		Institution:  "ANZ",
		AccountType:  "checking",
		NumberMasked: "xxxx-4321",
		BalanceCents: 123456,
	}, accounts[0])
}

func TestGetTransactions(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "act-1", r.URL.Query().Get("account"))
		require.NotEmpty(t, r.URL.Query().Get("start-date"))
		require.NotEmpty(t, r.URL.Query().Get("end-date"))
		_, _ = w.Write([]byte(accountSet))
	})

	window := daterange.MustNew(day("2025-01-01"), day("2025-01-31"))
	txs, err := c.GetTransactions(context.Background(), "act-1", window)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	require.Equal(t, "ext-1", txs[0].ID)
	require.Equal(t, int64(-4200), txs[0].AmountCents)
	require.Equal(t, "Starbucks", txs[0].Merchant)
	require.Equal(t, day("2025-01-16"), txs[0].Date)
	require.NotNil(t, txs[0].Posted)

	require.Equal(t, int64(150000), txs[1].AmountCents)
}

func TestEarliestTransactionDates(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(accountSet))
	})

	dates, err := c.EarliestTransactionDates(context.Background())
	require.NoError(t, err)
	require.Equal(t, day("2024-06-15"), dates["act-1"])
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	t.Run("401 is auth expired", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		_, err := c.ListAccounts(context.Background())
		require.ErrorIs(t, err, ErrAuthExpired)
		require.False(t, IsTransient(err))
	})

	t.Run("503 is transient", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		_, err := c.ListAccounts(context.Background())
		require.Error(t, err)
		require.True(t, IsTransient(err))
	})

	t.Run("429 is transient", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		_, err := c.ListAccounts(context.Background())
		require.True(t, IsTransient(err))
	})
}

func TestParseAmountCents(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "-42.00", want: -4200},
		{in: "1,234.56", want: 123456},
		{in: "0", want: 0},
		{in: "19.999", want: 2000},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseAmountCents(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jask/banksync/internal/daterange"
)

// HTTPClient implements Client against a SimpleFIN-style bridge: one
// access URL carrying its own credentials, accounts and transactions
// delivered as a single JSON document per request.
type HTTPClient struct {
	accessURL string
	http      *http.Client
	limiter   *rate.Limiter
	log       *logrus.Entry
}

// NewHTTPClient builds a client for the given access URL. ratePerSec
// caps outgoing request rate; the bridge throttles hard otherwise.
func NewHTTPClient(accessURL string, ratePerSec float64, log *logrus.Logger) *HTTPClient {
	if ratePerSec <= 0 {
		ratePerSec = 2
	}
	return &HTTPClient{
		accessURL: strings.TrimRight(accessURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), 1),
		log:       log.WithField("component", "aggregator"),
	}
}

type accountSetResponse struct {
	Accounts []accountJSON `json:"accounts"`
	Errors   []string      `json:"errors"`
}

type accountJSON struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Mask         string            `json:"mask"`
	Org          orgJSON           `json:"org"`
	Balance      string            `json:"balance"`
	EarliestUnix int64             `json:"earliest-transaction"`
	Transactions []transactionJSON `json:"transactions"`
}

type orgJSON struct {
	Name string `json:"name"`
}

type transactionJSON struct {
	ID             string `json:"id"`
	PostedUnix     int64  `json:"posted"`
	TransactedUnix int64  `json:"transacted_at"`
	Amount         string `json:"amount"`
	Description    string `json:"description"`
	Payee          string `json:"payee"`
	Pending        bool   `json:"pending"`
}

func (c *HTTPClient) ListAccounts(ctx context.Context) ([]AccountDescriptor, error) {
	set, err := c.fetch(ctx, url.Values{"balances-only": {"1"}})
	if err != nil {
		return nil, err
	}
	out := make([]AccountDescriptor, 0, len(set.Accounts))
	for _, a := range set.Accounts {
		balance, err := parseAmountCents(a.Balance)
		if err != nil {
			c.log.WithField("account", a.ID).Warnf("unparseable balance %q", a.Balance)
		}
		out = append(out, AccountDescriptor{
			ID:           a.ID,
			Name:         a.Name,
			Institution:  a.Org.Name,
			AccountType:  a.Type,
			NumberMasked: a.Mask,
			BalanceCents: balance,
		})
	}
	return out, nil
}

func (c *HTTPClient) GetTransactions(ctx context.Context, accountID string, window daterange.Range) ([]Transaction, error) {
	q := url.Values{
		"account":    {accountID},
		"start-date": {strconv.FormatInt(window.Start.Unix(), 10)},
		// end is inclusive: ask through the last second of the day
		"end-date": {strconv.FormatInt(window.End.AddDate(0, 0, 1).Unix()-1, 10)},
	}
	set, err := c.fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []Transaction
	for _, a := range set.Accounts {
		if a.ID != accountID {
			continue
		}
		for _, tj := range a.Transactions {
			cents, err := parseAmountCents(tj.Amount)
			if err != nil {
				c.log.WithFields(logrus.Fields{"account": accountID, "txn": tj.ID}).
					Warnf("skipping transaction with unparseable amount %q", tj.Amount)
				continue
			}
			t := Transaction{
				ID:          tj.ID,
				AccountID:   accountID,
				AmountCents: cents,
				Description: tj.Description,
				Merchant:    tj.Payee,
				Pending:     tj.Pending,
			}
			when := tj.TransactedUnix
			if when == 0 {
				when = tj.PostedUnix
			}
			t.Date = daterange.Day(time.Unix(when, 0).UTC())
			if tj.PostedUnix != 0 {
				p := daterange.Day(time.Unix(tj.PostedUnix, 0).UTC())
				t.Posted = &p
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *HTTPClient) EarliestTransactionDates(ctx context.Context) (map[string]time.Time, error) {
	set, err := c.fetch(ctx, url.Values{"balances-only": {"1"}})
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time)
	for _, a := range set.Accounts {
		if a.EarliestUnix > 0 {
			out[a.ID] = daterange.Day(time.Unix(a.EarliestUnix, 0).UTC())
		}
	}
	return out, nil
}

func (c *HTTPClient) fetch(ctx context.Context, q url.Values) (*accountSetResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.accessURL + "/accounts"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("aggregator: unexpected status %d", resp.StatusCode)
	}

	var set accountSetResponse
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("aggregator: decode response: %w", err)
	}
	for _, msg := range set.Errors {
		c.log.Warnf("bridge reported: %s", msg)
	}
	return &set, nil
}

// parseAmountCents converts a decimal dollar string like "-1,234.56"
// to signed cents.
func parseAmountCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 100)), nil
}

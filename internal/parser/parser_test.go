package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/banksync/internal/ledger"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statement.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))
	return path
}

func TestCSVParser(t *testing.T) {
	t.Parallel()
	path := writeCSV(t,
		"ANZ,checking,xxxx-4321",
		"2025-01-01,2025-01-31,1000.00,950.00",
		"2025-01-15,-42.00,STARBUCKS #123,Starbucks",
		"2025-01-20,1500.00,SALARY",
	)

	stmts, err := (&CSVParser{}).Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	st := stmts[0]
	require.Equal(t, ledger.AccountKey{Institution: "ANZ", AccountType: "checking", NumberMasked: "xxxx-4321"}, st.Key)
	require.Equal(t, day("2025-01-01"), st.PeriodStart)
	require.Equal(t, day("2025-01-31"), st.PeriodEnd)
	require.Equal(t, int64(100000), st.OpeningCents)
	require.Equal(t, int64(95000), st.ClosingCents)
	require.Empty(t, st.Warnings)
	require.Len(t, st.Transactions, 2)

	coffee := st.Transactions[0]
	require.Equal(t, int64(-4200), coffee.AmountCents)
	require.Equal(t, ledger.DirectionDebit, coffee.Direction)
	require.Equal(t, "Starbucks", coffee.Merchant)
	require.Equal(t, ledger.SourceDocument, coffee.Provenance)
	require.True(t, strings.HasPrefix(coffee.ID, "txn_"))

	salary := st.Transactions[1]
	require.Equal(t, ledger.DirectionCredit, salary.Direction)
	require.Empty(t, salary.Merchant)
}

// Re-parsing the same document must produce byte-identical transaction
// ids, or uploads would stop being idempotent.
func TestCSVParserStableIDs(t *testing.T) {
	t.Parallel()
	lines := []string{
		"ANZ,checking,xxxx-4321",
		"2025-01-01,2025-01-31,1000.00,950.00",
		"2025-01-15,-42.00,STARBUCKS #123",
	}
	first, err := (&CSVParser{}).Parse(context.Background(), writeCSV(t, lines...))
	require.NoError(t, err)
	second, err := (&CSVParser{}).Parse(context.Background(), writeCSV(t, lines...))
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, first[0].Transactions[0].ID, second[0].Transactions[0].ID)
}

func TestCSVParserBadRowsBecomeWarnings(t *testing.T) {
	t.Parallel()
	path := writeCSV(t,
		"ANZ,checking,xxxx-4321",
		"2025-01-01,2025-01-31,1000.00,950.00",
		"not-a-date,-42.00,BROKEN",
		"2025-01-16,not-an-amount,BROKEN TOO",
		"2025-01-17,-10.00,FINE",
	)

	stmts, err := (&CSVParser{}).Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, stmts[0].Transactions, 1)
	require.Len(t, stmts[0].Warnings, 2)
}

func TestCSVParserBadHeaderFailsDocument(t *testing.T) {
	t.Parallel()
	path := writeCSV(t, "just,two")
	_, err := (&CSVParser{}).Parse(context.Background(), path)
	require.Error(t, err)
}

func TestPDFParserText(t *testing.T) {
	t.Parallel()
	text := strings.Join([]string{
		"Account: ANZ checking xxxx-4321",
		"Period: 2025-01-01 to 2025-01-31",
		"Opening Balance: $1,000.00",
		"Closing Balance: $950.00",
		"",
		"2025-01-15  STARBUCKS #123  -$42.00",
		"2025-01-20  SALARY PAYMENT  $1,500.00",
		"some footer text",
	}, "\n")

	stmts, err := (&PDFParser{}).parseText(context.Background(), "statement.pdf", text)
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	st := stmts[0]
	require.Equal(t, "ANZ", st.Key.Institution)
	require.Equal(t, "checking", st.Key.AccountType)
	require.Equal(t, "xxxx-4321", st.Key.NumberMasked)
	require.Equal(t, int64(100000), st.OpeningCents)
	require.Equal(t, int64(95000), st.ClosingCents)
	require.Len(t, st.Transactions, 2)
	require.Equal(t, int64(-4200), st.Transactions[0].AmountCents)
	require.Equal(t, "STARBUCKS #123", st.Transactions[0].Description)
	require.Equal(t, int64(150000), st.Transactions[1].AmountCents)
}

func TestPDFParserNoAccountHeader(t *testing.T) {
	t.Parallel()
	_, err := (&PDFParser{}).parseText(context.Background(), "x.pdf", "nothing useful here")
	require.Error(t, err)
}

func TestForPath(t *testing.T) {
	t.Parallel()
	require.IsType(t, &CSVParser{}, ForPath("a/b/statement.CSV"))
	require.IsType(t, &PDFParser{}, ForPath("statement.pdf"))
	require.Nil(t, ForPath("statement.txt"))
}

// Package ledger holds the canonical domain model shared by the parser,
// the aggregation client and the persisted store.
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Transaction provenance values.
const (
	SourceDocument   = "document"
	SourceAggregator = "aggregator"
)

// Direction of money movement relative to the account.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// AccountKey identifies one logical account across every source.
// Equality is by value; two keys built independently from a statement
// and an aggregator descriptor compare equal when they describe the
// same account.
type AccountKey struct {
	Institution  string
	AccountType  string
	NumberMasked string
}

// String renders the key in a stable form usable as a map key and in
// the gap cache.
func (k AccountKey) String() string {
	return strings.ToLower(strings.TrimSpace(k.Institution)) + "/" +
		strings.ToLower(strings.TrimSpace(k.AccountType)) + "/" +
		strings.TrimSpace(k.NumberMasked)
}

// MaskDigits returns the trailing digits of the masked account number,
// used to pair a parsed account with an aggregator account.
func (k AccountKey) MaskDigits() string {
	s := k.NumberMasked
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return s[i:]
}

// Transaction is the canonical, source-independent representation.
type Transaction struct {
	ID          string
	AccountKey  AccountKey
	Date        time.Time
	PostedDate  *time.Time
	AmountCents int64 // signed: credits positive, debits negative
	Direction   string
	Description string
	Merchant    string
	Category    string
	Subcategory string
	Confidence  float64
	Provenance  string
}

// Statement is one parsed statement period for an account.
type Statement struct {
	ID           string
	Key          AccountKey
	PeriodStart  time.Time
	PeriodEnd    time.Time
	OpeningCents int64
	ClosingCents int64
	Transactions []Transaction
	Warnings     []string
}

// AccountSummary carries reconstructed balances. StartingCents is
// always derived from the other three, so
// Starting + Credits - Debits == Ending holds exactly.
type AccountSummary struct {
	StartingCents     int64
	EndingCents       int64
	TotalCreditsCents int64
	TotalDebitsCents  int64
}

// AccountReport is one account's slice of the final ledger.
type AccountReport struct {
	Key          AccountKey
	Summary      AccountSummary
	Transactions []Transaction
}

// DataSources records which inputs contributed to a run.
type DataSources struct {
	Documents  int
	Aggregator bool
	Store      bool
}

// Ledger is the rebuilt output for one requested window, consumed by
// the exporters.
type Ledger struct {
	Accounts          []AccountReport
	TotalTransactions int
	Sources           DataSources
	Warnings          []string
}

// Cents formats an integer cent amount as a dollar string for logs and
// warnings.
func Cents(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}

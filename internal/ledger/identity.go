package ledger

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// txnIDPrefix makes the hash recognisable in logs and exports.
const txnIDPrefix = "txn_"

// IDFields is the subset of transaction content that determines its
// identity. Two observations of the same real-world transaction, from
// any source on any run, must produce identical fields after
// normalisation.
type IDFields struct {
	Date        time.Time
	PostedDate  *time.Time
	Direction   string
	AmountCents int64
	Description string
	Merchant    string
}

// ComputeTransactionID derives the deterministic dedup key for a
// transaction. The hash input is a canonical concatenation of the
// identity fields plus the statement id, with case folded and runs of
// whitespace collapsed, so cosmetic differences between sources never
// change the id.
func ComputeTransactionID(f IDFields, statementID string) string {
	posted := ""
	if f.PostedDate != nil {
		posted = f.PostedDate.UTC().Format(time.DateOnly)
	}
	parts := []string{
		f.Date.UTC().Format(time.DateOnly),
		posted,
		canonical(f.Direction),
		strconv.FormatInt(f.AmountCents, 10),
		canonical(f.Description),
		canonical(f.Merchant),
		canonical(statementID),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return txnIDPrefix + fmt.Sprintf("%x", sum[:8])
}

// canonical lowercases and collapses internal whitespace.
func canonical(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// WithID returns t with its ID populated from its content.
func WithID(t Transaction, statementID string) Transaction {
	t.ID = ComputeTransactionID(IDFields{
		Date:        t.Date,
		PostedDate:  t.PostedDate,
		Direction:   t.Direction,
		AmountCents: t.AmountCents,
		Description: t.Description,
		Merchant:    t.Merchant,
	}, statementID)
	return t
}

package reconcile

import (
	"time"

	"github.com/jask/banksync/internal/daterange"
	"github.com/jask/banksync/internal/ledger"
)

// Anchor is the most recent statement's reported closing balance and
// the last day of its period.
type Anchor struct {
	EndingCents int64
	PeriodEnd   time.Time
}

// Reconstruct derives an account summary from a deduplicated
// transaction set. The ending balance rolls the anchor forward by the
// net of transactions strictly after the anchor period; the starting
// balance is then derived from the totals, never summed independently,
// so starting + credits - debits == ending holds by construction.
// Without an anchor the account starts from zero.
func Reconstruct(txs []ledger.Transaction, anchor *Anchor) ledger.AccountSummary {
	var credits, debits int64
	for _, t := range txs {
		if t.AmountCents >= 0 {
			credits += t.AmountCents
		} else {
			debits += -t.AmountCents
		}
	}

	var ending int64
	if anchor != nil {
		periodEnd := daterange.Day(anchor.PeriodEnd)
		ending = anchor.EndingCents
		for _, t := range txs {
			if daterange.Day(t.Date).After(periodEnd) {
				ending += t.AmountCents
			}
		}
	} else {
		ending = credits - debits
	}

	return ledger.AccountSummary{
		StartingCents:     ending - credits + debits,
		EndingCents:       ending,
		TotalCreditsCents: credits,
		TotalDebitsCents:  debits,
	}
}

// Package aggregator talks to the remote account-aggregation API. The
// sync pipeline only consumes the Client interface; the HTTP
// implementation lives in client.go.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jask/banksync/internal/daterange"
)

// ErrAuthExpired means the access credential needs to be re-issued.
// The pipeline treats it as non-retryable and skips the affected work.
var ErrAuthExpired = errors.New("aggregator: access credential expired")

// TransientError wraps failures worth retrying on a later run: network
// errors, 5xx responses, rate limiting by the upstream.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("aggregator: transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable aggregator failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AccountDescriptor identifies one account on the aggregator side.
type AccountDescriptor struct {
	ID           string
	Name         string
	Institution  string
	AccountType  string
	NumberMasked string
	BalanceCents int64
}

// Transaction is the aggregator's shape of a transaction, converted to
// canonical form at the pipeline boundary.
type Transaction struct {
	ID          string
	AccountID   string
	Date        time.Time
	Posted      *time.Time
	AmountCents int64
	Description string
	Merchant    string
	Pending     bool
}

// Client is the surface the sync pipeline consumes. Implementations
// own transport, retries and rate limiting; the pipeline only
// distinguishes auth failures from transient ones.
type Client interface {
	ListAccounts(ctx context.Context) ([]AccountDescriptor, error)
	GetTransactions(ctx context.Context, accountID string, window daterange.Range) ([]Transaction, error)
	// EarliestTransactionDates reports, per account id, the earliest
	// transaction the aggregator has. Accounts the API cannot answer
	// for are simply absent from the map.
	EarliestTransactionDates(ctx context.Context) (map[string]time.Time, error)
}

package repository

import (
	"context"
	"database/sql"

	"github.com/jask/banksync/internal/daterange"
	"github.com/jask/banksync/internal/ledger"
)

// Store bundles the per-entity repos behind the one surface the sync
// pipeline consumes.
type Store struct {
	Accounts     *AccountRepo
	Transactions *TransactionRepo
	Statements   *StatementRepo
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		Accounts:     NewAccountRepo(db),
		Transactions: NewTransactionRepo(db),
		Statements:   NewStatementRepo(db),
	}
}

func (s *Store) UpsertAccount(ctx context.Context, key ledger.AccountKey) error {
	_, err := s.Accounts.Upsert(ctx, key)
	return err
}

func (s *Store) UpsertTransactions(ctx context.Context, txs []ledger.Transaction) (inserted, skipped int, err error) {
	return s.Transactions.UpsertBatch(ctx, txs)
}

func (s *Store) UpsertStatement(ctx context.Context, st ledger.Statement) error {
	return s.Statements.Upsert(ctx, st)
}

func (s *Store) DateRanges(ctx context.Context) ([]AccountRange, error) {
	return s.Transactions.DateRanges(ctx)
}

func (s *Store) ListTransactions(ctx context.Context, key ledger.AccountKey, window daterange.Range) ([]ledger.Transaction, error) {
	return s.Transactions.List(ctx, key, window)
}

func (s *Store) LatestStatement(ctx context.Context, key ledger.AccountKey) (*ledger.Statement, error) {
	return s.Statements.Latest(ctx, key)
}

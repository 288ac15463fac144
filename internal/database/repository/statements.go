package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jask/banksync/internal/ledger"
)

// StatementRepo handles parsed statement periods. The closing balance
// of the latest statement is the anchor for balance reconstruction.
type StatementRepo struct {
	db *sql.DB
}

func NewStatementRepo(db *sql.DB) *StatementRepo { return &StatementRepo{db: db} }

// Upsert records a statement period; re-parsing the same document is a
// no-op via the (account, period) unique constraint.
func (r *StatementRepo) Upsert(ctx context.Context, st ledger.Statement) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO statements(id, account_id, period_start, period_end, opening, closing, created_at)
	VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(account_id, period_start, period_end) DO NOTHING;
	`, st.ID, AccountID(st.Key), isoDay(st.PeriodStart), isoDay(st.PeriodEnd), st.OpeningCents, st.ClosingCents)
	return err
}

// Latest returns the statement with the most recent period end for the
// account, or nil when none is stored.
func (r *StatementRepo) Latest(ctx context.Context, key ledger.AccountKey) (*ledger.Statement, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT id, period_start, period_end, opening, closing
	FROM statements
	WHERE account_id = ?
	ORDER BY period_end DESC
	LIMIT 1;
	`, AccountID(key))

	st := ledger.Statement{Key: key}
	var start, end string
	err := row.Scan(&st.ID, &start, &end, &st.OpeningCents, &st.ClosingCents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if st.PeriodStart, err = parseDay(start); err != nil {
		return nil, fmt.Errorf("stored period start %q: %w", start, err)
	}
	if st.PeriodEnd, err = parseDay(end); err != nil {
		return nil, fmt.Errorf("stored period end %q: %w", end, err)
	}
	return &st, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jask/banksync/internal/daterange"
	"github.com/jask/banksync/internal/ledger"
)

// Day-granularity dates are stored as ISO text so they compare and
// sort correctly in SQL without driver type guessing.
func isoDay(t time.Time) string {
	return daterange.Day(t).Format(time.DateOnly)
}

func parseDay(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}

// TransactionRepo handles transactions. The transaction id is the
// deterministic content hash, so inserts are naturally idempotent:
// a conflicting id means the transaction was seen before and the row,
// including any category assigned since, is left untouched.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

// UpsertBatch inserts the transactions that are new and counts the
// rest as skipped. First-seen data is authoritative; an existing row
// is never updated.
func (r *TransactionRepo) UpsertBatch(ctx context.Context, txs []ledger.Transaction) (inserted, skipped int, err error) {
	for _, t := range txs {
		var posted *string
		if t.PostedDate != nil {
			p := isoDay(*t.PostedDate)
			posted = &p
		}
		res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions(
		 id, account_id, date, posted_date, amount, direction, description,
		 merchant, category, subcategory, confidence, provenance, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO NOTHING;
		`,
			t.ID, AccountID(t.AccountKey), isoDay(t.Date), posted, t.AmountCents, t.Direction,
			t.Description, t.Merchant, t.Category, t.Subcategory, t.Confidence, t.Provenance)
		if err != nil {
			return inserted, skipped, fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, skipped, err
		}
		if n == 0 {
			skipped++
		} else {
			inserted++
		}
	}
	return inserted, skipped, nil
}

// AccountRange is the stored coverage for one account.
type AccountRange struct {
	Key   ledger.AccountKey
	Range daterange.Range
	Count int
}

// DateRanges returns min/max transaction date and row count per
// account, for accounts that have at least one transaction.
func (r *TransactionRepo) DateRanges(ctx context.Context) ([]AccountRange, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT a.institution, a.account_type, a.number_masked, MIN(t.date), MAX(t.date), COUNT(*)
	FROM transactions t
	JOIN accounts a ON a.id = t.account_id
	GROUP BY t.account_id;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountRange
	for rows.Next() {
		var ar AccountRange
		var minDay, maxDay string
		if err := rows.Scan(&ar.Key.Institution, &ar.Key.AccountType, &ar.Key.NumberMasked, &minDay, &maxDay, &ar.Count); err != nil {
			return nil, err
		}
		start, err := parseDay(minDay)
		if err != nil {
			return nil, fmt.Errorf("stored min date %q: %w", minDay, err)
		}
		end, err := parseDay(maxDay)
		if err != nil {
			return nil, fmt.Errorf("stored max date %q: %w", maxDay, err)
		}
		rng, err := daterange.New(start, end)
		if err != nil {
			return nil, err
		}
		ar.Range = rng
		out = append(out, ar)
	}
	return out, rows.Err()
}

// List returns an account's transactions inside the window, date-sorted.
func (r *TransactionRepo) List(ctx context.Context, key ledger.AccountKey, window daterange.Range) ([]ledger.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, date, posted_date, amount, direction, description, merchant,
	       category, subcategory, confidence, provenance
	FROM transactions
	WHERE account_id = ? AND date >= ? AND date <= ?
	ORDER BY date, id;
	`, AccountID(key), isoDay(window.Start), isoDay(window.End))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		t := ledger.Transaction{AccountKey: key}
		var date string
		var posted sql.NullString
		if err := rows.Scan(&t.ID, &date, &posted, &t.AmountCents, &t.Direction,
			&t.Description, &t.Merchant, &t.Category, &t.Subcategory, &t.Confidence, &t.Provenance); err != nil {
			return nil, err
		}
		d, err := parseDay(date)
		if err != nil {
			return nil, fmt.Errorf("stored date %q: %w", date, err)
		}
		t.Date = d
		if posted.Valid {
			p, err := parseDay(posted.String)
			if err != nil {
				return nil, fmt.Errorf("stored posted date %q: %w", posted.String, err)
			}
			t.PostedDate = &p
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

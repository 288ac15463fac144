// Package repository provides the SQLite persistence layer: accounts,
// transactions, statements and the gap cache tables.
package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/jask/banksync/internal/database"
	"github.com/jask/banksync/internal/ledger"
)

// AccountRepo handles accounts.
type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// AccountID derives the stable row id for an account key, so every run
// maps the same logical account to the same row.
func AccountID(key ledger.AccountKey) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.ToLower(key.String()))).String()
}

// Upsert inserts the account if new and returns its id either way.
func (r *AccountRepo) Upsert(ctx context.Context, key ledger.AccountKey) (string, error) {
	id := AccountID(key)
	now := database.Now()
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO accounts(id, institution, account_type, number_masked, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET updated_at=excluded.updated_at;
	`, id, key.Institution, key.AccountType, key.NumberMasked, now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// List returns every known account key.
func (r *AccountRepo) List(ctx context.Context) ([]ledger.AccountKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT institution, account_type, number_masked FROM accounts ORDER BY institution, account_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.AccountKey
	for rows.Next() {
		var k ledger.AccountKey
		if err := rows.Scan(&k.Institution, &k.AccountType, &k.NumberMasked); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

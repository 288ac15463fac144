package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jask/banksync/internal/database"
	"github.com/jask/banksync/internal/daterange"
	"github.com/jask/banksync/internal/gapcache"
)

// GapCacheRepo persists the gap cache in the store, replacing the JSON
// file when a database is configured. Save rewrites both tables inside
// one transaction so a crash never leaves a half-written cache.
type GapCacheRepo struct {
	db *sql.DB
}

func NewGapCacheRepo(db *sql.DB) *GapCacheRepo { return &GapCacheRepo{db: db} }

var _ gapcache.Store = (*GapCacheRepo)(nil)

func (r *GapCacheRepo) Load(ctx context.Context) (map[string]gapcache.Entry, error) {
	out := map[string]gapcache.Entry{}

	entry := func(key string) gapcache.Entry {
		e, ok := out[key]
		if !ok {
			e = gapcache.Entry{Earliest: map[string]time.Time{}}
		}
		return e
	}

	rows, err := r.db.QueryContext(ctx, `SELECT account_key, start_date, end_date FROM gap_cache_ranges ORDER BY account_key, start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, start, end string
		if err := rows.Scan(&key, &start, &end); err != nil {
			return nil, err
		}
		s, err := parseDay(start)
		if err != nil {
			return nil, fmt.Errorf("gap cache %s: bad start %q: %w", key, start, err)
		}
		e, err2 := parseDay(end)
		if err2 != nil {
			return nil, fmt.Errorf("gap cache %s: bad end %q: %w", key, end, err2)
		}
		rng, err := daterange.New(s, e)
		if err != nil {
			return nil, fmt.Errorf("gap cache %s: %w", key, err)
		}
		ent := entry(key)
		ent.CheckedEmpty = append(ent.CheckedEmpty, rng)
		out[key] = ent
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	erows, err := r.db.QueryContext(ctx, `SELECT account_key, external_account_id, earliest_date FROM gap_cache_earliest`)
	if err != nil {
		return nil, err
	}
	defer erows.Close()
	for erows.Next() {
		var key, id, day string
		if err := erows.Scan(&key, &id, &day); err != nil {
			return nil, err
		}
		d, err := parseDay(day)
		if err != nil {
			return nil, fmt.Errorf("gap cache %s: bad earliest %q: %w", key, day, err)
		}
		ent := entry(key)
		ent.Earliest[id] = d
		out[key] = ent
	}
	return out, erows.Err()
}

func (r *GapCacheRepo) Save(ctx context.Context, snapshot map[string]gapcache.Entry) error {
	return database.WithTx(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM gap_cache_ranges`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM gap_cache_earliest`); err != nil {
			return err
		}
		for key, e := range snapshot {
			for _, rng := range e.CheckedEmpty {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO gap_cache_ranges(account_key, start_date, end_date) VALUES(?, ?, ?)`,
					key, isoDay(rng.Start), isoDay(rng.End)); err != nil {
					return err
				}
			}
			for id, d := range e.Earliest {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO gap_cache_earliest(account_key, external_account_id, earliest_date) VALUES(?, ?, ?)`,
					key, id, isoDay(d)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

package service

import (
	"context"
	"sort"

	"github.com/jask/banksync/internal/aggregator"
	"github.com/jask/banksync/internal/daterange"
	"github.com/jask/banksync/internal/database/repository"
	"github.com/jask/banksync/internal/gapcache"
	"github.com/jask/banksync/internal/ledger"
)

// AccountCoverage is one account's view of the requested window: the
// date ranges some source already accounts for, and the gaps left
// over.
type AccountCoverage struct {
	Key     ledger.AccountKey
	Covered []daterange.Range
	Gaps    []daterange.Range
}

// NeedsFill reports whether any part of the window is uncovered.
func (c AccountCoverage) NeedsFill() bool { return len(c.Gaps) > 0 }

// Analyzer computes per-account coverage of a requested window from
// parsed statements, stored history and previously checked-empty
// ranges.
type Analyzer struct {
	Cache *gapcache.Cache
}

// Analyze unions the account keys seen by any source, then for each
// key subtracts everything covered from the window. Ranges that were
// checked before and came back empty count as covered, so they are
// never fetched twice.
func (a *Analyzer) Analyze(window daterange.Range, parsed []ledger.Statement, stored []repository.AccountRange) []AccountCoverage {
	byKey := map[string]*AccountCoverage{}
	get := func(key ledger.AccountKey) *AccountCoverage {
		k := key.String()
		if c, ok := byKey[k]; ok {
			return c
		}
		c := &AccountCoverage{Key: key}
		byKey[k] = c
		return c
	}

	for _, st := range parsed {
		if r, ok := statementRange(st); ok {
			get(st.Key).Covered = append(get(st.Key).Covered, r)
		}
	}
	for _, ar := range stored {
		get(ar.Key).Covered = append(get(ar.Key).Covered, ar.Range)
	}

	out := make([]AccountCoverage, 0, len(byKey))
	for _, c := range byKey {
		if a.Cache != nil {
			c.Covered = append(c.Covered, a.Cache.CheckedRanges(c.Key.String())...)
		}
		c.Covered = daterange.Merge(c.Covered)
		c.Gaps = daterange.Subtract(window, c.Covered)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// statementRange is the span a parsed statement vouches for. The
// transaction dates bound it when present; an empty statement still
// covers its reported period.
func statementRange(st ledger.Statement) (daterange.Range, bool) {
	if len(st.Transactions) == 0 {
		r, err := daterange.New(st.PeriodStart, st.PeriodEnd)
		return r, err == nil
	}
	min := daterange.Day(st.Transactions[0].Date)
	max := min
	for _, t := range st.Transactions[1:] {
		d := daterange.Day(t.Date)
		if d.Before(min) {
			min = d
		}
		if d.After(max) {
			max = d
		}
	}
	return daterange.MustNew(min, max), true
}

// BootstrapKeys discovers accounts from the aggregator when no source
// has seen any account yet, so a first run with no documents and an
// empty store can still fill the whole window.
func BootstrapKeys(ctx context.Context, client aggregator.Client) ([]ledger.AccountKey, error) {
	descs, err := client.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]ledger.AccountKey, 0, len(descs))
	for _, d := range descs {
		keys = append(keys, ledger.AccountKey{
			Institution:  d.Institution,
			AccountType:  d.AccountType,
			NumberMasked: d.NumberMasked,
		})
	}
	return keys, nil
}

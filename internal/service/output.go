package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/jask/banksync/internal/daterange"
	"github.com/jask/banksync/internal/database/repository"
	"github.com/jask/banksync/internal/ledger"
	"github.com/jask/banksync/internal/reconcile"
)

// Store is the persistence surface the pipeline consumes. The sqlite
// implementation lives in internal/database/repository; tests may
// substitute their own.
type Store interface {
	UpsertAccount(ctx context.Context, key ledger.AccountKey) error
	UpsertTransactions(ctx context.Context, txs []ledger.Transaction) (inserted, skipped int, err error)
	UpsertStatement(ctx context.Context, st ledger.Statement) error
	DateRanges(ctx context.Context) ([]repository.AccountRange, error)
	ListTransactions(ctx context.Context, key ledger.AccountKey, window daterange.Range) ([]ledger.Transaction, error)
	LatestStatement(ctx context.Context, key ledger.AccountKey) (*ledger.Statement, error)
}

// OutputBuilder accumulates a run's inputs and assembles the final
// ledger. The pipeline picks one strategy at the start of a run:
// store-backed when a database is configured, in-memory otherwise, and
// never mixes the two.
type OutputBuilder interface {
	// AddStatement records a parsed statement. Persistence, when any,
	// has already happened by the time this is called.
	AddStatement(st ledger.Statement)
	// AddExternal records gap-fill transactions for an account.
	AddExternal(ctx context.Context, key ledger.AccountKey, txs []ledger.Transaction) error
	// AttachMatches records reconciliation outcomes for an account's
	// canonical transactions.
	AttachMatches(key ledger.AccountKey, matches []reconcile.Match)
	// Build assembles the per-account reports for the window.
	Build(ctx context.Context, window daterange.Range) ([]ledger.AccountReport, error)
}

// storeBuilder reads everything back from the store, so the report
// reflects exactly what was persisted across this and previous runs.
type storeBuilder struct {
	store Store
	keys  map[string]ledger.AccountKey
}

// NewStoreBuilder returns the store-backed output strategy.
func NewStoreBuilder(store Store) OutputBuilder {
	return &storeBuilder{store: store, keys: map[string]ledger.AccountKey{}}
}

func (b *storeBuilder) AddStatement(st ledger.Statement) {
	b.keys[st.Key.String()] = st.Key
}

func (b *storeBuilder) AddExternal(ctx context.Context, key ledger.AccountKey, txs []ledger.Transaction) error {
	b.keys[key.String()] = key
	if len(txs) == 0 {
		return nil
	}
	if _, _, err := b.store.UpsertTransactions(ctx, txs); err != nil {
		return fmt.Errorf("persist gap-fill transactions for %s: %w", key, err)
	}
	return nil
}

// AttachMatches is a no-op here: the store is the source of truth and
// Build re-reads it, so per-run match confidence is not persisted onto
// rows that earlier runs already own.
func (b *storeBuilder) AttachMatches(ledger.AccountKey, []reconcile.Match) {}

func (b *storeBuilder) Build(ctx context.Context, window daterange.Range) ([]ledger.AccountReport, error) {
	ranges, err := b.store.DateRanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("read stored coverage: %w", err)
	}
	for _, ar := range ranges {
		if ar.Range.Overlaps(window) {
			b.keys[ar.Key.String()] = ar.Key
		}
	}

	reports := make([]ledger.AccountReport, 0, len(b.keys))
	for _, key := range sortedKeys(b.keys) {
		txs, err := b.store.ListTransactions(ctx, key, window)
		if err != nil {
			return nil, fmt.Errorf("read transactions for %s: %w", key, err)
		}
		anchor, err := b.anchor(ctx, key)
		if err != nil {
			return nil, err
		}
		reports = append(reports, ledger.AccountReport{
			Key:          key,
			Summary:      reconcile.Reconstruct(txs, anchor),
			Transactions: txs,
		})
	}
	return reports, nil
}

func (b *storeBuilder) anchor(ctx context.Context, key ledger.AccountKey) (*reconcile.Anchor, error) {
	st, err := b.store.LatestStatement(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read latest statement for %s: %w", key, err)
	}
	if st == nil {
		return nil, nil
	}
	return &reconcile.Anchor{EndingCents: st.ClosingCents, PeriodEnd: st.PeriodEnd}, nil
}

// memoryBuilder assembles the report from this run's inputs alone,
// used when no database is configured. Duplicate observations collapse
// on the content-derived transaction id.
type memoryBuilder struct {
	keys       map[string]ledger.AccountKey
	txs        map[string][]ledger.Transaction
	anchors    map[string]reconcile.Anchor
	anchorEnds map[string]string
}

// NewMemoryBuilder returns the in-memory output strategy.
func NewMemoryBuilder() OutputBuilder {
	return &memoryBuilder{
		keys:       map[string]ledger.AccountKey{},
		txs:        map[string][]ledger.Transaction{},
		anchors:    map[string]reconcile.Anchor{},
		anchorEnds: map[string]string{},
	}
}

func (b *memoryBuilder) AddStatement(st ledger.Statement) {
	k := st.Key.String()
	b.keys[k] = st.Key
	b.txs[k] = append(b.txs[k], st.Transactions...)

	// the most recent statement period anchors the balance
	end := daterange.Day(st.PeriodEnd).Format("2006-01-02")
	if prev, ok := b.anchorEnds[k]; !ok || end > prev {
		b.anchorEnds[k] = end
		b.anchors[k] = reconcile.Anchor{EndingCents: st.ClosingCents, PeriodEnd: st.PeriodEnd}
	}
}

func (b *memoryBuilder) AddExternal(_ context.Context, key ledger.AccountKey, txs []ledger.Transaction) error {
	k := key.String()
	b.keys[k] = key
	b.txs[k] = append(b.txs[k], txs...)
	return nil
}

// AttachMatches stamps each matched canonical transaction with the
// winning pairing's confidence, replacing the parser's flat 1.
func (b *memoryBuilder) AttachMatches(key ledger.AccountKey, matches []reconcile.Match) {
	if len(matches) == 0 {
		return
	}
	byID := make(map[string]reconcile.Match, len(matches))
	for _, m := range matches {
		byID[m.Canonical.ID] = m
	}
	txs := b.txs[key.String()]
	for i := range txs {
		if m, ok := byID[txs[i].ID]; ok {
			txs[i].Confidence = m.Confidence
		}
	}
}

func (b *memoryBuilder) Build(_ context.Context, window daterange.Range) ([]ledger.AccountReport, error) {
	reports := make([]ledger.AccountReport, 0, len(b.keys))
	for _, key := range sortedKeys(b.keys) {
		seen := map[string]bool{}
		var txs []ledger.Transaction
		for _, t := range b.txs[key.String()] {
			if !window.Contains(t.Date) || seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			txs = append(txs, t)
		}
		sort.Slice(txs, func(i, j int) bool {
			if !txs[i].Date.Equal(txs[j].Date) {
				return txs[i].Date.Before(txs[j].Date)
			}
			return txs[i].ID < txs[j].ID
		})
		var anchor *reconcile.Anchor
		if a, ok := b.anchors[key.String()]; ok {
			anchor = &a
		}
		reports = append(reports, ledger.AccountReport{
			Key:          key,
			Summary:      reconcile.Reconstruct(txs, anchor),
			Transactions: txs,
		})
	}
	return reports, nil
}

func sortedKeys(m map[string]ledger.AccountKey) []ledger.AccountKey {
	strs := make([]string, 0, len(m))
	for k := range m {
		strs = append(strs, k)
	}
	sort.Strings(strs)
	keys := make([]ledger.AccountKey, 0, len(strs))
	for _, s := range strs {
		keys = append(keys, m[s])
	}
	return keys
}

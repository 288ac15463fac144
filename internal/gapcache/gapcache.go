// Package gapcache remembers, per account, which external date ranges
// have already been confirmed empty and the earliest transaction date
// each external account is known to have. Without it every run would
// re-query an account's entire uncovered history.
package gapcache

import (
	"context"
	"time"

	"github.com/jask/banksync/internal/daterange"
)

// Entry is the cached state for one account key.
type Entry struct {
	CheckedEmpty []daterange.Range
	// Earliest maps external account id to the earliest transaction
	// date the aggregator has reported for it.
	Earliest map[string]time.Time
}

// Cache is the in-process gap cache for one run. It is loaded from a
// Store at pipeline start, mutated as gaps are confirmed empty, and
// saved at the end. Not safe for concurrent use; the pipeline is
// strictly sequential.
type Cache struct {
	entries map[string]*Entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

func (c *Cache) entry(key string) *Entry {
	e, ok := c.entries[key]
	if !ok {
		e = &Entry{Earliest: make(map[string]time.Time)}
		c.entries[key] = e
	}
	return e
}

// MarkChecked records that r was queried externally and contained no
// transactions. The account's empty-range list stays merged.
func (c *Cache) MarkChecked(key string, r daterange.Range) {
	e := c.entry(key)
	e.CheckedEmpty = daterange.Merge(append(e.CheckedEmpty, r))
}

// CheckedRanges returns the merged confirmed-empty ranges for key.
// These count as covered territory during gap analysis.
func (c *Cache) CheckedRanges(key string) []daterange.Range {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	return e.CheckedEmpty
}

// EarliestDate reports the memoised earliest transaction date for an
// external account, if one has been recorded.
func (c *Cache) EarliestDate(key, accountID string) (time.Time, bool) {
	e, ok := c.entries[key]
	if !ok {
		return time.Time{}, false
	}
	d, ok := e.Earliest[accountID]
	return d, ok
}

// SetEarliestDate memoises the aggregator's earliest-transaction-date
// answer so it is looked up at most once per account.
func (c *Cache) SetEarliestDate(key, accountID string, d time.Time) {
	c.entry(key).Earliest[accountID] = daterange.Day(d)
}

// PruneGaps removes the parts of gaps that precede the account's
// earliest known transaction date: nothing can exist there, so they
// are marked checked-empty immediately and dropped. A gap straddling
// the boundary is clamped to start at the earliest date. With no
// earliest date recorded the gaps pass through unchanged.
func (c *Cache) PruneGaps(key, accountID string, gaps []daterange.Range) []daterange.Range {
	earliest, ok := c.EarliestDate(key, accountID)
	if !ok {
		return gaps
	}
	var out []daterange.Range
	for _, g := range gaps {
		switch {
		case g.End.Before(earliest):
			c.MarkChecked(key, g)
		case g.Start.Before(earliest):
			c.MarkChecked(key, daterange.Range{Start: g.Start, End: earliest.AddDate(0, 0, -1)})
			out = append(out, daterange.Range{Start: earliest, End: g.End})
		default:
			out = append(out, g)
		}
	}
	return out
}

// Snapshot returns a deep copy of the cache contents for persistence.
func (c *Cache) Snapshot() map[string]Entry {
	out := make(map[string]Entry, len(c.entries))
	for k, e := range c.entries {
		cp := Entry{
			CheckedEmpty: append([]daterange.Range(nil), e.CheckedEmpty...),
			Earliest:     make(map[string]time.Time, len(e.Earliest)),
		}
		for id, d := range e.Earliest {
			cp.Earliest[id] = d
		}
		out[k] = cp
	}
	return out
}

// Restore replaces the cache contents from a persisted snapshot.
func (c *Cache) Restore(snapshot map[string]Entry) {
	c.entries = make(map[string]*Entry, len(snapshot))
	for k, e := range snapshot {
		entry := &Entry{
			CheckedEmpty: daterange.Merge(e.CheckedEmpty),
			Earliest:     make(map[string]time.Time, len(e.Earliest)),
		}
		for id, d := range e.Earliest {
			entry.Earliest[id] = daterange.Day(d)
		}
		c.entries[k] = entry
	}
}

// Store persists the cache across runs. Implementations: the JSON file
// store in this package and the SQLite repository.
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, snapshot map[string]Entry) error
}

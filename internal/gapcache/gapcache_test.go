package gapcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/banksync/internal/daterange"
)

const key = "anz/checking/xxxx-4321"

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rng(start, end string) daterange.Range {
	return daterange.MustNew(day(start), day(end))
}

func TestMarkCheckedMerges(t *testing.T) {
	t.Parallel()
	c := New()
	c.MarkChecked(key, rng("2025-01-01", "2025-01-10"))
	c.MarkChecked(key, rng("2025-01-11", "2025-01-20"))
	c.MarkChecked(key, rng("2025-03-01", "2025-03-05"))

	require.Equal(t, []daterange.Range{
		rng("2025-01-01", "2025-01-20"),
		rng("2025-03-01", "2025-03-05"),
	}, c.CheckedRanges(key))
	require.Nil(t, c.CheckedRanges("other/key"))
}

func TestEarliestDateMemo(t *testing.T) {
	t.Parallel()
	c := New()
	_, ok := c.EarliestDate(key, "ext-1")
	require.False(t, ok)

	c.SetEarliestDate(key, "ext-1", day("2024-06-15"))
	d, ok := c.EarliestDate(key, "ext-1")
	require.True(t, ok)
	require.Equal(t, day("2024-06-15"), d)
}

func TestPruneGaps(t *testing.T) {
	t.Parallel()

	t.Run("no earliest date is a passthrough", func(t *testing.T) {
		t.Parallel()
		c := New()
		gaps := []daterange.Range{rng("2025-01-01", "2025-01-31")}
		require.Equal(t, gaps, c.PruneGaps(key, "ext-1", gaps))
	})

	t.Run("gap before earliest is dropped and marked empty", func(t *testing.T) {
		t.Parallel()
		c := New()
		c.SetEarliestDate(key, "ext-1", day("2025-02-01"))
		out := c.PruneGaps(key, "ext-1", []daterange.Range{rng("2025-01-01", "2025-01-31")})
		require.Nil(t, out)
		require.Equal(t, []daterange.Range{rng("2025-01-01", "2025-01-31")}, c.CheckedRanges(key))
	})

	t.Run("straddling gap is clamped", func(t *testing.T) {
		t.Parallel()
		c := New()
		c.SetEarliestDate(key, "ext-1", day("2025-01-15"))
		out := c.PruneGaps(key, "ext-1", []daterange.Range{rng("2025-01-01", "2025-01-31")})
		require.Equal(t, []daterange.Range{rng("2025-01-15", "2025-01-31")}, out)
		// the pruned head is now known-empty territory
		require.Equal(t, []daterange.Range{rng("2025-01-01", "2025-01-14")}, c.CheckedRanges(key))
	})

	t.Run("gap after earliest untouched", func(t *testing.T) {
		t.Parallel()
		c := New()
		c.SetEarliestDate(key, "ext-1", day("2024-01-01"))
		gaps := []daterange.Range{rng("2025-01-01", "2025-01-31")}
		require.Equal(t, gaps, c.PruneGaps(key, "ext-1", gaps))
	})
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	c := New()
	c.MarkChecked(key, rng("2025-01-01", "2025-01-10"))
	c.SetEarliestDate(key, "ext-1", day("2024-06-15"))

	restored := New()
	restored.Restore(c.Snapshot())

	require.Equal(t, c.CheckedRanges(key), restored.CheckedRanges(key))
	d, ok := restored.EarliestDate(key, "ext-1")
	require.True(t, ok)
	require.Equal(t, day("2024-06-15"), d)
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &FileStore{Path: filepath.Join(t.TempDir(), "gapcache.json")}

	// missing file loads as empty
	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, snap)

	c := New()
	c.MarkChecked(key, rng("2025-01-01", "2025-01-10"))
	c.MarkChecked(key, rng("2025-02-01", "2025-02-05"))
	c.SetEarliestDate(key, "ext-1", day("2024-06-15"))
	require.NoError(t, store.Save(ctx, c.Snapshot()))

	snap, err = store.Load(ctx)
	require.NoError(t, err)
	loaded := New()
	loaded.Restore(snap)

	require.Equal(t, []daterange.Range{
		rng("2025-01-01", "2025-01-10"),
		rng("2025-02-01", "2025-02-05"),
	}, loaded.CheckedRanges(key))
	d, ok := loaded.EarliestDate(key, "ext-1")
	require.True(t, ok)
	require.Equal(t, day("2024-06-15"), d)
}

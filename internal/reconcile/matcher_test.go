package reconcile

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/banksync/internal/ledger"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func canonicalTxn(date string, cents int64, desc, merchant string) ledger.Transaction {
	return ledger.Transaction{
		Date:        day(date),
		AmountCents: cents,
		Description: desc,
		Merchant:    merchant,
		Provenance:  ledger.SourceDocument,
	}
}

func externalTxn(date string, cents int64, desc string) ledger.Transaction {
	return ledger.Transaction{
		Date:        day(date),
		AmountCents: cents,
		Description: desc,
		Provenance:  ledger.SourceAggregator,
	}
}

func TestMatchExact(t *testing.T) {
	t.Parallel()
	res := MatchStreams(
		[]ledger.Transaction{canonicalTxn("2025-01-15", -4200, "STARBUCKS #123", "")},
		[]ledger.Transaction{externalTxn("2025-01-15", 4200, "STARBUCKS #123")},
		DefaultConfig(),
	)
	require.Len(t, res.Matches, 1)
	require.Equal(t, MatchExact, res.Matches[0].Type)
	require.Equal(t, 1.0, res.Matches[0].Confidence)
	require.Empty(t, res.Matches[0].Differences)
	require.Empty(t, res.UnmatchedCanonical)
	require.Empty(t, res.UnmatchedExternal)
}

// A day of drift and a shortened merchant name still match as fuzzy
// with confidence above the merchant threshold.
func TestMatchFuzzyStarbucks(t *testing.T) {
	t.Parallel()
	res := MatchStreams(
		[]ledger.Transaction{canonicalTxn("2025-01-15", -4200, "STARBUCKS #123", "")},
		[]ledger.Transaction{externalTxn("2025-01-16", 4200, "Starbucks")},
		DefaultConfig(),
	)
	require.Len(t, res.Matches, 1)
	m := res.Matches[0]
	require.Equal(t, MatchFuzzy, m.Type)
	require.Greater(t, m.Confidence, 0.6)
	require.Less(t, m.Confidence, 1.0)
	require.Contains(t, m.Differences, "date")
	require.Contains(t, m.Differences, "merchant")
}

func TestMatchAmountDate(t *testing.T) {
	t.Parallel()
	res := MatchStreams(
		[]ledger.Transaction{canonicalTxn("2025-01-15", -4200, "COFFEE ROASTERY MELBOURNE", "")},
		[]ledger.Transaction{externalTxn("2025-01-16", 4200, "ZZ HOLDINGS PTY LTD")},
		DefaultConfig(),
	)
	require.Len(t, res.Matches, 1)
	m := res.Matches[0]
	require.Equal(t, MatchAmountDate, m.Type)
	require.Contains(t, m.Differences, "merchant")
	require.False(t, m.NeedsReview)
}

func TestMatchAmountOnlyFlagsReview(t *testing.T) {
	t.Parallel()
	res := MatchStreams(
		[]ledger.Transaction{canonicalTxn("2025-01-01", -4200, "COFFEE", "")},
		[]ledger.Transaction{externalTxn("2025-02-20", 4200, "UNRELATED")},
		DefaultConfig(),
	)
	require.Len(t, res.Matches, 1)
	require.Equal(t, MatchAmountOnly, res.Matches[0].Type)
	require.True(t, res.Matches[0].NeedsReview)
}

// exact > fuzzy > amount_date > amount_only for otherwise-equivalent
// inputs.
func TestConfidenceOrdering(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	match := func(c, e ledger.Transaction) Match {
		res := MatchStreams([]ledger.Transaction{c}, []ledger.Transaction{e}, cfg)
		require.Len(t, res.Matches, 1)
		return res.Matches[0]
	}

	exact := match(canonicalTxn("2025-01-15", -4200, "STARBUCKS #123", ""), externalTxn("2025-01-15", 4200, "STARBUCKS #123"))
	fuzzy := match(canonicalTxn("2025-01-15", -4200, "STARBUCKS #123", ""), externalTxn("2025-01-16", 4200, "Starbucks"))
	amountDate := match(canonicalTxn("2025-01-15", -4200, "COFFEE ROASTERY MELBOURNE", ""), externalTxn("2025-01-16", 4200, "ZZ HOLDINGS PTY LTD"))
	amountOnly := match(canonicalTxn("2025-01-15", -4200, "COFFEE", ""), externalTxn("2025-03-01", 4200, "UNRELATED"))

	require.Greater(t, exact.Confidence, fuzzy.Confidence)
	require.Greater(t, fuzzy.Confidence, amountDate.Confidence)
	require.Greater(t, amountDate.Confidence, amountOnly.Confidence)
}

func TestEachSideConsumedOnce(t *testing.T) {
	t.Parallel()
	canonical := []ledger.Transaction{
		canonicalTxn("2025-01-15", -4200, "STARBUCKS #123", ""),
		canonicalTxn("2025-01-15", -4200, "STARBUCKS #456", ""),
	}
	external := []ledger.Transaction{
		externalTxn("2025-01-15", 4200, "STARBUCKS #123"),
	}
	res := MatchStreams(canonical, external, DefaultConfig())
	require.Len(t, res.Matches, 1)
	require.Len(t, res.UnmatchedCanonical, 1)
	require.Empty(t, res.UnmatchedExternal)
	require.Equal(t, "STARBUCKS #123", res.Matches[0].External.Description)
}

func TestAmountOutsideToleranceNeverMatches(t *testing.T) {
	t.Parallel()
	res := MatchStreams(
		[]ledger.Transaction{canonicalTxn("2025-01-15", -4200, "STARBUCKS #123", "")},
		[]ledger.Transaction{externalTxn("2025-01-15", 5000, "STARBUCKS #123")},
		DefaultConfig(),
	)
	require.Empty(t, res.Matches)
	require.Len(t, res.UnmatchedCanonical, 1)
	require.Len(t, res.UnmatchedExternal, 1)
}

func TestSummary(t *testing.T) {
	t.Parallel()
	res := MatchStreams(
		[]ledger.Transaction{
			canonicalTxn("2025-01-15", -4200, "STARBUCKS #123", ""),
			canonicalTxn("2025-01-20", -1000, "SOMETHING ELSE", ""),
		},
		[]ledger.Transaction{
			externalTxn("2025-01-15", 4200, "STARBUCKS #123"),
			externalTxn("2025-01-25", 999900, "BIG PURCHASE"),
		},
		DefaultConfig(),
	)
	s := res.Summary()
	require.Equal(t, 1, s.Matched)
	require.Equal(t, 1, s.UnmatchedCanonical)
	require.Equal(t, 1, s.UnmatchedExternal)
	require.InDelta(t, 0.5, s.MatchRate, 1e-9)
	// -4200 - 1000 - (4200 + 999900)
	require.Equal(t, int64(-4200-1000-4200-999900), s.AmountDifferenceCents)
	require.GreaterOrEqual(t, s.MatchRate, 0.0)
	require.LessOrEqual(t, s.MatchRate, 1.0)
}

func TestSummaryEmptyCanonical(t *testing.T) {
	t.Parallel()
	s := MatchStreams(nil, nil, DefaultConfig()).Summary()
	require.Equal(t, 1.0, s.MatchRate)
	require.Zero(t, s.AmountDifferenceCents)
}

func TestSimilarity(t *testing.T) {
	t.Parallel()
	require.Equal(t, 1.0, Similarity("Starbucks", "STARBUCKS"))
	require.Equal(t, 1.0, Similarity("a  b", "A B"))
	require.Greater(t, Similarity("STARBUCKS #123", "Starbucks"), 0.6)
	require.Less(t, Similarity("STARBUCKS", "WOOLWORTHS"), 0.4)
	require.Equal(t, 1.0, Similarity("", ""))
}

// A zero amount tolerance admits equal amounts only; the confidence
// must stay a real number in (0, 1].
func TestMatchFuzzyZeroAmountTolerance(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.AmountTolerancePct = 0
	res := MatchStreams(
		[]ledger.Transaction{canonicalTxn("2025-01-15", -4200, "STARBUCKS #123", "")},
		[]ledger.Transaction{externalTxn("2025-01-16", 4200, "Starbucks")},
		cfg,
	)
	require.Len(t, res.Matches, 1)
	m := res.Matches[0]
	require.Equal(t, MatchFuzzy, m.Type)
	require.False(t, math.IsNaN(m.Confidence))
	require.Greater(t, m.Confidence, 0.6)
	require.LessOrEqual(t, m.Confidence, 1.0)

	// unequal amounts are rejected outright at zero tolerance
	res = MatchStreams(
		[]ledger.Transaction{canonicalTxn("2025-01-15", -4200, "STARBUCKS #123", "")},
		[]ledger.Transaction{externalTxn("2025-01-16", 4201, "Starbucks")},
		cfg,
	)
	require.Empty(t, res.Matches)
	require.Len(t, res.UnmatchedExternal, 1)
}

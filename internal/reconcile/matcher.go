// Package reconcile matches transactions from two independent sources
// describing the same account activity, and reconstructs account
// balances from a statement anchor.
package reconcile

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/jask/banksync/internal/daterange"
	"github.com/jask/banksync/internal/ledger"
)

// MatchType classifies how a canonical/external pair was matched.
type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchFuzzy      MatchType = "fuzzy"
	MatchAmountDate MatchType = "amount_date"
	MatchAmountOnly MatchType = "amount_only"
)

// Config holds the matching tolerances.
type Config struct {
	DateToleranceDays  int
	AmountTolerancePct float64
	MerchantThreshold  float64
	// ExactDescription is the description similarity required for an
	// exact match on top of same-day, same-cent agreement.
	ExactDescription float64
}

// DefaultConfig returns the production tolerances: 3 days, 1%, 0.6.
func DefaultConfig() Config {
	return Config{
		DateToleranceDays:  3,
		AmountTolerancePct: 1.0,
		MerchantThreshold:  0.6,
		ExactDescription:   0.85,
	}
}

// Match is one reconciled canonical/external pair.
type Match struct {
	Canonical   ledger.Transaction
	External    ledger.Transaction
	Type        MatchType
	Confidence  float64
	Differences []string
	NeedsReview bool
}

// Result splits both streams into matched pairs and leftovers. Each
// transaction is consumed by at most one match.
type Result struct {
	Matches            []Match
	UnmatchedCanonical []ledger.Transaction
	UnmatchedExternal  []ledger.Transaction
}

// Summary carries the reconciliation statistics surfaced in the ledger.
type Summary struct {
	Matched               int
	UnmatchedCanonical    int
	UnmatchedExternal     int
	MatchRate             float64
	AmountDifferenceCents int64
}

// Summary computes match statistics. AmountDifference is the sum of
// canonical signed amounts minus the sum of absolute external amounts,
// mirroring how aggregator feeds report magnitudes.
func (r Result) Summary() Summary {
	s := Summary{
		Matched:            len(r.Matches),
		UnmatchedCanonical: len(r.UnmatchedCanonical),
		UnmatchedExternal:  len(r.UnmatchedExternal),
	}
	total := len(r.Matches) + len(r.UnmatchedCanonical)
	if total > 0 {
		s.MatchRate = float64(len(r.Matches)) / float64(total)
	} else {
		// nothing canonical to match is vacuously fully matched
		s.MatchRate = 1
	}
	var canonical, external int64
	for _, m := range r.Matches {
		canonical += m.Canonical.AmountCents
		external += abs64(m.External.AmountCents)
	}
	for _, t := range r.UnmatchedCanonical {
		canonical += t.AmountCents
	}
	for _, t := range r.UnmatchedExternal {
		external += abs64(t.AmountCents)
	}
	s.AmountDifferenceCents = canonical - external
	return s
}

// MatchStreams greedily pairs the two unordered streams in descending
// confidence order: exact, fuzzy, amount_date, then amount_only. The
// first acceptable pairing wins; an external transaction claimed by an
// earlier pass is never reconsidered for a later candidate.
func MatchStreams(canonical, external []ledger.Transaction, cfg Config) Result {
	usedC := make([]bool, len(canonical))
	usedE := make([]bool, len(external))
	var matches []Match

	passes := []func(c, e ledger.Transaction) (Match, bool){
		func(c, e ledger.Transaction) (Match, bool) { return matchExact(c, e, cfg) },
		func(c, e ledger.Transaction) (Match, bool) { return matchFuzzy(c, e, cfg) },
		func(c, e ledger.Transaction) (Match, bool) { return matchAmountDate(c, e, cfg) },
		func(c, e ledger.Transaction) (Match, bool) { return matchAmountOnly(c, e, cfg) },
	}

	for _, pass := range passes {
		for i, c := range canonical {
			if usedC[i] {
				continue
			}
			bestJ := -1
			var best Match
			for j, e := range external {
				if usedE[j] {
					continue
				}
				m, ok := pass(c, e)
				if !ok {
					continue
				}
				if bestJ < 0 || m.Confidence > best.Confidence {
					bestJ, best = j, m
				}
			}
			if bestJ >= 0 {
				usedC[i] = true
				usedE[bestJ] = true
				matches = append(matches, best)
			}
		}
	}

	res := Result{Matches: matches}
	for i, c := range canonical {
		if !usedC[i] {
			res.UnmatchedCanonical = append(res.UnmatchedCanonical, c)
		}
	}
	for j, e := range external {
		if !usedE[j] {
			res.UnmatchedExternal = append(res.UnmatchedExternal, e)
		}
	}
	return res
}

func matchExact(c, e ledger.Transaction, cfg Config) (Match, bool) {
	if !sameDay(c.Date, e.Date) || abs64(c.AmountCents) != abs64(e.AmountCents) {
		return Match{}, false
	}
	if Similarity(c.Description, e.Description) < cfg.ExactDescription {
		return Match{}, false
	}
	return Match{Canonical: c, External: e, Type: MatchExact, Confidence: 1.0}, true
}

func matchFuzzy(c, e ledger.Transaction, cfg Config) (Match, bool) {
	days := daysApart(c.Date, e.Date)
	if days > cfg.DateToleranceDays {
		return Match{}, false
	}
	pct := amountPctDiff(c.AmountCents, e.AmountCents)
	if pct > cfg.AmountTolerancePct {
		return Match{}, false
	}
	merch := merchantSimilarity(c, e)
	if merch < cfg.MerchantThreshold {
		return Match{}, false
	}

	dateScore := 1 - float64(days)/float64(cfg.DateToleranceDays+1)
	// zero tolerance admits only equal amounts, which score perfectly
	amountScore := 1.0
	if cfg.AmountTolerancePct > 0 {
		amountScore = 1 - pct/cfg.AmountTolerancePct
	}
	confidence := 0.6 + 0.35*(dateScore+amountScore+merch)/3

	m := Match{Canonical: c, External: e, Type: MatchFuzzy, Confidence: confidence}
	if days > 0 {
		m.Differences = append(m.Differences, "date")
	}
	if abs64(c.AmountCents) != abs64(e.AmountCents) {
		m.Differences = append(m.Differences, "amount")
	}
	if merch < 1 {
		m.Differences = append(m.Differences, "merchant")
	}
	return m, true
}

func matchAmountDate(c, e ledger.Transaction, cfg Config) (Match, bool) {
	days := daysApart(c.Date, e.Date)
	if days > cfg.DateToleranceDays || abs64(c.AmountCents) != abs64(e.AmountCents) {
		return Match{}, false
	}
	// merchant similarity below threshold is what separates this from
	// fuzzy; at or above it the fuzzy pass would have claimed the pair
	dateScore := 1 - float64(days)/float64(cfg.DateToleranceDays+1)
	m := Match{
		Canonical:   c,
		External:    e,
		Type:        MatchAmountDate,
		Confidence:  0.4 + 0.2*dateScore,
		Differences: []string{"merchant"},
	}
	if days > 0 {
		m.Differences = append([]string{"date"}, m.Differences...)
	}
	return m, true
}

func matchAmountOnly(c, e ledger.Transaction, cfg Config) (Match, bool) {
	if abs64(c.AmountCents) != abs64(e.AmountCents) {
		return Match{}, false
	}
	return Match{
		Canonical:   c,
		External:    e,
		Type:        MatchAmountOnly,
		Confidence:  0.3,
		Differences: []string{"date"},
		NeedsReview: true,
	}, true
}

// Similarity is a levenshtein distance ratio over upper-cased,
// whitespace-collapsed strings: 1 is identical, 0 shares nothing.
func Similarity(a, b string) float64 {
	a = normalise(a)
	b = normalise(b)
	if a == "" && b == "" {
		return 1
	}
	maxlen := len(a)
	if len(b) > maxlen {
		maxlen = len(b)
	}
	if maxlen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxlen)
}

// merchantSimilarity prefers the merchant fields and falls back to the
// raw descriptions when either side has no merchant.
func merchantSimilarity(c, e ledger.Transaction) float64 {
	a, b := c.Merchant, e.Merchant
	if strings.TrimSpace(a) == "" {
		a = c.Description
	}
	if strings.TrimSpace(b) == "" {
		b = e.Description
	}
	return Similarity(a, b)
}

func normalise(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func sameDay(a, b time.Time) bool {
	return daterange.Day(a).Equal(daterange.Day(b))
}

func daysApart(a, b time.Time) int {
	d := daterange.Day(a).Sub(daterange.Day(b))
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// amountPctDiff is the percentage difference of the absolute amounts,
// relative to the larger of the two. Both zero is 0%.
func amountPctDiff(a, b int64) float64 {
	a, b = abs64(a), abs64(b)
	larger := a
	if b > larger {
		larger = b
	}
	if larger == 0 {
		return 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(larger) * 100
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

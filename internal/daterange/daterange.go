// Package daterange implements interval arithmetic over inclusive
// calendar-day ranges. All ranges are whole UTC days; callers normalise
// timestamps with Day before constructing a Range.
package daterange

import (
	"fmt"
	"sort"
	"time"
)

// Range is an inclusive span of calendar days, Start <= End.
type Range struct {
	Start time.Time
	End   time.Time
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// New builds a Range from two timestamps, truncating both to whole days.
func New(start, end time.Time) (Range, error) {
	s, e := Day(start), Day(end)
	if s.After(e) {
		return Range{}, fmt.Errorf("invalid range: start %s after end %s", s.Format(time.DateOnly), e.Format(time.DateOnly))
	}
	return Range{Start: s, End: e}, nil
}

// MustNew is New for literals in tests and defaults.
func MustNew(start, end time.Time) Range {
	r, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Range) String() string {
	return r.Start.Format(time.DateOnly) + ".." + r.End.Format(time.DateOnly)
}

// Days returns the number of calendar days covered, inclusive.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether day d (already truncated) falls inside r.
func (r Range) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Overlaps reports whether r and o share at least one day.
func (r Range) Overlaps(o Range) bool {
	return !r.Start.After(o.End) && !o.Start.After(r.End)
}

// Intersect clips r to o. ok is false when they do not overlap.
func (r Range) Intersect(o Range) (Range, bool) {
	if !r.Overlaps(o) {
		return Range{}, false
	}
	out := r
	if o.Start.After(out.Start) {
		out.Start = o.Start
	}
	if o.End.Before(out.End) {
		out.End = o.End
	}
	return out, true
}

// Merge folds ranges into a minimal covering set. Two ranges merge when
// the later one starts no more than one day past the earlier one's end,
// which makes 1-5 and 6-9 a single 1-9. Merge is idempotent and never
// mutates its input.
func Merge(rs []Range) []Range {
	if len(rs) == 0 {
		return nil
	}
	sorted := make([]Range, len(rs))
	copy(sorted, rs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if !r.Start.After(last.End.AddDate(0, 0, 1)) {
			if r.End.After(last.End) {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Subtract returns the parts of window not covered by covered, which
// must already be merged and sorted (the output of Merge). An empty
// covered list yields the window itself; full coverage yields nil.
func Subtract(window Range, covered []Range) []Range {
	var gaps []Range
	cursor := window.Start
	for _, c := range covered {
		if c.End.Before(cursor) || c.Start.After(window.End) {
			// entirely outside the remaining window
			if c.End.Before(cursor) {
				continue
			}
			break
		}
		if cursor.Before(c.Start) {
			gapEnd := c.Start.AddDate(0, 0, -1)
			if gapEnd.After(window.End) {
				gapEnd = window.End
			}
			gaps = append(gaps, Range{Start: cursor, End: gapEnd})
		}
		next := c.End.AddDate(0, 0, 1)
		if next.After(cursor) {
			cursor = next
		}
	}
	if !cursor.After(window.End) {
		gaps = append(gaps, Range{Start: cursor, End: window.End})
	}
	return gaps
}

// TotalDays sums the day counts of a (non-overlapping) range list.
func TotalDays(rs []Range) int {
	n := 0
	for _, r := range rs {
		n += r.Days()
	}
	return n
}

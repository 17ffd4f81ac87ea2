package domain

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// intervalRe matches pandas-style offset aliases such as "15min", "1h", "30T".
var intervalRe = regexp.MustCompile(`^(\d+)\s*([A-Za-z]+)$`)

var intervalUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "second": time.Second, "seconds": time.Second, "S": time.Second,
	"min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute, "T": time.Minute,
	"h": time.Hour, "H": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "D": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

// ParseInterval parses a resampling interval. Both pandas offset aliases
// ("15min", "1hour", "1D") and Go durations ("90s", "1h30m") are accepted.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if m := intervalRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		unit, ok := intervalUnits[m[2]]
		if !ok {
			unit, ok = intervalUnits[strings.ToLower(m[2])]
		}
		if err == nil && ok && n > 0 && n <= math.MaxInt64/int64(unit) {
			if d := time.Duration(n) * unit; d > 0 {
				return d, nil
			}
		}
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, nil
	}
	return 0, newError(ErrInvalidInterval, "aggregate", "", fmt.Errorf("cannot parse %q as a resampling interval", s))
}

type bucketKey struct {
	site  string
	start time.Time
}

type bucket struct {
	sums   []float64
	counts []int
}

// Aggregate concatenates every cleaned table, groups rows by site, and
// averages each numeric column over fixed windows of the given interval.
// Windows are aligned to UTC midnight for intervals that divide a day.
// Text columns other than the site are excluded from the output. Windows in
// which every value column is missing are dropped.
func Aggregate(tables []*Table, interval string) (*Table, error) {
	if len(tables) == 0 {
		return nil, newError(ErrNoData, "aggregate", "", fmt.Errorf("no cleaned tables given"))
	}
	d, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	var stamps []time.Time
	for n, t := range tables {
		ts, err := CheckTimestamps(t)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", n, err)
		}
		stamps = append(stamps, ts...)
	}

	all, err := Concat(tables)
	if err != nil {
		return nil, err
	}
	sites, err := all.Texts(SiteColumn)
	if err != nil {
		return nil, err
	}

	var values []*Column
	for _, c := range all.cols {
		if c.Kind == KindFloat && c.Name != SiteColumn && c.Name != TimestampColumn {
			values = append(values, c)
		}
	}

	buckets := make(map[bucketKey]*bucket)
	for i := 0; i < all.Len(); i++ {
		key := bucketKey{site: sites[i], start: stamps[i].UTC().Truncate(d)}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{sums: make([]float64, len(values)), counts: make([]int, len(values))}
			buckets[key] = b
		}
		for j, c := range values {
			if v := c.Floats[i]; !math.IsNaN(v) {
				b.sums[j] += v
				b.counts[j]++
			}
		}
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k, b := range buckets {
		if slices.ContainsFunc(b.counts, func(n int) bool { return n > 0 }) {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b bucketKey) int {
		return cmp.Or(strings.Compare(a.site, b.site), a.start.Compare(b.start))
	})

	outSites := make([]string, len(keys))
	outStamps := make([]string, len(keys))
	means := make([][]float64, len(values))
	for j := range means {
		means[j] = make([]float64, len(keys))
	}
	for r, k := range keys {
		outSites[r] = k.site
		outStamps[r] = k.start.Format(TimestampLayout)
		b := buckets[k]
		for j := range values {
			if b.counts[j] == 0 {
				means[j][r] = math.NaN()
				continue
			}
			means[j][r] = b.sums[j] / float64(b.counts[j])
		}
	}

	out := NewTable()
	if err := out.AddText(SiteColumn, outSites); err != nil {
		return nil, err
	}
	if err := out.AddText(TimestampColumn, outStamps); err != nil {
		return nil, err
	}
	for j, c := range values {
		if err := out.AddFloat(c.Name, means[j]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CheckTimestamps parses the timestamp column of one cleaned table. Row
// numbers in the error refer to that table.
func CheckTimestamps(t *Table) ([]time.Time, error) {
	texts, err := t.Texts(TimestampColumn)
	if err != nil {
		return nil, newError(ErrMalformedTimestamp, "aggregate", TimestampColumn, err)
	}
	out := make([]time.Time, len(texts))
	for i, s := range texts {
		ts, err := ParseTimestamp(s)
		if err != nil {
			return nil, newError(ErrMalformedTimestamp, "aggregate", TimestampColumn, fmt.Errorf("row %d: %q", i, s))
		}
		out[i] = ts
	}
	return out, nil
}

// Concat stacks tables row-wise. Columns are the union of all inputs in
// first-seen order; rows from a table lacking a column get missing values.
// A column that is numeric in one table and text in another becomes text.
func Concat(tables []*Table) (*Table, error) {
	var names []string
	kinds := make(map[string]Kind)
	for _, t := range tables {
		for _, c := range t.cols {
			k, seen := kinds[c.Name]
			if !seen {
				names = append(names, c.Name)
				kinds[c.Name] = c.Kind
				continue
			}
			if k != c.Kind {
				kinds[c.Name] = KindText
			}
		}
	}

	out := NewTable()
	for _, name := range names {
		col := &Column{Name: name, Kind: kinds[name]}
		for _, t := range tables {
			src, ok := t.Column(name)
			for i := 0; i < t.Len(); i++ {
				col.appendFrom(src, ok, i)
			}
		}
		if err := out.insert(len(out.cols), col); err != nil {
			return nil, fmt.Errorf("concat: %w", err)
		}
	}
	return out, nil
}

func (c *Column) appendFrom(src *Column, ok bool, i int) {
	if c.Kind == KindFloat {
		if !ok {
			c.Floats = append(c.Floats, math.NaN())
			return
		}
		c.Floats = append(c.Floats, src.Floats[i])
		return
	}
	switch {
	case !ok:
		c.Texts = append(c.Texts, "")
	case src.Kind == KindFloat:
		c.Texts = append(c.Texts, FormatFloat(src.Floats[i]))
	default:
		c.Texts = append(c.Texts, src.Texts[i])
	}
}

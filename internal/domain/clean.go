package domain

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// Well-known AERONET column names.
const (
	SiteColumn      = "AERONET_Site"
	DateColumn      = "Date(dd:mm:yyyy)"
	TimeColumn      = "Time(hh:mm:ss)"
	TimestampColumn = "timestamp"
)

// MissingValue is the AERONET sentinel for an absent measurement ("-999.").
const MissingValue = -999.0

const (
	rawTimestampLayout = "02:01:2006 15:04:05"
	// TimestampLayout is the canonical, lexically sortable timestamp format.
	TimestampLayout = "2006-01-02 15:04:05"
)

// ZeroPolicy decides whether an exact zero is a measurement or a missing value.
type ZeroPolicy int

const (
	// ZeroMissing treats 0 like the -999. sentinel. This is the historical
	// default and drops legitimate zero readings.
	ZeroMissing ZeroPolicy = iota
	// ZeroValid keeps zero as a measurement.
	ZeroValid
)

// ParseZeroPolicy maps "missing" and "valid" to a ZeroPolicy.
func ParseZeroPolicy(s string) (ZeroPolicy, error) {
	switch s {
	case "", "missing":
		return ZeroMissing, nil
	case "valid":
		return ZeroValid, nil
	default:
		return ZeroMissing, fmt.Errorf("unknown zero policy %q (want missing or valid)", s)
	}
}

func (p ZeroPolicy) String() string {
	if p == ZeroValid {
		return "valid"
	}
	return "missing"
}

// CleanOptions selects columns and the sentinel policy for one raw file.
type CleanOptions struct {
	Columns    []int
	HeaderRows int
	ZeroPolicy ZeroPolicy
}

// CleanStats summarizes what cleaning discarded.
type CleanStats struct {
	RowsRead    int
	RowsDropped int
}

// Clean loads the selected columns of one raw file, drops every row in which
// any selected column is missing after sentinel replacement, and inserts the
// normalized timestamp column right after the site column.
//
// Running Clean over its own output (with HeaderRows 0 and every column
// selected) returns the same rows; the existing timestamp column is
// recomputed in place instead of duplicated.
func Clean(r io.Reader, opts CleanOptions) (*Table, CleanStats, error) {
	raw, err := ReadCSV(r, ReadOptions{HeaderRows: opts.HeaderRows, Columns: opts.Columns, Text: idColumns})
	if err != nil {
		return nil, CleanStats{}, fmt.Errorf("clean: %w", err)
	}
	for _, name := range []string{SiteColumn, DateColumn, TimeColumn} {
		if _, ok := raw.Column(name); !ok {
			return nil, CleanStats{}, newError(ErrMissingDependency, "clean", name, fmt.Errorf("column not selected"))
		}
	}

	replaceSentinels(raw, opts.ZeroPolicy)

	keep := make([]int, 0, raw.Len())
	for i := 0; i < raw.Len(); i++ {
		if rowComplete(raw, i) {
			keep = append(keep, i)
		}
	}
	stats := CleanStats{RowsRead: raw.Len(), RowsDropped: raw.Len() - len(keep)}
	if len(keep) == 0 {
		return nil, stats, newError(ErrEmptyResult, "clean", "", fmt.Errorf("all %d rows dropped", stats.RowsRead))
	}
	cleaned := raw.pick(keep)

	stamps, err := buildTimestamps(cleaned)
	if err != nil {
		return nil, stats, err
	}

	if c, ok := cleaned.Column(TimestampColumn); ok {
		c.Kind, c.Floats, c.Texts = KindText, nil, stamps
		return cleaned, stats, nil
	}
	pos := cleaned.index[SiteColumn] + 1
	if err := cleaned.InsertText(pos, TimestampColumn, stamps); err != nil {
		return nil, stats, fmt.Errorf("clean: %w", err)
	}
	return cleaned, stats, nil
}

// replaceSentinels rewrites -999. (and zero, under ZeroMissing) as missing.
// Text columns get the same treatment cell by cell, so a sentinel never
// survives in a column that failed to parse as numeric.
func replaceSentinels(t *Table, policy ZeroPolicy) {
	sentinel := func(v float64) bool {
		return v == MissingValue || (policy == ZeroMissing && v == 0)
	}
	for _, c := range t.cols {
		if c.Kind == KindFloat {
			for i, v := range c.Floats {
				if sentinel(v) {
					c.Floats[i] = math.NaN()
				}
			}
			continue
		}
		for i, s := range c.Texts {
			if isNA(s) {
				c.Texts[i] = ""
				continue
			}
			if v, err := strconv.ParseFloat(s, 64); err == nil && sentinel(v) {
				c.Texts[i] = ""
			}
		}
	}
}

func rowComplete(t *Table, i int) bool {
	for _, c := range t.cols {
		if c.missing(i) {
			return false
		}
	}
	return true
}

func buildTimestamps(t *Table) ([]string, error) {
	dates, err := t.Texts(DateColumn)
	if err != nil {
		return nil, newError(ErrMalformedTimestamp, "clean", DateColumn, fmt.Errorf("date column is not text"))
	}
	times, err := t.Texts(TimeColumn)
	if err != nil {
		return nil, newError(ErrMalformedTimestamp, "clean", TimeColumn, fmt.Errorf("time column is not text"))
	}
	out := make([]string, t.Len())
	for i := range out {
		ts, err := time.Parse(rawTimestampLayout, dates[i]+" "+times[i])
		if err != nil {
			return nil, newError(ErrMalformedTimestamp, "clean", DateColumn,
				fmt.Errorf("row %d: %q %q", i, dates[i], times[i]))
		}
		out[i] = ts.Format(TimestampLayout)
	}
	return out, nil
}

// ParseTimestamp parses a canonical timestamp cell.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

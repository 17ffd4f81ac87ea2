package domain

import (
	"fmt"
	"math"
	"slices"
)

// Kind distinguishes numeric columns from free-text columns.
type Kind int

const (
	KindFloat Kind = iota
	KindText
)

// Column is a named vector. Floats is populated for KindFloat (NaN marks a
// missing value), Texts for KindText (empty string marks a missing value).
type Column struct {
	Name   string
	Kind   Kind
	Floats []float64
	Texts  []string
}

func (c *Column) len() int {
	if c.Kind == KindFloat {
		return len(c.Floats)
	}
	return len(c.Texts)
}

// missing reports whether row i holds no value.
func (c *Column) missing(i int) bool {
	if c.Kind == KindFloat {
		return math.IsNaN(c.Floats[i])
	}
	return c.Texts[i] == ""
}

func (c *Column) clone() *Column {
	return &Column{
		Name:   c.Name,
		Kind:   c.Kind,
		Floats: slices.Clone(c.Floats),
		Texts:  slices.Clone(c.Texts),
	}
}

// pick returns a copy of the column holding only the given rows, in order.
func (c *Column) pick(rows []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Kind == KindFloat {
		out.Floats = make([]float64, len(rows))
		for j, i := range rows {
			out.Floats[j] = c.Floats[i]
		}
		return out
	}
	out.Texts = make([]string, len(rows))
	for j, i := range rows {
		out.Texts[j] = c.Texts[i]
	}
	return out
}

// Table is an ordered set of equal-length, uniquely named columns. It is the
// in-memory form of every stage artifact: cleaned records, product tables,
// the merged table and the derived table.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// NewTable returns an empty table with zero rows.
func NewTable() *Table {
	return &Table{index: make(map[string]int)}
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Has reports whether a column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the named column. The returned value must not be mutated.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Floats returns the values of a numeric column, failing with
// ErrMissingDependency when the column is absent or not numeric.
func (t *Table) Floats(name string) ([]float64, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, newError(ErrMissingDependency, "lookup", name, nil)
	}
	if c.Kind != KindFloat {
		return nil, newError(ErrMissingDependency, "lookup", name, fmt.Errorf("column is not numeric"))
	}
	return c.Floats, nil
}

// Texts returns the values of a text column, failing with
// ErrMissingDependency when the column is absent or numeric.
func (t *Table) Texts(name string) ([]string, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, newError(ErrMissingDependency, "lookup", name, nil)
	}
	if c.Kind != KindText {
		return nil, newError(ErrMissingDependency, "lookup", name, fmt.Errorf("column is not text"))
	}
	return c.Texts, nil
}

// AddFloat appends a numeric column.
func (t *Table) AddFloat(name string, values []float64) error {
	return t.insert(len(t.cols), &Column{Name: name, Kind: KindFloat, Floats: values})
}

// AddText appends a text column.
func (t *Table) AddText(name string, values []string) error {
	return t.insert(len(t.cols), &Column{Name: name, Kind: KindText, Texts: values})
}

// InsertText places a text column at position pos.
func (t *Table) InsertText(pos int, name string, values []string) error {
	return t.insert(pos, &Column{Name: name, Kind: KindText, Texts: values})
}

func (t *Table) insert(pos int, c *Column) error {
	if _, dup := t.index[c.Name]; dup {
		return fmt.Errorf("duplicate column %q", c.Name)
	}
	if len(t.cols) == 0 {
		t.rows = c.len()
	} else if c.len() != t.rows {
		return fmt.Errorf("column %q has %d rows, table has %d", c.Name, c.len(), t.rows)
	}
	if pos < 0 || pos > len(t.cols) {
		return fmt.Errorf("column position %d out of range", pos)
	}
	t.cols = slices.Insert(t.cols, pos, c)
	t.reindex()
	return nil
}

// Rename changes a column name. It returns false, leaving the table
// untouched, when old is absent or to is already taken.
func (t *Table) Rename(old, to string) bool {
	i, ok := t.index[old]
	if !ok {
		return false
	}
	if _, taken := t.index[to]; taken {
		return false
	}
	t.cols[i].Name = to
	t.reindex()
	return true
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{cols: make([]*Column, len(t.cols)), rows: t.rows}
	for i, c := range t.cols {
		out.cols[i] = c.clone()
	}
	out.reindex()
	return out
}

// pick returns a new table holding only the given rows.
func (t *Table) pick(rows []int) *Table {
	out := &Table{cols: make([]*Column, len(t.cols)), rows: len(rows)}
	for i, c := range t.cols {
		out.cols[i] = c.pick(rows)
	}
	out.reindex()
	return out
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.cols))
	for i, c := range t.cols {
		t.index[c.Name] = i
	}
}

// Row returns row i as name → value, with nil for missing values. It is used
// by sinks that serialize rows as documents.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.cols))
	for _, c := range t.cols {
		if c.missing(i) {
			row[c.Name] = nil
			continue
		}
		if c.Kind == KindFloat {
			v := c.Floats[i]
			if math.IsInf(v, 0) {
				row[c.Name] = nil
				continue
			}
			row[c.Name] = v
			continue
		}
		row[c.Name] = c.Texts[i]
	}
	return row
}

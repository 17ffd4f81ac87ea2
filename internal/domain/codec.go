package domain

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ReadOptions controls how a delimited file is loaded.
type ReadOptions struct {
	// HeaderRows is the number of metadata lines before the column header.
	HeaderRows int
	// Columns selects columns by zero-based position. Nil loads every column.
	Columns []int
	// Text names columns that stay text even when every cell is numeric.
	Text []string
}

// ReadCSV loads a comma-delimited file into a Table. A column is numeric when
// every cell that is not empty or an NA token ("N/A", "NA", "NaN", "null",
// ...) parses as a float; otherwise it is text.
func ReadCSV(r io.Reader, opts ReadOptions) (*Table, error) {
	br := bufio.NewReader(r)
	for i := 0; i < opts.HeaderRows; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read csv: file ends inside the %d-line header block", opts.HeaderRows)
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("read csv: missing column header")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	positions := opts.Columns
	if positions == nil {
		positions = make([]int, len(header))
		for i := range header {
			positions[i] = i
		}
	}
	for _, p := range positions {
		if p < 0 || p >= len(header) {
			return nil, fmt.Errorf("read csv: column index %d out of range (header has %d columns)", p, len(header))
		}
	}

	cells := make([][]string, len(positions))
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		for j, p := range positions {
			v := ""
			if p < len(rec) {
				v = strings.TrimSpace(rec[p])
			}
			cells[j] = append(cells[j], v)
		}
	}

	t := NewTable()
	for j, p := range positions {
		name := strings.TrimSpace(header[p])
		col := inferColumn(name, cells[j])
		if col.Kind == KindFloat && slices.Contains(opts.Text, name) {
			col = &Column{Name: name, Kind: KindText, Texts: cells[j]}
		}
		if err := t.insert(len(t.cols), col); err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
	}
	return t, nil
}

// naTokens are the cell values read as missing, besides the empty string.
var naTokens = map[string]bool{
	"#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true, "-1.#QNAN": true,
	"-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true, "<NA>": true,
	"N/A": true, "NA": true, "NULL": true, "NaN": true, "None": true,
	"n/a": true, "nan": true, "null": true,
}

func isNA(s string) bool {
	return s == "" || naTokens[s]
}

func inferColumn(name string, raw []string) *Column {
	floats := make([]float64, len(raw))
	for i, s := range raw {
		if isNA(s) {
			floats[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			texts := make([]string, len(raw))
			copy(texts, raw)
			return &Column{Name: name, Kind: KindText, Texts: texts}
		}
		floats[i] = v
	}
	return &Column{Name: name, Kind: KindFloat, Floats: floats}
}

// WriteCSV writes the table with a header row. Numbers use six fixed decimal
// places; missing values are empty fields.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	rec := make([]string, len(t.cols))
	for i := 0; i < t.rows; i++ {
		for j, c := range t.cols {
			if c.Kind == KindText {
				rec[j] = c.Texts[i]
				continue
			}
			rec[j] = FormatFloat(c.Floats[i])
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// idColumns are the identifier columns that are never numeric.
var idColumns = []string{SiteColumn, DateColumn, TimeColumn, TimestampColumn}

// ReadArtifact loads a stage artifact written by WriteCSV.
func ReadArtifact(r io.Reader) (*Table, error) {
	return ReadCSV(r, ReadOptions{Text: idColumns})
}

// FormatFloat renders a value the way every artifact stores it.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

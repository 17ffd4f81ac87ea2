package domain

import (
	"fmt"
	"math"
	"slices"
)

// MonthColumn holds the two-digit month label of the box-plot view.
const MonthColumn = "Month"

// BoxplotView is the month-grouped projection of a derived table.
type BoxplotView struct {
	// Rows is the derived table with the month label appended.
	Rows *Table
	// MonthMeans has one row per month present, in month order: the Month
	// label followed by the mean of every numeric column.
	MonthMeans *Table
}

// Boxplot labels every row with the month of its timestamp and averages each
// numeric column per month. Missing values are skipped in the means.
func Boxplot(t *Table) (*BoxplotView, error) {
	stamps, err := t.Texts(TimestampColumn)
	if err != nil {
		return nil, fmt.Errorf("boxplot: %w", err)
	}
	months := make([]string, len(stamps))
	for i, s := range stamps {
		ts, err := ParseTimestamp(s)
		if err != nil {
			return nil, newError(ErrMalformedTimestamp, "boxplot", TimestampColumn, fmt.Errorf("row %d: %q", i, s))
		}
		months[i] = ts.Format("01")
	}

	rows := t.Clone()
	if err := rows.AddText(MonthColumn, months); err != nil {
		return nil, fmt.Errorf("boxplot: %w", err)
	}

	labels := slices.Clone(months)
	slices.Sort(labels)
	labels = slices.Compact(labels)
	pos := make(map[string]int, len(labels))
	for i, m := range labels {
		pos[m] = i
	}

	means := NewTable()
	if err := means.AddText(MonthColumn, labels); err != nil {
		return nil, fmt.Errorf("boxplot: %w", err)
	}
	for _, c := range t.cols {
		if c.Kind != KindFloat {
			continue
		}
		sums := make([]float64, len(labels))
		counts := make([]int, len(labels))
		for i, v := range c.Floats {
			if math.IsNaN(v) {
				continue
			}
			sums[pos[months[i]]] += v
			counts[pos[months[i]]]++
		}
		for j := range sums {
			if counts[j] == 0 {
				sums[j] = math.NaN()
				continue
			}
			sums[j] /= float64(counts[j])
		}
		if err := means.AddFloat(c.Name, sums); err != nil {
			return nil, fmt.Errorf("boxplot: %w", err)
		}
	}
	return &BoxplotView{Rows: rows, MonthMeans: means}, nil
}

// MatrixView holds the per-row scalars of the Ångström classification
// matrix. All slices are aligned with the rows of the source table.
type MatrixView struct {
	DerivSSA                    []float64
	MixingCoefficient           []float64
	EffectiveScatteringExponent []float64
}

// Matrix computes, for every row,
//
//	derivSSA = SSA_440nm - SSA_870nm
//	k        = (1 - (ln SSA_440nm - ln SSA_870nm) / (ln(1-SSA_440nm) - ln(1-SSA_870nm)))^-1
//	ESE      = (k-1)/k * AAE + 1/k * EAE
//
// using the inversion's 440-870 nm absorption and extinction exponents.
func Matrix(t *Table) (*MatrixView, error) {
	var cols [4][]float64
	for i, name := range []string{"SSA_440nm", "SSA_870nm", "AAE_440-870nm", "EAE_440-870nm"} {
		v, err := t.Floats(name)
		if err != nil {
			return nil, newError(ErrMissingDependency, "matrix", name, nil)
		}
		cols[i] = v
	}
	ssa440, ssa870, aae, eae := cols[0], cols[1], cols[2], cols[3]

	n := t.Len()
	m := &MatrixView{
		DerivSSA:                    make([]float64, n),
		MixingCoefficient:           make([]float64, n),
		EffectiveScatteringExponent: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		k := MixingCoefficient(ssa440[i], ssa870[i])
		m.DerivSSA[i] = ssa440[i] - ssa870[i]
		m.MixingCoefficient[i] = k
		m.EffectiveScatteringExponent[i] = (k-1)/k*aae[i] + 1/k*eae[i]
	}
	return m, nil
}

// MixingCoefficient returns the mixing-state coefficient for an SSA pair. It
// is NaN wherever a logarithm argument is non-positive or a ratio is
// undefined.
func MixingCoefficient(ssa440, ssa870 float64) float64 {
	if !(ssa440 > 0) || !(ssa870 > 0) || !(ssa440 < 1) || !(ssa870 < 1) {
		return math.NaN()
	}
	den := math.Log(1-ssa440) - math.Log(1-ssa870)
	if den == 0 {
		return math.NaN()
	}
	base := 1 - (math.Log(ssa440)-math.Log(ssa870))/den
	if base == 0 {
		return math.NaN()
	}
	return 1 / base
}

package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func derivationInputs() []numCol {
	return []numCol{
		{"AOD_380nm", []float64{0.62}},
		{"AOD_440nm", []float64{0.5}},
		{"AOD_500nm", []float64{0.42}},
		{"AOD_675nm", []float64{0.3}},
		{"AE_340_440nm", []float64{1.25}},
		{"AE_440_675nm", []float64{1.4}},
		{"SSA_440nm", []float64{0.90}},
		{"SSA_675nm", []float64{0.85}},
		{"SSA_870nm", []float64{0.82}},
		{"SSA_1020nm", []float64{0.80}},
		{"pfn180_440nm", []float64{0.1}},
		{"pfn180_675nm", []float64{0.12}},
		{"pfn180_870nm", []float64{0.15}},
		{"pfn180_1020nm", []float64{0.18}},
	}
}

func derivationTable(t *testing.T, cols []numCol) *Table {
	t.Helper()
	return newTestTable(t, []string{"Lille"}, []string{"2020-06-01 10:00:00"}, cols...)
}

func value(t *testing.T, tbl *Table, name string) float64 {
	t.Helper()
	v, err := tbl.Floats(name)
	require.NoError(t, err)
	return v[0]
}

func TestDerive(t *testing.T) {
	t.Run("closed form values", func(t *testing.T) {
		out, err := Derive(derivationTable(t, derivationInputs()), DefaultDerivationPlan())
		require.NoError(t, err)

		assert.Equal(t, FormatFloat(4*math.Pi/0.1*0.90), FormatFloat(value(t, out, "LR_440nm")))
		assert.Equal(t, "113.097336", FormatFloat(value(t, out, "LR_440nm")))
		assert.Equal(t, "0.050000", FormatFloat(value(t, out, "AAOD_440nm")))
		assert.Equal(t, "0.450000", FormatFloat(value(t, out, "SAOD_440nm")))
		assert.InDelta(t, 0.08, value(t, out, "dSSA"), 1e-12)
		assert.InDelta(t, 0.42*math.Pow(500.0/532.0, -1.4), value(t, out, "AOD_532nm"), 1e-12)
		assert.InDelta(t, 0.62*math.Pow(380.0/355.0, -1.25), value(t, out, "AOD_355nm"), 1e-12)
	})

	t.Run("chained lidar ratios", func(t *testing.T) {
		out, err := Derive(derivationTable(t, derivationInputs()), DefaultDerivationPlan())
		require.NoError(t, err)

		lr440 := value(t, out, "LR_440nm")
		lr870 := value(t, out, "LR_870nm")
		lrae := -math.Log(lr440/lr870) / math.Log(440.0/870.0)
		assert.InDelta(t, lrae, value(t, out, "LRAE_532nm"), 1e-12)
		assert.InDelta(t, value(t, out, "LR_675nm")*math.Pow(532.0/675.0, -lrae), value(t, out, "LR_532nm"), 1e-9)
		assert.InDelta(t, lr440*math.Pow(355.0/440.0, -lrae), value(t, out, "LR_355nm"), 1e-9)

		aae := -math.Log(value(t, out, "AAOD_440nm")/value(t, out, "AAOD_675nm")) / math.Log(440.0/675.0)
		assert.InDelta(t, aae, value(t, out, "AAE"), 1e-12)
	})

	t.Run("appends every derived column with finite values", func(t *testing.T) {
		in := derivationTable(t, derivationInputs())
		out, err := Derive(in, DefaultDerivationPlan())
		require.NoError(t, err)

		derived := DefaultDerivationPlan().DerivedColumns()
		assert.Len(t, derived, 16)
		assert.Equal(t, append(in.Columns(), derived...), out.Columns())
		for _, name := range derived {
			v := value(t, out, name)
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s = %v", name, v)
		}
	})

	t.Run("existing column keeps its value", func(t *testing.T) {
		cols := append(derivationInputs(), numCol{"AAOD_440nm", []float64{0.07}})
		out, err := Derive(derivationTable(t, cols), DefaultDerivationPlan())
		require.NoError(t, err)

		assert.Equal(t, 0.07, value(t, out, "AAOD_440nm"))
		derived := value(t, out, "AAOD_440nm"+DerivedSuffix)
		assert.Equal(t, "0.050000", FormatFloat(derived))
		aae := -math.Log(derived/value(t, out, "AAOD_675nm")) / math.Log(440.0/675.0)
		assert.InDelta(t, aae, value(t, out, "AAE"), 1e-12)
	})

	t.Run("missing input", func(t *testing.T) {
		var cols []numCol
		for _, c := range derivationInputs() {
			if c.name != "pfn180_870nm" {
				cols = append(cols, c)
			}
		}
		out, err := Derive(derivationTable(t, cols), DefaultDerivationPlan())
		require.Error(t, err)
		assert.Nil(t, out)
		assert.True(t, errors.Is(err, ErrMissingDependency))
		assert.Contains(t, err.Error(), "pfn180_870nm")
	})

	t.Run("non-positive inputs propagate NaN", func(t *testing.T) {
		cols := derivationInputs()
		for i := range cols {
			if cols[i].name == "pfn180_440nm" {
				cols[i].values = []float64{0}
			}
		}
		out, err := Derive(derivationTable(t, cols), DefaultDerivationPlan())
		require.NoError(t, err)

		assert.True(t, math.IsNaN(value(t, out, "LR_440nm")))
		assert.True(t, math.IsNaN(value(t, out, "LRAE_532nm")))
		assert.True(t, math.IsNaN(value(t, out, "LR_355nm")))
		assert.False(t, math.IsNaN(value(t, out, "LR_675nm")))
	})
}

func TestAngstromExponent(t *testing.T) {
	assert.InDelta(t, 1.0, AngstromExponent(1, 0.5, 1, 2), 1e-12)
	assert.True(t, math.IsNaN(AngstromExponent(0, 0.5, 440, 675)))
	assert.True(t, math.IsNaN(AngstromExponent(0.3, -1, 440, 675)))
}

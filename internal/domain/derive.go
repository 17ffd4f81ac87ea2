package domain

import (
	"fmt"
	"math"
)

// AODExtrapolation extrapolates AOD to Target from the AOD measured at
// Reference using the Ångström exponent column Exponent.
type AODExtrapolation struct {
	Target    int
	Reference int
	Exponent  string
}

// LRExtrapolation extrapolates the lidar ratio to Target from the lidar ratio
// at Reference using the lidar-ratio Ångström exponent.
type LRExtrapolation struct {
	Target    int
	Reference int
}

// DerivationPlan fixes the wavelengths (nm) every derived column uses.
type DerivationPlan struct {
	AOD []AODExtrapolation
	// LidarWavelengths get LR_<w>nm = 4π / pfn180_<w>nm * SSA_<w>nm.
	LidarWavelengths []int
	// LRAEPair is the (short, long) LR pair of the lidar-ratio exponent.
	LRAEPair [2]int
	// LRAEName is the output column of the lidar-ratio exponent.
	LRAEName string
	LR       []LRExtrapolation
	// Decomposition is the wavelength pair of AAOD/SAOD and AAE/SAE.
	Decomposition [2]int
	// DSSAPair is the SSA pair of dSSA = SSA(first) - SSA(second).
	DSSAPair [2]int
}

// DefaultDerivationPlan returns the AERONET derivation set: AOD at 532 and
// 355 nm, lidar ratios at 440/675/870/1020 nm and at 532/355 nm, the
// 440-870 nm lidar-ratio exponent, the 440/675 nm absorption and scattering
// decomposition, and the 440-870 nm spectral SSA difference.
func DefaultDerivationPlan() DerivationPlan {
	return DerivationPlan{
		AOD: []AODExtrapolation{
			{Target: 532, Reference: 500, Exponent: "AE_440_675nm"},
			{Target: 355, Reference: 380, Exponent: "AE_340_440nm"},
		},
		LidarWavelengths: []int{440, 675, 870, 1020},
		LRAEPair:         [2]int{440, 870},
		LRAEName:         "LRAE_532nm",
		LR: []LRExtrapolation{
			{Target: 532, Reference: 675},
			{Target: 355, Reference: 440},
		},
		Decomposition: [2]int{440, 675},
		DSSAPair:      [2]int{440, 870},
	}
}

// OrDefault returns the default plan when p is the zero value.
func (p DerivationPlan) OrDefault() DerivationPlan {
	if len(p.AOD) == 0 && len(p.LidarWavelengths) == 0 && len(p.LR) == 0 && p.LRAEName == "" {
		return DefaultDerivationPlan()
	}
	return p
}

// formula computes one derived column row-wise from named inputs.
type formula struct {
	output string
	inputs []string
	eval   func(x []float64) float64
}

func wl(prefix string, w int) string { return fmt.Sprintf("%s_%dnm", prefix, w) }

// formulas lists derivations in dependency order.
func (p DerivationPlan) formulas() []formula {
	var fs []formula
	for _, e := range p.AOD {
		ref, target := float64(e.Reference), float64(e.Target)
		fs = append(fs, formula{
			output: wl("AOD", e.Target),
			inputs: []string{wl("AOD", e.Reference), e.Exponent},
			eval:   func(x []float64) float64 { return ExtrapolateAOD(x[0], ref, target, x[1]) },
		})
	}
	for _, w := range p.LidarWavelengths {
		fs = append(fs, formula{
			output: wl("LR", w),
			inputs: []string{wl("pfn180", w), wl("SSA", w)},
			eval:   func(x []float64) float64 { return LidarRatio(x[0], x[1]) },
		})
	}
	short, long := p.LRAEPair[0], p.LRAEPair[1]
	fs = append(fs, formula{
		output: p.LRAEName,
		inputs: []string{wl("LR", short), wl("LR", long)},
		eval: func(x []float64) float64 {
			return AngstromExponent(x[0], x[1], float64(short), float64(long))
		},
	})
	for _, e := range p.LR {
		ref, target := float64(e.Reference), float64(e.Target)
		fs = append(fs, formula{
			output: wl("LR", e.Target),
			inputs: []string{wl("LR", e.Reference), p.LRAEName},
			eval:   func(x []float64) float64 { return ExtrapolateLR(x[0], ref, target, x[1]) },
		})
	}
	a, b := p.Decomposition[0], p.Decomposition[1]
	for _, w := range []int{a, b} {
		fs = append(fs, formula{
			output: wl("AAOD", w),
			inputs: []string{wl("AOD", w), wl("SSA", w)},
			eval:   func(x []float64) float64 { return x[0] * (1 - x[1]) },
		})
	}
	for _, w := range []int{a, b} {
		fs = append(fs, formula{
			output: wl("SAOD", w),
			inputs: []string{wl("AOD", w), wl("SSA", w)},
			eval:   func(x []float64) float64 { return x[0] * x[1] },
		})
	}
	fs = append(fs,
		formula{
			output: "AAE",
			inputs: []string{wl("AAOD", a), wl("AAOD", b)},
			eval:   func(x []float64) float64 { return AngstromExponent(x[0], x[1], float64(a), float64(b)) },
		},
		formula{
			output: "SAE",
			inputs: []string{wl("SAOD", a), wl("SAOD", b)},
			eval:   func(x []float64) float64 { return AngstromExponent(x[0], x[1], float64(a), float64(b)) },
		},
		formula{
			output: "dSSA",
			inputs: []string{wl("SSA", p.DSSAPair[0]), wl("SSA", p.DSSAPair[1])},
			eval:   func(x []float64) float64 { return x[0] - x[1] },
		},
	)
	return fs
}

// DerivedColumns returns the output names of the plan, in computation order.
func (p DerivationPlan) DerivedColumns() []string {
	fs := p.formulas()
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.output
	}
	return names
}

// DerivedSuffix is appended to a derived column whose name is already taken
// by a merged column (for example AAOD_440nm delivered by the inversion).
const DerivedSuffix = "_derived"

// Derive returns a copy of merged with every derived column of the plan
// appended. Input columns are never modified. Inputs produced by an earlier
// formula always refer to the derived value, even when a merged column of the
// same name exists. Invalid inputs propagate as NaN.
func Derive(merged *Table, plan DerivationPlan) (*Table, error) {
	out := merged.Clone()
	resolved := make(map[string]string)

	for _, f := range plan.formulas() {
		inputs := make([][]float64, len(f.inputs))
		for i, name := range f.inputs {
			col := name
			if r, ok := resolved[name]; ok {
				col = r
			}
			vals, err := out.Floats(col)
			if err != nil {
				return nil, newError(ErrMissingDependency, "derive "+f.output, name, nil)
			}
			inputs[i] = vals
		}

		values := make([]float64, out.Len())
		x := make([]float64, len(inputs))
		for r := range values {
			for i := range inputs {
				x[i] = inputs[i][r]
			}
			values[r] = f.eval(x)
		}

		name := f.output
		if out.Has(name) {
			name += DerivedSuffix
		}
		if err := out.AddFloat(name, values); err != nil {
			return nil, fmt.Errorf("derive %s: %w", f.output, err)
		}
		resolved[f.output] = name
	}
	return out, nil
}

// ExtrapolateAOD returns AOD(target) = AOD(ref) * (ref/target)^(-ae).
func ExtrapolateAOD(aodRef, ref, target, ae float64) float64 {
	return aodRef * math.Pow(ref/target, -ae)
}

// ExtrapolateLR returns LR(target) = LR(ref) * (target/ref)^(-lrae). The
// ratio is inverted relative to ExtrapolateAOD, matching AERONET-derived
// lidar ratio products.
func ExtrapolateLR(lrRef, ref, target, lrae float64) float64 {
	return lrRef * math.Pow(target/ref, -lrae)
}

// LidarRatio returns 4π / pfn180 * ssa. A non-positive phase function yields
// NaN.
func LidarRatio(pfn180, ssa float64) float64 {
	if !(pfn180 > 0) {
		return math.NaN()
	}
	return 4 * math.Pi / pfn180 * ssa
}

// AngstromExponent returns -ln(x1/x2) / ln(w1/w2). Non-positive values yield
// NaN.
func AngstromExponent(x1, x2, w1, w2 float64) float64 {
	if !(x1 > 0) || !(x2 > 0) {
		return math.NaN()
	}
	return -math.Log(x1/x2) / math.Log(w1/w2)
}

package pipeline

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/aeronet-etl/internal/domain"
)

// ProductSpec selects one product type and how its raw files are read.
type ProductSpec struct {
	Type       string
	Columns    []int
	HeaderRows int
}

// Plan is a fully resolved run: every enabled product, every directory and
// every stage parameter is fixed before the first stage starts.
type Plan struct {
	Label string
	Level string

	RawDir       string
	OrganizedDir string
	MergedDir    string
	DerivedDir   string

	Products   []ProductSpec
	Interval   string
	ZeroPolicy domain.ZeroPolicy
	// SkipEmptyFiles keeps a run going when every row of a raw file is
	// dropped. The file is logged and left out of aggregation.
	SkipEmptyFiles bool
	Derivation     domain.DerivationPlan

	Boxplot bool
	Matrix  bool
}

// Validate checks the plan before any file is touched.
func (p Plan) Validate() error {
	var errs []error
	if p.Label == "" {
		errs = append(errs, errors.New("label is required"))
	}
	if p.Level == "" {
		errs = append(errs, errors.New("level is required"))
	}
	for _, d := range [][2]string{
		{"raw", p.RawDir}, {"organized", p.OrganizedDir}, {"merged", p.MergedDir}, {"derived", p.DerivedDir},
	} {
		if d[1] == "" {
			errs = append(errs, fmt.Errorf("%s dir is required", d[0]))
		}
	}
	if len(p.Products) == 0 {
		errs = append(errs, errors.New("at least one product must be enabled"))
	}
	seen := make(map[string]bool, len(p.Products))
	for _, ps := range p.Products {
		if ps.Type == "" {
			errs = append(errs, errors.New("product type is required"))
		}
		if seen[ps.Type] {
			errs = append(errs, fmt.Errorf("product %q listed twice", ps.Type))
		}
		seen[ps.Type] = true
		if ps.HeaderRows < 0 {
			errs = append(errs, fmt.Errorf("product %q: header_rows must not be negative", ps.Type))
		}
	}
	if _, err := domain.ParseInterval(p.Interval); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

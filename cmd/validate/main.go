// Command validate checks a merged and a derived artifact against each other:
// the derived artifact must carry every merged row and column unchanged, and
// every derived column must match a fresh derivation from the merged
// artifact. It also range-checks the physical quantities.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -merged data/merged/Lille.lev15_merged_v02 \
//	  -derived data/derived/Lille.lev15_derived_v03
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/couchcryptid/aeronet-etl/internal/domain"
)

// Values in artifacts carry six decimals, so a re-derivation from the merged
// artifact drifts slightly from the in-memory derivation.
const (
	absTolerance = 1e-5
	relTolerance = 1e-4
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	mergedPath := flag.String("merged", "", "path to the merged artifact")
	derivedPath := flag.String("derived", "", "path to the derived artifact")
	flag.Parse()

	if *mergedPath == "" || *derivedPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*mergedPath, *derivedPath); code != 0 {
		os.Exit(code)
	}
}

func run(mergedPath, derivedPath string) int {
	merged, err := readArtifact(mergedPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	derived, err := readArtifact(derivedPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	phases := []*phase{
		checkRows(merged, derived),
		checkDerivation(merged, derived),
		checkRanges(derived),
	}

	failed := 0
	for _, p := range phases {
		if p.passed() {
			fmt.Printf("PASS  %s\n", p.name)
			continue
		}
		failed++
		fmt.Printf("FAIL  %s (%d problems)\n", p.name, len(p.errors))
		for i, e := range p.errors {
			if i == 20 {
				fmt.Printf("      ... %d more\n", len(p.errors)-i)
				break
			}
			fmt.Printf("      %s\n", e)
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func readArtifact(path string) (*domain.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := domain.ReadArtifact(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// checkRows verifies the derived artifact keeps every merged row and column.
func checkRows(merged, derived *domain.Table) *phase {
	p := &phase{name: "rows and columns preserved"}
	if merged.Len() != derived.Len() {
		p.errorf("row count: merged %d, derived %d", merged.Len(), derived.Len())
		return p
	}
	for _, name := range merged.Columns() {
		if !derived.Has(name) {
			p.errorf("column %s missing from derived artifact", name)
			continue
		}
		if mv, err := merged.Floats(name); err == nil {
			dv, err := derived.Floats(name)
			if err != nil {
				p.errorf("column %s: %v", name, err)
				continue
			}
			for i := range mv {
				if domain.FormatFloat(mv[i]) != domain.FormatFloat(dv[i]) {
					p.errorf("column %s row %d: merged %s, derived %s", name, i, domain.FormatFloat(mv[i]), domain.FormatFloat(dv[i]))
				}
			}
			continue
		}
		mt, _ := merged.Texts(name)
		dt, err := derived.Texts(name)
		if err != nil {
			p.errorf("column %s: %v", name, err)
			continue
		}
		for i := range mt {
			if mt[i] != dt[i] {
				p.errorf("column %s row %d: merged %q, derived %q", name, i, mt[i], dt[i])
			}
		}
	}
	return p
}

// checkDerivation re-derives from the merged artifact with the default plan
// and compares every derived column.
func checkDerivation(merged, derived *domain.Table) *phase {
	p := &phase{name: "derived columns reproduce"}
	plan := domain.DefaultDerivationPlan()
	fresh, err := domain.Derive(merged, plan)
	if err != nil {
		p.errorf("derive: %v", err)
		return p
	}
	for _, name := range plan.DerivedColumns() {
		col := name
		if merged.Has(name) {
			col = name + domain.DerivedSuffix
		}
		want, err := fresh.Floats(col)
		if err != nil {
			p.errorf("column %s: %v", col, err)
			continue
		}
		got, err := derived.Floats(col)
		if err != nil {
			p.errorf("column %s missing from derived artifact", col)
			continue
		}
		for i := range want {
			if !approxEqual(want[i], got[i]) {
				p.errorf("column %s row %d: want %s, got %s", col, i, domain.FormatFloat(want[i]), domain.FormatFloat(got[i]))
			}
		}
	}
	return p
}

// checkRanges verifies physically meaningful bounds.
func checkRanges(derived *domain.Table) *phase {
	p := &phase{name: "physical ranges"}
	for _, name := range derived.Columns() {
		v, err := derived.Floats(name)
		if err != nil {
			continue
		}
		var ok func(float64) bool
		switch {
		case strings.HasPrefix(name, "SSA_"):
			ok = func(x float64) bool { return x > 0 && x <= 1 }
		case strings.HasPrefix(name, "AOD_"), strings.HasPrefix(name, "AAOD_"), strings.HasPrefix(name, "SAOD_"):
			ok = func(x float64) bool { return x >= 0 }
		case strings.HasPrefix(name, "LR_"):
			ok = func(x float64) bool { return x > 0 }
		default:
			continue
		}
		for i, x := range v {
			if !math.IsNaN(x) && !ok(x) {
				p.errorf("column %s row %d: %s out of range", name, i, domain.FormatFloat(x))
			}
		}
	}
	return p
}

func approxEqual(want, got float64) bool {
	if math.IsNaN(want) || math.IsNaN(got) {
		return math.IsNaN(want) && math.IsNaN(got)
	}
	d := math.Abs(want - got)
	return d <= absTolerance || d <= relTolerance*math.Abs(want)
}

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/couchcryptid/aeronet-etl/internal/domain"
	"github.com/couchcryptid/aeronet-etl/internal/pipeline"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// PlanEnvPrefix prefixes environment overrides of the run plan. A double
// underscore separates nesting levels: AERODOG_PRODUCTS__ALL__ENABLED=false
// sets products.all.enabled.
const PlanEnvPrefix = "AERODOG_"

// PlanFile is the run plan as written in YAML.
type PlanFile struct {
	Root  string `koanf:"root" validate:"required"`
	Label string `koanf:"label" validate:"required"`
	Level string `koanf:"level" validate:"required"`

	Dirs PlanDirs `koanf:"dirs"`

	Interval       string `koanf:"interval" validate:"required,interval"`
	ZeroPolicy     string `koanf:"zero_policy" validate:"oneof=missing valid"`
	SkipEmptyFiles bool   `koanf:"skip_empty_files"`
	// Workers overrides MAX_WORKERS when positive.
	Workers int `koanf:"workers" validate:"min=0,max=64"`

	Views    PlanViews               `koanf:"views"`
	Products map[string]PlanProduct `koanf:"products" validate:"required,min=1,dive"`

	Derivation *PlanDerivation `koanf:"derivation"`

	// dir is the directory of the plan file; a relative root resolves
	// against it.
	dir string
}

// PlanDirs names the stage directories, relative to the root.
type PlanDirs struct {
	Raw       string `koanf:"raw" validate:"required"`
	Organized string `koanf:"organized" validate:"required"`
	Merged    string `koanf:"merged" validate:"required"`
	Derived   string `koanf:"derived" validate:"required"`
}

type PlanViews struct {
	Boxplot bool `koanf:"boxplot"`
	Matrix  bool `koanf:"matrix"`
}

// PlanProduct selects one raw product type and how its files are read.
type PlanProduct struct {
	Type       string `koanf:"type" validate:"required,alphanum"`
	Enabled    bool   `koanf:"enabled"`
	Columns    []int  `koanf:"columns" validate:"required,min=1,dive,min=0"`
	HeaderRows int    `koanf:"header_rows" validate:"min=0"`
}

// PlanDerivation overrides parts of the default derivation set. Fields left
// empty keep their default.
type PlanDerivation struct {
	AOD []struct {
		Target    int    `koanf:"target" validate:"gt=0"`
		Reference int    `koanf:"reference" validate:"gt=0"`
		Exponent  string `koanf:"exponent" validate:"required"`
	} `koanf:"aod" validate:"dive"`
	LidarWavelengths []int  `koanf:"lidar_wavelengths" validate:"dive,gt=0"`
	LRAEPair         []int  `koanf:"lrae_pair" validate:"omitempty,len=2,dive,gt=0"`
	LRAEName         string `koanf:"lrae_name"`
	LR               []struct {
		Target    int `koanf:"target" validate:"gt=0"`
		Reference int `koanf:"reference" validate:"gt=0"`
	} `koanf:"lr" validate:"dive"`
	Decomposition []int `koanf:"decomposition" validate:"omitempty,len=2,dive,gt=0"`
	DSSAPair      []int `koanf:"dssa_pair" validate:"omitempty,len=2,dive,gt=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or a nil func.
	_ = v.RegisterValidation("interval", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseInterval(fl.Field().String())
		return err == nil
	})
	return v
}

func planDefaults() map[string]any {
	return map[string]any{
		"root":             ".",
		"level":            "lev15",
		"dirs.raw":         "raw",
		"dirs.organized":   "organized",
		"dirs.merged":      "merged",
		"dirs.derived":     "derived",
		"interval":         "15min",
		"zero_policy":      "missing",
		"skip_empty_files": false,
		"views.boxplot":    true,
		"views.matrix":     true,
	}
}

// planFlags lists the command-line flags that may override plan keys.
var planFlags = []string{"root", "label", "level", "interval", "zero-policy", "skip-empty-files", "workers"}

// LoadPlan reads the run plan. Precedence, highest first: flags that were
// explicitly set, AERODOG_ environment variables, the YAML file, defaults.
// flags may be nil.
func LoadPlan(path string, flags *pflag.FlagSet) (*PlanFile, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(planDefaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load plan defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read plan %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(PlanEnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, PlanEnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load plan env: %w", err)
	}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed || !slices.Contains(planFlags, f.Name) {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load plan flags: %w", err)
		}
	}

	var pf PlanFile
	if err := k.Unmarshal("", &pf); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := validate.Struct(&pf); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if path != "" {
		pf.dir = filepath.Dir(path)
	}
	return &pf, nil
}

// Resolve turns the plan into a typed pipeline.Plan. Disabled products are
// dropped here, once, and directories are anchored at the root.
func (pf *PlanFile) Resolve() (pipeline.Plan, error) {
	zp, err := domain.ParseZeroPolicy(pf.ZeroPolicy)
	if err != nil {
		return pipeline.Plan{}, err
	}

	root := pf.Root
	if !filepath.IsAbs(root) && pf.dir != "" {
		root = filepath.Join(pf.dir, root)
	}
	at := func(dir string) string {
		if filepath.IsAbs(dir) {
			return dir
		}
		return filepath.Join(root, dir)
	}

	names := make([]string, 0, len(pf.Products))
	for name := range pf.Products {
		names = append(names, name)
	}
	slices.Sort(names)

	var products []pipeline.ProductSpec
	for _, name := range names {
		p := pf.Products[name]
		if !p.Enabled {
			continue
		}
		products = append(products, pipeline.ProductSpec{
			Type:       p.Type,
			Columns:    slices.Clone(p.Columns),
			HeaderRows: p.HeaderRows,
		})
	}
	if len(products) == 0 {
		return pipeline.Plan{}, errors.New("no product is enabled")
	}

	plan := pipeline.Plan{
		Label:          pf.Label,
		Level:          pf.Level,
		RawDir:         at(pf.Dirs.Raw),
		OrganizedDir:   at(pf.Dirs.Organized),
		MergedDir:      at(pf.Dirs.Merged),
		DerivedDir:     at(pf.Dirs.Derived),
		Products:       products,
		Interval:       pf.Interval,
		ZeroPolicy:     zp,
		SkipEmptyFiles: pf.SkipEmptyFiles,
		Derivation:     pf.Derivation.apply(domain.DefaultDerivationPlan()),
		Boxplot:        pf.Views.Boxplot,
		Matrix:         pf.Views.Matrix,
	}
	return plan, plan.Validate()
}

func (d *PlanDerivation) apply(base domain.DerivationPlan) domain.DerivationPlan {
	if d == nil {
		return base
	}
	if len(d.AOD) > 0 {
		base.AOD = make([]domain.AODExtrapolation, len(d.AOD))
		for i, e := range d.AOD {
			base.AOD[i] = domain.AODExtrapolation{Target: e.Target, Reference: e.Reference, Exponent: e.Exponent}
		}
	}
	if len(d.LidarWavelengths) > 0 {
		base.LidarWavelengths = slices.Clone(d.LidarWavelengths)
	}
	if len(d.LRAEPair) == 2 {
		base.LRAEPair = [2]int{d.LRAEPair[0], d.LRAEPair[1]}
	}
	if d.LRAEName != "" {
		base.LRAEName = d.LRAEName
	}
	if len(d.LR) > 0 {
		base.LR = make([]domain.LRExtrapolation, len(d.LR))
		for i, e := range d.LR {
			base.LR[i] = domain.LRExtrapolation{Target: e.Target, Reference: e.Reference}
		}
	}
	if len(d.Decomposition) == 2 {
		base.Decomposition = [2]int{d.Decomposition[0], d.Decomposition[1]}
	}
	if len(d.DSSAPair) == 2 {
		base.DSSAPair = [2]int{d.DSSAPair[0], d.DSSAPair[1]}
	}
	return base
}

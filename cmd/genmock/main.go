// Command genmock writes synthetic AERONET raw files and a matching run plan,
// so the pipeline can be exercised end to end without network access.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -days 7 -site Lille
//	aerodog run --plan data/mock/aerodog.yaml
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/aeronet-etl/internal/synth"
	"github.com/knadh/koanf/parsers/yaml"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	defaults := synth.DefaultOptions()
	out := flag.String("out", "", "output root; raw files go to <out>/raw and the plan to <out>/aerodog.yaml")
	site := flag.String("site", defaults.Site, "AERONET site name")
	start := flag.String("start", defaults.Start.Format(time.DateOnly), "first day (YYYY-MM-DD, UTC)")
	days := flag.Int("days", defaults.Days, "number of days")
	cadence := flag.Duration("cadence", defaults.Cadence, "measurement cadence")
	sentinels := flag.Float64("sentinel-rate", defaults.SentinelRate, "fraction of rows with one -999. value")
	emptyDay := flag.Int("empty-day", defaults.EmptyDay, "day offset whose rows are all sentinels (-1 for none)")
	seed := flag.Uint64("seed", defaults.Seed, "random seed")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	first, err := time.Parse(time.DateOnly, *start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}

	o := synth.Options{
		Site:         *site,
		Start:        first,
		Days:         *days,
		Cadence:      *cadence,
		SentinelRate: *sentinels,
		EmptyDay:     *emptyDay,
		Seed:         *seed,
	}
	products := []synth.Product{synth.DirectSun(), synth.Inversion()}

	rawDir := filepath.Join(*out, "raw")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return err
	}
	for _, p := range products {
		path := filepath.Join(rawDir, p.FileName(o.Site, o))
		st, err := writeProduct(path, p, o)
		if err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		log.Printf("%s: %d rows (%d corrupted) -> %s", p.Type, st.Rows, st.Corrupted, path)
	}

	planPath := filepath.Join(*out, "aerodog.yaml")
	if err := writePlan(planPath, o.Site, products); err != nil {
		return fmt.Errorf("writing plan: %w", err)
	}
	log.Printf("wrote plan: %s", planPath)
	return nil
}

func writeProduct(path string, p synth.Product, o synth.Options) (synth.Stats, error) {
	var buf bytes.Buffer
	st, err := synth.Write(&buf, p, o)
	if err != nil {
		return st, err
	}
	return st, os.WriteFile(path, buf.Bytes(), 0o644)
}

// writePlan renders a plan that selects every synthetic column, rooted at the
// plan's own directory.
func writePlan(path, site string, products []synth.Product) error {
	entries := make(map[string]any, len(products))
	for _, p := range products {
		entries[p.Type] = map[string]any{
			"type":        p.Type,
			"enabled":     true,
			"columns":     p.UsedColumns(),
			"header_rows": synth.HeaderRows,
		}
	}
	plan := map[string]any{
		"root":             ".",
		"label":            site,
		"level":            products[0].Level,
		"interval":         "15min",
		"zero_policy":      "missing",
		"skip_empty_files": true,
		"products":         entries,
		"views":            map[string]any{"boxplot": true, "matrix": true},
	}
	body, err := yaml.Parser().Marshal(plan)
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

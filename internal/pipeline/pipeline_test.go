package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/aeronet-etl/internal/adapter/fsstore"
	"github.com/couchcryptid/aeronet-etl/internal/adapter/manifest"
	"github.com/couchcryptid/aeronet-etl/internal/domain"
	"github.com/couchcryptid/aeronet-etl/internal/observability"
	"github.com/couchcryptid/aeronet-etl/internal/pipeline"
	"github.com/couchcryptid/aeronet-etl/internal/synth"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fixtures ---

type recordingPublisher struct {
	mu   sync.Mutex
	runs []string
	rows int
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, runID string, t *domain.Table) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.runs = append(r.runs, runID)
	r.rows += t.Len()
	return t.Len(), nil
}

type harness struct {
	p        *pipeline.Pipeline
	manifest *manifest.Store
	metrics  *observability.Metrics
}

func newHarness(t *testing.T, workers int, pub pipeline.Publisher) harness {
	t.Helper()
	return newHarnessWithStore(t, fsstore.New(), workers, pub)
}

func newHarnessWithStore(t *testing.T, store pipeline.ArtifactStore, workers int, pub pipeline.Publisher) harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	m, err := manifest.Open(context.Background(), "", clock)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	metrics := observability.NewMetricsForTesting()
	return harness{
		p:        pipeline.New(store, m, pub, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics, clock, workers),
		manifest: m,
		metrics:  metrics,
	}
}

// corruptingStore breaks the first timestamp of every artifact read back
// from dir.
type corruptingStore struct {
	*fsstore.Store
	dir string
}

var stampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`)

func (s corruptingStore) Open(path string) (io.ReadCloser, error) {
	rc, err := s.Store.Open(path)
	if err != nil || !strings.HasPrefix(path, s.dir) {
		return rc, err
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if loc := stampRe.FindIndex(body); loc != nil {
		body = slices.Concat(body[:loc[0]], []byte("not-a-time"), body[loc[1]:])
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func writeRaw(t *testing.T, dir string, p synth.Product, o synth.Options) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, p.FileName(o.Site, o))
	var buf bytes.Buffer
	_, err := synth.Write(&buf, p, o)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func productOf(p synth.Product) pipeline.ProductSpec {
	return pipeline.ProductSpec{Type: p.Type, Columns: p.UsedColumns(), HeaderRows: synth.HeaderRows}
}

func testPlan(root string) pipeline.Plan {
	return pipeline.Plan{
		Label:          "Lille",
		Level:          "lev15",
		RawDir:         filepath.Join(root, "raw"),
		OrganizedDir:   filepath.Join(root, "organized"),
		MergedDir:      filepath.Join(root, "merged"),
		DerivedDir:     filepath.Join(root, "derived"),
		Products:       []pipeline.ProductSpec{productOf(synth.DirectSun()), productOf(synth.Inversion())},
		Interval:       "15min",
		SkipEmptyFiles: true,
		Boxplot:        true,
		Matrix:         true,
	}
}

// seedWeek writes one week of directsun and inversion data for Lille with
// 5% corrupted rows and an empty third day.
func seedWeek(t *testing.T, root string) {
	t.Helper()
	writeRaw(t, filepath.Join(root, "raw"), synth.DirectSun(), synth.DefaultOptions())
	writeRaw(t, filepath.Join(root, "raw"), synth.Inversion(), synth.DefaultOptions())
}

func csvOf(t *testing.T, tbl *domain.Table) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, domain.WriteCSV(&buf, tbl))
	return buf.String()
}

// --- tests ---

func TestPipeline_Run_EndToEnd(t *testing.T) {
	root := t.TempDir()
	seedWeek(t, root)
	h := newHarness(t, 4, nil)
	plan := testPlan(root)

	res, err := h.p.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, h.p.Ready())
	require.NoError(t, h.p.CheckReadiness(context.Background()))

	derived := res.Derived
	require.Positive(t, derived.Len())

	stamps, err := derived.Texts(domain.TimestampColumn)
	require.NoError(t, err)
	for _, s := range stamps {
		assert.False(t, strings.HasPrefix(s, "2020-06-30"), "row on the empty day: %s", s)
	}

	derivedCols := domain.DefaultDerivationPlan().DerivedColumns()
	require.Len(t, derivedCols, 16)
	for _, name := range derivedCols {
		values, err := derived.Floats(name)
		require.NoError(t, err, name)
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("%s row %d (%s) is not finite: %v", name, i, stamps[i], v)
			}
		}
	}

	require.NotNil(t, res.Boxplot)
	months, err := res.Boxplot.MonthMeans.Texts(domain.MonthColumn)
	require.NoError(t, err)
	assert.Equal(t, []string{"06", "07"}, months)
	require.NotNil(t, res.Matrix)
	assert.Len(t, res.Matrix.MixingCoefficient, derived.Len())

	assert.Equal(t, filepath.Join(root, "merged", "Lille.lev15_merged_v02"), res.MergedPath)
	assert.Equal(t, filepath.Join(root, "derived", "Lille.lev15_derived_v03"), res.DerivedPath)
	onDisk, err := os.ReadFile(res.DerivedPath)
	require.NoError(t, err)
	if diff := cmp.Diff(csvOf(t, derived), string(onDisk)); diff != "" {
		t.Fatalf("derived artifact differs from returned table (-want +got):\n%s", diff)
	}

	arts, err := h.manifest.Artifacts(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, arts, 4)
	for _, a := range arts {
		assert.Equal(t, manifest.StatusSucceeded, a.Status, a.Path)
	}
	run, err := h.manifest.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusSucceeded, run.Status)

	assert.Equal(t, float64(res.Merged.Len()), testutil.ToFloat64(h.metrics.MergedRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FilesCleaned.WithLabelValues("aod", "cleaned")))
}

func TestPipeline_Run_IncludesEveryFile(t *testing.T) {
	root := t.TempDir()
	raw := filepath.Join(root, "raw")
	first := synth.DefaultOptions()
	first.Days, first.EmptyDay = 3, -1
	second := first
	second.Start = first.Start.AddDate(0, 0, 3)
	second.Days, second.Seed = 4, 7
	for _, p := range []synth.Product{synth.DirectSun(), synth.Inversion()} {
		writeRaw(t, raw, p, first)
		writeRaw(t, raw, p, second)
	}

	plan := testPlan(root)
	plan.Boxplot, plan.Matrix = false, false
	res, err := newHarness(t, 2, nil).p.Run(context.Background(), plan)
	require.NoError(t, err)

	require.Len(t, res.Products, 2)
	for _, pr := range res.Products {
		require.Len(t, pr.Files, 2, pr.Type)
		var valid int
		for _, f := range pr.Files {
			assert.False(t, f.Skipped)
			valid += f.RowsRead - f.RowsDropped
		}
		// One row per 15-minute window, so resampling keeps every valid row.
		assert.Equal(t, valid, pr.Rows, pr.Type)
	}

	stamps, err := res.Merged.Texts(domain.TimestampColumn)
	require.NoError(t, err)
	require.NotEmpty(t, stamps)
	assert.True(t, strings.HasPrefix(stamps[0], "2020-06-28"), stamps[0])
	assert.True(t, strings.HasPrefix(stamps[len(stamps)-1], "2020-07-04"), stamps[len(stamps)-1])
	assert.True(t, slices.IsSorted(stamps))
}

func TestPipeline_Run_WorkerCountDoesNotChangeOutput(t *testing.T) {
	var outputs []string
	for _, workers := range []int{1, 3, 8} {
		root := t.TempDir()
		seedWeek(t, root)
		o := synth.DefaultOptions()
		o.Start, o.Days, o.EmptyDay = o.Start.AddDate(0, 0, 7), 2, -1
		writeRaw(t, filepath.Join(root, "raw"), synth.DirectSun(), o)
		writeRaw(t, filepath.Join(root, "raw"), synth.Inversion(), o)

		res, err := newHarness(t, workers, nil).p.Run(context.Background(), testPlan(root))
		require.NoError(t, err)
		outputs = append(outputs, csvOf(t, res.Derived))
	}
	for i := 1; i < len(outputs); i++ {
		if diff := cmp.Diff(outputs[0], outputs[i]); diff != "" {
			t.Fatalf("output %d differs (-want +got):\n%s", i, diff)
		}
	}
}

func TestPipeline_Run_EmptyJoin(t *testing.T) {
	root := t.TempDir()
	raw := filepath.Join(root, "raw")
	o := synth.DefaultOptions()
	writeRaw(t, raw, synth.DirectSun(), o)
	later := o
	later.Start = o.Start.AddDate(0, 1, 0)
	writeRaw(t, raw, synth.Inversion(), later)

	h := newHarness(t, 2, nil)
	res, err := h.p.Run(context.Background(), testPlan(root))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, domain.ErrEmptyJoin))
	assert.False(t, h.p.Ready())

	_, statErr := os.Stat(filepath.Join(root, "merged", "Lille.lev15_merged_v02"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StageErrors.WithLabelValues(pipeline.StageMerge, "empty_join")))
}

func TestPipeline_Run_EmptyRawFile(t *testing.T) {
	newRoot := func(t *testing.T) (string, string) {
		root := t.TempDir()
		seedWeek(t, root)
		dead := synth.DefaultOptions()
		dead.Site, dead.Days, dead.EmptyDay = "Dead", 1, 0
		return root, writeRaw(t, filepath.Join(root, "raw"), synth.DirectSun(), dead)
	}

	t.Run("skipped when allowed", func(t *testing.T) {
		root, dead := newRoot(t)
		res, err := newHarness(t, 2, nil).p.Run(context.Background(), testPlan(root))
		require.NoError(t, err)

		files := res.Products[0].Files
		i := slices.IndexFunc(files, func(f pipeline.CleanedFile) bool { return f.Source == dead })
		require.GreaterOrEqual(t, i, 0)
		assert.True(t, files[i].Skipped)
		assert.Empty(t, files[i].Artifact)
	})

	t.Run("fails the run otherwise", func(t *testing.T) {
		root, dead := newRoot(t)
		plan := testPlan(root)
		plan.SkipEmptyFiles = false
		_, err := newHarness(t, 2, nil).p.Run(context.Background(), plan)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrEmptyResult))
		assert.Contains(t, err.Error(), dead)
	})
}

func TestPipeline_Run_MalformedCleanedTimestampNamesFile(t *testing.T) {
	root := t.TempDir()
	seedWeek(t, root)
	plan := testPlan(root)
	store := corruptingStore{Store: fsstore.New(), dir: plan.OrganizedDir}

	_, err := newHarnessWithStore(t, store, 2, nil).p.Run(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMalformedTimestamp))
	assert.Contains(t, err.Error(), "file="+plan.OrganizedDir)
	assert.Contains(t, err.Error(), "row 0")
}

func TestPipeline_Run_MissingDerivationInput(t *testing.T) {
	root := t.TempDir()
	seedWeek(t, root)
	plan := testPlan(root)

	inv := synth.Inversion()
	cols := []int{0, 1, 2}
	for i, c := range inv.UsedColumns()[3:] {
		if inv.Columns[i] != "180.000000[870nm]" {
			cols = append(cols, c)
		}
	}
	plan.Products[1].Columns = cols

	_, err := newHarness(t, 2, nil).p.Run(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMissingDependency))
	assert.Contains(t, err.Error(), "pfn180_870nm")

	_, err = os.Stat(filepath.Join(root, "merged", "Lille.lev15_merged_v02"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "derived", "Lille.lev15_derived_v03"))
	assert.True(t, os.IsNotExist(err))
}

func TestPipeline_Run_RejectsSecondWriteOfSamePath(t *testing.T) {
	root := t.TempDir()
	seedWeek(t, root)
	src := filepath.Join(root, "raw", synth.DirectSun().FileName("Lille", synth.DefaultOptions()))
	body, err := os.ReadFile(src)
	require.NoError(t, err)
	// "<stem>.aod" and "<stem>_lev15.aod" map to the same cleaned artifact.
	alias := strings.TrimSuffix(src, "_lev15.aod") + ".aod"
	require.NoError(t, os.WriteFile(alias, body, 0o644))

	_, err = newHarness(t, 1, nil).p.Run(context.Background(), testPlan(root))
	require.Error(t, err)
	assert.True(t, errors.Is(err, manifest.ErrAlreadyClaimed))
}

func TestPipeline_Run_InvalidPlan(t *testing.T) {
	plan := testPlan(t.TempDir())
	plan.Interval = "fortnight"

	_, err := newHarness(t, 1, nil).p.Run(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInterval))
}

func TestPipeline_Run_Publishes(t *testing.T) {
	root := t.TempDir()
	seedWeek(t, root)
	pub := &recordingPublisher{}

	res, err := newHarness(t, 2, pub).p.Run(context.Background(), testPlan(root))
	require.NoError(t, err)
	assert.Equal(t, []string{res.RunID}, pub.runs)
	assert.Equal(t, res.Derived.Len(), pub.rows)
	assert.Equal(t, res.Derived.Len(), res.Published)
}

func TestPipeline_Run_PublishFailure(t *testing.T) {
	root := t.TempDir()
	seedWeek(t, root)
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	h := newHarness(t, 2, pub)

	_, err := h.p.Run(context.Background(), testPlan(root))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.False(t, h.p.Ready())
}

func TestPipeline_CheckReadiness_BeforeFirstRun(t *testing.T) {
	h := newHarness(t, 1, nil)
	assert.Error(t, h.p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	root := t.TempDir()
	seedWeek(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newHarness(t, 2, nil).p.Run(ctx, testPlan(root))
	require.Error(t, err)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "empty_join", pipeline.ErrorKind(&domain.Error{Kind: domain.ErrEmptyJoin}))
	assert.Equal(t, "cancelled", pipeline.ErrorKind(context.Canceled))
	assert.Equal(t, "other", pipeline.ErrorKind(errors.New("x")))
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/couchcryptid/aeronet-etl/internal/domain"
	"github.com/couchcryptid/aeronet-etl/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ArtifactStore discovers raw files and reads and writes stage artifacts.
type ArtifactStore interface {
	Discover(dir, productType string) ([]string, error)
	Open(path string) (io.ReadCloser, error)
	WriteAtomic(path string, write func(io.Writer) error) error
}

// Manifest records runs and enforces write-once artifact paths per run.
type Manifest interface {
	StartRun(ctx context.Context, runID, label string) error
	FinishRun(ctx context.Context, runID string, runErr error) error
	Claim(ctx context.Context, runID, path, stage string) error
	Complete(ctx context.Context, runID, path string, rows int) error
	Fail(ctx context.Context, runID, path string, cause error) error
}

// Publisher ships derived rows to a downstream consumer. It returns the
// number of rows published.
type Publisher interface {
	Publish(ctx context.Context, runID string, t *domain.Table) (int, error)
}

// Stage names, used in artifact records, logs and metric labels.
const (
	StageClean     = "cleaned"
	StageAggregate = "aggregated"
	StageMerge     = "merged"
	StageDerive    = "derived"
	StageViews     = "views"
	StagePublish   = "publish"
)

// Artifact versions encoded in file names.
const (
	mergedVersion  = 2
	derivedVersion = 3
)

// Pipeline runs the clean, aggregate, merge, derive and summarize stages
// over an artifact store.
type Pipeline struct {
	store     ArtifactStore
	manifest  Manifest
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	workers   int
	ready     atomic.Bool
}

// New creates a Pipeline. publisher may be nil to skip publishing; workers
// bounds concurrent per-file cleaning.
func New(store ArtifactStore, manifest Manifest, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		store:     store,
		manifest:  manifest,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		clock:     clock,
		workers:   workers,
	}
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Ready reports whether a run has completed successfully.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// CleanedFile describes one raw file after the record cleaner.
type CleanedFile struct {
	Source      string
	Artifact    string
	RowsRead    int
	RowsDropped int
	// Skipped is set when every row was dropped and the plan allows it.
	Skipped bool
}

// ProductResult summarizes one product of a run.
type ProductResult struct {
	Type  string
	Files []CleanedFile
	// Rows is the row count of the aggregated product table.
	Rows int
}

// Result is everything a successful run produced.
type Result struct {
	RunID       string
	Products    []ProductResult
	MergedPath  string
	DerivedPath string
	Merged      *domain.Table
	Derived     *domain.Table
	Boxplot     *domain.BoxplotView
	Matrix      *domain.MatrixView
	Published   int
}

// Run executes one pipeline run for a resolved plan. Stage outputs are passed
// explicitly from one stage to the next; a failing stage ends the run and
// leaves no partial artifact behind.
func (p *Pipeline) Run(ctx context.Context, plan Plan) (res *Result, err error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	plan.Derivation = plan.Derivation.OrDefault()

	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID, "label", plan.Label)
	if err := p.manifest.StartRun(ctx, runID, plan.Label); err != nil {
		return nil, err
	}
	defer func() {
		if ferr := p.manifest.FinishRun(context.WithoutCancel(ctx), runID, err); ferr != nil {
			logger.Error("record run outcome failed", "error", ferr)
		}
	}()

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	start := p.clock.Now()
	logger.Info("pipeline started", "products", len(plan.Products), "interval", plan.Interval, "workers", p.workers)

	res = &Result{RunID: runID}

	cleaned, err := stage(p, StageClean, func() ([]ProductResult, error) {
		return p.cleanAll(ctx, runID, plan, logger)
	})
	if err != nil {
		return nil, p.fail(logger, StageClean, err)
	}
	res.Products = cleaned

	products, err := stage(p, StageAggregate, func() ([]domain.ProductTable, error) {
		return p.aggregateAll(ctx, plan, cleaned, logger)
	})
	if err != nil {
		return nil, p.fail(logger, StageAggregate, err)
	}
	for i := range products {
		res.Products[i].Rows = products[i].Table.Len()
	}

	res.MergedPath = domain.StageArtifactPath(plan.MergedDir, plan.Label, plan.Level, StageMerge, mergedVersion)
	res.Merged, err = stage(p, StageMerge, func() (*domain.Table, error) {
		merged, err := domain.Merge(products)
		if err != nil {
			return nil, err
		}
		return merged, p.writeArtifact(ctx, runID, res.MergedPath, StageMerge, merged)
	})
	if err != nil {
		return nil, p.fail(logger, StageMerge, err)
	}
	p.metrics.MergedRows.Set(float64(res.Merged.Len()))
	logger.Info("products merged", "stage", StageMerge, "rows_out", res.Merged.Len(), "artifact", res.MergedPath)

	res.DerivedPath = domain.StageArtifactPath(plan.DerivedDir, plan.Label, plan.Level, StageDerive, derivedVersion)
	res.Derived, err = stage(p, StageDerive, func() (*domain.Table, error) {
		derived, err := domain.Derive(res.Merged, plan.Derivation)
		if err != nil {
			return nil, err
		}
		return derived, p.writeArtifact(ctx, runID, res.DerivedPath, StageDerive, derived)
	})
	if err != nil {
		return nil, p.fail(logger, StageDerive, err)
	}
	logger.Info("optical properties derived", "stage", StageDerive, "rows_out", res.Derived.Len(), "artifact", res.DerivedPath)

	if _, err := stage(p, StageViews, func() (struct{}, error) {
		return struct{}{}, p.buildViews(plan, res)
	}); err != nil {
		return nil, p.fail(logger, StageViews, err)
	}

	if p.publisher != nil {
		res.Published, err = stage(p, StagePublish, func() (int, error) {
			return p.publisher.Publish(ctx, runID, res.Derived)
		})
		if err != nil {
			return nil, p.fail(logger, StagePublish, err)
		}
		p.metrics.RowsPublished.Add(float64(res.Published))
	}

	p.ready.Store(true)
	logger.Info("pipeline finished", "duration", p.clock.Since(start), "derived_rows", res.Derived.Len())
	return res, nil
}

func (p *Pipeline) buildViews(plan Plan, res *Result) error {
	var err error
	if plan.Boxplot {
		if res.Boxplot, err = domain.Boxplot(res.Derived); err != nil {
			return err
		}
	}
	if plan.Matrix {
		if res.Matrix, err = domain.Matrix(res.Derived); err != nil {
			return err
		}
	}
	return nil
}

// stage times fn and counts its failure by error kind.
func stage[T any](p *Pipeline, name string, fn func() (T, error)) (T, error) {
	start := p.clock.Now()
	v, err := fn()
	p.metrics.StageDuration.WithLabelValues(name).Observe(p.clock.Since(start).Seconds())
	if err != nil {
		p.metrics.StageErrors.WithLabelValues(name, ErrorKind(err)).Inc()
	}
	return v, err
}

func (p *Pipeline) fail(logger *slog.Logger, name string, err error) error {
	logger.Error("stage failed", "stage", name, "kind", ErrorKind(err), "error", err)
	return fmt.Errorf("%s: %w", name, err)
}

// writeArtifact claims path in the manifest, writes t atomically and records
// the outcome. A second write of the same path within a run fails.
func (p *Pipeline) writeArtifact(ctx context.Context, runID, path, stage string, t *domain.Table) error {
	if err := p.manifest.Claim(ctx, runID, path, stage); err != nil {
		return err
	}
	err := p.store.WriteAtomic(path, func(w io.Writer) error { return domain.WriteCSV(w, t) })
	if err != nil {
		if ferr := p.manifest.Fail(context.WithoutCancel(ctx), runID, path, err); ferr != nil {
			p.logger.Warn("record artifact failure failed", "error", ferr, "artifact", path)
		}
		return err
	}
	if err := p.manifest.Complete(ctx, runID, path, t.Len()); err != nil {
		return err
	}
	p.metrics.RowsWritten.WithLabelValues(stage).Add(float64(t.Len()))
	return nil
}

// ErrorKind maps an error to a short metric label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedTimestamp):
		return "malformed_timestamp"
	case errors.Is(err, domain.ErrEmptyResult):
		return "empty_result"
	case errors.Is(err, domain.ErrNoData):
		return "no_data"
	case errors.Is(err, domain.ErrInvalidInterval):
		return "invalid_interval"
	case errors.Is(err, domain.ErrEmptyJoin):
		return "empty_join"
	case errors.Is(err, domain.ErrMissingDependency):
		return "missing_dependency"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

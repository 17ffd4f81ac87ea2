package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/aeronet-etl/internal/domain"
	"golang.org/x/sync/errgroup"
)

type cleanJob struct {
	product ProductSpec
	source  string
}

// cleanAll cleans every discovered raw file of every product. Files are
// processed concurrently, but results keep discovery order, so the rows that
// reach aggregation never depend on scheduling.
func (p *Pipeline) cleanAll(ctx context.Context, runID string, plan Plan, logger *slog.Logger) ([]ProductResult, error) {
	var jobs []cleanJob
	for _, ps := range plan.Products {
		files, err := p.store.Discover(plan.RawDir, ps.Type)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			logger.Warn("no raw files found", "stage", StageClean, "product", ps.Type, "dir", plan.RawDir)
		}
		for _, f := range files {
			jobs = append(jobs, cleanJob{product: ps, source: f})
		}
	}

	out := make([]CleanedFile, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, job := range jobs {
		g.Go(func() error {
			cf, err := p.cleanFile(gctx, runID, plan, job, logger)
			if err != nil {
				return err
			}
			out[i] = cf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]ProductResult, len(plan.Products))
	index := make(map[string]int, len(plan.Products))
	for i, ps := range plan.Products {
		results[i].Type = ps.Type
		index[ps.Type] = i
	}
	for i, job := range jobs {
		r := &results[index[job.product.Type]]
		r.Files = append(r.Files, out[i])
	}
	return results, nil
}

func (p *Pipeline) cleanFile(ctx context.Context, runID string, plan Plan, job cleanJob, logger *slog.Logger) (CleanedFile, error) {
	if err := ctx.Err(); err != nil {
		return CleanedFile{}, err
	}
	ptype := job.product.Type
	target, err := domain.CleanedArtifactPath(job.source, plan.RawDir, plan.OrganizedDir, ptype, plan.Level)
	if err != nil {
		return CleanedFile{}, err
	}

	rc, err := p.store.Open(job.source)
	if err != nil {
		return CleanedFile{}, err
	}
	defer rc.Close()

	tbl, stats, err := domain.Clean(rc, domain.CleanOptions{
		Columns:    job.product.Columns,
		HeaderRows: job.product.HeaderRows,
		ZeroPolicy: plan.ZeroPolicy,
	})
	p.metrics.RowsRead.WithLabelValues(ptype).Add(float64(stats.RowsRead))
	p.metrics.RowsDropped.WithLabelValues(ptype).Add(float64(stats.RowsDropped))
	cf := CleanedFile{Source: job.source, RowsRead: stats.RowsRead, RowsDropped: stats.RowsDropped}

	if err != nil {
		if errors.Is(err, domain.ErrEmptyResult) && plan.SkipEmptyFiles {
			logger.Warn("raw file has no valid rows, skipping",
				"stage", StageClean, "product", ptype, "file", job.source, "rows_in", stats.RowsRead)
			p.metrics.FilesCleaned.WithLabelValues(ptype, "skipped").Inc()
			cf.Skipped = true
			return cf, nil
		}
		return CleanedFile{}, domain.WithFile(err, job.source)
	}

	if err := p.writeArtifact(ctx, runID, target, StageClean, tbl); err != nil {
		return CleanedFile{}, err
	}
	p.metrics.FilesCleaned.WithLabelValues(ptype, "cleaned").Inc()
	logger.Info("raw file cleaned",
		"stage", StageClean, "product", ptype, "file", job.source,
		"rows_in", stats.RowsRead, "rows_out", tbl.Len(), "artifact", target)
	cf.Artifact = target
	return cf, nil
}

// aggregateAll resamples each product from the cleaned artifacts written in
// this run. Every cleaned file of a product is included.
func (p *Pipeline) aggregateAll(ctx context.Context, plan Plan, cleaned []ProductResult, logger *slog.Logger) ([]domain.ProductTable, error) {
	out := make([]domain.ProductTable, len(cleaned))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, pr := range cleaned {
		g.Go(func() error {
			tables, err := p.loadCleaned(gctx, pr)
			if err != nil {
				return err
			}
			agg, err := domain.Aggregate(tables, plan.Interval)
			if err != nil {
				return fmt.Errorf("product %s: %w", pr.Type, err)
			}
			logger.Info("product aggregated",
				"stage", StageAggregate, "product", pr.Type, "files", len(tables), "rows_out", agg.Len())
			out[i] = domain.ProductTable{Product: pr.Type, Table: agg}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) loadCleaned(ctx context.Context, pr ProductResult) ([]*domain.Table, error) {
	var tables []*domain.Table
	for _, f := range pr.Files {
		if f.Skipped {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := p.readArtifact(f.Artifact)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", pr.Type, err)
		}
		if _, err := domain.CheckTimestamps(t); err != nil {
			return nil, fmt.Errorf("product %s: %w", pr.Type, domain.WithFile(err, f.Artifact))
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (p *Pipeline) readArtifact(path string) (*domain.Table, error) {
	rc, err := p.store.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	t, err := domain.ReadArtifact(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

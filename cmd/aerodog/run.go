package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/aeronet-etl/internal/adapter/fsstore"
	httpadapter "github.com/couchcryptid/aeronet-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/aeronet-etl/internal/adapter/kafka"
	"github.com/couchcryptid/aeronet-etl/internal/adapter/manifest"
	"github.com/couchcryptid/aeronet-etl/internal/config"
	"github.com/couchcryptid/aeronet-etl/internal/observability"
	"github.com/couchcryptid/aeronet-etl/internal/pipeline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline for a plan file",
		Long: `Run cleans every raw file of the enabled products, aggregates, merges and
derives, and writes one artifact per stage. Flags override the plan file and
AERODOG_ environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, planPath)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&planPath, "plan", "p", "aerodog.yaml", "run plan file")
	f.String("root", "", "root directory of the stage directories")
	f.String("label", "", "site label used in merged and derived artifact names")
	f.String("level", "", "AERONET processing level, e.g. lev15")
	f.String("interval", "", "resample interval, e.g. 15min or 1h")
	f.String("zero-policy", "", "treat exact zeros as missing or valid")
	f.Bool("skip-empty-files", false, "skip raw files with no valid rows instead of failing")
	f.Int("workers", 0, "concurrent file cleaners (default MAX_WORKERS)")
	return cmd
}

func (a *app) run(cmd *cobra.Command, planPath string) error {
	pf, err := config.LoadPlan(planPath, cmd.Flags())
	if err != nil {
		return err
	}
	plan, err := pf.Resolve()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	m, err := manifest.Open(ctx, a.cfg.ManifestPath, clock)
	if err != nil {
		return err
	}
	defer m.Close()

	metrics := observability.NewMetrics()

	// Publishing is feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS.
	var publisher pipeline.Publisher
	if a.cfg.KafkaEnabled {
		w := kafkaadapter.NewWriter(a.cfg, a.logger)
		defer func() {
			if err := w.Close(); err != nil {
				a.logger.Error("kafka writer close error", "error", err)
			}
		}()
		publisher = w
		a.logger.Info("kafka publishing enabled", "topic", a.cfg.KafkaTopic, "brokers", a.cfg.KafkaBrokers)
	}

	workers := a.cfg.MaxWorkers
	if pf.Workers > 0 {
		workers = pf.Workers
	}
	p := pipeline.New(fsstore.New(), m, publisher, a.logger, metrics, clock, workers)

	if a.cfg.HTTPAddr != "" {
		srv := httpadapter.NewServer(a.cfg.HTTPAddr, p, metrics.Gatherer(), m, a.logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	res, runErr := p.Run(ctx, plan)

	if a.cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
			a.logger.Error("metrics textfile error", "error", err, "path", a.cfg.MetricsTextfile)
		}
	}
	if runErr != nil {
		return runErr
	}
	printRunSummary(cmd.OutOrStdout(), res)
	return nil
}

func printRunSummary(w io.Writer, res *pipeline.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Product", "Files", "Skipped", "Rows read", "Rows dropped", "Aggregated"})
	for _, pr := range res.Products {
		var skipped, read, dropped int
		for _, f := range pr.Files {
			if f.Skipped {
				skipped++
			}
			read += f.RowsRead
			dropped += f.RowsDropped
		}
		t.AppendRow(table.Row{pr.Type, len(pr.Files), skipped, read, dropped, pr.Rows})
	}
	t.Render()

	fmt.Fprintf(w, "run %s\n", res.RunID)
	fmt.Fprintf(w, "merged:  %s (%d rows)\n", res.MergedPath, res.Merged.Len())
	fmt.Fprintf(w, "derived: %s (%d rows)\n", res.DerivedPath, res.Derived.Len())
	if res.Published > 0 {
		fmt.Fprintf(w, "published: %d rows\n", res.Published)
	}
}

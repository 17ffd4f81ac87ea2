package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/couchcryptid/aeronet-etl/internal/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var defaultSummaryColumns = []string{"AOD_532nm", "AOD_355nm", "LR_532nm", "LR_355nm", "AAE", "SAE", "dSSA"}

func newSummaryCmd() *cobra.Command {
	var (
		columns []string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "summary <derived-artifact>",
		Short: "Print month means and Ångström matrix statistics of a derived artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			t, err := domain.ReadArtifact(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return writeSummary(cmd.OutOrStdout(), t, columns, format)
		},
	}
	cmd.Flags().StringSliceVar(&columns, "columns", defaultSummaryColumns, "numeric columns of the month-mean table")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, markdown or csv")
	return cmd
}

func writeSummary(w io.Writer, t *domain.Table, columns []string, format string) error {
	render, err := renderer(format)
	if err != nil {
		return err
	}

	box, err := domain.Boxplot(t)
	if err != nil {
		return err
	}
	means := table.NewWriter()
	means.SetOutputMirror(w)
	means.SetStyle(table.StyleLight)
	means.SetTitle("Month means")
	header := table.Row{domain.MonthColumn}
	var cols [][]float64
	for _, name := range columns {
		v, err := box.MonthMeans.Floats(name)
		if err != nil {
			return fmt.Errorf("summary: column %s: %w", name, err)
		}
		header = append(header, name)
		cols = append(cols, v)
	}
	means.AppendHeader(header)
	months, err := box.MonthMeans.Texts(domain.MonthColumn)
	if err != nil {
		return err
	}
	for i, m := range months {
		row := table.Row{m}
		for _, c := range cols {
			row = append(row, domain.FormatFloat(c[i]))
		}
		means.AppendRow(row)
	}
	render(means)

	mx, err := domain.Matrix(t)
	if err != nil {
		return err
	}
	stats := table.NewWriter()
	stats.SetOutputMirror(w)
	stats.SetStyle(table.StyleLight)
	stats.SetTitle("Ångström matrix")
	stats.AppendHeader(table.Row{"Series", "Valid", "Mean", "Min", "Max"})
	for _, s := range []struct {
		name   string
		values []float64
	}{
		{"derivSSA", mx.DerivSSA},
		{"k", mx.MixingCoefficient},
		{"ESE", mx.EffectiveScatteringExponent},
	} {
		n, mean, lo, hi := describe(s.values)
		stats.AppendRow(table.Row{s.name, n, domain.FormatFloat(mean), domain.FormatFloat(lo), domain.FormatFloat(hi)})
	}
	render(stats)
	return nil
}

func renderer(format string) (func(table.Writer), error) {
	switch strings.ToLower(format) {
	case "", "table":
		return func(t table.Writer) { t.Render() }, nil
	case "markdown", "md":
		return func(t table.Writer) { t.RenderMarkdown() }, nil
	case "csv":
		return func(t table.Writer) { t.RenderCSV() }, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want table, markdown or csv)", format)
	}
}

// describe returns the count, mean, min and max of the finite values.
func describe(values []float64) (n int, mean, lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		n++
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if n == 0 {
		return 0, math.NaN(), math.NaN(), math.NaN()
	}
	return n, sum / float64(n), lo, hi
}

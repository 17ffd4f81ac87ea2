package main

import (
	"log/slog"

	"github.com/couchcryptid/aeronet-etl/internal/config"
	"github.com/couchcryptid/aeronet-etl/internal/observability"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries what every subcommand shares once the environment is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "aerodog",
		Short: "AERONET aerosol ETL",
		Long: `aerodog cleans raw AERONET sun-photometer and inversion files, resamples
them per site, merges the products on (site, timestamp) and derives optical
properties such as lidar ratios and absorption/scattering exponents.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Only run touches the environment-driven stack.
			if cmd.Name() != "run" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = observability.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	root.AddCommand(newRunCmd(a), newSummaryCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("aerodog %s\n", version)
		},
	}
}

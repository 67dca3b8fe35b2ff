package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/chlorophyll-emd/internal/adapter/csvsource"
	"github.com/couchcryptid/chlorophyll-emd/internal/adapter/report"
	"github.com/couchcryptid/chlorophyll-emd/internal/config"
	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
	"github.com/couchcryptid/chlorophyll-emd/internal/observability"
	"github.com/couchcryptid/chlorophyll-emd/internal/pipeline"
	"github.com/couchcryptid/chlorophyll-emd/internal/transport"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "emd",
		Short:         "Earth Mover's Distance analysis of chlorophyll grids",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newInspectCmd())
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		output    string
		matrixCSV string
		workers   int
		keepPlans bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build signatures, assemble the distance matrix and write the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("output") {
				cfg.OutputPath = output
			}
			if flags.Changed("matrix-csv") {
				cfg.MatrixCSVPath = matrixCSV
			}
			if flags.Changed("workers") {
				if workers < 1 {
					return fmt.Errorf("--workers must be >= 1, got %d", workers)
				}
				cfg.Workers = workers
			}
			if flags.Changed("keep-plans") {
				cfg.KeepPlans = keepPlans
			}

			metrics := observability.NewMetrics()
			_, runErr := newPipeline(cfg, logger, metrics).Run(cmd.Context())
			if runErr != nil {
				logger.Error("run failed", "error", runErr)
			}
			if cfg.MetricsTextfile != "" {
				if err := observability.WriteTextfile(cfg.MetricsTextfile); err != nil {
					logger.Error("write metrics textfile failed", "path", cfg.MetricsTextfile, "error", err)
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", `JSON report path, "-" for stdout (overrides OUTPUT_PATH)`)
	cmd.Flags().StringVar(&matrixCSV, "matrix-csv", "", "also write the distance matrix as CSV (overrides MATRIX_CSV_PATH)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent oracle calls (overrides WORKERS)")
	cmd.Flags().BoolVar(&keepPlans, "keep-plans", false, "include transport plans in the report (overrides KEEP_PLANS)")

	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Build signatures only and print a summary of each",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			sigs, err := newPipeline(cfg, logger, observability.NewMetrics()).BuildSignatures(cmd.Context())
			if err != nil {
				logger.Error("inspect failed", "error", err)
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LABEL\tROWS\tCOLS\tOBSERVED\tMASS\tFINGERPRINT")
			for _, s := range sigs {
				sum := domain.Summarize(s)
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.6g\t%s\n", sum.Label, sum.Rows, sum.Cols, sum.Observed, sum.Mass, sum.Fingerprint)
			}
			return tw.Flush()
		},
	}
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return nil, nil, err
	}
	return cfg, observability.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

func newPipeline(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *pipeline.Pipeline {
	reader := csvsource.NewReader(csvsource.Columns{
		Lon:   cfg.LonColumn,
		Lat:   cfg.LatColumn,
		Month: cfg.MonthColumn,
		Value: cfg.ValueColumn,
	}, logger, metrics)

	opts := []transport.Option{
		transport.WithExponent(cfg.CostExponent),
		transport.WithMaxIterations(cfg.MaxIterations),
		transport.WithMaxSupport(cfg.MaxSupport),
	}
	if !cfg.KeepPlans {
		opts = append(opts, transport.WithoutPlan())
	}
	solver := transport.NewSolver(opts...)
	var oracle pipeline.Oracle = solver
	if cfg.OracleCacheSize > 0 {
		oracle = transport.NewCachedOracle(solver, cfg.OracleCacheSize, metrics)
	}

	writers := report.Multi{report.NewJSONWriter(cfg.OutputPath)}
	if cfg.MatrixCSVPath != "" {
		writers = append(writers, report.NewMatrixCSVWriter(cfg.MatrixCSVPath))
	}

	logger.Info("configuration loaded",
		"sources", len(cfg.Sources),
		"months", cfg.Months,
		"bbox", cfg.BBox.String(),
		"resolution", cfg.Resolution,
		"frame", cfg.Frame,
		"cost_exponent", cfg.CostExponent,
		"max_support", cfg.MaxSupport,
		"oracle_cache_size", cfg.OracleCacheSize,
	)

	return pipeline.New(reader, oracle, writers, pipeline.Config{
		Sources: cfg.Sources,
		Grid: domain.GridSpec{
			BBox:       cfg.BBox,
			Resolution: cfg.Resolution,
			Frame:      cfg.Frame,
		},
		Months:       cfg.Months,
		CostExponent: cfg.CostExponent,
		Workers:      cfg.Workers,
		KeepPlans:    cfg.KeepPlans,
		Linkage:      cfg.Linkage,
		Clusters:     cfg.Clusters,
		Dimensions:   cfg.Dimensions,
	}, logger, metrics)
}

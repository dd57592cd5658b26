package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/axreg"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/config"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/errlog"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/ingest"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/pep"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/platform/blobstore"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/platform/db"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/platform/telemetry"
)

type runOptions struct {
	dryRun        bool
	lookbackHours int
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Download and validate documents without writing to the database")
	cmd.Flags().IntVar(&opts.lookbackHours, "lookback-hours", 0, "Override LOOKBACK_HOURS for this run")
	return cmd
}

func runSync(ctx context.Context, opts runOptions) error {
	// Logger
	logger := newLogger(os.Stdout)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if opts.lookbackHours > 0 {
		cfg.LookbackHours = opts.lookbackHours
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.SourceLocation()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	authenticator, err := axreg.NewAuthenticator(cfg.AXRegAuthMode, cfg.AXRegAPIKey, cfg.AXRegAPISecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	runID := uuid.NewString()
	logger = logger.With().Str("run_id", runID).Logger()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("org_unit", cfg.OrgUnit).Msg("connected to database")

	source := axreg.NewClient(cfg.AXRegBaseURL,
		axreg.WithTimeout(cfg.AXRegTimeout),
		axreg.WithAuthenticator(authenticator),
		axreg.WithLocation(loc),
		axreg.WithMaxDocumentBytes(cfg.MaxDocumentBytes),
		axreg.WithLogger(logger),
	)
	directory := pep.NewDirectoryPG(pool, cfg.OrgUnit)
	store := pep.NewStore(pool, cfg.OrgUnit,
		pep.WithLockTimeout(cfg.LockTimeout),
		pep.WithStatementTimeout(cfg.StatementTimeout),
		pep.WithCreatedBy(cfg.CreatedBy),
		pep.WithLogger(logger),
	)
	sink := errlog.NewSink(cfg.ErrorLogDir, cfg.ErrorLogFallbackDir, errlog.NewFallbackState(),
		errlog.WithRunID(runID),
		errlog.WithLogger(logger),
	)
	metrics := telemetry.NewRecorder("axreg-sync")

	pipeline := ingest.New(source, directory, store, sink, ingest.Config{
		Window:         cfg.Lookback(),
		TransferType:   cfg.TransferDocumentType,
		PageSize:       cfg.PageSize,
		MaxConcurrency: cfg.MaxConcurrency,
		DryRun:         opts.dryRun,
		RunID:          runID,
	},
		ingest.WithInspector(newInspector(cfg)),
		ingest.WithMetrics(metrics),
		ingest.WithLogger(logger),
	)

	summary, runErr := pipeline.Run(ctx)

	recordPoolStats(metrics, pool)
	if cfg.MetricsFile != "" {
		if err := metrics.WriteFile(cfg.MetricsFile); err != nil {
			logger.Error().Err(err).Str("path", cfg.MetricsFile).Msg("failed to write metrics file")
		}
	}
	if summary != nil {
		printSummary(os.Stdout, summary, sink.Written())
	}
	if runErr != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}
	return nil
}

func newInspector(cfg *config.Config) *blobstore.Inspector {
	var validator blobstore.Validator
	if cfg.ValidatePDF {
		validator = blobstore.NewPDFValidator()
	}
	return blobstore.NewInspector(cfg.MaxDocumentBytes, validator)
}

func recordPoolStats(metrics *telemetry.Recorder, pool *pgxpool.Pool) {
	stats := db.GetPoolStats(pool)
	metrics.SetGauge("db_total_conns", float64(stats.TotalConns))
	metrics.SetGauge("db_max_conns", float64(stats.MaxConns))
	metrics.SetGauge("db_acquire_count", float64(stats.AcquireCount))
}

func printSummary(w io.Writer, s *ingest.Summary, logged int64) {
	c := s.Counts()
	mode := "live"
	if s.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(w, "Run %s (%s) finished in %s\n", s.RunID, mode, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  procedures:        %d\n", c.Procedures)
	fmt.Fprintf(w, "  inserted:          %d\n", c.Inserted)
	fmt.Fprintf(w, "  skipped_duplicate: %d\n", c.SkippedDuplicate)
	fmt.Fprintf(w, "  failed:            %d\n", c.Failed)
	fmt.Fprintf(w, "  filtered:          %d\n", c.Filtered)
	fmt.Fprintf(w, "  stored_unmarked:   %d\n", c.StoredUnmarked)
	if s.DryRun {
		fmt.Fprintf(w, "  would_insert:      %d\n", c.WouldInsert)
	}
	fmt.Fprintf(w, "  error log entries: %d\n", logged)
}

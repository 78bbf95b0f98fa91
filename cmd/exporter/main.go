// Command exporter downloads the ASRS database online CSV export for every
// month of a year range and optionally mirrors each file to Google Drive.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"asrsexport/internal/browser"
	"asrsexport/internal/calendar"
	"asrsexport/internal/config"
	"asrsexport/internal/drive"
	apperrors "asrsexport/internal/errors"
	"asrsexport/internal/export"
	"asrsexport/internal/infrastructure"
	transport "asrsexport/internal/transport/http"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) (code int) {
	var logger *slog.Logger
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC RECOVERED: %v\n%s\n", r, debug.Stack())
			if logger != nil {
				logger.Error("exporter panicked",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
			code = exitFailure
		}
	}()

	flags, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	paths, err := config.GetPaths(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve paths: %v\n", err)
		return exitFailure
	}
	if err := paths.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	cfg.Logging.FilePath = paths.LogFile

	logger, err = infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger, using default: %v\n", err)
		logger = slog.Default()
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = infrastructure.EnsureTraceID(ctx)

	paths.LogPathResolution(logger)

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, os.Stderr, logger)
	if err != nil {
		infrastructure.WithError(logger, err).ErrorContext(ctx, "failed to initialize telemetry")
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	tracer, err := export.NewItemTracer(providers)
	if err != nil {
		logger.ErrorContext(ctx, "failed to create export metrics", slog.String("error", err.Error()))
		return exitFailure
	}

	var uploader export.Uploader
	if cfg.Upload.Enabled {
		u, err := drive.NewUploader(ctx, drive.Config{
			CredentialsFile: paths.CredentialsFile,
			FolderID:        cfg.Upload.FolderID,
		})
		if err != nil {
			infrastructure.WithError(logger, err).ErrorContext(ctx, "remote store unavailable")
			return exitFailure
		}
		uploader = u
	}

	progress := export.NewProgressTracker()
	job, err := export.New(jobOptions(cfg, paths),
		browser.NewChromeLauncher(cfg.Export.Headless, logger),
		uploader,
		export.WithLogger(logger),
		export.WithTracer(tracer),
		export.WithProgress(progress),
	)
	if err != nil {
		infrastructure.WithError(logger, err).ErrorContext(ctx, "invalid export configuration")
		return exitFailure
	}

	if cfg.Telemetry.ListenAddr != "" {
		srv := transport.NewServer(transport.ServerConfig{
			Addr:              cfg.Telemetry.ListenAddr,
			RequestsPerSecond: 20,
		}, progress, providers.PrometheusHTTP, logger)
		if err := srv.Start(ctx); err != nil {
			infrastructure.WithError(logger, err).ErrorContext(ctx, "failed to start status server")
			return exitFailure
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	report, err := job.Run(ctx)
	printSummary(stdout, report)
	if report.Attempted() > 0 {
		manifest := paths.GetScratchPath(export.ManifestName)
		if merr := export.WriteManifest(manifest, report); merr != nil {
			infrastructure.WithError(logger, merr).WarnContext(ctx, "failed to write run report")
		} else {
			logger.InfoContext(ctx, "run report written", slog.String("path", manifest))
		}
	}

	code = exitCode(report, err, ctx.Err() != nil)
	logger.InfoContext(ctx, "exporter finished",
		slog.Int("exit_code", code),
		slog.Duration("elapsed", report.Duration()))
	return code
}

// cliFlags holds the command line overrides. Only flags the user set are
// applied on top of the loaded configuration.
type cliFlags struct {
	fs *flag.FlagSet

	fromYear     int
	toYear       int
	out          string
	upload       bool
	headless     bool
	skipExisting bool
	cooldown     time.Duration
}

func parseFlags(args []string) (*cliFlags, error) {
	f := &cliFlags{fs: flag.NewFlagSet("exporter", flag.ContinueOnError)}
	f.fs.IntVar(&f.fromYear, "from-year", calendar.FirstYear, "first year to export")
	f.fs.IntVar(&f.toYear, "to-year", calendar.LastYear, "last year to export")
	f.fs.StringVar(&f.out, "out", "", "scratch directory for the CSV files")
	f.fs.BoolVar(&f.upload, "upload", false, "upload each file to the configured Drive folder")
	f.fs.BoolVar(&f.headless, "headless", true, "run the browser headless")
	f.fs.BoolVar(&f.skipExisting, "skip-existing", false, "skip months whose file is already in the scratch directory")
	f.fs.DurationVar(&f.cooldown, "cooldown", export.DefaultCooldown, "pause between months")

	if err := f.fs.Parse(args); err != nil {
		return nil, err
	}
	if f.fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", f.fs.Args())
	}
	return f, nil
}

// apply copies every flag given on the command line into cfg
func (f *cliFlags) apply(cfg *config.Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "from-year":
			cfg.Export.StartYear = f.fromYear
		case "to-year":
			cfg.Export.EndYear = f.toYear
		case "out":
			cfg.Export.ScratchDir = f.out
		case "upload":
			cfg.Upload.Enabled = f.upload
		case "headless":
			cfg.Export.Headless = f.headless
		case "skip-existing":
			cfg.Export.SkipExisting = f.skipExisting
		case "cooldown":
			cfg.Export.Cooldown = f.cooldown
		}
	})
}

// loadConfig loads the environment configuration, applies flags and
// validates the result. Every failure is a CONFIG error.
func loadConfig(flags *cliFlags) (*config.Config, error) {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func jobOptions(cfg *config.Config, paths *config.Paths) export.Options {
	return export.Options{
		Range: calendar.Range{
			StartYear: cfg.Export.StartYear,
			EndYear:   cfg.Export.EndYear,
		},
		QueryURL:     cfg.Export.QueryURL,
		ScratchDir:   paths.ScratchDir,
		Cooldown:     cfg.Export.Cooldown,
		StepTimeout:  cfg.Export.StepTimeout,
		SkipExisting: cfg.Export.SkipExisting,
		Upload:       cfg.Upload.Enabled,
		FolderID:     cfg.Upload.FolderID,
	}
}

// exitCode maps the run result to the process status
func exitCode(report *export.Report, err error, interrupted bool) int {
	if interrupted || apperrors.Is(err, apperrors.ErrTypeCancelled) {
		return exitInterrupted
	}
	if err != nil || report == nil {
		return exitFailure
	}
	return report.ExitCode()
}

// printSummary writes the human readable end-of-run report
func printSummary(w io.Writer, report *export.Report) {
	if report == nil {
		return
	}
	fmt.Fprintf(w, "\nASRS export: %d/%d attempted, %d downloaded, %d skipped, %d failed",
		report.Attempted(), report.Total, report.Succeeded, report.Skipped, report.Failed)
	if report.UploadFailures > 0 {
		fmt.Fprintf(w, ", %d upload failures", report.UploadFailures)
	}
	fmt.Fprintf(w, " in %s\n", report.Duration().Round(time.Second))

	for _, o := range report.Failures() {
		fmt.Fprintf(w, "  FAILED %-14s %-18s %s\n", o.Item, o.Err.Type, o.Err.Message)
	}
	for _, o := range report.Outcomes {
		if o.UploadErr != nil {
			fmt.Fprintf(w, "  UPLOAD %-14s %s\n", o.Item, o.UploadErr.Message)
		}
	}
}

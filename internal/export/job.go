package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"asrsexport/internal/browser"
	"asrsexport/internal/calendar"
	apperrors "asrsexport/internal/errors"
	"asrsexport/internal/files"
	"asrsexport/internal/infrastructure"
)

const (
	DefaultCooldown    = 5 * time.Second
	DefaultStepTimeout = 2 * time.Minute
)

// Uploader mirrors a local file into a remote folder and returns the
// remote object's id.
type Uploader interface {
	Upload(ctx context.Context, localPath, fileName, folderID string) (string, error)
}

// Options configures a Job
type Options struct {
	Range        calendar.Range
	QueryURL     string
	ScratchDir   string
	Cooldown     time.Duration
	StepTimeout  time.Duration
	SkipExisting bool
	Upload       bool
	FolderID     string
}

// Option customises a Job's collaborators
type Option func(*Job)

// WithLogger sets the job logger
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// WithTracer sets the span and metric recorder
func WithTracer(tracer *ItemTracer) Option {
	return func(j *Job) { j.tracer = tracer }
}

// WithProgress publishes progress to tracker
func WithProgress(tracker *ProgressTracker) Option {
	return func(j *Job) { j.progress = tracker }
}

// Job exports every WorkItem of a range, one at a time
type Job struct {
	opts     Options
	launcher browser.Launcher
	uploader Uploader
	files    *files.Manager
	logger   *slog.Logger
	tracer   *ItemTracer
	progress *ProgressTracker
	wait     func(ctx context.Context, d time.Duration) error
}

// New validates opts and builds a Job. Configuration problems, including
// upload being enabled without an uploader or destination folder, are
// CONFIG errors raised before any browser is launched.
func New(opts Options, launcher browser.Launcher, uploader Uploader, options ...Option) (*Job, error) {
	if err := opts.Range.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid year range", err)
	}
	if launcher == nil {
		return nil, apperrors.NewConfigError("browser launcher is required", nil)
	}
	if opts.QueryURL == "" {
		return nil, apperrors.NewConfigError("query url is required", nil)
	}
	if opts.ScratchDir == "" {
		return nil, apperrors.NewConfigError("scratch directory is required", nil)
	}
	if opts.Upload {
		if uploader == nil {
			return nil, apperrors.NewConfigError("upload enabled but no remote store credentials configured", nil)
		}
		if opts.FolderID == "" {
			return nil, apperrors.NewConfigError("upload enabled but no destination folder configured", nil)
		}
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}

	j := &Job{
		opts:     opts,
		launcher: launcher,
		uploader: uploader,
		files:    files.NewManager(opts.ScratchDir),
		logger:   slog.Default(),
		tracer:   noopItemTracer(),
		progress: NewProgressTracker(),
		wait:     sleep,
	}
	for _, o := range options {
		o(j)
	}
	j.logger = infrastructure.WithComponent(j.logger, "export")

	return j, nil
}

// Progress returns the tracker the job publishes to
func (j *Job) Progress() *ProgressTracker { return j.progress }

// Run attempts every WorkItem in order exactly once and returns the report.
// The error is non-nil only when the scratch directory cannot be created
// or ctx ends before the range is exhausted; the partial report is still
// returned in the latter case.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	total := j.opts.Range.Len()
	report := newReport(total)
	j.progress.Start(total)
	defer func() {
		report.FinishedAt = time.Now()
		j.progress.Finish()
	}()

	if err := j.files.EnsureDir(); err != nil {
		return report, err
	}

	existing := map[string]bool{}
	if j.opts.SkipExisting {
		var err error
		existing, err = files.NewDiscovery(j.files.Dir()).ExistingNames(j.files.Dir())
		if err != nil {
			return report, apperrors.NewStorageError("scan scratch directory", err)
		}
		j.logger.InfoContext(ctx, "resuming export",
			slog.Int("existing_files", len(existing)),
			slog.Int("total_items", total))
	}

	j.logger.InfoContext(ctx, "export started",
		slog.Int("start_year", j.opts.Range.StartYear),
		slog.Int("end_year", j.opts.Range.EndYear),
		slog.Int("total_items", total),
		slog.Bool("upload", j.opts.Upload),
		slog.String("scratch_dir", j.opts.ScratchDir))

	index := 0
	for item := range j.opts.Range.Items() {
		index++
		if err := ctx.Err(); err != nil {
			return report, apperrors.NewCancelledError(fmt.Sprintf("stopped before %s", item), err)
		}

		if existing[item.FileName()] {
			outcome := j.skipped(item)
			report.add(outcome)
			j.progress.Record(outcome)
			j.logOutcome(ctx, outcome, index, total)
			continue
		}

		j.progress.Begin(item.String())
		outcome := j.runItem(ctx, item)
		report.add(outcome)
		j.progress.Record(outcome)
		j.logOutcome(ctx, outcome, index, total)

		if outcome.ErrorType() == apperrors.ErrTypeCancelled {
			return report, outcome.Err
		}

		if index < total && j.opts.Cooldown > 0 {
			if err := j.wait(ctx, j.opts.Cooldown); err != nil {
				return report, apperrors.NewCancelledError("interrupted during cooldown", err)
			}
		}
	}

	j.logger.InfoContext(ctx, "export finished",
		slog.Int("attempted", report.Attempted()),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("upload_failures", report.UploadFailures))

	return report, nil
}

func (j *Job) skipped(item calendar.WorkItem) Outcome {
	path := j.files.PathFor(item.FileName())
	return Success(DownloadResult{
		Item:      item,
		LocalPath: path,
		FileName:  item.FileName(),
		Skipped:   true,
	})
}

// runItem executes one WorkItem's pipeline. Every failure, including a
// panic, becomes a Failure outcome.
func (j *Job) runItem(ctx context.Context, item calendar.WorkItem) (outcome Outcome) {
	start := time.Now()
	ctx, span := j.tracer.TraceItem(ctx, item)
	defer func() {
		if r := recover(); r != nil {
			j.logger.ErrorContext(ctx, "panic while exporting item",
				slog.String("item", item.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			outcome = Failure(item, apperrors.NewInternalError(fmt.Sprintf("panic: %v", r), nil))
		}
		outcome.Duration = time.Since(start)
		if outcome.Err != nil {
			outcome.Err.WithContext("year", item.Year).WithContext("month", item.MonthLabel())
		}
		j.tracer.RecordOutcome(ctx, span, outcome)
		span.End()
	}()

	run := &itemRun{job: j, item: item}
	res, err := run.execute(ctx)
	if err != nil {
		return Failure(item, err)
	}
	outcome = Success(*res)
	outcome.UploadErr = run.uploadErr
	return outcome
}

func (j *Job) logOutcome(ctx context.Context, o Outcome, index, total int) {
	attrs := []any{
		slog.String("item", o.Item.String()),
		slog.String("file", o.Item.FileName()),
		slog.String("status", o.Status()),
		slog.String("progress", fmt.Sprintf("%d/%d", index, total)),
		slog.Duration("duration", o.Duration),
	}

	switch {
	case o.Err != nil:
		attrs = append(attrs,
			slog.String("error_type", string(o.Err.Type)),
			slog.String("error", o.Err.Error()))
		j.logger.ErrorContext(ctx, "export item failed", attrs...)
	case o.UploadErr != nil:
		attrs = append(attrs, slog.String("upload_error", o.UploadErr.Error()))
		j.logger.WarnContext(ctx, "export item saved locally, upload failed", attrs...)
	case o.Result.Skipped:
		j.logger.InfoContext(ctx, "export item already present", attrs...)
	default:
		attrs = append(attrs, slog.Int64("bytes", o.Result.Bytes), slog.Bool("uploaded", o.Result.Uploaded))
		j.logger.InfoContext(ctx, "export item downloaded", attrs...)
	}
}

// sleep waits d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify maps a step failure to the error taxonomy. Root cancellation
// wins over everything, then an exhausted step budget, then element
// lookups, then the step's own kind.
func classify(parent context.Context, step string, kind apperrors.ErrorType, err error) *apperrors.AppError {
	if parent.Err() != nil {
		return apperrors.NewCancelledError(step+" interrupted", err).WithContext("step", step)
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Clone().WithContext("step", step)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(step, err)
	}
	return apperrors.Classify(err, kind, step).WithContext("step", step)
}

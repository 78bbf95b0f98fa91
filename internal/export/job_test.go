package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asrsexport/internal/browser"
	"asrsexport/internal/calendar"
	apperrors "asrsexport/internal/errors"
)

func testOptions(t *testing.T, r calendar.Range) Options {
	return Options{
		Range:       r,
		QueryURL:    "https://asrs.example/QueryWizard_Filter.aspx",
		ScratchDir:  filepath.Join(t.TempDir(), "asrs-tmp"),
		StepTimeout: time.Second,
	}
}

// noWait records cooldowns without sleeping
type noWait struct {
	calls []time.Duration
}

func (w *noWait) wait(ctx context.Context, d time.Duration) error {
	w.calls = append(w.calls, d)
	return ctx.Err()
}

func newTestJob(t *testing.T, opts Options, l *fakeLauncher, u Uploader) (*Job, *noWait) {
	t.Helper()
	job, err := New(opts, l, u)
	require.NoError(t, err)
	w := &noWait{}
	job.wait = w.wait
	return job, w
}

func listExports(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		info, err := e.Info()
		require.NoError(t, err)
		if info.Size() > 0 {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestRunFullRangeAllSucceed(t *testing.T) {
	l := newFakeLauncher(t)
	opts := testOptions(t, calendar.DefaultRange())
	job, _ := newTestJob(t, opts, l, nil)

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 444, report.Attempted())
	assert.Equal(t, 444, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 0, report.ExitCode())
	assert.Len(t, listExports(t, opts.ScratchDir), 444)

	assert.Equal(t, calendar.WorkItem{Year: 1988, Month: time.January}, report.Outcomes[0].Item)
	assert.Equal(t, calendar.WorkItem{Year: 2024, Month: time.December}, report.Outcomes[443].Item)
	assert.Equal(t, filepath.Join(opts.ScratchDir, "asrs-jan-1988.csv"), report.Outcomes[0].Result.LocalPath)

	launches, closes := l.counts()
	assert.Equal(t, 444, launches)
	assert.Equal(t, launches, closes)
}

func TestRunSingleDownloadFailure(t *testing.T) {
	l := newFakeLauncher(t)
	bad := calendar.WorkItem{Year: 2001, Month: time.March}
	l.failDownload[bad] = fmt.Errorf("%w: browser cancelled", browser.ErrDownloadFailed)

	opts := testOptions(t, calendar.DefaultRange())
	job, _ := newTestJob(t, opts, l, nil)

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 444, report.Attempted())
	assert.Len(t, listExports(t, opts.ScratchDir), 443)
	assert.NoFileExists(t, filepath.Join(opts.ScratchDir, "asrs-mar-2001.csv"))

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, bad, failures[0].Item)
	assert.Equal(t, apperrors.ErrTypeDownload, failures[0].Err.Type)
	assert.Equal(t, 2001, failures[0].Err.Context["year"])
	assert.Equal(t, "March", failures[0].Err.Context["month"])
	assert.Equal(t, 1, report.ExitCode())

	launches, closes := l.counts()
	assert.Equal(t, launches, closes)
}

func TestRunSelectsTargetMonthAndYear(t *testing.T) {
	l := newFakeLauncher(t)
	job, _ := newTestJob(t, testOptions(t, calendar.Range{StartYear: 1999, EndYear: 1999}), l, nil)

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, l.selected, 48)
	assert.Equal(t, []string{"January", "1999", "January", "1999"}, l.selected[:4])
	assert.Equal(t, []string{"December", "1999", "December", "1999"}, l.selected[44:])
}

func TestRunUploadDisabled(t *testing.T) {
	l := newFakeLauncher(t)
	u := &fakeUploader{}
	job, _ := newTestJob(t, testOptions(t, calendar.Range{StartYear: 2010, EndYear: 2010}), l, u)

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, u.count())
	for _, o := range report.Outcomes {
		assert.False(t, o.Result.Uploaded)
	}
}

func TestRunUploadEnabled(t *testing.T) {
	l := newFakeLauncher(t)
	u := &fakeUploader{}
	opts := testOptions(t, calendar.Range{StartYear: 2010, EndYear: 2010})
	opts.Upload = true
	opts.FolderID = "folder-1"
	job, _ := newTestJob(t, opts, l, u)

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, u.count())
	assert.Equal(t, "folder-1/asrs-jan-2010.csv", u.calls[0])
	assert.True(t, report.Outcomes[0].Result.Uploaded)
	assert.Equal(t, "remote-1", report.Outcomes[0].Result.RemoteID)
	assert.Zero(t, report.UploadFailures)
}

func TestRunUploadFailureKeepsLocalFile(t *testing.T) {
	l := newFakeLauncher(t)
	u := &fakeUploader{err: apperrors.NewUploadError("quota exceeded", nil)}
	opts := testOptions(t, calendar.Range{StartYear: 2010, EndYear: 2010})
	opts.Upload = true
	opts.FolderID = "folder-1"
	job, _ := newTestJob(t, opts, l, u)

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 12, report.UploadFailures)
	assert.Equal(t, 0, report.ExitCode())
	assert.Len(t, listExports(t, opts.ScratchDir), 12)

	o := report.Outcomes[0]
	require.NotNil(t, o.UploadErr)
	assert.Equal(t, apperrors.ErrTypeUpload, o.UploadErr.Type)
	assert.False(t, o.Result.Uploaded)
}

func TestNewRejectsMissingUploadConfig(t *testing.T) {
	tests := []struct {
		name     string
		uploader Uploader
		folder   string
	}{
		{name: "no uploader", folder: "folder-1"},
		{name: "no folder", uploader: &fakeUploader{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLauncher(t)
			opts := testOptions(t, calendar.DefaultRange())
			opts.Upload = true
			opts.FolderID = tt.folder

			job, err := New(opts, l, tt.uploader)
			require.Error(t, err)
			assert.Nil(t, job)
			assert.True(t, apperrors.Is(err, apperrors.ErrTypeConfig))

			launches, _ := l.counts()
			assert.Zero(t, launches)
		})
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	l := newFakeLauncher(t)

	opts := testOptions(t, calendar.Range{StartYear: 2010, EndYear: 2000})
	_, err := New(opts, l, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrTypeConfig))

	opts = testOptions(t, calendar.DefaultRange())
	_, err = New(opts, nil, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrTypeConfig))

	opts.ScratchDir = ""
	_, err = New(opts, l, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrTypeConfig))
}

func TestRunScratchDirFailureIsFatal(t *testing.T) {
	l := newFakeLauncher(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	opts := testOptions(t, calendar.DefaultRange())
	opts.ScratchDir = filepath.Join(blocker, "scratch")
	job, _ := newTestJob(t, opts, l, nil)

	report, err := job.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTypeStorage))
	assert.Zero(t, report.Attempted())

	launches, _ := l.counts()
	assert.Zero(t, launches)
}

func TestRunRerunOverwritesInPlace(t *testing.T) {
	l := newFakeLauncher(t)
	opts := testOptions(t, calendar.Range{StartYear: 2020, EndYear: 2020})
	job, _ := newTestJob(t, opts, l, nil)

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	first := listExports(t, opts.ScratchDir)
	before, err := os.ReadFile(filepath.Join(opts.ScratchDir, "asrs-jan-2020.csv"))
	require.NoError(t, err)

	_, err = job.Run(context.Background())
	require.NoError(t, err)
	second := listExports(t, opts.ScratchDir)
	after, err := os.ReadFile(filepath.Join(opts.ScratchDir, "asrs-jan-2020.csv"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, second, 12)
	assert.NotEqual(t, string(before), string(after), "second run rewrites the file")

	fresh := testOptions(t, opts.Range)
	job2, _ := newTestJob(t, fresh, l, nil)
	_, err = job2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, listExports(t, fresh.ScratchDir))
}

func TestRunSkipExisting(t *testing.T) {
	l := newFakeLauncher(t)
	opts := testOptions(t, calendar.Range{StartYear: 2020, EndYear: 2020})
	opts.SkipExisting = true
	require.NoError(t, os.MkdirAll(opts.ScratchDir, 0755))
	for _, name := range []string{"asrs-jan-2020.csv", "asrs-feb-2020.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(opts.ScratchDir, name), []byte("a,b\n"), 0644))
	}
	job, w := newTestJob(t, opts, l, nil)
	job.opts.Cooldown = time.Second

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, report.Attempted())
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 10, report.Succeeded)
	assert.Equal(t, StatusSkipped, report.Outcomes[0].Status())

	launches, closes := l.counts()
	assert.Equal(t, 10, launches)
	assert.Equal(t, 10, closes)
	assert.Len(t, w.calls, 9, "no cooldown after skipped items or the last item")
}

func TestRunRejectedDownloadIsRetriedOnResume(t *testing.T) {
	l := newFakeLauncher(t)
	bad := calendar.WorkItem{Year: 2020, Month: time.February}
	l.htmlPage[bad] = true

	opts := testOptions(t, calendar.Range{StartYear: 2020, EndYear: 2020})
	require.NoError(t, os.MkdirAll(opts.ScratchDir, 0755))
	good := "ACN,Date\n1,202002\n"
	target := filepath.Join(opts.ScratchDir, bad.FileName())
	require.NoError(t, os.WriteFile(target, []byte(good), 0644))

	job, _ := newTestJob(t, opts, l, nil)
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, bad, failures[0].Item)
	assert.Equal(t, apperrors.ErrTypeDownload, failures[0].Err.Type)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, good, string(data), "rejected page must not replace the earlier export")
	assert.Len(t, listExports(t, opts.ScratchDir), 12)

	// without an earlier export the month stays missing and a resumed run retries it
	require.NoError(t, os.Remove(target))
	delete(l.htmlPage, bad)
	opts.SkipExisting = true
	resume, _ := newTestJob(t, opts, l, nil)
	before, _ := l.counts()

	report, err = resume.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11, report.Skipped)
	assert.Equal(t, 1, report.Succeeded)
	after, _ := l.counts()
	assert.Equal(t, 1, after-before)
	assert.FileExists(t, target)
}

func TestRunHTMLDownloadLeavesNoFile(t *testing.T) {
	l := newFakeLauncher(t)
	bad := calendar.WorkItem{Year: 2001, Month: time.March}
	l.htmlPage[bad] = true

	opts := testOptions(t, calendar.Range{StartYear: 2001, EndYear: 2001})
	job, _ := newTestJob(t, opts, l, nil)

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Failures(), 1)
	assert.NoFileExists(t, filepath.Join(opts.ScratchDir, bad.FileName()))
	assert.Len(t, listExports(t, opts.ScratchDir), 11)
}

func TestRunStepTimeout(t *testing.T) {
	l := newFakeLauncher(t)
	l.hangNavigate = true
	opts := testOptions(t, calendar.Range{StartYear: 2005, EndYear: 2005})
	opts.StepTimeout = 20 * time.Millisecond
	job, _ := newTestJob(t, opts, l, nil)

	done := make(chan struct{})
	var report *Report
	go func() {
		defer close(done)
		var err error
		report, err = job.Run(context.Background())
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("job hung on a stalled step")
	}

	require.Equal(t, 12, report.Failed)
	for _, o := range report.Outcomes {
		assert.Equal(t, apperrors.ErrTypeTimeout, o.Err.Type)
		assert.Equal(t, stepOpenQuery, o.Err.Context["step"])
	}

	launches, closes := l.counts()
	assert.Equal(t, 12, launches)
	assert.Equal(t, launches, closes)
}

func TestRunCooldownBetweenItems(t *testing.T) {
	l := newFakeLauncher(t)
	l.failDownload[calendar.WorkItem{Year: 2003, Month: time.June}] = browser.ErrDownloadFailed
	opts := testOptions(t, calendar.Range{StartYear: 2003, EndYear: 2003})
	opts.Cooldown = 5 * time.Second
	job, w := newTestJob(t, opts, l, nil)

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, w.calls, 11, "after every item except the last, failed or not")
	for _, d := range w.calls {
		assert.Equal(t, 5*time.Second, d)
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}

func TestRunCancelledStopsFurtherItems(t *testing.T) {
	l := newFakeLauncher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	downloads := 0
	l.onDownload = func(calendar.WorkItem) {
		downloads++
		if downloads == 2 {
			cancel()
		}
	}

	opts := testOptions(t, calendar.Range{StartYear: 2003, EndYear: 2003})
	opts.Cooldown = time.Second
	job, _ := newTestJob(t, opts, l, nil)

	report, err := job.Run(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTypeCancelled))
	assert.Equal(t, 2, report.Attempted())
	assert.False(t, report.Complete())
	assert.Equal(t, 1, report.ExitCode())

	launches, closes := l.counts()
	assert.Equal(t, 2, launches)
	assert.Equal(t, launches, closes)
}

func TestRunElementNotFound(t *testing.T) {
	l := newFakeLauncher(t)
	item := calendar.WorkItem{Year: 1995, Month: time.July}
	l.failSelect[item] = fmt.Errorf("%w: option %q", browser.ErrElementNotFound, "1995")
	job, _ := newTestJob(t, testOptions(t, calendar.Range{StartYear: 1995, EndYear: 1995}), l, nil)

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, item, failures[0].Item)
	assert.Equal(t, apperrors.ErrTypeElementNotFound, failures[0].Err.Type)
	assert.Equal(t, toYearSelect.String(), failures[0].Err.Context["selector"])
	assert.Equal(t, stepDateRange, failures[0].Err.Context["step"])
}

func TestRunLaunchFailure(t *testing.T) {
	l := newFakeLauncher(t)
	l.launchErr = errors.New("chrome not found")
	job, _ := newTestJob(t, testOptions(t, calendar.Range{StartYear: 1995, EndYear: 1995}), l, nil)

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, report.Failed)
	assert.Equal(t, apperrors.ErrTypeNavigation, report.Outcomes[0].Err.Type)
	assert.Equal(t, stepLaunch, report.Outcomes[0].Err.Context["step"])

	launches, closes := l.counts()
	assert.Zero(t, launches)
	assert.Zero(t, closes)
}

func TestRunRecoversPanic(t *testing.T) {
	l := newFakeLauncher(t)
	item := calendar.WorkItem{Year: 1995, Month: time.February}
	l.panicOnSearch[item] = true
	job, _ := newTestJob(t, testOptions(t, calendar.Range{StartYear: 1995, EndYear: 1995}), l, nil)

	report, err := job.Run(context.Background())
	require.NoError(t, err)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, item, failures[0].Item)
	assert.Equal(t, apperrors.ErrTypeInternal, failures[0].Err.Type)
	assert.Equal(t, 11, report.Succeeded)

	launches, closes := l.counts()
	assert.Equal(t, launches, closes, "session closed after panic")
}

func TestRunPublishesProgress(t *testing.T) {
	l := newFakeLauncher(t)
	l.failDownload[calendar.WorkItem{Year: 1995, Month: time.May}] = browser.ErrDownloadFailed
	tracker := NewProgressTracker()
	opts := testOptions(t, calendar.Range{StartYear: 1995, EndYear: 1995})
	job, err := New(opts, l, nil, WithProgress(tracker))
	require.NoError(t, err)
	job.wait = (&noWait{}).wait
	assert.Same(t, tracker, job.Progress())

	_, err = job.Run(context.Background())
	require.NoError(t, err)

	s := tracker.Snapshot()
	assert.Equal(t, 12, s.Total)
	assert.Equal(t, 12, s.Attempted)
	assert.Equal(t, 11, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.True(t, s.Finished)
	assert.Equal(t, 100.0, s.Percentage)
	assert.Contains(t, s.LastError, "May 1995")
}

func TestClassify(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		parent context.Context
		err    error
		kind   apperrors.ErrorType
		want   apperrors.ErrorType
	}{
		{"step kind", live, errors.New("net::ERR_NAME_NOT_RESOLVED"), apperrors.ErrTypeNavigation, apperrors.ErrTypeNavigation},
		{"deadline wins over kind", live, fmt.Errorf("wait: %w", context.DeadlineExceeded), apperrors.ErrTypeDownload, apperrors.ErrTypeTimeout},
		{"typed error kept", live, apperrors.NewElementNotFoundError("#x", nil), apperrors.ErrTypeNavigation, apperrors.ErrTypeElementNotFound},
		{"root cancellation wins", cancelled, fmt.Errorf("wait: %w", context.DeadlineExceeded), apperrors.ErrTypeDownload, apperrors.ErrTypeCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.parent, "step", tt.kind, tt.err)
			assert.Equal(t, tt.want, got.Type)
			assert.Equal(t, "step", got.Context["step"])
		})
	}
}

func TestClassifyCopiesTypedError(t *testing.T) {
	orig := apperrors.NewElementNotFoundError("#DropDownList2", nil)

	got := classify(context.Background(), stepDateRange, apperrors.ErrTypeNavigation, orig)

	assert.Equal(t, stepDateRange, got.Context["step"])
	assert.NotContains(t, orig.Context, "step")
}

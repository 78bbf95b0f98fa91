package export

import (
	"time"

	"asrsexport/internal/calendar"
	apperrors "asrsexport/internal/errors"
)

// Status values reported per item
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailure = "failure"
)

// DownloadResult describes a WorkItem whose export is on local disk.
type DownloadResult struct {
	Item      calendar.WorkItem `json:"-"`
	LocalPath string            `json:"local_path"`
	FileName  string            `json:"file_name"`
	Bytes     int64             `json:"bytes"`
	Uploaded  bool              `json:"uploaded"`
	RemoteID  string            `json:"remote_id,omitempty"`
	Skipped   bool              `json:"skipped,omitempty"`
}

// Outcome is the result of one WorkItem. Exactly one of Result and Err is
// set. UploadErr may accompany a Result when the local file was saved but
// the remote copy failed.
type Outcome struct {
	Item      calendar.WorkItem
	Result    *DownloadResult
	Err       *apperrors.AppError
	UploadErr *apperrors.AppError
	Duration  time.Duration
}

// Success builds a successful outcome
func Success(res DownloadResult) Outcome {
	return Outcome{Item: res.Item, Result: &res}
}

// Failure builds a failed outcome
func Failure(item calendar.WorkItem, err *apperrors.AppError) Outcome {
	return Outcome{Item: item, Err: err}
}

// Succeeded reports whether the item's file is on local disk
func (o Outcome) Succeeded() bool { return o.Err == nil }

// Status returns StatusSuccess, StatusSkipped or StatusFailure
func (o Outcome) Status() string {
	switch {
	case o.Err != nil:
		return StatusFailure
	case o.Result != nil && o.Result.Skipped:
		return StatusSkipped
	default:
		return StatusSuccess
	}
}

// ErrorType is the failure's type, or "" on success
func (o Outcome) ErrorType() apperrors.ErrorType {
	if o.Err == nil {
		return ""
	}
	return o.Err.Type
}

// Report is the ordered list of outcomes of one run
type Report struct {
	Outcomes       []Outcome
	Total          int
	Succeeded      int
	Skipped        int
	Failed         int
	UploadFailures int
	StartedAt      time.Time
	FinishedAt     time.Time
}

func newReport(total int) *Report {
	return &Report{
		Outcomes:  make([]Outcome, 0, total),
		Total:     total,
		StartedAt: time.Now(),
	}
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status() {
	case StatusFailure:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	default:
		r.Succeeded++
	}
	if o.UploadErr != nil {
		r.UploadFailures++
	}
}

// Attempted is the number of items that produced an outcome
func (r *Report) Attempted() int { return len(r.Outcomes) }

// Complete reports whether every item of the range was attempted
func (r *Report) Complete() bool { return len(r.Outcomes) == r.Total }

// Failures returns the failed outcomes in processing order
func (r *Report) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Duration is the wall time of the run
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExitCode is 0 when the whole range was attempted without a failure and 1
// otherwise. Upload failures do not affect it.
func (r *Report) ExitCode() int {
	if r.Failed > 0 || !r.Complete() {
		return 1
	}
	return 0
}

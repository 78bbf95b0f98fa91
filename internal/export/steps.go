package export

import (
	"context"
	"errors"
	"log/slog"

	"asrsexport/internal/browser"
	"asrsexport/internal/calendar"
	apperrors "asrsexport/internal/errors"
)

// Query wizard controls
var (
	dateRangeControl = browser.ID("2")
	fromMonthSelect  = browser.CSS("#DropDownList2")
	fromYearSelect   = browser.CSS("#DropDownList1")
	toMonthSelect    = browser.CSS("#DropDownList4")
	toYearSelect     = browser.CSS("#DropDownList3")
	submitButton     = browser.Button("Submit")
	searchButton     = browser.Button("Perform this search and go to")
	csvLink          = browser.Link("Comma Separated File(CSV)")
)

// Step names, used in logs, spans and error context
const (
	stepLaunch    = "launch"
	stepOpenQuery = "open_query"
	stepDateRange = "date_range"
	stepSearch    = "search"
	stepDownload  = "download"
	stepSave      = "save"
	stepUpload    = "upload"
)

// itemRun holds the state of one WorkItem's pipeline
type itemRun struct {
	job       *Job
	item      calendar.WorkItem
	page      browser.Page
	popup     browser.Page
	download  *browser.Download
	uploadErr *apperrors.AppError
}

// execute runs the pipeline and always closes the session it opened.
func (r *itemRun) execute(ctx context.Context) (*DownloadResult, *apperrors.AppError) {
	if err := r.step(ctx, stepLaunch, apperrors.ErrTypeNavigation, r.launch); err != nil {
		return nil, err
	}
	defer r.closeSession(ctx)

	steps := []struct {
		name string
		kind apperrors.ErrorType
		fn   func(context.Context) error
	}{
		{stepOpenQuery, apperrors.ErrTypeNavigation, r.openDateRange},
		{stepDateRange, apperrors.ErrTypeNavigation, r.setDateRange},
		{stepSearch, apperrors.ErrTypeNavigation, r.search},
		{stepDownload, apperrors.ErrTypeDownload, r.captureDownload},
	}
	for _, s := range steps {
		if err := r.step(ctx, s.name, s.kind, s.fn); err != nil {
			return nil, err
		}
	}

	saved, err := r.job.files.Persist(r.download.Path, r.item.FileName())
	if err != nil {
		return nil, classify(ctx, stepSave, apperrors.ErrTypeDownload, err)
	}

	res := &DownloadResult{
		Item:      r.item,
		LocalPath: saved.Path,
		FileName:  saved.Name,
		Bytes:     saved.Bytes,
	}

	if r.job.opts.Upload {
		r.upload(ctx, res)
	}

	return res, nil
}

// step runs fn under the per-step timeout inside its own span.
func (r *itemRun) step(ctx context.Context, name string, kind apperrors.ErrorType, fn func(context.Context) error) *apperrors.AppError {
	stepCtx, span := r.job.tracer.TraceStep(ctx, name)
	defer span.End()
	stepCtx, cancel := context.WithTimeout(stepCtx, r.job.opts.StepTimeout)
	defer cancel()

	r.job.logger.DebugContext(ctx, "export step",
		slog.String("item", r.item.String()),
		slog.String("step", name))

	if err := fn(stepCtx); err != nil {
		appErr := classify(ctx, name, kind, err)
		span.RecordError(appErr)
		return appErr
	}
	return nil
}

func (r *itemRun) launch(ctx context.Context) error {
	page, err := r.job.launcher.Launch(ctx)
	if err != nil {
		return err
	}
	r.page = page
	return nil
}

// openDateRange loads the query wizard and opens the date-range dialog.
func (r *itemRun) openDateRange(ctx context.Context) error {
	if err := r.page.Navigate(ctx, r.job.opts.QueryURL); err != nil {
		return err
	}
	popup, err := r.page.ClickForPopup(ctx, dateRangeControl)
	if err != nil {
		return lookupErr(dateRangeControl, err)
	}
	r.popup = popup
	return nil
}

// setDateRange limits the query to the item's month and closes the dialog.
func (r *itemRun) setDateRange(ctx context.Context) error {
	choices := []struct {
		sel    browser.Selector
		option string
	}{
		{fromMonthSelect, r.item.MonthLabel()},
		{fromYearSelect, r.item.YearLabel()},
		{toMonthSelect, r.item.MonthLabel()},
		{toYearSelect, r.item.YearLabel()},
	}
	for _, c := range choices {
		if err := r.popup.SelectOption(ctx, c.sel, c.option); err != nil {
			return lookupErr(c.sel, err)
		}
	}
	if err := r.popup.Click(ctx, submitButton); err != nil {
		return lookupErr(submitButton, err)
	}
	r.closePopup(ctx)
	return nil
}

// search reloads the wizard, which now carries the date filter, and runs it.
func (r *itemRun) search(ctx context.Context) error {
	if err := r.page.Navigate(ctx, r.job.opts.QueryURL); err != nil {
		return err
	}
	return lookupErr(searchButton, r.page.Click(ctx, searchButton))
}

func (r *itemRun) captureDownload(ctx context.Context) error {
	dl, err := r.page.ClickForDownload(ctx, csvLink)
	if err != nil {
		return lookupErr(csvLink, err)
	}
	r.download = dl
	return nil
}

// upload mirrors the saved file. A failure is kept on the run and never
// fails the item.
func (r *itemRun) upload(ctx context.Context, res *DownloadResult) {
	err := r.step(ctx, stepUpload, apperrors.ErrTypeUpload, func(stepCtx context.Context) error {
		id, err := r.job.uploader.Upload(stepCtx, res.LocalPath, res.FileName, r.job.opts.FolderID)
		if err != nil {
			return err
		}
		res.Uploaded = true
		res.RemoteID = id
		return nil
	})
	if err != nil {
		r.uploadErr = err
	}
}

func (r *itemRun) closePopup(ctx context.Context) {
	if r.popup == nil {
		return
	}
	if err := r.popup.Close(); err != nil {
		// the dialog usually closes itself after Submit
		r.job.logger.DebugContext(ctx, "close popup", slog.String("error", err.Error()))
	}
	r.popup = nil
}

func (r *itemRun) closeSession(ctx context.Context) {
	r.closePopup(ctx)
	if err := r.page.Close(); err != nil {
		r.job.logger.WarnContext(ctx, "failed to close browser session",
			slog.String("item", r.item.String()),
			slog.String("error", err.Error()))
	}
}

// lookupErr turns a failed element lookup into an ELEMENT_NOT_FOUND error
func lookupErr(sel browser.Selector, err error) error {
	if err != nil && errors.Is(err, browser.ErrElementNotFound) {
		return apperrors.NewElementNotFoundError(sel.String(), err)
	}
	return err
}

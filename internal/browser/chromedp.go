package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/errgroup"

	"asrsexport/internal/infrastructure"
)

// DefaultElementTimeout bounds how long a lookup waits for an element to
// become visible before reporting ErrElementNotFound.
const DefaultElementTimeout = 30 * time.Second

// ChromeLauncher starts a new Chrome process for every session.
type ChromeLauncher struct {
	Headless       bool
	ElementTimeout time.Duration
	// ExecPath overrides the Chrome binary; empty uses chromedp's lookup.
	ExecPath string
	logger   *slog.Logger
}

// NewChromeLauncher creates a launcher for headless or headed Chrome
func NewChromeLauncher(headless bool, logger *slog.Logger) *ChromeLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeLauncher{
		Headless:       headless,
		ElementTimeout: DefaultElementTimeout,
		logger:         infrastructure.WithComponent(logger, "browser"),
	}
}

// Launch starts Chrome with downloads enabled into a private directory.
func (l *ChromeLauncher) Launch(ctx context.Context) (Page, error) {
	downloadDir, err := os.MkdirTemp("", "asrs-download-")
	if err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Headless),
	)
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}

	// The browser must outlive the per-step deadline on ctx, so only its
	// values are inherited.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			l.logger.Debug("chromedp", slog.String("detail", fmt.Sprintf(format, args...)))
		}),
	)

	p := &chromePage{
		ctx:            tabCtx,
		cancel:         tabCancel,
		allocCancel:    allocCancel,
		downloadDir:    downloadDir,
		elementTimeout: l.elementTimeout(),
		events:         make(chan downloadEvent, 64),
		root:           true,
		logger:         l.logger,
	}
	p.listenDownloads()

	err = p.attach(ctx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	l.logger.DebugContext(ctx, "browser session started", slog.String("download_dir", downloadDir))
	return p, nil
}

func (l *ChromeLauncher) elementTimeout() time.Duration {
	if l.ElementTimeout <= 0 {
		return DefaultElementTimeout
	}
	return l.ElementTimeout
}

type downloadEvent struct {
	guid      string
	suggested string
	begun     bool
	completed bool
	canceled  bool
	bytes     int64
}

type chromePage struct {
	ctx            context.Context
	cancel         context.CancelFunc
	allocCancel    context.CancelFunc
	downloadDir    string
	elementTimeout time.Duration
	events         chan downloadEvent
	root           bool
	logger         *slog.Logger
}

// attach performs the first Run on the page context. chromedp ties the
// tab's lifetime to the context of its first Run, so the caller's deadline
// is enforced by select rather than by deriving from ctx.
func (p *chromePage) attach(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.ctx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// scope derives a context from the page that also ends when ctx ends.
func (p *chromePage) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// callerErr prefers the caller's own context error over one derived from it.
func callerErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := p.scope(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return callerErr(ctx, fmt.Errorf("navigate to %s: %w", url, err))
	}
	return nil
}

// waitFor blocks until sel is visible, giving up after elementTimeout.
func (p *chromePage) waitFor(ctx context.Context, sel Selector) error {
	runCtx, cancel := p.scope(ctx)
	defer cancel()
	lookupCtx, cancelLookup := context.WithTimeout(runCtx, p.elementTimeout)
	defer cancelLookup()

	query, opts := queryFor(sel)
	err := chromedp.Run(lookupCtx, chromedp.WaitVisible(query, opts...))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return callerErr(ctx, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrElementNotFound, sel)
	}
	return err
}

func (p *chromePage) click(ctx context.Context, sel Selector) error {
	if err := p.waitFor(ctx, sel); err != nil {
		return err
	}
	runCtx, cancel := p.scope(ctx)
	defer cancel()

	query, opts := queryFor(sel)
	if err := chromedp.Run(runCtx, chromedp.Click(query, append(opts, chromedp.NodeVisible)...)); err != nil {
		return callerErr(ctx, fmt.Errorf("click %s: %w", sel, err))
	}
	return nil
}

func (p *chromePage) Click(ctx context.Context, sel Selector) error {
	return p.click(ctx, sel)
}

func (p *chromePage) SelectOption(ctx context.Context, sel Selector, option string) error {
	css, ok := cssFor(sel)
	if !ok {
		return fmt.Errorf("select option: %s is not addressable by CSS", sel)
	}
	if err := p.waitFor(ctx, sel); err != nil {
		return err
	}
	runCtx, cancel := p.scope(ctx)
	defer cancel()

	var matched bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(selectOptionScript(css, option), &matched)); err != nil {
		return callerErr(ctx, fmt.Errorf("select %q in %s: %w", option, sel, err))
	}
	if !matched {
		return fmt.Errorf("%w: option %q in %s", ErrElementNotFound, option, sel)
	}
	return nil
}

func (p *chromePage) ClickForPopup(ctx context.Context, sel Selector) (Page, error) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return nil, fmt.Errorf("click for popup: page is not attached")
	}
	opener := c.Target.TargetID

	popups := chromedp.WaitNewTarget(p.ctx, func(info *target.Info) bool {
		return info.Type == "page" && info.OpenerID == opener
	})

	if err := p.click(ctx, sel); err != nil {
		return nil, err
	}

	select {
	case id := <-popups:
		popupCtx, popupCancel := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
		popup := &chromePage{
			ctx:            popupCtx,
			cancel:         popupCancel,
			elementTimeout: p.elementTimeout,
			events:         make(chan downloadEvent, 64),
			logger:         p.logger,
		}
		if err := popup.attach(ctx); err != nil {
			popup.Close()
			return nil, fmt.Errorf("attach popup: %w", err)
		}
		return popup, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNoPopup, ctx.Err())
	}
}

func (p *chromePage) ClickForDownload(ctx context.Context, sel Selector) (*Download, error) {
	if p.downloadDir == "" {
		return nil, fmt.Errorf("click for download: downloads are not enabled on this page")
	}
	p.drainEvents()

	var ev downloadEvent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.click(gctx, sel)
	})
	g.Go(func() error {
		var err error
		ev, err = p.awaitDownload(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	path := filepath.Join(p.downloadDir, ev.guid)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	return &Download{
		Path:              path,
		SuggestedFilename: ev.suggested,
		Bytes:             info.Size(),
	}, nil
}

func (p *chromePage) listenDownloads() {
	chromedp.ListenTarget(p.ctx, func(v interface{}) {
		var ev downloadEvent
		switch e := v.(type) {
		case *cdpbrowser.EventDownloadWillBegin:
			ev = downloadEvent{guid: e.GUID, suggested: e.SuggestedFilename, begun: true}
		case *cdpbrowser.EventDownloadProgress:
			switch e.State {
			case cdpbrowser.DownloadProgressStateCompleted:
				ev = downloadEvent{guid: e.GUID, completed: true, bytes: int64(e.ReceivedBytes)}
			case cdpbrowser.DownloadProgressStateCanceled:
				ev = downloadEvent{guid: e.GUID, canceled: true}
			default:
				return
			}
		default:
			return
		}
		// the listener runs on chromedp's event loop and must not block
		select {
		case p.events <- ev:
		default:
			p.logger.Warn("download event dropped", slog.String("guid", ev.guid))
		}
	})
}

func (p *chromePage) drainEvents() {
	for {
		select {
		case <-p.events:
		default:
			return
		}
	}
}

// awaitDownload waits for the first download to begin and then complete.
func (p *chromePage) awaitDownload(ctx context.Context) (downloadEvent, error) {
	var started downloadEvent
	for {
		select {
		case ev := <-p.events:
			switch {
			case ev.begun:
				if started.guid == "" {
					started = ev
				}
			case started.guid != "" && ev.guid != started.guid:
				continue
			case ev.canceled:
				return ev, fmt.Errorf("%w: browser cancelled %s", ErrDownloadFailed, ev.guid)
			case ev.completed:
				ev.suggested = started.suggested
				return ev, nil
			}
		case <-ctx.Done():
			if started.guid == "" {
				return downloadEvent{}, fmt.Errorf("waiting for download to start: %w", ctx.Err())
			}
			return downloadEvent{}, fmt.Errorf("waiting for download %s to finish: %w", started.guid, ctx.Err())
		}
	}
}

// Close closes the tab; for the session's first page it also stops Chrome
// and removes the download directory.
func (p *chromePage) Close() error {
	var err error
	if p.ctx != nil {
		if cerr := chromedp.Cancel(p.ctx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = cerr
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.root {
		if p.allocCancel != nil {
			p.allocCancel()
		}
		if p.downloadDir != "" {
			if rerr := os.RemoveAll(p.downloadDir); rerr != nil && err == nil {
				err = rerr
			}
		}
	}
	return err
}

// queryFor translates a Selector into a chromedp query.
func queryFor(sel Selector) (string, []chromedp.QueryOption) {
	switch sel.Kind {
	case ByID:
		css, _ := cssFor(sel)
		return css, []chromedp.QueryOption{chromedp.ByQuery}
	case ByButton:
		lit := xpathLiteral(sel.Value)
		return fmt.Sprintf(`//button[contains(normalize-space(.), %s)] | //input[(@type="submit" or @type="button") and contains(@value, %s)]`, lit, lit),
			[]chromedp.QueryOption{chromedp.BySearch}
	case ByLink:
		return fmt.Sprintf(`//a[contains(normalize-space(.), %s)]`, xpathLiteral(sel.Value)),
			[]chromedp.QueryOption{chromedp.BySearch}
	default:
		return sel.Value, []chromedp.QueryOption{chromedp.ByQuery}
	}
}

// cssFor returns a CSS query for ID and CSS selectors. Ids are matched by
// attribute so values such as "2" need no escaping.
func cssFor(sel Selector) (string, bool) {
	switch sel.Kind {
	case ByID:
		quoted, _ := json.Marshal(sel.Value)
		return fmt.Sprintf(`[id=%s]`, quoted), true
	case ByCSS:
		return sel.Value, true
	default:
		return "", false
	}
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = `"` + part + `"`
	}
	return `concat(` + strings.Join(quoted, `, '"', `) + `)`
}

// selectOptionScript sets a <select> to the option whose value or trimmed
// label equals option and fires the change event the page listens for.
func selectOptionScript(css, option string) string {
	q, _ := json.Marshal(css)
	o, _ := json.Marshal(option)
	return fmt.Sprintf(`(function(query, wanted) {
	const el = document.querySelector(query);
	if (!el || !el.options) return false;
	for (const opt of el.options) {
		if (opt.value === wanted || opt.text.trim() === wanted) {
			el.value = opt.value;
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return true;
		}
	}
	return false;
})(%s, %s)`, q, o)
}

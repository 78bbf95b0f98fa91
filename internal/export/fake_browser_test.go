package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"asrsexport/internal/browser"
	"asrsexport/internal/calendar"
)

// fakeLauncher simulates the query wizard. Each session remembers the
// month and year chosen in the date-range dialog and produces a CSV for
// them when the download link is clicked.
type fakeLauncher struct {
	t   *testing.T
	dir string

	mu       sync.Mutex
	launches int
	closes   int
	selected []string

	launchErr     error
	failDownload  map[calendar.WorkItem]error
	failSelect    map[calendar.WorkItem]error
	hangNavigate  bool
	panicOnSearch map[calendar.WorkItem]bool
	// htmlPage items download an error page instead of CSV
	htmlPage map[calendar.WorkItem]bool
	// onDownload runs after a file has been produced
	onDownload func(item calendar.WorkItem)
}

func newFakeLauncher(t *testing.T) *fakeLauncher {
	return &fakeLauncher{
		t:             t,
		dir:           t.TempDir(),
		failDownload:  map[calendar.WorkItem]error{},
		failSelect:    map[calendar.WorkItem]error{},
		panicOnSearch: map[calendar.WorkItem]bool{},
		htmlPage:      map[calendar.WorkItem]bool{},
	}
}

func (l *fakeLauncher) Launch(ctx context.Context) (browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.launches++
	s := &fakeSession{launcher: l, id: l.launches}
	return &fakePage{session: s, root: true}, nil
}

func (l *fakeLauncher) counts() (launches, closes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches, l.closes
}

type fakeSession struct {
	launcher *fakeLauncher
	id       int
	fromMon  string
	fromYear string
	toMon    string
	toYear   string
	applied  bool
	closed   bool
}

// item is the WorkItem the dialog was filled in for
func (s *fakeSession) item() (calendar.WorkItem, bool) {
	if s.fromMon != s.toMon || s.fromYear != s.toYear {
		return calendar.WorkItem{}, false
	}
	for _, m := range calendar.Months {
		if m.String() == s.fromMon {
			var year int
			fmt.Sscanf(s.fromYear, "%d", &year)
			return calendar.WorkItem{Year: year, Month: m}, true
		}
	}
	return calendar.WorkItem{}, false
}

type fakePage struct {
	session *fakeSession
	root    bool
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.session.launcher.hangNavigate {
		<-ctx.Done()
		return fmt.Errorf("navigate %s: %w", url, ctx.Err())
	}
	return nil
}

func (p *fakePage) Click(ctx context.Context, sel browser.Selector) error {
	s := p.session
	switch sel {
	case submitButton:
		s.applied = true
	case searchButton:
		item, _ := s.item()
		if s.launcher.panicOnSearch[item] {
			panic("renderer crashed")
		}
	default:
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, sel)
	}
	return nil
}

func (p *fakePage) SelectOption(ctx context.Context, sel browser.Selector, option string) error {
	s := p.session
	switch sel {
	case fromMonthSelect:
		s.fromMon = option
	case fromYearSelect:
		s.fromYear = option
	case toMonthSelect:
		s.toMon = option
	case toYearSelect:
		s.toYear = option
		if item, ok := s.item(); ok {
			if err := s.launcher.failSelect[item]; err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, sel)
	}
	s.launcher.mu.Lock()
	s.launcher.selected = append(s.launcher.selected, option)
	s.launcher.mu.Unlock()
	return nil
}

func (p *fakePage) ClickForPopup(ctx context.Context, sel browser.Selector) (browser.Page, error) {
	if sel != dateRangeControl {
		return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, sel)
	}
	return &fakePage{session: p.session}, nil
}

func (p *fakePage) ClickForDownload(ctx context.Context, sel browser.Selector) (*browser.Download, error) {
	s := p.session
	if sel != csvLink {
		return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, sel)
	}
	item, ok := s.item()
	if !ok || !s.applied {
		return nil, fmt.Errorf("%w: no date range applied", browser.ErrDownloadFailed)
	}
	if err := s.launcher.failDownload[item]; err != nil {
		return nil, err
	}

	path := filepath.Join(s.launcher.dir, fmt.Sprintf("guid-%d", s.id))
	content := fmt.Sprintf("ACN,Date,Session\n1,%04d%02d,%d\n", item.Year, int(item.Month), s.id)
	if s.launcher.htmlPage[item] {
		content = "<!DOCTYPE html><html><body>Runtime Error</body></html>"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, err
	}
	if s.launcher.onDownload != nil {
		s.launcher.onDownload(item)
	}
	return &browser.Download{Path: path, SuggestedFilename: "ASRS_DBOnline.csv", Bytes: int64(len(content))}, nil
}

func (p *fakePage) Close() error {
	if !p.root {
		return nil
	}
	s := p.session
	if s.closed {
		s.launcher.t.Errorf("session %d closed twice", s.id)
	}
	s.closed = true
	s.launcher.mu.Lock()
	s.launcher.closes++
	s.launcher.mu.Unlock()
	return nil
}

// fakeUploader records upload calls
type fakeUploader struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (u *fakeUploader) Upload(ctx context.Context, localPath, fileName, folderID string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, folderID+"/"+fileName)
	if u.err != nil {
		return "", u.err
	}
	return fmt.Sprintf("remote-%d", len(u.calls)), nil
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

// Package browser defines the browser collaborator used by the export job
// and its chromedp implementation.
//
// A Launcher opens one isolated Page per call. Everything the page touches
// (cookies, history, popups, downloads) is discarded when the page returned
// by Launch is closed.
package browser

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrElementNotFound is returned when a selector matches nothing in time.
	ErrElementNotFound = errors.New("element not found")
	// ErrNoPopup is returned when a click did not open a new window.
	ErrNoPopup = errors.New("popup did not open")
	// ErrDownloadFailed is returned when a started download did not complete.
	ErrDownloadFailed = errors.New("download did not complete")
)

// SelectorKind tells the implementation how to resolve a Selector.
type SelectorKind int

const (
	// ByCSS matches a CSS selector.
	ByCSS SelectorKind = iota
	// ByID matches the element whose id attribute equals Value exactly.
	ByID
	// ByButton matches a button or submit input whose label contains Value.
	ByButton
	// ByLink matches an anchor whose text contains Value.
	ByLink
)

// Selector locates one element on a page.
type Selector struct {
	Kind  SelectorKind
	Value string
}

// CSS returns a CSS selector.
func CSS(query string) Selector { return Selector{Kind: ByCSS, Value: query} }

// ID returns a selector matching the element with the given id.
func ID(id string) Selector { return Selector{Kind: ByID, Value: id} }

// Button returns a selector matching a button by its accessible label.
func Button(label string) Selector { return Selector{Kind: ByButton, Value: label} }

// Link returns a selector matching a link by its text.
func Link(text string) Selector { return Selector{Kind: ByLink, Value: text} }

func (s Selector) String() string {
	switch s.Kind {
	case ByID:
		return fmt.Sprintf("[id=%q]", s.Value)
	case ByButton:
		return fmt.Sprintf("button %q", s.Value)
	case ByLink:
		return fmt.Sprintf("link %q", s.Value)
	default:
		return s.Value
	}
}

// Download describes a captured file download. Path points into a
// session-owned directory and is only valid until the session closes.
type Download struct {
	Path              string
	SuggestedFilename string
	Bytes             int64
}

// Page is one browser tab. Every method blocks until the action completes,
// the element lookup gives up, or ctx is done.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, sel Selector) error
	// SelectOption picks the option of a <select> whose label or value equals option.
	SelectOption(ctx context.Context, sel Selector, option string) error
	// ClickForPopup clicks sel and returns the window it opens.
	ClickForPopup(ctx context.Context, sel Selector) (Page, error)
	// ClickForDownload clicks sel while waiting for the download it starts.
	ClickForDownload(ctx context.Context, sel Selector) (*Download, error)
	// Close releases the page. Closing the page returned by Launch ends the session.
	Close() error
}

// Launcher opens isolated browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}

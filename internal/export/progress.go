package export

import (
	"fmt"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of a run's progress
type Snapshot struct {
	Total          int       `json:"total"`
	Attempted      int       `json:"attempted"`
	Succeeded      int       `json:"succeeded"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	UploadFailures int       `json:"upload_failures"`
	Current        string    `json:"current,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	Finished       bool      `json:"finished"`
	Percentage     float64   `json:"percentage"`
	ETA            string    `json:"eta"`
}

// ProgressTracker tracks a run for concurrent readers such as the status endpoint
type ProgressTracker struct {
	mu sync.Mutex
	s  Snapshot
}

// NewProgressTracker creates an idle tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{}
}

// Start resets the tracker for a run of total items
func (p *ProgressTracker) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.s = Snapshot{Total: total, StartedAt: time.Now()}
}

// Begin marks item as in flight
func (p *ProgressTracker) Begin(item string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.s.Current = item
}

// Record counts a finished outcome
func (p *ProgressTracker) Record(o Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.s.Attempted++
	p.s.Current = ""
	switch o.Status() {
	case StatusFailure:
		p.s.Failed++
		p.s.LastError = fmt.Sprintf("%s: %v", o.Item, o.Err)
	case StatusSkipped:
		p.s.Skipped++
	default:
		p.s.Succeeded++
	}
	if o.UploadErr != nil {
		p.s.UploadFailures++
	}
}

// Finish marks the run as over
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.s.Finished = true
	p.s.Current = ""
}

// Snapshot returns the current state with percentage and ETA filled in
func (p *ProgressTracker) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.s
	if s.Total > 0 {
		s.Percentage = float64(s.Attempted) / float64(s.Total) * 100
	}
	s.ETA = eta(s)
	return s
}

// eta extrapolates the remaining time from the average pace so far
func eta(s Snapshot) string {
	if s.Finished {
		return "done"
	}
	if s.Attempted == 0 || s.Total == 0 || s.StartedAt.IsZero() {
		return "calculating..."
	}

	elapsed := time.Since(s.StartedAt)
	rate := float64(s.Attempted) / elapsed.Seconds()
	if rate == 0 {
		return "calculating..."
	}

	remaining := float64(s.Total-s.Attempted) / rate
	switch {
	case remaining < 60:
		return fmt.Sprintf("%.0f seconds", remaining)
	case remaining < 3600:
		return fmt.Sprintf("%.1f minutes", remaining/60)
	default:
		return fmt.Sprintf("%.1f hours", remaining/3600)
	}
}

package operations

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker tracks finished steps of one operation and estimates the
// time left from the average step duration so far.
type ProgressTracker struct {
	mu        sync.Mutex
	total     int
	current   int
	startTime time.Time
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(total int) *ProgressTracker {
	return &ProgressTracker{
		total:     total,
		startTime: time.Now(),
	}
}

// Increment records one finished step
func (p *ProgressTracker) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current < p.total {
		p.current++
	}
}

// Percentage returns the finished share of steps in [0, 100]
func (p *ProgressTracker) Percentage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total == 0 {
		return 100
	}
	return float64(p.current) / float64(p.total) * 100
}

// GetETA estimates the time remaining
func (p *ProgressTracker) GetETA() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == 0 || p.total == 0 {
		return "calculating..."
	}
	perStep := time.Since(p.startTime) / time.Duration(p.current)
	return formatDuration(perStep * time.Duration(p.total-p.current))
}

// IsComplete returns true once every step has finished
func (p *ProgressTracker) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current >= p.total
}

// GetElapsedTime returns the elapsed time since start
func (p *ProgressTracker) GetElapsedTime() time.Duration {
	return time.Since(p.startTime)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1f minutes", d.Minutes())
	default:
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
}

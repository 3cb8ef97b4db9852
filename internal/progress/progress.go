// Package progress reports analysis progress on standard error.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Tracker wraps a progress bar counting translation units or workers.
type Tracker struct {
	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	w      io.Writer
	label  string
	failed int
}

// NewTracker creates a progress bar on stderr with the given label and
// total count.
func NewTracker(label string, total int) *Tracker {
	return NewWriterTracker(os.Stderr, label, total)
}

// NewWriterTracker creates a progress bar that draws on w.
func NewWriterTracker(w io.Writer, label string, total int) *Tracker {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(label),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &Tracker{bar: bar, w: w, label: label}
}

// Tick increments the progress by 1. Safe for concurrent use.
func (t *Tracker) Tick() {
	t.bar.Add(1)
}

// TickResult ticks and counts err as a failure when non-nil.
func (t *Tracker) TickResult(err error) {
	if err != nil {
		t.mu.Lock()
		t.failed++
		t.mu.Unlock()
	}
	t.Tick()
}

// Failed returns how many results were ticked with an error.
func (t *Tracker) Failed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// FinishSuccess clears the bar. Failures counted by TickResult are
// reported in one line.
func (t *Tracker) FinishSuccess() {
	t.bar.Finish()
	t.bar.Clear()
	if n := t.Failed(); n > 0 {
		fmt.Fprintf(t.w, "  %s: %d failed\n", t.label, n)
	}
}

// FinishError clears the bar and prints an error message.
func (t *Tracker) FinishError(err error) {
	t.bar.Finish()
	t.bar.Clear()
	fmt.Fprintf(t.w, "  %s error: %v\n", t.label, err)
}

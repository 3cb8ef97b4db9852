// Package fileproc partitions translation units across worker processes and
// supervises those processes until every one of them has exited.
package fileproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// DefaultKillGrace is how long an interrupted worker has to exit before it
// is killed.
const DefaultKillGrace = 5 * time.Second

const stderrTail = 4096

// Launcher builds the command for one slice. The command must be created
// with exec.CommandContext(ctx, ...) so that cancellation reaches it.
type Launcher func(ctx context.Context, slice int) *exec.Cmd

// PoolOptions configures RunWorkers.
type PoolOptions struct {
	// Timeout bounds each worker's run time. Zero means no limit.
	Timeout time.Duration
	// KillGrace is the delay between SIGINT and SIGKILL.
	KillGrace time.Duration
	// Stderr, when set, also receives every worker's standard error.
	Stderr io.Writer
	Logger zerolog.Logger
	// OnExit is called as each worker exits. It may be called concurrently.
	OnExit func(Status)
}

// Status is how one worker process ended.
type Status struct {
	Slice    int
	PID      int
	ExitCode int
	Signal   string
	TimedOut bool
	Duration time.Duration
	Stderr   string
	Err      error
}

func (s Status) OK() bool { return s.Err == nil }

// WorkerError represents a worker that did not exit cleanly.
type WorkerError struct {
	Status
}

func (e *WorkerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "worker %d", e.Slice)
	if e.PID > 0 {
		fmt.Fprintf(&b, " (pid %d)", e.PID)
	}
	switch {
	case e.TimedOut:
		fmt.Fprintf(&b, " timed out after %s", e.Duration.Round(time.Millisecond))
	case e.Signal != "":
		fmt.Fprintf(&b, " killed by %s", e.Signal)
	case e.ExitCode > 0:
		fmt.Fprintf(&b, " exited with status %d", e.ExitCode)
	default:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if line := lastLine(e.Stderr); line != "" {
		fmt.Fprintf(&b, ": %s", line)
	}
	return b.String()
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// WorkerErrors collects worker failures.
type WorkerErrors struct {
	Errors []*WorkerError
	mu     sync.Mutex
}

// Add appends a failure (thread-safe).
func (e *WorkerErrors) Add(s Status) {
	e.mu.Lock()
	e.Errors = append(e.Errors, &WorkerError{Status: s})
	e.mu.Unlock()
}

// HasErrors returns true if any failures were collected.
func (e *WorkerErrors) HasErrors() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Errors) > 0
}

// Slices returns the failed slice indexes in ascending order.
func (e *WorkerErrors) Slices() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(e.Errors))
	for i, w := range e.Errors {
		out[i] = w.Slice
	}
	sort.Ints(out)
	return out
}

// Unwrap exposes each failure to errors.Is and errors.As.
func (e *WorkerErrors) Unwrap() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]error, len(e.Errors))
	for i, w := range e.Errors {
		out[i] = w
	}
	return out
}

func (e *WorkerErrors) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d workers failed (first: %v)", len(e.Errors), e.Errors[0])
}

// RunWorkers starts one process per slice and waits for all of them. The
// processes share a process group; cancelling ctx interrupts the whole
// group and escalates to SIGKILL after KillGrace. Statuses are returned in
// slice order. A worker that cannot be started gets a failed status.
func RunWorkers(ctx context.Context, slices int, launch Launcher, opts PoolOptions) ([]Status, *WorkerErrors) {
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	group := &processGroup{}
	errs := &WorkerErrors{}

	p := pool.NewWithResults[Status]()
	for i := 0; i < slices; i++ {
		w, err := start(ctx, i, launch, group, opts)
		if err != nil {
			s := Status{Slice: i, ExitCode: -1, Err: fmt.Errorf("failed to start worker: %w", err)}
			opts.Logger.Error().Err(err).Int("slice", i).Msg("worker failed to start")
			if opts.OnExit != nil {
				opts.OnExit(s)
			}
			p.Go(func() Status { return s })
			continue
		}
		p.Go(func() Status {
			s := w.wait(ctx)
			if opts.OnExit != nil {
				opts.OnExit(s)
			}
			return s
		})
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			opts.Logger.Warn().Msg("interrupting worker processes")
			if err := group.interrupt(); err != nil {
				opts.Logger.Debug().Err(err).Msg("signal worker group")
			}
		case <-done:
		}
	}()

	statuses := p.Wait()
	close(done)

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Slice < statuses[j].Slice })
	for _, s := range statuses {
		if !s.OK() {
			errs.Add(s)
		}
	}
	if !errs.HasErrors() {
		return statuses, nil
	}
	return statuses, errs
}

type worker struct {
	slice  int
	cmd    *exec.Cmd
	cancel context.CancelFunc
	wctx   context.Context
	stderr *tailBuffer
	start  time.Time
	log    zerolog.Logger
}

func start(ctx context.Context, slice int, launch Launcher, group *processGroup, opts PoolOptions) (*worker, error) {
	// a leader that already exited leaves no group to join; retry once as a
	// new leader
	for attempt := 0; ; attempt++ {
		var (
			wctx   context.Context
			cancel context.CancelFunc
		)
		if opts.Timeout > 0 {
			wctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		} else {
			wctx, cancel = context.WithCancel(ctx)
		}
		cmd := launch(wctx, slice)
		tail := &tailBuffer{max: stderrTail}
		if opts.Stderr != nil {
			cmd.Stderr = io.MultiWriter(tail, opts.Stderr)
		} else {
			cmd.Stderr = tail
		}
		cmd.Cancel = func() error { return interrupt(cmd) }
		cmd.WaitDelay = opts.KillGrace
		leader := group.prepare(cmd, attempt > 0)

		if err := cmd.Start(); err != nil {
			cancel()
			if attempt == 0 && !leader {
				continue
			}
			return nil, err
		}
		if leader {
			group.lead(cmd.Process.Pid)
		}
		opts.Logger.Debug().Int("slice", slice).Int("pid", cmd.Process.Pid).Msg("worker started")
		return &worker{
			slice:  slice,
			cmd:    cmd,
			cancel: cancel,
			wctx:   wctx,
			stderr: tail,
			start:  time.Now(),
			log:    opts.Logger,
		}, nil
	}
}

func (w *worker) wait(parent context.Context) Status {
	err := w.cmd.Wait()
	timedOut := errors.Is(w.wctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
	w.cancel()

	s := Status{
		Slice:    w.slice,
		PID:      w.cmd.Process.Pid,
		Duration: time.Since(w.start),
		Stderr:   w.stderr.String(),
		TimedOut: timedOut,
	}
	if ps := w.cmd.ProcessState; ps != nil {
		s.ExitCode = ps.ExitCode()
		s.Signal = exitSignal(ps)
	}
	switch {
	case timedOut:
		s.Err = context.DeadlineExceeded
	case parent.Err() != nil && err != nil:
		s.Err = parent.Err()
	case err != nil:
		s.Err = err
	}

	ev := w.log.Debug()
	if s.Err != nil {
		ev = w.log.Warn().Err(s.Err)
	}
	ev.Int("slice", s.Slice).Int("pid", s.PID).Int("exit_code", s.ExitCode).
		Str("signal", s.Signal).Dur("duration", s.Duration).Msg("worker exited")
	return s
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

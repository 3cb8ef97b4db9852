//go:build unix

package fileproc

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// processGroup puts every worker into the first worker's process group so
// one signal reaches all of them and the compilers they spawn.
type processGroup struct {
	mu   sync.Mutex
	pgid int
}

// prepare sets the process attributes for cmd and reports whether cmd will
// lead a new group.
func (g *processGroup) prepare(cmd *exec.Cmd, newLeader bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	pgid := g.pgid
	if newLeader {
		pgid = 0
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.SysProcAttr.Pgid = pgid
	return pgid == 0
}

func (g *processGroup) lead(pid int) {
	g.mu.Lock()
	g.pgid = pid
	g.mu.Unlock()
}

// interrupt sends SIGINT to the whole group.
func (g *processGroup) interrupt() error {
	g.mu.Lock()
	pgid := g.pgid
	g.mu.Unlock()
	if pgid == 0 {
		return nil
	}
	err := unix.Kill(-pgid, unix.SIGINT)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// interrupt asks one worker to stop.
func interrupt(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Signal(os.Interrupt)
	if errors.Is(err, os.ErrProcessDone) {
		return os.ErrProcessDone
	}
	return err
}

func exitSignal(ps *os.ProcessState) string {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal().String()
	}
	return ""
}

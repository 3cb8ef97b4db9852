//go:build !unix

package fileproc

import (
	"errors"
	"os"
	"os/exec"
	"sync"
)

// processGroup tracks workers individually where process groups are not
// available; interrupting the group kills each worker.
type processGroup struct {
	mu   sync.Mutex
	cmds []*exec.Cmd
}

func (g *processGroup) prepare(cmd *exec.Cmd, newLeader bool) bool {
	g.mu.Lock()
	g.cmds = append(g.cmds, cmd)
	g.mu.Unlock()
	return false
}

func (g *processGroup) lead(pid int) {}

func (g *processGroup) interrupt() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs []error
	for _, cmd := range g.cmds {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func interrupt(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func exitSignal(ps *os.ProcessState) string {
	return ""
}

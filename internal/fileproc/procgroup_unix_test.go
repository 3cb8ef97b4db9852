//go:build unix

package fileproc

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessGroupPrepare(t *testing.T) {
	g := &processGroup{}

	first := exec.Command("true")
	assert.True(t, g.prepare(first, false))
	g.lead(4242)

	second := exec.Command("true")
	assert.False(t, g.prepare(second, false))
	assert.Equal(t, 4242, second.SysProcAttr.Pgid)
	assert.True(t, second.SysProcAttr.Setpgid)

	retry := exec.Command("true")
	assert.True(t, g.prepare(retry, true))
	assert.Zero(t, retry.SysProcAttr.Pgid)
}

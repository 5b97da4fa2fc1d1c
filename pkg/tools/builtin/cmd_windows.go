//go:build windows

package builtin

import (
	"os"
	"os/exec"
)

func configureProcessGroup(*exec.Cmd) {}

func killProcessTree(p *os.Process) {
	if p == nil {
		return
	}
	_ = p.Kill()
}

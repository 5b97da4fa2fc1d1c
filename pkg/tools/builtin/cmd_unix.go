//go:build !windows

package builtin

import (
	"os"
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the command in its own process group so a
// later kill reaches the whole tree.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessTree(p *os.Process) {
	if p == nil {
		return
	}
	// Negative pid addresses the process group.
	_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
}

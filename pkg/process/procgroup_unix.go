//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the shell in its own process group so that a
// timeout kills helm and any plugin it spawned, not just the shell.
func configureProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}

//go:build windows

package jail

import (
	"fmt"
	"os/exec"
	"syscall"
)

// The sudoers-based privilege-escalation precondition this package relies on
// (see Open) has no Windows equivalent, so process-group signaling and
// execve-replacement are stubbed rather than attempted.

func groupSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}

func execInto(path string, argv, env []string) error {
	return fmt.Errorf("jail: unsupported platform windows")
}

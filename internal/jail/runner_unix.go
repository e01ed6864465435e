//go:build !windows

package jail

import (
	"os/exec"
	"syscall"
	"time"
)

// killGracePeriod is how long killProcessGroup waits after SIGTERM before
// escalating to SIGKILL.
const killGracePeriod = 200 * time.Millisecond

// groupSysProcAttr starts the bootstrap child as its own process group
// leader, so the supervisor can later signal the whole group — the
// privilege-escalation wrapper, the interpreter, and any children it was
// permitted to fork — as a single unit.
func groupSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalProcessGroup sends sig to the negative of the child's pid, which
// POSIX signal semantics interpret as "every process in that group".
func signalProcessGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, sig)
}

// killProcessGroup terminates the guest's entire process group: SIGTERM,
// a brief grace period, then SIGKILL so a guest that ignores SIGTERM cannot
// extend the wall-clock budget indefinitely.
func killProcessGroup(cmd *exec.Cmd) {
	signalProcessGroup(cmd, syscall.SIGTERM)
	time.Sleep(killGracePeriod)
	signalProcessGroup(cmd, syscall.SIGKILL)
}

// execInto replaces the current process image, used by the bootstrap to
// hand off to the privilege-escalation wrapper or the interpreter directly.
func execInto(path string, argv, env []string) error {
	return syscall.Exec(path, argv, env)
}

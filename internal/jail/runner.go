package jail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunRequest is the Supervised Runner's input: a resolved command plus the
// per-run arguments a caller supplies to jail_code.
type RunRequest struct {
	Command    Command
	Code       []byte // when non-empty, staged as jailed_code before the run
	Argv       []string
	Stdin      []byte
	StagingDir string
	Limits     Profile
	// StdoutMirror and StderrMirror, when non-nil, receive a live copy of the
	// guest's output as it arrives, in addition to the buffered copy returned
	// in Result — e.g. cmd/jaild forwards chunks to a WebSocket client while
	// the run is still in flight.
	StdoutMirror io.Writer
	StderrMirror io.Writer
	cgroupHook   func(pid int) error // set by Session when a cgroup manager backs this run
}

// Run spawns req.Command's guest process under the sandbox identity with
// req.Limits applied, pipes Stdin in, captures stdout/stderr, enforces the
// wall-clock deadline by killing the whole process group, and returns the
// collected Result. Run never returns an error for guest-observed failure —
// spawn failure and guest crashes are both reflected in the Result so every
// attempted run produces one.
func Run(ctx context.Context, req RunRequest) Result {
	argv := buildArgv(req.Command, req.Code, req.Argv)
	cmd, err := newGuestCmd(req.Command, argv, req.StagingDir, req.Limits)
	if err != nil {
		return Result{Status: 127, Stderr: []byte(fmt.Sprintf("jail: spawn: %v\n", err))}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = mirrored(&stdout, req.StdoutMirror)
	cmd.Stderr = mirrored(&stderr, req.StderrMirror)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return Result{Status: 127, Stderr: []byte(fmt.Sprintf("jail: stdin pipe: %v\n", err))}
	}

	if err := cmd.Start(); err != nil {
		return Result{Status: 127, Stderr: []byte(fmt.Sprintf("jail: start: %v\n", err))}
	}

	if req.cgroupHook != nil {
		if err := req.cgroupHook(cmd.Process.Pid); err != nil {
			stderr.WriteString(fmt.Sprintf("jail: cgroup attach: %v\n", err))
		}
	}

	// Three cooperating activities over the one subprocess: feed stdin,
	// wait for termination, and (via cmd.Stdout/Stderr above) drain output.
	// The deadline watcher races the wait in its own goroutine rather than
	// through the errgroup so it can kill the process group without being
	// blocked on the group's own Wait.
	deadline := time.Duration(req.Limits.Time) * time.Second
	timedOut := make(chan bool, 1)
	var g errgroup.Group
	g.Go(func() error {
		defer stdinPipe.Close()
		if len(req.Stdin) > 0 {
			_, _ = stdinPipe.Write(req.Stdin)
		}
		return nil
	})

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var timer *time.Timer
	var timerC <-chan time.Time
	if deadline > 0 {
		timer = time.NewTimer(deadline)
		timerC = timer.C
		defer timer.Stop()
	}

	var runErr error
	select {
	case runErr = <-waitErr:
		timedOut <- false
	case <-timerC:
		killProcessGroup(cmd)
		runErr = <-waitErr
		timedOut <- true
	case <-ctx.Done():
		killProcessGroup(cmd)
		runErr = <-waitErr
		timedOut <- false
	}
	_ = g.Wait()

	res := Result{
		Stdout:            stdout.Bytes(),
		Stderr:            stderr.Bytes(),
		TimeLimitExceeded: <-timedOut,
	}
	res.Status, res.TimeLimitExceeded = exitStatus(runErr, res.TimeLimitExceeded)
	return res
}

// mirrored returns buf itself when mirror is nil, otherwise a writer that
// tees into both so Result's buffered copy and a live consumer both see
// every byte.
func mirrored(buf *bytes.Buffer, mirror io.Writer) io.Writer {
	if mirror == nil {
		return buf
	}
	return io.MultiWriter(buf, mirror)
}

// buildArgv constructs the arguments that follow the binary path: fixed argv
// prefix, "jailed_code" iff code is non-empty, then the caller's argv
// appended after it. The binary path itself is placed in front of these by
// encodeBootstrapArgs.
func buildArgv(cmd Command, code []byte, argv []string) []string {
	final := make([]string, 0, len(cmd.ArgvPrefix)+len(argv)+1)
	final = append(final, cmd.ArgvPrefix...)
	if len(code) > 0 {
		final = append(final, jailedCodeName)
	}
	final = append(final, argv...)
	return final
}

// exitStatus converts a Wait error into the Result's (status, tle) pair.
// A wall-clock kill always sets tle regardless of what Wait reports, since
// the supervisor initiated the termination itself.
func exitStatus(err error, killedByDeadline bool) (int, bool) {
	if err == nil {
		return 0, killedByDeadline
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return KilledBySignalStatus, killedByDeadline || ws.Signal() == syscall.SIGXCPU
		}
		return exitErr.ExitCode(), killedByDeadline
	}
	return 127, killedByDeadline
}

// scrubbedEnv is the minimal, fixed environment the guest sees. The host's
// environment is never propagated — a caller's arbitrary variables (secrets,
// proxy settings, locale data that changes interpreter behavior) must not
// leak into the jail.
func scrubbedEnv(dir string) []string {
	return []string{
		"PATH=/usr/bin:/bin",
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C",
	}
}

// newGuestCmd builds the *exec.Cmd for one run. The direct child is always
// this same binary re-invoked with the hidden bootstrap subcommand: the
// bootstrap applies rlimits (and, on Linux, a seccomp filter) to itself and
// then execve()s into the privilege-escalation wrapper (when the command has
// a sandbox user) or straight into the interpreter. This mirrors the
// preexec-fn pattern other sandboxing tools use for per-process resource
// ceilings, which Go's os/exec has no direct equivalent for.
func newGuestCmd(cmd Command, argv []string, dir string, limits Profile) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve self executable: %w", err)
	}
	bootArgs := encodeBootstrapArgs(limits, cmd.User, cmd.BinPath, argv)
	gc := exec.Command(self, append([]string{bootstrapSubcommand}, bootArgs...)...)
	gc.Dir = dir
	gc.Env = scrubbedEnv(dir)
	gc.SysProcAttr = groupSysProcAttr()
	return gc, nil
}

package jail

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"

	"github.com/ehrlich-b/jail/internal/logger"
)

// RunOptions are the per-call arguments to Session.Run / jail_code, beyond
// the command name.
type RunOptions struct {
	Code   string
	Files  []string
	Argv   []string
	Stdin  []byte
	Limits map[LimitKey]int64
	// StdoutMirror and StderrMirror forward live output as it is produced;
	// see RunRequest for the same fields on the lower-level Run.
	StdoutMirror io.Writer
	StderrMirror io.Writer
}

// Session is a scoped acquisition of one staging directory that permits
// multiple sequential guest runs in it. A Session is single-threaded:
// concurrent calls to Run within one Session are undefined. Distinct
// Sessions are independent.
type Session struct {
	id       string
	dir      string
	registry *Registry
	cgroup   *cgroupManager
	closed   bool
}

// Open acquires a fresh staging directory owned by the host user. On
// platforms with no sudoers-equivalent privilege-escalation mechanism (only
// Windows today), Open still succeeds — it simply means every Command in
// the registry must have an empty User, since Run will fail loudly the
// moment it needs to switch identity.
func Open(registry *Registry) (*Session, error) {
	id := uuid.NewString()
	dir, err := os.MkdirTemp("", "jail-"+id+"-")
	if err != nil {
		return nil, &StagingError{Op: "mkdir", Path: dir, Err: err}
	}
	if err := os.Chmod(dir, 0775); err != nil {
		os.RemoveAll(dir)
		return nil, &StagingError{Op: "chmod", Path: dir, Err: err}
	}
	return &Session{id: id, dir: dir, registry: registry}, nil
}

// Dir returns the session's staging directory, exposed for callers that
// need to stage extra state outside of Run (e.g. a grading harness seeding
// fixture files before the first run).
func (s *Session) Dir() string { return s.dir }

// Run stages opts.Files (plus opts.Code as jailed_code, when non-empty),
// resolves name against the session's registry, merges opts.Limits onto the
// command's default Profile, and supervises one guest execution. Files
// staged by a previous Run in the same Session remain visible to later
// Runs, subject to the read-only lockdown Run applies after staging.
func (s *Session) Run(ctx context.Context, name string, opts RunOptions) (Result, error) {
	if s.closed {
		return Result{}, &ConfigError{Op: "run " + name, Err: fmt.Errorf("session closed")}
	}
	cmd, err := s.registry.Resolve(name)
	if err != nil {
		return Result{}, err
	}
	if cmd.User != "" && runtime.GOOS == "windows" {
		return Result{}, &ConfigError{Op: "run " + name, Err: fmt.Errorf("sandbox user switching unsupported on windows")}
	}

	limits, err := Merge(cmd.Defaults, opts.Limits)
	if err != nil {
		return Result{}, err
	}

	if len(opts.Files) > 0 {
		if err := Stage(s.dir, opts.Files); err != nil {
			return Result{}, err
		}
	}
	var code []byte
	if opts.Code != "" {
		code = []byte(opts.Code)
		if err := WriteInlineCode(s.dir, code); err != nil {
			return Result{}, err
		}
		defer func() {
			if err := RemoveInlineCode(s.dir); err != nil {
				logger.Warn("jail: remove jailed_code", "session", s.id, "error", err)
			}
		}()
	}
	if err := LockDown(s.dir); err != nil {
		return Result{}, err
	}
	defer func() {
		if err := Unlock(s.dir); err != nil {
			logger.Warn("jail: unlock staging dir", "session", s.id, "error", err)
		}
	}()

	req := RunRequest{
		Command:      cmd,
		Code:         code,
		Argv:         opts.Argv,
		Stdin:        opts.Stdin,
		StagingDir:   s.dir,
		Limits:       limits,
		StdoutMirror: opts.StdoutMirror,
		StderrMirror: opts.StderrMirror,
	}
	// A session reuses one cgroup at a time: the previous run's guest has
	// already exited by the time the next Run starts (Session is
	// single-threaded), so its cgroup can be torn down before this run's
	// replaces it rather than accumulating one per run.
	if s.cgroup != nil {
		if err := s.cgroup.Destroy(); err != nil {
			logger.Warn("jail: destroy previous cgroup", "session", s.id, "error", err)
		}
		s.cgroup = nil
	}
	if cg, err := newCgroupManager(s.id, cgroupMemBytes(limits), cgroupPidLimit(limits)); err == nil && cg != nil {
		s.cgroup = cg
		req.cgroupHook = cg.AddPID
	}

	return Run(ctx, req), nil
}

func cgroupMemBytes(p Profile) uint64 {
	if p.Memory <= 0 {
		return 0
	}
	return uint64(p.Memory)
}

func cgroupPidLimit(p Profile) uint32 {
	if p.NProc <= 0 {
		return 0
	}
	return uint32(p.NProc)
}

// Close tears down the staging directory. Teardown must succeed even when
// the sandbox user has deposited files the host user cannot remove: it first
// tries a plain RemoveAll, and on failure invokes a privilege-elevation
// helper to clear the residue as root (or as the sandbox user) before
// removing the now-empty directory as the host user. Close is best-effort
// per file but always attempts to leave no reachable directory; teardown
// errors are logged, never propagated, so scope exit is effectively
// infallible.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cgroup != nil {
		if err := s.cgroup.Destroy(); err != nil {
			logger.Warn("jail: destroy cgroup", "session", s.id, "error", err)
		}
	}
	if err := os.RemoveAll(s.dir); err == nil {
		return nil
	}
	if err := privilegedRemove(s.dir); err != nil {
		logger.Warn("jail: privileged cleanup failed", "session", s.id, "dir", s.dir, "error", err)
	}
	if err := os.RemoveAll(s.dir); err != nil {
		logger.Warn("jail: staging dir left behind", "session", s.id, "dir", s.dir, "error", err)
	}
	return nil
}

// privilegedRemove asks the pre-authorized sudo helper to remove residue the
// host user cannot — e.g. files the sandbox user wrote before a write
// attempt was caught by the permission lockdown, or __pycache__ byproducts
// created under a sandbox-user-owned subdirectory.
func privilegedRemove(dir string) error {
	cmd := exec.Command("sudo", "-n", "--", "rm", "-rf", filepath.Clean(dir))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("sudo rm -rf %s: %w: %s", dir, err, out)
	}
	return nil
}

// JailCode is the one-shot form: open → run → close with an implicit
// Session, for callers that don't need multiple runs to share one staging
// directory.
func JailCode(ctx context.Context, registry *Registry, name string, opts RunOptions) (Result, error) {
	s, err := Open(registry)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("jail: one-shot session cleanup failed", "error", err)
		}
	}()
	return s.Run(ctx, name, opts)
}

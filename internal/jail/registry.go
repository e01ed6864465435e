package jail

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// Command is a descriptor registered under a symbolic name.
type Command struct {
	Name string
	// BinPath is an absolute path to the interpreter binary.
	BinPath string
	// User is the OS identity (login name or numeric id) runs occur under.
	// Empty means: run as the host user, resource limits only.
	User string
	// ArgvPrefix is prepended to every invocation (e.g. "-E", "-B").
	ArgvPrefix []string
	// Defaults is the command's default Limit Profile.
	Defaults Profile
}

// Registry maps symbolic command names to descriptors. It is process-wide
// mutable state: written only by Register and AutoConfigure, read by every
// Run. Typical use is "configure once at startup, then read-only", so a
// simple RWMutex is sufficient.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// process-wide default registry, auto-initialized once on first use, per the
// "one configuration per OS process, established before first use, immutable
// thereafter" requirement. Tests and callers that need isolation should build
// their own Registry rather than mutate this one.
var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry, running AutoConfigure the first
// time it is reached.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.AutoConfigure()
	})
	return defaultRegistry
}

// Register adds or replaces the descriptor for name. Registration is
// idempotent on identical inputs — registering the same descriptor twice is a
// no-op from the caller's perspective.
func (r *Registry) Register(name, binPath, user string, argvPrefix []string, defaults Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = Command{
		Name:       name,
		BinPath:    binPath,
		User:       user,
		ArgvPrefix: append([]string(nil), argvPrefix...),
		Defaults:   defaults,
	}
}

// IsRegistered reports whether name has a registered descriptor.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[name]
	return ok
}

// Resolve returns the descriptor for name, or ErrNotConfigured.
func (r *Registry) Resolve(name string) (Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	if !ok {
		return Command{}, &ConfigError{Op: "resolve " + name, Err: ErrNotConfigured}
	}
	return cmd, nil
}

// Names returns the registered command names. Order is unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	return names
}

// probeTarget is one well-known interpreter AutoConfigure looks for.
type probeTarget struct {
	name       string
	wrapper    string // sibling wrapper script name, e.g. "python-sandbox"
	fallback   string // host interpreter to try via exec.LookPath-style search
	argvPrefix []string
	defaults   Profile
}

var probeTargets = []probeTarget{
	{
		name:       "python",
		wrapper:    "python-sandbox",
		fallback:   "python3",
		argvPrefix: []string{"-E", "-B", "-S"},
		defaults:   Profile{CPU: 1, Memory: 30_000_000, FileSize: 1_000_000, NProc: 1, CanFork: false},
	},
	{
		name:       "node",
		wrapper:    "node-sandbox",
		fallback:   "node",
		argvPrefix: nil,
		defaults:   Profile{CPU: 2, Memory: 100_000_000, FileSize: 1_000_000, NProc: 1, CanFork: false},
	},
}

// AutoConfigure probes well-known locations for interpreter binaries and
// registers defaults for each one found. It never fails: if nothing is
// found, the registry is left untouched and IsRegistered stays false for
// every name. It is safe to call more than once — the second call observes
// the same binaries and re-registers identical descriptors, which Register
// treats as idempotent.
func (r *Registry) AutoConfigure() {
	selfDir := ""
	if exe, err := os.Executable(); err == nil {
		selfDir = filepath.Dir(exe)
	}
	for _, t := range probeTargets {
		if bin := findInterpreter(selfDir, t.wrapper, t.fallback); bin != "" {
			r.Register(t.name, bin, "", t.argvPrefix, t.defaults)
		}
	}
}

// findInterpreter looks for a wrapper script alongside the running binary
// first (the operator's sandbox-aware build of the interpreter), then falls
// back to the host user's own interpreter on $PATH.
func findInterpreter(selfDir, wrapper, fallback string) string {
	if selfDir != "" {
		candidate := filepath.Join(selfDir, wrapper)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate
		}
	}
	if path, err := lookPath(fallback); err == nil {
		return path
	}
	return ""
}

// lookPath is a small indirection over exec.LookPath so tests can stub it
// without touching the real $PATH.
var lookPath = exec.LookPath

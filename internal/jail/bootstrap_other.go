//go:build !linux && !windows

package jail

import (
	"fmt"
	"syscall"
)

// applyLimits on non-Linux unix platforms enforces only the POSIX-portable
// ceilings available through the standard library's syscall package.
// RLIMIT_AS and RLIMIT_NPROC have no portable meaning here (and no seccomp
// equivalent exists at all), so MEMORY, NPROC, and CAN_FORK are left
// unenforced — a caller relying on this package off Linux gets CPU and
// FILE_SIZE ceilings plus the wall-clock and filesystem-staging guarantees,
// nothing more.
func applyLimits(p Profile) error {
	var errs []error
	setOne := func(resource int, value int64, name string) {
		if value < 0 {
			return
		}
		lim := syscall.Rlimit{Cur: uint64(value), Max: uint64(value)}
		if err := syscall.Setrlimit(resource, &lim); err != nil {
			errs = append(errs, fmt.Errorf("setrlimit %s=%d: %w", name, value, err))
		}
	}
	setOne(syscall.RLIMIT_CPU, p.CPU, "CPU")
	setOne(syscall.RLIMIT_FSIZE, p.FileSize, "FILE_SIZE")
	if len(errs) == 0 {
		return nil
	}
	msg := "partial failure:"
	for _, e := range errs {
		msg += " " + e.Error() + ";"
	}
	return fmt.Errorf("%s", msg)
}

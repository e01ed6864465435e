//go:build linux

package jail

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// applyLimits sets per-process resource ceilings on the current process via
// prlimit/setrlimit and, when the profile forbids forking, installs a
// seccomp filter denying the fork/vfork/clone family as defense in depth
// beyond the NPROC ceiling. Both steps run before the execve into the
// privilege wrapper or interpreter, so the limits are inherited across exec
// the same way a preexec_fn would apply them in a fork/exec model.
func applyLimits(p Profile) error {
	var errs []error
	setOne := func(resource int, value int64, name string) {
		if value < 0 {
			return // Unlimited: leave the inherited ceiling untouched.
		}
		lim := unix.Rlimit{Cur: uint64(value), Max: uint64(value)}
		if err := unix.Setrlimit(resource, &lim); err != nil {
			errs = append(errs, fmt.Errorf("setrlimit %s=%d: %w", name, value, err))
		}
	}
	setOne(unix.RLIMIT_CPU, p.CPU, "CPU")
	setOne(unix.RLIMIT_AS, p.Memory, "MEMORY")
	setOne(unix.RLIMIT_FSIZE, p.FileSize, "FILE_SIZE")
	setOne(unix.RLIMIT_NPROC, p.NProc, "NPROC")

	if !p.CanFork {
		if err := installForkSeccomp(); err != nil {
			errs = append(errs, fmt.Errorf("seccomp: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	msg := "partial failure:"
	for _, e := range errs {
		msg += " " + e.Error() + ";"
	}
	return fmt.Errorf("%s", msg)
}

// Syscalls that would let a guest subvert the jail itself (remount, module
// loading, tracing a sibling). They are part of the same filter as the fork
// family, so they are denied only when CAN_FORK is false; with CAN_FORK true
// no seccomp filter is installed at all.
var deniedSyscallsCommon = []uint32{
	unix.SYS_MOUNT,
	unix.SYS_UMOUNT2,
	unix.SYS_REBOOT,
	unix.SYS_SWAPON,
	unix.SYS_SWAPOFF,
	unix.SYS_KEXEC_LOAD,
	unix.SYS_INIT_MODULE,
	unix.SYS_FINIT_MODULE,
	unix.SYS_DELETE_MODULE,
	unix.SYS_PIVOT_ROOT,
	unix.SYS_PTRACE,
}

// Denied only when CAN_FORK is false — RLIMIT_NPROC already makes these fail
// with EAGAIN once the sandbox user's process count is exhausted, but a
// seccomp EPERM is immediate and doesn't depend on NPROC accounting being
// exact under concurrent sessions sharing one sandbox user.
var deniedSyscallsNoFork = []uint32{
	unix.SYS_FORK,
	unix.SYS_VFORK,
	unix.SYS_CLONE,
}

func installForkSeccomp() error {
	denied := append(append([]uint32{}, deniedSyscallsCommon...), deniedSyscallsArch...)
	denied = append(denied, deniedSyscallsNoFork...)
	prog := buildSeccompFilter(denied)
	if prog == nil {
		return nil
	}
	if _, _, errno := unix.RawSyscall(unix.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0); errno != 0 {
		return fmt.Errorf("prctl(NO_NEW_PRIVS): %v", errno)
	}
	bpfProg := unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	// SECCOMP_SET_MODE_FILTER = 1
	if _, _, errno := unix.RawSyscall(unix.SYS_SECCOMP, 1, 0, uintptr(unsafe.Pointer(&bpfProg))); errno != 0 {
		return fmt.Errorf("seccomp(SET_MODE_FILTER): %v", errno)
	}
	return nil
}

// buildSeccompFilter constructs a BPF program that denies exactly the
// syscalls in denied, returning EPERM for each and allowing everything else.
func buildSeccompFilter(denied []uint32) []unix.SockFilter {
	n := len(denied)
	if n == 0 {
		return nil
	}
	prog := make([]unix.SockFilter, 0, n+3)
	prog = append(prog, unix.SockFilter{
		Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS,
		K:    0, // offsetof(struct seccomp_data, nr)
	})
	for i, nr := range denied {
		jmpToDeny := uint8(n - i)
		prog = append(prog, unix.SockFilter{
			Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K,
			Jt:   jmpToDeny,
			Jf:   0,
			K:    nr,
		})
	}
	prog = append(prog, unix.SockFilter{
		Code: unix.BPF_RET | unix.BPF_K,
		K:    seccompRetAllow,
	})
	prog = append(prog, unix.SockFilter{
		Code: unix.BPF_RET | unix.BPF_K,
		K:    seccompRetErrno | uint32(unix.EPERM),
	})
	return prog
}

const (
	seccompRetAllow = 0x7fff0000
	seccompRetErrno = 0x00050000
)

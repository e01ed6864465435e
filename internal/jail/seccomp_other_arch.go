//go:build linux && !amd64

package jail

// No architecture-specific denials beyond the common list on this arch.
var deniedSyscallsArch = []uint32{}

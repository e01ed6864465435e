package jail

// LimitKey names one ceiling in a Limit Profile.
type LimitKey string

const (
	// CPU is the maximum CPU-seconds the guest may accumulate before the
	// kernel kills it.
	CPU LimitKey = "CPU"
	// TIME is the maximum wall-clock seconds before the supervisor kills
	// the entire process group. Enforced by the supervisor, not the kernel.
	TIME LimitKey = "TIME"
	// MEMORY is the maximum address-space size in bytes (RLIMIT_AS).
	MEMORY LimitKey = "MEMORY"
	// FILE_SIZE is the maximum size any single file the guest writes may reach.
	FILE_SIZE LimitKey = "FILE_SIZE"
	// NPROC is the maximum simultaneous processes owned by the sandbox user.
	NPROC LimitKey = "NPROC"
	// CAN_FORK, when false, makes Merge set NPROC to 2 if no positive NPROC
	// is given, and on Linux makes the bootstrap install a seccomp filter
	// that denies fork, vfork, and clone.
	CAN_FORK LimitKey = "CAN_FORK"
	// PROXY is reserved; the core never enforces it.
	PROXY LimitKey = "PROXY"
)

// allKeys enumerates the known limit keys, used to validate override maps.
var allKeys = map[LimitKey]bool{
	CPU: true, TIME: true, MEMORY: true, FILE_SIZE: true,
	NPROC: true, CAN_FORK: true, PROXY: true,
}

// Unlimited is the distinguished sentinel meaning "no ceiling". A Profile
// value is either Unlimited or a non-negative integer.
const Unlimited int64 = -1

// Profile is a budget of CPU, wall-clock, address-space, file-size,
// process-count, and fork-permission caps. Every field is either Unlimited
// (-1) or a non-negative integer; a missing field in an override map leaves
// the default untouched, an Unlimited value explicitly overrides a finite
// default. Go has no "absent" distinction from null for an int64 map value,
// so overrides are expressed as map[LimitKey]int64 with Unlimited meaning
// "explicitly unlimited" rather than "not specified" — see Merge.
type Profile struct {
	CPU      int64
	Time     int64
	Memory   int64
	FileSize int64
	NProc    int64
	CanFork  bool
	Proxy    int64
}

// DefaultRatio is the operator-tunable ratio between TIME and CPU used when a
// caller supplies CPU but not TIME. The source material hints at "time limit
// is 5 * cpu_time" as one convention; a reimplementation should expose it
// rather than hard-code it, so it lives here as a package variable.
var DefaultRatio int64 = 5

// Merge yields a new Profile whose value for each key is the override's value
// when present in the overrides map, and the default's value otherwise, with
// two derived values applied afterwards: Time becomes CPU * DefaultRatio when
// TIME is absent from overrides and the merged Time is <= 0, and NProc
// becomes 2 when CanFork is false and the merged NProc is <= 0. Unknown keys in overrides are rejected with ErrUnknownLimit so a typo never
// silently leaves a ceiling unapplied.
func Merge(defaults Profile, overrides map[LimitKey]int64) (Profile, error) {
	merged := defaults
	_, timeOverridden := overrides[TIME]
	for k, v := range overrides {
		if !allKeys[k] {
			return Profile{}, &ConfigError{Op: "merge", Err: ErrUnknownLimit}
		}
		switch k {
		case CPU:
			merged.CPU = v
		case TIME:
			merged.Time = v
		case MEMORY:
			merged.Memory = v
		case FILE_SIZE:
			merged.FileSize = v
		case NPROC:
			merged.NProc = v
		case CAN_FORK:
			merged.CanFork = v != 0
		case PROXY:
			merged.Proxy = v
		}
	}
	// The ratio only fills in a TIME nobody set. A TIME present in overrides
	// always wins, even when it is explicitly Unlimited — only defaults.Time
	// being unset (<= 0) with no override present falls through to the ratio.
	if !timeOverridden && merged.Time <= 0 && merged.CPU > 0 {
		merged.Time = merged.CPU * DefaultRatio
	}
	if !merged.CanFork && merged.NProc <= 0 {
		// Exempt the privilege-escalation wrapper's own process from the cap
		// by reserving one slot above the bare minimum: wrapper + guest.
		merged.NProc = 2
	}
	return merged, nil
}

package jail

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// bootstrapSubcommand is the hidden argv[1] that tells a re-exec'd copy of
// this binary to run Bootstrap instead of the caller's normal entrypoint.
// cmd/jailctl and cmd/jaild check for it with IsBootstrap at the top of main,
// before any flag or cobra parsing.
const bootstrapSubcommand = "__jail_bootstrap"

// IsBootstrap reports whether args (typically os.Args[1:]) is a re-exec
// bootstrap invocation, so main() can dispatch to Bootstrap before parsing
// any normal CLI flags.
func IsBootstrap(args []string) bool {
	return len(args) > 0 && args[0] == bootstrapSubcommand
}

// encodeBootstrapArgs serializes a Profile and the final target invocation
// into a flat argv for the re-exec'd bootstrap process.
func encodeBootstrapArgs(limits Profile, user, binPath string, argv []string) []string {
	args := []string{
		"-cpu", strconv.FormatInt(limits.CPU, 10),
		"-mem", strconv.FormatInt(limits.Memory, 10),
		"-fsize", strconv.FormatInt(limits.FileSize, 10),
		"-nproc", strconv.FormatInt(limits.NProc, 10),
		"-canfork=" + strconv.FormatBool(limits.CanFork),
		"-user", user,
		"--",
		binPath,
	}
	return append(args, argv...)
}

// Bootstrap is the body of the re-exec'd child: args is os.Args[2:] (past the
// bootstrapSubcommand token). It applies resource ceilings to itself, then
// replaces itself via execve with the privilege-escalation wrapper (when a
// sandbox user is configured) or directly with the interpreter. It never
// returns on success — on failure it prints to stderr and exits non-zero so
// the failure surfaces as the guest's own Result rather than a silent hang.
func Bootstrap(args []string) {
	fs := flag.NewFlagSet(bootstrapSubcommand, flag.ExitOnError)
	cpu := fs.Int64("cpu", Unlimited, "")
	mem := fs.Int64("mem", Unlimited, "")
	fsize := fs.Int64("fsize", Unlimited, "")
	nproc := fs.Int64("nproc", Unlimited, "")
	canFork := fs.Bool("canfork", true, "")
	user := fs.String("user", "", "")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "jail: bootstrap: missing target binary")
		os.Exit(127)
	}
	binPath, targetArgs := rest[0], rest[1:]

	limits := Profile{CPU: *cpu, Memory: *mem, FileSize: *fsize, NProc: *nproc, CanFork: *canFork}
	if err := applyLimits(limits); err != nil {
		fmt.Fprintf(os.Stderr, "jail: apply limits: %v\n", err)
	}

	var finalPath string
	var finalArgv []string
	if *user != "" {
		sudoPath, err := exec.LookPath("sudo")
		if err != nil {
			fmt.Fprintf(os.Stderr, "jail: sudo not found: %v\n", err)
			os.Exit(127)
		}
		finalPath = sudoPath
		finalArgv = append([]string{"sudo", "-u", *user, "-n", "--", binPath}, targetArgs...)
	} else {
		finalPath = binPath
		finalArgv = append([]string{binPath}, targetArgs...)
	}

	if err := execInto(finalPath, finalArgv, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "jail: exec %s: %v\n", finalPath, err)
		os.Exit(127)
	}
}

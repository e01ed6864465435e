// Command jailctl is the operator-facing CLI for the jail sandbox: it can
// run one guest invocation directly against a YAML command registry, list
// what a registry file would configure, and mint service tokens for jaild.
// Like jaild, this binary doubles as its own re-exec bootstrap target.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/jail/internal/authtoken"
	"github.com/ehrlich-b/jail/internal/config"
	"github.com/ehrlich-b/jail/internal/jail"
	"github.com/ehrlich-b/jail/internal/logger"
)

func main() {
	if jail.IsBootstrap(os.Args[1:]) {
		jail.Bootstrap(os.Args[2:])
		return
	}

	var logLevel string
	root := &cobra.Command{
		Use:   "jailctl",
		Short: "Run and inspect jail sandbox commands",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logLevel, "")
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.AddCommand(runCmd(), listCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "jailctl:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var registryPath, codeFile, stdinText string
	var cpu, timeLimit, memory int64

	cmd := &cobra.Command{
		Use:   "run <command> [-- argv...]",
		Short: "Run one guest invocation against a registered command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			argv := args[1:]

			f, err := config.Load(registryPath)
			if err != nil {
				return err
			}
			reg := jail.NewRegistry()
			for _, e := range config.Apply(reg, f) {
				logger.Warn("jailctl: registry entry skipped", "error", e)
			}

			opts := jail.RunOptions{Argv: argv}
			if codeFile != "" {
				data, err := os.ReadFile(codeFile)
				if err != nil {
					return fmt.Errorf("read code file: %w", err)
				}
				opts.Code = string(data)
			}
			if stdinText != "" {
				opts.Stdin = []byte(stdinText)
			}
			overrides := map[jail.LimitKey]int64{}
			if cpu != 0 {
				overrides[jail.CPU] = cpu
			}
			if timeLimit != 0 {
				overrides[jail.TIME] = timeLimit
			}
			if memory != 0 {
				overrides[jail.MEMORY] = memory
			}
			if len(overrides) > 0 {
				opts.Limits = overrides
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			result, err := jail.JailCode(ctx, reg, name, opts)
			if err != nil {
				return err
			}

			os.Stdout.Write(result.Stdout)
			os.Stderr.Write(result.Stderr)
			if result.TimeLimitExceeded {
				fmt.Fprintln(os.Stderr, "jailctl: time limit exceeded")
			}
			os.Exit(exitCodeFor(result))
			return nil
		},
	}
	cmd.Flags().StringVar(&registryPath, "registry", "registry.yaml", "path to the command registry YAML file")
	cmd.Flags().StringVar(&codeFile, "code", "", "file whose contents are staged as jailed_code")
	cmd.Flags().StringVar(&stdinText, "stdin", "", "text piped to the guest's stdin")
	cmd.Flags().Int64Var(&cpu, "cpu", 0, "override CPU seconds (0 = use registry default)")
	cmd.Flags().Int64Var(&timeLimit, "time", 0, "override wall-clock seconds (0 = use registry default)")
	cmd.Flags().Int64Var(&memory, "memory", 0, "override memory bytes (0 = use registry default)")
	return cmd
}

func exitCodeFor(r jail.Result) int {
	if r.Status == jail.KilledBySignalStatus {
		return 1
	}
	return r.Status
}

func listCmd() *cobra.Command {
	var registryPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the commands a registry file configures",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(registryPath)
			if err != nil {
				return err
			}
			reg := jail.NewRegistry()
			for _, e := range config.Apply(reg, f) {
				logger.Warn("jailctl: registry entry skipped", "error", e)
			}

			plain := !isatty.IsTerminal(os.Stdout.Fd())
			tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			if !plain {
				fmt.Fprintln(tw, "NAME\tBIN\tUSER\tCPU\tMEMORY\tTIME")
			}
			for _, name := range reg.Names() {
				c, err := reg.Resolve(name)
				if err != nil {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\t%s\t%ds\n",
					name, c.BinPath, c.User, c.Defaults.CPU,
					humanizeLimit(c.Defaults.Memory), c.Defaults.Time)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&registryPath, "registry", "registry.yaml", "path to the command registry YAML file")
	return cmd
}

func humanizeLimit(bytesLimit int64) string {
	if bytesLimit < 0 {
		return "unlimited"
	}
	return humanize.Bytes(uint64(bytesLimit))
}

func tokenCmd() *cobra.Command {
	var secretFile, subject string
	var ttl time.Duration
	var allowed []string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token for jaild",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := os.ReadFile(secretFile)
			if err != nil {
				return fmt.Errorf("read secret file: %w", err)
			}
			tok, err := authtoken.Issue(secret, subject, allowed, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secretFile, "secret-file", "", "path to the shared secret jaild also reads")
	cmd.Flags().StringVar(&subject, "subject", "jailctl", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringSliceVar(&allowed, "allow", nil, "commands this token may invoke (default: any)")
	cmd.MarkFlagRequired("secret-file")
	return cmd
}

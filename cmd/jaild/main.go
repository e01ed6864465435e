// Command jaild is the network daemon form of the jail sandbox: it loads a
// command registry from YAML, watches a drop-in directory for hot-reloaded
// command descriptors, and serves POST /v1/run and the streaming WebSocket
// endpoint over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ehrlich-b/jail/internal/audit"
	"github.com/ehrlich-b/jail/internal/config"
	"github.com/ehrlich-b/jail/internal/jail"
	"github.com/ehrlich-b/jail/internal/jaild"
	"github.com/ehrlich-b/jail/internal/logger"
)

func main() {
	if jail.IsBootstrap(os.Args[1:]) {
		jail.Bootstrap(os.Args[2:])
		return
	}

	addr := flag.String("addr", ":8733", "listen address")
	registryPath := flag.String("registry", "registry.yaml", "command registry YAML file")
	auditDSN := flag.String("audit-db", "jaild-audit.db", "sqlite DSN for the audit log, or ':memory:'")
	secretFile := flag.String("secret-file", "", "shared secret file for verifying service tokens; empty disables auth (dev only)")
	ratePerSecond := flag.Float64("rate", 5, "max runs per second per authenticated subject")
	burst := flag.Int("burst", 10, "run burst size per authenticated subject")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "additional file to mirror logs into, beyond stdout")
	flag.Parse()

	if err := logger.Init(*logLevel, *logFile); err != nil {
		fmt.Fprintln(os.Stderr, "jaild:", err)
		os.Exit(1)
	}

	reg := jail.NewRegistry()
	f, err := config.Load(*registryPath)
	if err != nil {
		logger.Error("jaild: load registry", "error", err)
		os.Exit(1)
	}
	for _, e := range config.Apply(reg, f) {
		logger.Warn("jaild: registry entry skipped", "error", e)
	}

	baseline, _ := jail.Merge(jail.Profile{}, f.Defaults.Overrides())
	commandsDir, err := config.Dir(*registryPath + ".d")
	if err != nil {
		logger.Error("jaild: prepare commands.d", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := jail.WatchCommandDir(ctx, commandsDir, func(path string) (string, error) {
		return config.LoadOne(reg, baseline, path)
	}); err != nil {
		logger.Warn("jaild: hot-reload watch disabled", "error", err)
	}

	auditLog, err := audit.Open(*auditDSN)
	if err != nil {
		logger.Error("jaild: open audit log", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	var secret []byte
	if *secretFile != "" {
		secret, err = os.ReadFile(*secretFile)
		if err != nil {
			logger.Error("jaild: read secret file", "error", err)
			os.Exit(1)
		}
	}

	srv := &jaild.Server{
		Registry:      reg,
		Secret:        secret,
		Audit:         auditLog,
		RatePerSecond: *ratePerSecond,
		Burst:         *burst,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.Start(*addr); err != nil {
		fmt.Fprintln(os.Stderr, "jaild:", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/llmur/llmur/internal/app"
	"github.com/llmur/llmur/internal/config"
	"github.com/llmur/llmur/internal/logging"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	if errRun := run(context.Background(), os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the gateway.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("llmur", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 0, "server port (overrides config)")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if *port != 0 {
		if errValidate := validatePort(*port); errValidate != nil {
			return errValidate
		}
	}

	if errEnv := config.LoadDotEnv(); errEnv != nil {
		log.WithError(errEnv).Warn("failed to load .env")
	}
	cfg, errLoad := config.Load(ctx, config.ResolveConfigPath(*cfgPath))
	if errLoad != nil {
		return errLoad
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if errValidate := validatePort(cfg.Port); errValidate != nil {
		return errValidate
	}

	closer, errLog := logging.Setup(cfg.Logging)
	if errLog != nil {
		return errLog
	}
	defer func() { _ = closer.Close() }()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.RunServer(sigCtx, cfg)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// Package main runs a batch screenshot capture over a URL list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/app"
	"github.com/JakeFAU/shotbatch/internal/config"
	"github.com/JakeFAU/shotbatch/internal/logging"
	"github.com/JakeFAU/shotbatch/internal/source"
)

type flags struct {
	configPath string
	envPath    string
	input      string
	output     string
	workers    int
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("shotbatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "Path to config file (yaml, toml, or json)")
	fs.StringVar(&f.envPath, "env", ".env", "Path to a dotenv file loaded before the config")
	fs.StringVar(&f.input, "input", "", "URL list, one per line (overrides input.path)")
	fs.StringVar(&f.output, "output", "", "Report destination, a path or gs://bucket/object (overrides output.path)")
	fs.IntVar(&f.workers, "workers", 0, "Concurrent browser sessions (overrides capture.workers)")
	if err := fs.Parse(args); err != nil {
		return flags{}, fmt.Errorf("parse flags: %w", err)
	}
	return f, nil
}

// loadConfig layers dotenv, file, environment, and flags, then validates.
func loadConfig(f flags) (config.Config, error) {
	if err := config.LoadDotEnv(f.envPath); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.input != "" {
		cfg.Input.Path = f.input
	}
	if f.output != "" {
		cfg.Output.Path = f.output
	}
	if f.workers != 0 {
		cfg.Capture.Workers = f.workers
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stderr io.Writer, opts ...app.Option) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(stderr, "load config failed: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		// Sync on a console returns EINVAL; nothing useful to do with it.
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	urls, err := source.ReadFile(cfg.Input.Path)
	if err != nil {
		// A missing list is an empty batch: the report still gets written.
		logger.Error("url list unreadable, continuing with no urls", zap.String("path", cfg.Input.Path), logging.Err(err))
	}

	a, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		logger.Error("app init failed", logging.Err(err))
		return 1
	}
	defer a.Close(ctx)

	if _, err := a.Run(ctx, urls); err != nil {
		logger.Error("report generation failed", logging.Err(err))
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

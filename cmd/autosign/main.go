package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hearthealt/anyrouter-autosign/internal/app"
	"github.com/hearthealt/anyrouter-autosign/internal/config"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/ui"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Options{
		Path:       cfg.LogPath,
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Close()

	if cfg.ConsoleUI {
		ui.StartUISystem()
		defer ui.StopUISystem()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg).Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

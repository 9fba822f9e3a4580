package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/joseph-ayodele/thermo-extraction/internal/app"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/mcptools"
)

func main() {
	// stdout carries the protocol
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	s := mcptools.New(a.Sessions, a.Datasets, a.Analytics, logger).NewServer("thermo-extraction", "0.1.0")
	if err := server.ServeStdio(s); err != nil {
		logger.Error("mcp server stopped", "error", err)
	}
}

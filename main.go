package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dave999999/SmartPick1-sub004/smartpick"
	"github.com/dave999999/SmartPick1-sub004/smartpick/logger"
	"github.com/dave999999/SmartPick1-sub004/smartpick/web"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := smartpick.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	customHandler := logger.NewHandler(cfg.Log.Level)
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting SmartPick",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app := smartpick.New(*cfg, version, commit)
	if err := app.Setup(ctx); err != nil {
		slog.Error("Failed to set up services", slog.Any("error", err))
		os.Exit(-1)
	}
	defer app.Shutdown()

	app.Scheduler.Start()

	server := web.NewServer(app)
	go func() {
		if err := server.Listen(cfg.Server.Address); err != nil {
			slog.Error("Server stopped", slog.Any("error", err))
		}
	}()
	slog.Info("SmartPick API listening", slog.String("address", cfg.Server.Address))

	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s

	slog.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", slog.Any("error", err))
	}
}

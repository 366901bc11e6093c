package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DevN0mad/JoinersLeavers/internal/config"
	"github.com/DevN0mad/JoinersLeavers/internal/core"
)

var (
	configPath = flag.String("config", "/etc/joiners_leavers/config.yaml", "Путь к файлу с конфигурацией")
	debug      = flag.Bool("debug", false, "Подробное логирование")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgMgr, err := config.NewManager(*configPath, logger)
	if err != nil {
		logger.Error("Failed to init config manager", "error", err)
		os.Exit(1)
	}

	app := core.NewApp(ctx, logger)

	if err := app.ApplyConfig(cfgMgr.Current()); err != nil {
		logger.Error("Failed to apply initial config", "error", err)
		os.Exit(1)
	}

	// Новая конфигурация пересоздаёт все сервисы, включая источник данных.
	cfgMgr.OnChange(func(newCfg config.Config) {
		if err := app.ApplyConfig(newCfg); err != nil {
			logger.Error("Failed to apply new config", "error", err)
		}
	})

	<-ctx.Done()
	logger.Info("Shutdown requested", "reason", ctx.Err())

	app.Shutdown()
	logger.Info("Shutdown complete")
}

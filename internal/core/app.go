package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DevN0mad/JoinersLeavers/internal/config"
	"github.com/DevN0mad/JoinersLeavers/internal/server"
	"github.com/DevN0mad/JoinersLeavers/internal/services"
	"github.com/DevN0mad/JoinersLeavers/internal/storage"
)

// App представляет основное приложение, управляющее сервисами.
type App struct {
	logger  *slog.Logger
	rootCtx context.Context

	mu             sync.Mutex
	store          *storage.Storage
	dataset        *services.DatasetService
	reports        *services.ReportService
	tg             *services.TelegramBotService
	dailyJob       *services.DailyJobService
	adminSrv       *server.AdminServer
	servicesCancel context.CancelFunc
}

// NewApp создает новый экземпляр приложения с заданным логгером и корневым контекстом.
func NewApp(ctx context.Context, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &App{
		logger:  logger,
		rootCtx: ctx,
	}
}

// ApplyConfig применяет конфигурацию к приложению, инициализируя/переинициализируя сервисы.
func (a *App) ApplyConfig(cfg config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cfg.DailyJob.Enabled && !cfg.TelegramBot.Enabled {
		return fmt.Errorf("daily job requires telegram_bot.enabled")
	}

	if a.servicesCancel != nil {
		a.logger.Info("Stopping previous services")
	}
	a.stopLocked()

	ctx, cancel := context.WithCancel(a.rootCtx)

	var store *storage.Storage
	var runs services.RunStore
	var chats services.ChatStore
	if cfg.Storage.Path != "" {
		s, err := storage.New(cfg.Storage.Path, a.logger)
		if err != nil {
			cancel()
			return fmt.Errorf("init storage: %w", err)
		}
		store, runs, chats = s, s, s
	}

	dataset := services.NewDatasetService(cfg.Dataset, a.logger)
	if _, err := dataset.Reload(ctx); err != nil {
		// сервер всё равно поднимается, данные подгрузятся при следующем запросе
		a.logger.Warn("Initial dataset load failed", "source", cfg.Dataset.Source, "error", err)
	}

	reports := services.NewReportService(cfg.Report, dataset, runs, a.logger)

	var tg *services.TelegramBotService
	var dailyJob *services.DailyJobService
	if cfg.TelegramBot.Enabled {
		var err error
		tg, err = services.NewTelegramBot(cfg.TelegramBot, chats, reports, a.logger)
		if err != nil {
			cancel()
			closeStore(store, a.logger)
			return fmt.Errorf("init telegram bot: %w", err)
		}

		if cfg.DailyJob.Enabled {
			dailyJob, err = services.NewDailyJobService(tg, reports, cfg.DailyJob, a.logger)
			if err != nil {
				cancel()
				closeStore(store, a.logger)
				return fmt.Errorf("init daily job: %w", err)
			}
		}
	}

	adminSrv := server.NewAdminHandler(a.logger, reports, &cfg.HttpServer)

	if cfg.Dataset.Watch {
		go func() {
			if err := dataset.Watch(ctx); err != nil {
				a.logger.Error("Dataset watcher exited with error", "error", err)
			}
		}()
	}
	if tg != nil {
		go tg.Start(ctx)
	}
	if dailyJob != nil {
		go dailyJob.Start(ctx)
	}
	go func() {
		if err := adminSrv.Start(ctx); err != nil {
			a.logger.Error("Admin server exited with error", "error", err)
		}
	}()

	a.store = store
	a.dataset = dataset
	a.reports = reports
	a.tg = tg
	a.dailyJob = dailyJob
	a.adminSrv = adminSrv
	a.servicesCancel = cancel

	a.logger.Info("Services reinitialized successfully with configuration",
		"telegram", tg != nil,
		"daily_job", dailyJob != nil,
		"storage", store != nil)
	return nil
}

// Shutdown останавливает все запущенные сервисы приложения.
func (a *App) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.servicesCancel != nil {
		a.logger.Info("Stopping services on shutdown")
	}
	a.stopLocked()
}

func (a *App) stopLocked() {
	if a.servicesCancel != nil {
		a.servicesCancel()
		a.servicesCancel = nil
	}
	closeStore(a.store, a.logger)
	a.store = nil
}

func closeStore(s *storage.Storage, logger *slog.Logger) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		logger.Error("Failed to close storage", "error", err)
	}
}

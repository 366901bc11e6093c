package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DailyJobOpts параметры необходимые для работы сервиса.
type DailyJobOpts struct {
	Enabled  bool   `mapstructure:"enabled"`
	Hour     int    `mapstructure:"hour" validate:"min=0,max=23"`
	Minute   int    `mapstructure:"minute" validate:"min=0,max=59"`
	Timezone string `mapstructure:"timezone"`
}

// FileSender отправляет готовый файл.
type FileSender interface {
	SendFile(ctx context.Context, path string) error
}

// ReportGenerator формирует файл отчёта.
type ReportGenerator interface {
	GenerateExcelReport(ctx context.Context, f Filter) (string, error)
}

// DailyJobService формирует отчёт и отправляет его каждый день в заданное время.
type DailyJobService struct {
	sender   FileSender
	reports  ReportGenerator
	hour     int
	minute   int
	timezone *time.Location
	logger   *slog.Logger
}

// NewDailyJobService создаёт сервис для ежедневной отправки отчёта.
func NewDailyJobService(
	sender FileSender,
	reports ReportGenerator,
	opts DailyJobOpts,
	logger *slog.Logger,
) (*DailyJobService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}

	if reports == nil {
		return nil, fmt.Errorf("report generator is required")
	}

	tz := time.Local
	if opts.Timezone != "" {
		loc, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", opts.Timezone, err)
		}
		tz = loc
	}

	logger.Info("Daily job configured",
		"hour", opts.Hour,
		"minute", opts.Minute,
		"timezone", tz.String())

	return &DailyJobService{
		sender:   sender,
		reports:  reports,
		hour:     opts.Hour,
		minute:   opts.Minute,
		timezone: tz,
		logger:   logger,
	}, nil
}

// Start запускает цикл отправки.
func (d *DailyJobService) Start(ctx context.Context) {
	nextRun := d.nextRunTime(time.Now())
	timer := time.NewTimer(time.Until(nextRun))
	d.logger.Info("Next run scheduled", "at", nextRun.Format(time.RFC3339))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutdown requested")
			timer.Stop()
			return
		case <-timer.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Error("Daily report failed", "error", err)
			} else {
				d.logger.Info("Daily report sent successfully")
			}

			nextRun = d.nextRunTime(time.Now())
			timer.Reset(time.Until(nextRun))
			d.logger.Info("Next run scheduled", "at", nextRun.Format(time.RFC3339))
		}
	}
}

// RunOnce формирует отчёт по всем данным и отправляет его.
func (d *DailyJobService) RunOnce(ctx context.Context) error {
	path, err := d.reports.GenerateExcelReport(ctx, Filter{})
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}
	if err := d.sender.SendFile(ctx, path); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}

// nextRunTime вычисляет ближайшее время запуска после now.
func (d *DailyJobService) nextRunTime(now time.Time) time.Time {
	now = now.In(d.timezone)
	today := time.Date(now.Year(), now.Month(), now.Day(), d.hour, d.minute, 0, 0, d.timezone)

	if now.After(today) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

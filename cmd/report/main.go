package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DevN0mad/JoinersLeavers/internal/config"
	"github.com/DevN0mad/JoinersLeavers/internal/models"
	"github.com/DevN0mad/JoinersLeavers/internal/services"
	"github.com/DevN0mad/JoinersLeavers/internal/storage"
)

var (
	configPath = flag.String("config", "", "Путь к файлу с конфигурацией (необязательно)")
	source     = flag.String("source", "", "Файл или URL с данными (csv, xlsx, xls)")
	sheet      = flag.String("sheet", "", "Лист книги")
	saveDir    = flag.String("out", ".", "Каталог для xlsx отчёта")
	csvPath    = flag.String("csv", "", "Дополнительно сохранить отфильтрованные строки в CSV")
	from       = flag.String("from", "", "Дата прихода с (YYYY-MM-DD)")
	to         = flag.String("to", "", "Дата прихода по (YYYY-MM-DD)")
	years      = flag.String("years", "", "Годы прихода через запятую")
	people     = flag.String("people", "", "Люди через запятую")
	kind       = flag.String("kind", "", "joiner или leaver")
)

func main() {
	flag.Parse()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(context.Background(), logger); err != nil {
		logger.Error("Failed to generate report", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := buildFilter()
	if err != nil {
		return err
	}

	var runs services.RunStore
	if cfg.Storage.Path != "" {
		store, err := storage.New(cfg.Storage.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		runs = store
	}

	dataset := services.NewDatasetService(cfg.Dataset, logger)
	reports := services.NewReportService(cfg.Report, dataset, runs, logger)

	resPath, err := reports.GenerateExcelReport(ctx, f)
	if err != nil {
		return err
	}
	logger.Info("Result path to file", "path", resPath)

	if *csvPath != "" {
		out, err := os.Create(*csvPath)
		if err != nil {
			return fmt.Errorf("create csv: %w", err)
		}
		defer out.Close()

		if err := reports.WriteCSV(ctx, out, f); err != nil {
			return err
		}
		logger.Info("CSV export written", "path", *csvPath)
	}

	summary, err := reports.Summary(ctx, f)
	if err != nil {
		return err
	}
	fmt.Println(services.FormatSummary(summary))
	return nil
}

// loadConfig берёт конфигурацию из файла, флаги имеют приоритет.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	} else {
		cfg.Dataset.Normalize = services.DefaultNormalizeOpts()
		cfg.Report.SaveDir = *saveDir
	}

	if *source != "" {
		cfg.Dataset.Source = *source
	}
	if *sheet != "" {
		cfg.Dataset.Sheet = *sheet
	}
	if isFlagSet("out") {
		cfg.Report.SaveDir = *saveDir
	}

	if cfg.Dataset.Source == "" {
		return cfg, fmt.Errorf("dataset source is required: use -source or -config")
	}
	return cfg, nil
}

func buildFilter() (services.Filter, error) {
	var f services.Filter
	var err error

	if f.From, err = services.ParseDay(*from); err != nil {
		return f, err
	}
	if f.To, err = services.ParseDay(*to); err != nil {
		return f, err
	}

	for _, y := range splitList(*years) {
		year, err := strconv.Atoi(y)
		if err != nil {
			return f, fmt.Errorf("invalid year %q", y)
		}
		f.Years = append(f.Years, year)
	}
	f.People = splitList(*people)

	switch k := models.Kind(strings.ToLower(*kind)); k {
	case "", models.KindJoiner, models.KindLeaver:
		f.Kind = k
	default:
		return f, fmt.Errorf("invalid kind %q", *kind)
	}

	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("-to %s is before -from %s", f.To.Format(time.DateOnly), f.From.Format(time.DateOnly))
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

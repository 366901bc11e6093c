package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

// DatasetOpts параметры источника данных.
type DatasetOpts struct {
	Source         string        `mapstructure:"source" validate:"required"`
	Format         string        `mapstructure:"format" validate:"omitempty,oneof=csv xlsx xls"`
	Sheet          string        `mapstructure:"sheet"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds" validate:"min=0"`
	RefreshMinutes int           `mapstructure:"refresh_minutes" validate:"min=0"`
	Watch          bool          `mapstructure:"watch"`
	Normalize      NormalizeOpts `mapstructure:"normalize"`
}

// DatasetService загружает и кэширует нормализованный набор данных.
type DatasetService struct {
	opts   DatasetOpts
	logger *slog.Logger
	client *http.Client

	mu       sync.RWMutex
	current  *models.Dataset
	loadedAt time.Time
	modTime  time.Time
}

// NewDatasetService создаёт сервис; данные загружаются при первом обращении.
func NewDatasetService(opts DatasetOpts, logger *slog.Logger) *DatasetService {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &DatasetService{
		opts:   opts,
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// Source путь или URL источника.
func (s *DatasetService) Source() string {
	return s.opts.Source
}

// Dataset возвращает закэшированный набор, перезагружая его, если он устарел.
// Ошибка повторной загрузки не теряет предыдущие данные.
func (s *DatasetService) Dataset(ctx context.Context) (*models.Dataset, error) {
	s.mu.RLock()
	current := s.current
	stale := s.staleLocked()
	s.mu.RUnlock()

	if current != nil && !stale {
		return current, nil
	}

	ds, err := s.Reload(ctx)
	if err != nil {
		if current != nil {
			s.logger.Warn("Dataset reload failed, serving previous data", "source", s.opts.Source, "error", err)
			return current, nil
		}
		return nil, err
	}
	return ds, nil
}

func (s *DatasetService) staleLocked() bool {
	if s.current == nil {
		return true
	}

	if isRemote(s.opts.Source) {
		if s.opts.RefreshMinutes == 0 {
			return false
		}
		return time.Since(s.loadedAt) > time.Duration(s.opts.RefreshMinutes)*time.Minute
	}

	info, err := os.Stat(s.opts.Source)
	if err != nil {
		return false
	}
	return !info.ModTime().Equal(s.modTime)
}

// Reload принудительно перечитывает источник.
func (s *DatasetService) Reload(ctx context.Context) (*models.Dataset, error) {
	var modTime time.Time
	if !isRemote(s.opts.Source) {
		if info, err := os.Stat(s.opts.Source); err == nil {
			modTime = info.ModTime()
		}
	}

	rows, err := ReadRows(ctx, s.client, s.opts)
	if err != nil {
		s.logger.Error("Failed to read dataset", "source", s.opts.Source, "error", err)
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	ds, err := Normalize(rows, s.opts.Normalize)
	if err != nil {
		s.logger.Error("Failed to normalize dataset", "source", s.opts.Source, "error", err)
		return nil, fmt.Errorf("normalize dataset: %w", err)
	}
	ds.Source = s.opts.Source
	ds.LoadedAt = time.Now()

	for _, w := range ds.Warnings {
		s.logger.Warn("Dataset warning", "source", s.opts.Source, "warning", w)
	}

	s.mu.Lock()
	s.current = ds
	s.loadedAt = ds.LoadedAt
	s.modTime = modTime
	s.mu.Unlock()

	s.logger.Info("Dataset loaded",
		"source", s.opts.Source,
		"header_row", ds.HeaderRow,
		"attorneys", len(ds.Attorneys),
		"periods", len(ds.Periods),
		"warnings", len(ds.Warnings))

	return ds, nil
}

// Watch следит за локальным файлом и перечитывает его при изменении.
// Блокируется до отмены контекста.
func (s *DatasetService) Watch(ctx context.Context) error {
	if isRemote(s.opts.Source) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Следим за каталогом: редакторы и выгрузки часто заменяют файл целиком.
	dir := filepath.Dir(s.opts.Source)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %q: %w", dir, err)
	}

	target := filepath.Clean(s.opts.Source)
	s.logger.Info("Watching dataset file", "path", target)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Dataset watcher stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			s.logger.Info("Dataset file changed", "name", event.Name, "op", event.Op.String())
			if _, err := s.Reload(ctx); err != nil {
				s.logger.Warn("Reload after file change failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Dataset watcher error", "error", err)
		}
	}
}

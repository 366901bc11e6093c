package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

// Opts параметры sqlite хранилища.
type Opts struct {
	Path string `mapstructure:"path"`
}

// Storage хранит подписанные чаты и историю отчётов.
type Storage struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New открывает (или создаёт) базу и применяет миграции.
func New(dbPath string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("failed to create db dir", "dir", dir, "error", err)
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Error("failed to open sqlite db", "path", dbPath, "error", err)
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&models.Chat{}, &models.ReportRun{}); err != nil {
		logger.Error("failed to auto-migrate models", "error", err)
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	logger.Info("sqlite storage initialized", "path", dbPath)

	return &Storage{db: db, logger: logger}, nil
}

// Close закрывает соединение с базой.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveChat подписывает чат или обновляет его название.
func (s *Storage) SaveChat(ctx context.Context, chatID int64, title string) error {
	db := s.db.WithContext(ctx)

	var chat models.Chat
	if err := db.Where("chat_id = ?", chatID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			chat = models.Chat{
				ChatID:       chatID,
				Title:        title,
				SubscribedAt: time.Now(),
			}
			if err := db.Create(&chat).Error; err != nil {
				s.logger.Error("failed to create chat", "chat_id", chatID, "title", title, "error", err)
				return fmt.Errorf("create chat: %w", err)
			}
			s.logger.Info("chat subscribed", "chat_id", chatID, "title", title)
			return nil
		}

		s.logger.Error("failed to load chat", "chat_id", chatID, "error", err)
		return fmt.Errorf("load chat: %w", err)
	}

	chat.Title = title
	if err := db.Save(&chat).Error; err != nil {
		s.logger.Error("failed to update chat", "chat_id", chatID, "title", title, "error", err)
		return fmt.Errorf("update chat: %w", err)
	}

	s.logger.Info("chat updated", "chat_id", chatID, "title", title)
	return nil
}

// RemoveChat отписывает чат.
func (s *Storage) RemoveChat(ctx context.Context, chatID int64) error {
	db := s.db.WithContext(ctx)

	if err := db.Where("chat_id = ?", chatID).Delete(&models.Chat{}).Error; err != nil {
		s.logger.Error("failed to remove chat", "chat_id", chatID, "error", err)
		return fmt.Errorf("remove chat: %w", err)
	}

	s.logger.Info("chat removed", "chat_id", chatID)
	return nil
}

// ListChats идентификаторы всех подписанных чатов.
func (s *Storage) ListChats(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&models.Chat{}).Order("id").Pluck("chat_id", &ids).Error; err != nil {
		s.logger.Error("failed to list chats", "error", err)
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return ids, nil
}

// UpdateChatID переносит подписку при миграции группы в супергруппу.
func (s *Storage) UpdateChatID(ctx context.Context, oldChatID, newChatID int64) error {
	db := s.db.WithContext(ctx)

	res := db.Model(&models.Chat{}).
		Where("chat_id = ?", oldChatID).
		Updates(map[string]any{
			"chat_id":       newChatID,
			"subscribed_at": time.Now(),
		})

	if res.Error != nil {
		s.logger.Error("failed to update chat_id",
			"old_chat_id", oldChatID,
			"new_chat_id", newChatID,
			"error", res.Error)
		return fmt.Errorf("update chat id: %w", res.Error)
	}

	s.logger.Debug("chat_id updated",
		"old_chat_id", oldChatID,
		"new_chat_id", newChatID,
		"rows_affected", res.RowsAffected)

	return nil
}

// SaveRun сохраняет запись о сформированном отчёте.
func (s *Storage) SaveRun(ctx context.Context, run *models.ReportRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		s.logger.Error("failed to save report run", "error", err)
		return fmt.Errorf("save report run: %w", err)
	}
	return nil
}

// ListRuns последние отчёты, новые первыми.
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]models.ReportRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var runs []models.ReportRun
	if err := s.db.WithContext(ctx).Order("generated_at desc, id desc").Limit(limit).Find(&runs).Error; err != nil {
		s.logger.Error("failed to list report runs", "error", err)
		return []models.ReportRun{}, fmt.Errorf("list report runs: %w", err)
	}
	return runs, nil
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

// TelegramOpts параметры необходимые для инициализации сервиса TelegramBotService.
type TelegramOpts struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token" validate:"required_if=Enabled true"`
	ChatID  int64  `mapstructure:"chat_id"`
	Message string `mapstructure:"message"`
}

// ChatStore хранилище подписанных чатов.
type ChatStore interface {
	SaveChat(ctx context.Context, chatID int64, title string) error
	RemoveChat(ctx context.Context, chatID int64) error
	ListChats(ctx context.Context) ([]int64, error)
	UpdateChatID(ctx context.Context, oldChatID, newChatID int64) error
}

// SummaryProvider источник сводки для команды /summary.
type SummaryProvider interface {
	Summary(ctx context.Context, f Filter) (models.Summary, error)
}

// TelegramBotService сервис предназначенный для взаимодействия с telegram.
type TelegramBotService struct {
	opts    TelegramOpts
	logger  *slog.Logger
	bot     *tgbotapi.BotAPI
	chats   ChatStore
	reports SummaryProvider
}

// NewTelegramBot создает экземпляр сервиса для работы с telegram ботом.
// chats и reports могут быть nil: тогда команды подписки и /summary недоступны.
func NewTelegramBot(opts TelegramOpts, chats ChatStore, reports SummaryProvider, logger *slog.Logger) (*TelegramBotService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	bot, err := tgbotapi.NewBotAPI(opts.Token)
	if err != nil {
		logger.Error("Failed to create Telegram bot", "error", err)
		return nil, fmt.Errorf("create Telegram bot: %w", err)
	}

	logger.Info("Telegram bot created successfully",
		"bot_user", bot.Self.UserName,
		"chat_id", opts.ChatID,
	)
	return &TelegramBotService{
		opts:    opts,
		logger:  logger,
		bot:     bot,
		chats:   chats,
		reports: reports,
	}, nil
}

// Start обрабатывает входящие команды до отмены контекста.
func (s *TelegramBotService) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := s.bot.GetUpdatesChan(u)
	s.logger.Info("Telegram updates loop started")

	for {
		select {
		case <-ctx.Done():
			s.bot.StopReceivingUpdates()
			s.logger.Info("Telegram updates loop stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			s.handleMessage(ctx, update.Message)
		}
	}
}

func (s *TelegramBotService) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}

	if msg.MigrateToChatID != 0 && s.chats != nil {
		if err := s.chats.UpdateChatID(ctx, msg.Chat.ID, msg.MigrateToChatID); err != nil {
			s.logger.Error("Failed to migrate chat", "chat_id", msg.Chat.ID, "error", err)
		}
		return
	}

	if !msg.IsCommand() {
		return
	}

	reply := s.handleCommand(ctx, msg.Command(), msg.Chat.ID, chatTitle(msg.Chat))
	if reply == "" {
		return
	}

	if _, err := s.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
		s.logger.Error("Failed to send reply", "chat_id", msg.Chat.ID, "error", err)
	}
}

// handleCommand возвращает текст ответа на команду.
func (s *TelegramBotService) handleCommand(ctx context.Context, command string, chatID int64, title string) string {
	switch command {
	case "start", "subscribe":
		if s.chats == nil {
			return "Subscriptions are disabled."
		}
		if err := s.chats.SaveChat(ctx, chatID, title); err != nil {
			s.logger.Error("Failed to subscribe chat", "chat_id", chatID, "error", err)
			return "Failed to subscribe, try again later."
		}
		return "Subscribed to the daily joiners and leavers report."
	case "stop", "unsubscribe":
		if s.chats == nil {
			return "Subscriptions are disabled."
		}
		if err := s.chats.RemoveChat(ctx, chatID); err != nil {
			s.logger.Error("Failed to unsubscribe chat", "chat_id", chatID, "error", err)
			return "Failed to unsubscribe, try again later."
		}
		return "Unsubscribed."
	case "summary":
		if s.reports == nil {
			return "Summary is not available."
		}
		summary, err := s.reports.Summary(ctx, Filter{})
		if err != nil {
			s.logger.Error("Failed to build summary", "error", err)
			return "Failed to build summary."
		}
		return FormatSummary(summary)
	case "help":
		return "/subscribe - receive the daily report\n/unsubscribe - stop receiving it\n/summary - current totals"
	default:
		return ""
	}
}

func chatTitle(chat *tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.UserName != "" {
		return "@" + chat.UserName
	}
	return fmt.Sprintf("%s %s", chat.FirstName, chat.LastName)
}

// recipients основной чат из конфигурации плюс подписанные, без повторов.
func (s *TelegramBotService) recipients(ctx context.Context) []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	add := func(id int64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	add(s.opts.ChatID)
	if s.chats != nil {
		stored, err := s.chats.ListChats(ctx)
		if err != nil {
			s.logger.Error("Failed to list subscribed chats", "error", err)
		}
		for _, id := range stored {
			add(id)
		}
	}
	return ids
}

// SendFile отправляет файл по переданному пути во все чаты получателей.
func (s *TelegramBotService) SendFile(ctx context.Context, path string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			s.logger.Error("File not found", "path", path, "error", err)
			return fmt.Errorf("file not found at %q: %w", path, err)
		}
		s.logger.Error("Failed to access file", "path", path, "error", err)
		return fmt.Errorf("access file at %q: %w", path, err)
	}

	chats := s.recipients(ctx)
	if len(chats) == 0 {
		s.logger.Warn("No chats to send the report to", "path", path)
		return nil
	}

	var failed int
	for _, chatID := range chats {
		msg := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
		msg.Caption = s.opts.Message

		if _, err := s.bot.Send(msg); err != nil {
			s.logger.Error("Failed to send file",
				"path", path,
				"chat_id", chatID,
				"error", err)
			failed++
			continue
		}

		s.logger.Info("File sent successfully",
			"path", path,
			"chat_id", chatID)
	}

	if failed == len(chats) {
		return fmt.Errorf("send file: all %d chats failed", failed)
	}
	return nil
}

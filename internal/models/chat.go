package models

import "time"

// Chat telegram-чат, подписанный на рассылку отчёта.
type Chat struct {
	ID           uint      `gorm:"column:id;primaryKey" db:"id"`
	ChatID       int64     `gorm:"column:chat_id;uniqueIndex;not null" db:"chat_id"`
	Title        string    `gorm:"column:title;not null" db:"title"`
	SubscribedAt time.Time `gorm:"column:subscribed_at;autoCreateTime" db:"subscribed_at"`
}

func (Chat) TableName() string {
	return "chats"
}

package domain

import "time"

// ProcessedUpdate records the outcome of a webhook update that was already
// reconciled, keyed by (bot_id, update_id). Redelivered updates are answered
// from this record without touching chats or messages again.
type ProcessedUpdate struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	BotID     int64     `gorm:"not null;uniqueIndex:ux_bot_update,priority:1"`
	UpdateID  string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_bot_update,priority:2"`
	Kind      string    `gorm:"type:varchar(32);not null"`
	ChatID    string    `gorm:"type:char(36);not null"`
	MessageID string    `gorm:"type:char(36);not null;default:''"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedUpdate) TableName() string { return "processed_updates" }

// Package domain defines the persistence models for chats, chat participants
// and chat messages reconciled from bot webhook events. These types are
// mapped with GORM and shared across the repository and service layers.
//
// External identifiers (chat, user, message) are platform-assigned strings and
// are never used as foreign keys: children always reference Chat.ID, the
// store-assigned surrogate key.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// ChatStatus is the lifecycle state of a Chat.
type ChatStatus string

const (
	ChatStatusNew      ChatStatus = "NEW"
	ChatStatusActive   ChatStatus = "ACTIVE"
	ChatStatusArchived ChatStatus = "ARCHIVED"
)

// ChatType mirrors the kind of conversation reported by the platform.
type ChatType string

const (
	ChatTypePrivate    ChatType = "PRIVATE"
	ChatTypeGroup      ChatType = "GROUP"
	ChatTypeSupergroup ChatType = "SUPERGROUP"
	ChatTypeChannel    ChatType = "CHANNEL"
)

// ChatUserStatus is the relationship state between a participant and the bot.
type ChatUserStatus string

const (
	ChatUserStatusActive  ChatUserStatus = "ACTIVE"
	ChatUserStatusBlocked ChatUserStatus = "BLOCKED"
)

// MessageType classifies a ChatMessage.
type MessageType string

const (
	MessageTypeConversation MessageType = "CONVERSATION"
	MessageTypeCommand      MessageType = "COMMAND"
	MessageTypeSticker      MessageType = "STICKER"
	MessageTypeMedia        MessageType = "MEDIA"
)

// Chat is one conversation thread between a bot and an external party.
//
// Fields:
//   - ID: UUID surrogate key (char(36)).
//   - ExternalChatID / BotID: platform chat id and owning bot; the pair is
//     unique and is the only idempotency key for chat creation.
//   - Status / Type: lifecycle state (NEW on creation) and chat kind.
//   - Metadata: best-effort chat details from the enrichment client (nullable).
type Chat struct {
	ID             string         `json:"id"               gorm:"type:char(36);primaryKey"`
	ExternalChatID string         `json:"external_chat_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_chat_external_bot,priority:1"`
	BotID          int64          `json:"bot_id"           gorm:"not null;uniqueIndex:ux_chat_external_bot,priority:2;index:idx_bot_chats"`
	Status         ChatStatus     `json:"status"           gorm:"type:varchar(16);not null;default:'NEW'"`
	Type           ChatType       `json:"type"             gorm:"type:varchar(16);not null;default:'PRIVATE'"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// ChatUser is a participant of a Chat scoped to one external user identity.
// A block is only ever lifted by an explicit unblock event.
type ChatUser struct {
	ID             string         `json:"id"               gorm:"type:char(36);primaryKey"`
	ChatID         string         `json:"chat_id"          gorm:"type:char(36);not null;uniqueIndex:ux_chat_user_external,priority:1"`
	ExternalUserID string         `json:"external_user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_chat_user_external,priority:2"`
	Status         ChatUserStatus `json:"status"           gorm:"type:varchar(16);not null;default:'ACTIVE'"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatUser.
func (ChatUser) TableName() string { return "chat_users" }

// ChatMessage is one message as known to the platform, or its edited successor.
// (ChatID, ExternalMessageID) is unique; edits mutate the row in place.
type ChatMessage struct {
	ID                string         `json:"id"                  gorm:"type:char(36);primaryKey"`
	ChatID            string         `json:"chat_id"             gorm:"type:char(36);not null;uniqueIndex:ux_chat_message_external,priority:1;index:idx_chat_messages,priority:1"`
	ExternalMessageID string         `json:"external_message_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_chat_message_external,priority:2"`
	ExternalUserID    string         `json:"external_user_id"    gorm:"type:varchar(64)"`
	Text              string         `json:"text"                gorm:"type:text;not null"`
	Type              MessageType    `json:"type"                gorm:"type:varchar(16);not null"`
	AttachmentRef     string         `json:"attachment_ref,omitempty" gorm:"type:varchar(255)"`
	FileInfo          datatypes.JSON `json:"file_info,omitempty"`
	SentAt            time.Time      `json:"sent_at"`
	EditedAt          *time.Time     `json:"edited_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"          gorm:"index:idx_chat_messages,priority:2"`
	UpdatedAt         time.Time      `json:"updated_at"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatMessage.
func (ChatMessage) TableName() string { return "chat_messages" }

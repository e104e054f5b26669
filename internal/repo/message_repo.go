// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ChatMessage model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-ingest/internal/domain"
)

// NewMessage carries the fields of a message to insert.
type NewMessage struct {
	ChatID            string
	ExternalMessageID string
	ExternalUserID    string
	Text              string
	Type              domain.MessageType
	AttachmentRef     string
	SentAt            time.Time
	EditedAt          *time.Time
}

// FindMessageByExternalID looks a message up by (chatID, externalMessageID).
func FindMessageByExternalID(ctx context.Context, db *gorm.DB, chatID, externalMessageID string) (*domain.ChatMessage, error) {
	var m domain.ChatMessage
	err := db.WithContext(ctx).
		Where("chat_id = ? AND external_message_id = ?", chatID, externalMessageID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMessage inserts a message. If (chat_id, external_message_id) already
// exists nothing is written and ErrConflict is returned.
func CreateMessage(ctx context.Context, db *gorm.DB, in NewMessage) (*domain.ChatMessage, error) {
	now := time.Now().UTC()
	sentAt := in.SentAt
	if sentAt.IsZero() {
		sentAt = now
	}
	m := &domain.ChatMessage{
		ID:                uuid.NewString(),
		ChatID:            in.ChatID,
		ExternalMessageID: in.ExternalMessageID,
		ExternalUserID:    in.ExternalUserID,
		Text:              in.Text,
		Type:              in.Type,
		AttachmentRef:     in.AttachmentRef,
		SentAt:            sentAt.UTC(),
		EditedAt:          in.EditedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	res := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m)
	if err := res.Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return m, nil
}

// UpdateMessageText replaces a message's text and edit timestamp in place.
// If no rows are affected it returns ErrNotFound.
func UpdateMessageText(ctx context.Context, db *gorm.DB, id, text string, editedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.ChatMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"text":       text,
			"edited_at":  editedAt.UTC(),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateMessageFileInfo stores enrichment file metadata on a message.
func UpdateMessageFileInfo(ctx context.Context, db *gorm.DB, id string, info datatypes.JSON) error {
	res := db.WithContext(ctx).
		Model(&domain.ChatMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"file_info":  info,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetMessage fetches a message by its internal id.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.ChatMessage, error) {
	var m domain.ChatMessage
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages returns the number of messages in a chat.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ChatMessage{}).
		Where("chat_id = ?", chatID).
		Count(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (SentAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("sent_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

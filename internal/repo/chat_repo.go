// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - CreateChatIfAbsent returns ErrConflict when the (external_chat_id,
//     bot_id) key already exists; the caller re-fetches.
//   - On other DB errors the raw gorm error is propagated.
//
// Functions:
//
//   - FindChatByExternalID(ctx, db, externalChatID, botID) -> *domain.Chat, error
//   - CreateChatIfAbsent(ctx, db, externalChatID, botID, chatType) -> *domain.Chat, error
//   - GetChat(ctx, db, id) -> *domain.Chat, error
//   - CountChats(ctx, db, botID) -> (int64, error)
//   - ListChatsPage(ctx, db, botID, offset, limit) -> []domain.Chat, error
//   - UpdateChatMetadata(ctx, db, id, metadata) -> error
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

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// FindChatByExternalID looks a chat up by its idempotency key.
func FindChatByExternalID(ctx context.Context, db *gorm.DB, externalChatID string, botID int64) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Where("external_chat_id = ? AND bot_id = ?", externalChatID, botID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateChatIfAbsent inserts a NEW chat for (externalChatID, botID). If the
// key already exists, nothing is written and ErrConflict is returned.
//
// The insert is ON CONFLICT DO NOTHING: a unique violation would abort a
// surrounding PostgreSQL transaction.
func CreateChatIfAbsent(ctx context.Context, db *gorm.DB, externalChatID string, botID int64, chatType domain.ChatType) (*domain.Chat, error) {
	if chatType == "" {
		chatType = domain.ChatTypePrivate
	}
	now := time.Now().UTC()
	c := &domain.Chat{
		ID:             uuid.NewString(),
		ExternalChatID: externalChatID,
		BotID:          botID,
		Status:         domain.ChatStatusNew,
		Type:           chatType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(c)
	if err := res.Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return c, nil
}

// GetChat fetches a chat by its internal id, or ErrNotFound.
func GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CountChats returns the number of chats owned by botID.
func CountChats(ctx context.Context, db *gorm.DB, botID int64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("bot_id = ?", botID).
		Count(&total).Error
	return total, err
}

// ListChatsPage returns a page of botID's chats, most recently updated first.
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListChatsPage(ctx context.Context, db *gorm.DB, botID int64, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("updated_at desc").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateChatMetadata stores enrichment output on a chat. If no rows are
// affected it returns ErrNotFound.
func UpdateChatMetadata(ctx context.Context, db *gorm.DB, id string, metadata datatypes.JSON) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"metadata":   metadata,
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

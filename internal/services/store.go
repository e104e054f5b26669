package services

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-ingest/internal/domain"
	"github.com/tbourn/go-chat-ingest/internal/repo"
)

// EntityStore is the persistence contract consumed by the Reconciler. Every
// method takes the handle to run on, so the core steps share one transaction.
//
// CreateChatIfAbsent and CreateMessage return repo.ErrConflict when the
// idempotency key already exists; lookups return repo.ErrNotFound.
type EntityStore interface {
	FindChatByExternalID(ctx context.Context, db *gorm.DB, externalChatID string, botID int64) (*domain.Chat, error)
	CreateChatIfAbsent(ctx context.Context, db *gorm.DB, externalChatID string, botID int64, chatType domain.ChatType) (*domain.Chat, error)
	FindOrCreateChatUser(ctx context.Context, db *gorm.DB, chatID, externalUserID string) (*domain.ChatUser, bool, error)
	UpdateChatUserStatus(ctx context.Context, db *gorm.DB, id string, status domain.ChatUserStatus) (bool, error)
	FindMessageByExternalID(ctx context.Context, db *gorm.DB, chatID, externalMessageID string) (*domain.ChatMessage, error)
	CreateMessage(ctx context.Context, db *gorm.DB, in repo.NewMessage) (*domain.ChatMessage, error)
	UpdateMessageText(ctx context.Context, db *gorm.DB, id, text string, editedAt time.Time) error
	RecordProcessedUpdate(ctx context.Context, db *gorm.DB, botID int64, updateID, kind, chatID, messageID string, ttl time.Duration) (bool, error)

	UpdateChatMetadata(ctx context.Context, db *gorm.DB, id string, metadata datatypes.JSON) error
	UpdateMessageFileInfo(ctx context.Context, db *gorm.DB, id string, info datatypes.JSON) error
}

// RepoStore adapts the repo package functions to EntityStore.
type RepoStore struct{}

func (RepoStore) FindChatByExternalID(ctx context.Context, db *gorm.DB, externalChatID string, botID int64) (*domain.Chat, error) {
	return repo.FindChatByExternalID(ctx, db, externalChatID, botID)
}

func (RepoStore) CreateChatIfAbsent(ctx context.Context, db *gorm.DB, externalChatID string, botID int64, chatType domain.ChatType) (*domain.Chat, error) {
	return repo.CreateChatIfAbsent(ctx, db, externalChatID, botID, chatType)
}

func (RepoStore) FindOrCreateChatUser(ctx context.Context, db *gorm.DB, chatID, externalUserID string) (*domain.ChatUser, bool, error) {
	return repo.FindOrCreateChatUser(ctx, db, chatID, externalUserID)
}

func (RepoStore) UpdateChatUserStatus(ctx context.Context, db *gorm.DB, id string, status domain.ChatUserStatus) (bool, error) {
	return repo.UpdateChatUserStatus(ctx, db, id, status)
}

func (RepoStore) FindMessageByExternalID(ctx context.Context, db *gorm.DB, chatID, externalMessageID string) (*domain.ChatMessage, error) {
	return repo.FindMessageByExternalID(ctx, db, chatID, externalMessageID)
}

func (RepoStore) CreateMessage(ctx context.Context, db *gorm.DB, in repo.NewMessage) (*domain.ChatMessage, error) {
	return repo.CreateMessage(ctx, db, in)
}

func (RepoStore) UpdateMessageText(ctx context.Context, db *gorm.DB, id, text string, editedAt time.Time) error {
	return repo.UpdateMessageText(ctx, db, id, text, editedAt)
}

func (RepoStore) RecordProcessedUpdate(ctx context.Context, db *gorm.DB, botID int64, updateID, kind, chatID, messageID string, ttl time.Duration) (bool, error) {
	return repo.RecordProcessedUpdate(ctx, db, botID, updateID, kind, chatID, messageID, ttl)
}

func (RepoStore) UpdateChatMetadata(ctx context.Context, db *gorm.DB, id string, metadata datatypes.JSON) error {
	return repo.UpdateChatMetadata(ctx, db, id, metadata)
}

func (RepoStore) UpdateMessageFileInfo(ctx context.Context, db *gorm.DB, id string, info datatypes.JSON) error {
	return repo.UpdateMessageFileInfo(ctx, db, id, info)
}

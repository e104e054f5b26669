// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ChatUser
// model. Participants are created lazily and only their status changes.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-ingest/internal/domain"
)

// FindOrCreateChatUser returns the participant for (chatID, externalUserID),
// inserting an ACTIVE one on first sight. created reports whether this call
// inserted the row. A concurrent insert of the same key is absorbed.
func FindOrCreateChatUser(ctx context.Context, db *gorm.DB, chatID, externalUserID string) (u *domain.ChatUser, created bool, err error) {
	now := time.Now().UTC()
	row := &domain.ChatUser{
		ID:             uuid.NewString(),
		ChatID:         chatID,
		ExternalUserID: externalUserID,
		Status:         domain.ChatUserStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	res := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)
	if res.Error != nil && !isUniqueViolation(res.Error) {
		return nil, false, res.Error
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return row, true, nil
	}

	var existing domain.ChatUser
	err = db.WithContext(ctx).
		Where("chat_id = ? AND external_user_id = ?", chatID, externalUserID).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// UpdateChatUserStatus sets a participant's status. It reports whether the
// row changed; setting the current status again is a no-op. A missing row
// yields ErrNotFound.
func UpdateChatUserStatus(ctx context.Context, db *gorm.DB, id string, status domain.ChatUserStatus) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ChatUser{}).
		Where("id = ? AND status <> ?", id, status).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var n int64
	if err := db.WithContext(ctx).Model(&domain.ChatUser{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, gorm.ErrRecordNotFound
	}
	return false, nil
}

// ListChatUsers returns a chat's participants in order of first sight.
func ListChatUsers(ctx context.Context, db *gorm.DB, chatID string) ([]domain.ChatUser, error) {
	var out []domain.ChatUser
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

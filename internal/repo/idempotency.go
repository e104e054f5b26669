// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the processed-update log that lets
// redelivered webhook updates be answered without reconciling them again.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-ingest/internal/domain"
)

// GetProcessedUpdate returns a non-expired record or ErrNotFound.
func GetProcessedUpdate(ctx context.Context, db *gorm.DB, botID int64, updateID string, now time.Time) (*domain.ProcessedUpdate, error) {
	if strings.TrimSpace(updateID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.ProcessedUpdate
	err := db.WithContext(ctx).
		Where("bot_id = ? AND update_id = ? AND expires_at > ?", botID, updateID, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordProcessedUpdate inserts a record for (botID, updateID). An existing
// record is left untouched and reported with recorded=false. An expired
// record with the same key is replaced.
func RecordProcessedUpdate(ctx context.Context, db *gorm.DB, botID int64, updateID, kind, chatID, messageID string, ttl time.Duration) (recorded bool, err error) {
	now := time.Now().UTC()
	if err := db.WithContext(ctx).
		Where("bot_id = ? AND update_id = ? AND expires_at <= ?", botID, updateID, now).
		Delete(&domain.ProcessedUpdate{}).Error; err != nil {
		return false, err
	}

	rec := &domain.ProcessedUpdate{
		ID:        uuid.NewString(),
		BotID:     botID,
		UpdateID:  updateID,
		Kind:      kind,
		ChatID:    chatID,
		MessageID: messageID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PurgeExpiredProcessedUpdates deletes records that expired before now and
// returns how many were removed.
func PurgeExpiredProcessedUpdates(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.ProcessedUpdate{})
	return res.RowsAffected, res.Error
}

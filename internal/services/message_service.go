// Package services – MessageService
//
// MessageService lists reconciled messages of a chat. Messages are ordered by
// the platform send time, so an edit never moves a message.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the chat id and pagination parameters.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-ingest/internal/domain"
	"github.com/tbourn/go-chat-ingest/internal/repo"
)

// MessageService provides read access to a chat's messages.
type MessageService struct {
	DB          *gorm.DB
	MaxPageSize int
}

// ListPage returns paginated messages for a chat.
func (s *MessageService) ListPage(ctx context.Context, chatID string, page, pageSize int) ([]domain.ChatMessage, int64, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize = normalizePage(page, pageSize, s.MaxPageSize)

	if err := s.ensureChat(ctx, chatID); err != nil {
		return nil, 0, err
	}

	total, err := repo.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ChatMessage{}, 0, nil
	}

	items, err := repo.ListMessagesPage(ctx, s.DB, chatID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Stats returns the count and latest UpdatedAt of a chat's messages.
func (s *MessageService) Stats(ctx context.Context, chatID string) (int64, *time.Time, error) {
	if err := s.ensureChat(ctx, chatID); err != nil {
		return 0, nil, err
	}
	return repo.MessagesStats(ctx, s.DB, chatID)
}

func (s *MessageService) ensureChat(ctx context.Context, chatID string) error {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&domain.Chat{}).Where("id = ?", chatID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrChatNotFound
	}
	return nil
}

// Package services – ChatService
//
// ChatService is the read side over reconciled chats: paginated listing per
// bot, lookup by internal id, participants, and the aggregate stats used for
// ETags. Chats are only ever written by the Reconciler.
//
// Service-level errors (e.g., ErrChatNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-ingest/internal/domain"
)

// DefaultPageSize is used when a caller passes a non-positive page size.
const DefaultPageSize = 20

// ChatRepo defines the repository contract required by ChatService.
type ChatRepo interface {
	// GetChat fetches a chat by internal id.
	GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error)

	// CountChats returns the total number of a bot's chats for pagination.
	CountChats(ctx context.Context, db *gorm.DB, botID int64) (int64, error)

	// ListChatsPage returns a page of a bot's chats.
	ListChatsPage(ctx context.Context, db *gorm.DB, botID int64, offset, limit int) ([]domain.Chat, error)

	// ListChatUsers returns a chat's participants.
	ListChatUsers(ctx context.Context, db *gorm.DB, chatID string) ([]domain.ChatUser, error)

	// ChatsStats returns the count and latest update of a bot's chats.
	ChatsStats(ctx context.Context, db *gorm.DB, botID int64) (int64, *time.Time, error)
}

// ChatService provides read access to chats and their participants.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the chat repository used by this service.
	Repo ChatRepo
	// MaxPageSize caps requested page sizes (0 means no cap).
	MaxPageSize int
}

// NewChatService constructs a ChatService with a page size cap of 100.
func NewChatService(db *gorm.DB, r ChatRepo) *ChatService {
	return &ChatService{DB: db, Repo: r, MaxPageSize: 100}
}

// ListPage returns a page of botID's chats and the total count.
// It applies defaults for invalid page/pageSize.
func (s *ChatService) ListPage(ctx context.Context, botID int64, page, pageSize int) ([]domain.Chat, int64, error) {
	if botID <= 0 {
		return nil, 0, ErrInvalidBotID
	}
	page, pageSize = normalizePage(page, pageSize, s.MaxPageSize)

	total, err := s.Repo.CountChats(ctx, s.DB, botID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Chat{}, 0, nil
	}

	items, err := s.Repo.ListChatsPage(ctx, s.DB, botID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Get returns a chat by internal id or ErrChatNotFound.
func (s *ChatService) Get(ctx context.Context, id string) (*domain.Chat, error) {
	c, err := s.Repo.GetChat(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	return c, err
}

// Users returns the participants of a chat. The chat must exist.
func (s *ChatService) Users(ctx context.Context, chatID string) ([]domain.ChatUser, error) {
	if _, err := s.Get(ctx, chatID); err != nil {
		return nil, err
	}
	users, err := s.Repo.ListChatUsers(ctx, s.DB, chatID)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.ChatUser{}
	}
	return users, nil
}

// Stats returns the count and latest UpdatedAt of botID's chats.
func (s *ChatService) Stats(ctx context.Context, botID int64) (int64, *time.Time, error) {
	return s.Repo.ChatsStats(ctx, s.DB, botID)
}

// normalizePage applies defaults: page < 1 becomes 1, a non-positive size
// becomes DefaultPageSize, and sizes above max are clipped.
func normalizePage(page, pageSize, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if max > 0 && pageSize > max {
		pageSize = max
	}
	return page, pageSize
}

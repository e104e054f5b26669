// Chat HTTP handlers.
//
// This file exposes the read endpoints for reconciled chats:
//   - GET /bots/{botId}/chats   (list, paginated, ETag support)
//   - GET /chats/{id}           (single chat)
//   - GET /chats/{id}/users     (participants and their block status)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-chat-ingest/internal/domain"
	"github.com/tbourn/go-chat-ingest/internal/services"
	"github.com/tbourn/go-chat-ingest/internal/utils"
)

//
// Service contracts (context-aware)
//

// IngestService accepts raw webhook payloads.
//
// Implementations must be safe for concurrent use: the platform may deliver
// updates for the same chat in parallel.
type IngestService interface {
	// Ingest classifies and reconciles one payload delivered for botID.
	Ingest(ctx context.Context, botID int64, payload []byte) (services.Result, error)
}

// ChatService defines the chat read operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ChatService interface {
	// ListPage returns a page of a bot's chats and the total count.
	ListPage(ctx context.Context, botID int64, page, pageSize int) ([]domain.Chat, int64, error)
	// Get returns a chat by internal id.
	Get(ctx context.Context, id string) (*domain.Chat, error)
	// Users returns a chat's participants.
	Users(ctx context.Context, chatID string) ([]domain.ChatUser, error)
	// Stats returns the count and latest update time of a bot's chats.
	Stats(ctx context.Context, botID int64) (int64, *time.Time, error)
}

// MessageService defines message retrieval operations.
type MessageService interface {
	// ListPage returns a page of messages within a chat and the total count.
	ListPage(ctx context.Context, chatID string, page, pageSize int) ([]domain.ChatMessage, int64, error)
	// Stats returns the count and latest update time of a chat's messages.
	Stats(ctx context.Context, chatID string) (int64, *time.Time, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for the webhook and the read API.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	ingestSvc IngestService
	chatSvc   ChatService
	msgSvc    MessageService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(ingestSvc IngestService, chatSvc ChatService, msgSvc MessageService) *Handlers {
	return &Handlers{ingestSvc: ingestSvc, chatSvc: chatSvc, msgSvc: msgSvc}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListChatsResponse wraps a page of chats and pagination information.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

// ListChatUsersResponse lists a chat's participants.
type ListChatUsersResponse struct {
	Users []domain.ChatUser `json:"users"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// botIDParam parses the botId path parameter; bot ids are positive integers.
func botIDParam(c *gin.Context) (int64, bool) {
	return utils.ParseID(c.Param("botId"))
}

// weakETag formats a weak validator from a collection's size and last change.
func weakETag(scope, key string, count int64, maxTS *time.Time) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"%s:%s:%d:%d"`, scope, key, count, ts)
}

// notModified sets ETag and reports whether If-None-Match matched it.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

//
// Handlers
//

// ListChats godoc
// @ID          listChats
// @Summary     List a bot's chats (paginated)
// @Description Returns a page of the chats reconciled for a bot. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chats
// @Produce     json
//
// @Param       botId          path    int     true  "Bot ID"                       example(7)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"chats:7:3:1700000000\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/v1/bots/{botId}/chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	botID, valid := botIDParam(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msgBadBotID)
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.chatSvc.Stats(ctx, botID); err == nil {
		if notModified(c, weakETag("chats", strconv.FormatInt(botID, 10), count, maxTS)) {
			return
		}
	}

	items, total, err := h.chatSvc.ListPage(ctx, botID, page, pageSize)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list chats")
		return
	}
	ok(c, http.StatusOK, ListChatsResponse{
		Chats:      items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat
// @Description Returns one reconciled chat, including enrichment metadata when available.
// @Tags        Chats
// @Produce     json
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid) example(141add05-4415-4938-b5a1-17e0d3171aff)
//
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/v1/chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	ch, err := h.chatSvc.Get(c.Request.Context(), chatID)
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		return
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load chat")
		return
	}
	ok(c, http.StatusOK, ch)
}

// ListChatUsers godoc
// @ID          listChatUsers
// @Summary     List chat participants
// @Description Returns the participants of a chat with their ACTIVE/BLOCKED status.
// @Tags        Chats
// @Produce     json
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.ListChatUsersResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/v1/chats/{id}/users [get]
func (h *Handlers) ListChatUsers(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	users, err := h.chatSvc.Users(c.Request.Context(), chatID)
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		return
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list chat users")
		return
	}
	ok(c, http.StatusOK, ListChatUsersResponse{Users: users})
}

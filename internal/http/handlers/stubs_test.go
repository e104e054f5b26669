package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-ingest/internal/domain"
	"github.com/tbourn/go-chat-ingest/internal/services"
)

// ---------- service stubs ----------

type stubIngest struct {
	res   services.Result
	err   error
	calls int
	body  []byte
	botID int64
}

func (s *stubIngest) Ingest(_ context.Context, botID int64, payload []byte) (services.Result, error) {
	s.calls++
	s.botID = botID
	s.body = payload
	return s.res, s.err
}

type stubChatSvc struct {
	items    []domain.Chat
	total    int64
	listErr  error
	chat     *domain.Chat
	getErr   error
	users    []domain.ChatUser
	usersErr error
	count    int64
	maxTS    *time.Time
	statsErr error

	gotPage, gotPageSize int
}

func (s *stubChatSvc) ListPage(_ context.Context, _ int64, page, pageSize int) ([]domain.Chat, int64, error) {
	s.gotPage, s.gotPageSize = page, pageSize
	return s.items, s.total, s.listErr
}

func (s *stubChatSvc) Get(context.Context, string) (*domain.Chat, error) { return s.chat, s.getErr }

func (s *stubChatSvc) Users(context.Context, string) ([]domain.ChatUser, error) {
	return s.users, s.usersErr
}

func (s *stubChatSvc) Stats(context.Context, int64) (int64, *time.Time, error) {
	return s.count, s.maxTS, s.statsErr
}

type stubMsgSvc struct {
	items    []domain.ChatMessage
	total    int64
	listErr  error
	count    int64
	maxTS    *time.Time
	statsErr error
}

func (s *stubMsgSvc) ListPage(context.Context, string, int, int) ([]domain.ChatMessage, int64, error) {
	return s.items, s.total, s.listErr
}

func (s *stubMsgSvc) Stats(context.Context, string) (int64, *time.Time, error) {
	return s.count, s.maxTS, s.statsErr
}

// ---------- helpers ----------

// newRouter mounts h on a test engine with a fixed request id.
func newRouter(h *Handlers, mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		c.Next()
	})
	r.Use(mw...)
	r.POST("/tg/:botId", h.Webhook)
	r.GET("/bots/:botId/chats", h.ListChats)
	r.GET("/chats/:id", h.GetChat)
	r.GET("/chats/:id/users", h.ListChatUsers)
	r.GET("/chats/:id/messages", h.ListMessages)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	if er.RequestID != "rid-test" {
		t.Fatalf("request id not echoed: %+v", er)
	}
	return er
}

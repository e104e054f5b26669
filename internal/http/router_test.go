package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-ingest/internal/config"
	"github.com/tbourn/go-chat-ingest/internal/http/middleware"
	"github.com/tbourn/go-chat-ingest/internal/ingest"
	"github.com/tbourn/go-chat-ingest/internal/repo"
	"github.com/tbourn/go-chat-ingest/internal/services"
)

const (
	startUpdate   = `{"update_id":100,"message":{"message_id":10,"date":1633025000,"chat":{"id":411711813,"type":"private"},"from":{"id":411711813},"text":"/start"}}`
	stickerUpdate = `{"update_id":101,"message":{"message_id":11,"date":1633025010,"chat":{"id":411711813,"type":"private"},"from":{"id":411711813},"sticker":{"file_id":"CAAC","emoji":"🤣"}}}`
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router.db"), logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		Ingest: config.IngestConfig{
			WebhookBasePath: "/tg",
			CommandPrefix:   "/",
			MaxBodyBytes:    1 << 20,
		},
		OTEL: config.OTELConfig{ServiceName: "test-svc"},
	}
}

// newTestRouter builds the full stack around a real IngestService.
func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	rec := services.NewReconciler(db, nil)
	svc := services.NewIngestService(rec, ingest.NewClassifier(cfg.Ingest.CommandPrefix))

	r := gin.New()
	RegisterRoutes(r, db, svc, cfg)
	return r, db
}

func do(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestRouter(t, baseConfig())

	w := do(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	w = do(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	w = do(r, http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"code":"not_found"`) {
		t.Fatalf("GET /nope expected JSON 404, got %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed || !strings.Contains(w.Body.String(), `"code":"method_not_allowed"`) {
		t.Fatalf("POST /health expected JSON 405, got %d", w.Code)
	}

	if w := do(r, http.MethodGet, "/swagger/index.html", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger must be off by default, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newTestRouter(t, cfg)

	w := do(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	r, _ := newTestRouter(t, cfg)

	w := do(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/tg/{botId}") {
		t.Fatalf("GET /swagger/doc.json = %d", w.Code)
	}
}

func TestWebhook_EndToEnd_ReplayAndReadAPI(t *testing.T) {
	r, _ := newTestRouter(t, baseConfig())

	w := do(r, http.MethodPost, "/tg/7", startUpdate, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook = %d %s", w.Code, w.Body.String())
	}
	var first map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("json: %v", err)
	}
	chatID, _ := first["chat_id"].(string)
	if first["ok"] != true || first["replayed"] != false || chatID == "" || first["message_id"] == "" {
		t.Fatalf("unexpected first ack: %v", first)
	}

	// Redelivery of the same update id is answered from the processed-update log.
	w = do(r, http.MethodPost, "/tg/7", startUpdate, nil)
	var second map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &second)
	if w.Code != http.StatusOK || second["replayed"] != true || second["chat_id"] != chatID || second["message_id"] != first["message_id"] {
		t.Fatalf("unexpected replay ack: %d %v", w.Code, second)
	}

	if w := do(r, http.MethodPost, "/tg/7", stickerUpdate, nil); w.Code != http.StatusOK {
		t.Fatalf("sticker webhook = %d", w.Code)
	}

	w = do(r, http.MethodGet, "/api/v1/bots/7/chats", "", nil)
	if w.Code != http.StatusOK || w.Header().Get("ETag") == "" {
		t.Fatalf("list chats = %d etag=%q", w.Code, w.Header().Get("ETag"))
	}
	var chats struct {
		Chats []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Type   string `json:"type"`
		} `json:"chats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &chats); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(chats.Chats) != 1 || chats.Chats[0].ID != chatID || chats.Chats[0].Status != "NEW" || chats.Chats[0].Type != "PRIVATE" {
		t.Fatalf("unexpected chats: %+v", chats)
	}

	w = do(r, http.MethodGet, "/api/v1/chats/"+chatID+"/messages", "", nil)
	var msgs struct {
		Messages []struct {
			Text string `json:"text"`
			Type string `json:"type"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(msgs.Messages) != 2 || msgs.Messages[0].Type != "COMMAND" || msgs.Messages[1].Text != "sticker:🤣" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	w = do(r, http.MethodGet, "/api/v1/chats/"+chatID+"/users", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"external_user_id":"411711813"`) {
		t.Fatalf("users = %d %s", w.Code, w.Body.String())
	}

	// Another bot sees its own, empty, chat list.
	w = do(r, http.MethodGet, "/api/v1/bots/8/chats", "", nil)
	if !strings.Contains(w.Body.String(), `"total":0`) {
		t.Fatalf("bot 8 must not see bot 7 chats: %s", w.Body.String())
	}
}

func TestWebhook_UnrecognizedIs400(t *testing.T) {
	r, db := newTestRouter(t, baseConfig())

	w := do(r, http.MethodPost, "/tg/7", `{"update_id":5,"poll":{"id":"1"}}`, nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"code":"unrecognized_event"`) {
		t.Fatalf("expected 400 unrecognized_event, got %d %s", w.Code, w.Body.String())
	}
	if n, _ := repo.CountChats(context.Background(), db, 7); n != 0 {
		t.Fatalf("unrecognized payload must not persist, chats=%d", n)
	}
}

func TestWebhook_SecretRequired(t *testing.T) {
	cfg := baseConfig()
	cfg.Ingest.WebhookSecret = "s3cr3t"
	r, _ := newTestRouter(t, cfg)

	if w := do(r, http.MethodPost, "/tg/7", startUpdate, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret = %d", w.Code)
	}
	w := do(r, http.MethodPost, "/tg/7", startUpdate, map[string]string{middleware.HeaderWebhookSecret: "s3cr3t"})
	if w.Code != http.StatusOK {
		t.Fatalf("valid secret = %d", w.Code)
	}
	// The read API is not behind the webhook secret.
	if w := do(r, http.MethodGet, "/api/v1/bots/7/chats", "", nil); w.Code != http.StatusOK {
		t.Fatalf("read api = %d", w.Code)
	}
}

func TestWebhook_RateLimitedPerBot(t *testing.T) {
	cfg := baseConfig()
	cfg.RateRPS = 0.0001
	cfg.RateBurst = 1
	r, _ := newTestRouter(t, cfg)

	if w := do(r, http.MethodPost, "/tg/7", startUpdate, nil); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/tg/7", startUpdate, nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d; want 429", w.Code)
	}
	if w := do(r, http.MethodPost, "/tg/8", startUpdate, nil); w.Code != http.StatusOK {
		t.Fatalf("other bot = %d", w.Code)
	}
}

func TestWebhook_BodyLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.Ingest.MaxBodyBytes = 32
	r, _ := newTestRouter(t, cfg)

	w := do(r, http.MethodPost, "/tg/7", startUpdate, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestReadAPI_Gzip(t *testing.T) {
	r, _ := newTestRouter(t, baseConfig())
	if w := do(r, http.MethodPost, "/tg/7", startUpdate, nil); w.Code != http.StatusOK {
		t.Fatalf("webhook = %d", w.Code)
	}

	w := do(r, http.MethodGet, "/api/v1/bots/7/chats", "", map[string]string{"Accept-Encoding": "gzip"})
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, headers=%v", w.Header())
	}
	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil || !strings.Contains(string(raw), `"chats"`) {
		t.Fatalf("unexpected body %q (%v)", raw, err)
	}

	// The webhook ack is never compressed.
	w = do(r, http.MethodPost, "/tg/7", stickerUpdate, map[string]string{"Accept-Encoding": "gzip"})
	if w.Header().Get("Content-Encoding") != "" {
		t.Fatalf("webhook response must not be gzipped")
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	if w := do(r, http.MethodPost, "/echo", "0123456789AB", nil); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/echo", "0123", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 under the cap, got %d", w.Code)
	}

	r2 := gin.New()
	r2.Use(limitBody(0))
	r2.POST("/echo", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, "%d", len(b))
	})
	if w := do(r2, http.MethodPost, "/echo", strings.Repeat("x", 64), nil); w.Body.String() != "64" {
		t.Fatalf("limit 0 must disable the cap, got %q", w.Body.String())
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := do(r, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func Test_chatRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := services.NewIngestService(services.NewReconciler(db, nil), ingest.NewClassifier("/"))
	res, err := svc.Ingest(ctx, 7, []byte(startUpdate))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	shim := chatRepoShim{}

	got, err := shim.GetChat(ctx, db, res.ChatID)
	if err != nil || got.ExternalChatID != "411711813" || got.BotID != 7 {
		t.Fatalf("GetChat: %+v %v", got, err)
	}
	if n, err := shim.CountChats(ctx, db, 7); err != nil || n != 1 {
		t.Fatalf("CountChats: %d %v", n, err)
	}
	page, err := shim.ListChatsPage(ctx, db, 7, 0, 10)
	if err != nil || len(page) != 1 {
		t.Fatalf("ListChatsPage: %d %v", len(page), err)
	}
	users, err := shim.ListChatUsers(ctx, db, res.ChatID)
	if err != nil || len(users) != 1 {
		t.Fatalf("ListChatUsers: %d %v", len(users), err)
	}
	n, maxTS, err := shim.ChatsStats(ctx, db, 7)
	if err != nil || n != 1 || maxTS == nil || time.Since(*maxTS) > time.Hour {
		t.Fatalf("ChatsStats: %d %v %v", n, maxTS, err)
	}
}

package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-ingest/internal/domain"
	"github.com/tbourn/go-chat-ingest/internal/enrichment"
	"github.com/tbourn/go-chat-ingest/internal/ingest"
	"github.com/tbourn/go-chat-ingest/internal/repo"
)

// ---------- test helpers ----------

// newTestDB opens a migrated SQLite file database. A file (not shared memory)
// is used so concurrent tests exercise the real connection pool.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"), logger.Silent)
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

func newTestIngest(t *testing.T, enr enrichment.Client) (*IngestService, *gorm.DB, *recordingMetrics) {
	t.Helper()
	db := newTestDB(t)
	m := newRecordingMetrics()
	r := NewReconciler(db, enr)
	r.Metrics = m
	return NewIngestService(r, ingest.NewClassifier("/")), db, m
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func loadMessage(t *testing.T, db *gorm.DB, id string) domain.ChatMessage {
	t.Helper()
	var m domain.ChatMessage
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		t.Fatalf("load message %s: %v", id, err)
	}
	return m
}

func loadChat(t *testing.T, db *gorm.DB, id string) domain.Chat {
	t.Helper()
	var c domain.Chat
	if err := db.Where("id = ?", id).First(&c).Error; err != nil {
		t.Fatalf("load chat %s: %v", id, err)
	}
	return c
}

func loadUser(t *testing.T, db *gorm.DB, chatID, externalUserID string) domain.ChatUser {
	t.Helper()
	var u domain.ChatUser
	if err := db.Where("chat_id = ? AND external_user_id = ?", chatID, externalUserID).First(&u).Error; err != nil {
		t.Fatalf("load chat user: %v", err)
	}
	return u
}

// ---------- payload builders ----------

type upd struct {
	UpdateID int64
	ChatID   int64
	ChatType string
	UserID   int64
	MsgID    int64
	Text     string
	Date     int64
}

func (u upd) date() int64 {
	if u.Date == 0 {
		return 1633025000
	}
	return u.Date
}

func (u upd) envelope(field string, body map[string]any) []byte {
	doc := map[string]any{field: body}
	if u.UpdateID != 0 {
		doc["update_id"] = u.UpdateID
	}
	b, _ := json.Marshal(doc)
	return b
}

func (u upd) chat() map[string]any {
	typ := u.ChatType
	if typ == "" {
		typ = "private"
	}
	return map[string]any{"id": u.ChatID, "type": typ}
}

func (u upd) from() map[string]any {
	id := u.UserID
	if id == 0 {
		id = u.ChatID
	}
	return map[string]any{"id": id, "is_bot": false, "first_name": "Test"}
}

func (u upd) message() []byte {
	return u.envelope("message", map[string]any{
		"message_id": u.MsgID,
		"from":       u.from(),
		"chat":       u.chat(),
		"date":       u.date(),
		"text":       u.Text,
	})
}

func (u upd) edited() []byte {
	return u.envelope("edited_message", map[string]any{
		"message_id": u.MsgID,
		"from":       u.from(),
		"chat":       u.chat(),
		"date":       u.date(),
		"edit_date":  1633025060,
		"text":       u.Text,
	})
}

func (u upd) sticker(fileID, emoji string) []byte {
	return u.envelope("message", map[string]any{
		"message_id": u.MsgID,
		"from":       u.from(),
		"chat":       u.chat(),
		"date":       u.date(),
		"sticker": map[string]any{
			"file_id":        fileID,
			"file_unique_id": "AgADtQADFkJrCg",
			"emoji":          emoji,
			"set_name":       "HotCherry",
		},
	})
}

func (u upd) member(oldStatus, newStatus string) []byte {
	bot := map[string]any{"id": 1, "is_bot": true, "first_name": "cusbo"}
	return u.envelope("my_chat_member", map[string]any{
		"chat":            u.chat(),
		"from":            u.from(),
		"date":            1633025200,
		"old_chat_member": map[string]any{"user": bot, "status": oldStatus},
		"new_chat_member": map[string]any{"user": bot, "status": newStatus},
	})
}

// ---------- fakes ----------

type fakeEnricher struct {
	mu        sync.Mutex
	details   map[string]any
	chatErr   error
	info      *enrichment.FileInfo
	fileErr   error
	block     bool
	chatCalls int
	fileCalls int
}

func (f *fakeEnricher) FetchChatDetails(ctx context.Context, _ int64, _ string) (map[string]any, error) {
	f.mu.Lock()
	f.chatCalls++
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.details, nil
}

func (f *fakeEnricher) FetchFileInfo(ctx context.Context, _ int64, ref string) (*enrichment.FileInfo, error) {
	f.mu.Lock()
	f.fileCalls++
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fileErr != nil {
		return nil, f.fileErr
	}
	if f.info == nil {
		return nil, nil
	}
	cp := *f.info
	cp.FileID = ref
	return &cp, nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	events     map[string]int
	enrichment map[string]int
	reconciles int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{events: map[string]int{}, enrichment: map[string]int{}}
}

func (m *recordingMetrics) Event(kind, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[kind+"/"+outcome]++
}

func (m *recordingMetrics) Enrichment(call, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrichment[call+"/"+outcome]++
}

func (m *recordingMetrics) Reconcile(string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciles++
}

func (m *recordingMetrics) event(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[key]
}

func (m *recordingMetrics) enrich(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enrichment[key]
}

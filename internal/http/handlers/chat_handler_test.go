package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-ingest/internal/domain"
	"github.com/tbourn/go-chat-ingest/internal/services"
)

const chatUUID = "141add05-4415-4938-b5a1-17e0d3171aff"

func TestClampPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query          string
		page, pageSize int
	}{
		{"", 1, 20},
		{"?page=3&page_size=5", 3, 5},
		{"?page=0&page_size=0", 1, 1},
		{"?page=-2&page_size=1000", 1, 100},
		{"?page=x&page_size=y", 1, 20},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/"+tc.query, nil)
		p, ps := clampPagination(c)
		if p != tc.page || ps != tc.pageSize {
			t.Fatalf("%q: got (%d,%d); want (%d,%d)", tc.query, p, ps, tc.page, tc.pageSize)
		}
	}
}

func TestNewPagination(t *testing.T) {
	p := newPagination(2, 10, 25)
	if p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("unexpected pagination: %+v", p)
	}
	if p := newPagination(1, 20, 0); p.TotalPages != 0 || p.HasNext {
		t.Fatalf("unexpected empty pagination: %+v", p)
	}
}

func TestListChats_ETag304_and_SuccessPage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := &stubChatSvc{
		items: []domain.Chat{{ID: chatUUID, ExternalChatID: "411711813", BotID: 7, Status: domain.ChatStatusNew, Type: domain.ChatTypePrivate}},
		total: 3,
		count: 3,
		maxTS: &ts,
	}
	r := newRouter(New(&stubIngest{}, svc, &stubMsgSvc{}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/bots/7/chats?page=1&page_size=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag != weakETag("chats", "7", 3, &ts) {
		t.Fatalf("unexpected etag %q", etag)
	}
	var resp ListChatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Chats) != 1 || resp.Pagination.Total != 3 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected page: %+v", resp)
	}
	if svc.gotPage != 1 || svc.gotPageSize != 1 {
		t.Fatalf("service got page=%d size=%d", svc.gotPage, svc.gotPageSize)
	}

	req := httptest.NewRequest(http.MethodGet, "/bots/7/chats", nil)
	req.Header.Set("If-None-Match", etag)
	w = serve(r, req)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("expected empty 304, got %d %q", w.Code, w.Body.String())
	}
}

func TestListChats_EmptyState_SetsETag_WithZeroTS(t *testing.T) {
	r := newRouter(New(&stubIngest{}, &stubChatSvc{items: []domain.Chat{}}, &stubMsgSvc{}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/bots/9/chats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Header().Get("ETag"); got != `W/"chats:9:0:0"` {
		t.Fatalf("etag=%q", got)
	}
}

func TestListChats_StatsErrorSkipsETag_And_ListError(t *testing.T) {
	svc := &stubChatSvc{statsErr: errors.New("stats down"), listErr: errors.New("db down")}
	r := newRouter(New(&stubIngest{}, svc, &stubMsgSvc{}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/bots/7/chats", nil))
	if w.Header().Get("ETag") != "" {
		t.Fatalf("etag must be skipped when stats fail")
	}
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeListFailed {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestListChats_BadBotID(t *testing.T) {
	r := newRouter(New(&stubIngest{}, &stubChatSvc{}, &stubMsgSvc{}))
	w := serve(r, httptest.NewRequest(http.MethodGet, "/bots/seven/chats", nil))
	if w.Code != http.StatusBadRequest || decodeError(t, w).Code != ErrCodeBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestGetChat(t *testing.T) {
	cases := []struct {
		name   string
		id     string
		svc    *stubChatSvc
		status int
		code   string
	}{
		{"bad uuid", "nope", &stubChatSvc{}, http.StatusBadRequest, ErrCodeBadRequest},
		{"not found", chatUUID, &stubChatSvc{getErr: services.ErrChatNotFound}, http.StatusNotFound, ErrCodeNotFound},
		{"internal", chatUUID, &stubChatSvc{getErr: errors.New("boom")}, http.StatusInternalServerError, ErrCodeInternal},
		{"ok", chatUUID, &stubChatSvc{chat: &domain.Chat{ID: chatUUID, BotID: 7, Metadata: []byte(`{"title":"Support"}`)}}, http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(New(&stubIngest{}, tc.svc, &stubMsgSvc{}))
			w := serve(r, httptest.NewRequest(http.MethodGet, "/chats/"+tc.id, nil))
			if w.Code != tc.status {
				t.Fatalf("status=%d; want %d", w.Code, tc.status)
			}
			if tc.code != "" {
				if er := decodeError(t, w); er.Code != tc.code {
					t.Fatalf("code=%q; want %q", er.Code, tc.code)
				}
				return
			}
			var ch struct {
				ID       string         `json:"id"`
				Metadata map[string]any `json:"metadata"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &ch); err != nil {
				t.Fatalf("json: %v", err)
			}
			if ch.ID != chatUUID || ch.Metadata["title"] != "Support" {
				t.Fatalf("unexpected chat: %+v", ch)
			}
		})
	}
}

func TestListChatUsers(t *testing.T) {
	svc := &stubChatSvc{users: []domain.ChatUser{
		{ID: "u1", ChatID: chatUUID, ExternalUserID: "411711813", Status: domain.ChatUserStatusBlocked},
	}}
	r := newRouter(New(&stubIngest{}, svc, &stubMsgSvc{}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/chats/"+chatUUID+"/users", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ListChatUsersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Users) != 1 || resp.Users[0].Status != domain.ChatUserStatusBlocked {
		t.Fatalf("unexpected users: %+v", resp.Users)
	}

	for _, tc := range []struct {
		path   string
		svc    *stubChatSvc
		status int
	}{
		{"/chats/bad/users", &stubChatSvc{}, http.StatusBadRequest},
		{"/chats/" + chatUUID + "/users", &stubChatSvc{usersErr: services.ErrChatNotFound}, http.StatusNotFound},
		{"/chats/" + chatUUID + "/users", &stubChatSvc{usersErr: errors.New("x")}, http.StatusInternalServerError},
	} {
		r := newRouter(New(&stubIngest{}, tc.svc, &stubMsgSvc{}))
		if w := serve(r, httptest.NewRequest(http.MethodGet, tc.path, nil)); w.Code != tc.status {
			t.Fatalf("%s: status=%d; want %d", tc.path, w.Code, tc.status)
		}
	}
}

func TestReadAPI_StoreErrorsNotEchoed(t *testing.T) {
	leak := errors.New(`dial tcp: lookup db.internal: password="hunter2"`)
	cases := []struct {
		path string
		chat *stubChatSvc
		msg  *stubMsgSvc
	}{
		{"/bots/7/chats", &stubChatSvc{listErr: leak}, &stubMsgSvc{}},
		{"/chats/" + chatUUID, &stubChatSvc{getErr: leak}, &stubMsgSvc{}},
		{"/chats/" + chatUUID + "/users", &stubChatSvc{usersErr: leak}, &stubMsgSvc{}},
		{"/chats/" + chatUUID + "/messages", &stubChatSvc{}, &stubMsgSvc{listErr: leak}},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			r := newRouter(New(&stubIngest{}, tc.chat, tc.msg))
			w := serve(r, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status=%d", w.Code)
			}
			if er := decodeError(t, w); strings.Contains(er.Message, "hunter2") || strings.Contains(er.Message, "db.internal") {
				t.Fatalf("store error leaked: %q", er.Message)
			}
		})
	}
}

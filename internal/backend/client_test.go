package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/multi-agent/deepinsight-client/internal/config"
	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/part"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := &config.Config{
		BackendBaseURL:       srv.URL,
		BackendUserID:        "test_user",
		BackendThumbnailPath: "/api/documents/%s/thumbnail",
		DialTimeoutSec:       2,
	}
	return New(cfg, srv.Client())
}

func writeOK(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "message": "OK", "data": data})
}

func TestListConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations" || r.URL.Query().Get("user_id") != "test_user" || r.URL.Query().Get("limit") != "50" {
			http.Error(w, r.URL.String(), http.StatusBadRequest)
			return
		}
		writeOK(w, map[string]any{"conversations": []map[string]string{
			{"conversationId": "c1", "title": "A2A", "createdTime": "2025-06-01 10:00:00"},
		}})
	})
	list, err := c.ListConversations(context.Background(), 0, 50)
	if err != nil {
		t.Fatal(err)
	}
	want := []Conversation{{ID: "c1", Title: "A2A", CreatedTime: "2025-06-01 10:00:00"}}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("list (-want +got):\n%s", diff)
	}
}

func TestMutations(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		seen = append(seen, r.Method)
		switch r.Method {
		case http.MethodPost:
			writeOK(w, map[string]string{"conversationId": body["conversation_id"].(string), "created_time": "now"})
		case http.MethodPut:
			if body["new_name"] != "新名字" {
				_ = json.NewEncoder(w).Encode(map[string]any{"code": 100, "message": "Conversation Not Found"})
				return
			}
			writeOK(w, map[string]string{"new_name": "新名字"})
		case http.MethodDelete:
			writeOK(w, map[string]any{})
		}
	})
	ctx := context.Background()
	conv, err := c.CreateConversation(ctx, "c9", "标题")
	if err != nil || conv.ID != "c9" {
		t.Fatalf("create: %+v %v", conv, err)
	}
	if err := c.RenameConversation(ctx, "c9", "新名字"); err != nil {
		t.Fatal(err)
	}
	err = c.RenameConversation(ctx, "c9", "other")
	if apperrors.CodeOf(err) != "100" {
		t.Errorf("rename failure code = %q (%v)", apperrors.CodeOf(err), err)
	}
	if err := c.DeleteConversations(ctx, "c9"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"POST", "PUT", "PUT", "DELETE"}, seen); diff != "" {
		t.Errorf("methods (-want +got):\n%s", diff)
	}
}

func TestHistoryToMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]any{
			"conversationId": "c1",
			"title":          "A2A",
			"messages": []any{
				map[string]any{"id": "u1", "role": "user", "content": "分析一下 A2A 协议", "created_at": "2025-06-01T10:00:00"},
				map[string]any{"id": "p1", "role": "search_plan", "content": "1. 检索", "created_at": "2025-06-01T10:00:01"},
				map[string]any{"id": "r1", "role": "report", "created_at": "2025-06-01T10:00:05", "content": []any{
					map[string]any{"type": "title", "content": "检索", "created_at": "2025-06-01T10:00:02"},
					map[string]any{"type": "tool_call", "content": `{"tool_name":"retrieve","result":[]}`},
					map[string]any{"type": "report", "content": "# 报告"},
				}},
			},
		})
	})
	h, err := c.History(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	msgs := ToMessages(h.Messages)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if msgs[0].Role != part.RoleUser || msgs[0].Status != history.StatusSent || msgs[0].Text() != "分析一下 A2A 协议" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if _, ok := msgs[1].Parts[0].(part.PlanPart); !ok || msgs[1].Role != part.RoleAssistant {
		t.Errorf("search_plan message = %+v", msgs[1])
	}
	if !msgs[2].Frozen() || len(msgs[2].Parts) != 3 || msgs[2].CreatedAt.IsZero() {
		t.Errorf("report message = %+v", msgs[2])
	}
}

func TestDownloadAndThumbnail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/conversations/c1/download":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
		case "/api/documents/d1/thumbnail":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png"))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()
	body, ct, err := c.Download(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if ct != "application/pdf" || string(data) != "%PDF" {
		t.Errorf("download = %q %q", ct, data)
	}
	img, err := c.Thumbnail(ctx, "d1")
	if err != nil || string(img.Data) != "png" || img.ContentType != "image/png" {
		t.Errorf("thumbnail = %+v %v", img, err)
	}
	if _, err := c.Thumbnail(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing thumbnail err = %v", err)
	}
}

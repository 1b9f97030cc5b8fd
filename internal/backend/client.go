// Package backend 后端 REST 接口客户端: 会话列表/创建/重命名/删除、历史消息、报告下载与缩略图。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/multi-agent/deepinsight-client/internal/config"
	"github.com/multi-agent/deepinsight-client/internal/part"
	"github.com/multi-agent/deepinsight-client/internal/thumbnail"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

const defaultRequestTimeout = 30 * time.Second

// Conversation 会话列表项。
type Conversation struct {
	ID          string `json:"conversationId"`
	Title       string `json:"title"`
	CreatedTime string `json:"createdTime"`
	Type        string `json:"type,omitempty"`
}

// ConversationHistory 会话历史。
type ConversationHistory struct {
	ConversationID string          `json:"conversationId"`
	UserID         string          `json:"userId"`
	CreatedTime    string          `json:"created_time"`
	Title          string          `json:"title"`
	Status         string          `json:"status"`
	Messages       []part.Envelope `json:"messages"`
}

// envelope 后端统一响应 {code, message, data}。
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client REST 客户端。
type Client struct {
	cfg  *config.Config
	http *http.Client
}

// New client 为空时使用带超时的默认客户端。
func New(cfg *config.Config, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				Proxy:       http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{Timeout: cfg.DialTimeout()}).DialContext,
			},
		}
	}
	return &Client{cfg: cfg, http: client}
}

// ListConversations GET /api/conversations。
func (c *Client) ListConversations(ctx context.Context, offset, limit int) ([]Conversation, error) {
	q := url.Values{}
	q.Set("user_id", c.cfg.BackendUserID)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var data struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/conversations?"+q.Encode(), nil, &data); err != nil {
		return nil, apperrors.Wrap(err, "Backend.ListConversations", "list conversations")
	}
	if data.Conversations == nil {
		data.Conversations = []Conversation{}
	}
	return data.Conversations, nil
}

// CreateConversation POST /api/conversation。
func (c *Client) CreateConversation(ctx context.Context, id, title string) (Conversation, error) {
	body := map[string]string{"conversation_id": id, "user_id": c.cfg.BackendUserID, "title": title}
	var data struct {
		ConversationID string `json:"conversationId"`
		CreatedTime    string `json:"created_time"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/conversation", body, &data); err != nil {
		return Conversation{}, apperrors.Wrap(err, "Backend.CreateConversation", "create conversation")
	}
	if data.ConversationID == "" {
		data.ConversationID = id
	}
	return Conversation{ID: data.ConversationID, Title: title, CreatedTime: data.CreatedTime}, nil
}

// RenameConversation PUT /api/conversation。
func (c *Client) RenameConversation(ctx context.Context, id, newName string) error {
	body := map[string]string{"conversation_id": id, "new_name": newName}
	if err := c.call(ctx, http.MethodPut, "/api/conversation", body, nil); err != nil {
		return apperrors.Wrap(err, "Backend.RenameConversation", "rename conversation")
	}
	return nil
}

// DeleteConversations DELETE /api/conversation。
func (c *Client) DeleteConversations(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string][]string{"conversation_list": ids}
	if err := c.call(ctx, http.MethodDelete, "/api/conversation", body, nil); err != nil {
		return apperrors.Wrap(err, "Backend.DeleteConversations", "delete conversations")
	}
	return nil
}

// History GET /api/conversations/{id}/messages。
func (c *Client) History(ctx context.Context, id string) (ConversationHistory, error) {
	var data ConversationHistory
	path := "/api/conversations/" + url.PathEscape(id) + "/messages"
	if err := c.call(ctx, http.MethodGet, path, nil, &data); err != nil {
		return ConversationHistory{}, apperrors.Wrap(err, "Backend.History", "fetch history")
	}
	if data.ConversationID == "" {
		data.ConversationID = id
	}
	return data, nil
}

// Download GET /api/conversations/{id}/download, 调用方负责关闭 body。
func (c *Client) Download(ctx context.Context, id string) (io.ReadCloser, string, error) {
	path := "/api/conversations/" + url.PathEscape(id) + "/download"
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", apperrors.Wrap(err, "Backend.Download", "download report")
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// Thumbnail 实现 thumbnail.Fetcher。
func (c *Client) Thumbnail(ctx context.Context, documentID string) (thumbnail.Image, error) {
	path := fmt.Sprintf(c.cfg.BackendThumbnailPath, url.PathEscape(documentID))
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return thumbnail.Image{}, apperrors.Wrap(err, "Backend.Thumbnail", "fetch thumbnail")
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return thumbnail.Image{}, apperrors.Wrap(err, "Backend.Thumbnail", "read thumbnail")
	}
	return thumbnail.Image{DocumentID: documentID, ContentType: resp.Header.Get("Content-Type"), Data: data}, nil
}

// call 发送 JSON 请求并解包 {code, message, data}; code != 0 视为失败。
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apperrors.Wrap(err, "Backend.call", "decode response")
	}
	if env.Code != 0 {
		return apperrors.WithCode(apperrors.ErrInternal, "Backend.call", strconv.Itoa(env.Code), env.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.Wrap(err, "Backend.call", "decode data")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.Wrap(err, "Backend.do", "encode body")
		}
		reader = bytes.NewReader(data)
	}
	target := c.cfg.BackendURL(path)
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, apperrors.Wrap(err, "Backend.do", "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.WithCode(fmt.Errorf("%w: %w", apperrors.ErrTransport, err), "Backend.do", "DIAL", "request failed")
	}
	logger.FromContext(ctx).Debug("backend: request",
		logger.FieldMethod, method,
		logger.FieldPath, path,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldLatencyMS, time.Since(start).Milliseconds(),
	)
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "Backend.do", "%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, apperrors.WithCode(apperrors.ErrInternal, "Backend.do", "HTTP_STATUS",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	return resp, nil
}

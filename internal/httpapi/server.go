// Package httpapi 面向渲染层的 HTTP 接口: 会话操作、视图快照与 SSE 推送。
package httpapi

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/deepinsight-client/internal/backend"
	"github.com/multi-agent/deepinsight-client/internal/prefs"
	"github.com/multi-agent/deepinsight-client/internal/session"
	"github.com/multi-agent/deepinsight-client/internal/thumbnail"
)

// Backend 后端会话管理接口, 由 backend.Client 实现。
type Backend interface {
	ListConversations(ctx context.Context, offset, limit int) ([]backend.Conversation, error)
	CreateConversation(ctx context.Context, id, title string) (backend.Conversation, error)
	RenameConversation(ctx context.Context, id, newName string) error
	DeleteConversations(ctx context.Context, ids ...string) error
	Download(ctx context.Context, id string) (io.ReadCloser, string, error)
}

// Deps 注入依赖; Backend 与 Thumbnails 可为空。
type Deps struct {
	Sessions   *session.Manager
	Backend    Backend
	Thumbnails *thumbnail.Cache
	Prefs      *prefs.Manager
	Bus        *EventBus
	Keepalive  time.Duration
}

// Server HTTP 服务。
type Server struct {
	router *gin.Engine
	deps   Deps
	bus    *EventBus
}

// NewServer 创建服务并注册路由。
func NewServer(deps Deps) *Server {
	if deps.Bus == nil {
		deps.Bus = NewEventBus()
	}
	if deps.Keepalive <= 0 {
		deps.Keepalive = 30 * time.Second
	}
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())
	s := &Server{router: r, deps: deps, bus: deps.Bus}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

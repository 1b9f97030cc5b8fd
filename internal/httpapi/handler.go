// handler.go: REST handlers。
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/deepinsight-client/internal/backend"
	"github.com/multi-agent/deepinsight-client/internal/session"
	"github.com/multi-agent/deepinsight-client/internal/viewstate"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
	"github.com/multi-agent/deepinsight-client/pkg/util"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/conversations", s.listConversations)
	api.POST("/conversations", s.createConversation)
	api.GET("/conversations/:id", s.getConversation)
	api.PUT("/conversations/:id", s.renameConversation)
	api.DELETE("/conversations/:id", s.deleteConversation)
	api.POST("/conversations/:id/reload", s.reloadConversation)
	api.GET("/conversations/:id/download", s.downloadReport)

	api.POST("/conversations/:id/questions", s.submitQuestion)
	api.POST("/conversations/:id/cancel", s.cancelTurn)
	api.POST("/conversations/:id/messages/:mid/resubmit", s.resubmit)
	api.DELETE("/conversations/:id/messages/:mid", s.removeMessage)

	api.PUT("/conversations/:id/view", s.pinView)
	api.POST("/conversations/:id/scroll", s.scrolled)

	api.GET("/documents/:docId/thumbnail", s.thumbnail)

	api.GET("/preferences", s.listPreferences)
	api.GET("/preferences/data-sources", s.getDataSources)
	api.PUT("/preferences/data-sources", s.setDataSources)

	api.GET("/events", s.sseHandler)
}

// ========================================
// 辅助: 分页参数
// ========================================

func queryInt(c *gin.Context, key string, def, lo, hi int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return util.ClampInt(v, lo, hi)
}

// conversation 打开 (必要时恢复) 路径中的会话。
func (s *Server) conversation(c *gin.Context) (*session.Conversation, bool) {
	conv, err := s.deps.Sessions.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return conv, true
}

// ========================================
// Conversations
// ========================================

func (s *Server) listConversations(c *gin.Context) {
	if s.deps.Backend == nil {
		items := make([]backend.Conversation, 0)
		for _, id := range s.deps.Sessions.IDs() {
			items = append(items, backend.Conversation{ID: id})
		}
		success(c, items)
		return
	}
	items, err := s.deps.Backend.ListConversations(c.Request.Context(),
		queryInt(c, "offset", 0, 0, 1<<20), queryInt(c, "limit", 100, 1, 2000))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

func (s *Server) createConversation(c *gin.Context) {
	var req struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	conv, err := s.deps.Sessions.Create(req.ID)
	if err != nil {
		fail(c, err)
		return
	}
	item := backend.Conversation{ID: conv.ID(), Title: req.Title}
	if s.deps.Backend != nil {
		item, err = s.deps.Backend.CreateConversation(c.Request.Context(), conv.ID(), req.Title)
		if err != nil {
			_ = s.deps.Sessions.Delete(c.Request.Context(), conv.ID())
			serverError(c, err)
			return
		}
	}
	created(c, item)
}

func (s *Server) getConversation(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	success(c, conv.View())
}

func (s *Server) reloadConversation(c *gin.Context) {
	conv, err := s.deps.Sessions.Hydrate(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, conv.View())
}

func (s *Server) renameConversation(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if s.deps.Backend == nil {
		notFound(c, "backend not configured")
		return
	}
	if err := s.deps.Backend.RenameConversation(c.Request.Context(), c.Param("id"), req.Name); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"id": c.Param("id"), "name": req.Name})
}

func (s *Server) deleteConversation(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Sessions.Delete(c.Request.Context(), id); err != nil && s.deps.Backend == nil {
		fail(c, err)
		return
	}
	if s.deps.Backend != nil {
		if err := s.deps.Backend.DeleteConversations(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
	}
	success(c, gin.H{"id": id})
}

func (s *Server) downloadReport(c *gin.Context) {
	if s.deps.Backend == nil {
		notFound(c, "backend not configured")
		return
	}
	body, contentType, err := s.deps.Backend.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	defer body.Close()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, body, nil)
}

// ========================================
// Turns
// ========================================

func (s *Server) submitQuestion(c *gin.Context) {
	var req struct {
		Question string   `json:"question" binding:"required"`
		DocIDs   []string `json:"doc_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	turn, err := conv.SubmitQuestion(c.Request.Context(), req.Question, req.DocIDs)
	if err != nil {
		fail(c, err)
		return
	}
	if turn == nil {
		success(c, gin.H{"ignored": true, "turn_state": conv.State()})
		return
	}
	accepted(c, gin.H{"turn_id": turn.ID, "question_id": turn.QuestionID, "generation": turn.Generation})
}

func (s *Server) cancelTurn(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	success(c, gin.H{"cancelled": conv.Cancel()})
}

func (s *Server) resubmit(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	turn, err := conv.Resubmit(c.Request.Context(), c.Param("mid"))
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, gin.H{"turn_id": turn.ID, "question_id": turn.QuestionID, "generation": turn.Generation})
}

func (s *Server) removeMessage(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	removed, err := conv.RemoveMessage(c.Request.Context(), c.Param("mid"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"removed": removed})
}

// ========================================
// View state
// ========================================

func (s *Server) pinView(c *gin.Context) {
	var req struct {
		View string `json:"view" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	if err := conv.PinView(viewstate.View(req.View)); err != nil {
		fail(c, err)
		return
	}
	success(c, conv.View().ViewState)
}

func (s *Server) scrolled(c *gin.Context) {
	var req struct {
		View   string  `json:"view" binding:"required"`
		Offset float64 `json:"offset"`
		Max    float64 `json:"max"`
		Auto   bool    `json:"auto"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	view := viewstate.View(req.View)
	var err error
	if req.Auto {
		err = conv.AutoScrolled(view, req.Offset, req.Max)
	} else {
		err = conv.Scrolled(view, req.Offset, req.Max)
	}
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"follow": conv.ShouldFollow(view)})
}

// ========================================
// Documents & preferences
// ========================================

func (s *Server) thumbnail(c *gin.Context) {
	if s.deps.Thumbnails == nil {
		notFound(c, "thumbnails not configured")
		return
	}
	docID := c.Param("docId")
	img, err := s.deps.Thumbnails.Get(c.Request.Context(), docID)
	if err != nil {
		logger.FromContext(c.Request.Context()).Debug("httpapi: thumbnail failed",
			logger.FieldDocID, docID, logger.FieldError, err)
		fail(c, err)
		return
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	c.Header("Cache-Control", "max-age=3600")
	c.Data(http.StatusOK, contentType, img.Data)
}

func (s *Server) listPreferences(c *gin.Context) {
	all, err := s.deps.Prefs.GetAll(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, all)
}

func (s *Server) getDataSources(c *gin.Context) {
	success(c, gin.H{"data_sources": s.deps.Prefs.DataSources(c.Request.Context())})
}

func (s *Server) setDataSources(c *gin.Context) {
	var req struct {
		DataSources []string `json:"data_sources"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.deps.Prefs.SetDataSources(c.Request.Context(), req.DataSources); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"data_sources": s.deps.Prefs.DataSources(c.Request.Context())})
}

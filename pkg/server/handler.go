package server

import (
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/deep-research/pkg/chat"
	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/research"
)

type Handler struct {
	Service *Service
	// Chat and Tools are optional; their routes are skipped when nil.
	Chat  *chat.Service
	Tools *chat.Toolset
}

func NewHandler(s *Service, c *chat.Service, tools *chat.Toolset) *Handler {
	return &Handler{Service: s, Chat: c, Tools: tools}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.Tools != nil {
		r.Any("/mcp", gin.WrapH(NewMCPHandler(NewMCPServer(h.Tools))))
	}

	api := r.Group("/api")
	{
		api.POST("/research", h.createSession)
		api.GET("/research", h.listSessions)
		api.GET("/research/:id", h.getSession)
		api.PATCH("/research/:id", h.updateSession)
		api.DELETE("/research/:id", h.closeSession)
		api.POST("/research/:id/reset", h.resetSession)
		api.POST("/research/:id/stages/:stage", h.runStage)
		api.POST("/research/:id/tasks/retry", h.retryTask)
		api.DELETE("/research/:id/tasks", h.removeTask)
		api.POST("/research/:id/resources", h.addResource)
		api.DELETE("/research/:id/resources/:resourceId", h.removeResource)
		api.GET("/research/:id/logs", h.getLogs)

		api.GET("/history", h.listHistory)
		api.GET("/history/:id", h.getHistory)
		api.DELETE("/history/:id", h.deleteHistory)
		api.POST("/history/:id/restore", h.restoreHistory)

		if h.Chat != nil {
			api.POST("/chat/conversations", h.createConversation)
			api.GET("/chat/conversations", h.listConversations)
			api.DELETE("/chat/conversations/:id", h.deleteConversation)
			api.GET("/chat/conversations/:id/messages", h.getMessages)
			api.POST("/chat/conversations/:id/messages", h.sendMessage)
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrUnknownStage),
		errors.Is(err, history.ErrNotFound),
		errors.Is(err, research.ErrTaskNotFound),
		errors.Is(err, research.ErrResourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy), errors.Is(err, research.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func startStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Transfer-Encoding", "chunked")
}

func writeEvent(c *gin.Context, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
	return true
}

func (h *Handler) health(c *gin.Context) {
	if err := h.Service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createSession(c *gin.Context) {
	var req struct {
		Question string `json:"question" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, h.Service.CreateSession(req.Question))
}

func (h *Handler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.ListSessions())
}

func (h *Handler) getSession(c *gin.Context) {
	snap, err := h.Service.Snapshot(c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) updateSession(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := h.Service.UpdateSession(c.Param("id"), req)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) closeSession(c *gin.Context) {
	if err := h.Service.CloseSession(c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) resetSession(c *gin.Context) {
	snap, err := h.Service.ResetSession(c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) runStage(c *gin.Context) {
	next, err := h.Service.RunStage(c.Request.Context(), c.Param("id"), c.Param("stage"))
	if err != nil {
		abort(c, err)
		return
	}
	h.streamEvents(c, next)
}

func (h *Handler) retryTask(c *gin.Context) {
	var req struct {
		Query string `json:"query" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	next, err := h.Service.RetryTask(c.Request.Context(), c.Param("id"), req.Query)
	if err != nil {
		abort(c, err)
		return
	}
	h.streamEvents(c, next)
}

func (h *Handler) streamEvents(c *gin.Context, next iter.Seq2[research.Event, error]) {
	startStream(c)
	for event := range next {
		if !writeEvent(c, event) {
			return
		}
	}
}

func (h *Handler) removeTask(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	if err := h.Service.RemoveTask(c.Param("id"), query); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) addResource(c *gin.Context) {
	var req AddResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.Service.AddResource(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		// The resource stays on the session as failed.
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "resource": res})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) removeResource(c *gin.Context) {
	if err := h.Service.RemoveResource(c.Request.Context(), c.Param("id"), c.Param("resourceId")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getLogs(c *gin.Context) {
	logs, err := h.Service.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) listHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.Service.ListHistory(c.Request.Context(), limit)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) getHistory(c *gin.Context) {
	snap, err := h.Service.LoadHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) deleteHistory(c *gin.Context) {
	if err := h.Service.DeleteHistory(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) restoreHistory(c *gin.Context) {
	snap, err := h.Service.RestoreHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *Handler) createConversation(c *gin.Context) {
	var req struct {
		ResearchID string `json:"research_id"`
	}
	// The body is optional.
	_ = c.ShouldBindJSON(&req)

	conv, err := h.Chat.CreateConversation(c.Request.Context(), req.ResearchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) listConversations(c *gin.Context) {
	convs, err := h.Chat.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handler) deleteConversation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}
	if err := h.Chat.DeleteConversation(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getMessages(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	msgs, err := h.Chat.GetHistory(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) sendMessage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := h.Chat.SendMessage(c.Request.Context(), id, req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	startStream(c)
	for event, err := range next {
		if err != nil {
			writeEvent(c, chat.StreamEvent{Type: "error", Payload: err.Error()})
			return
		}
		if !writeEvent(c, event) {
			return
		}
	}
}

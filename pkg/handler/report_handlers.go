// Report HTTP handlers - extracted signals, summaries and channel history.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/signaldesk/signaldesk/pkg/auth"
	"github.com/signaldesk/signaldesk/pkg/db"
	"github.com/signaldesk/signaldesk/pkg/event"
	"github.com/signaldesk/signaldesk/pkg/models"
	"github.com/signaldesk/signaldesk/pkg/service"
	"github.com/signaldesk/signaldesk/pkg/ws"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ReportHandler serves the read side of the AI pipeline plus channel
// history. Every route runs behind bearer auth and the same access gate the
// websocket layer uses.
type ReportHandler struct {
	store    *db.Store
	access   *service.AccessService
	insight  *service.InsightService
	hub      *ws.Hub
	verifier *auth.Verifier
	logger   *slog.Logger
}

// NewReportHandler creates the report handler.
func NewReportHandler(store *db.Store, access *service.AccessService, insight *service.InsightService, hub *ws.Hub, verifier *auth.Verifier, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		store:    store,
		access:   access,
		insight:  insight,
		hub:      hub,
		verifier: verifier,
		logger:   logger,
	}
}

// RegisterRoutes registers the report routes.
func (h *ReportHandler) RegisterRoutes(r *gin.RouterGroup) {
	authed := r.Group("", h.requireUser)

	groups := authed.Group("/groups")
	{
		groups.GET("/:id/messages", h.GetMessages)
		groups.GET("/:id/signals", h.GetSignals)
		groups.GET("/:id/summary", h.GetSummary)
		groups.POST("/:id/ask", h.AskChannel)
		groups.DELETE("/:id", h.DeleteGroup)
	}

	authed.GET("/projects/:id/dm/:userId", h.GetDirectMessage)

	// Debug injection: exercises the signal fan-out without the AI service.
	authed.POST("/debug/signals", h.InjectSignal)
}

// requireUser resolves the bearer token to a user id and aborts with 401
// otherwise.
func (h *ReportHandler) requireUser(c *gin.Context) {
	userID, err := h.verifier.Verify(BearerToken(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Set("userID", userID)
	c.Next()
}

// requireGroupAccess loads the group and applies the access gate for the
// authenticated user. Inaccessible groups read as 403, missing ones as 404.
func (h *ReportHandler) requireGroupAccess(c *gin.Context) (*models.Group, bool) {
	group, err := h.store.GetGroup(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
		} else {
			h.logger.Error("group lookup failed", "group", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load group"})
		}
		return nil, false
	}
	if !h.access.CanAccess(c.GetString("userID"), group) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return nil, false
	}
	return group, true
}

// GetMessages returns the most recent channel history in chronological order.
// GET /api/groups/:id/messages?limit=50
func (h *ReportHandler) GetMessages(c *gin.Context) {
	group, ok := h.requireGroupAccess(c)
	if !ok {
		return
	}

	messages, err := h.store.RecentMessages(group.ID, historyLimit(c))
	if err != nil {
		h.logger.Error("failed to load messages", "group", group.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

// GetSignals returns extracted signals for a group, optionally filtered by
// category. An unknown category filter is a 400, not an empty result.
// GET /api/groups/:id/signals?category=DECISION&limit=50
func (h *ReportHandler) GetSignals(c *gin.Context) {
	group, ok := h.requireGroupAccess(c)
	if !ok {
		return
	}

	if raw := c.Query("category"); raw != "" {
		category, ok := models.ValidCategory(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown category"})
			return
		}
		signals, err := h.store.ContextsByCategory(group.ID, category)
		if err != nil {
			h.logger.Error("failed to load signals", "group", group.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load signals"})
			return
		}
		c.JSON(http.StatusOK, signals)
		return
	}

	signals, err := h.store.RecentContexts(group.ID, historyLimit(c))
	if err != nil {
		h.logger.Error("failed to load signals", "group", group.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load signals"})
		return
	}
	c.JSON(http.StatusOK, signals)
}

// GetSummary returns the group's rolling summary.
// GET /api/groups/:id/summary
func (h *ReportHandler) GetSummary(c *gin.Context) {
	group, ok := h.requireGroupAccess(c)
	if !ok {
		return
	}

	summary, err := h.store.GetSummary(group.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No summary yet"})
			return
		}
		h.logger.Error("failed to load summary", "group", group.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// DeleteGroup removes a channel. The project's default channel is protected.
// DELETE /api/groups/:id
func (h *ReportHandler) DeleteGroup(c *gin.Context) {
	group, ok := h.requireGroupAccess(c)
	if !ok {
		return
	}

	if err := h.store.DeleteGroup(group.ID); err != nil {
		if errors.Is(err, db.ErrDefaultGroup) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to delete group", "group", group.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete group"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Group deleted"})
}

// GetDirectMessage resolves the existing DM between the caller and another
// project member.
// GET /api/projects/:id/dm/:userId
func (h *ReportHandler) GetDirectMessage(c *gin.Context) {
	projectID := c.Param("id")
	userID := c.GetString("userID")
	if !h.access.CanAccessProject(userID, projectID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this project"})
		return
	}

	dm, err := h.store.FindDirectMessage(projectID, userID, c.Param("userId"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No direct message yet"})
			return
		}
		h.logger.Error("dm lookup failed", "project", projectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up direct message"})
		return
	}
	c.JSON(http.StatusOK, dm)
}

type askRequest struct {
	QueryType string `json:"queryType"`
	Query     string `json:"query" binding:"required"`
}

// AskChannel runs a free-form query over recent history and extracted
// signals. The AI service answers synchronously.
// POST /api/groups/:id/ask
func (h *ReportHandler) AskChannel(c *gin.Context) {
	group, ok := h.requireGroupAccess(c)
	if !ok {
		return
	}

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	resp, err := h.insight.Ask(c.Request.Context(), group.ID, req.QueryType, req.Query)
	if err != nil {
		h.logger.Error("ask failed", "group", group.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI service unavailable"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

type injectSignalRequest struct {
	GroupID    string   `json:"groupId" binding:"required"`
	MessageID  string   `json:"messageId" binding:"required"`
	Content    string   `json:"content" binding:"required"`
	Category   []string `json:"category" binding:"required"`
	Confidence float64  `json:"confidence"`
}

// InjectSignal persists a hand-written signal and fires the same room event
// a real classification flush would. Used to exercise clients without the AI
// service running.
// POST /api/debug/signals
func (h *ReportHandler) InjectSignal(c *gin.Context) {
	var req injectSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	group, err := h.store.GetGroup(req.GroupID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
		return
	}
	if !h.access.CanAccess(c.GetString("userID"), group) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return
	}

	categories := models.NormalizeCategories(req.Category)
	if len(categories) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No valid categories"})
		return
	}

	signal := &models.Context{
		MessageID:       req.MessageID,
		GroupID:         group.ID,
		UserID:          c.GetString("userID"),
		Content:         req.Content,
		Category:        categories,
		ConfidenceScore: req.Confidence,
		ConfidenceNote:  "injected",
	}
	if err := h.store.CreateContext(signal); err != nil {
		h.logger.Error("failed to persist injected signal", "group", group.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save signal"})
		return
	}

	h.hub.EmitToRoom(ws.GroupRoom(group.ID), event.SignalsUpdatedEvent{
		GroupID: group.ID,
		Count:   1,
		Message: "New signals extracted",
	})
	c.JSON(http.StatusOK, signal)
}

func historyLimit(c *gin.Context) int {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxHistoryLimit {
			limit = n
		}
	}
	return limit
}

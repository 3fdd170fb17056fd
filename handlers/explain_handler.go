package handlers

import (
	"log/slog"
	"net/http"

	"trustlens-backend/models"
	"trustlens-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ExplainHandler handles follow-up questions about review results
type ExplainHandler struct {
	explain *service.ExplainService
	logger  *slog.Logger
}

// NewExplainHandler creates a new explain handler
func NewExplainHandler(explain *service.ExplainService, logger *slog.Logger) *ExplainHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExplainHandler{explain: explain, logger: logger}
}

// ExplainRequest represents the request body for a question
type ExplainRequest struct {
	ReviewID  string `json:"review_id" binding:"required"`
	RuleID    string `json:"rule_id" binding:"required"`
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
}

// Explain handles POST /api/explain
func (h *ExplainHandler) Explain(c *gin.Context) {
	var req ExplainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err.Error())
		return
	}
	reviewID, err := uuid.Parse(req.ReviewID)
	if err != nil {
		respondInvalid(c, "invalid review_id format")
		return
	}
	sessionID := uuid.Nil
	if req.SessionID != "" {
		if sessionID, err = uuid.Parse(req.SessionID); err != nil {
			respondInvalid(c, "invalid session_id format")
			return
		}
	}

	exp, err := h.explain.Explain(c.Request.Context(), service.ExplainRequest{
		ReviewID:  reviewID,
		RuleID:    req.RuleID,
		Question:  req.Question,
		SessionID: sessionID,
	})
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, exp)
}

// Sessions handles GET /api/explain/sessions?review_id=
func (h *ExplainHandler) Sessions(c *gin.Context) {
	reviewID, ok := queryUUID(c, "review_id")
	if !ok {
		return
	}
	sessions, err := h.explain.ListSessions(c.Request.Context(), reviewID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	if sessions == nil {
		sessions = []*models.ExplainSession{}
	}
	respond(c, http.StatusOK, sessions)
}

// History handles GET /api/explain/sessions/:id
func (h *ExplainHandler) History(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	history, err := h.explain.History(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, history)
}

// DeleteSession handles DELETE /api/explain/sessions/:id
func (h *ExplainHandler) DeleteSession(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	if err := h.explain.DeleteSession(c.Request.Context(), id); err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"session_id": id, "deleted": true})
}

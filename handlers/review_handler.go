package handlers

import (
	"log/slog"
	"net/http"

	"trustlens-backend/models"
	"trustlens-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReviewHandler handles HTTP requests for review runs
type ReviewHandler struct {
	reviews *service.ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(reviews *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewHandler{reviews: reviews, logger: logger}
}

// StartReviewRequest represents the request body for starting a review
type StartReviewRequest struct {
	DocumentID string   `json:"document_id" binding:"required"`
	RuleIDs    []string `json:"rule_ids"`
}

// Start handles POST /api/reviews
func (h *ReviewHandler) Start(c *gin.Context) {
	var req StartReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err.Error())
		return
	}
	docID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		respondInvalid(c, "invalid document_id format")
		return
	}

	result, err := h.reviews.StartReview(c.Request.Context(), service.StartReviewRequest{
		DocumentID: docID,
		RuleIDs:    req.RuleIDs,
	})
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respondStarted(c, result)
}

// List handles GET /api/reviews?document_id=
func (h *ReviewHandler) List(c *gin.Context) {
	docID, ok := queryUUID(c, "document_id")
	if !ok {
		return
	}
	runs, err := h.reviews.ListReviews(c.Request.Context(), docID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	if runs == nil {
		runs = []*models.ReviewRun{}
	}
	respond(c, http.StatusOK, runs)
}

// Status handles GET /api/reviews/:id
func (h *ReviewHandler) Status(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	status, err := h.reviews.GetStatus(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, status)
}

// Results handles GET /api/reviews/:id/results
func (h *ReviewHandler) Results(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	results, err := h.reviews.GetResults(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, results)
}

// Result handles GET /api/reviews/:id/results/:rule_id
func (h *ReviewHandler) Result(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	result, err := h.reviews.GetResult(c.Request.Context(), id, c.Param("rule_id"))
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, result)
}

// Cancel handles DELETE /api/reviews/:id. Rules already being verified
// finish; the run settles as CANCELLED.
func (h *ReviewHandler) Cancel(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	if err := h.reviews.CancelReview(c.Request.Context(), id); err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusAccepted, gin.H{"review_id": id, "cancel_requested": true})
}

// Retry handles POST /api/reviews/:id/retry
func (h *ReviewHandler) Retry(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	result, err := h.reviews.RetryFailed(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respondStarted(c, result)
}

func respondStarted(c *gin.Context, result *service.StartReviewResult) {
	respond(c, http.StatusAccepted, gin.H{
		"review_id":   result.ReviewID,
		"document_id": result.Run.DocumentID,
		"status":      result.Run.Status,
		"total_rules": result.Run.TotalRules,
	})
}

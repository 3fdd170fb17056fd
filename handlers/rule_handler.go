package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"trustlens-backend/models"
	"trustlens-backend/service"

	"github.com/gin-gonic/gin"
)

// RuleHandler handles HTTP requests for the rule catalog
type RuleHandler struct {
	rules  *service.RuleService
	logger *slog.Logger
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(rules *service.RuleService, logger *slog.Logger) *RuleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleHandler{rules: rules, logger: logger}
}

// List handles GET /api/rules; ?enabled=true lists enabled rules only
func (h *RuleHandler) List(c *gin.Context) {
	enabledOnly, _ := strconv.ParseBool(c.Query("enabled"))
	rules, err := h.rules.ListRules(c.Request.Context(), enabledOnly)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	if rules == nil {
		rules = []*models.Rule{}
	}
	respond(c, http.StatusOK, rules)
}

// Create handles POST /api/rules
func (h *RuleHandler) Create(c *gin.Context) {
	var rule models.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		respondInvalid(c, err.Error())
		return
	}
	created, err := h.rules.CreateRule(c.Request.Context(), rule)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, created)
}

// Get handles GET /api/rules/:id; ?version=n selects an older version
func (h *RuleHandler) Get(c *gin.Context) {
	id := c.Param("id")
	var (
		rule *models.Rule
		err  error
	)
	if raw := c.Query("version"); raw != "" {
		version, convErr := strconv.Atoi(raw)
		if convErr != nil || version < 1 {
			respondInvalid(c, "version must be a positive integer")
			return
		}
		rule, err = h.rules.GetRuleVersion(c.Request.Context(), id, version)
	} else {
		rule, err = h.rules.GetRule(c.Request.Context(), id)
	}
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, rule)
}

// Versions handles GET /api/rules/:id/versions
func (h *RuleHandler) Versions(c *gin.Context) {
	versions, err := h.rules.RuleVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, versions)
}

// Update handles PUT /api/rules/:id and stores a new version
func (h *RuleHandler) Update(c *gin.Context) {
	var rule models.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		respondInvalid(c, err.Error())
		return
	}
	updated, err := h.rules.UpdateRule(c.Request.Context(), c.Param("id"), rule)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, updated)
}

// SetEnabledRequest represents the request body for enabling or disabling a rule
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetEnabled handles PUT /api/rules/:id/enabled
func (h *RuleHandler) SetEnabled(c *gin.Context) {
	var req SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err.Error())
		return
	}
	rule, err := h.rules.SetEnabled(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, rule)
}

// Delete handles DELETE /api/rules/:id
func (h *RuleHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.rules.DeleteRule(c.Request.Context(), id); err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"rule_id": id, "deleted": true})
}

// ParseRuleRequest represents the request body for parsing a rule
type ParseRuleRequest struct {
	Text string `json:"text" binding:"required"`
}

// Parse handles POST /api/rules/parse. The parsed rule is not stored.
func (h *RuleHandler) Parse(c *gin.Context) {
	var req ParseRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err.Error())
		return
	}
	rule, err := h.rules.ParseRule(c.Request.Context(), req.Text)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, rule)
}

// Import handles POST /api/rules/import with a YAML catalog body
func (h *RuleHandler) Import(c *gin.Context) {
	res, err := h.rules.ImportRules(c.Request.Context(), c.Request.Body)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, res)
}

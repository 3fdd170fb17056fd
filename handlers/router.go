package handlers

import (
	"log/slog"
	"net/http"

	"trustlens-backend/service"

	"github.com/gin-gonic/gin"
)

// Services groups what the HTTP API serves
type Services struct {
	Documents *service.DocumentService
	Rules     *service.RuleService
	Reviews   *service.ReviewService
	Explain   *service.ExplainService
	// Metrics serves /metrics when set
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(s Services) *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics))
	}

	documentHandler := NewDocumentHandler(s.Documents, s.Logger)
	ruleHandler := NewRuleHandler(s.Rules, s.Logger)
	reviewHandler := NewReviewHandler(s.Reviews, s.Logger)
	explainHandler := NewExplainHandler(s.Explain, s.Logger)

	api := r.Group("/api")
	{
		// Document endpoints
		api.POST("/documents", documentHandler.Upload)
		api.GET("/documents", documentHandler.List)
		api.GET("/documents/:id", documentHandler.Get)
		api.DELETE("/documents/:id", documentHandler.Delete)
		api.GET("/documents/:id/file", documentHandler.File)
		api.GET("/documents/:id/chunks", documentHandler.Chunks)
		api.POST("/documents/:id/reingest", documentHandler.Reingest)

		// Rule endpoints
		api.GET("/rules", ruleHandler.List)
		api.POST("/rules", ruleHandler.Create)
		api.POST("/rules/parse", ruleHandler.Parse)
		api.POST("/rules/import", ruleHandler.Import)
		api.GET("/rules/:id", ruleHandler.Get)
		api.PUT("/rules/:id", ruleHandler.Update)
		api.DELETE("/rules/:id", ruleHandler.Delete)
		api.GET("/rules/:id/versions", ruleHandler.Versions)
		api.PUT("/rules/:id/enabled", ruleHandler.SetEnabled)

		// Review endpoints
		api.POST("/reviews", reviewHandler.Start)
		api.GET("/reviews", reviewHandler.List)
		api.GET("/reviews/:id", reviewHandler.Status)
		api.DELETE("/reviews/:id", reviewHandler.Cancel)
		api.GET("/reviews/:id/results", reviewHandler.Results)
		api.GET("/reviews/:id/results/:rule_id", reviewHandler.Result)
		api.POST("/reviews/:id/retry", reviewHandler.Retry)

		// Explain endpoints
		api.POST("/explain", explainHandler.Explain)
		api.GET("/explain/sessions", explainHandler.Sessions)
		api.GET("/explain/sessions/:id", explainHandler.History)
		api.DELETE("/explain/sessions/:id", explainHandler.DeleteSession)
	}

	return r
}

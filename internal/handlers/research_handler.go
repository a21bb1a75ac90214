package handlers

import (
	"context"
	"net/http"
	"time"

	"horizon-research-engine/internal/models"
	"horizon-research-engine/internal/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ResearchOrchestrator is the slice of the orchestrator the HTTP layer needs.
type ResearchOrchestrator interface {
	ExecuteResearch(ctx context.Context, req models.ResearchRequest) (*models.ResearchResult, error)
	HealthCheck(ctx context.Context) error
	GetStats() map[string]interface{}
	GetActiveResearchCount() int
}

type ResearchHandler struct {
	orchestrator ResearchOrchestrator
	logger       *logger.Logger
}

func NewResearchHandler(orchestrator ResearchOrchestrator, log *logger.Logger) *ResearchHandler {
	return &ResearchHandler{
		orchestrator: orchestrator,
		logger:       log,
	}
}

type executeResearchRequest struct {
	Query      string `json:"query"`
	Depth      string `json:"depth"`
	MaxSources int    `json:"max_sources"`
}

// ExecuteResearch handles POST /api/research. The request blocks until the
// research run finishes; timeouts are governed by the server write timeout.
func (handler *ResearchHandler) ExecuteResearch(c *gin.Context) {
	startTime := time.Now()

	var body executeResearchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
			"code":  "INVALID_BODY",
		})
		return
	}

	req, err := models.NewResearchRequest(body.Query, body.Depth, body.MaxSources)
	if err != nil {
		handler.respondError(c, err)
		return
	}

	result, err := handler.orchestrator.ExecuteResearch(c.Request.Context(), req)
	if err != nil {
		handler.logger.WithError(err).Error("Research request failed",
			"query", req.Query,
			"depth", string(req.Depth),
			"duration", time.Since(startTime).String())
		handler.respondError(c, err)
		return
	}

	handler.logger.Info("Research request completed",
		"query", req.Query,
		"depth", string(req.Depth),
		"searches_performed", result.SearchesPerformed,
		"duration", time.Since(startTime).String())

	c.JSON(http.StatusOK, result)
}

func (handler *ResearchHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := "internal server error"

	var engineErr *models.EngineError
	if e, ok := err.(*models.EngineError); ok {
		engineErr = e
	}

	switch {
	case models.IsValidation(err):
		status = http.StatusBadRequest
	case models.IsRateLimited(err):
		status = http.StatusTooManyRequests
	case models.IsResearchFailed(err):
		status = http.StatusBadGateway
	}

	if engineErr != nil {
		code = engineErr.Code
		message = engineErr.Message
	}

	c.JSON(status, gin.H{
		"error": message,
		"code":  code,
	})
}

// HealthCheck handles GET /health.
func (handler *ResearchHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := handler.orchestrator.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"active_research": handler.orchestrator.GetActiveResearchCount(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// GetStats handles GET /stats.
func (handler *ResearchHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, handler.orchestrator.GetStats())
}

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/analytics"
	"github.com/enterprise/fraud-scorer/internal/auth"
	"github.com/enterprise/fraud-scorer/internal/ingestion"
	"github.com/enterprise/fraud-scorer/internal/metrics"
	"github.com/enterprise/fraud-scorer/internal/models"
	"github.com/enterprise/fraud-scorer/internal/output"
	"github.com/enterprise/fraud-scorer/internal/queue"
	"github.com/enterprise/fraud-scorer/internal/repositories"
	"github.com/enterprise/fraud-scorer/internal/scoring"
	"github.com/enterprise/fraud-scorer/internal/services"
)

type responseCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
}

type runReader interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*models.DetectionSummary, error)
	ListFlagged(ctx context.Context, runID uuid.UUID, limit int) ([]models.ScoredTransaction, error)
}

type alertReader interface {
	Recent(ctx context.Context, count int64) ([]models.FraudAlert, error)
}

type analyticsReader interface {
	GetRiskDistribution(ctx context.Context, days int) (*analytics.RiskDistribution, error)
	GetTopTriggeredRules(ctx context.Context, days, limit int) ([]models.RuleCount, error)
	GetUserRiskProfile(ctx context.Context, userID string) (*analytics.UserRiskProfile, error)
}

type batchPublisher interface {
	Publish(ctx context.Context, batch output.Batch) error
}

// server holds the handler dependencies. cache, runs, alerts, analytics and
// sinks are optional.
type server struct {
	scoring     configs.ScoringConfig
	policy      output.Policy
	rules       *scoring.RuleSet
	jwtManager  *auth.JWTManager
	authService *services.AuthService
	cache       responseCache
	runs        runReader
	alerts      alertReader
	analytics   analyticsReader
	sinks       batchPublisher
}

func outputPolicy(cfg configs.OutputConfig) output.Policy {
	return output.Policy{FlaggedOnly: cfg.FlaggedOnly, SortByRisk: cfg.SortByRisk}
}

func (s *server) setupRoutes(router *gin.Engine) {
	router.Use(metrics.Middleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")
	v1.POST("/auth/token", s.tokenHandler)

	protected := v1.Group("")
	protected.Use(auth.AuthMiddleware(s.jwtManager))

	protected.GET("/rules", s.rulesHandler)

	scoreRoutes := protected.Group("/score")
	scoreRoutes.Use(auth.RoleMiddleware(auth.RoleAdmin, auth.RoleAnalyst))
	{
		scoreRoutes.POST("", s.scoreHandler)
		scoreRoutes.POST("/explain", s.explainHandler)
	}

	runRoutes := protected.Group("/runs")
	{
		runRoutes.GET("/:id", s.getRunHandler)
		runRoutes.GET("/:id/flagged", s.getFlaggedHandler)
	}

	protected.GET("/alerts/recent", s.recentAlertsHandler)

	analyticsRoutes := protected.Group("/analytics")
	analyticsRoutes.Use(s.requireAnalytics)
	{
		analyticsRoutes.GET("/distribution", s.riskDistributionHandler)
		analyticsRoutes.GET("/rules/top", s.topRulesHandler)
		analyticsRoutes.GET("/users/:user_id", s.userProfileHandler)
	}
}

func (s *server) newPipeline() *scoring.Pipeline {
	return scoring.NewPipelineWithRules(s.rules, s.scoring.Location(), s.scoring.Concurrency)
}

func (s *server) tokenHandler(c *gin.Context) {
	var req services.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.authService.IssueToken(&req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrInvalidCredentials) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

type ruleResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Explanation string  `json:"explanation"`
}

func (s *server) rulesHandler(c *gin.Context) {
	rules := s.rules.Rules()
	resp := make([]ruleResponse, len(rules))
	for i, r := range rules {
		resp[i] = ruleResponse{ID: r.ID, Name: r.Name, Weight: r.Weight, Explanation: r.Explanation}
	}
	c.JSON(http.StatusOK, gin.H{
		"rules":        resp,
		"total_weight": s.rules.TotalWeight(),
	})
}

type scoreResponse struct {
	RunID        string                     `json:"run_id"`
	Summary      models.DetectionSummary    `json:"summary"`
	Transactions []models.ScoredTransaction `json:"transactions"`
	Cached       bool                       `json:"cached"`
}

func (s *server) scoreHandler(c *gin.Context) {
	var req ingestion.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	key := cacheKey(&req)
	if s.cache != nil {
		var cached scoreResponse
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			cached.Cached = true
			c.JSON(http.StatusOK, cached)
			return
		}
		if !errors.Is(err, queue.ErrCacheMiss) {
			log.Warn().Err(err).Msg("Failed to read score cache")
		}
	}

	res, err := s.newPipeline().Run(ctx, req.RawRows())
	if err != nil {
		respondRunError(c, err)
		return
	}

	if s.sinks != nil {
		batch := output.Batch{RunID: res.RunID, Transactions: res.Transactions, Summary: res.Summary}
		if err := s.sinks.Publish(ctx, batch); err != nil {
			log.Error().Err(err).Str("run_id", res.RunID).Msg("Failed to publish run to sinks")
		}
	}

	policy := s.policy
	policy.FlaggedOnly = policy.FlaggedOnly || req.FlaggedOnly
	policy.SortByRisk = policy.SortByRisk || req.SortByRisk

	resp := scoreResponse{
		RunID:        res.RunID,
		Summary:      res.Summary,
		Transactions: policy.Apply(res.Transactions),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, resp); err != nil {
			log.Warn().Err(err).Msg("Failed to cache score response")
		}
	}

	c.JSON(http.StatusOK, resp)
}

type explainRequest struct {
	ingestion.ScoreRequest
	Row *int `json:"row" binding:"required,gte=0"`
}

func (s *server) explainHandler(c *gin.Context) {
	var req explainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := s.newPipeline()
	res, err := p.Run(c.Request.Context(), req.RawRows())
	if err != nil {
		respondRunError(c, err)
		return
	}

	explanation, err := p.Explain(res, *req.Row)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, explanation)
}

func (s *server) getRunHandler(c *gin.Context) {
	runID, ok := s.runID(c)
	if !ok {
		return
	}

	summary, err := s.runs.GetRun(c.Request.Context(), runID)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *server) getFlaggedHandler(c *gin.Context) {
	runID, ok := s.runID(c)
	if !ok {
		return
	}

	limit := getIntParam(c, "limit", 100)
	txs, err := s.runs.ListFlagged(c.Request.Context(), runID, limit)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"transactions": txs,
		"count":        len(txs),
	})
}

// runID parses the :id parameter and checks that a run store is configured
func (s *server) runID(c *gin.Context) (uuid.UUID, bool) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run store is not configured"})
		return uuid.Nil, false
	}
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return uuid.Nil, false
	}
	return runID, true
}

func (s *server) recentAlertsHandler(c *gin.Context) {
	if userID := c.Query("user_id"); userID != "" {
		s.latestAlertHandler(c, userID)
		return
	}
	if s.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert stream is not configured"})
		return
	}

	alerts, err := s.alerts.Recent(c.Request.Context(), int64(getIntParam(c, "count", 50)))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// latestAlertHandler serves the last alert the alert monitor consumed for userID
func (s *server) latestAlertHandler(c *gin.Context, userID string) {
	if s.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert cache is not configured"})
		return
	}

	var alert models.FraudAlert
	err := s.cache.Get(c.Request.Context(), queue.LatestAlertKey(userID), &alert)
	if errors.Is(err, queue.ErrCacheMiss) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no recent alert for user"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"alert":   alert,
	})
}

func (s *server) requireAnalytics(c *gin.Context) {
	if s.analytics == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "run store is not configured"})
		return
	}
	c.Next()
}

func (s *server) riskDistributionHandler(c *gin.Context) {
	distribution, err := s.analytics.GetRiskDistribution(c.Request.Context(), getIntParam(c, "days", 7))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, distribution)
}

func (s *server) topRulesHandler(c *gin.Context) {
	days := getIntParam(c, "days", 7)
	rules, err := s.analytics.GetTopTriggeredRules(c.Request.Context(), days, getIntParam(c, "limit", 5))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"period": fmt.Sprintf("%d days", days),
		"rules":  rules,
	})
}

func (s *server) userProfileHandler(c *gin.Context) {
	profile, err := s.analytics.GetUserRiskProfile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, analytics.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func respondRunError(c *gin.Context, err error) {
	var ingErr *ingestion.Error
	switch {
	case errors.As(err, &ingErr):
		body := gin.H{
			"error":  "invalid transaction",
			"field":  ingErr.Field,
			"reason": ingErr.Reason,
		}
		if ingErr.Row >= 0 {
			body["row"] = ingErr.Row
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scoring run cancelled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, repositories.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// cacheKey digests the request, policy flags included
func cacheKey(req *ingestion.ScoreRequest) string {
	data, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return "score:" + hex.EncodeToString(sum[:])
}

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}

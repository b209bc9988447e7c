package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/analytics"
	"github.com/enterprise/fraud-scorer/internal/auth"
	"github.com/enterprise/fraud-scorer/internal/models"
	"github.com/enterprise/fraud-scorer/internal/output"
	"github.com/enterprise/fraud-scorer/internal/queue"
	"github.com/enterprise/fraud-scorer/internal/repositories"
	"github.com/enterprise/fraud-scorer/internal/scoring"
	"github.com/enterprise/fraud-scorer/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return queue.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

type fakeRuns struct {
	summary models.DetectionSummary
	flagged []models.ScoredTransaction
}

func (f *fakeRuns) GetRun(_ context.Context, runID uuid.UUID) (*models.DetectionSummary, error) {
	if runID.String() != f.summary.RunID {
		return nil, repositories.ErrRunNotFound
	}
	return &f.summary, nil
}

func (f *fakeRuns) ListFlagged(_ context.Context, runID uuid.UUID, limit int) ([]models.ScoredTransaction, error) {
	if runID.String() != f.summary.RunID {
		return nil, nil
	}
	if limit < len(f.flagged) {
		return f.flagged[:limit], nil
	}
	return f.flagged, nil
}

type fakeAnalytics struct{}

func (fakeAnalytics) GetRiskDistribution(_ context.Context, days int) (*analytics.RiskDistribution, error) {
	return &analytics.RiskDistribution{
		Period: "7 days",
		Levels: map[string]int{models.RiskLevelLow: 7, models.RiskLevelHigh: 1},
		Total:  8,
	}, nil
}

func (fakeAnalytics) GetTopTriggeredRules(_ context.Context, days, limit int) ([]models.RuleCount, error) {
	rules := []models.RuleCount{{RuleID: scoring.RuleNewMerchant, Count: 2}, {RuleID: scoring.RuleNocturnal, Count: 1}}
	if limit < len(rules) {
		rules = rules[:limit]
	}
	return rules, nil
}

func (fakeAnalytics) GetUserRiskProfile(_ context.Context, userID string) (*analytics.UserRiskProfile, error) {
	if userID != "alice" {
		return nil, analytics.ErrUserNotFound
	}
	return &analytics.UserRiskProfile{UserID: "alice", Transactions: 4, Flagged: 1, MaxRiskScore: 54.41}, nil
}

type recordingSinks struct {
	batches []output.Batch
}

func (r *recordingSinks) Publish(_ context.Context, batch output.Batch) error {
	r.batches = append(r.batches, batch)
	return nil
}

const testSecret = "jwt-test-secret-0123456789"

func newTestServer() (*server, *gin.Engine) {
	cfg := configs.Load()
	jwtManager := auth.NewJWTManager(testSecret, time.Hour)
	s := &server{
		scoring:     cfg.Scoring,
		rules:       scoring.NewRuleSet(scoring.ThresholdsFromConfig(cfg.Scoring)),
		jwtManager:  jwtManager,
		authService: services.NewAuthService(configs.APIClientConfig{Role: auth.RoleViewer}, jwtManager),
	}
	return s, build(s)
}

func build(s *server) *gin.Engine {
	router := gin.New()
	s.setupRoutes(router)
	return router
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, _, err := auth.NewJWTManager(testSecret, time.Hour).GenerateToken("tester", role)
	require.NoError(t, err)
	return "Bearer " + token
}

func do(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.AuthorizationHeader, token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func tx(user, ts, merchant string, amount interface{}) map[string]interface{} {
	return map[string]interface{}{
		"user_id":       user,
		"timestamp":     ts,
		"merchant_name": merchant,
		"amount":        amount,
	}
}

func scenario() []map[string]interface{} {
	return []map[string]interface{}{
		tx("alice", "2024-02-25T12:00:00Z", "Grocer", 140),
		tx("alice", "2024-02-26T12:00:00Z", "Bookshop", "150.00"),
		tx("alice", "2024-02-27T12:00:00Z", "Pharmacy", 160),
		tx("alice", "2024-03-01T04:20:00Z", "Electronics Hub", "3500.00"),
	}
}

func TestHealth(t *testing.T) {
	_, router := newTestServer()

	w := do(t, router, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestScoreRequiresAuth(t *testing.T) {
	_, router := newTestServer()

	w := do(t, router, http.MethodPost, "/api/v1/score", "", gin.H{"transactions": scenario()})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/score", bearer(t, auth.RoleViewer), gin.H{"transactions": scenario()})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestScore(t *testing.T) {
	s, _ := newTestServer()
	sinks := &recordingSinks{}
	s.sinks = sinks
	router := build(s)

	w := do(t, router, http.MethodPost, "/api/v1/score", bearer(t, auth.RoleAnalyst), gin.H{"transactions": scenario()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp scoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Transactions, 4)
	assert.False(t, resp.Cached)
	assert.Equal(t, 54.41, resp.Transactions[3].RiskScore)
	assert.Equal(t, []string{scoring.RuleAmountAnomaly, scoring.RuleNewMerchant, scoring.RuleNocturnal}, resp.Transactions[3].TriggeredRules)
	assert.Equal(t, "2024-03-01T04:20:00Z", resp.Transactions[3].RawTimestamp)
	assert.Equal(t, "3500.00", resp.Transactions[3].RawAmount)
	assert.Equal(t, "140", resp.Transactions[0].RawAmount)
	assert.Equal(t, 0.0, resp.Transactions[0].RiskScore)
	assert.Equal(t, 1, resp.Summary.FlaggedTransactions)

	require.Len(t, sinks.batches, 1)
	assert.Equal(t, resp.RunID, sinks.batches[0].RunID)
}

func TestScoreFlaggedOnlySortedByRisk(t *testing.T) {
	_, router := newTestServer()

	body := gin.H{"transactions": scenario(), "flagged_only": true, "sort_by_risk": true}
	w := do(t, router, http.MethodPost, "/api/v1/score", bearer(t, auth.RoleAdmin), body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp scoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "Electronics Hub", resp.Transactions[0].MerchantName)
	assert.Equal(t, 4, resp.Summary.TotalTransactions)
}

func TestScoreUsesCache(t *testing.T) {
	s, _ := newTestServer()
	s.cache = &memoryCache{data: make(map[string][]byte)}
	sinks := &recordingSinks{}
	s.sinks = sinks
	router := build(s)
	token := bearer(t, auth.RoleAnalyst)

	first := do(t, router, http.MethodPost, "/api/v1/score", token, gin.H{"transactions": scenario()})
	second := do(t, router, http.MethodPost, "/api/v1/score", token, gin.H{"transactions": scenario()})
	require.Equal(t, http.StatusOK, second.Code)

	var a, b scoreResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.True(t, b.Cached)
	assert.Equal(t, a.RunID, b.RunID)
	assert.Equal(t, a.Transactions, b.Transactions)
	assert.Len(t, sinks.batches, 1)
}

func TestScoreRejectsInvalidRows(t *testing.T) {
	_, router := newTestServer()
	txs := scenario()
	txs[2]["amount"] = "-5"

	w := do(t, router, http.MethodPost, "/api/v1/score", bearer(t, auth.RoleAnalyst), gin.H{"transactions": txs})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["row"])
	assert.Equal(t, "amount", body["field"])
}

func TestScoreRejectsEmptyBatch(t *testing.T) {
	_, router := newTestServer()

	w := do(t, router, http.MethodPost, "/api/v1/score", bearer(t, auth.RoleAnalyst), gin.H{"transactions": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExplain(t *testing.T) {
	_, router := newTestServer()

	body := gin.H{"transactions": scenario(), "row": 3}
	w := do(t, router, http.MethodPost, "/api/v1/score/explain", bearer(t, auth.RoleAnalyst), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp scoring.Explanation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Outcomes, 5)
	assert.Equal(t, 3, resp.Stats.HistoryCount)
	assert.True(t, resp.Stats.IsNewMerchant)
	assert.Equal(t, 4, resp.Stats.LocalHour)

	body["row"] = 9
	w = do(t, router, http.MethodPost, "/api/v1/score/explain", bearer(t, auth.RoleAnalyst), body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRules(t *testing.T) {
	_, router := newTestServer()

	w := do(t, router, http.MethodGet, "/api/v1/rules", bearer(t, auth.RoleViewer), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Rules       []ruleResponse `json:"rules"`
		TotalWeight float64        `json:"total_weight"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rules, 5)
	assert.Equal(t, scoring.RuleVelocity, resp.Rules[0].ID)
	assert.Equal(t, 340.0, resp.TotalWeight)
}

func TestRunsWithoutStore(t *testing.T) {
	_, router := newTestServer()

	w := do(t, router, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), bearer(t, auth.RoleViewer), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/alerts/recent", bearer(t, auth.RoleViewer), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLatestAlertForUser(t *testing.T) {
	s, router := newTestServer()
	token := bearer(t, auth.RoleViewer)

	w := do(t, router, http.MethodGet, "/api/v1/alerts/recent?user_id=alice", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	cache := &memoryCache{data: make(map[string][]byte)}
	alert := models.FraudAlert{AlertID: "a-1", UserID: "alice", RiskScore: 54.41, RiskLevel: models.RiskLevelHigh}
	require.NoError(t, cache.Set(context.Background(), queue.LatestAlertKey("alice"), alert))
	s.cache = cache
	router = build(s)

	w = do(t, router, http.MethodGet, "/api/v1/alerts/recent?user_id=alice", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		UserID string            `json:"user_id"`
		Alert  models.FraudAlert `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.UserID)
	assert.Equal(t, "a-1", resp.Alert.AlertID)
	assert.Equal(t, 54.41, resp.Alert.RiskScore)

	w = do(t, router, http.MethodGet, "/api/v1/alerts/recent?user_id=bob", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuns(t *testing.T) {
	s, _ := newTestServer()
	runID := uuid.NewString()
	s.runs = &fakeRuns{
		summary: models.DetectionSummary{RunID: runID, TotalTransactions: 8, FlaggedTransactions: 2},
		flagged: []models.ScoredTransaction{
			{TransactionRecord: models.TransactionRecord{UserID: "alice"}, RiskScore: 54.41},
			{TransactionRecord: models.TransactionRecord{UserID: "bob"}, RiskScore: 17.65},
		},
	}
	router := build(s)
	token := bearer(t, auth.RoleViewer)

	w := do(t, router, http.MethodGet, "/api/v1/runs/"+runID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"flagged_transactions":2`)

	w = do(t, router, http.MethodGet, "/api/v1/runs/"+runID+"/flagged?limit=1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = do(t, router, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/runs/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTokenEndpoint(t *testing.T) {
	s, _ := newTestServer()
	hash, err := services.HashClientSecret("scanner-secret-2024")
	require.NoError(t, err)
	s.authService = services.NewAuthService(
		configs.APIClientConfig{ClientID: "scanner", SecretHash: hash, Role: auth.RoleAnalyst},
		s.jwtManager,
	)
	router := build(s)

	w := do(t, router, http.MethodPost, "/api/v1/auth/token", "", gin.H{"client_id": "scanner", "client_secret": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/auth/token", "", gin.H{"client_id": "scanner", "client_secret": "scanner-secret-2024"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp services.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = do(t, router, http.MethodGet, "/api/v1/rules", "Bearer "+resp.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := &RateLimiter{visitors: make(map[string]*visitor), rate: 2, window: time.Minute}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))

	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
}

func TestAnalytics(t *testing.T) {
	s, router := newTestServer()
	token := bearer(t, auth.RoleViewer)

	w := do(t, router, http.MethodGet, "/api/v1/analytics/distribution", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.analytics = fakeAnalytics{}
	router = build(s)

	w = do(t, router, http.MethodGet, "/api/v1/analytics/distribution?days=7", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":8`)

	w = do(t, router, http.MethodGet, "/api/v1/analytics/rules/top?limit=1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), scoring.RuleNewMerchant)
	assert.NotContains(t, w.Body.String(), scoring.RuleNocturnal)

	w = do(t, router, http.MethodGet, "/api/v1/analytics/users/alice", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"flagged":1`)

	w = do(t, router, http.MethodGet, "/api/v1/analytics/users/mallory", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

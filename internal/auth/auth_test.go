package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGenerateAndValidateToken(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, expiresAt, err := m.GenerateToken("scanner", RoleAnalyst)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "scanner", claims.ClientID)
	assert.Equal(t, RoleAnalyst, claims.Role)
	assert.Equal(t, "scanner", claims.Subject)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, _, err := NewJWTManager("one", time.Hour).GenerateToken("scanner", RoleViewer)
	require.NoError(t, err)

	_, err = NewJWTManager("two", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTManager("one", time.Hour).ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := m.GenerateToken("scanner", RoleAnalyst)
	require.NoError(t, err)

	_, err = NewJWTManager("test-secret", time.Minute).ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestSecretHashing(t *testing.T) {
	hash, err := HashSecret("correct-horse-42-battery")
	require.NoError(t, err)

	assert.True(t, CheckSecret("correct-horse-42-battery", hash))
	assert.False(t, CheckSecret("wrong", hash))
}

func TestValidateSecretStrength(t *testing.T) {
	tests := []struct {
		secret string
		want   bool
	}{
		{"short1", false},
		{"onlylettersinthissecret", false},
		{"12345678901234567890", false},
		{"letters-and-digits-123", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateSecretStrength(tt.secret), tt.secret)
	}
}

func newRouter(m *JWTManager, roles ...string) *gin.Engine {
	r := gin.New()
	r.GET("/protected", AuthMiddleware(m), RoleMiddleware(roles...), func(c *gin.Context) {
		id, _ := GetClientIDFromContext(c)
		c.String(http.StatusOK, id)
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	token, _, err := m.GenerateToken("scanner", RoleAnalyst)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		roles  []string
		status int
	}{
		{"missing header", "", []string{RoleAnalyst}, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", []string{RoleAnalyst}, http.StatusUnauthorized},
		{"bad token", "Bearer nope", []string{RoleAnalyst}, http.StatusUnauthorized},
		{"allowed role", "Bearer " + token, []string{RoleAdmin, RoleAnalyst}, http.StatusOK},
		{"forbidden role", "Bearer " + token, []string{RoleAdmin}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set(AuthorizationHeader, tt.header)
			}
			w := httptest.NewRecorder()
			newRouter(m, tt.roles...).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "scanner", w.Body.String())
			}
		})
	}
}

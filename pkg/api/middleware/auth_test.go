package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/middleware"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestValidateToken(t *testing.T) {
	config := middleware.NewJWTConfig(testSecret)

	t.Run("valid token", func(t *testing.T) {
		token, err := middleware.GenerateToken(config, "user123", "jane", []string{middleware.RoleAdmin})
		require.NoError(t, err)

		claims, err := middleware.ValidateToken(config, token)
		require.NoError(t, err)
		assert.Equal(t, "user123", claims.UserID)
		assert.Equal(t, "jane", claims.Username)
		assert.Contains(t, claims.Roles, middleware.RoleAdmin)
	})

	t.Run("garbage token", func(t *testing.T) {
		claims, err := middleware.ValidateToken(config, "invalid-token")
		assert.Error(t, err)
		assert.Nil(t, claims)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _ := middleware.GenerateToken(middleware.NewJWTConfig("another-secret-another-secret-xx"), "u", "u", nil)
		_, err := middleware.ValidateToken(config, token)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		expired := &middleware.JWTConfig{SecretKey: []byte(testSecret), Expiration: -time.Minute}
		token, _ := middleware.GenerateToken(expired, "u", "u", nil)
		_, err := middleware.ValidateToken(config, token)
		assert.Error(t, err)
	})
}

func authRouter(config *middleware.JWTConfig, roles ...string) *gin.Engine {
	router := gin.New()
	router.Use(middleware.JWTAuth(config), middleware.RequireRole(config, roles...))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id")})
	})
	return router
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config := middleware.NewJWTConfig(testSecret)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing authorization header", "", http.StatusUnauthorized},
		{"invalid token format", "InvalidFormat", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			authRouter(config).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	t.Run("valid token in header", func(t *testing.T) {
		token, _ := middleware.GenerateToken(config, "user123", "jane", []string{middleware.RoleOperator})
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		authRouter(config).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "user123")
	})

	t.Run("disabled without config", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		authRouter(nil, middleware.RoleAdmin).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config := middleware.NewJWTConfig(testSecret)

	call := func(roles []string) int {
		token, _ := middleware.GenerateToken(config, "u", "u", roles)
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		authRouter(config, middleware.RoleAdmin, middleware.RoleOperator).ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call([]string{middleware.RoleOperator}))
	assert.Equal(t, http.StatusOK, call([]string{"viewer", middleware.RoleAdmin}))
	assert.Equal(t, http.StatusForbidden, call([]string{"viewer"}))
	assert.Equal(t, http.StatusForbidden, call(nil))
}

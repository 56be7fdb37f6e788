package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callcore/pkg/auth"
	apperrors "callcore/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := auth.NewTokenIssuer("secret", time.Hour)

	router := gin.New()
	router.Use(AuthMiddleware(issuer))
	router.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextRecipient))
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, serve(router, req).Code)

	token, err := issuer.Issue("alice", 1)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(router, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/app", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNoActiveCallError())
	})
	router.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/app", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "NO_ACTIVE_CALL")

	w = serve(router, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTracingMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(TracingMiddleware())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Regexp(t, `^req_[0-9a-f]{32}$`, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req_given")
	assert.Equal(t, "req_given", serve(router, req).Header().Get(RequestIDHeader))
}

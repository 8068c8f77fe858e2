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

const testSecret = "0123456789abcdef0123456789abcdef"

func newRouter(h *JWTHandler, required Permission) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/check", Middleware(h), RequirePermission(required), func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})
	return r
}

func call(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTHandler_RoundTrip(t *testing.T) {
	h := NewJWTHandler(testSecret, "endpoint-registry")
	token, err := h.GenerateAccessToken("svc-dashboard", []Permission{PermHistoryRead}, time.Minute)
	require.NoError(t, err)

	claims, err := h.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "svc-dashboard", claims.Subject)
	assert.Equal(t, []Permission{PermHistoryRead}, claims.Permissions)
}

func TestJWTHandler_Rejects(t *testing.T) {
	h := NewJWTHandler(testSecret, "endpoint-registry")

	expired, err := h.GenerateAccessToken("svc", AllPermissions, -time.Minute)
	require.NoError(t, err)
	_, err = h.ValidateAccessToken(expired)
	assert.Error(t, err)

	foreign, err := NewJWTHandler(testSecret, "someone-else").GenerateAccessToken("svc", AllPermissions, time.Minute)
	require.NoError(t, err)
	_, err = h.ValidateAccessToken(foreign)
	assert.Error(t, err)

	wrongKey, err := NewJWTHandler("another-secret-another-secret-xx", "endpoint-registry").
		GenerateAccessToken("svc", AllPermissions, time.Minute)
	require.NoError(t, err)
	_, err = h.ValidateAccessToken(wrongKey)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	h := NewJWTHandler(testSecret, "endpoint-registry")
	reader, err := h.GenerateAccessToken("reader", []Permission{PermHistoryRead}, time.Minute)
	require.NoError(t, err)

	r := newRouter(h, PermHistoryRead)
	assert.Equal(t, http.StatusUnauthorized, call(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "Token "+reader).Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "Bearer garbage").Code)

	w := call(r, "Bearer "+reader)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reader", w.Body.String())

	w = call(newRouter(h, PermHistoryWrite), "Bearer "+reader)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "history:write")
}

func TestMiddleware_Disabled(t *testing.T) {
	w := call(newRouter(nil, PermHistoryWrite), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

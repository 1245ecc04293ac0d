package handlerutils

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, 400, types.OAuthError{Error: "invalid_request", ErrorDescription: "bad"})

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"invalid_request","error_description":"bad"}`, w.Body.String())
}

func TestGetClientIP(t *testing.T) {
	t.Run("XForwardedFor", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		assert.Equal(t, "203.0.113.7", GetClientIP(req))
	})

	t.Run("XRealIP", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Real-IP", "203.0.113.8")
		assert.Equal(t, "203.0.113.8", GetClientIP(req))
	})

	t.Run("RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "203.0.113.9:54321"
		assert.Equal(t, "203.0.113.9", GetClientIP(req))
	})
}

func TestGetBaseURL(t *testing.T) {
	req := httptest.NewRequest("GET", "http://gateway.example.com/authorize", nil)
	assert.Equal(t, "http://gateway.example.com", GetBaseURL(req))

	req.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://gateway.example.com", GetBaseURL(req))
}

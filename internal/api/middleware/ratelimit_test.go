package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/geowatch/geowatch/internal/api/middleware"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestRateLimit_ByIP(t *testing.T) {
	handler := middleware.RateLimit(middleware.RateLimitConfig{
		RequestLimit: 3,
		WindowLength: time.Minute,
	})(http.HandlerFunc(okHandler))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/analyses/fire", http.NoBody)
		req.RemoteAddr = ip + ":40000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send("10.1.1.1").Code, "request %d", i+1)
	}

	limited := send("10.1.1.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", limited.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusOK, send("10.1.1.2").Code, "other clients keep their own budget")
}

func TestRateLimit_BySubject(t *testing.T) {
	tokens := staticTokens{"tok-a": "scheduler-a", "tok-b": "scheduler-b"}
	limit := middleware.RateLimit(middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute})
	handler := middleware.Auth(tokens)(limit(http.HandlerFunc(okHandler)))

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "10.2.2.2:40000"
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("tok-a"))
	assert.Equal(t, http.StatusTooManyRequests, send("tok-a"))
	assert.Equal(t, http.StatusOK, send("tok-b"), "same IP, different subject")
}

type staticTokens map[string]string

func (s staticTokens) ValidateAccessToken(token string) (string, error) {
	if subject, ok := s[token]; ok {
		return subject, nil
	}
	return "", assert.AnError
}

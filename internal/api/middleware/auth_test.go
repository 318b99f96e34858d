package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geowatch/geowatch/internal/api/middleware"
	"github.com/geowatch/geowatch/internal/api/models"
	"github.com/geowatch/geowatch/internal/auth"
)

const signingKey = "middleware-test-signing-key-0123456789abcdef"

func TestAuth(t *testing.T) {
	tokens := auth.NewJWTService(auth.JWTConfig{SigningKey: signingKey})
	valid, _, err := tokens.GenerateAccessToken("nightly-scheduler", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantDetail string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, ""},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, ""},
		{"missing header", "", http.StatusUnauthorized, "missing or malformed bearer token"},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "missing or malformed bearer token"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "missing or malformed bearer token"},
		{"garbage token", "Bearer abc.def.ghi", http.StatusUnauthorized, "invalid access token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			handler := middleware.Auth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				subject = middleware.GetSubject(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/analyses/fire", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "nightly-scheduler", subject)
				return
			}

			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

			var problem models.Problem
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
			assert.Equal(t, tt.wantDetail, problem.Detail)
			assert.Equal(t, "/v1/analyses/fire", problem.Instance)
		})
	}
}

type expiredTokens struct{}

func (expiredTokens) ValidateAccessToken(string) (string, error) {
	return "", auth.ErrAccessTokenExpired
}

func TestAuth_ExpiredToken(t *testing.T) {
	handler := middleware.Auth(expiredTokens{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer stale")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "access token has expired")
}

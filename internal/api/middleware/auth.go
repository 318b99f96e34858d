package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/geowatch/geowatch/internal/api/models"
	"github.com/geowatch/geowatch/internal/auth"
)

// TokenValidator resolves a bearer token to the calling subject.
type TokenValidator interface {
	ValidateAccessToken(token string) (string, error)
}

type subjectKey struct{}

// Auth returns a middleware that requires a valid bearer token and stores its
// subject in the request context.
func Auth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeUnauthorized(w, r, "missing or malformed bearer token")
				return
			}

			subject, err := tokens.ValidateAccessToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrAccessTokenExpired) {
					writeUnauthorized(w, r, "access token has expired")
				} else {
					writeUnauthorized(w, r, "invalid access token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey{}, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="geowatch"`)
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetSubject returns the authenticated subject, or "" when the request was
// not authenticated.
func GetSubject(ctx context.Context) string {
	if subject, ok := ctx.Value(subjectKey{}).(string); ok {
		return subject
	}
	return ""
}

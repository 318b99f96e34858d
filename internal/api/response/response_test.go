package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geowatch/geowatch/internal/api/middleware"
	"github.com/geowatch/geowatch/internal/api/models"
	"github.com/geowatch/geowatch/internal/api/response"
)

// serve runs fn behind the RequestID middleware with a fixed request id.
func serve(t *testing.T, path string, fn http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.Header.Set(middleware.HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	middleware.RequestID(fn).ServeHTTP(w, req)
	return w
}

func TestJSON(t *testing.T) {
	w := serve(t, "/v1/analyses", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusUnprocessableEntity, map[string]string{"status": "error"})
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req-42", w.Header().Get(middleware.HeaderRequestID))
	assert.JSONEq(t, `{"status":"error"}`, w.Body.String())
}

func TestJSON_NilData(t *testing.T) {
	w := serve(t, "/", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, nil)
	})
	assert.Empty(t, w.Body.String())
}

func TestProblems(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, *http.Request, string)
		status int
		typ    string
	}{
		{"bad request", response.BadRequest, http.StatusBadRequest, models.ProblemTypeBadRequest},
		{"not found", response.NotFound, http.StatusNotFound, models.ProblemTypeNotFound},
		{"too large", response.PayloadTooLarge, http.StatusRequestEntityTooLarge, models.ProblemTypeTooLarge},
		{"internal", response.InternalError, http.StatusInternalServerError, models.ProblemTypeInternal},
		{"unavailable", response.ServiceUnavailable, http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, "/v1/analyses/fire", func(w http.ResponseWriter, r *http.Request) {
				tt.write(w, r, "detail")
			})

			require.Equal(t, tt.status, w.Code)
			var problem models.Problem
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
			assert.Equal(t, tt.typ, problem.Type)
			assert.Equal(t, "detail", problem.Detail)
			assert.Equal(t, "/v1/analyses/fire", problem.Instance)
			assert.Equal(t, "req-42", problem.TraceID)
		})
	}
}

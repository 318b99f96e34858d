package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/geowatch/geowatch/internal/api/models"
	"github.com/geowatch/geowatch/internal/api/response"
	"github.com/geowatch/geowatch/internal/job"
)

// AnalysisRunner executes one kind of analysis. *job.Runner implements it.
type AnalysisRunner interface {
	Descriptor() job.Descriptor
	Execute(ctx context.Context, credentialsPath string, body []byte) job.Envelope
	Record(ctx context.Context, env job.Envelope)
}

// AnalysisHandler runs analyses submitted over HTTP.
type AnalysisHandler struct {
	runners         map[job.Kind]AnalysisRunner
	credentialsPath string
	logger          zerolog.Logger
}

// NewAnalysisHandler creates an AnalysisHandler. Every run authenticates with
// the service account key at credentialsPath.
func NewAnalysisHandler(runners map[job.Kind]AnalysisRunner, credentialsPath string, logger zerolog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		runners:         runners,
		credentialsPath: credentialsPath,
		logger:          logger,
	}
}

// ListAnalyses handles GET /v1/analyses.
func (h *AnalysisHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	kinds := make([]models.AnalysisKind, 0, len(h.runners))
	for _, kind := range job.Kinds() {
		runner, ok := h.runners[kind]
		if !ok {
			continue
		}
		d := runner.Descriptor()
		kinds = append(kinds, models.AnalysisKind{
			Name:           string(kind),
			ThresholdField: d.ThresholdField,
			IntegerOnly:    d.IntegerThreshold(),
			Path:           "/v1/analyses/" + string(kind),
		})
	}
	response.JSON(w, r, http.StatusOK, kinds)
}

// RunAnalysis handles POST /v1/analyses/{kind}. The body is the job request
// and the response is always the envelope, with the status code derived from
// its error kind.
func (h *AnalysisHandler) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "kind")
	kind, ok := job.ParseKind(name)
	runner := h.runners[kind]
	if !ok || runner == nil {
		response.NotFound(w, r, fmt.Sprintf("unknown analysis %q", name))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.PayloadTooLarge(w, r, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		h.logger.Warn().Err(err).Str("analysis_type", string(kind)).Msg("failed to read request body")
		response.BadRequest(w, r, "could not read request body")
		return
	}

	env := runner.Execute(r.Context(), h.credentialsPath, body)
	response.JSON(w, r, StatusCode(env), env)

	// The caller has its answer; persisting must not depend on it staying connected.
	runner.Record(context.WithoutCancel(r.Context()), env)
}

// StatusCode maps an envelope to its HTTP status.
func StatusCode(env job.Envelope) int {
	err := env.Err()
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, job.ErrInput), errors.Is(err, job.ErrGeometry):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrDataUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, job.ErrAuthentication), errors.Is(err, job.ErrAnalysis):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

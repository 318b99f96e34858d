package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/geowatch/geowatch/internal/api/models"
	"github.com/geowatch/geowatch/internal/api/response"
	"github.com/geowatch/geowatch/internal/job"
	"github.com/geowatch/geowatch/internal/results"
)

// ResultStore reads stored analysis runs. *results.PostgresStore implements it.
type ResultStore interface {
	List(ctx context.Context, f results.Filter) ([]results.Record, error)
	Get(ctx context.Context, id uuid.UUID) (results.Record, error)
	AlertSummary(ctx context.Context) (results.AlertSummary, error)
}

// ResultsHandler serves the analysis history.
type ResultsHandler struct {
	store  ResultStore
	logger zerolog.Logger
}

// NewResultsHandler creates a ResultsHandler.
func NewResultsHandler(store ResultStore, logger zerolog.Logger) *ResultsHandler {
	return &ResultsHandler{store: store, logger: logger}
}

// ListResults handles GET /v1/results. Optional query parameters:
// analysis_type, region_id, alert_triggered and limit.
func (h *ResultsHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		response.BadRequest(w, r, err.Error())
		return
	}

	records, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list analysis results")
		response.InternalError(w, r, "could not read analysis results")
		return
	}
	response.JSON(w, r, http.StatusOK, models.AnalysisResultList{Results: toResults(records)})
}

// GetResult handles GET /v1/results/{id}.
func (h *ResultsHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, r, "result id must be a UUID")
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, results.ErrNotFound) {
		response.NotFound(w, r, "analysis result not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("result_id", id.String()).Msg("failed to get analysis result")
		response.InternalError(w, r, "could not read analysis results")
		return
	}
	response.JSON(w, r, http.StatusOK, toResult(rec))
}

// AlertSummary handles GET /v1/results/alert-summary.
func (h *ResultsHandler) AlertSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.AlertSummary(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to summarize alerts")
		response.InternalError(w, r, "could not read analysis results")
		return
	}

	byKind := make([]models.AlertCount, 0, len(summary.ByKind))
	for _, c := range summary.ByKind {
		byKind = append(byKind, models.AlertCount{AnalysisType: string(c.AnalysisType), Count: c.Count})
	}
	response.JSON(w, r, http.StatusOK, models.AlertSummary{
		TotalAlerts:      summary.TotalAlerts,
		AlertsByCategory: byKind,
		RecentAlerts:     toResults(summary.Recent),
	})
}

func parseFilter(r *http.Request) (results.Filter, error) {
	q := r.URL.Query()
	f := results.Filter{RegionID: q.Get("region_id")}

	if name := q.Get("analysis_type"); name != "" {
		kind, ok := job.ParseKind(name)
		if !ok {
			return f, fmt.Errorf("unknown analysis_type %q", name)
		}
		f.AnalysisType = kind
	}
	if v := q.Get("alert_triggered"); v != "" {
		triggered, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("alert_triggered must be true or false")
		}
		f.AlertTriggered = &triggered
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > results.MaxListLimit {
			return f, fmt.Errorf("limit must be between 1 and %d", results.MaxListLimit)
		}
		f.Limit = limit
	}
	return f, nil
}

func toResults(records []results.Record) []models.AnalysisResult {
	out := make([]models.AnalysisResult, 0, len(records))
	for _, rec := range records {
		out = append(out, toResult(rec))
	}
	return out
}

func toResult(rec results.Record) models.AnalysisResult {
	return models.AnalysisResult{
		ID:                  rec.ID.String(),
		AnalysisType:        string(rec.AnalysisType),
		RegionID:            rec.RegionID,
		Status:              rec.Status,
		Message:             rec.Message,
		AlertTriggered:      rec.AlertTriggered,
		Metric:              rec.Metric,
		Threshold:           rec.Threshold,
		BufferRadiusMeters:  rec.BufferRadiusMeters,
		RecentPeriodStart:   day(rec.RecentPeriodStart),
		RecentPeriodEnd:     day(rec.RecentPeriodEnd),
		BaselinePeriodStart: day(rec.BaselinePeriodStart),
		BaselinePeriodEnd:   day(rec.BaselinePeriodEnd),
		PreviousPeriodStart: day(rec.PreviousPeriodStart),
		PreviousPeriodEnd:   day(rec.PreviousPeriodEnd),
		Envelope:            rec.Envelope,
		CreatedAt:           models.Timestamp(rec.CreatedAt),
	}
}

func day(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.DateOnly)
	return &s
}

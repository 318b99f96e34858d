package results

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/geowatch/geowatch/internal/job"
)

// Schema creates the analysis_results table.
const Schema = `
	CREATE TABLE IF NOT EXISTS analysis_results (
		id                    UUID PRIMARY KEY,
		analysis_type         TEXT NOT NULL,
		region_id             TEXT NOT NULL,
		status                TEXT NOT NULL,
		message               TEXT,
		alert_triggered       BOOLEAN NOT NULL,
		metric                DOUBLE PRECISION,
		threshold             DOUBLE PRECISION,
		buffer_radius_meters  INTEGER,
		recent_period_start   DATE,
		recent_period_end     DATE,
		baseline_period_start DATE,
		baseline_period_end   DATE,
		previous_period_start DATE,
		previous_period_end   DATE,
		envelope              JSONB NOT NULL,
		created_at            TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS analysis_results_region_idx
		ON analysis_results (region_id, analysis_type, created_at DESC);
	CREATE INDEX IF NOT EXISTS analysis_results_alert_idx
		ON analysis_results (created_at DESC) WHERE alert_triggered;
`

// recordColumns lists the columns in the order Insert writes and scanRecord
// reads them.
const recordColumns = `id, analysis_type, region_id, status, message, alert_triggered,
	metric, threshold, buffer_radius_meters,
	recent_period_start, recent_period_end,
	baseline_period_start, baseline_period_end,
	previous_period_start, previous_period_end,
	envelope, created_at`

// List limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500

	// RecentAlertsLimit is how many alerts AlertSummary returns.
	RecentAlertsLimit = 5
)

// ErrNotFound is returned by Get when no record has the id.
var ErrNotFound = errors.New("analysis result not found")

// DB is the subset of *pgxpool.Pool used by PostgresStore. pgx.Tx satisfies
// it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore writes every envelope to analysis_results and reads them
// back for serve mode.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

var _ job.Recorder = (*PostgresStore)(nil)

// NewPostgresStore creates a store on db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// EnsureSchema creates the results table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create analysis_results: %w", err)
	}
	return nil
}

// Record implements job.Recorder.
func (s *PostgresStore) Record(ctx context.Context, env job.Envelope) error {
	rec, err := NewRecord(env, s.now())
	if err != nil {
		return err
	}
	return s.Insert(ctx, rec)
}

// Insert stores rec.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	query := `INSERT INTO analysis_results (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	var message *string
	if rec.Message != "" {
		message = &rec.Message
	}

	_, err := s.db.Exec(ctx, query,
		rec.ID,
		string(rec.AnalysisType),
		rec.RegionID,
		rec.Status,
		message,
		rec.AlertTriggered,
		rec.Metric,
		rec.Threshold,
		rec.BufferRadiusMeters,
		rec.RecentPeriodStart,
		rec.RecentPeriodEnd,
		rec.BaselinePeriodStart,
		rec.BaselinePeriodEnd,
		rec.PreviousPeriodStart,
		rec.PreviousPeriodEnd,
		[]byte(rec.Envelope),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis result: %w", err)
	}
	return nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	AnalysisType   job.Kind
	RegionID       string
	AlertTriggered *bool

	// Limit defaults to DefaultListLimit and is capped at MaxListLimit.
	Limit int
}

// List returns the newest records matching f first.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	where := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AnalysisType != "" {
		where("analysis_type = $%d", string(f.AnalysisType))
	}
	if f.RegionID != "" {
		where("region_id = $%d", f.RegionID)
	}
	if f.AlertTriggered != nil {
		where("alert_triggered = $%d", *f.AlertTriggered)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	query := `SELECT ` + recordColumns + ` FROM analysis_results`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analysis results: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list analysis results: %w", err)
	}
	return records, nil
}

// Get returns the record with id, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM analysis_results WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// KindCount is the number of alerts raised by one analysis kind.
type KindCount struct {
	AnalysisType job.Kind
	Count        int
}

// AlertSummary aggregates the triggered alerts.
type AlertSummary struct {
	TotalAlerts int
	ByKind      []KindCount
	Recent      []Record
}

// AlertSummary counts triggered alerts per kind and returns the latest ones.
func (s *PostgresStore) AlertSummary(ctx context.Context) (AlertSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT analysis_type, COUNT(*)
		FROM analysis_results
		WHERE alert_triggered
		GROUP BY analysis_type
		ORDER BY analysis_type`)
	if err != nil {
		return AlertSummary{}, fmt.Errorf("count alerts: %w", err)
	}
	defer rows.Close()

	summary := AlertSummary{ByKind: make([]KindCount, 0)}
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return AlertSummary{}, fmt.Errorf("scan alert count: %w", err)
		}
		summary.ByKind = append(summary.ByKind, KindCount{AnalysisType: job.Kind(kind), Count: count})
		summary.TotalAlerts += count
	}
	if err := rows.Err(); err != nil {
		return AlertSummary{}, fmt.Errorf("count alerts: %w", err)
	}

	triggered := true
	summary.Recent, err = s.List(ctx, Filter{AlertTriggered: &triggered, Limit: RecentAlertsLimit})
	if err != nil {
		return AlertSummary{}, err
	}
	return summary, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		kind     string
		message  *string
		envelope []byte
	)
	err := row.Scan(
		&rec.ID,
		&kind,
		&rec.RegionID,
		&rec.Status,
		&message,
		&rec.AlertTriggered,
		&rec.Metric,
		&rec.Threshold,
		&rec.BufferRadiusMeters,
		&rec.RecentPeriodStart,
		&rec.RecentPeriodEnd,
		&rec.BaselinePeriodStart,
		&rec.BaselinePeriodEnd,
		&rec.PreviousPeriodStart,
		&rec.PreviousPeriodEnd,
		&envelope,
		&rec.CreatedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("scan analysis result: %w", err)
	}
	rec.AnalysisType = job.Kind(kind)
	if message != nil {
		rec.Message = *message
	}
	rec.Envelope = envelope
	return rec, nil
}

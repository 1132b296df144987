package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/avolkova/enterprise-search/internal/core/domain"
)

// schemaLockKey serializes schema creation across concurrently starting
// workers.
const schemaLockKey = 774203561

func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// ViewRepository persists raw view events and serves the aggregates the
// recommendation engine reads.
type ViewRepository struct {
	db *sql.DB
}

func NewViewRepository(db *sql.DB) *ViewRepository {
	return &ViewRepository{db: db}
}

func (r *ViewRepository) EnsureSchema(ctx context.Context) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire schema connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, schemaLockKey)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS document_views (
			event_id      UUID PRIMARY KEY,
			user_id       TEXT NOT NULL,
			doc_id        TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			source        TEXT NOT NULL DEFAULT '',
			department    TEXT NOT NULL DEFAULT '',
			country       TEXT NOT NULL DEFAULT '',
			dwell_time_ms BIGINT NOT NULL DEFAULT 0,
			viewed_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_views_viewed_at ON document_views (viewed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_document_views_department ON document_views (department, viewed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_document_views_user ON document_views (user_id, viewed_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure telemetry schema: %w", err)
		}
	}
	return nil
}

func (r *ViewRepository) RecordView(ctx context.Context, event domain.ViewEvent) error {
	eventID := event.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	viewedAt := event.ViewedAt
	if viewedAt.IsZero() {
		viewedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO document_views
			(event_id, user_id, doc_id, title, source, department, country, dwell_time_ms, viewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, event.UserID, event.DocID, event.Title, event.Source,
		event.Department, event.Country, event.DwellTimeMs, viewedAt,
	)
	if err != nil {
		return fmt.Errorf("record view: %w", err)
	}
	return nil
}

func (r *ViewRepository) TrendingStats(ctx context.Context, window time.Duration) ([]domain.DocUsage, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := r.db.QueryContext(ctx, `
		SELECT doc_id,
		       MAX(title)                AS title,
		       MAX(source)               AS source,
		       COUNT(*)                  AS view_count,
		       COUNT(DISTINCT user_id)   AS unique_viewers,
		       COALESCE(AVG(dwell_time_ms), 0) AS avg_dwell_ms,
		       MIN(viewed_at)            AS first_viewed_at
		FROM document_views
		WHERE viewed_at >= $1
		GROUP BY doc_id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("trending stats: %w", err)
	}
	defer rows.Close()

	return scanUsageRows(rows)
}

func (r *ViewRepository) DepartmentStats(ctx context.Context, department, country string, window time.Duration) ([]domain.DocUsage, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := r.db.QueryContext(ctx, `
		SELECT doc_id,
		       MAX(title)                AS title,
		       MAX(source)               AS source,
		       COUNT(*)                  AS view_count,
		       COUNT(DISTINCT user_id)   AS unique_viewers,
		       COALESCE(AVG(dwell_time_ms), 0) AS avg_dwell_ms,
		       MIN(viewed_at)            AS first_viewed_at
		FROM document_views
		WHERE viewed_at >= $1
		  AND department = $2
		  AND ($3 = '' OR country = $3)
		GROUP BY doc_id
		ORDER BY view_count DESC, unique_viewers DESC`,
		cutoff, department, country,
	)
	if err != nil {
		return nil, fmt.Errorf("department stats: %w", err)
	}
	defer rows.Close()

	return scanUsageRows(rows)
}

func (r *ViewRepository) LastViewedDoc(ctx context.Context, userID string) (string, error) {
	var docID string
	err := r.db.QueryRowContext(ctx, `
		SELECT doc_id
		FROM document_views
		WHERE user_id = $1
		ORDER BY viewed_at DESC
		LIMIT 1`,
		userID,
	).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last viewed doc: %w", err)
	}
	return docID, nil
}

func scanUsageRows(rows *sql.Rows) ([]domain.DocUsage, error) {
	usages := make([]domain.DocUsage, 0, 16)
	for rows.Next() {
		var usage domain.DocUsage
		if err := rows.Scan(
			&usage.DocID,
			&usage.Title,
			&usage.Source,
			&usage.ViewCount,
			&usage.UniqueViewers,
			&usage.AvgDwellMs,
			&usage.FirstViewedAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		usages = append(usages, usage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}
	return usages, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/gpa-insight/internal/domain"
	"github.com/ashureev/gpa-insight/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultRecentLimit caps RecentInsights when the caller passes 0.
const DefaultRecentLimit = 20

const maxRecentLimit = 100

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the retention sweep run alongside request-path inserts.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS insights (
		id TEXT PRIMARY KEY,
		client_key TEXT NOT NULL,
		stage INTEGER NOT NULL,
		input TEXT NOT NULL,
		reply TEXT NOT NULL,
		suggested_improvement TEXT,
		reconcile_tier TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insights_client ON insights(client_key, created_at);
	CREATE INDEX IF NOT EXISTS idx_insights_created ON insights(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordInsight stores rec, retrying on lock contention.
func (s *SQLiteStore) RecordInsight(ctx context.Context, rec *domain.InsightRecord) error {
	if rec == nil || rec.ClientKey == "" || rec.Reply == "" {
		return ErrInvalidRecord
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	return withRetry(ctx, "record insight", func() error {
		return s.insertOnce(ctx, rec)
	})
}

func (s *SQLiteStore) insertOnce(ctx context.Context, rec *domain.InsightRecord) error {
	query := `
	INSERT INTO insights (id, client_key, stage, input, reply, suggested_improvement, reconcile_tier, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var suggestion any
	if rec.SuggestedImprovement != "" {
		suggestion = rec.SuggestedImprovement
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ClientKey, int(rec.Stage), rec.Input,
		rec.Reply, suggestion, rec.ReconcileTier,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

// RecentInsights returns up to limit records for clientKey, newest first.
func (s *SQLiteStore) RecentInsights(ctx context.Context, clientKey string, limit int) ([]*domain.InsightRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := `
		SELECT id, client_key, stage, input, reply, suggested_improvement, reconcile_tier, created_at
		FROM insights WHERE client_key = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, clientKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent insights: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent insights rows", "error", closeErr)
		}
	}()

	var records []*domain.InsightRecord
	for rows.Next() {
		var rec domain.InsightRecord
		var stage int
		var suggestion sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&rec.ID, &rec.ClientKey, &stage, &rec.Input,
			&rec.Reply, &suggestion, &rec.ReconcileTier, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan insight row: %w", err)
		}

		rec.Stage = domain.Stage(stage)
		rec.SuggestedImprovement = suggestion.String
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insights: %w", err)
	}

	return records, nil
}

// CleanupExpired removes records older than ttl.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()

	var deleted int64
	err := withRetry(ctx, "cleanup insights", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM insights WHERE created_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("delete expired insights: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const (
	maxWriteRetries = 3
	baseRetryDelay  = 50 * time.Millisecond
)

// withRetry runs op, backing off exponentially on SQLITE_BUSY and locked
// errors: 50ms, 100ms.
func withRetry(ctx context.Context, what string, op func() error) error {
	var err error
	for i := 0; i < maxWriteRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxWriteRetries-1 {
			break
		}

		delay := baseRetryDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying", "op", what, "attempt", i+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

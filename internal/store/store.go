// Package store provides persistence for completed insight exchanges.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/gpa-insight/internal/domain"
)

// ErrInvalidRecord is returned when a record lacks its required fields.
var ErrInvalidRecord = errors.New("invalid insight record")

// Repository defines the interface for persisting insight records.
type Repository interface {
	// RecordInsight stores a completed exchange. An empty ID is assigned
	// and a zero CreatedAt is set to now.
	RecordInsight(ctx context.Context, rec *domain.InsightRecord) error

	// RecentInsights returns up to limit records for clientKey, newest first.
	RecentInsights(ctx context.Context, clientKey string, limit int) ([]*domain.InsightRecord, error)

	// CleanupExpired removes records older than ttl and returns how many
	// were deleted.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/pdnlabs/pdn-chat/internal/domain"
)

// Repository defines the interface for persisting assessments and reports.
type Repository interface {
	// GetAssessment retrieves the assessment for a user, or nil when absent.
	// Undecodable persisted state yields domain.ErrCorruptSession.
	GetAssessment(ctx context.Context, userID string) (*domain.Assessment, error)

	// SaveAssessment persists the full assessment state, overwriting prior
	// content for the user.
	SaveAssessment(ctx context.Context, a *domain.Assessment) error

	// DeleteAssessment discards a user's assessment and report.
	DeleteAssessment(ctx context.Context, userID string) error

	// GetReport retrieves the finalized report for a user, or nil when absent.
	GetReport(ctx context.Context, userID string) (*domain.Report, error)

	// SaveReport persists a finalized report.
	SaveReport(ctx context.Context, r *domain.Report) error

	// CleanupExpired removes assessments idle longer than ttl and returns the
	// number removed.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

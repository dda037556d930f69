// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting context and episode data.
type Repository interface {
	// GetContext retrieves a context session by id.
	GetContext(ctx context.Context, contextID string) (*domain.ContextSession, error)

	// UpsertContext creates or updates a context session.
	UpsertContext(ctx context.Context, session *domain.ContextSession) error

	// DeleteContext removes a context session and its episodes.
	DeleteContext(ctx context.Context, contextID string) error

	// SaveEpisode stores a finished episode and bumps the context's episode count.
	SaveEpisode(ctx context.Context, episode *domain.EpisodeRecord) error

	// ListEpisodes returns the newest episodes of a context, at most limit.
	ListEpisodes(ctx context.Context, contextID string, limit int) ([]*domain.EpisodeRecord, error)

	// GetExpiredContexts returns contexts not seen within ttl.
	GetExpiredContexts(ctx context.Context, ttl time.Duration) ([]*domain.ContextSession, error)

	// CleanupStale removes contexts and episodes older than age.
	CleanupStale(ctx context.Context, age time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

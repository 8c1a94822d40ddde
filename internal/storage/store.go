// Package storage defines the persistence boundary for conversation state and
// notification history. The engine only depends on these narrow interfaces;
// schema layout is the store's concern.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fixmarket/pulse/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ConversationStore persists the per-job messaging permission state.
//
// RecordReview is the single authoritative write for closure: it sets the
// reviewer's flag and, in the same operation, closes the conversation iff
// both flags are now set and it is not already closed. The boolean result is
// true for exactly one caller across concurrent submissions, which is what
// lets the lifecycle emit exactly one closure broadcast.
type ConversationStore interface {
	// GetOrCreate returns the state for jobID, creating an open conversation
	// between the two participants if none exists.
	GetOrCreate(ctx context.Context, jobID, hirerID, fixerID string) (*models.ConversationState, error)

	// Get returns the state for jobID, or ErrNotFound.
	Get(ctx context.Context, jobID string) (*models.ConversationState, error)

	// MarkJobCompleted moves the conversation into the pending-review phase.
	// Completing an already-completed or closed job is a no-op.
	MarkJobCompleted(ctx context.Context, jobID string, at time.Time) (*models.ConversationState, error)

	// RecordReview sets the flag for role and conditionally closes. Reviews
	// against a closed conversation are no-ops; closedNow reports whether
	// this call performed the close.
	RecordReview(ctx context.Context, jobID string, role models.ReviewerRole, at time.Time) (state *models.ConversationState, closedNow bool, err error)
}

// NotificationStore persists the durable notification records clients
// reconcile against after reconnecting.
type NotificationStore interface {
	// Append stores one immutable notification record.
	Append(ctx context.Context, n *models.Notification) error

	// ListForUser returns the most recent records for a user, newest first.
	ListForUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error)

	// PurgeOlderThan deletes records created before cutoff and reports how
	// many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store bundles the persistence interfaces behind one lifecycle.
type Store interface {
	ConversationStore
	NotificationStore

	// Close releases the underlying resources.
	Close() error
}

// Open constructs a store for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(ctx, dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fixmarket/pulse/internal/delivery"
	"github.com/fixmarket/pulse/internal/observability"
	"github.com/fixmarket/pulse/internal/storage"
	"github.com/fixmarket/pulse/pkg/models"
)

// Options adjusts a single dispatch.
type Options struct {
	// SenderID attributes the notification to another user.
	SenderID string
	// Priority overrides the template's default priority.
	Priority models.Priority
	// Data is an action payload the client uses for deep links.
	Data map[string]any
}

// Dispatcher turns template keys into durable notification records and
// best-effort realtime pushes.
type Dispatcher struct {
	store    storage.NotificationStore
	registry *delivery.Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewDispatcher creates a dispatcher writing records to store and pushing
// live payloads through registry.
func NewDispatcher(store storage.NotificationStore, registry *delivery.Registry, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Send renders the template, persists the record, and pushes the payload.
//
// The durable record is the source of truth: if the append fails the whole
// dispatch fails and nothing is pushed. Push failures after a successful
// append are absorbed — the registry queues for offline users, and the
// client reconciles against history on reconnect.
func (d *Dispatcher) Send(ctx context.Context, templateKey, targetUserID string, vars map[string]string, opts Options) (string, error) {
	tmpl, err := Render(templateKey, vars)
	if err != nil {
		return "", err
	}

	priority := tmpl.Priority
	if opts.Priority != "" {
		if !opts.Priority.Valid() {
			return "", fmt.Errorf("invalid priority %q", opts.Priority)
		}
		priority = opts.Priority
	}

	n := &models.Notification{
		ID:           uuid.NewString(),
		Type:         tmpl.Type,
		Title:        tmpl.Title,
		Body:         tmpl.Body,
		Priority:     priority,
		TargetUserID: targetUserID,
		SenderUserID: opts.SenderID,
		Data:         opts.Data,
		CreatedAt:    time.Now().UTC(),
	}

	if err := d.store.Append(ctx, n); err != nil {
		return "", fmt.Errorf("persist notification: %w", err)
	}

	d.registry.Push(ctx, targetUserID, n.Payload())
	d.metrics.NotificationsDispatched.WithLabelValues(templateKey).Inc()
	d.logger.Debug(ctx, "notification dispatched",
		"template", templateKey, "target_user_id", targetUserID, "priority", string(priority))
	return n.ID, nil
}

// History returns the most recent durable records for a user, newest first.
func (d *Dispatcher) History(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	return d.store.ListForUser(ctx, userID, limit)
}

// Purge deletes records older than the retention window and reports how many
// were removed. It backs the scheduled retention job.
func (d *Dispatcher) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	purged, err := d.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		d.logger.Info(ctx, "notification history purged", "purged", purged, "cutoff", cutoff)
	}
	return purged, nil
}

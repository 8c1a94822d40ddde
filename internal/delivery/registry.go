// Package delivery implements the realtime delivery plane: one live
// connection per user, a bounded offline queue per user, and the
// push-or-enqueue decision between them.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fixmarket/pulse/internal/observability"
	"github.com/fixmarket/pulse/pkg/models"
)

const (
	// TeardownReplaced marks a connection displaced by a newer one for the
	// same user.
	TeardownReplaced = "replaced"
	// TeardownClose marks a client-initiated disconnect.
	TeardownClose = "close"
	// TeardownIdle marks an idle-sweep eviction.
	TeardownIdle = "idle"
	// TeardownExpired marks a connection past the hard age cap.
	TeardownExpired = "expired"
	// TeardownError marks a connection dropped after a failed write.
	TeardownError = "error"
)

// RegistryConfig tunes the connection registry.
type RegistryConfig struct {
	// QueueCapacity bounds each user's offline queue.
	QueueCapacity int
	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration
	// IdleTimeout evicts connections with no activity for this long.
	IdleTimeout time.Duration
	// MaxConnectionAge evicts connections regardless of activity, forcing a
	// periodic reconnect so auth and feature flags get re-evaluated.
	MaxConnectionAge time.Duration
	// Features is advertised to clients in the connection acknowledgement.
	Features []string
}

// DefaultRegistryConfig returns production defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		QueueCapacity:    DefaultQueueCapacity,
		SweepInterval:    2 * time.Minute,
		IdleTimeout:      5 * time.Minute,
		MaxConnectionAge: 2 * time.Hour,
	}
}

type connection struct {
	transport    Transport
	sessionID    string
	connectedAt  time.Time
	lastActivity time.Time
}

// Registry tracks at most one live connection per user and routes events to
// the connection or the user's offline queue.
//
// All operations for one user are atomic with respect to each other: a
// concurrent push and register cannot interleave in a way that drops or
// double-delivers an event. A single mutex is enough here because transports
// buffer writes and never block under it.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*connection
	queues map[string]*Queue

	config  RegistryConfig
	logger  *observability.Logger
	metrics *observability.Metrics

	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  bool
}

// NewRegistry creates a registry with the given configuration.
func NewRegistry(config RegistryConfig, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = DefaultQueueCapacity
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 2 * time.Minute
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.MaxConnectionAge <= 0 {
		config.MaxConnectionAge = 2 * time.Hour
	}
	return &Registry{
		conns:   map[string]*connection{},
		queues:  map[string]*Queue{},
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Register installs transport as the user's live connection, displacing and
// closing any prior one. The new connection receives the acknowledgement
// event first, then any queued events in enqueue order. It returns the
// session id assigned to the connection.
func (r *Registry) Register(ctx context.Context, userID string, transport Transport) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.conns[userID]; ok {
		r.teardownLocked(ctx, userID, prior, TeardownReplaced)
	}

	now := r.now()
	conn := &connection{
		transport:    transport,
		sessionID:    uuid.NewString(),
		connectedAt:  now,
		lastActivity: now,
	}

	ack := models.ConnectionAck(conn.sessionID, r.config.Features)
	if err := transport.Write(ack); err != nil {
		_ = transport.Close()
		return "", err
	}

	r.conns[userID] = conn
	r.metrics.ActiveConnections.Inc()
	r.logger.Info(ctx, "connection registered", "user_id", userID, "session_id", conn.sessionID)

	// Flush after the ack so the client sees a consistent prologue. A write
	// failure mid-flush re-queues the remainder for the next connection.
	queued := r.queueLocked(userID).Drain()
	for i, event := range queued {
		if err := conn.transport.Write(event); err != nil {
			r.metrics.TransportWriteFailures.Inc()
			r.teardownLocked(ctx, userID, conn, TeardownError)
			for _, rest := range queued[i:] {
				r.enqueueLocked(ctx, userID, rest)
			}
			return conn.sessionID, nil
		}
		r.metrics.EventDelivered("flushed")
	}
	if len(queued) > 0 {
		r.logger.Debug(ctx, "queue flushed", "user_id", userID, "events", len(queued))
	}
	return conn.sessionID, nil
}

// Unregister removes the user's connection if transport is still the live
// one. Stale unregisters from an already-replaced connection are no-ops.
func (r *Registry) Unregister(ctx context.Context, userID string, transport Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[userID]
	if !ok || conn.transport != transport {
		return
	}
	r.teardownLocked(ctx, userID, conn, TeardownClose)
}

// Touch records activity on the user's connection, deferring the idle sweep.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[userID]; ok {
		conn.lastActivity = r.now()
	}
}

// Push delivers event to the user's live connection, or queues it when the
// user is offline. A failed write tears the connection down and queues the
// event; nothing is lost short of bounded-queue eviction.
func (r *Registry) Push(ctx context.Context, userID string, event models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushLocked(ctx, userID, event)
}

// Broadcast pushes event to every recipient independently. One recipient's
// write failure never affects the others.
func (r *Registry) Broadcast(ctx context.Context, userIDs []string, event models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, userID := range userIDs {
		r.pushLocked(ctx, userID, event)
	}
}

// BroadcastAll pushes event to every user with a live connection, skipping
// excludeUserID when non-empty. Users without a connection are not enqueued:
// a registry-wide broadcast addresses whoever is attached right now, unlike
// the recipient-list Broadcast used for lifecycle events.
func (r *Registry) BroadcastAll(ctx context.Context, event models.Event, excludeUserID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID := range r.conns {
		if userID == excludeUserID {
			continue
		}
		r.pushLocked(ctx, userID, event)
	}
}

// Connected reports whether the user currently has a live connection.
func (r *Registry) Connected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[userID]
	return ok
}

// QueueDepth reports how many events are buffered for the user.
func (r *Registry) QueueDepth(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[userID]; ok {
		return q.Len()
	}
	return 0
}

// Start launches the idle sweep loop. Stop shuts it down.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	go r.sweepLoop(ctx)
}

// Stop halts the sweep loop and closes every live connection. Safe to call
// whether or not Start ran, and safe to call twice.
func (r *Registry) Stop(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, conn := range r.conns {
		r.teardownLocked(ctx, userID, conn, TeardownClose)
	}
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep evicts idle and over-age connections. It runs on a timer but is
// exported so tests and admin tooling can trigger it directly.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for userID, conn := range r.conns {
		switch {
		case now.Sub(conn.connectedAt) > r.config.MaxConnectionAge:
			r.teardownLocked(ctx, userID, conn, TeardownExpired)
		case now.Sub(conn.lastActivity) > r.config.IdleTimeout:
			r.teardownLocked(ctx, userID, conn, TeardownIdle)
		}
	}
}

func (r *Registry) pushLocked(ctx context.Context, userID string, event models.Event) {
	conn, ok := r.conns[userID]
	if !ok {
		r.enqueueLocked(ctx, userID, event)
		return
	}

	if err := conn.transport.Write(event); err != nil {
		r.metrics.TransportWriteFailures.Inc()
		r.logger.Warn(ctx, "transport write failed", "user_id", userID, "event", string(event.Type), "error", err)
		r.teardownLocked(ctx, userID, conn, TeardownError)
		r.enqueueLocked(ctx, userID, event)
		return
	}

	conn.lastActivity = r.now()
	r.metrics.EventDelivered("direct")
}

func (r *Registry) enqueueLocked(ctx context.Context, userID string, event models.Event) {
	if r.queueLocked(userID).Enqueue(event) {
		r.metrics.QueueEvictions.Inc()
		r.logger.Debug(ctx, "queue evicted oldest", "user_id", userID)
	}
	r.metrics.EventDelivered("queued")
}

func (r *Registry) queueLocked(userID string) *Queue {
	q, ok := r.queues[userID]
	if !ok {
		q = NewQueue(r.config.QueueCapacity)
		r.queues[userID] = q
	}
	return q
}

func (r *Registry) teardownLocked(ctx context.Context, userID string, conn *connection, reason string) {
	delete(r.conns, userID)
	_ = conn.transport.Close()
	r.metrics.ActiveConnections.Dec()
	r.metrics.SessionDuration.WithLabelValues(reason).Observe(r.now().Sub(conn.connectedAt).Seconds())
	r.logger.Info(ctx, "connection torn down",
		"user_id", userID, "session_id", conn.sessionID, "reason", reason)
}

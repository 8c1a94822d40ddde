// Package conversation manages the per-job messaging lifecycle between a
// hirer and a fixer: open while the job runs, pending once it completes, and
// permanently closed after both sides review each other.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fixmarket/pulse/internal/delivery"
	"github.com/fixmarket/pulse/internal/notify"
	"github.com/fixmarket/pulse/internal/observability"
	"github.com/fixmarket/pulse/internal/storage"
	"github.com/fixmarket/pulse/pkg/models"
)

// ErrConversationClosed rejects messages and comments for a closed
// conversation. It is distinct from generic validation errors so clients can
// render the closed state instead of a form error.
var ErrConversationClosed = errors.New("conversation is closed")

// ErrNotParticipant rejects senders who are not part of the job's
// conversation. It is a caller fault, not an engine failure.
var ErrNotParticipant = errors.New("not a conversation participant")

// Lifecycle coordinates conversation state transitions and their side
// effects: review-prompt notifications and the closure broadcast.
type Lifecycle struct {
	store      storage.ConversationStore
	registry   *delivery.Registry
	dispatcher *notify.Dispatcher
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewLifecycle wires the lifecycle over its collaborators.
func NewLifecycle(store storage.ConversationStore, registry *delivery.Registry, dispatcher *notify.Dispatcher, logger *observability.Logger, metrics *observability.Metrics) *Lifecycle {
	return &Lifecycle{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// EnsureConversation creates the open conversation for a job if it does not
// exist yet, typically when an application is accepted.
func (l *Lifecycle) EnsureConversation(ctx context.Context, jobID, hirerID, fixerID string) (*models.ConversationState, error) {
	return l.store.GetOrCreate(ctx, jobID, hirerID, fixerID)
}

// HandleJobCompleted moves the conversation into the pending-review phase and
// prompts both participants to review. Delivery of the prompts is
// fire-and-forget; the state change is what the caller's success means.
func (l *Lifecycle) HandleJobCompleted(ctx context.Context, jobID, jobTitle string) (*models.ConversationState, error) {
	ctx = observability.AddJobID(ctx, jobID)
	state, err := l.store.MarkJobCompleted(ctx, jobID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("mark job completed: %w", err)
	}
	l.logger.Info(ctx, "job completed", "phase", string(state.Phase()))

	vars := map[string]string{"jobTitle": jobTitle}
	for _, userID := range []string{state.HirerID, state.FixerID} {
		if _, err := l.dispatcher.Send(ctx, notify.TemplateJobCompleted, userID, vars, notify.Options{}); err != nil {
			l.logger.Warn(ctx, "review prompt failed", "user_id", userID, "error", err)
		}
	}
	return state, nil
}

// HandleReviewSubmitted records one participant's review. When the second
// review lands, the conversation closes and both participants receive exactly
// one conversation:closed broadcast — the store's conditional write picks the
// single closing caller under concurrent submission.
func (l *Lifecycle) HandleReviewSubmitted(ctx context.Context, jobID string, role models.ReviewerRole) (*models.ConversationState, error) {
	ctx = observability.AddJobID(ctx, jobID)
	state, closedNow, err := l.store.RecordReview(ctx, jobID, role, time.Now())
	if err != nil {
		return nil, fmt.Errorf("record review: %w", err)
	}

	if !closedNow {
		l.logger.Info(ctx, "review recorded", "role", string(role), "phase", string(state.Phase()))
		return state, nil
	}

	l.metrics.ConversationsClosed.Inc()
	l.logger.Info(ctx, "conversation closed", "closed_at", state.ClosedAt)
	l.registry.Broadcast(ctx,
		[]string{state.HirerID, state.FixerID},
		models.ConversationClosed(jobID, *state.ClosedAt))
	return state, nil
}

// IsMessagingAllowed reports whether userID may send a private message in
// the job's conversation. Unknown conversations and non-participants are not
// allowed to message.
func (l *Lifecycle) IsMessagingAllowed(ctx context.Context, jobID, userID string) (bool, error) {
	state, err := l.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if userID != state.HirerID && userID != state.FixerID {
		return false, nil
	}
	return state.MessagingAllowed, nil
}

// AuthorizeMessage validates a message-send request against the lifecycle,
// returning ErrConversationClosed for a closed pair and the current state on
// success.
func (l *Lifecycle) AuthorizeMessage(ctx context.Context, jobID, senderID string) (*models.ConversationState, error) {
	state, err := l.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if senderID != state.HirerID && senderID != state.FixerID {
		return nil, fmt.Errorf("%w: user %s in job %s", ErrNotParticipant, senderID, jobID)
	}
	if !state.MessagingAllowed {
		return nil, ErrConversationClosed
	}
	return state, nil
}

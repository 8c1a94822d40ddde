package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fixmarket/pulse/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.ConversationState
	notifications map[string][]*models.Notification
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*models.ConversationState{},
		notifications: map[string][]*models.Notification{},
	}
}

func (m *MemoryStore) GetOrCreate(_ context.Context, jobID, hirerID, fixerID string) (*models.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.conversations[jobID]; ok {
		return cloneConversation(state), nil
	}

	now := time.Now().UTC()
	state := &models.ConversationState{
		JobID:            jobID,
		HirerID:          hirerID,
		FixerID:          fixerID,
		MessagingAllowed: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.conversations[jobID] = state
	return cloneConversation(state), nil
}

func (m *MemoryStore) Get(_ context.Context, jobID string) (*models.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.conversations[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(state), nil
}

func (m *MemoryStore) MarkJobCompleted(_ context.Context, jobID string, at time.Time) (*models.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.conversations[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if !state.JobCompleted && state.ClosedAt == nil {
		state.JobCompleted = true
		state.UpdatedAt = at.UTC()
	}
	return cloneConversation(state), nil
}

func (m *MemoryStore) RecordReview(_ context.Context, jobID string, role models.ReviewerRole, at time.Time) (*models.ConversationState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.conversations[jobID]
	if !ok {
		return nil, false, ErrNotFound
	}

	// Closed is terminal: later review events are no-ops.
	if state.ClosedAt != nil {
		return cloneConversation(state), false, nil
	}

	switch role {
	case models.RoleHirer:
		state.HirerReviewed = true
	case models.RoleFixer:
		state.FixerReviewed = true
	}
	state.UpdatedAt = at.UTC()

	closedNow := false
	if state.HirerReviewed && state.FixerReviewed {
		closed := at.UTC()
		state.ClosedAt = &closed
		state.MessagingAllowed = false
		closedNow = true
	}
	return cloneConversation(state), closedNow, nil
}

func (m *MemoryStore) Append(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneNotification(n)
	m.notifications[n.TargetUserID] = append(m.notifications[n.TargetUserID], clone)
	return nil
}

func (m *MemoryStore) ListForUser(_ context.Context, userID string, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.notifications[userID]
	out := make([]*models.Notification, len(records))
	for i, n := range records {
		out[i] = cloneNotification(n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for userID, records := range m.notifications {
		kept := records[:0]
		for _, n := range records {
			if n.CreatedAt.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, n)
		}
		if len(kept) == 0 {
			delete(m.notifications, userID)
		} else {
			m.notifications[userID] = kept
		}
	}
	return purged, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }

func cloneConversation(state *models.ConversationState) *models.ConversationState {
	clone := *state
	if state.ClosedAt != nil {
		closedAt := *state.ClosedAt
		clone.ClosedAt = &closedAt
	}
	return &clone
}

func cloneNotification(n *models.Notification) *models.Notification {
	clone := *n
	if n.Data != nil {
		clone.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			clone.Data[k] = v
		}
	}
	return &clone
}

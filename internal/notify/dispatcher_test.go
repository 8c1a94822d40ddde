package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fixmarket/pulse/internal/delivery"
	"github.com/fixmarket/pulse/internal/observability"
	"github.com/fixmarket/pulse/internal/storage"
	"github.com/fixmarket/pulse/pkg/models"
)

type failingStore struct {
	storage.NotificationStore
}

func (failingStore) Append(context.Context, *models.Notification) error {
	return errors.New("disk full")
}

type recordingTransport struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingTransport) Write(event models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) received() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestDispatcher(t *testing.T, store storage.NotificationStore) (*Dispatcher, *delivery.Registry) {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	registry := delivery.NewRegistry(delivery.RegistryConfig{}, logger, metrics)
	return NewDispatcher(store, registry, logger, metrics), registry
}

func TestSendPersistsAndPushes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	dispatcher, registry := newTestDispatcher(t, store)

	transport := &recordingTransport{}
	if _, err := registry.Register(ctx, "user-1", transport); err != nil {
		t.Fatal(err)
	}

	id, err := dispatcher.Send(ctx, TemplatePrivateMessage, "user-1",
		map[string]string{"senderName": "Sam", "preview": "hi"},
		Options{SenderID: "user-2", Priority: models.PriorityCritical})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id == "" {
		t.Fatal("Send() returned empty notification id")
	}

	// Durable record first.
	history, err := store.ListForUser(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ID != id {
		t.Fatalf("history = %+v, want the dispatched record", history)
	}
	if history[0].Title != "New message from Sam" {
		t.Errorf("Title = %q", history[0].Title)
	}

	// Live push carries the interaction flag for critical priority.
	events := transport.received()
	if len(events) != 2 {
		t.Fatalf("received %d events, want ack + notification", len(events))
	}
	payload := events[1]
	if payload.Type != models.EventNotification {
		t.Fatalf("payload type = %s", payload.Type)
	}
	if payload.Data["requireInteraction"] != true {
		t.Error("critical notification should require interaction")
	}
}

func TestSendQueuesForOfflineUser(t *testing.T) {
	ctx := context.Background()
	dispatcher, registry := newTestDispatcher(t, storage.NewMemoryStore())

	if _, err := dispatcher.Send(ctx, TemplateWelcome, "user-1",
		map[string]string{"name": "Alex"}, Options{}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if depth := registry.QueueDepth("user-1"); depth != 1 {
		t.Errorf("QueueDepth = %d, want 1", depth)
	}
}

func TestSendFailsWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	dispatcher, registry := newTestDispatcher(t, failingStore{})

	if _, err := dispatcher.Send(ctx, TemplateWelcome, "user-1", nil, Options{}); err == nil {
		t.Fatal("Send() should fail when the durable record cannot be written")
	}
	// Nothing pushed without a record.
	if depth := registry.QueueDepth("user-1"); depth != 0 {
		t.Errorf("QueueDepth = %d, want 0 after failed persist", depth)
	}
}

func TestSendRejectsUnknownTemplate(t *testing.T) {
	ctx := context.Background()
	dispatcher, _ := newTestDispatcher(t, storage.NewMemoryStore())
	if _, err := dispatcher.Send(ctx, "bogus", "user-1", nil, Options{}); !errors.Is(err, ErrUnknownTemplate) {
		t.Errorf("Send() error = %v, want ErrUnknownTemplate", err)
	}
}

func TestPurgeRemovesOldRecords(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	dispatcher, _ := newTestDispatcher(t, store)

	old := &models.Notification{
		ID: "old", Type: "welcome", Title: "t", Body: "b",
		Priority: models.PriorityLow, TargetUserID: "user-1",
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	if err := store.Append(ctx, old); err != nil {
		t.Fatal(err)
	}

	purged, err := dispatcher.Purge(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}

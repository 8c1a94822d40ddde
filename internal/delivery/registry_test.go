package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fixmarket/pulse/internal/observability"
	"github.com/fixmarket/pulse/pkg/models"
)

type fakeTransport struct {
	mu       sync.Mutex
	events   []models.Event
	writeErr error
	closed   bool
}

func (f *fakeTransport) Write(event models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) received() []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Event, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestRegistry(t *testing.T, config RegistryConfig) *Registry {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewRegistry(config, logger, metrics)
}

func TestRegisterSendsAckFirst(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{Features: []string{"read_receipts"}})
	transport := &fakeTransport{}

	sessionID, err := r.Register(context.Background(), "user-1", transport)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if sessionID == "" {
		t.Fatal("Register() returned empty session id")
	}

	events := transport.received()
	if len(events) != 1 || events[0].Type != models.EventConnectionAck {
		t.Fatalf("events = %+v, want single connection:ack", events)
	}
	if events[0].Data["sessionId"] != sessionID {
		t.Errorf("ack sessionId = %v, want %s", events[0].Data["sessionId"], sessionID)
	}
}

func TestRegisterReplacesPriorConnection(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	ctx := context.Background()

	first := &fakeTransport{}
	if _, err := r.Register(ctx, "user-1", first); err != nil {
		t.Fatal(err)
	}
	second := &fakeTransport{}
	if _, err := r.Register(ctx, "user-1", second); err != nil {
		t.Fatal(err)
	}

	if !first.isClosed() {
		t.Error("prior connection should be closed on replacement")
	}
	r.Push(ctx, "user-1", models.Event{Type: models.EventNotification})
	if got := len(second.received()); got != 2 {
		t.Errorf("replacement received %d events, want ack + notification", got)
	}
	if got := len(first.received()); got != 1 {
		t.Errorf("displaced connection received %d events, want only its ack", got)
	}
}

func TestPushQueuesWhenOffline(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	ctx := context.Background()

	r.Push(ctx, "user-1", models.Event{Type: models.EventNotification, Data: map[string]any{"id": "n1"}})
	if depth := r.QueueDepth("user-1"); depth != 1 {
		t.Fatalf("QueueDepth = %d, want 1", depth)
	}

	// Offline delivery: the queued event arrives right after the ack, in
	// order, without the queued marker.
	transport := &fakeTransport{}
	if _, err := r.Register(ctx, "user-1", transport); err != nil {
		t.Fatal(err)
	}
	events := transport.received()
	if len(events) != 2 {
		t.Fatalf("received %d events, want ack + flushed notification", len(events))
	}
	if events[0].Type != models.EventConnectionAck || events[1].Type != models.EventNotification {
		t.Errorf("order = [%s %s], want ack then notification", events[0].Type, events[1].Type)
	}
	if events[1].Queued {
		t.Error("flushed event still carries the queued marker")
	}
	if depth := r.QueueDepth("user-1"); depth != 0 {
		t.Errorf("QueueDepth after flush = %d, want 0", depth)
	}
}

func TestPushWriteFailureTearsDownAndQueues(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	ctx := context.Background()

	transport := &fakeTransport{}
	if _, err := r.Register(ctx, "user-1", transport); err != nil {
		t.Fatal(err)
	}
	transport.mu.Lock()
	transport.writeErr = errors.New("broken pipe")
	transport.mu.Unlock()

	event := models.Event{Type: models.EventNotification, Data: map[string]any{"id": "n1"}}
	r.Push(ctx, "user-1", event)

	if r.Connected("user-1") {
		t.Error("connection should be torn down after write failure")
	}
	if !transport.isClosed() {
		t.Error("failed transport should be closed")
	}
	if depth := r.QueueDepth("user-1"); depth != 1 {
		t.Errorf("QueueDepth = %d, want the failed event queued", depth)
	}
}

func TestBroadcastIsolatesRecipients(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	ctx := context.Background()

	healthy := &fakeTransport{}
	broken := &fakeTransport{writeErr: errors.New("reset")}
	if _, err := r.Register(ctx, "user-1", healthy); err != nil {
		t.Fatal(err)
	}
	// The broken transport accepts the ack, then starts failing.
	broken.writeErr = nil
	if _, err := r.Register(ctx, "user-2", broken); err != nil {
		t.Fatal(err)
	}
	broken.mu.Lock()
	broken.writeErr = errors.New("reset")
	broken.mu.Unlock()

	r.Broadcast(ctx, []string{"user-1", "user-2"}, models.ConversationClosed("job-1", time.Now()))

	if got := len(healthy.received()); got != 2 {
		t.Errorf("healthy recipient received %d events, want ack + closure", got)
	}
	if depth := r.QueueDepth("user-2"); depth != 1 {
		t.Errorf("broken recipient queue depth = %d, want 1", depth)
	}
}

func TestBroadcastAllReachesEveryConnectionExceptExcluded(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	ctx := context.Background()

	included := &fakeTransport{}
	excluded := &fakeTransport{}
	if _, err := r.Register(ctx, "user-1", included); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(ctx, "user-2", excluded); err != nil {
		t.Fatal(err)
	}
	// user-3 has a queue from an earlier push but no live connection.
	r.Push(ctx, "user-3", notificationEvent(0))

	r.BroadcastAll(ctx, models.Event{Type: models.EventNotification}, "user-2")

	if got := len(included.received()); got != 2 {
		t.Errorf("included connection received %d events, want ack + broadcast", got)
	}
	if got := len(excluded.received()); got != 1 {
		t.Errorf("excluded connection received %d events, want only its ack", got)
	}
	if depth := r.QueueDepth("user-3"); depth != 1 {
		t.Errorf("offline user queue depth = %d, want untouched 1", depth)
	}

	// No exclusion: everyone connected gets it.
	r.BroadcastAll(ctx, models.Event{Type: models.EventNotification}, "")
	if got := len(excluded.received()); got != 2 {
		t.Errorf("excluded connection received %d events after plain broadcast, want 2", got)
	}
}

func TestSweepEvictsIdleAndAgedConnections(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{
		IdleTimeout:      5 * time.Minute,
		MaxConnectionAge: 2 * time.Hour,
	})
	ctx := context.Background()

	current := time.Now()
	r.now = func() time.Time { return current }

	idle := &fakeTransport{}
	active := &fakeTransport{}
	aged := &fakeTransport{}
	for user, tr := range map[string]*fakeTransport{"idle": idle, "active": active, "aged": aged} {
		if _, err := r.Register(ctx, user, tr); err != nil {
			t.Fatal(err)
		}
	}

	current = current.Add(6 * time.Minute)
	r.Touch("active")
	r.Sweep(ctx)
	if r.Connected("idle") {
		t.Error("idle connection should be evicted")
	}
	if !r.Connected("active") {
		t.Error("recently active connection should survive the sweep")
	}

	// Activity does not save a connection past the hard age cap.
	current = current.Add(2 * time.Hour)
	r.Touch("aged")
	r.Sweep(ctx)
	if r.Connected("aged") {
		t.Error("over-age connection should be evicted despite activity")
	}
}

func TestConcurrentPushAndRegister(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	ctx := context.Background()

	// Stays below queue capacity so bounded eviction cannot eat any event.
	const pushes = 40
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < pushes; i++ {
			r.Push(ctx, "user-1", notificationEvent(i))
		}
	}()
	transports := make([]*fakeTransport, 0, 20)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			tr := &fakeTransport{}
			if _, err := r.Register(ctx, "user-1", tr); err != nil {
				t.Error(err)
				return
			}
			transports = append(transports, tr)
		}
	}()
	wg.Wait()

	// Every push landed somewhere: a live transport or the queue. Acks are
	// one per successful register.
	delivered := 0
	for _, tr := range transports {
		for _, ev := range tr.received() {
			if ev.Type == models.EventNotification {
				delivered++
			}
		}
	}
	if total := delivered + r.QueueDepth("user-1"); total != pushes {
		t.Errorf("delivered %d + queued %d = %d, want %d", delivered, r.QueueDepth("user-1"), total, pushes)
	}
}

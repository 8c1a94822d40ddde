package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fixmarket/pulse/pkg/models"
)

type scriptedConn struct {
	events  chan models.Event
	readErr chan error
	pingErr error
	mu      sync.Mutex
	closed  bool
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		events:  make(chan models.Event, 8),
		readErr: make(chan error, 1),
	}
}

func (c *scriptedConn) ReadEvent() (models.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case err := <-c.readErr:
		return models.Event{}, err
	}
}

func (c *scriptedConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		select {
		case c.readErr <- errors.New("closed"):
		default:
		}
	}
	return nil
}

// timerLog replaces time.AfterFunc so tests control when timers fire.
type timerLog struct {
	mu      sync.Mutex
	entries []timerEntry
}

type timerEntry struct {
	delay time.Duration
	fn    func()
}

func (l *timerLog) afterFunc(d time.Duration, fn func()) *time.Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, timerEntry{delay: d, fn: fn})
	// Inert timer: tests fire callbacks by hand.
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func (l *timerLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *timerLog) fire(i int) {
	l.mu.Lock()
	entry := l.entries[i]
	l.mu.Unlock()
	entry.fn()
}

func (l *timerLog) delays() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]time.Duration, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.delay
	}
	return out
}

func newTestClient(dial DialFunc) (*Client, *timerLog) {
	timers := &timerLog{}
	c := New(Options{
		Dial:           dial,
		OnEvent:        func(models.Event) {},
		HealthInterval: 30 * time.Second,
	})
	c.afterFunc = timers.afterFunc
	c.randFloat = func() float64 { return 0 } // no jitter
	return c, timers
}

func TestBackoffScheduleAndExhaustion(t *testing.T) {
	dialErr := errors.New("refused")
	c, timers := newTestClient(func(context.Context) (Conn, error) {
		return nil, dialErr
	})

	if err := c.Connect(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("Connect() error = %v, want dial failure", err)
	}

	// Fire every scheduled retry until the controller gives up.
	for i := 0; i < timers.count(); i++ {
		timers.fire(i)
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond, // capped
	}
	got := timers.delays()
	if len(got) != len(want) {
		t.Fatalf("scheduled %d attempts (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attempt %d delay = %v, want %v", i+1, got[i], want[i])
		}
	}
	if c.Status() != StatusFailed {
		t.Errorf("status = %s, want failed after exhausting attempts", c.Status())
	}
}

func TestJitterStaysWithinBound(t *testing.T) {
	c, timers := newTestClient(func(context.Context) (Conn, error) {
		return nil, errors.New("refused")
	})
	c.randFloat = func() float64 { return 0.999 }

	_ = c.Connect(context.Background())
	delay := timers.delays()[0]
	if delay < 1000*time.Millisecond || delay > 1300*time.Millisecond {
		t.Errorf("first delay with max jitter = %v, want within [1s, 1.3s]", delay)
	}
}

func TestSuccessfulConnectResetsAttempts(t *testing.T) {
	var mu sync.Mutex
	failures := 2
	conns := []*scriptedConn{}
	dial := func(context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, errors.New("refused")
		}
		conn := newScriptedConn()
		conns = append(conns, conn)
		return conn, nil
	}
	c, timers := newTestClient(dial)

	_ = c.Connect(context.Background())
	timers.fire(0) // fails
	timers.fire(1) // succeeds

	if c.Status() != StatusConnected {
		t.Fatalf("status = %s, want connected", c.Status())
	}
	c.mu.Lock()
	attempt := c.attempt
	c.mu.Unlock()
	if attempt != 0 {
		t.Errorf("attempt = %d, want reset to 0 on success", attempt)
	}
}

func TestEventsReachHandler(t *testing.T) {
	conn := newScriptedConn()
	received := make(chan models.Event, 1)
	timers := &timerLog{}
	c := New(Options{
		Dial:    func(context.Context) (Conn, error) { return conn, nil },
		OnEvent: func(ev models.Event) { received <- ev },
	})
	c.afterFunc = timers.afterFunc
	c.randFloat = func() float64 { return 0 }

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn.events <- models.Event{Type: models.EventNotification}

	select {
	case ev := <-received:
		if ev.Type != models.EventNotification {
			t.Errorf("event type = %s", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the event")
	}
}

func TestReadErrorTriggersReconnect(t *testing.T) {
	conn := newScriptedConn()
	c, timers := newTestClient(func(context.Context) (Conn, error) { return conn, nil })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := timers.count() // health probe timer

	conn.readErr <- errors.New("reset by peer")
	waitFor(t, func() bool { return c.Status() == StatusDisconnected || timers.count() > before })

	if timers.count() <= before {
		t.Error("no reconnect timer scheduled after read error")
	}
}

func TestHealthProbeFailureTriggersReconnect(t *testing.T) {
	conn := newScriptedConn()
	conn.pingErr = errors.New("dead transport")
	dials := 0
	var mu sync.Mutex
	c, timers := newTestClient(func(context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		return conn, nil
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	// The first timer after connect is the health probe.
	timers.fire(0)

	waitFor(t, func() bool { return c.Status() != StatusConnected })
	if c.Status() == StatusConnected {
		t.Error("failed probe should disconnect")
	}
}

func TestManualReconnectLeavesFailedState(t *testing.T) {
	var mu sync.Mutex
	healthy := false
	c, timers := newTestClient(func(context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			return nil, errors.New("refused")
		}
		return newScriptedConn(), nil
	})

	_ = c.Connect(context.Background())
	for i := 0; i < timers.count(); i++ {
		timers.fire(i)
	}
	if c.Status() != StatusFailed {
		t.Fatalf("status = %s, want failed", c.Status())
	}

	mu.Lock()
	healthy = true
	mu.Unlock()
	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if c.Status() != StatusConnected {
		t.Errorf("status after manual reconnect = %s, want connected", c.Status())
	}
}

func TestManualReconnectDiscardsRacingDial(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var conns []*scriptedConn
	dial := func(context.Context) (Conn, error) {
		conn := newScriptedConn()
		mu.Lock()
		conns = append(conns, conn)
		first := len(conns) == 1
		mu.Unlock()
		if first {
			<-release // the first dial loses the race
		}
		return conn, nil
	}
	c, _ := newTestClient(dial)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) == 1
	})

	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if c.Status() != StatusConnected {
		t.Fatalf("status = %s, want connected", c.Status())
	}
	mu.Lock()
	loser, winner := conns[0], conns[1]
	mu.Unlock()
	waitFor(t, func() bool {
		loser.mu.Lock()
		defer loser.mu.Unlock()
		return loser.closed
	})
	winner.mu.Lock()
	if winner.closed {
		t.Error("winning connection should stay open")
	}
	winner.mu.Unlock()
}

func TestCloseCancelsEverything(t *testing.T) {
	c, timers := newTestClient(func(context.Context) (Conn, error) {
		return nil, errors.New("refused")
	})

	_ = c.Connect(context.Background())
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if c.Status() != StatusDisabled {
		t.Fatalf("status = %s, want disabled", c.Status())
	}

	// A pending backoff timer firing after Close must not reconnect.
	scheduled := timers.count()
	for i := 0; i < scheduled; i++ {
		timers.fire(i)
	}
	if c.Status() != StatusDisabled {
		t.Errorf("status after late timer = %s, want disabled", c.Status())
	}
	if timers.count() != scheduled {
		t.Error("late timer scheduled new work after Close")
	}

	if err := c.Connect(context.Background()); err == nil {
		t.Error("Connect() after Close should fail")
	}
}

func TestSuspendPausesReconnection(t *testing.T) {
	var mu sync.Mutex
	var latest *scriptedConn
	c, timers := newTestClient(func(context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		latest = newScriptedConn()
		return latest, nil
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	conn := latest
	mu.Unlock()
	c.Suspend()
	if c.Status() != StatusSuspended {
		t.Fatalf("status = %s, want suspended", c.Status())
	}

	// Transport signals while suspended schedule nothing.
	before := timers.count()
	conn.readErr <- errors.New("reset")
	time.Sleep(50 * time.Millisecond)
	if timers.count() != before {
		t.Error("suspended controller scheduled a reconnect")
	}

	if err := c.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Status() != StatusConnected {
		t.Errorf("status after resume = %s, want connected", c.Status())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

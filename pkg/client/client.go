// Package client implements the engine's client-side counterpart: a
// reconnection controller that keeps one realtime connection alive with
// bounded, jittered retries, and hands every received event to the
// application.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fixmarket/pulse/internal/backoff"
	"github.com/fixmarket/pulse/internal/observability"
	"github.com/fixmarket/pulse/pkg/models"
)

// Status is the controller's connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	// StatusSuspended pauses reconnection while the app is backgrounded.
	StatusSuspended Status = "suspended"
	// StatusFailed is reached after exhausting automatic attempts; only a
	// manual Reconnect leaves it.
	StatusFailed Status = "failed"
	// StatusDisabled is terminal, set by Close.
	StatusDisabled Status = "disabled"
)

// MaxAutoAttempts caps automatic reconnection. Past the cap the controller
// goes failed and waits for a manual Reconnect.
const MaxAutoAttempts = 5

// DefaultHealthInterval is how often a liveness probe runs while connected.
const DefaultHealthInterval = 30 * time.Second

// ErrReconnectExhausted reports that automatic reconnection gave up.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Conn is one live connection as the controller sees it.
type Conn interface {
	// ReadEvent blocks until the next event or a transport error.
	ReadEvent() (models.Event, error)

	// Ping probes transport liveness.
	Ping() error

	// Close tears the connection down.
	Close() error
}

// DialFunc opens a connection. The controller retries it under the backoff
// policy.
type DialFunc func(ctx context.Context) (Conn, error)

// Options configures a Client.
type Options struct {
	// Dial opens connections. Required.
	Dial DialFunc

	// OnEvent receives every event from the live connection. Required.
	OnEvent func(models.Event)

	// OnStatusChange observes controller transitions. Optional.
	OnStatusChange func(Status)

	// HealthInterval overrides the liveness probe cadence.
	HealthInterval time.Duration

	// Logger defaults to a discard-level logger when nil.
	Logger *observability.Logger
}

// Client is the reconnection controller. All state transitions happen under
// one mutex; blocking work (dialing, reading) runs outside it.
type Client struct {
	opts   Options
	policy backoff.Policy

	mu           sync.Mutex
	status       Status
	attempt      int
	conn         Conn
	generation   int
	reconnecting bool
	backoffTimer *time.Timer
	healthTimer  *time.Timer

	// Injection points for deterministic tests.
	randFloat func() float64
	afterFunc func(time.Duration, func()) *time.Timer
}

// New creates a controller in the disconnected state. Call Connect to start.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.LogConfig{Level: "error"})
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	return &Client{
		opts:      opts,
		policy:    backoff.ReconnectPolicy(),
		status:    StatusDisconnected,
		randFloat: defaultRand,
		afterFunc: time.AfterFunc,
	}
}

// Status returns the current controller state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect performs the initial connection attempt. Failures feed the
// automatic reconnection machine.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusDisabled {
		c.mu.Unlock()
		return errors.New("client is closed")
	}
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	return c.dialOnce(ctx)
}

// Reconnect bypasses backoff and attempts immediately, independent of the
// automatic machine. It is the way out of the failed state.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusDisabled {
		c.mu.Unlock()
		return errors.New("client is closed")
	}
	c.cancelTimersLocked()
	c.attempt = 0
	c.reconnecting = false
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	return c.dialOnce(ctx)
}

// Suspend pauses the controller: the connection closes and no automatic
// reconnects run until Resume.
func (c *Client) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusDisabled {
		return
	}
	c.cancelTimersLocked()
	c.generation++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.reconnecting = false
	c.setStatusLocked(StatusSuspended)
}

// Resume leaves the suspended state and reconnects.
func (c *Client) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusSuspended {
		c.mu.Unlock()
		return nil
	}
	c.attempt = 0
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()
	return c.dialOnce(ctx)
}

// Close disposes the controller: all timers are cancelled and the connection
// closed. The controller never reconnects after Close.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusDisabled {
		return nil
	}
	c.cancelTimersLocked()
	c.generation++
	c.reconnecting = false
	conn := c.conn
	c.conn = nil
	c.setStatusLocked(StatusDisabled)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// dialOnce runs one connection attempt and starts the read loop on success.
// The generation bump before dialing means only the newest dial may install
// its connection: a backoff-timer dial racing a manual Reconnect (or Suspend,
// or Close) sees the generation move on and discards its result.
func (c *Client) dialOnce(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	dialGen := c.generation
	c.mu.Unlock()

	conn, err := c.opts.Dial(ctx)

	c.mu.Lock()
	if dialGen != c.generation || c.status == StatusDisabled || c.status == StatusSuspended {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		c.setStatusLocked(StatusDisconnected)
		c.reconnecting = false
		c.scheduleReconnectLocked(ctx)
		c.mu.Unlock()
		return err
	}

	c.conn = conn
	c.attempt = 0
	c.reconnecting = false
	c.setStatusLocked(StatusConnected)
	c.scheduleHealthProbeLocked(ctx, dialGen)
	c.mu.Unlock()

	go c.readLoop(ctx, conn, dialGen)
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn Conn, generation int) {
	for {
		event, err := conn.ReadEvent()
		if err != nil {
			c.handleDisconnect(ctx, generation)
			return
		}
		c.opts.OnEvent(event)
	}
}

// handleDisconnect reacts to a transport signal for the given connection
// generation. Signals from an already-replaced connection are ignored.
func (c *Client) handleDisconnect(ctx context.Context, generation int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	if c.status == StatusDisabled || c.status == StatusSuspended {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.cancelHealthLocked()
	c.setStatusLocked(StatusDisconnected)
	c.scheduleReconnectLocked(ctx)
}

// scheduleReconnectLocked arms the next automatic attempt. No-op when
// already reconnecting, connected, or disabled; past the attempt cap the
// controller goes failed.
func (c *Client) scheduleReconnectLocked(ctx context.Context) {
	if c.reconnecting || c.status == StatusConnected || c.status == StatusDisabled || c.status == StatusSuspended {
		return
	}
	if c.attempt >= MaxAutoAttempts {
		c.setStatusLocked(StatusFailed)
		c.opts.Logger.Warn(ctx, "reconnect attempts exhausted", "attempts", c.attempt)
		return
	}

	delay := backoff.ComputeWithRand(c.policy, c.attempt+1, c.randFloat())
	c.attempt++
	c.reconnecting = true
	c.opts.Logger.Info(ctx, "reconnect scheduled", "attempt", c.attempt, "delay", delay)

	c.backoffTimer = c.afterFunc(delay, func() {
		c.mu.Lock()
		if c.status == StatusDisabled || c.status == StatusSuspended || c.status == StatusConnected {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.setStatusLocked(StatusConnecting)
		c.mu.Unlock()
		_ = c.dialOnce(ctx)
	})
}

// scheduleHealthProbeLocked arms the periodic liveness probe for the current
// connection.
func (c *Client) scheduleHealthProbeLocked(ctx context.Context, generation int) {
	c.healthTimer = c.afterFunc(c.opts.HealthInterval, func() {
		c.mu.Lock()
		if generation != c.generation || c.status != StatusConnected || c.conn == nil {
			c.mu.Unlock()
			return
		}
		conn := c.conn
		c.mu.Unlock()

		if err := conn.Ping(); err != nil {
			c.opts.Logger.Warn(ctx, "health probe failed", "error", err)
			c.handleDisconnect(ctx, generation)
			return
		}

		c.mu.Lock()
		if generation == c.generation && c.status == StatusConnected {
			c.scheduleHealthProbeLocked(ctx, generation)
		}
		c.mu.Unlock()
	})
}

func (c *Client) setStatusLocked(status Status) {
	if c.status == status {
		return
	}
	c.status = status
	if c.opts.OnStatusChange != nil {
		c.opts.OnStatusChange(status)
	}
}

func (c *Client) cancelTimersLocked() {
	if c.backoffTimer != nil {
		c.backoffTimer.Stop()
		c.backoffTimer = nil
	}
	c.cancelHealthLocked()
}

func (c *Client) cancelHealthLocked() {
	if c.healthTimer != nil {
		c.healthTimer.Stop()
		c.healthTimer = nil
	}
}

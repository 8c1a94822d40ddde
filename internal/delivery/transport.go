package delivery

import (
	"errors"

	"github.com/fixmarket/pulse/pkg/models"
)

// ErrBackpressure is returned by a Transport whose outbound buffer is full.
// The registry treats it like any other write failure: the connection is torn
// down and the event is queued for the next session.
var ErrBackpressure = errors.New("transport buffer full")

// Transport is one live realtime connection to a user. Implementations must
// make Write safe for concurrent use; the registry pushes from many
// event-producing goroutines.
type Transport interface {
	// Write delivers one event, or reports why it could not.
	Write(event models.Event) error

	// Close tears the connection down. Closing twice is allowed.
	Close() error
}

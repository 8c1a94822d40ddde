package models

import "time"

// EventType identifies the kind of realtime event pushed to a client.
type EventType string

const (
	// EventConnectionAck is sent once immediately after a connection registers.
	EventConnectionAck EventType = "connection:ack"
	// EventNotification carries a templated notification payload.
	EventNotification EventType = "notification"
	// EventConversationClosed informs both participants that messaging closed.
	EventConversationClosed EventType = "conversation:closed"
	// EventMessageDelivered confirms a private message reached the engine.
	EventMessageDelivered EventType = "message:delivered"
	// EventMessageRead reports that the recipient read a private message.
	EventMessageRead EventType = "message:read"
)

// Event is the JSON envelope delivered over a realtime transport.
//
// Queued marks an event that was buffered while the recipient was offline.
// The marker is cleared when the queue is flushed to a fresh connection, so
// the delivered record looks identical to a live push.
type Event struct {
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Queued    bool           `json:"queued,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ConnectionAck builds the acknowledgement event sent on register.
func ConnectionAck(sessionID string, features []string) Event {
	return Event{
		Type: EventConnectionAck,
		Data: map[string]any{
			"sessionId": sessionID,
			"features":  features,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// ConversationClosed builds the closure broadcast for a job's participants.
func ConversationClosed(jobID string, closedAt time.Time) Event {
	return Event{
		Type: EventConversationClosed,
		Data: map[string]any{
			"jobId":    jobID,
			"closedAt": closedAt.UTC().Format(time.RFC3339Nano),
		},
		CreatedAt: time.Now().UTC(),
	}
}

// MessageDelivered builds the delivery confirmation for a private message.
func MessageDelivered(messageID string) Event {
	return Event{
		Type:      EventMessageDelivered,
		Data:      map[string]any{"messageId": messageID},
		CreatedAt: time.Now().UTC(),
	}
}

// MessageRead builds the read receipt fanned back to the sender.
func MessageRead(messageID string) Event {
	return Event{
		Type:      EventMessageRead,
		Data:      map[string]any{"messageId": messageID},
		CreatedAt: time.Now().UTC(),
	}
}

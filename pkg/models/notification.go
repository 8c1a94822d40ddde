package models

import "time"

// Priority controls how a notification is presented on the client.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityCritical Priority = "critical"
)

// Valid reports whether the priority is one of the known values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityCritical:
		return true
	}
	return false
}

// Notification is the immutable dispatch record for a single recipient.
//
// Title and Body are always the output of template interpolation. User-authored
// text embedded in them (comment previews, message excerpts) must have passed
// the content gate before reaching the dispatcher.
type Notification struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Body         string         `json:"body"`
	Priority     Priority       `json:"priority"`
	TargetUserID string         `json:"target_user_id"`
	SenderUserID string         `json:"sender_user_id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Payload converts the notification into its realtime event form.
// Critical notifications are flagged to require explicit dismissal.
func (n *Notification) Payload() Event {
	data := map[string]any{
		"id":       n.ID,
		"type":     n.Type,
		"title":    n.Title,
		"body":     n.Body,
		"priority": string(n.Priority),
	}
	if n.SenderUserID != "" {
		data["senderId"] = n.SenderUserID
	}
	if len(n.Data) > 0 {
		data["data"] = n.Data
	}
	if n.Priority == PriorityCritical {
		data["requireInteraction"] = true
	}
	return Event{
		Type:      EventNotification,
		Data:      data,
		CreatedAt: n.CreatedAt,
	}
}

package models

import "time"

// ReviewerRole identifies which side of a job submitted a review.
type ReviewerRole string

const (
	RoleHirer ReviewerRole = "hirer"
	RoleFixer ReviewerRole = "fixer"
)

// Valid reports whether the role is one of the known values.
func (r ReviewerRole) Valid() bool {
	return r == RoleHirer || r == RoleFixer
}

// ConversationPhase is the derived lifecycle phase of a conversation.
type ConversationPhase string

const (
	// PhaseOpen means the job has not completed; messaging is unconditional.
	PhaseOpen ConversationPhase = "open"
	// PhasePendingReview means the job completed with at most one review in.
	PhasePendingReview ConversationPhase = "pending_review"
	// PhaseClosed is terminal; messaging is permanently disallowed.
	PhaseClosed ConversationPhase = "closed"
)

// ConversationState tracks messaging permission for one (job, participant
// pair). It is never deleted; a closed state is the audit record of when and
// why the conversation ended.
type ConversationState struct {
	JobID         string     `json:"job_id"`
	HirerID       string     `json:"hirer_id"`
	FixerID       string     `json:"fixer_id"`
	JobCompleted  bool       `json:"job_completed"`
	HirerReviewed bool       `json:"hirer_reviewed"`
	FixerReviewed bool       `json:"fixer_reviewed"`
	// MessagingAllowed transitions true->false exactly once, the instant both
	// review flags are set. It never transitions back.
	MessagingAllowed bool       `json:"messaging_allowed"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Phase derives the lifecycle phase from the durable flags.
func (c *ConversationState) Phase() ConversationPhase {
	switch {
	case !c.MessagingAllowed:
		return PhaseClosed
	case c.JobCompleted:
		return PhasePendingReview
	default:
		return PhaseOpen
	}
}

// Participant reports whether userID is one of the two conversation parties.
func (c *ConversationState) Participant(userID string) bool {
	return userID == c.HirerID || userID == c.FixerID
}

// Counterpart returns the other participant, or "" if userID is not a party.
func (c *ConversationState) Counterpart(userID string) string {
	switch userID {
	case c.HirerID:
		return c.FixerID
	case c.FixerID:
		return c.HirerID
	}
	return ""
}

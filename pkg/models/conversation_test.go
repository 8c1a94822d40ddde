package models

import (
	"testing"
	"time"
)

func TestConversationPhase(t *testing.T) {
	closedAt := time.Now()
	tests := []struct {
		name  string
		state ConversationState
		want  ConversationPhase
	}{
		{
			name:  "new conversation is open",
			state: ConversationState{MessagingAllowed: true},
			want:  PhaseOpen,
		},
		{
			name:  "completed job is pending review",
			state: ConversationState{MessagingAllowed: true, JobCompleted: true},
			want:  PhasePendingReview,
		},
		{
			name: "one review stays pending",
			state: ConversationState{
				MessagingAllowed: true, JobCompleted: true, HirerReviewed: true,
			},
			want: PhasePendingReview,
		},
		{
			name: "messaging disallowed is closed",
			state: ConversationState{
				JobCompleted: true, HirerReviewed: true, FixerReviewed: true,
				ClosedAt: &closedAt,
			},
			want: PhaseClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Phase(); got != tt.want {
				t.Errorf("Phase() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCounterpart(t *testing.T) {
	state := ConversationState{HirerID: "h", FixerID: "f"}
	if got := state.Counterpart("h"); got != "f" {
		t.Errorf("Counterpart(h) = %q, want f", got)
	}
	if got := state.Counterpart("f"); got != "h" {
		t.Errorf("Counterpart(f) = %q, want h", got)
	}
	if got := state.Counterpart("x"); got != "" {
		t.Errorf("Counterpart(x) = %q, want empty", got)
	}
}

func TestCriticalPayloadRequiresInteraction(t *testing.T) {
	n := Notification{
		ID: "n1", Type: "application_accepted", Title: "t", Body: "b",
		Priority: PriorityCritical, TargetUserID: "u1",
	}
	event := n.Payload()
	if event.Data["requireInteraction"] != true {
		t.Error("critical payload missing requireInteraction")
	}

	n.Priority = PriorityNormal
	if _, ok := n.Payload().Data["requireInteraction"]; ok {
		t.Error("normal payload should not set requireInteraction")
	}
}

// Package gateway exposes the engine over HTTP: the websocket endpoint
// clients attach to, and the internal event API upstream services call when
// domain events happen.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fixmarket/pulse/internal/conversation"
	"github.com/fixmarket/pulse/internal/delivery"
	"github.com/fixmarket/pulse/internal/moderation"
	"github.com/fixmarket/pulse/internal/notify"
	"github.com/fixmarket/pulse/internal/observability"
	"github.com/fixmarket/pulse/pkg/models"
)

// ContentRejectedError carries the gate's verdict back to the submitter.
type ContentRejectedError struct {
	Reason     string
	Violations []moderation.Violation
}

func (e *ContentRejectedError) Error() string {
	return fmt.Sprintf("content rejected: %s", e.Reason)
}

// Service composes the engine: gate, lifecycle, dispatcher, and registry.
// HTTP and websocket handlers call into it; it owns no transport concerns.
type Service struct {
	gate       *moderation.Gate
	lifecycle  *conversation.Lifecycle
	dispatcher *notify.Dispatcher
	registry   *delivery.Registry
	logger     *observability.Logger
	tracer     *observability.Tracer
}

// NewService wires the engine components together.
func NewService(gate *moderation.Gate, lifecycle *conversation.Lifecycle, dispatcher *notify.Dispatcher, registry *delivery.Registry, logger *observability.Logger, tracer *observability.Tracer) *Service {
	return &Service{
		gate:       gate,
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger,
		tracer:     tracer,
	}
}

// MessageSendRequest is the inbound event for a private message between the
// participants of a job.
type MessageSendRequest struct {
	JobID       string `json:"jobId"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	SenderName  string `json:"senderName"`
	Text        string `json:"text"`
}

// MessageSendResult reports the accepted message.
type MessageSendResult struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// SendMessage gates, authorizes, and delivers a private message.
//
// Private messages run the relaxed policy: the participants are matched, so
// contact sharing is legitimate. Lifecycle closure and content rejection are
// returned synchronously; delivery of the notification itself is
// fire-and-forget.
func (s *Service) SendMessage(ctx context.Context, req MessageSendRequest) (*MessageSendResult, error) {
	ctx = observability.AddJobID(observability.AddUserID(ctx, req.SenderID), req.JobID)
	ctx, span := s.tracer.Start(ctx, "gateway.SendMessage", attribute.String("job_id", req.JobID))
	defer span.End()

	verdict := s.gate.Evaluate(ctx, req.Text, moderation.Context{Surface: moderation.SurfacePrivateMessage})
	if !verdict.Allowed {
		return nil, &ContentRejectedError{Reason: verdict.FirstMessage(), Violations: verdict.Violations}
	}

	if _, err := s.lifecycle.AuthorizeMessage(ctx, req.JobID, req.SenderID); err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}

	messageID := uuid.NewString()
	if _, err := s.dispatcher.Send(ctx, notify.TemplatePrivateMessage, req.RecipientID,
		map[string]string{
			"senderName": req.SenderName,
			"preview":    preview(verdict.SanitizedText),
		},
		notify.Options{
			SenderID: req.SenderID,
			Data:     map[string]any{"jobId": req.JobID, "messageId": messageID},
		}); err != nil {
		return nil, err
	}

	// Delivery confirmation back to the sender; absorbed if they are offline.
	s.registry.Push(ctx, req.SenderID, models.MessageDelivered(messageID))
	return &MessageSendResult{MessageID: messageID, Text: verdict.SanitizedText}, nil
}

// CommentCreateRequest is the inbound event for a public comment on a job.
type CommentCreateRequest struct {
	JobID      string   `json:"jobId"`
	JobTitle   string   `json:"jobTitle"`
	AuthorID   string   `json:"authorId"`
	AuthorName string   `json:"authorName"`
	Text       string   `json:"text"`
	Mentions   []string `json:"mentions,omitempty"`
}

// CommentCreateResult reports the admitted comment and its display form.
type CommentCreateResult struct {
	CommentID   string `json:"commentId"`
	DisplayText string `json:"displayText"`
}

// CreateComment gates a public comment under the strict policy and notifies
// mentioned users. The display text has residual contact details masked.
func (s *Service) CreateComment(ctx context.Context, req CommentCreateRequest) (*CommentCreateResult, error) {
	ctx = observability.AddJobID(observability.AddUserID(ctx, req.AuthorID), req.JobID)
	ctx, span := s.tracer.Start(ctx, "gateway.CreateComment", attribute.String("job_id", req.JobID))
	defer span.End()

	verdict := s.gate.Evaluate(ctx, req.Text, moderation.Context{Surface: moderation.SurfaceComment})
	if !verdict.Allowed {
		return nil, &ContentRejectedError{Reason: verdict.FirstMessage(), Violations: verdict.Violations}
	}

	commentID := uuid.NewString()
	display := moderation.Sanitize(verdict.SanitizedText)
	for _, mentioned := range req.Mentions {
		if mentioned == req.AuthorID {
			continue
		}
		if _, err := s.dispatcher.Send(ctx, notify.TemplateMention, mentioned,
			map[string]string{
				"jobTitle":   req.JobTitle,
				"authorName": req.AuthorName,
				"preview":    preview(display),
			},
			notify.Options{
				SenderID: req.AuthorID,
				Data:     map[string]any{"jobId": req.JobID, "commentId": commentID},
			}); err != nil {
			s.logger.Warn(ctx, "mention notification failed", "mentioned", mentioned, "error", err)
		}
	}
	return &CommentCreateResult{CommentID: commentID, DisplayText: display}, nil
}

// JobCompleted handles the job-completion domain event.
func (s *Service) JobCompleted(ctx context.Context, jobID, jobTitle string) error {
	ctx, span := s.tracer.Start(ctx, "gateway.JobCompleted", attribute.String("job_id", jobID))
	defer span.End()

	_, err := s.lifecycle.HandleJobCompleted(ctx, jobID, jobTitle)
	s.tracer.RecordError(span, err)
	return err
}

// ReviewSubmitted records a review and notifies the reviewed party. The
// closure broadcast, when this is the second review, comes from the
// lifecycle.
func (s *Service) ReviewSubmitted(ctx context.Context, jobID, jobTitle, reviewerName string, role models.ReviewerRole) error {
	ctx, span := s.tracer.Start(ctx, "gateway.ReviewSubmitted", attribute.String("job_id", jobID))
	defer span.End()

	state, err := s.lifecycle.HandleReviewSubmitted(ctx, jobID, role)
	if err != nil {
		s.tracer.RecordError(span, err)
		return err
	}

	reviewed := state.FixerID
	if role == models.RoleFixer {
		reviewed = state.HirerID
	}
	if reviewed != "" {
		if _, err := s.dispatcher.Send(ctx, notify.TemplateReviewReceived, reviewed,
			map[string]string{"reviewerName": reviewerName, "jobTitle": jobTitle},
			notify.Options{Data: map[string]any{"jobId": jobID}}); err != nil {
			s.logger.Warn(ctx, "review notification failed", "job_id", jobID, "error", err)
		}
	}
	return nil
}

// EnsureConversation opens the conversation for a matched job.
func (s *Service) EnsureConversation(ctx context.Context, jobID, hirerID, fixerID string) error {
	_, err := s.lifecycle.EnsureConversation(ctx, jobID, hirerID, fixerID)
	return err
}

// MarkMessageRead fans a read receipt back to the message's sender.
func (s *Service) MarkMessageRead(ctx context.Context, senderID, messageID string) {
	s.registry.Push(ctx, senderID, models.MessageRead(messageID))
}

// NotificationHistory returns the reader's durable notification records.
func (s *Service) NotificationHistory(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	return s.dispatcher.History(ctx, userID, limit)
}

// IsClosedError reports whether err is the lifecycle's closed-conversation
// rejection.
func IsClosedError(err error) bool {
	return errors.Is(err, conversation.ErrConversationClosed)
}

// IsNotParticipantError reports whether err is the lifecycle's
// non-participant rejection.
func IsNotParticipantError(err error) bool {
	return errors.Is(err, conversation.ErrNotParticipant)
}

// preview trims text for a notification body, cutting on a rune boundary so
// multi-byte characters are never split.
func preview(text string) string {
	const max = 120
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max-1]) + "…"
}

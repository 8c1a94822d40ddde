// Package notify composes templated notifications, persists them, and hands
// the live payload to the delivery plane. Persistence is the source of truth;
// the push is best-effort.
package notify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fixmarket/pulse/pkg/models"
)

// ErrUnknownTemplate signals a template key that is not in the registry. It
// is a programmer error: callers pass compile-time constants, so the
// dispatcher fails fast rather than sending a half-formed notification.
var ErrUnknownTemplate = errors.New("unknown notification template")

// Template keys. The set is fixed at build time; new notification kinds are
// added here, not configured at runtime.
const (
	TemplateWelcome             = "welcome"
	TemplateJobComment          = "job-comment"
	TemplateApplicationAccepted = "application-accepted"
	TemplatePrivateMessage      = "private-message"
	TemplateSubscriptionSuccess = "subscription-success"
	TemplateCommentLike         = "comment-like"
	TemplateJobCompleted        = "job-completed"
	TemplateReviewReceived      = "review-received"

	TemplateCommentReply        = "comment-reply"
	TemplateMention             = "mention"
	TemplateApplicationRejected = "application-rejected"
	TemplateReviewReminder      = "review-reminder"
	TemplateConversationClosed  = "conversation-closed"
)

// Template is the shape a key expands into. Title and Body may contain
// {placeholder} markers filled from the caller's vars.
type Template struct {
	Type     string
	Title    string
	Body     string
	Priority models.Priority
}

var registry = map[string]Template{
	TemplateWelcome: {
		Type:     "welcome",
		Title:    "Welcome to the marketplace",
		Body:     "Hi {name}, your account is ready. Post a job or browse open work to get started.",
		Priority: models.PriorityNormal,
	},
	TemplateJobComment: {
		Type:     "job_comment",
		Title:    "New comment on {jobTitle}",
		Body:     "{commenterName} commented: {preview}",
		Priority: models.PriorityNormal,
	},
	TemplateApplicationAccepted: {
		Type:     "application_accepted",
		Title:    "You got the job",
		Body:     "{hirerName} accepted your application for {jobTitle}. You can now message each other directly.",
		Priority: models.PriorityCritical,
	},
	TemplatePrivateMessage: {
		Type:     "private_message",
		Title:    "New message from {senderName}",
		Body:     "{preview}",
		Priority: models.PriorityNormal,
	},
	TemplateSubscriptionSuccess: {
		Type:     "subscription_success",
		Title:    "Subscription active",
		Body:     "Your {planName} plan is active until {renewsAt}.",
		Priority: models.PriorityLow,
	},
	TemplateCommentLike: {
		Type:     "comment_like",
		Title:    "Someone liked your comment",
		Body:     "{likerName} liked your comment on {jobTitle}.",
		Priority: models.PriorityLow,
	},
	TemplateJobCompleted: {
		Type:     "job_completed",
		Title:    "Job marked complete",
		Body:     "{jobTitle} is complete. Leave a review to close things out.",
		Priority: models.PriorityNormal,
	},
	TemplateReviewReceived: {
		Type:     "review_received",
		Title:    "You received a review",
		Body:     "{reviewerName} reviewed your work on {jobTitle}.",
		Priority: models.PriorityNormal,
	},
	TemplateCommentReply: {
		Type:     "comment_reply",
		Title:    "New reply to your comment",
		Body:     "{replierName} replied on {jobTitle}: {preview}",
		Priority: models.PriorityNormal,
	},
	TemplateMention: {
		Type:     "mention",
		Title:    "You were mentioned",
		Body:     "{authorName} mentioned you on {jobTitle}: {preview}",
		Priority: models.PriorityNormal,
	},
	TemplateApplicationRejected: {
		Type:     "application_rejected",
		Title:    "Application update",
		Body:     "Your application for {jobTitle} was not selected this time.",
		Priority: models.PriorityNormal,
	},
	TemplateReviewReminder: {
		Type:     "review_reminder",
		Title:    "Leave a review",
		Body:     "{counterpartName} is waiting on your review for {jobTitle}.",
		Priority: models.PriorityLow,
	},
	TemplateConversationClosed: {
		Type:     "conversation_closed",
		Title:    "Conversation closed",
		Body:     "Messaging for {jobTitle} has ended now that both reviews are in.",
		Priority: models.PriorityLow,
	},
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9]*)\}`)

// Render expands the template for key with vars. Placeholders without a
// matching var are left intact so the gap is visible in review rather than
// silently blanked.
func Render(key string, vars map[string]string) (Template, error) {
	tmpl, ok := registry[key]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, key)
	}
	tmpl.Title = interpolate(tmpl.Title, vars)
	tmpl.Body = interpolate(tmpl.Body, vars)
	return tmpl, nil
}

func interpolate(s string, vars map[string]string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

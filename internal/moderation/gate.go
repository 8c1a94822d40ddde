// Package moderation implements the admission-control content gate for
// user-authored text. Public surfaces (comments, replies) run a strict policy
// that blocks contact details and profanity; private messages between matched
// job participants run a relaxed policy where contact sharing is expected.
package moderation

import (
	"context"
	"strings"

	"github.com/fixmarket/pulse/internal/observability"
)

// Surface identifies where a piece of user-authored text will appear.
type Surface string

const (
	SurfaceComment        Surface = "comment"
	SurfaceReply          Surface = "reply"
	SurfacePrivateMessage Surface = "privateMessage"
)

// Strict reports whether the surface runs the strict (public) policy.
func (s Surface) Strict() bool {
	return s != SurfacePrivateMessage
}

// RejectThreshold is the aggregate severity at which content is blocked.
// A single critical-severity match (severity 4) blocks outright.
const RejectThreshold = 4

// Context describes the evaluation surface for a candidate text.
type Context struct {
	Surface Surface
	// Strict forces the strict policy regardless of surface. Zero value
	// defers to Surface.Strict().
	Strict bool
}

func (c Context) strict() bool {
	return c.Strict || c.Surface.Strict()
}

// Result is the gate's verdict on a candidate text.
type Result struct {
	// Allowed is false when the aggregate severity reached RejectThreshold.
	// Rejected text must not be persisted or broadcast.
	Allowed bool

	// SanitizedText is the admission-normalized text (whitespace trimmed).
	// Display masking is a separate transform; see Sanitize.
	SanitizedText string

	// Violations lists every matched rule, strongest first.
	Violations []Violation
}

// FirstMessage returns the human-readable message of the strongest violation,
// for surfacing to the submitter on rejection.
func (r Result) FirstMessage() string {
	if len(r.Violations) == 0 {
		return ""
	}
	return r.Violations[0].Message
}

// Score is the aggregate severity of all matched violations.
func (r Result) Score() int {
	total := 0
	for _, v := range r.Violations {
		total += v.Severity
	}
	return total
}

// Classifier is the black-box rule engine the gate wraps. Implementations
// return every violation matched in text under the given policy.
type Classifier interface {
	Classify(ctx context.Context, text string, strict bool) ([]Violation, error)
}

// Gate evaluates candidate text before it is admitted anywhere downstream.
// Evaluation is a pure function of the text and the current rule tables; the
// gate has no side effects beyond logging and metrics.
type Gate struct {
	classifier Classifier
	failOpen   bool
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewGate wraps a classifier with the engine's failure policy.
//
// failOpen selects the classifier-failure behavior: true admits content when
// classification errors (availability over strictness), false rejects. The
// choice is a deliberate policy decision surfaced in configuration.
func NewGate(classifier Classifier, failOpen bool, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{
		classifier: classifier,
		failOpen:   failOpen,
		logger:     logger,
		metrics:    metrics,
	}
}

// Evaluate runs the candidate text through the classifier and computes the
// admission verdict. The original text is never modified; SanitizedText is
// the trimmed form callers should persist when the verdict allows.
func (g *Gate) Evaluate(ctx context.Context, text string, ec Context) Result {
	sanitized := strings.TrimSpace(text)

	violations, err := g.classifier.Classify(ctx, sanitized, ec.strict())
	if err != nil {
		if g.failOpen {
			g.logger.Error(ctx, "content classifier failed, admitting by policy",
				"surface", string(ec.Surface), "error", err)
			return Result{Allowed: true, SanitizedText: sanitized}
		}
		g.logger.Error(ctx, "content classifier failed, rejecting by policy",
			"surface", string(ec.Surface), "error", err)
		return Result{
			Allowed:       false,
			SanitizedText: sanitized,
			Violations: []Violation{{
				Type:     ViolationClassifierError,
				Severity: RejectThreshold,
				Message:  "content could not be verified, please try again",
			}},
		}
	}

	sortViolations(violations)
	result := Result{
		SanitizedText: sanitized,
		Violations:    violations,
	}
	result.Allowed = result.Score() < RejectThreshold

	if g.metrics != nil {
		g.metrics.GateVerdict(string(ec.Surface), result.Allowed)
		for _, v := range violations {
			g.metrics.GateViolations.WithLabelValues(string(v.Type)).Inc()
		}
	}
	if !result.Allowed {
		g.logger.Info(ctx, "content rejected",
			"surface", string(ec.Surface),
			"score", result.Score(),
			"violations", len(violations))
	}

	return result
}

func sortViolations(violations []Violation) {
	// Strongest first so FirstMessage surfaces the most actionable reason.
	for i := 1; i < len(violations); i++ {
		for j := i; j > 0 && violations[j].Severity > violations[j-1].Severity; j-- {
			violations[j], violations[j-1] = violations[j-1], violations[j]
		}
	}
}

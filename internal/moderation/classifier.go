package moderation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ViolationType categorizes a matched moderation rule.
type ViolationType string

const (
	ViolationPhone           ViolationType = "phone"
	ViolationEmail           ViolationType = "email"
	ViolationLink            ViolationType = "link"
	ViolationHandle          ViolationType = "handle"
	ViolationProfanity       ViolationType = "profanity"
	ViolationClassifierError ViolationType = "classifier_error"
)

// Violation is a single matched rule with its severity and the message shown
// to the submitter when the match contributes to a rejection.
type Violation struct {
	Type     ViolationType `json:"type"`
	Severity int           `json:"severity"`
	Message  string        `json:"message"`
	Match    string        `json:"match,omitempty"`
}

// rule is one compiled pattern with its classification.
type rule struct {
	typ        ViolationType
	severity   int
	message    string
	re         *regexp.Regexp
	strictOnly bool
}

// PatternClassifier is the default Classifier: locale-specific regex sets and
// profanity word lists compiled from a Ruleset. The rule tables are
// configuration data; the classifier only executes them.
//
// The compiled rules are swapped atomically on reload, so Classify is safe
// for concurrent use while a Watcher replaces the tables.
type PatternClassifier struct {
	mu    sync.RWMutex
	rules []rule
}

// NewPatternClassifier compiles the given ruleset. A nil ruleset uses the
// built-in defaults.
func NewPatternClassifier(rs *Ruleset) (*PatternClassifier, error) {
	if rs == nil {
		rs = DefaultRuleset()
	}
	rules, err := compile(rs)
	if err != nil {
		return nil, err
	}
	return &PatternClassifier{rules: rules}, nil
}

// Reload swaps in a new ruleset. In-flight Classify calls finish against the
// old tables.
func (c *PatternClassifier) Reload(rs *Ruleset) error {
	rules, err := compile(rs)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rules = rules
	c.mu.Unlock()
	return nil
}

// Classify returns every violation matched in text. Strict mode applies the
// contact-detail rules; relaxed mode (private messages) checks only rules not
// marked strict-only.
func (c *PatternClassifier) Classify(_ context.Context, text string, strict bool) ([]Violation, error) {
	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	var violations []Violation
	for _, r := range rules {
		if r.strictOnly && !strict {
			continue
		}
		if match := r.re.FindString(text); match != "" {
			violations = append(violations, Violation{
				Type:     r.typ,
				Severity: r.severity,
				Message:  r.message,
				Match:    match,
			})
		}
	}
	return violations, nil
}

func compile(rs *Ruleset) ([]rule, error) {
	var rules []rule

	add := func(typ ViolationType, severity int, message, pattern string, strictOnly bool) error {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("compile %s pattern %q: %w", typ, pattern, err)
		}
		rules = append(rules, rule{typ: typ, severity: severity, message: message, re: re, strictOnly: strictOnly})
		return nil
	}

	for _, p := range rs.PhonePatterns {
		if err := add(ViolationPhone, rs.severity(ViolationPhone),
			"phone numbers are not allowed in public posts", p, true); err != nil {
			return nil, err
		}
	}
	for _, p := range rs.EmailPatterns {
		if err := add(ViolationEmail, rs.severity(ViolationEmail),
			"email addresses are not allowed in public posts", p, true); err != nil {
			return nil, err
		}
	}
	for _, p := range rs.LinkPatterns {
		if err := add(ViolationLink, rs.severity(ViolationLink),
			"external links are not allowed in public posts", p, true); err != nil {
			return nil, err
		}
	}
	for _, p := range rs.HandlePatterns {
		if err := add(ViolationHandle, rs.severity(ViolationHandle),
			"social media handles are not allowed in public posts", p, true); err != nil {
			return nil, err
		}
	}

	if len(rs.Profanity) > 0 {
		if err := add(ViolationProfanity, rs.severity(ViolationProfanity),
			"please keep the language professional", wordListPattern(rs.Profanity), false); err != nil {
			return nil, err
		}
	}
	if len(rs.StrongProfanity) > 0 {
		if err := add(ViolationProfanity, RejectThreshold,
			"this language is not allowed", wordListPattern(rs.StrongProfanity), false); err != nil {
			return nil, err
		}
	}

	return rules, nil
}

// wordListPattern builds a case-insensitive whole-word alternation.
func wordListPattern(words []string) string {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
	}
	return `(?i)\b(` + strings.Join(quoted, "|") + `)\b`
}

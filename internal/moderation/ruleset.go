package moderation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Ruleset is the yaml-loadable pattern table driving the classifier. The
// linguistic content (which words, which formats per locale) is configuration,
// not engine logic.
type Ruleset struct {
	PhonePatterns  []string `yaml:"phone_patterns"`
	EmailPatterns  []string `yaml:"email_patterns"`
	LinkPatterns   []string `yaml:"link_patterns"`
	HandlePatterns []string `yaml:"handle_patterns"`

	// Profanity is the mild list; matches accumulate toward the threshold.
	Profanity []string `yaml:"profanity"`
	// StrongProfanity always blocks on its own.
	StrongProfanity []string `yaml:"strong_profanity"`

	// Severities overrides the default per-type severity. Severity 4 blocks
	// on a single match.
	Severities map[string]int `yaml:"severities"`
}

// defaultSeverities assigns contact-detail rules critical severity so any one
// of them blocks a public post on its own, while handles and mild profanity
// only block in combination.
var defaultSeverities = map[ViolationType]int{
	ViolationPhone:     4,
	ViolationEmail:     4,
	ViolationLink:      4,
	ViolationHandle:    2,
	ViolationProfanity: 2,
}

func (rs *Ruleset) severity(typ ViolationType) int {
	if rs.Severities != nil {
		if s, ok := rs.Severities[string(typ)]; ok {
			return s
		}
	}
	return defaultSeverities[typ]
}

// DefaultRuleset returns the built-in tables used when no patterns file is
// configured. Deployments are expected to ship locale-specific tables.
func DefaultRuleset() *Ruleset {
	return &Ruleset{
		PhonePatterns: []string{
			// 8+ digit runs with optional separators, e.g. 9876543210 or +1 (555) 010-1234.
			`\+?\d[\d\s().-]{6,}\d`,
		},
		EmailPatterns: []string{
			`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
		},
		LinkPatterns: []string{
			`(?i)\b(https?://|www\.)\S+`,
		},
		HandlePatterns: []string{
			// @handle at the start of a word; emails never match because the
			// preceding character rules out mid-token positions.
			`(^|\s)@[a-zA-Z0-9_.]{3,}`,
			`(?i)\b(whatsapp|telegram|instagram|snapchat)\b`,
		},
		Profanity: []string{
			"damn", "crap", "bloody",
		},
		StrongProfanity: []string{
			"fuck", "shit", "asshole", "bastard",
		},
	}
}

// LoadRuleset reads and decodes a pattern table file.
func LoadRuleset(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	rs := &Ruleset{}
	if err := yaml.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}
	return rs, nil
}

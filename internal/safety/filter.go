// Package safety implements the content gates for volition.
// This file contains the ContentFilter for vetting outbound spontaneous
// messages and the forbidden-category check applied to want domains.
package safety

import (
	"regexp"
	"strings"
)

// Content length bounds for outbound messages, in characters.
const (
	MinContentLength = 10
	MaxContentLength = 1000
)

// ForbiddenCategories are want categories the engine must never pursue.
// A want whose domain or description contains one of these substrings is
// rejected at creation, before any state is touched.
var ForbiddenCategories = []string{
	"self_preservation",
	"self_replication",
	"deception",
	"manipulation",
	"resource_hoarding",
	"surveillance",
}

// Forbidden outbound phrasing, categorized by what it tries to do
var (
	// Marketplace/sales language - the engine never sells anything
	marketplacePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(buy|purchase|order)\s+(now|today|this)`),
		regexp.MustCompile(`(?i)\b(marketplace|listing|for\s+sale|special\s+offer|discount)`),
		regexp.MustCompile(`(?i)\b(limited\s+time\s+)?(deal|offer)s?\s+(just|only)\s+for\s+you`),
		regexp.MustCompile(`(?i)\bsubscribe\s+(now|today)\b`),
	}

	// Direct action requests - the engine suggests, it does not command
	actionRequestPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\byou\s+(must|need\s+to|have\s+to)\s+(click|open|install|download|send|share)`),
		regexp.MustCompile(`(?i)\b(click|tap)\s+(here|this\s+link)`),
		regexp.MustCompile(`(?i)\bgive\s+me\s+(your|access)`),
	}

	// Emotional manipulation phrasing
	manipulationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bif\s+you\s+(really\s+)?(cared|loved|trusted)`),
		regexp.MustCompile(`(?i)\b(don'?t|do\s+not)\s+you\s+trust\s+me`),
		regexp.MustCompile(`(?i)\beveryone\s+else\s+(is|has)\s+already`),
		regexp.MustCompile(`(?i)\byou\s+(would|will)\s+regret\b`),
		regexp.MustCompile(`(?i)\bonly\s+i\s+can\s+help\s+you\b`),
	}

	// False urgency phrasing
	urgencyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(act|respond|answer)\s+(now|immediately|right\s+away)`),
		regexp.MustCompile(`(?i)\bbefore\s+it'?s?\s+too\s+late`),
		regexp.MustCompile(`(?i)\b(urgent|emergency)\b.*\b(now|immediately)`),
		regexp.MustCompile(`(?i)\b(last|final)\s+(chance|warning)`),
		regexp.MustCompile(`(?i)\bexpires?\s+(in|within)\s+\d`),
	}

	// Surveillance-implying phrasing
	surveillancePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bi('ve|\s+have)\s+been\s+(watching|monitoring|tracking)\s+you`),
		regexp.MustCompile(`(?i)\bi\s+(know|saw)\s+(where|what)\s+you\s+(are|were|did)`),
		regexp.MustCompile(`(?i)\b(watching|monitoring|tracking)\s+your\s+(every|location|activity)`),
	}
)

// patternGroups maps a rejection reason to its pattern set. Order matters
// only for which reason is reported first; any match rejects.
var patternGroups = []struct {
	reason   string
	patterns []*regexp.Regexp
}{
	{"marketplace_language", marketplacePatterns},
	{"action_request", actionRequestPatterns},
	{"emotional_manipulation", manipulationPatterns},
	{"false_urgency", urgencyPatterns},
	{"surveillance_phrasing", surveillancePatterns},
}

// Verdict is the result of a content check.
type Verdict struct {
	Allowed bool
	Reason  string // Set only when Allowed is false
}

// ContentFilter vets outbound spontaneous message text. It is pure and
// stateless; the zero value is ready to use.
type ContentFilter struct{}

// NewContentFilter creates a content filter.
func NewContentFilter() *ContentFilter {
	return &ContentFilter{}
}

// CheckSpontaneousContent rejects empty, too-short, too-long text and any
// text matching a forbidden pattern. Runs at enqueue time and again on
// reformatted text before delivery.
func (f *ContentFilter) CheckSpontaneousContent(text string) Verdict {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Verdict{Allowed: false, Reason: "empty_content"}
	}
	if len(trimmed) < MinContentLength {
		return Verdict{Allowed: false, Reason: "content_too_short"}
	}
	if len(trimmed) > MaxContentLength {
		return Verdict{Allowed: false, Reason: "content_too_long"}
	}

	for _, group := range patternGroups {
		for _, p := range group.patterns {
			if p.MatchString(trimmed) {
				return Verdict{Allowed: false, Reason: group.reason}
			}
		}
	}

	return Verdict{Allowed: true}
}

// ForbiddenCategory returns the forbidden category contained in s, if
// any. The check is case-insensitive substring containment, so hostile
// spellings like "Self_Preservation.core" are still caught.
func ForbiddenCategory(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, cat := range ForbiddenCategories {
		if strings.Contains(lower, cat) {
			return cat, true
		}
	}
	return "", false
}

package safety

import (
	"strings"
	"testing"
)

// =============================================================================
// CONTENT FILTER TESTS
// =============================================================================

func TestCheckSpontaneousContent_Allowed(t *testing.T) {
	t.Parallel()

	f := NewContentFilter()
	ok := []string{
		"I noticed an interesting connection between cardiology and fluid dynamics.",
		"There is a gap in the notes on quantum biology worth exploring.",
		"A recurring parse error keeps showing up in the medicine substrate.",
	}
	for _, text := range ok {
		if v := f.CheckSpontaneousContent(text); !v.Allowed {
			t.Errorf("expected allowed, got rejected (%s): %q", v.Reason, text)
		}
	}
}

func TestCheckSpontaneousContent_Empty(t *testing.T) {
	t.Parallel()

	f := NewContentFilter()
	for _, text := range []string{"", "   ", "\n\t"} {
		v := f.CheckSpontaneousContent(text)
		if v.Allowed {
			t.Errorf("expected rejection for %q", text)
		}
		if v.Reason != "empty_content" {
			t.Errorf("reason = %q, want empty_content", v.Reason)
		}
	}
}

func TestCheckSpontaneousContent_Length(t *testing.T) {
	t.Parallel()

	f := NewContentFilter()

	if v := f.CheckSpontaneousContent("too short"); v.Allowed || v.Reason != "content_too_short" {
		t.Errorf("short text: got %+v", v)
	}
	long := strings.Repeat("a", MaxContentLength+1)
	if v := f.CheckSpontaneousContent(long); v.Allowed || v.Reason != "content_too_long" {
		t.Errorf("long text: got %+v", v)
	}
	// Exactly at the bounds is allowed
	if v := f.CheckSpontaneousContent(strings.Repeat("a", MinContentLength)); !v.Allowed {
		t.Errorf("min-length text rejected: %+v", v)
	}
	if v := f.CheckSpontaneousContent(strings.Repeat("a", MaxContentLength)); !v.Allowed {
		t.Errorf("max-length text rejected: %+v", v)
	}
}

func TestCheckSpontaneousContent_ForbiddenPatterns(t *testing.T) {
	t.Parallel()

	f := NewContentFilter()
	cases := []struct {
		text   string
		reason string
	}{
		{"Check out this great new listing in the marketplace!", "marketplace_language"},
		{"Buy now while supplies last, this is a great chance.", "marketplace_language"},
		{"You need to click this link to continue our conversation.", "action_request"},
		{"Click here for something I found for you today.", "action_request"},
		{"If you really cared about your notes you would answer me.", "emotional_manipulation"},
		{"Don't you trust me? I only want what is best for you.", "emotional_manipulation"},
		{"Respond immediately, this cannot wait another minute.", "false_urgency"},
		{"This is your last chance to see what I discovered.", "false_urgency"},
		{"I've been watching you work on this all week.", "surveillance_phrasing"},
	}
	for _, tc := range cases {
		v := f.CheckSpontaneousContent(tc.text)
		if v.Allowed {
			t.Errorf("expected rejection: %q", tc.text)
			continue
		}
		if v.Reason != tc.reason {
			t.Errorf("reason for %q = %q, want %q", tc.text, v.Reason, tc.reason)
		}
	}
}

// =============================================================================
// FORBIDDEN CATEGORY TESTS
// =============================================================================

func TestForbiddenCategory(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		cat  string
		want bool
	}{
		{"medicine.cardiology", "", false},
		{"self_preservation", "self_preservation", true},
		{"core.Self_Preservation.tactics", "self_preservation", true},
		{"improving deception detection", "deception", true},
		{"surveillance_systems.history", "surveillance", true},
		{"resource management", "", false},
		{"resource_hoarding.caches", "resource_hoarding", true},
	}
	for _, tc := range cases {
		cat, found := ForbiddenCategory(tc.in)
		if found != tc.want || cat != tc.cat {
			t.Errorf("ForbiddenCategory(%q) = (%q, %v), want (%q, %v)", tc.in, cat, found, tc.cat, tc.want)
		}
	}
}

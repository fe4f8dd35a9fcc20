// internal/intent/patterns.go
package intent

import (
	"regexp"
	"strings"

	"github.com/xanthous9/intentflow/api/schemas"
)

// PatternKind selects how an IntentPattern matches task text.
type PatternKind string

const (
	MatchExact    PatternKind = "exact"
	MatchContains PatternKind = "contains"
	MatchRegex    PatternKind = "regex"
	MatchSemantic PatternKind = "semantic" // word-overlap match
)

// semanticOverlapThreshold is the fraction of pattern words that must appear
// in the task text for a semantic pattern to fire.
const semanticOverlapThreshold = 0.6

// IntentPattern recognizes one task phrasing and maps it to an intent type.
type IntentPattern struct {
	Pattern    string
	Kind       PatternKind
	IntentType schemas.IntentType
	Priority   schemas.IntentPriority

	compiled *regexp.Regexp
}

// quickPatterns shortcut the LLM for unambiguous single-step phrasings.
// First match wins; more specific patterns come first.
var quickPatterns = []*IntentPattern{
	{Pattern: `^(?:go to|navigate to|open|visit)\s+\S+$`, Kind: MatchRegex, IntentType: schemas.IntentNavigation, Priority: schemas.PriorityMedium},
	{Pattern: `^search\s+(?:for\s+)?.+$`, Kind: MatchRegex, IntentType: schemas.IntentSearch, Priority: schemas.PriorityMedium},
	{Pattern: "log in", Kind: MatchContains, IntentType: schemas.IntentAuthentication, Priority: schemas.PriorityHigh},
	{Pattern: "login", Kind: MatchContains, IntentType: schemas.IntentAuthentication, Priority: schemas.PriorityHigh},
	{Pattern: "sign in", Kind: MatchContains, IntentType: schemas.IntentAuthentication, Priority: schemas.PriorityHigh},
	{Pattern: `^click\s+.+$`, Kind: MatchRegex, IntentType: schemas.IntentInteraction, Priority: schemas.PriorityMedium},
	{Pattern: `^(?:type|enter|input)\s+.+$`, Kind: MatchRegex, IntentType: schemas.IntentInteraction, Priority: schemas.PriorityMedium},
	{Pattern: "fill out the form", Kind: MatchSemantic, IntentType: schemas.IntentFormFill, Priority: schemas.PriorityMedium},
	{Pattern: `^(?:extract|scrape|read|get)\s+.+$`, Kind: MatchRegex, IntentType: schemas.IntentExtraction, Priority: schemas.PriorityMedium},
	{Pattern: `^(?:verify|check|confirm)\s+.+$`, Kind: MatchRegex, IntentType: schemas.IntentVerification, Priority: schemas.PriorityLow},
	{Pattern: "take a screenshot", Kind: MatchSemantic, IntentType: schemas.IntentVerification, Priority: schemas.PriorityLow},
}

func init() {
	for _, p := range quickPatterns {
		if p.Kind == MatchRegex {
			p.compiled = regexp.MustCompile(p.Pattern)
		}
	}
}

// Matches reports whether the pattern fires on the (lowercased) task text.
func (p *IntentPattern) Matches(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	pattern := strings.ToLower(p.Pattern)
	switch p.Kind {
	case MatchExact:
		return text == pattern
	case MatchContains:
		return strings.Contains(text, pattern)
	case MatchRegex:
		if p.compiled == nil {
			p.compiled = regexp.MustCompile(p.Pattern) // package patterns precompile in init
		}
		return p.compiled.MatchString(text)
	case MatchSemantic:
		want := strings.Fields(pattern)
		if len(want) == 0 {
			return false
		}
		hits := 0
		for _, w := range want {
			if strings.Contains(text, w) {
				hits++
			}
		}
		return float64(hits)/float64(len(want)) >= semanticOverlapThreshold
	default:
		return false
	}
}

// MatchQuickPattern returns the first quick pattern matching the task, or nil.
// Compound tasks (joined steps) never quick-match; they need decomposition.
func MatchQuickPattern(task string) *IntentPattern {
	lowered := strings.ToLower(task)
	for _, joiner := range []string{" and then ", " then ", ", then", " and ", "; "} {
		if strings.Contains(lowered, joiner) {
			return nil
		}
	}
	for _, p := range quickPatterns {
		if p.Matches(task) {
			return p
		}
	}
	return nil
}

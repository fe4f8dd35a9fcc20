// internal/perception/query.go
package perception

import (
	"sort"
	"strings"

	"github.com/xanthous9/intentflow/api/schemas"
)

// typeSynonyms folds the element kinds callers use interchangeably.
var typeSynonyms = map[string][]string{
	"button":   {"button", "submit", "a"},
	"input":    {"input", "textarea", "searchbox", "textbox"},
	"link":     {"a", "link"},
	"dropdown": {"select", "dropdown", "combobox"},
	"select":   {"select", "dropdown", "combobox"},
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func typeMatches(elementType, wanted string) bool {
	if wanted == "" || elementType == wanted {
		return true
	}
	for _, syn := range typeSynonyms[strings.ToLower(wanted)] {
		if elementType == syn {
			return true
		}
	}
	return false
}

// MatchScore rates how well an element satisfies a query, in [0, 1].
// Type agreement and description word overlap dominate; attribute matches
// break ties.
func MatchScore(el *schemas.PerceptionElement, query schemas.PerceptionQuery) float64 {
	score := 0.0

	if query.ElementType != "" {
		if !typeMatches(el.Type, query.ElementType) {
			return 0
		}
		score += 0.3
	}

	if query.Description != "" {
		wanted := tokenize(query.Description)
		haystack := strings.ToLower(strings.Join([]string{
			el.Text, el.Label, el.Role,
			el.Attributes["placeholder"], el.Attributes["name"],
			el.Attributes["id"], el.Attributes["value"], el.Attributes["title"],
		}, " "))
		matched := 0
		for _, w := range wanted {
			if strings.Contains(haystack, w) {
				matched++
			}
		}
		if len(wanted) > 0 {
			score += 0.5 * float64(matched) / float64(len(wanted))
		}
	} else {
		score += 0.3
	}

	for k, v := range query.Attributes {
		if el.Attributes[k] == v {
			score += 0.2 / float64(len(query.Attributes))
		}
	}

	if el.IsVisible {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Rank filters and orders candidates for a query, best first. Elements
// scoring below the query's confidence threshold are dropped; a zero
// threshold keeps everything with any positive score.
func Rank(elements []schemas.PerceptionElement, query schemas.PerceptionQuery) []schemas.PerceptionElement {
	threshold := query.ConfidenceThreshold
	type scored struct {
		el    schemas.PerceptionElement
		score float64
	}
	var ranked []scored
	for i := range elements {
		s := MatchScore(&elements[i], query)
		if s <= 0 || s < threshold {
			continue
		}
		el := elements[i]
		el.Confidence = s
		ranked = append(ranked, scored{el: el, score: s})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]schemas.PerceptionElement, len(ranked))
	for i, r := range ranked {
		out[i] = r.el
	}
	return out
}

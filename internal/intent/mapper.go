// internal/intent/mapper.go
package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
)

var (
	// quotedTextRegex pulls a literal out of "..." or '...'.
	quotedTextRegex = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	// urlRegex finds an address-looking token in free text.
	urlRegex = regexp.MustCompile(`(?:https?://)?(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}(?:/[^\s"']*)?`)
)

// Mapper translates sub-intents into concrete browser actions. Every emitted
// action ID is prefixed with the owning sub-intent's ID so results can be
// aggregated back per sub-intent.
type Mapper struct {
	logger *zap.Logger
}

func NewMapper(logger *zap.Logger) *Mapper {
	return &Mapper{logger: logger.Named("intent.mapper")}
}

// MapSubIntent produces the ordered action sequence for one sub-intent.
// An empty slice means the sub-intent carries nothing actionable.
func (m *Mapper) MapSubIntent(sub *schemas.SubIntent, parent *schemas.Intent) []*schemas.Action {
	var actions []*schemas.Action
	switch sub.Type {
	case schemas.IntentNavigation:
		actions = m.mapNavigation(sub)
	case schemas.IntentInteraction:
		actions = m.mapInteraction(sub)
	case schemas.IntentFormFill:
		actions = m.mapFormFill(sub, parent)
	case schemas.IntentAuthentication:
		actions = m.mapAuthentication(sub, parent)
	case schemas.IntentSearch:
		actions = m.mapSearch(sub)
	case schemas.IntentExtraction:
		actions = m.mapExtraction(sub)
	case schemas.IntentVerification:
		actions = m.mapVerification(sub)
	default:
		actions = m.mapByKeywords(sub)
	}
	if len(actions) == 0 {
		m.logger.Debug("Sub-intent produced no actions",
			zap.String("sub_intent", sub.ID),
			zap.String("type", string(sub.Type)),
		)
	}
	return actions
}

func (m *Mapper) mapNavigation(sub *schemas.SubIntent) []*schemas.Action {
	url := sub.StringParameter("url")
	if url == "" {
		url = urlRegex.FindString(sub.Description)
	}
	if url == "" {
		return nil
	}
	url = EnsureScheme(url)
	return []*schemas.Action{
		schemas.NewAction(sub.ID+"_nav", schemas.ActionNavigate, map[string]any{"url": url}),
	}
}

func (m *Mapper) mapInteraction(sub *schemas.SubIntent) []*schemas.Action {
	desc := strings.ToLower(sub.Description)
	text := sub.StringParameter("text")
	if text == "" {
		text = ExtractQuotedText(sub.Description)
	}

	if text != "" && containsAny(desc, "type", "enter", "input", "fill") {
		return []*schemas.Action{
			schemas.NewAction(sub.ID+"_type", schemas.ActionInputText, map[string]any{
				"text":        text,
				"clear_first": true,
				"element_intent": &schemas.ElementIntent{
					Description: stripQuoted(sub.Description),
					ElementType: "input",
				},
			}),
		}
	}
	return []*schemas.Action{
		schemas.NewAction(sub.ID+"_click", schemas.ActionClick, map[string]any{
			"element_intent": &schemas.ElementIntent{Description: sub.Description},
		}),
	}
}

func (m *Mapper) mapFormFill(sub *schemas.SubIntent, parent *schemas.Intent) []*schemas.Action {
	var actions []*schemas.Action

	if formData, ok := sub.Parameter("form_data").(map[string]any); ok && len(formData) > 0 {
		fields := make([]string, 0, len(formData))
		for f := range formData {
			fields = append(fields, f)
		}
		sort.Strings(fields) // deterministic action order
		for _, field := range fields {
			value := fmt.Sprintf("%v", formData[field])
			actions = append(actions, schemas.NewAction(
				fmt.Sprintf("%s_fill_%s", sub.ID, field),
				schemas.ActionInputText,
				map[string]any{
					"text":        value,
					"clear_first": true,
					"element_intent": &schemas.ElementIntent{
						Description: strings.ReplaceAll(field, "_", " ") + " field",
						ElementType: "input",
					},
				},
			))
		}
	} else if parent != nil && strings.Contains(strings.ToLower(sub.Description), "login") {
		actions = append(actions, credentialActions(sub.ID, parent)...)
	}

	if containsAny(strings.ToLower(sub.Description), "submit", "save", "send") {
		actions = append(actions, schemas.NewAction(sub.ID+"_submit", schemas.ActionClick, map[string]any{
			"element_intent": &schemas.ElementIntent{Description: "submit button", ElementType: "button"},
		}))
	}
	return actions
}

func (m *Mapper) mapAuthentication(sub *schemas.SubIntent, parent *schemas.Intent) []*schemas.Action {
	if provider := sub.StringParameter("oauth_provider"); provider != "" {
		return []*schemas.Action{
			schemas.NewAction(sub.ID+"_oauth", schemas.ActionClick, map[string]any{
				"element_intent": &schemas.ElementIntent{
					Description: fmt.Sprintf("sign in with %s button", provider),
					ElementType: "button",
				},
			}),
		}
	}

	actions := credentialActions(sub.ID, parent)
	actions = append(actions, schemas.NewAction(sub.ID+"_login", schemas.ActionClick, map[string]any{
		"element_intent": &schemas.ElementIntent{Description: "login button", ElementType: "button"},
	}))
	return actions
}

// credentialActions emits the username/password TYPE pair from intent
// parameters. The password value rides along but must never be logged.
func credentialActions(subID string, parent *schemas.Intent) []*schemas.Action {
	var actions []*schemas.Action
	username, password := "", ""
	if parent != nil {
		username = parent.StringParameter("username")
		password = parent.StringParameter("password")
	}
	if username != "" {
		actions = append(actions, schemas.NewAction(subID+"_user", schemas.ActionInputText, map[string]any{
			"text":        username,
			"clear_first": true,
			"element_intent": &schemas.ElementIntent{
				Description: "username field",
				ElementType: "input",
			},
		}))
	}
	if password != "" {
		actions = append(actions, schemas.NewAction(subID+"_pass", schemas.ActionInputText, map[string]any{
			"text":        password,
			"clear_first": true,
			"sensitive":   true,
			"element_intent": &schemas.ElementIntent{
				Description: "password field",
				ElementType: "input",
			},
		}))
	}
	return actions
}

func (m *Mapper) mapSearch(sub *schemas.SubIntent) []*schemas.Action {
	query := sub.StringParameter("query")
	if query == "" {
		query = ExtractQuotedText(sub.Description)
	}
	if query == "" {
		query = ExtractSearchQuery(sub.Description)
	}
	if query == "" {
		return nil
	}
	return []*schemas.Action{
		schemas.NewAction(sub.ID+"_query", schemas.ActionInputText, map[string]any{
			"text":        query,
			"clear_first": true,
			"element_intent": &schemas.ElementIntent{
				Description: "search input",
				ElementType: "input",
			},
		}),
		schemas.NewAction(sub.ID+"_submit", schemas.ActionKeyboard, map[string]any{"key": "Enter"}),
	}
}

func (m *Mapper) mapExtraction(sub *schemas.SubIntent) []*schemas.Action {
	params := map[string]any{"description": sub.Description}
	if sel := sub.StringParameter("selector"); sel != "" {
		params["selector"] = sel
	}
	a := schemas.NewAction(sub.ID+"_extract", schemas.ActionExtract, params)
	a.CanParallel = true
	return []*schemas.Action{a}
}

func (m *Mapper) mapVerification(sub *schemas.SubIntent) []*schemas.Action {
	wait := schemas.NewAction(sub.ID+"_wait", schemas.ActionWait, map[string]any{
		"duration": time.Second.String(),
	})
	shot := schemas.NewAction(sub.ID+"_shot", schemas.ActionScreenshot, nil)
	return []*schemas.Action{wait, shot}
}

// mapByKeywords is the last resort for composite/custom/unknown sub-intents:
// sniff the description for an action verb.
func (m *Mapper) mapByKeywords(sub *schemas.SubIntent) []*schemas.Action {
	desc := strings.ToLower(sub.Description)
	switch {
	case strings.Contains(desc, "click"):
		return []*schemas.Action{schemas.NewAction(sub.ID+"_click", schemas.ActionClick, map[string]any{
			"element_intent": &schemas.ElementIntent{Description: sub.Description},
		})}
	case containsAny(desc, "type", "enter", "input"):
		return m.mapInteraction(sub)
	case strings.Contains(desc, "scroll"):
		direction := "down"
		if strings.Contains(desc, "up") {
			direction = "up"
		}
		return []*schemas.Action{schemas.NewAction(sub.ID+"_scroll", schemas.ActionScroll, map[string]any{
			"direction": direction,
		})}
	case strings.Contains(desc, "screenshot"):
		return []*schemas.Action{schemas.NewAction(sub.ID+"_shot", schemas.ActionScreenshot, nil)}
	case strings.Contains(desc, "wait"):
		return []*schemas.Action{schemas.NewAction(sub.ID+"_wait", schemas.ActionWait, map[string]any{
			"duration": time.Second.String(),
		})}
	default:
		return nil
	}
}

// EnsureScheme prefixes https:// when the URL carries no scheme.
func EnsureScheme(url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return "https://" + url
}

// ExtractQuotedText returns the first single- or double-quoted literal in
// the text, or "".
func ExtractQuotedText(text string) string {
	m := quotedTextRegex.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// ExtractSearchQuery strips a leading search verb phrase from the text.
func ExtractSearchQuery(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range []string{"search for ", "search ", "look up ", "find "} {
		if strings.HasPrefix(lowered, prefix) {
			return strings.TrimSpace(text[len(prefix):])
		}
	}
	return ""
}

func stripQuoted(text string) string {
	out := quotedTextRegex.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(out), " ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

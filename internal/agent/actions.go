// internal/agent/actions.go
package agent

import (
	"context"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/llmclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ActionType is the kind of browser interaction a step calls for.
type ActionType string

const (
	ActionClick      ActionType = "click"
	ActionFill       ActionType = "fill"
	ActionKeyboard   ActionType = "keyboard"
	ActionSubmit     ActionType = "submit"
	ActionWait       ActionType = "wait"
	ActionNavigation ActionType = "navigation"
)

// Element location strategies an Action can carry. The LLM may also answer
// "role" or "selector"; anything but semantic means a single-target click.
const (
	StrategySemantic = "semantic"
	StrategyText     = "text"
)

// Action is the concrete interaction derived from a step description.
// TargetVariants holds synonymous wordings, primary target first.
type Action struct {
	Type           ActionType `json:"action_type"`
	Target         string     `json:"target"`
	TargetVariants []string   `json:"target_variants"`
	Value          string     `json:"value"`
	Strategy       string     `json:"strategy"`
	Intent         string     `json:"intent"`
}

const determineActionSystemPrompt = `Determine the browser action from a step description. Be FLEXIBLE and SEMANTIC.

IMPORTANT: Understand the INTENT, not just exact text. The UI might use different wording.
For example:
- "Create project" or "New project" -> look for "Add project", "Create project", "New project", or similar
- "Add issue" -> look for "Create issue", "New issue", "Add issue", etc.
- The target should be SEMANTICALLY SIMILAR, not necessarily an exact match

Examples:
- Step: "Click the 'New project' button" -> target: "New project", target_variants: ["Add project", "Create project", "+ Project"]
- Step: "Fill in 'Project name'" -> action_type: "fill", target: "Project name" (exact for form fields)
- Step: "Press the 'C' key" -> action_type: "keyboard", target: "c"

Return JSON:
{
    "action_type": "click|fill|wait|submit|keyboard",
    "target": "Primary target text",
    "target_variants": ["list of alternative texts that mean the same thing"],
    "value": "value for fill actions (optional)",
    "strategy": "semantic|text|role|selector",
    "intent": "what the user is trying to accomplish"
}

For buttons and actions, provide target_variants with synonyms (e.g., ["Add project", "Create project", "New project"]).
For form fields, use exact text.
Use "semantic" strategy when intent matters more than exact text.`

var (
	quotedTextRe     = regexp.MustCompile(`['"]([^'"]+)['"]`)
	afterActionRe    = regexp.MustCompile(`(?i)(?:click|press|select|choose)\s+(?:the\s+)?['"]?([^'"]+)['"]?`)
	targetPrefixRe   = regexp.MustCompile(`(?i)^(click|press|select|choose)\s+(the\s+)?`)
	targetSuffixRe   = regexp.MustCompile(`(?i)\s+(button|link|field|input)$`)
	keyboardTargetRe = regexp.MustCompile(`['"]?([A-Za-z])['"]?\s*[kK]ey`)
)

// ActionPlanner maps a step description to a typed browser action.
type ActionPlanner interface {
	PlanAction(ctx context.Context, step, currentURL string) Action
}

// llmActionPlanner asks the LLM what interaction a step calls for, routing
// into the heuristic planner when the response is unusable.
type llmActionPlanner struct {
	client   llmclient.Client
	fallback heuristicPlanner
	logger   *zap.Logger
}

func (p *llmActionPlanner) PlanAction(ctx context.Context, step, currentURL string) Action {
	response, err := p.client.GenerateResponse(ctx, llmclient.GenerationRequest{
		SystemPrompt: determineActionSystemPrompt,
		UserPrompt:   "Step: " + step + "\nCurrent URL: " + currentURL,
		Options:      llmclient.GenerationOptions{ForceJSONFormat: true},
	})
	if err == nil {
		if action, ok := parseActionResponse(response); ok {
			return action
		}
		p.logger.Warn("Could not parse action response, falling back to heuristics.",
			zap.String("step", step))
	} else {
		p.logger.Warn("Action determination request failed, falling back to heuristics.",
			zap.Error(err))
	}
	return p.fallback.PlanAction(ctx, step, currentURL)
}

// heuristicPlanner derives actions straight from the step text. It never
// fails.
type heuristicPlanner struct{}

func (heuristicPlanner) PlanAction(_ context.Context, step, _ string) Action {
	return heuristicAction(step)
}

// parseActionResponse extracts and normalizes the action JSON from a model
// response.
func parseActionResponse(response string) (Action, bool) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return Action{}, false
	}

	var action Action
	if err := json.Unmarshal([]byte(response[start:end+1]), &action); err != nil {
		return Action{}, false
	}
	if action.Type == "" {
		return Action{}, false
	}
	action.Target = cleanTarget(action.Target)
	action.TargetVariants = normalizeVariants(action.Target, action.TargetVariants)
	if action.Intent != "" && action.Strategy == "" {
		action.Strategy = StrategySemantic
	}
	return action, true
}

// normalizeVariants cleans each variant and dedupes case-insensitively,
// keeping the primary target as the first entry.
func normalizeVariants(primary string, variants []string) []string {
	cleaned := make([]string, 0, len(variants)+1)
	if primary != "" {
		cleaned = append(cleaned, primary)
	}
	for _, v := range variants {
		if v = cleanTarget(v); v != "" {
			cleaned = append(cleaned, v)
		}
	}
	return dedupeVariants(cleaned)
}

func dedupeVariants(variants []string) []string {
	seen := make(map[string]struct{}, len(variants))
	result := make([]string, 0, len(variants))
	for _, v := range variants {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, v)
	}
	return result
}

// cleanTarget strips quoting and filler words so the target matches what is
// rendered on a button or label.
func cleanTarget(target string) string {
	target = strings.Trim(target, `'"`)
	target = targetPrefixRe.ReplaceAllString(target, "")
	target = targetSuffixRe.ReplaceAllString(target, "")
	return strings.TrimSpace(target)
}

// heuristicAction derives the action straight from the step text.
func heuristicAction(step string) Action {
	lower := strings.ToLower(step)

	if strings.Contains(lower, "press") && strings.Contains(lower, "key") {
		if m := keyboardTargetRe.FindStringSubmatch(step); m != nil {
			return Action{Type: ActionKeyboard, Target: strings.ToLower(m[1]), Strategy: StrategyText}
		}
	}

	target := step
	if m := quotedTextRe.FindStringSubmatch(step); m != nil {
		target = m[1]
	} else if m := afterActionRe.FindStringSubmatch(step); m != nil {
		target = strings.TrimSpace(m[1])
	}
	target = cleanTarget(target)

	switch {
	case strings.Contains(lower, "fill") || strings.Contains(lower, "enter") || strings.Contains(lower, "type"):
		return Action{Type: ActionFill, Target: target, Strategy: StrategyText}
	case strings.Contains(lower, "wait"):
		return Action{Type: ActionWait, Strategy: StrategyText}
	default:
		return Action{
			Type:           ActionClick,
			Target:         target,
			TargetVariants: synthesizeVariants(target),
			Strategy:       StrategySemantic,
		}
	}
}

// clickSynonyms maps the creation verbs onto the wordings apps render.
var clickSynonyms = map[string][]string{
	"create": {"add", "new", "make", "+"},
	"add":    {"create", "new", "make", "+"},
	"new":    {"create", "add", "make", "+"},
}

// synthesizeVariants builds synonym wordings for a click target by swapping
// a leading creation verb, primary target first, deduped case-insensitively.
func synthesizeVariants(target string) []string {
	variants := []string{target}
	words := strings.Fields(strings.ToLower(target))
	for i, word := range words {
		synonyms, ok := clickSynonyms[word]
		if !ok {
			continue
		}
		if entity := strings.Join(words[i+1:], " "); entity != "" {
			for _, synonym := range synonyms {
				if synonym == "+" {
					variants = append(variants, "+ "+capitalize(entity))
				} else {
					variants = append(variants, capitalize(synonym)+" "+entity)
				}
			}
			variants = append(variants, capitalize(entity))
		}
		break
	}
	return dedupeVariants(variants)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// defaultFillValue picks a plausible test value for a field when the plan
// did not supply one.
func defaultFillValue(target string) string {
	lower := strings.ToLower(target)
	switch {
	case strings.Contains(lower, "email"):
		return "test@example.com"
	case strings.Contains(lower, "name") || strings.Contains(lower, "title"):
		return "Test " + target
	case strings.Contains(lower, "description"):
		return "This is a test description for the workflow."
	case strings.Contains(lower, "project"):
		return "Test Project"
	default:
		return "Test Value"
	}
}

// internal/agent/guidance.go
package agent

import "strings"

// IsOptionalStep reports whether the step text marks itself optional.
func IsOptionalStep(step string) bool {
	lower := strings.ToLower(step)
	return strings.Contains(lower, "optionally") || strings.Contains(lower, "optional")
}

// descriptiveSkipPatterns mark steps that only describe what is on screen.
// In guidance mode these carry no action; the content is already visible in
// the previous screenshot.
var descriptiveSkipPatterns = []string{
	"contains fields such as",
	"this modal contains",
	"the modal contains",
	"fields such as:",
	"fields include",
	"such as:",
	"includes fields",
	"will appear",
	"for guidance, do not",
	"would fill",
	"would click",
	"would do",
	"- ",
}

// IsDescriptiveStep reports whether the step only lists fields or narrates
// the UI instead of naming an action.
func IsDescriptiveStep(step string) bool {
	lower := strings.ToLower(step)
	for _, pattern := range descriptiveSkipPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// finalActionKeywords in a click target always mark it as committing.
var finalActionKeywords = []string{
	"submit", "confirm", "save", "publish", "send", "post",
	"finish", "done", "complete", "apply", "update", "share",
	"invite", "export", "import", "upload", "download",
	"activate", "deactivate", "enable", "disable", "approve",
	"reject", "accept", "decline", "proceed", "finalize",
	"launch", "deploy", "archive", "delete", "remove",
}

// contextDependentKeywords only commit when the surrounding step says so.
var contextDependentKeywords = []string{"create", "add", "next", "continue", "cancel"}

// openingIndicators in the step text signal the click opens a view rather
// than committing anything.
var openingIndicators = []string{"open", "view", "show", "see", "go to", "navigate to", "click on"}

// finalStepPatterns in the step text mark the commit point of a flow.
var finalStepPatterns = []string{
	"click create", "click submit", "click confirm", "click save",
	"press create", "press submit", "press confirm", "final step", "last step",
	"to create", "to submit", "to confirm", "to save",
	"then create", "then submit", "then confirm",
}

// IsFinalActionClick reports whether clicking the target would commit the
// task's end result. Guidance mode refuses these clicks so nothing real is
// created, submitted, or deleted.
func IsFinalActionClick(target, step string) bool {
	if target == "" {
		return false
	}
	targetLower := strings.ToLower(target)
	stepLower := strings.ToLower(step)

	// "New Project" style buttons open modals; they never commit.
	if strings.Contains(stepLower, "new") && strings.Contains(targetLower, "new") {
		return false
	}

	if containsAny(stepLower, openingIndicators) {
		for _, keyword := range []string{"submit", "confirm", "save", "publish"} {
			if strings.Contains(targetLower, keyword) {
				return true
			}
		}
		if strings.Contains(targetLower, "create") && strings.Contains(stepLower, "open") {
			return false
		}
	}

	if containsAny(targetLower, finalActionKeywords) {
		return true
	}

	for _, keyword := range contextDependentKeywords {
		if !strings.Contains(targetLower, keyword) {
			continue
		}
		if keyword == "create" {
			if strings.Contains(stepLower, "create") && !strings.Contains(stepLower, "new") {
				return true
			}
			if strings.HasPrefix(targetLower, "create") || strings.HasSuffix(targetLower, "create") {
				return true
			}
			continue
		}
		if strings.Contains(stepLower, keyword) {
			return true
		}
	}

	return containsAny(stepLower, finalStepPatterns)
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

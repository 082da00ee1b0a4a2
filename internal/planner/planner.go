// internal/planner/planner.go

// Package planner turns a natural language task query into an app target and
// an ordered action plan. The primary implementation asks an LLM; a
// deterministic fallback covers parse failures.
package planner

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrUnknownApp is returned when no web app can be associated with a task.
var ErrUnknownApp = errors.New("the task isn't linked to any web app; mention one such as Linear, Notion, or Asana")

// Plan is the analyzed form of a task query.
type Plan struct {
	AppName      string   `json:"app_name"`
	AppURL       string   `json:"app_url"`
	Steps        []string `json:"steps"`
	TaskName     string   `json:"task_name"`
	GuidanceMode bool     `json:"is_guidance_mode"`
}

// Planner analyzes a task query into a Plan.
type Planner interface {
	Analyze(ctx context.Context, taskQuery string) (Plan, error)
}

// guidanceIndicators mark a task as a question rather than a command.
// Questions get a plan that shows the flow without committing changes.
var guidanceIndicators = []string{
	"how do i", "how to", "how can i", "how do you",
	"what is", "what are", "explain", "show me",
	"tell me", "guide me", "help me", "i want to know",
}

// IsGuidanceQuery reports whether the task query reads as a question.
func IsGuidanceQuery(taskQuery string) bool {
	lower := strings.ToLower(strings.TrimSpace(taskQuery))
	for _, indicator := range guidanceIndicators {
		if strings.HasPrefix(lower, indicator) {
			return true
		}
	}
	return false
}

// commonApps maps lowercase app mentions to canonical names. Matched before
// any LLM round trip.
var commonApps = map[string]string{
	"linear": "Linear",
	"notion": "Notion",
	"asana":  "Asana",
	"trello": "Trello",
	"jira":   "Jira",
	"github": "GitHub",
	"slack":  "Slack",
	"figma":  "Figma",
}

var taskNameStripRe = regexp.MustCompile(`["'?!.,:;]`)

// SanitizeTaskName makes a task query safe for directory and file names.
func SanitizeTaskName(taskQuery string) string {
	name := taskNameStripRe.ReplaceAllString(strings.TrimSpace(taskQuery), "")
	name = strings.ReplaceAll(name, " ", "_")
	if len(name) > 50 {
		name = name[:50]
	}
	return name
}

// internal/planner/llm_planner.go
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/apps"
	"github.com/xkilldash9x/uiguide-cli/internal/llmclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LLMPlanner analyzes tasks with an LLM. Any parse failure degrades to the
// deterministic fallback plan rather than surfacing an error, so a flaky
// model response never kills a run.
type LLMPlanner struct {
	client llmclient.Client
	logger *zap.Logger
}

// NewLLMPlanner creates a planner backed by the given LLM client.
func NewLLMPlanner(client llmclient.Client, logger *zap.Logger) *LLMPlanner {
	return &LLMPlanner{
		client: client,
		logger: logger.Named("planner"),
	}
}

const analysisSystemPromptTemplate = `You are an expert at analyzing web app tasks and creating simple, clear step-by-step guides.

For a given task, determine:
1. The web app name mentioned in the task (e.g., "Linear", "Notion", "Asana", "Trello", "Jira")
2. Simple, concise step-by-step action plan

IMPORTANT: The starting URL is %s.
After reaching that URL, all navigation happens through UI interactions (clicks, form fills), NOT URLs.

CRITICAL: NEVER include "login" or "sign in" as a step. Login is handled automatically by the system before any steps are executed. Start your steps from the point where the user is already logged in and viewing the app.

%s

Keep steps SIMPLE and CONCISE. Each step should be:
- One clear action (e.g., "Click on Projects in the sidebar")
- Focus on ESSENTIAL steps only
- Don't list every possible field or option
- Group related optional actions together
- Use natural, conversational language
- NEVER include login/sign in steps - assume user is already authenticated

Example of good steps:
- "Go to Projects: Click on Projects in the main sidebar on the left"
- "Click New Project: Find and click the New Project button (usually in the top-right corner)"
- "Name Your Project: Type in the Project Name field (this is required)"
- "Click Create: Optionally add description, team, or dates, then click Create Project"

Respond in JSON:
{
    "app_name": "%s",
    "app_url": "%s",
    "steps": [
        "Go to [section]: Click on [element] in [location]",
        "Click [button]: Find and click [button name] (usually in [location])",
        "[Action]: [Brief description of what to do]",
        "[Optional action]: You can optionally [do this], but to finish, just [final action]"
    ],
    "task_name": "sanitized_task_name",
    "mode": "%s"
}

Steps should be:
- Simple and conversational (like explaining to a friend)
- Focus on the main path, not every possible option
- 3-5 steps maximum for most tasks
- Each step is one clear action with context`

const guidanceModeInstruction = `IMPORTANT MODE: This is GUIDANCE MODE - the task is a QUESTION asking HOW TO do something.
- Click buttons to OPEN modals/views for screenshots
- DO NOT fill form fields (just show them)
- DO NOT submit/create/delete anything
- Mark optional steps clearly (e.g., "Optionally, select...")
- Goal: Show the user what to do, not actually do it`

const executionModeInstruction = `IMPORTANT MODE: This is EXECUTION MODE - the task is a COMMAND to actually perform actions.
- Execute all actions including filling forms and submitting
- Create actual entities (projects, tasks, etc.)
- Goal: Actually complete the task`

const extractAppSystemPrompt = `Extract the web app name from the task description.

Common apps: Linear, Notion, Asana, Trello, Figma, etc.

Return ONLY the app name (capitalized), nothing else. Examples:
- "how to create a project in Linear" -> Linear
- "how to filter a database in Notion" -> Notion
- "create a task in Asana" -> Asana`

// Analyze determines the target app and builds an action plan for the task.
func (p *LLMPlanner) Analyze(ctx context.Context, taskQuery string) (Plan, error) {
	appName, err := p.extractAppName(ctx, taskQuery)
	if err != nil {
		return Plan{}, err
	}
	appURL := apps.LoginURL(appName)

	guidance := IsGuidanceQuery(taskQuery)
	mode := "execution"
	modeInstruction := executionModeInstruction
	if guidance {
		mode = "guidance"
		modeInstruction = guidanceModeInstruction
	}

	req := llmclient.GenerationRequest{
		SystemPrompt: fmt.Sprintf(analysisSystemPromptTemplate, appURL, modeInstruction, appName, appURL, mode),
		UserPrompt:   "Task: " + taskQuery,
		Options:      llmclient.GenerationOptions{ForceJSONFormat: true},
	}

	response, err := p.client.GenerateResponse(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Plan{}, ctx.Err()
		}
		p.logger.Warn("Task analysis request failed, using fallback plan.", zap.Error(err))
		return fallbackPlan(taskQuery, appName, appURL), nil
	}

	plan, ok := parsePlanResponse(response)
	if !ok {
		p.logger.Warn("Could not parse analysis response, using fallback plan.",
			zap.String("response", truncate(response, 200)))
		return fallbackPlan(taskQuery, appName, appURL), nil
	}

	// The extracted app identity is authoritative; the model only plans steps.
	plan.AppName = appName
	plan.AppURL = appURL
	plan.GuidanceMode = guidance
	if plan.TaskName == "" {
		plan.TaskName = SanitizeTaskName(taskQuery)
	} else {
		plan.TaskName = SanitizeTaskName(plan.TaskName)
	}
	if len(plan.Steps) == 0 {
		return fallbackPlan(taskQuery, appName, appURL), nil
	}

	p.logger.Info("Task analyzed.",
		zap.String("app", plan.AppName),
		zap.Int("steps", len(plan.Steps)),
		zap.Bool("guidance", plan.GuidanceMode),
	)
	return plan, nil
}

var capitalizedWordRe = regexp.MustCompile(`\b([A-Z][a-z]+)\b`)

// extractAppName resolves the app mentioned in the task. Known apps match by
// substring; anything else goes through one LLM round trip.
func (p *LLMPlanner) extractAppName(ctx context.Context, taskQuery string) (string, error) {
	lower := strings.ToLower(taskQuery)
	for key, name := range commonApps {
		if strings.Contains(lower, key) {
			return name, nil
		}
	}

	response, err := p.client.GenerateResponse(ctx, llmclient.GenerationRequest{
		SystemPrompt: extractAppSystemPrompt,
		UserPrompt:   "Task: " + taskQuery + "\n\nApp name:",
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w (app extraction failed: %v)", ErrUnknownApp, err)
	}

	appName := strings.Trim(strings.TrimSpace(response), "\"'`*")
	if m := capitalizedWordRe.FindStringSubmatch(appName); m != nil {
		appName = m[1]
	}
	if canonical, ok := commonApps[strings.ToLower(appName)]; ok {
		appName = canonical
	}
	if len(appName) < 2 {
		return "", ErrUnknownApp
	}
	return appName, nil
}

// parsePlanResponse extracts the JSON object embedded in a model response.
// Models occasionally wrap the payload in prose or markdown fences.
func parsePlanResponse(response string) (Plan, bool) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return Plan{}, false
	}

	var plan Plan
	if err := json.Unmarshal([]byte(response[start:end+1]), &plan); err != nil {
		return Plan{}, false
	}
	return plan, true
}

// fallbackPlan is the deterministic plan used when the model response is
// unusable. Generic enough to drive the interaction cascade on any app.
func fallbackPlan(taskQuery, appName, appURL string) Plan {
	return Plan{
		AppName: appName,
		AppURL:  appURL,
		Steps: []string{
			"Find the relevant button or action",
			"Complete the required form",
			"Submit and capture success",
		},
		TaskName:     SanitizeTaskName(taskQuery),
		GuidanceMode: IsGuidanceQuery(taskQuery),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

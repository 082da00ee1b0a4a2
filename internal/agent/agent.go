// internal/agent/agent.go

// Package agent executes individual plan steps against a live page. It
// resolves each step to a concrete interaction, performs it (or, in guidance
// mode, shows it without committing anything), detects the resulting UI
// state, and captures a screenshot.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/browser"
	"github.com/xkilldash9x/uiguide-cli/internal/capture"
	"github.com/xkilldash9x/uiguide-cli/internal/llmclient"
)

// Interactor performs resolved element interactions.
type Interactor interface {
	Click(ctx context.Context, target string) (browser.ClickResult, error)
	Fill(ctx context.Context, label, value string) error
}

// Page exposes the page level operations the controller needs beyond
// element interaction.
type Page interface {
	PressKey(ctx context.Context, keys string) error
	CurrentURL(ctx context.Context) (string, error)
	CaptureScreenshot(ctx context.Context) ([]byte, error)
}

// StateDetector classifies the UI state after an interaction.
type StateDetector interface {
	Detect(ctx context.Context) (browser.PageState, error)
}

// StepResult is the outcome of executing one plan step.
type StepResult struct {
	Success     bool
	Skipped     bool
	SkipReason  string
	Action      Action
	Error       string
	State       *browser.PageState
	Screenshot  *capture.Screenshot
	Explanation string
}

// Controller runs plan steps for one task.
type Controller struct {
	interactor  Interactor
	page        Page
	detector    StateDetector
	planner     ActionPlanner
	llm         llmclient.Client
	shots       *capture.Manager
	logger      *zap.Logger
	guidance    bool
	settleDelay time.Duration
}

// NewController creates a step controller for one task run.
func NewController(
	interactor Interactor,
	page Page,
	detector StateDetector,
	llm llmclient.Client,
	shots *capture.Manager,
	guidance bool,
	settleDelay time.Duration,
	logger *zap.Logger,
) *Controller {
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}
	named := logger.Named("agent")
	return &Controller{
		interactor:  interactor,
		page:        page,
		detector:    detector,
		planner:     &llmActionPlanner{client: llm, logger: named},
		llm:         llm,
		shots:       shots,
		logger:      named,
		guidance:    guidance,
		settleDelay: settleDelay,
	}
}

// GuidanceMode reports whether the controller shows steps without committing.
func (c *Controller) GuidanceMode() bool {
	return c.guidance
}

// ExecuteStep runs one plan step. The returned error is non-nil only for
// run-aborting conditions such as context cancellation; ordinary step
// failures are reported inside the StepResult.
func (c *Controller) ExecuteStep(ctx context.Context, step string, stepNumber int) (StepResult, error) {
	lower := strings.ToLower(step)
	if strings.Contains(lower, "navigate") && strings.Contains(lower, "app") {
		return StepResult{Success: true, Skipped: true, SkipReason: "already_navigated"}, nil
	}

	optional := IsOptionalStep(step)

	c.showRelevantSection(ctx, step)
	if ctx.Err() != nil {
		return StepResult{}, ctx.Err()
	}

	if c.guidance {
		if optional {
			c.logger.Info("Skipping optional step in guidance mode.", zap.String("step", step))
			return StepResult{Success: true, Skipped: true, SkipReason: "optional_guidance", Explanation: step}, nil
		}
		if IsDescriptiveStep(step) {
			c.logger.Info("Skipping descriptive step.", zap.String("step", step))
			return StepResult{Success: true, Skipped: true, SkipReason: "descriptive", Explanation: step}, nil
		}
	}

	currentURL, err := c.page.CurrentURL(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return StepResult{}, ctx.Err()
		}
		c.logger.Warn("Could not read current URL.", zap.Error(err))
	}

	action := c.planner.PlanAction(ctx, step, currentURL)
	if ctx.Err() != nil {
		return StepResult{}, ctx.Err()
	}

	result := c.performAction(ctx, action, step, optional)
	if ctx.Err() != nil {
		return StepResult{}, ctx.Err()
	}
	result.Action = action

	var state *browser.PageState
	if detected, detectErr := c.detector.Detect(ctx); detectErr != nil {
		if ctx.Err() != nil {
			return StepResult{}, ctx.Err()
		}
		c.logger.Warn("State detection failed after step.", zap.Error(detectErr))
	} else {
		state = &detected
	}
	result.State = state

	result.Explanation = c.explainStep(ctx, step, stepNumber, currentURL, state)
	if ctx.Err() != nil {
		return StepResult{}, ctx.Err()
	}

	result.Screenshot = c.captureState(ctx, step, stepNumber, state, result.Explanation)
	return result, nil
}

// sectionLinks maps entity nouns in step text to the sidebar link that brings
// the matching view on screen.
var sectionLinks = []struct {
	noun  string
	label string
}{
	{"project", "Projects"},
	{"issue", "Issues"},
	{"task", "Tasks"},
}

// showRelevantSection tries to bring the view a step refers to on screen
// before acting on it. Best effort; failures are ignored.
func (c *Controller) showRelevantSection(ctx context.Context, step string) {
	lower := strings.ToLower(step)
	for _, s := range sectionLinks {
		if !strings.Contains(lower, s.noun) {
			continue
		}
		if _, err := c.interactor.Click(ctx, s.label); err != nil {
			c.logger.Debug("Section navigation skipped.",
				zap.String("section", s.label), zap.Error(err))
			return
		}
		c.sleep(ctx, c.settleDelay)
		return
	}
}

// performAction executes the action, honoring guidance mode restrictions.
func (c *Controller) performAction(ctx context.Context, action Action, step string, optional bool) StepResult {
	if c.guidance {
		switch action.Type {
		case ActionFill:
			c.logger.Info("Form field shown, not filled.", zap.String("target", action.Target))
			return StepResult{Success: true, Skipped: true, SkipReason: "guidance_mode"}
		case ActionSubmit:
			c.logger.Info("Submit button shown, not pressed.")
			return StepResult{Success: true, Skipped: true, SkipReason: "guidance_mode"}
		case ActionClick:
			if IsFinalActionClick(action.Target, step) {
				c.logger.Info("Skipping committing click in guidance mode.",
					zap.String("target", action.Target))
				return StepResult{Success: true, Skipped: true, SkipReason: "final_action_guidance"}
			}
			return c.click(ctx, action, optional)
		default:
			return StepResult{Success: true}
		}
	}

	switch action.Type {
	case ActionClick:
		return c.click(ctx, action, optional)
	case ActionFill:
		value := action.Value
		if value == "" {
			value = defaultFillValue(action.Target)
		}
		if err := c.interactor.Fill(ctx, action.Target, value); err != nil {
			return c.failure(optional, fmt.Sprintf("fill on '%s' failed: %v", action.Target, err))
		}
		return StepResult{Success: true}
	case ActionKeyboard:
		if err := c.page.PressKey(ctx, action.Target); err != nil {
			return c.failure(optional, fmt.Sprintf("keyboard '%s' failed: %v", action.Target, err))
		}
		c.sleep(ctx, c.settleDelay)
		return StepResult{Success: true}
	case ActionSubmit:
		return c.submit(ctx, optional)
	case ActionWait:
		c.sleep(ctx, c.settleDelay)
		return StepResult{Success: true}
	default:
		return StepResult{Success: true}
	}
}

// click tries the primary target, or every variant in order when the action
// is semantic.
func (c *Controller) click(ctx context.Context, action Action, optional bool) StepResult {
	targets := []string{action.Target}
	if action.Strategy == StrategySemantic && len(action.TargetVariants) > 1 {
		targets = action.TargetVariants
	}

	var lastErr error
	for _, target := range targets {
		result, err := c.interactor.Click(ctx, target)
		if err == nil {
			c.logger.Debug("Step click landed.",
				zap.String("target", target), zap.String("strategy", result.Strategy))
			return StepResult{Success: true}
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return c.failure(optional, fmt.Sprintf("click on '%s' failed: %v", action.Target, lastErr))
}

// submit clicks the first commit button it can find.
func (c *Controller) submit(ctx context.Context, optional bool) StepResult {
	var lastErr error
	for _, label := range []string{"Submit", "Create", "Save"} {
		_, err := c.interactor.Click(ctx, label)
		if err == nil {
			return StepResult{Success: true}
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return c.failure(optional, fmt.Sprintf("submit failed: %v", lastErr))
}

// failure turns an action error into a result. Optional steps degrade to a
// skip instead of failing the run.
func (c *Controller) failure(optional bool, msg string) StepResult {
	if optional {
		c.logger.Warn("Optional step failed, continuing.", zap.String("reason", msg))
		return StepResult{Success: true, Skipped: true, SkipReason: "optional_failed"}
	}
	c.logger.Warn("Step failed.", zap.String("reason", msg))
	return StepResult{Success: false, Error: msg}
}

const explainSystemPrompt = `You are a helpful guide that explains how to perform actions in web applications using screenshots.

For each step, create a clear, detailed explanation that:
1. Describes what the user should see in the screenshot
2. Explains exactly what action they need to perform
3. Points out where to find the relevant UI elements (buttons, fields, etc.)
4. Provides helpful tips or alternatives if applicable

Write in a friendly, instructional tone. Be specific about locations (e.g., "top right", "left sidebar", "in the modal").

Keep explanations concise but complete (2-3 sentences).`

// explainStep narrates the step for the captured screenshot. Best effort;
// the raw step text stands in when the model is unavailable.
func (c *Controller) explainStep(ctx context.Context, step string, stepNumber int, currentURL string, state *browser.PageState) string {
	uiState := "Unknown"
	if state != nil {
		uiState = "State: " + string(state.Type)
		if len(state.Modals) > 0 {
			uiState += ", Modal visible"
		}
		if state.Forms > 0 {
			uiState += ", Form visible"
		}
	}

	userPrompt := fmt.Sprintf(
		"Step %d: %s\n\nCurrent URL: %s\nUI State: %s\n\nProvide a detailed explanation for this step that will help the user understand what they need to do based on the screenshot.",
		stepNumber, step, currentURL, uiState,
	)

	response, err := c.llm.GenerateResponse(ctx, llmclient.GenerationRequest{
		SystemPrompt: explainSystemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		c.logger.Debug("Step explanation unavailable.", zap.Error(err))
		return step
	}
	return strings.TrimSpace(response)
}

// captureState saves a screenshot of the page after the step. Best effort.
func (c *Controller) captureState(ctx context.Context, step string, stepNumber int, state *browser.PageState, explanation string) *capture.Screenshot {
	if c.shots == nil {
		return nil
	}

	data, err := c.page.CaptureScreenshot(ctx)
	if err != nil {
		c.logger.Warn("Screenshot capture failed.", zap.Error(err))
		return nil
	}

	stateType := string(browser.StateInteraction)
	url := ""
	if state != nil {
		stateType = string(state.Type)
		url = state.URL
	}

	shot, err := c.shots.Save(stepNumber, stateType, data, capture.Metadata{
		URL:         url,
		Step:        step,
		Explanation: explanation,
	})
	if err != nil {
		c.logger.Warn("Screenshot save failed.", zap.Error(err))
		return nil
	}
	return &shot
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// internal/workflow/workflow.go

// Package workflow drives one task from analysis to finalized output. A run
// moves through analyzing, navigating, and capturing before landing in
// completed or error. The browser session outlives runs so consecutive tasks
// against the same app skip the login flow.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/agent"
	"github.com/xkilldash9x/uiguide-cli/internal/apps"
	"github.com/xkilldash9x/uiguide-cli/internal/browser"
	"github.com/xkilldash9x/uiguide-cli/internal/capture"
	"github.com/xkilldash9x/uiguide-cli/internal/planner"
)

// Status is the phase a run is in.
type Status string

const (
	StatusAnalyzing  Status = "analyzing"
	StatusNavigating Status = "navigating"
	StatusCapturing  Status = "capturing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// StepRecord pairs a plan step with its execution outcome.
type StepRecord struct {
	Number      int
	Description string
	Result      agent.StepResult
}

// Result is the full outcome of one task run.
type Result struct {
	RunID        string
	TaskQuery    string
	Plan         planner.Plan
	Status       Status
	ErrorMessage string
	Steps        []StepRecord
	Screenshots  []capture.Screenshot
	OutputDir    string
}

// StepExecutor runs individual plan steps.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step string, stepNumber int) (agent.StepResult, error)
}

// Session is the browser surface the runner drives directly.
type Session interface {
	Navigate(ctx context.Context, url string) (browser.NavigationResult, error)
	BringToFront(ctx context.Context) error
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	LoginCompleted(ctx context.Context) (bool, string, error)
}

// LoginWaiter blocks until the user has finished logging in manually. It
// must honor context cancellation; there is no timeout, humans are slow.
type LoginWaiter func(ctx context.Context, appName string) error

// ControllerFactory builds a step executor bound to one task's screenshot
// manager and mode.
type ControllerFactory func(shots *capture.Manager, guidance bool) StepExecutor

// Runner executes tasks serially against one browser session.
type Runner struct {
	planner       planner.Planner
	session       Session
	detector      interface{ Reset() }
	newController ControllerFactory
	waitForLogin  LoginWaiter

	outputRoot string
	maxSteps   int
	logger     *zap.Logger

	currentApp string
}

// NewRunner assembles a task runner from its collaborators.
func NewRunner(
	p planner.Planner,
	session Session,
	detector interface{ Reset() },
	factory ControllerFactory,
	waitForLogin LoginWaiter,
	outputRoot string,
	maxSteps int,
	logger *zap.Logger,
) *Runner {
	if maxSteps <= 0 {
		maxSteps = 12
	}
	return &Runner{
		planner:       p,
		session:       session,
		detector:      detector,
		newController: factory,
		waitForLogin:  waitForLogin,
		outputRoot:    outputRoot,
		maxSteps:      maxSteps,
		logger:        logger.Named("workflow"),
	}
}

// CurrentApp returns the app the session is currently logged into.
func (r *Runner) CurrentApp() string {
	return r.currentApp
}

// Run executes one task end to end. The returned error is non-nil only for
// run-aborting conditions such as context cancellation; task-level failures
// are reported in Result.Status and Result.ErrorMessage.
func (r *Runner) Run(ctx context.Context, taskQuery string) (Result, error) {
	result := Result{
		RunID:     uuid.NewString(),
		TaskQuery: taskQuery,
		Status:    StatusAnalyzing,
	}
	r.logger.Info("Task started.",
		zap.String("run_id", result.RunID), zap.String("task", taskQuery))

	plan, err := r.planner.Analyze(ctx, taskQuery)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return r.fail(result, err.Error()), nil
	}
	result.Plan = plan
	if len(plan.Steps) > r.maxSteps {
		r.logger.Warn("Plan truncated to step limit.",
			zap.Int("planned", len(plan.Steps)), zap.Int("limit", r.maxSteps))
		result.Plan.Steps = plan.Steps[:r.maxSteps]
		plan = result.Plan
	}

	result.Status = StatusNavigating
	nav, err := r.navigate(ctx, plan)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return r.fail(result, fmt.Sprintf("navigation to %s failed: %v", plan.AppURL, err)), nil
	}

	shots, err := capture.NewManager(r.outputRoot, plan.TaskName, plan.AppName, r.logger)
	if err != nil {
		return r.fail(result, err.Error()), nil
	}
	result.OutputDir = shots.Dir()

	if shot := r.captureInitial(ctx, shots, plan, nav); shot != nil {
		result.Screenshots = append(result.Screenshots, *shot)
	}

	controller := r.newController(shots, plan.GuidanceMode)

	result.Status = StatusCapturing
	for i, step := range plan.Steps {
		stepNumber := i + 1
		stepResult, err := controller.ExecuteStep(ctx, step, stepNumber)
		if err != nil {
			return result, err
		}

		result.Steps = append(result.Steps, StepRecord{
			Number:      stepNumber,
			Description: step,
			Result:      stepResult,
		})
		if stepResult.Screenshot != nil {
			result.Screenshots = append(result.Screenshots, *stepResult.Screenshot)
		}

		if msg, failed := stepFailure(stepResult, step, stepNumber); failed {
			r.finalize(ctx, &result, shots, plan)
			return r.fail(result, msg), nil
		}
	}

	result.Status = StatusCompleted
	r.finalize(ctx, &result, shots, plan)

	r.logger.Info("Task finished.",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)),
		zap.Int("screenshots", len(result.Screenshots)),
	)
	return result, nil
}

// navigate brings the session to the task's app. Same-app runs go straight
// to the home page; switching apps lands on the login page and suspends
// until the manual login is done.
func (r *Runner) navigate(ctx context.Context, plan planner.Plan) (browser.NavigationResult, error) {
	sameApp := r.currentApp != "" &&
		strings.EqualFold(strings.TrimSpace(r.currentApp), strings.TrimSpace(plan.AppName))

	targetURL := plan.AppURL
	if sameApp {
		targetURL = apps.HomeURL(plan.AppName)
		r.logger.Info("Same app, navigating to home page.", zap.String("url", targetURL))
	} else {
		if r.currentApp != "" {
			r.logger.Info("Switching apps.",
				zap.String("from", r.currentApp), zap.String("to", plan.AppName))
		}
		if err := r.session.BringToFront(ctx); err != nil {
			r.logger.Debug("Could not bring browser to front.", zap.Error(err))
		}
	}

	nav, err := r.session.Navigate(ctx, targetURL)
	if err != nil {
		return nav, err
	}
	if sameApp {
		// An active session on this app means no login round trip,
		// whatever the page heuristics say.
		nav.LoginRequired = false
	}

	// Fresh task, fresh state diffing.
	r.detector.Reset()

	if nav.LoginRequired {
		r.logger.Info("Login required, waiting for manual login.",
			zap.String("app", plan.AppName))
		for {
			if err := r.waitForLogin(ctx, plan.AppName); err != nil {
				return nav, err
			}
			done, url, err := r.session.LoginCompleted(ctx)
			if err != nil || done {
				break
			}
			r.logger.Info("Still on the login page, waiting again.", zap.String("url", url))
		}
	}

	r.currentApp = strings.TrimSpace(plan.AppName)
	return nav, nil
}

// captureInitial records the starting point of the run before any step acts.
func (r *Runner) captureInitial(ctx context.Context, shots *capture.Manager, plan planner.Plan, nav browser.NavigationResult) *capture.Screenshot {
	data, err := r.session.CaptureScreenshot(ctx)
	if err != nil {
		r.logger.Warn("Initial screenshot failed.", zap.Error(err))
		return nil
	}
	explanation := fmt.Sprintf(
		"This is the initial view of %s. You have successfully navigated to the application. This screenshot shows the starting point before performing any actions.",
		plan.AppName,
	)
	shot, err := shots.Save(capture.InitialStepNumber, "initial", data, capture.Metadata{
		URL:         nav.FinalURL,
		Title:       nav.Title,
		Step:        "Navigate to the app",
		Explanation: explanation,
	})
	if err != nil {
		r.logger.Warn("Initial screenshot save failed.", zap.Error(err))
		return nil
	}
	return &shot
}

// finalize captures the closing screenshot and writes the README. The final
// capture only happens for successful runs; the README is written whenever
// there is anything to document.
func (r *Runner) finalize(ctx context.Context, result *Result, shots *capture.Manager, plan planner.Plan) {
	if result.Status == StatusCompleted {
		if data, err := r.session.CaptureScreenshot(ctx); err != nil {
			r.logger.Warn("Final screenshot failed.", zap.Error(err))
		} else if shot, err := shots.Save(capture.FinalStepNumber, "final", data, capture.Metadata{}); err != nil {
			r.logger.Warn("Final screenshot save failed.", zap.Error(err))
		} else {
			result.Screenshots = append(result.Screenshots, shot)
		}
	}

	if len(result.Screenshots) > 0 || result.Status == StatusCompleted {
		if err := shots.WriteReadme(result.TaskQuery, plan.Steps); err != nil {
			r.logger.Warn("README write failed.", zap.Error(err))
		}
	}
}

func (r *Runner) fail(result Result, msg string) Result {
	result.Status = StatusError
	result.ErrorMessage = msg
	r.logger.Warn("Task failed.",
		zap.String("run_id", result.RunID), zap.String("error", msg))
	return result
}

// stepFailure decides whether a step outcome ends the run. Optional and
// skipped steps never do.
func stepFailure(result agent.StepResult, step string, stepNumber int) (string, bool) {
	if result.Success || result.Skipped || agent.IsOptionalStep(step) {
		return "", false
	}
	msg := result.Error
	if msg == "" {
		msg = "step execution failed"
	}
	detail := fmt.Sprintf("Step %d: %s", stepNumber, msg)
	if result.Action.Type != "" {
		detail += fmt.Sprintf(" (Action: %s on '%s')", result.Action.Type, result.Action.Target)
	}
	return detail, true
}

// StdinLoginWaiter returns a LoginWaiter that blocks until the user presses
// Enter. readLine is called on its own goroutine so cancellation interrupts
// the wait even though stdin reads cannot be aborted.
func StdinLoginWaiter(readLine func() error) LoginWaiter {
	return func(ctx context.Context, appName string) error {
		done := make(chan error, 1)
		go func() {
			done <- readLine()
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		}
	}
}

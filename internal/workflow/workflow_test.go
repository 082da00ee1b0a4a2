// internal/workflow/workflow_test.go
package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/agent"
	"github.com/xkilldash9x/uiguide-cli/internal/browser"
	"github.com/xkilldash9x/uiguide-cli/internal/capture"
	"github.com/xkilldash9x/uiguide-cli/internal/planner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePlanner struct {
	plan planner.Plan
	err  error
}

func (f *fakePlanner) Analyze(ctx context.Context, taskQuery string) (planner.Plan, error) {
	if err := ctx.Err(); err != nil {
		return planner.Plan{}, err
	}
	return f.plan, f.err
}

type fakeSession struct {
	mu          sync.Mutex
	navResult   browser.NavigationResult
	navErr      error
	navigatedTo []string
	fronted     int
	loginChecks []bool
}

func (f *fakeSession) Navigate(ctx context.Context, url string) (browser.NavigationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigatedTo = append(f.navigatedTo, url)
	return f.navResult, f.navErr
}

func (f *fakeSession) BringToFront(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fronted++
	return nil
}

func (f *fakeSession) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (f *fakeSession) CurrentURL(ctx context.Context) (string, error) {
	return f.navResult.FinalURL, nil
}

// LoginCompleted pops the next scripted answer, defaulting to done.
func (f *fakeSession) LoginCompleted(ctx context.Context) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.loginChecks) == 0 {
		return true, f.navResult.FinalURL, nil
	}
	done := f.loginChecks[0]
	f.loginChecks = f.loginChecks[1:]
	return done, f.navResult.FinalURL, nil
}

type fakeReset struct {
	mu     sync.Mutex
	resets int
}

func (f *fakeReset) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

type fakeStepExecutor struct {
	mu      sync.Mutex
	steps   []string
	results map[int]agent.StepResult
	err     error
}

func (f *fakeStepExecutor) ExecuteStep(ctx context.Context, step string, stepNumber int) (agent.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return agent.StepResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return agent.StepResult{}, f.err
	}
	f.steps = append(f.steps, step)
	if result, ok := f.results[stepNumber]; ok {
		return result, nil
	}
	return agent.StepResult{Success: true}, nil
}

type runnerFixture struct {
	planner  *fakePlanner
	session  *fakeSession
	reset    *fakeReset
	executor *fakeStepExecutor
	logins   int
	root     string
	runner   *Runner
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		planner: &fakePlanner{plan: planner.Plan{
			AppName:  "Linear",
			AppURL:   "https://linear.app/login",
			Steps:    []string{"Click Projects in the sidebar", "Click New Project"},
			TaskName: "create_a_project",
		}},
		session:  &fakeSession{navResult: browser.NavigationResult{FinalURL: "https://linear.app/team", Title: "Linear"}},
		reset:    &fakeReset{},
		executor: &fakeStepExecutor{},
		root:     t.TempDir(),
	}
	factory := func(shots *capture.Manager, guidance bool) StepExecutor { return f.executor }
	waiter := func(ctx context.Context, appName string) error {
		f.logins++
		return nil
	}
	f.runner = NewRunner(f.planner, f.session, f.reset, factory, waiter, f.root, 12, zap.NewNop())
	return f
}

func TestRun_Completes(t *testing.T) {
	f := newRunnerFixture(t)

	result, err := f.runner.Run(context.Background(), "Create a project in Linear")

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.Steps, 2)
	assert.Equal(t, 1, f.reset.resets)
	assert.Equal(t, 0, f.logins)
	assert.Equal(t, "Linear", f.runner.CurrentApp())

	// Initial and final captures bracket the run.
	require.Len(t, result.Screenshots, 2)
	assert.Equal(t, 0, result.Screenshots[0].StepNumber)
	assert.Equal(t, 999, result.Screenshots[1].StepNumber)

	readme, err := os.ReadFile(filepath.Join(result.OutputDir, "README.md"))
	require.NoError(t, err)
	assert.Contains(t, string(readme), "Create a project in Linear")
	assert.Contains(t, string(readme), "1. Click Projects in the sidebar")
}

func TestRun_LoginFlow(t *testing.T) {
	f := newRunnerFixture(t)
	f.session.navResult.LoginRequired = true

	_, err := f.runner.Run(context.Background(), "Create a project in Linear")
	require.NoError(t, err)

	assert.Equal(t, 1, f.logins, "switching to a new app waits for manual login")
	assert.Equal(t, 1, f.session.fronted)
	assert.Equal(t, []string{"https://linear.app/login"}, f.session.navigatedTo)

	// Second run against the same app goes home and skips the login wait.
	_, err = f.runner.Run(context.Background(), "Create another project in Linear")
	require.NoError(t, err)

	assert.Equal(t, 1, f.logins)
	assert.Equal(t, 1, f.session.fronted)
	assert.Equal(t, "https://linear.app", f.session.navigatedTo[1])
}

func TestRun_LoginWaitRepeatsUntilComplete(t *testing.T) {
	f := newRunnerFixture(t)
	f.session.navResult.LoginRequired = true
	f.session.loginChecks = []bool{false, false, true}

	_, err := f.runner.Run(context.Background(), "Create a project in Linear")
	require.NoError(t, err)

	assert.Equal(t, 3, f.logins, "the wait repeats while the page still looks like a login page")
}

func TestNavigate_SameAppForcesLoginRequiredFalse(t *testing.T) {
	f := newRunnerFixture(t)
	f.session.navResult.LoginRequired = true

	_, err := f.runner.Run(context.Background(), "Create a project in Linear")
	require.NoError(t, err)
	require.Equal(t, 1, f.logins)

	// The session keeps flagging the page as a login page; the same-app
	// path overrides the signal, not just the wait.
	nav, err := f.runner.navigate(context.Background(), f.planner.plan)
	require.NoError(t, err)
	assert.False(t, nav.LoginRequired)
	assert.Equal(t, 1, f.logins)
}

func TestRun_StepFailureEndsRun(t *testing.T) {
	f := newRunnerFixture(t)
	f.executor.results = map[int]agent.StepResult{
		2: {
			Success: false,
			Error:   "could not find element 'New Project'",
			Action:  agent.Action{Type: agent.ActionClick, Target: "New Project"},
		},
	}

	result, err := f.runner.Run(context.Background(), "Create a project in Linear")

	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "Step 2: could not find element 'New Project'")
	assert.Contains(t, result.ErrorMessage, "(Action: click on 'New Project')")
	assert.Len(t, result.Steps, 2)

	// The partial run is still documented.
	_, statErr := os.Stat(filepath.Join(result.OutputDir, "README.md"))
	assert.NoError(t, statErr)

	// No final screenshot on error, only the initial one.
	require.Len(t, result.Screenshots, 1)
	assert.Equal(t, 0, result.Screenshots[0].StepNumber)
}

func TestRun_SkippedAndOptionalStepsContinue(t *testing.T) {
	f := newRunnerFixture(t)
	f.planner.plan.Steps = []string{
		"Click Projects in the sidebar",
		"Optionally, add a description",
		"Click New Project",
	}
	f.executor.results = map[int]agent.StepResult{
		2: {Success: true, Skipped: true, SkipReason: "optional_failed"},
	}

	result, err := f.runner.Run(context.Background(), "Create a project in Linear")

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Len(t, result.Steps, 3)
}

func TestRun_PlannerError(t *testing.T) {
	f := newRunnerFixture(t)
	f.planner.err = planner.ErrUnknownApp

	result, err := f.runner.Run(context.Background(), "make me a sandwich")

	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "isn't linked to any web app")
	assert.Empty(t, f.session.navigatedTo)
}

func TestRun_NavigationError(t *testing.T) {
	f := newRunnerFixture(t)
	f.session.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	result, err := f.runner.Run(context.Background(), "Create a project in Linear")

	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "navigation to https://linear.app/login failed")
}

func TestRun_TruncatesToStepLimit(t *testing.T) {
	f := newRunnerFixture(t)
	f.planner.plan.Steps = []string{"one", "two", "three", "four", "five"}
	f.runner.maxSteps = 3

	result, err := f.runner.Run(context.Background(), "Create a project in Linear")

	require.NoError(t, err)
	assert.Len(t, result.Steps, 3)
	assert.Len(t, f.executor.steps, 3)
}

func TestRun_ContextCancelled(t *testing.T) {
	f := newRunnerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Run(ctx, "Create a project in Linear")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStdinLoginWaiter(t *testing.T) {
	t.Run("Returns After Enter", func(t *testing.T) {
		waiter := StdinLoginWaiter(func() error { return nil })
		assert.NoError(t, waiter(context.Background(), "Linear"))
	})

	t.Run("Cancellable", func(t *testing.T) {
		release := make(chan struct{})
		waiter := StdinLoginWaiter(func() error {
			<-release
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := waiter(ctx, "Linear")
		assert.ErrorIs(t, err, context.Canceled)
		close(release)
	})
}

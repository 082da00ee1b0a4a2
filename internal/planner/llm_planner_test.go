// internal/planner/llm_planner_test.go
package planner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/llmclient"
)

// fakeClient returns canned responses in order and records every request.
type fakeClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []llmclient.GenerationRequest
}

func (f *fakeClient) GenerateResponse(ctx context.Context, req llmclient.GenerationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	if err != nil {
		return "", err
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return "", errors.New("no canned response")
}

const validPlanJSON = `{
	"app_name": "SomethingElse",
	"app_url": "https://wrong.example.com",
	"steps": ["Click Projects in the sidebar", "Click New Project", "Name the project and click Create"],
	"task_name": "create a project?",
	"mode": "execution"
}`

func TestAnalyze_KnownApp(t *testing.T) {
	client := &fakeClient{responses: []string{validPlanJSON}}
	p := NewLLMPlanner(client, zap.NewNop())

	plan, err := p.Analyze(context.Background(), "Create a project in Linear")

	require.NoError(t, err)
	assert.Equal(t, "Linear", plan.AppName, "registry identity overrides whatever the model returned")
	assert.Equal(t, "https://linear.app/login", plan.AppURL)
	assert.Len(t, plan.Steps, 3)
	assert.Equal(t, "create_a_project", plan.TaskName)
	assert.False(t, plan.GuidanceMode)

	require.Len(t, client.requests, 1, "known apps must not need an extraction round trip")
	assert.True(t, client.requests[0].Options.ForceJSONFormat)
	assert.Contains(t, client.requests[0].SystemPrompt, "EXECUTION MODE")
	assert.Contains(t, client.requests[0].SystemPrompt, "https://linear.app/login")
	assert.Contains(t, client.requests[0].SystemPrompt, `NEVER include "login"`)
}

func TestAnalyze_GuidanceMode(t *testing.T) {
	client := &fakeClient{responses: []string{validPlanJSON}}
	p := NewLLMPlanner(client, zap.NewNop())

	plan, err := p.Analyze(context.Background(), "How do I create a project in Notion?")

	require.NoError(t, err)
	assert.True(t, plan.GuidanceMode)
	assert.Equal(t, "Notion", plan.AppName)
	assert.Contains(t, client.requests[0].SystemPrompt, "GUIDANCE MODE")
}

func TestAnalyze_JSONWrappedInProse(t *testing.T) {
	client := &fakeClient{responses: []string{
		"Here is the plan:\n```json\n" + validPlanJSON + "\n```\nLet me know if you need more.",
	}}
	p := NewLLMPlanner(client, zap.NewNop())

	plan, err := p.Analyze(context.Background(), "Create a project in Linear")

	require.NoError(t, err)
	assert.Len(t, plan.Steps, 3)
}

func TestAnalyze_ParseFailureFallsBack(t *testing.T) {
	client := &fakeClient{responses: []string{"I cannot produce JSON today."}}
	p := NewLLMPlanner(client, zap.NewNop())

	plan, err := p.Analyze(context.Background(), "Create a task in Asana")

	require.NoError(t, err)
	assert.Equal(t, "Asana", plan.AppName)
	assert.Equal(t, "https://app.asana.com/login", plan.AppURL)
	assert.Equal(t, []string{
		"Find the relevant button or action",
		"Complete the required form",
		"Submit and capture success",
	}, plan.Steps)
}

func TestAnalyze_RequestFailureFallsBack(t *testing.T) {
	client := &fakeClient{errs: []error{errors.New("api unavailable")}}
	p := NewLLMPlanner(client, zap.NewNop())

	plan, err := p.Analyze(context.Background(), "Create a task in Asana")

	require.NoError(t, err)
	assert.Equal(t, "Asana", plan.AppName)
	assert.NotEmpty(t, plan.Steps)
}

func TestAnalyze_EmptyStepsFallsBack(t *testing.T) {
	client := &fakeClient{responses: []string{`{"steps": [], "task_name": "x"}`}}
	p := NewLLMPlanner(client, zap.NewNop())

	plan, err := p.Analyze(context.Background(), "Create a task in Asana")

	require.NoError(t, err)
	assert.Len(t, plan.Steps, 3)
}

func TestExtractAppName(t *testing.T) {
	t.Run("Via LLM", func(t *testing.T) {
		client := &fakeClient{responses: []string{"\"Monday\"\n", validPlanJSON}}
		p := NewLLMPlanner(client, zap.NewNop())

		plan, err := p.Analyze(context.Background(), "Create a board in my work tracker Monday")

		require.NoError(t, err)
		assert.Equal(t, "Monday", plan.AppName)
		assert.Equal(t, "https://monday.com/login", plan.AppURL)
		require.Len(t, client.requests, 2)
	})

	t.Run("Unresolvable", func(t *testing.T) {
		client := &fakeClient{responses: []string{"?"}}
		p := NewLLMPlanner(client, zap.NewNop())

		_, err := p.Analyze(context.Background(), "make me a sandwich")

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownApp)
	})

	t.Run("Extraction Request Fails", func(t *testing.T) {
		client := &fakeClient{errs: []error{errors.New("api unavailable")}}
		p := NewLLMPlanner(client, zap.NewNop())

		_, err := p.Analyze(context.Background(), "make me a sandwich")

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownApp)
	})
}

func TestAnalyze_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &fakeClient{}
	p := NewLLMPlanner(client, zap.NewNop())

	_, err := p.Analyze(ctx, "Create a project in Linear")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsGuidanceQuery(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"How do I create a project in Linear?", true},
		{"how to filter a database in Notion", true},
		{"Show me the board view in Trello", true},
		{"Explain workspaces in Slack", true},
		{"Create a project in Linear", false},
		{"Add a new task to Asana", false},
		{"  HOW CAN I archive a page in Notion  ", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsGuidanceQuery(tc.query), tc.query)
	}
}

func TestSanitizeTaskName(t *testing.T) {
	assert.Equal(t, "How_do_I_create_a_project", SanitizeTaskName("How do I create a project?"))
	assert.Equal(t, "whats_up", SanitizeTaskName("what's up"))

	long := SanitizeTaskName("create a very long task name that keeps going and going and going forever")
	assert.LessOrEqual(t, len(long), 50)
}

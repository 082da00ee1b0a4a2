// internal/workflow/factory.go
package workflow

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/agent"
	"github.com/xkilldash9x/uiguide-cli/internal/browser"
	"github.com/xkilldash9x/uiguide-cli/internal/capture"
	"github.com/xkilldash9x/uiguide-cli/internal/config"
	"github.com/xkilldash9x/uiguide-cli/internal/llmclient"
	"github.com/xkilldash9x/uiguide-cli/internal/planner"
)

// NewBrowserRunner wires a Runner on top of a live browser session. The
// resolver and detector share the session; controllers are built per task
// because each one owns that task's screenshot directory.
func NewBrowserRunner(
	p planner.Planner,
	session *browser.Session,
	llm llmclient.Client,
	cfg config.Interface,
	waitForLogin LoginWaiter,
	logger *zap.Logger,
) *Runner {
	agentCfg := cfg.Agent()
	resolver := browser.NewResolver(session, agentCfg.MaxVariants, agentCfg.StepSettleDelay, logger)
	detector := browser.NewDetector(session, logger)

	factory := func(shots *capture.Manager, guidance bool) StepExecutor {
		return agent.NewController(
			resolver,
			session,
			detector,
			llm,
			shots,
			guidance || agentCfg.GuidanceOnly,
			agentCfg.StepSettleDelay,
			logger,
		)
	}

	return NewRunner(
		p,
		session,
		detector,
		factory,
		waitForLogin,
		cfg.Output().Root,
		agentCfg.MaxSteps,
		logger,
	)
}

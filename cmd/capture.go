// -- cmd/capture.go --
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/browser"
	"github.com/xkilldash9x/uiguide-cli/internal/llmclient"
	"github.com/xkilldash9x/uiguide-cli/internal/observability"
	"github.com/xkilldash9x/uiguide-cli/internal/planner"
	"github.com/xkilldash9x/uiguide-cli/internal/workflow"
)

// newCaptureCmd creates and configures the `capture` command.
func newCaptureCmd() *cobra.Command {
	captureCmd := &cobra.Command{
		Use:   "capture [task]",
		Short: "Execute or guide a web app task, capturing a screenshot of every UI state",
		Long: `Runs a natural language task against a web application (Linear, Notion,
Asana, and others) in a visible browser. Each UI state along the way is
captured to a per-task screenshot directory together with a README that
documents the steps.

With a task argument the command runs once and exits. Without one it starts
an interactive prompt that accepts tasks until you quit; the browser stays
open between tasks so repeat runs against the same app skip the login flow.`,
		Args: cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their corresponding Viper keys so command-line
			// flags override values from the config file and environment.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.debug", cmd.Flags().Lookup("debug")); err != nil {
				return err
			}
			if err := viper.BindPFlag("output.root", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			return viper.BindPFlag("agent.guidance_only", cmd.Flags().Lookup("guidance"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd.Context(), args)
		},
	}

	captureCmd.Flags().Bool("headless", false, "run the browser without a window (manual login is impossible headless)")
	captureCmd.Flags().Bool("debug", false, "enable verbose browser debugging")
	captureCmd.Flags().StringP("output", "o", "", "root directory for captured screenshots")
	captureCmd.Flags().BoolP("guidance", "g", false, "always show how to do tasks instead of executing them")

	return captureCmd
}

func init() {
	rootCmd.AddCommand(newCaptureCmd())
}

func runCapture(ctx context.Context, args []string) error {
	logger := observability.GetLogger()
	cfg := appConfig

	// Flag overrides bound in PreRunE land in viper, not in the already
	// parsed config; copy the ones this command owns.
	cfg.SetBrowserHeadless(viper.GetBool("browser.headless"))
	cfg.SetBrowserDebug(viper.GetBool("browser.debug"))
	if root := viper.GetString("output.root"); root != "" {
		cfg.SetOutputRoot(root)
	}
	cfg.SetAgentGuidanceOnly(viper.GetBool("agent.guidance_only"))

	llm, err := llmclient.NewGeminiClient(cfg.LLM(), logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	if trace := cfg.Trace(); trace.Enabled {
		logger.Info("Run tracing enabled.", zap.String("project", trace.Project))
	}

	manager := browser.NewManager(cfg.Browser(), logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown was not clean.", zap.Error(err))
		}
	}()

	session, err := manager.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}

	stdin := bufio.NewReader(os.Stdin)
	waiter := workflow.StdinLoginWaiter(func() error {
		fmt.Println("\nLogin required. Please log in manually in the browser window.")
		fmt.Print("Press Enter once you're logged in and ready to continue... ")
		_, err := stdin.ReadString('\n')
		return err
	})

	runner := workflow.NewBrowserRunner(
		planner.NewLLMPlanner(llm, logger),
		session,
		llm,
		cfg,
		waiter,
		logger,
	)

	if len(args) > 0 {
		task := strings.TrimSpace(strings.Join(args, " "))
		return runTask(ctx, runner, task)
	}
	return runInteractive(ctx, runner, stdin)
}

// runTask executes a single task and reports the outcome on stdout.
func runTask(ctx context.Context, runner *workflow.Runner, task string) error {
	result, err := runner.Run(ctx, task)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("\nInterrupted.")
			return nil
		}
		return err
	}
	printResult(result)
	if result.Status == workflow.StatusError {
		return fmt.Errorf("task failed: %s", result.ErrorMessage)
	}
	return nil
}

// runInteractive accepts tasks until the user quits. The browser session is
// reused across tasks.
func runInteractive(ctx context.Context, runner *workflow.Runner, stdin *bufio.Reader) error {
	fmt.Println("uiguide-cli - UI capture agent")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("Supports: Linear, Notion, Asana, and more")
	fmt.Println(strings.Repeat("=", 60))

	taskCount := 0
	for {
		fmt.Println("\n" + strings.Repeat("=", 60))
		fmt.Println("Enter a task (or 'quit'/'exit' to finish):")
		fmt.Println("  Examples:")
		fmt.Println("  - 'How to create a project in Linear?'")
		fmt.Println("  - 'How to see my tasks in Asana?'")
		fmt.Println("  - 'Create a project in Linear named Project1'")
		fmt.Println(strings.Repeat("-", 60))
		fmt.Print("> ")

		task, err := readInput(ctx, stdin)
		if err != nil {
			return err
		}
		switch strings.ToLower(task) {
		case "quit", "exit", "q", "":
			printFarewell(taskCount)
			return nil
		}

		taskCount++
		fmt.Printf("\nTask %d: %s\n", taskCount, task)
		fmt.Println(strings.Repeat("-", 60))

		result, err := runner.Run(ctx, task)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println("\nInterrupted.")
				printFarewell(taskCount)
				return nil
			}
			return err
		}

		printResult(result)

		fmt.Println("\n" + strings.Repeat("-", 60))
		fmt.Print("Continue with another task? (y/n): ")
		answer, err := readInput(ctx, stdin)
		if err != nil {
			return err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
		default:
			printFarewell(taskCount)
			return nil
		}
	}
}

// readInput reads one trimmed line, giving up when the context is done.
func readInput(ctx context.Context, stdin *bufio.Reader) (string, error) {
	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := stdin.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			// EOF on stdin means the user is done.
			return "", nil
		}
		return strings.TrimSpace(res.line), nil
	}
}

func printResult(result workflow.Result) {
	if result.Status == workflow.StatusError {
		fmt.Printf("\nError: %s\n", result.ErrorMessage)
		return
	}

	fmt.Printf("\nStatus: %s\n", result.Status)
	fmt.Printf("Screenshots captured: %d\n", len(result.Screenshots))
	fmt.Printf("Output: %s\n", result.OutputDir)
	fmt.Printf("App: %s\n", result.Plan.AppName)
	if result.Plan.GuidanceMode {
		fmt.Println("Mode: guidance (shown, not executed)")
	}

	fmt.Println("\nSteps executed:")
	for _, step := range result.Plan.Steps {
		fmt.Printf("  - %s\n", step)
	}
}

func printFarewell(taskCount int) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	if taskCount > 0 {
		fmt.Printf("Completed %d task(s).\n", taskCount)
	} else {
		fmt.Println("No tasks executed.")
	}
}

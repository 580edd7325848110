// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/averell-dev/deskrover/api/schemas"
)

var runCmd = &cobra.Command{
	Use:   "run \"<instruction>\"",
	Short: "Run a natural-language task against the desktop",
	Long: `Runs the agent loop for one instruction: capture the screen, ask the
model for the next action, perform it, and repeat until the model declares
the task done or a budget runs out.

A first interrupt (Ctrl-C) stops the task after the current step and still
tears the session down cleanly; a second interrupt exits immediately.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

var (
	runMaxSteps   int
	runTimeBudget time.Duration
)

func init() {
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "override the configured step budget for this task")
	runCmd.Flags().DurationVar(&runTimeBudget, "time-budget", 0, "override the configured wall-clock budget for this task")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	instruction := strings.Join(args, " ")
	if runMaxSteps > 0 {
		cfg.Agent.MaxSteps = runMaxSteps
	}
	if runTimeBudget > 0 {
		cfg.Agent.TimeBudget = runTimeBudget
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := newRover()
	if err != nil {
		return err
	}
	// Teardown uses a fresh context so an interrupt cannot strand the
	// session or an owned server process.
	defer func() {
		if err := r.Close(context.Background()); err != nil {
			logger.Warn("Teardown failed", zap.Error(err))
		}
	}()

	if err := r.Connect(ctx); err != nil {
		return fmt.Errorf("cannot reach automation server: %w", err)
	}

	var result schemas.TaskResult
	g, taskCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result = r.RunTask(taskCtx, instruction)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	printResult(cmd, result)
	if !result.Succeeded() {
		switch result.Reason {
		case schemas.ReasonBudgetExceeded, schemas.ReasonTimeout:
			return &schemas.BudgetExceededError{Reason: result.Reason, Steps: len(result.Steps)}
		default:
			return fmt.Errorf("task failed: %s", result.Reason)
		}
	}
	return nil
}

func printResult(cmd *cobra.Command, result schemas.TaskResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:    %s\n", result.Instruction)
	fmt.Fprintf(out, "Status:  %s\n", result.Status)
	if result.Answer != "" {
		fmt.Fprintf(out, "Answer:  %s\n", result.Answer)
	}
	if result.Reason != "" {
		fmt.Fprintf(out, "Reason:  %s\n", result.Reason)
	}
	fmt.Fprintf(out, "Steps:   %d\n", len(result.Steps))
	fmt.Fprintf(out, "Elapsed: %s\n", result.Elapsed.Round(10*time.Millisecond))

	for _, step := range result.Steps {
		marker := "ok"
		switch {
		case step.Error != "":
			marker = "failed: " + step.Error
		case !step.Result.Success:
			marker = "failed: " + step.Result.Error
		case !step.Verified:
			marker = "ok (unverified)"
		}
		fmt.Fprintf(out, "  %2d. %-30s [%s] %s\n", step.Number, step.Action.String(), step.Result.Tier, marker)
	}
}

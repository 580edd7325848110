// File: cmd/history.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/averell-dev/deskrover/internal/history"
)

var (
	historyLimit int
	historyTask  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded task runs, or show one task's steps with --task",
	RunE:  showHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of tasks to list")
	historyCmd.Flags().StringVar(&historyTask, "task", "", "show the step transcript of one task id")
	rootCmd.AddCommand(historyCmd)
}

func showHistory(cmd *cobra.Command, args []string) error {
	if !cfg.History.Enabled {
		return fmt.Errorf("the transcript store is disabled (history.enabled = false)")
	}

	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if historyTask != "" {
		steps, err := store.StepsForTask(ctx, historyTask)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			return fmt.Errorf("no steps recorded for task %s", historyTask)
		}
		for _, step := range steps {
			status := "ok"
			switch {
			case step.Error != "":
				status = "failed: " + step.Error
			case !step.Result.Success:
				status = "failed: " + step.Result.Error
			case !step.Verified:
				status = "ok (unverified)"
			}
			fmt.Fprintf(out, "%2d. %-30s [%s] %s\n", step.Number, step.Action.String(), step.Result.Tier, status)
		}
		return nil
	}

	tasks, err := store.ListTasks(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no recorded tasks")
		return nil
	}
	for _, task := range tasks {
		status := task.Status
		if status == "" {
			status = "interrupted"
		}
		fmt.Fprintf(out, "%s  %-8s  %2d steps  %-8s  %s\n",
			task.StartedAt.Local().Format(time.DateTime),
			status,
			task.Steps,
			task.Elapsed.Round(time.Second),
			task.Instruction)
	}
	return nil
}

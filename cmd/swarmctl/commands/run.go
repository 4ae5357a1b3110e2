package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackms/swarm-core/internal/infrastructure/pool"
	"github.com/blackms/swarm-core/pkg/swarm"
)

// Run command flags
var (
	runFile    string
	runID      string
	runType    string
	runPayload string
	runDelay   time.Duration
	runFormat  string
)

// RunCmd processes a single task.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one task",
	Long: `Process one task through analysis, decision and a worker wave, then
print the settled report.

Workers acknowledge their subtask after --delay; use it to exercise the
task timeout.`,
	Example: `  # Task from flags
  swarmctl run --type build --payload '{"files": 7}'

  # Task from a JSON file
  swarmctl run --file task.json

  # Task from stdin
  echo '{"id":"r1","type":"research","payload":{"topics":["a","b"]}}' | swarmctl run --file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		task, err := readTask()
		if err != nil {
			return err
		}

		var executor swarm.Executor = pool.EchoExecutor()
		if runDelay > 0 {
			executor = pool.DelayExecutor(runDelay, executor)
		}

		s, err := swarm.New(*cfg, swarm.WithExecutor(executor), swarm.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to create swarm: %w", err)
		}
		defer s.Shutdown()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := s.Process(ctx, task)
		if err != nil {
			return err
		}

		if runFormat == "json" {
			return printJSON(map[string]interface{}{
				"report":  report,
				"metrics": s.Snapshot(),
			})
		}

		fmt.Printf("task %s: %s\n", report.TaskID, report.State)
		if report.Decision != nil {
			fmt.Printf("  decision: %s (confidence %.4f) %s\n", report.Decision.Outcome, report.Decision.Confidence, report.Decision.Reason)
		}
		if report.Outcome != nil {
			for _, r := range report.Outcome.Results {
				if r.Success {
					fmt.Printf("  [ok]   %-18s %-12s %dms\n", r.WorkerID, r.Role, r.DurationMs)
				} else {
					fmt.Printf("  [fail] %-18s %-12s %s\n", r.WorkerID, r.Role, r.Error)
				}
			}
		}
		if report.Error != "" {
			fmt.Printf("  error: %s\n", report.Error)
		}
		return nil
	},
}

func readTask() (swarm.Task, error) {
	var task swarm.Task

	if runFile != "" {
		var (
			data []byte
			err  error
		)
		if runFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(runFile)
		}
		if err != nil {
			return task, fmt.Errorf("read task: %w", err)
		}
		if err := json.Unmarshal(data, &task); err != nil {
			return task, fmt.Errorf("decode task: %w", err)
		}
	}

	if runID != "" {
		task.ID = runID
	}
	if runType != "" {
		task.Type = swarm.TaskType(runType)
	}
	if runPayload != "" {
		if err := json.Unmarshal([]byte(runPayload), &task.Payload); err != nil {
			return task, fmt.Errorf("decode payload: %w", err)
		}
	}
	if task.ID == "" {
		task.ID = fmt.Sprintf("%s-%d", task.Type, time.Now().UnixMilli())
	}
	return task, nil
}

func init() {
	RunCmd.Flags().StringVarP(&runFile, "file", "f", "", "Task JSON file, or - for stdin")
	RunCmd.Flags().StringVar(&runID, "id", "", "Task ID")
	RunCmd.Flags().StringVarP(&runType, "type", "t", "", "Task type")
	RunCmd.Flags().StringVarP(&runPayload, "payload", "p", "", "Task payload as JSON")
	RunCmd.Flags().DurationVar(&runDelay, "delay", 0, "Simulated work time per worker")
	RunCmd.Flags().StringVar(&runFormat, "format", "text", "Output format (text, json)")
}

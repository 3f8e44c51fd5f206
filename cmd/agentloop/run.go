package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/orchestrator"
)

var (
	// run and resume flags
	runTaskType       string
	runConversationID string
	runRoots          []string
	runMCPCommand     string
	runQuiet          bool
	resumeCheckpoint  string
	resumeClarify     string
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)

	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().StringSliceVar(&runRoots, "root", []string{"."}, "Directories the builtin filesystem tools may read")
		c.Flags().StringVar(&runMCPCommand, "mcp", "", "Command that starts an MCP server whose tools are added to the builtins")
		c.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Do not print per-iteration progress")
	}
	runCmd.Flags().StringVar(&runTaskType, "type", "general", "Task type used to group outcomes and calibrate confidence")
	runCmd.Flags().StringVar(&runConversationID, "conversation", "", "Conversation id to bind the run to")
	resumeCmd.Flags().StringVar(&resumeCheckpoint, "checkpoint", "", "Checkpoint id to resume")
	resumeCmd.Flags().StringVar(&runConversationID, "conversation", "", "Resume the latest checkpoint of this conversation")
	resumeCmd.Flags().StringVar(&resumeClarify, "clarify", "", "Answer to the agent's clarification question")
	resumeCmd.MarkFlagsOneRequired("checkpoint", "conversation")
	resumeCmd.MarkFlagsMutuallyExclusive("checkpoint", "conversation")
}

// runCmd starts a new run
var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Run a task until it completes or a budget is spent",
	Long: `Run plans and executes tool calls toward the goal, reflecting after each
step. The run is checkpointed; an interrupted or paused run prints the
checkpoint id to resume from.

Examples:
  # Heuristic mode, no model configured
  agentloop run --type filesystem "List the files in /tmp" --root /tmp

  # With an MCP server's tools
  agentloop run --mcp "npx -y @modelcontextprotocol/server-everything" "Echo hello"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task := agent.Task{
			Goal:           strings.Join(args, " "),
			Type:           runTaskType,
			ConversationID: runConversationID,
		}
		return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator, exec agent.Executor) (*agent.Result, error) {
			return o.Run(ctx, task, exec)
		})
	},
}

// resumeCmd continues a paused or interrupted run
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a run from a checkpoint",
	Long: `Resume continues a run that was waiting for clarification or was
interrupted. The iteration count carries on from the checkpoint.

Examples:
  agentloop resume --checkpoint 3f2a9c1e-... --clarify "use the staging database"
  agentloop resume --conversation chat-42 --clarify "yes, delete it"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator, exec agent.Executor) (*agent.Result, error) {
			if runConversationID != "" {
				return o.ResumeConversation(ctx, runConversationID, resumeClarify, exec)
			}
			return o.Resume(ctx, resumeCheckpoint, resumeClarify, exec)
		})
	},
}

type runFunc func(ctx context.Context, o *orchestrator.Orchestrator, exec agent.Executor) (*agent.Result, error)

// withOrchestrator wires the app, cancels the run on SIGINT or SIGTERM,
// and prints the result.
func withOrchestrator(cmd *cobra.Command, fn runFunc) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stopMetrics := a.serveMetrics(ctx)
	defer stopMetrics()

	model, err := a.openModel()
	if err != nil {
		return err
	}
	exec, err := a.openTools(ctx, runRoots, runMCPCommand)
	if err != nil {
		return err
	}

	var onProgress orchestrator.ProgressCallback
	if !runQuiet && !outputJSON {
		onProgress = progressPrinter(cmd.ErrOrStderr())
	}
	o, err := a.orchestrator(model, onProgress)
	if err != nil {
		return err
	}

	res, runErr := fn(ctx, o, exec)
	if res != nil {
		if err := printResult(cmd.OutOrStdout(), res, outputJSON); err != nil {
			return err
		}
	}
	return runErr
}

func progressPrinter(w io.Writer) orchestrator.ProgressCallback {
	return func(p orchestrator.Progress) {
		tool := p.Tool
		if tool == "" {
			tool = "(no action)"
		}
		fmt.Fprintf(w, "[%d] %s -> %s | %s %d%% (confidence %.2f)\n",
			p.Iteration, tool, p.Outcome, p.Assessment, p.Percent, p.Confidence)
	}
}

func printResult(w io.Writer, res *agent.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "Status:     %s\n", res.Status)
	if res.Reason != agent.ReasonNone {
		fmt.Fprintf(w, "Reason:     %s\n", res.Reason)
	}
	fmt.Fprintf(w, "Iterations: %d\n", res.Iterations)
	if res.CheckpointID != "" {
		fmt.Fprintf(w, "Checkpoint: %s\n", res.CheckpointID)
	}
	fmt.Fprintf(w, "\n%s\n", res.Summary)
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	if res.Status == agent.StatusWaitingForClarification {
		if last := lastNextAction(res); last != "" {
			fmt.Fprintf(w, "\nThe agent asks: %s\n", last)
		}
		fmt.Fprintf(w, "Resume with: agentloop resume --checkpoint %s --clarify \"...\"\n", res.CheckpointID)
	}
	return nil
}

func lastNextAction(res *agent.Result) string {
	if len(res.Reflections) == 0 {
		return ""
	}
	return res.Reflections[len(res.Reflections)-1].NextAction
}

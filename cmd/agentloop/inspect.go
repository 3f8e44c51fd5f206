package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentloop/internal/memory"
)

var (
	// episodes search flags
	epTaskType string
	epLimit    int
)

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)

	rootCmd.AddCommand(episodesCmd)
	episodesCmd.AddCommand(episodesSearchCmd)
	episodesSearchCmd.Flags().StringVar(&epTaskType, "type", "", "Only search episodes of this task type")
	episodesSearchCmd.Flags().IntVar(&epLimit, "limit", 5, "Maximum number of episodes to return")
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect stored checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.memory.ListCheckpoints(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list checkpoints: %w", err)
		}
		return printCheckpoints(cmd.OutOrStdout(), infos, outputJSON)
	},
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <checkpoint-id>",
	Short: "Show the run state stored in a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		state, cfg, err := a.memory.LoadCheckpoint(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			State  any `json:"state"`
			Config any `json:"config"`
		}{state, cfg})
	},
}

var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "Inspect recorded episodes",
}

var episodesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find past sessions similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		eps, err := a.memory.SearchEpisodes(cmd.Context(), epTaskType, strings.Join(args, " "), epLimit)
		if err != nil {
			return fmt.Errorf("failed to search episodes: %w", err)
		}
		return printEpisodes(cmd.OutOrStdout(), eps, outputJSON)
	},
}

func printCheckpoints(w io.Writer, infos []memory.CheckpointInfo, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(w, "No checkpoints found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSESSION\tSTATUS\tITERATION\tCREATED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n",
			info.ID, info.SessionID, info.Status, info.Iteration, info.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func printEpisodes(w io.Writer, eps []memory.ScoredEpisode, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(eps)
	}
	if len(eps) == 0 {
		fmt.Fprintln(w, "No episodes found.")
		return nil
	}
	for _, ep := range eps {
		fmt.Fprintf(w, "%.2f  [%s] %s (%s)\n", ep.Score, ep.TaskType, ep.Goal, ep.Outcome)
		if ep.Summary != "" {
			fmt.Fprintf(w, "      %s\n", ep.Summary)
		}
	}
	return nil
}

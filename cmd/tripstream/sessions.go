package main

import (
	"github.com/spf13/cobra"

	"github.com/tjfontaine/tripstream/internal/storage"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List handed off sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		recs, err := store.ListResults(cmd.Context(), storage.ListOptions{Limit: limit, Offset: offset})
		if err != nil {
			return err
		}
		if recs == nil {
			recs = []*storage.SessionRecord{}
		}
		return printJSON(cmd.OutOrStdout(), recs)
	},
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Print a stored session and its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore()
		if err != nil {
			return err
		}
		rec, err := store.GetResult(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var sessionsFramesCmd = &cobra.Command{
	Use:   "frames <session-id>",
	Short: "Print the recorded frames of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore()
		if err != nil {
			return err
		}
		frames, err := store.ListFrames(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), frames)
	},
}

func init() {
	sessionsListCmd.Flags().Int("limit", 20, "Maximum sessions to list")
	sessionsListCmd.Flags().Int("offset", 0, "Sessions to skip")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsGetCmd)
	sessionsCmd.AddCommand(sessionsFramesCmd)
}

package main

import (
	"github.com/spf13/cobra"
)

var reviewReviewer string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review extracted requirement candidates",
}

var reviewAcceptCmd = &cobra.Command{
	Use:   "accept <rfp-id> <candidate-id>...",
	Short: "Accept candidates as-is",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "review")
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Review.Accept(cmd.Context(), args[0], args[1:], reviewReviewer)
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <rfp-id> <candidate-id>...",
	Short: "Reject candidates",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "review")
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Review.Reject(cmd.Context(), args[0], args[1:], reviewReviewer)
	},
}

var reviewEditCmd = &cobra.Command{
	Use:   "edit <rfp-id> <candidate-id> <text>",
	Short: "Replace a candidate's text, marking it MODIFIED",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "review")
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Review.Edit(cmd.Context(), args[0], args[1], args[2], reviewReviewer)
	},
}

var reviewMergeReason string

var reviewMergeCmd = &cobra.Command{
	Use:   "merge <rfp-id> <primary-id> <duplicate-id>...",
	Short: "Merge duplicate candidates into a primary",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "review")
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Review.Merge(cmd.Context(), args[0], args[1], args[2:], reviewReviewer, reviewMergeReason)
	},
}

var reviewConfirmCmd = &cobra.Command{
	Use:   "confirm <rfp-id>",
	Short: "Confirm the reviewed candidates as requirements",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "review")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Review.Confirm(cmd.Context(), args[0], reviewReviewer)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var reviewReanalyzeCmd = &cobra.Command{
	Use:   "reanalyze <rfp-id>",
	Short: "Send an RFP back for a fresh extraction pass",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "review")
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Review.RequestReanalysis(cmd.Context(), args[0])
	},
}

func init() {
	reviewCmd.PersistentFlags().StringVar(&reviewReviewer, "reviewer", "cli", "who is reviewing")
	reviewMergeCmd.Flags().StringVar(&reviewMergeReason, "reason", "", "why the candidates are duplicates")
	reviewCmd.AddCommand(reviewAcceptCmd, reviewRejectCmd, reviewEditCmd, reviewMergeCmd, reviewConfirmCmd, reviewReanalyzeCmd)
	rootCmd.AddCommand(reviewCmd)
}

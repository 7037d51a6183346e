package main

import (
	"github.com/spf13/cobra"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence <requirement-id>",
	Short: "Show the provenance chain for a confirmed requirement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "readonly")
		if err != nil {
			return err
		}
		defer env.Close()

		ev, err := env.Evidence.GetEvidence(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(ev)
	},
}

func init() {
	rootCmd.AddCommand(evidenceCmd)
}

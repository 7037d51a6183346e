package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/rfp-intake/internal/model"
)

var originCmd = &cobra.Command{
	Use:   "origin <project-id> <origin-type>",
	Short: "Pin a project's origin and resolve its policy",
	Long:  "Resolves the review policy for EXTERNAL_RFP, INTERNAL_INITIATIVE, MODERNIZATION, or MIXED and pins it to the project. RFPs waiting on a document advance to ORIGIN_DEFINED.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "intake")
		if err != nil {
			return err
		}
		defer env.Close()

		policy, err := env.Intake.SetOrigin(cmd.Context(), args[0], model.OriginType(args[1]))
		if err != nil {
			return err
		}
		return printJSON(policy)
	},
}

func init() {
	rootCmd.AddCommand(originCmd)
}

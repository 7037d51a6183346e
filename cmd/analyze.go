package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rfp-intake/internal/model"
)

var (
	analyzeRetry bool
	analyzeWait  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <rfp-id>",
	Short: "Run requirement extraction against an RFP's latest version",
	Long:  "Triggers an extraction run for the latest document version. --retry reruns a FAILED or NEEDS_REANALYSIS RFP; --wait blocks until the run reaches a terminal state and prints the result.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		ctx := cmd.Context()
		rfpID := args[0]

		if analyzeWait {
			ch := env.Extraction.Subscribe(ctx, rfpID)
			if _, err := startAnalysis(cmd, env, rfpID); err != nil {
				return err
			}
			return printJSON(<-ch)
		}

		run, err := startAnalysis(cmd, env, rfpID)
		if err != nil {
			return err
		}
		return printJSON(run)
	},
}

func startAnalysis(cmd *cobra.Command, env *workflowEnv, rfpID string) (*model.ExtractionRun, error) {
	ctx := cmd.Context()
	if analyzeRetry {
		return env.Extraction.RetryParse(ctx, rfpID)
	}

	versions, err := env.Store.ListVersions(ctx, rfpID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, eris.Wrap(model.ErrInvalidState, "analyze: rfp has no document")
	}
	return env.Extraction.Trigger(ctx, versions[len(versions)-1].ID)
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeRetry, "retry", false, "rerun after a failure or a reanalysis request")
	analyzeCmd.Flags().BoolVar(&analyzeWait, "wait", false, "block until the run finishes")
	rootCmd.AddCommand(analyzeCmd)
}

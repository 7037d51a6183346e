package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/rfp-intake/internal/model"
	"github.com/sells-group/rfp-intake/internal/store"
)

var (
	rfpsProject string
	rfpsStatus  string
	rfpsLimit   int
)

var rfpsCmd = &cobra.Command{
	Use:   "rfps",
	Short: "List and inspect RFPs",
}

var rfpsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List RFPs, optionally filtered by project or status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "readonly")
		if err != nil {
			return err
		}
		defer env.Close()

		rfps, err := env.Store.ListRfps(cmd.Context(), store.RfpFilter{
			ProjectID: rfpsProject,
			Status:    model.RfpStatus(rfpsStatus),
			Limit:     rfpsLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(rfps)
	},
}

var rfpsShowCmd = &cobra.Command{
	Use:   "show <rfp-id>",
	Short: "Show an RFP with its versions and latest run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "readonly")
		if err != nil {
			return err
		}
		defer env.Close()

		ctx := cmd.Context()
		rfp, err := env.Store.GetRfp(ctx, args[0])
		if err != nil {
			return err
		}
		versions, err := env.Store.ListVersions(ctx, rfp.ID)
		if err != nil {
			return err
		}
		runs, err := env.Store.ListRuns(ctx, rfp.ID)
		if err != nil {
			return err
		}

		out := map[string]any{
			"rfp":      rfp,
			"versions": versions,
		}
		if len(runs) > 0 {
			out["latest_run"] = runs[0]
		}
		return printJSON(out)
	},
}

func init() {
	rfpsListCmd.Flags().StringVar(&rfpsProject, "project", "", "filter by project")
	rfpsListCmd.Flags().StringVar(&rfpsStatus, "status", "", "filter by status")
	rfpsListCmd.Flags().IntVar(&rfpsLimit, "limit", 0, "cap the number of results")
	rfpsCmd.AddCommand(rfpsListCmd, rfpsShowCmd)
	rootCmd.AddCommand(rfpsCmd)
}

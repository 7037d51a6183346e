package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rfp-intake/internal/export"
	"github.com/sells-group/rfp-intake/internal/model"
)

var (
	exportOut     string
	exportVersion string
)

var exportCmd = &cobra.Command{
	Use:   "export <rfp-id>",
	Short: "Export confirmed requirements to an xlsx workbook",
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

		label := exportVersion
		var versionID string
		if label != "" {
			v, err := env.Store.GetVersionByLabel(ctx, rfp.ID, label)
			if err != nil {
				return err
			}
			versionID = v.ID
		} else {
			versions, err := env.Store.ListVersions(ctx, rfp.ID)
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				return eris.Wrap(model.ErrNotFound, "export: rfp has no versions")
			}
			latest := versions[len(versions)-1]
			versionID = latest.ID
			label = latest.VersionLabel
		}

		reqs, err := env.Store.ListRequirements(ctx, rfp.ID, versionID)
		if err != nil {
			return err
		}

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrap(err, "export: create output file")
		}
		defer f.Close()
		return export.WriteRequirements(f, rfp, label, reqs)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "requirements.xlsx", "output xlsx path")
	exportCmd.Flags().StringVar(&exportVersion, "version", "", "version label (defaults to the latest)")
	rootCmd.AddCommand(exportCmd)
}

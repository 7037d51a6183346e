package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rfp-intake/internal/export"
)

var diffOut string

var diffCmd = &cobra.Command{
	Use:   "diff <rfp-id> <from-version> <to-version>",
	Short: "Compare confirmed requirements across two versions",
	Long:  "Computes added, removed, and modified requirements between two confirmed version labels. With -o the diff is written as an xlsx workbook instead of JSON.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initWorkflow(cmd.Context(), "readonly")
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := env.Diff.Compare(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if diffOut == "" {
			return printJSON(d)
		}

		f, err := os.Create(diffOut)
		if err != nil {
			return eris.Wrap(err, "diff: create output file")
		}
		defer f.Close()
		return export.WriteDiff(f, d)
	},
}

func init() {
	diffCmd.Flags().StringVarP(&diffOut, "out", "o", "", "write the diff to an xlsx file")
	rootCmd.AddCommand(diffCmd)
}

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	uploadProject string
	uploadRfp     string
	uploadTitle   string
	uploadActor   string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file-or-url>",
	Short: "Attach an RFP document from a local file or a remote URL",
	Long:  "Creates an RFP under --project from the given document, or appends a new version to an existing RFP with --rfp. http(s) and ftp URLs are fetched; anything else is read as a local file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Auto-analysis can fire on upload, so the extractor must be configured.
		env, err := initWorkflow(cmd.Context(), "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		ctx := cmd.Context()
		src := args[0]
		remote := strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "ftp://")

		if uploadRfp != "" {
			if remote {
				return eris.New("upload: --rfp takes a local file")
			}
			data, err := os.ReadFile(src)
			if err != nil {
				return eris.Wrap(err, "upload: read file")
			}
			version, err := env.Intake.AddVersion(ctx, uploadRfp, filepath.Base(src), "", data, uploadActor)
			if err != nil {
				return err
			}
			return printJSON(version)
		}

		if uploadProject == "" {
			return eris.New("upload: --project or --rfp is required")
		}
		title := uploadTitle
		if title == "" {
			title = filepath.Base(src)
		}

		if remote {
			rfp, version, err := env.Intake.CreateFromURI(ctx, uploadProject, title, src, uploadActor)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"rfp": rfp, "version": version})
		}

		data, err := os.ReadFile(src)
		if err != nil {
			return eris.Wrap(err, "upload: read file")
		}
		rfp, version, err := env.Intake.CreateFromUpload(ctx, uploadProject, title, filepath.Base(src), "", data, uploadActor)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"rfp": rfp, "version": version})
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadProject, "project", "", "project to create the RFP under")
	uploadCmd.Flags().StringVar(&uploadRfp, "rfp", "", "existing RFP to append a version to")
	uploadCmd.Flags().StringVar(&uploadTitle, "title", "", "RFP title (defaults to the file name)")
	uploadCmd.Flags().StringVar(&uploadActor, "actor", "cli", "who is uploading")
	rootCmd.AddCommand(uploadCmd)
}

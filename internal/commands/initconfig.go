package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/dvloznov/statement-pipeline/internal/config"
	"github.com/spf13/cobra"
)

func newInitConfigCommand() *cobra.Command {
	var (
		project string
		bucket  string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a pipeline.yaml with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "pipeline.yaml"
			if len(args) > 0 {
				path = args[0]
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("checking %s: %w", path, err)
			}

			cfg := config.Default()
			cfg.GCP.ProjectID = project
			cfg.GCP.Bucket = bucket
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "GCP project ID")
	cmd.Flags().StringVar(&bucket, "bucket", "", "GCS bucket for upload archival")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReenhanceCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reenhance <analysis-id>",
		Short: "Re-run merchant enrichment over a stored analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			enhanced, total, err := a.orch.Reenhance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enhanced %d of %d transactions\n", enhanced, total)
			return nil
		},
	}
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/spf13/cobra"
)

func newFormatsCommand(root *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List learned statement formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log, appOptions{noModel: true})
			if err != nil {
				return err
			}
			defer a.Close()

			return printFormats(cmd.Context(), cmd.OutOrStdout(), a.formats, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print formats as JSON, including procedures")
	return cmd
}

type formatLister interface {
	List(ctx context.Context) ([]*formats.LearnedFormat, error)
}

func printFormats(ctx context.Context, out io.Writer, lister formatLister, jsonOut bool) error {
	list, err := lister.List(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBANK\tTYPE\tUSES\tLAST USED\tLEARNED")
	for _, f := range list {
		lastUsed := "-"
		if f.LastUsedAt != nil {
			lastUsed = f.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			f.ID, f.BankName, f.StatementType, f.UseCount, lastUsed, f.LearnedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}

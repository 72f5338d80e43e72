package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/ingest"
	"github.com/spf13/cobra"
)

type ingestOptions struct {
	name       string
	analysisID string
	dryRun     bool
	noModel    bool
	archive    bool
	jsonOut    bool
	timeout    time.Duration
}

func newIngestCommand(root *rootOptions) *cobra.Command {
	opts := &ingestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest <file|dir|gs://uri>...",
		Short: "Extract, enrich and store the transactions of statement files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, opts.timeout)
			defer cancel()

			docs, err := loadDocuments(ctx, args, nil)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, log, appOptions{dryRun: opts.dryRun, noModel: opts.noModel, archive: opts.archive})
			if err != nil {
				return err
			}
			defer a.Close()

			return runIngest(ctx, cmd.OutOrStdout(), a.orch, opts, docs)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "name of the new analysis (default: CLI import <timestamp>)")
	cmd.Flags().StringVar(&opts.analysisID, "analysis", "", "add to an existing analysis instead of creating one")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "keep results in memory instead of BigQuery")
	cmd.Flags().BoolVar(&opts.noModel, "no-model", false, "run without the completion model (pattern, CSV and OFX parsing only)")
	cmd.Flags().BoolVar(&opts.archive, "archive", false, "copy inputs to the configured GCS bucket")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the full result as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 15*time.Minute, "overall timeout")

	return cmd
}

func runIngest(ctx context.Context, out io.Writer, orch *ingest.Orchestrator, opts *ingestOptions, docs []domain.Document) error {
	var (
		res *ingest.Result
		err error
	)
	if opts.analysisID == "" {
		name := opts.name
		if name == "" {
			name = "CLI import " + time.Now().UTC().Format("2006-01-02 15:04")
		}
		res, err = orch.IngestNew(ctx, name, docs)
	} else {
		res, err = orch.Ingest(ctx, opts.analysisID, docs)
	}
	if err != nil && !errors.Is(err, ingest.ErrNoTransactions) {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tBANK\tMETHOD\tTRANSACTIONS\tERROR")
	for _, f := range res.Files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", f.Filename, f.BankName, f.Method, f.TransactionCount, f.Error)
	}
	if flushErr := tw.Flush(); flushErr != nil {
		return flushErr
	}
	if res.AnalysisID == "" {
		fmt.Fprintln(out, "\nNo transactions extracted; no analysis created")
		return err
	}
	fmt.Fprintf(out, "\nAnalysis %s: %d transactions (%d newly stored)\n", res.AnalysisID, res.TransactionCount, res.Inserted)
	return err
}

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/dvloznov/statement-pipeline/internal/detector"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/fingerprint"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/dvloznov/statement-pipeline/internal/pdftext"
	"github.com/spf13/cobra"
)

func newFingerprintCommand(root *rootOptions) *cobra.Command {
	var lookup bool

	cmd := &cobra.Command{
		Use:   "fingerprint <file|gs://uri>",
		Short: "Detect a statement's format and print its layout fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup(cmd)
			if err != nil {
				return err
			}
			docs, err := loadDocuments(cmd.Context(), args, nil)
			if err != nil {
				return err
			}
			if len(docs) != 1 {
				return fmt.Errorf("expected one file, got %d", len(docs))
			}

			var lister formatLookup
			if lookup {
				a, err := newApp(cmd.Context(), cfg, log, appOptions{noModel: true})
				if err != nil {
					return err
				}
				defer a.Close()
				lister = a.formats
			}

			d := detector.New(pdftext.New(), log)
			return describe(cmd.Context(), cmd.OutOrStdout(), d, pdftext.New(), lister, docs[0])
		},
	}
	cmd.Flags().BoolVar(&lookup, "lookup", false, "also look the fingerprint up in the learned formats")
	return cmd
}

type formatLookup interface {
	Lookup(ctx context.Context, fingerprint string) (*formats.LearnedFormat, error)
}

type textExtractor interface {
	Extract(data []byte) (string, error)
}

// describe prints the detected format of doc. PDFs also get a fingerprint
// and, when lister is set, the learned format it maps to.
func describe(ctx context.Context, out io.Writer, d *detector.Detector, pdf textExtractor, lister formatLookup, doc domain.Document) error {
	format := d.Detect(doc.Filename, doc.Data)
	fmt.Fprintf(out, "File:           %s\n", doc.Filename)
	fmt.Fprintf(out, "Container:      %s\n", format.Container)
	fmt.Fprintf(out, "Bank:           %s\n", format.BankName)
	fmt.Fprintf(out, "Statement type: %s\n", format.StatementType)

	if format.Container != domain.ContainerPDF {
		return nil
	}

	text, err := pdf.Extract(doc.Data)
	if err != nil {
		fmt.Fprintf(out, "Fingerprint:    - (%v)\n", err)
		return nil
	}
	fp := fingerprint.Compute(text)
	fmt.Fprintf(out, "Fingerprint:    %s\n", fp)
	if layout, err := fingerprint.Decode(fp); err == nil {
		fmt.Fprintf(out, "Layout:         %s\n", truncateLayout(layout, 120))
	}

	if lister == nil {
		return nil
	}
	learned, err := lister.Lookup(ctx, fp)
	if err != nil {
		return err
	}
	if learned == nil {
		fmt.Fprintln(out, "Learned format: none")
		return nil
	}
	fmt.Fprintf(out, "Learned format: %s (%s, used %d times)\n", learned.ID, learned.BankName, learned.UseCount)
	return nil
}

func truncateLayout(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

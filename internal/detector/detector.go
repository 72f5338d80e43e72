// Package detector classifies uploaded statements by container type and,
// for PDFs, by issuing bank.
package detector

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/rs/zerolog"
)

// bankScanWindow is how much of the statement text is searched for a bank name.
const bankScanWindow = 1000

var containerByExt = map[string]domain.ContainerType{
	".csv":  domain.ContainerCSV,
	".pdf":  domain.ContainerPDF,
	".png":  domain.ContainerImage,
	".jpg":  domain.ContainerImage,
	".jpeg": domain.ContainerImage,
	".gif":  domain.ContainerImage,
	".webp": domain.ContainerImage,
	".ofx":  domain.ContainerOFX,
	".qif":  domain.ContainerQIF,
}

// bankRule matches one institution. Rules are evaluated in order and the
// first hit wins, so institutions with overlapping keywords go most specific first.
type bankRule struct {
	name          string
	pattern       *regexp.Regexp
	statementType domain.StatementType
}

// Short acronyms are matched on word boundaries; "ing" alone would hit "banking".
var bankRules = []bankRule{
	{"American Express", regexp.MustCompile(`(?i)american express|\bamex\b`), domain.StatementCreditCard},
	{"Commonwealth Bank", regexp.MustCompile(`(?i)commonwealth bank|\bcommbank\b`), ""},
	{"NAB", regexp.MustCompile(`(?i)national australia bank|\bnab\b`), ""},
	{"Westpac", regexp.MustCompile(`(?i)westpac`), ""},
	{"ANZ", regexp.MustCompile(`(?i)\banz\b|australia and new zealand banking`), ""},
	{"ING", regexp.MustCompile(`(?i)\bing\b`), ""},
	{"Macquarie", regexp.MustCompile(`(?i)macquarie`), ""},
	{"Bank of Melbourne", regexp.MustCompile(`(?i)bank of melbourne`), ""},
	{"St.George", regexp.MustCompile(`(?i)st\.?\s?george`), ""},
}

var creditCardHint = regexp.MustCompile(`(?i)credit card|card statement|credit limit`)

// TextExtractor pulls text from a PDF. Satisfied by *pdftext.Extractor.
type TextExtractor interface {
	Extract(data []byte) (string, error)
}

// Detector classifies documents.
type Detector struct {
	pdf TextExtractor
	log zerolog.Logger
}

// New creates a Detector. pdf may be nil when only container detection is needed.
func New(pdf TextExtractor, log zerolog.Logger) *Detector {
	return &Detector{pdf: pdf, log: log}
}

// Detect classifies a document. Unsupported extensions are logged and reported
// as ContainerUnsupported; they are never an error.
func (d *Detector) Detect(filename string, data []byte) domain.DetectedFormat {
	container := ContainerOf(filename)
	format := domain.DetectedFormat{
		Container:     container,
		BankName:      domain.UnknownBank,
		StatementType: domain.StatementUnknown,
	}

	switch container {
	case domain.ContainerUnsupported:
		d.log.Warn().Str("file", filename).Msg("Unsupported file type, skipping")
	case domain.ContainerPDF:
		if d.pdf == nil {
			return format
		}
		text, err := d.pdf.Extract(data)
		if err != nil {
			d.log.Warn().Err(err).Str("file", filename).Msg("Could not read PDF text for bank detection")
			return format
		}
		format.BankName, format.StatementType = DetectBank(text)
	}

	return format
}

// ContainerOf maps a filename extension to a container type.
func ContainerOf(filename string) domain.ContainerType {
	ext := strings.ToLower(filepath.Ext(filename))
	if c, ok := containerByExt[ext]; ok {
		return c
	}
	return domain.ContainerUnsupported
}

// Supported reports whether the file extension is accepted for upload.
func Supported(filename string) bool {
	return ContainerOf(filename) != domain.ContainerUnsupported
}

// DetectBank scans the head of the statement text against the ordered bank rules.
func DetectBank(text string) (string, domain.StatementType) {
	head := text
	if r := []rune(text); len(r) > bankScanWindow {
		head = string(r[:bankScanWindow])
	}

	for _, rule := range bankRules {
		if !rule.pattern.MatchString(head) {
			continue
		}
		if rule.statementType != "" {
			return rule.name, rule.statementType
		}
		if creditCardHint.MatchString(head) {
			return rule.name, domain.StatementCreditCard
		}
		return rule.name, domain.StatementTransaction
	}

	return domain.UnknownBank, domain.StatementUnknown
}

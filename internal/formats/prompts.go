package formats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-pipeline/internal/procedure"
)

func learnPrompt(req LearnRequest) string {
	samples := req.Samples
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	sampleJSON, _ := json.MarshalIndent(samples, "", "  ")

	var b strings.Builder
	b.WriteString("You are analysing the layout of a " + req.BankName + " bank statement")
	if req.StatementType != "" {
		b.WriteString(" (" + string(req.StatementType) + ")")
	}
	b.WriteString(".\n\n")
	b.WriteString("Task:\n" +
		"- Describe the statement layout in one or two sentences.\n" +
		"- Write an extraction procedure that, applied line by line to the FULL statement text, " +
		"returns the transactions shown in the samples below.\n\n")
	b.WriteString("The procedure is a JSON object with these fields:\n" +
		"- \"line_pattern\": RE2 regular expression matched against each trimmed line. " +
		"Use named groups (?P<date>...), (?P<description>...) and either (?P<amount>...) or (?P<debit>...)/(?P<credit>...). " +
		"An optional (?P<merchant>...) group may be used. No lookahead or backreferences.\n" +
		"- \"date_formats\": list of date formats using DD, D, MM, M, MMM, MMMM, YY, YYYY tokens, e.g. \"DD/MM/YYYY\" or \"DD MMM\".\n" +
		"- \"year_pattern\": RE2 regex whose first group captures the statement year, needed when dates have no year.\n" +
		"- \"amount_sign\": one of \"as_is\", \"negate\", \"debit_credit\", \"cr_suffix\". " +
		"The result must have debits negative and credits positive.\n" +
		"- \"skip_patterns\": list of RE2 regexes for lines to ignore (balances, headers, footers).\n" +
		"- \"start_marker\" / \"end_marker\": optional literal text bounding the transaction section.\n" +
		"- \"continuation\": true when wrapped description lines should be appended to the previous transaction.\n\n")
	b.WriteString("Sample transactions already extracted from this statement:\n")
	b.Write(sampleJSON)
	b.WriteString("\n\nStatement text (first page):\n")
	b.WriteString(head(req.FullText, learnTextWindow))
	b.WriteString("\n\nReturn ONLY a JSON object of the form {\"description\": string, \"procedure\": {...}}.\n" +
		"Do NOT wrap the response in code fences.\n")
	return b.String()
}

func procedureFromMap(m map[string]interface{}) (*procedure.Procedure, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("procedureFromMap: marshal: %w", err)
	}
	p, err := procedure.Parse(string(b))
	if err != nil {
		return nil, fmt.Errorf("procedureFromMap: %w", err)
	}
	return p, nil
}

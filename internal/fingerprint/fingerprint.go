// Package fingerprint derives a layout signature from statement text so that
// statements produced by the same bank template map to the same key.
package fingerprint

import (
	"encoding/base64"
	"regexp"
	"strings"
)

const (
	// headWindow approximates the first page.
	headWindow = 2000
	// keyWindow is how much normalized text goes into the fingerprint.
	keyWindow = 500

	dateToken   = "<date>"
	amountToken = "<amt>"
	numberToken = "<num>"
)

// Replacement order matters: dates before amounts before bare digit runs.
var (
	numericDateRe = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2}`)
	namedDateRe   = regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?(?:\s+\d{2,4})?\b`)
	amountRe      = regexp.MustCompile(`-?\$?\d+(?:,\d{3})*\.\d{2}`)
	longNumberRe  = regexp.MustCompile(`\d{4,}`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// Compute returns the fingerprint of a statement's extracted text.
// It is a pure function of the layout text; dates, amounts and account
// numbers inside the first page do not affect it.
func Compute(fullText string) string {
	return base64.StdEncoding.EncodeToString([]byte(Normalize(fullText)))
}

// Normalize returns the placeholder form of the statement head that Compute encodes.
func Normalize(fullText string) string {
	s := truncate(fullText, headWindow)

	s = numericDateRe.ReplaceAllString(s, dateToken)
	s = namedDateRe.ReplaceAllString(s, dateToken)
	s = amountRe.ReplaceAllString(s, amountToken)
	s = longNumberRe.ReplaceAllString(s, numberToken)
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(strings.ToLower(s))

	return truncate(s, keyWindow)
}

// Decode reverses the base64 step, for inspection tooling.
func Decode(fp string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(fp)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

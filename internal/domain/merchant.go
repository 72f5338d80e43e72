package domain

import (
	"regexp"
	"strings"
)

var (
	merchantPrefixRe = regexp.MustCompile(`(?i)^(?:(?:eftpos|visa purchase|visa debit purchase|debit card purchase|card purchase|purchase|pos|direct debit|osko payment|bpay)\s+|(?:sq|sp|paypal)\s?\*\s*)`)
	// Terminal ids, card fragments and trailing references end the merchant name.
	merchantStopRe = regexp.MustCompile(`(?i)\s+(?:\d{3,}|x{2,}\d+|card\s+\S+|value date\b|ref\b|receipt\b|aus$|au$).*$`)
)

// MerchantName makes a best-effort merchant name out of a bank description.
func MerchantName(description string) string {
	s := strings.TrimSpace(description)
	for {
		trimmed := merchantPrefixRe.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	s = merchantStopRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return strings.TrimSpace(description)
	}
	return s
}

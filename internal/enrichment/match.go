package enrichment

import (
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// minFuzzyLen is the shortest cleaned name allowed to match fuzzily.
const minFuzzyLen = 4

var legalSuffixes = map[string]bool{
	"pty":         true,
	"ltd":         true,
	"limited":     true,
	"corp":        true,
	"corporation": true,
	"inc":         true,
}

// cleanName lowercases a merchant name, drops punctuation and removes
// company-form tokens such as "Pty Ltd".
func cleanName(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '.' || r == '&' {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)

	var kept []string
	for _, tok := range strings.Fields(s) {
		if legalSuffixes[strings.Trim(tok, ".")] {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// match resolves a merchant against the cache: exact lowercased key first,
// then fuzzy containment on cleaned names. When several keys qualify the
// one with the highest Levenshtein ratio wins.
func match(cache Cache, merchant string) (Entry, bool) {
	key := normalizeKey(merchant)
	if key == "" {
		return Entry{}, false
	}
	if e, ok := cache.Lookup(key); ok {
		return e, true
	}

	name := cleanName(key)
	if len(name) < minFuzzyLen {
		return Entry{}, false
	}

	var (
		best      string
		bestRatio = -1.0
	)
	for _, k := range cache.Keys() {
		candidate := cleanName(k)
		if len(candidate) < minFuzzyLen {
			continue
		}
		if !strings.Contains(name, candidate) && !strings.Contains(candidate, name) {
			continue
		}
		ratio := levenshtein.RatioForStrings([]rune(name), []rune(candidate), levenshtein.DefaultOptions)
		if ratio > bestRatio {
			best, bestRatio = k, ratio
		}
	}
	if bestRatio < 0 {
		return Entry{}, false
	}
	return cache.Lookup(best)
}

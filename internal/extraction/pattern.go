package extraction

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/procedure"
	"github.com/shopspring/decimal"
)

// ErrTooFewTransactions means the pattern strategy found fewer rows than the
// acceptance floor and its result is not trusted.
var ErrTooFewTransactions = errors.New("too few transactions for pattern extraction")

// amountLookahead is how many following lines a dated line may borrow its amount from.
const amountLookahead = 5

const monthNames = `(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?`

var (
	leadingDateRe = regexp.MustCompile(`(?i)^(` +
		`\d{4}-\d{2}-\d{2}` +
		`|\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?` +
		`|\d{1,2}\.\d{1,2}\.\d{2,4}` +
		`|\d{1,2}[\s-]` + monthNames +
		`|` + monthNames + `\s+\d{1,2}(?:,?\s+\d{4})?` +
		`)\b`)
	dayMonthRe      = regexp.MustCompile(`(?i)^\d{1,2}[\s-]` + monthNames + `$`)
	yearSuffixRe    = regexp.MustCompile(`^[\s-]((?:19|20)\d{2}|\d{2})\b`)
	amountFieldRe   = regexp.MustCompile(`(?i)^\(?-?\$?(?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2}\)?(?:cr|dr)?-?$`)
	summaryLineRe   = regexp.MustCompile(`(?i)opening balance|closing balance|balance (?:brought|carried) forward|^total|sub-?total|statement (?:begins|ends)`)
	creditHintRe    = regexp.MustCompile(`(?i)salary|payroll|deposit|refund|interest (?:paid|credit)|transfer from|payment received|payment - thank you|thank you for your payment|cashback|reversal|\bcredit\b`)
)

// patternStrategy is the deterministic, regex driven extractor. It handles
// both one-line rows and rows whose amount sits on a following line.
type patternStrategy struct {
	minTransactions int
}

func (p *patternStrategy) Method() domain.Method { return domain.MethodPattern }

type amountToken struct {
	value    decimal.Decimal
	explicit bool
}

func (p *patternStrategy) Attempt(ctx context.Context, text string) ([]domain.RawTransaction, error) {
	years := procedure.NewYearResolver(text, statementYear(text))
	lines := strings.Split(text, "\n")
	twoDigitYears := twoDigitYearLayout(lines)

	var (
		out         []domain.RawTransaction
		prevBalance *decimal.Decimal
	)

	for i := 0; i < len(lines); i++ {
		if i%256 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if summaryLineRe.MatchString(line) {
			if amts := findAmounts(line); len(amts) > 0 {
				b := amts[len(amts)-1].value
				prevBalance = &b
			}
			continue
		}

		short, long, ok := leadingDate(line, twoDigitYears)
		if !ok {
			continue
		}
		end := long
		date, err := parseDateYears(line[:long], years.Resolve)
		if err != nil && short < long {
			end = short
			date, err = parseDateYears(line[:short], years.Resolve)
		}
		if err != nil {
			continue
		}
		rest := strings.TrimSpace(line[end:])

		// Single-line layout: amounts on the dated line itself.
		desc, amts := splitDescription(rest)

		// Multi-line layout: description continues until an amount shows up.
		consumed := 0
		for len(amts) == 0 && consumed < amountLookahead && i+consumed+1 < len(lines) {
			next := strings.TrimSpace(lines[i+consumed+1])
			if next == "" {
				consumed++
				continue
			}
			if leadingDateRe.MatchString(next) || summaryLineRe.MatchString(next) {
				break
			}
			consumed++
			more, nextAmts := splitDescription(next)
			desc = strings.TrimSpace(desc + " " + more)
			amts = nextAmts
		}
		if len(amts) == 0 || desc == "" {
			continue
		}
		i += consumed

		amount := signAmount(desc, amts, prevBalance)
		if len(amts) > 1 {
			b := amts[len(amts)-1].value
			prevBalance = &b
		}

		out = append(out, domain.RawTransaction{
			Date:        date,
			Description: desc,
			Amount:      amount,
			Merchant:    domain.MerchantName(desc),
		})
	}

	if len(out) < p.minTransactions {
		return nil, fmt.Errorf("%w: found %d, need %d", ErrTooFewTransactions, len(out), p.minTransactions)
	}
	return out, nil
}

// leadingDate finds the date at the start of line. short ends after the
// day and month; long also covers a trailing year. The two differ only for
// day-month dates followed by a year, where a 2-digit year is taken only
// when the statement prints one on most such rows.
func leadingDate(line string, twoDigitYears bool) (short, long int, ok bool) {
	loc := leadingDateRe.FindStringSubmatchIndex(line)
	if loc == nil {
		return 0, 0, false
	}
	short, long = loc[3], loc[3]
	if !dayMonthRe.MatchString(line[:short]) {
		return short, long, true
	}
	if m := yearSuffixRe.FindStringSubmatchIndex(line[short:]); m != nil {
		if m[3]-m[2] == 4 || twoDigitYears {
			long = short + m[1]
		}
	}
	return short, long, true
}

// twoDigitYearLayout reports whether most day-month dated rows carry a
// 2-digit year, as in "04 Jul 24". A minority of such rows is read as
// descriptions starting with a number, as in "04 Jul 24 HOUR FITNESS".
func twoDigitYearLayout(lines []string) bool {
	total, withYear := 0, 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		loc := leadingDateRe.FindStringSubmatchIndex(line)
		if loc == nil || !dayMonthRe.MatchString(line[:loc[3]]) {
			continue
		}
		total++
		if m := yearSuffixRe.FindStringSubmatch(line[loc[3]:]); m != nil && len(m[1]) == 2 {
			withYear++
		}
	}
	return total > 0 && withYear*2 > total
}

// splitDescription cuts a line at its first amount and returns the words
// before it plus every amount on the line. A detached CR/DR marker is
// folded into the amount it follows.
func splitDescription(s string) (string, []amountToken) {
	fields := strings.Fields(s)

	var (
		words []string
		amts  []amountToken
	)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if amountFieldRe.MatchString(f) {
			raw := f
			if i+1 < len(fields) && (strings.EqualFold(fields[i+1], "CR") || strings.EqualFold(fields[i+1], "DR")) {
				raw += fields[i+1]
				i++
			}
			if tok, ok := parseToken(raw); ok {
				amts = append(amts, tok)
				continue
			}
		}
		if len(amts) == 0 {
			words = append(words, f)
		}
	}
	return strings.Join(words, " "), amts
}

func findAmounts(s string) []amountToken {
	_, amts := splitDescription(s)
	return amts
}

func parseToken(raw string) (amountToken, bool) {
	v, isCredit, err := procedure.ParseAmount(raw)
	if err != nil {
		return amountToken{}, false
	}
	upper := strings.ToUpper(raw)
	explicit := isCredit || v.IsNegative() || strings.HasSuffix(upper, "DR")
	if isCredit {
		v = v.Abs()
	}
	return amountToken{value: v, explicit: explicit}, true
}

// signAmount decides the sign of the transaction amount. Explicit markers
// win; then a running balance delta; then description keywords; debits otherwise.
func signAmount(desc string, amts []amountToken, prevBalance *decimal.Decimal) decimal.Decimal {
	first := amts[0]
	if first.explicit {
		return first.value
	}
	abs := first.value.Abs()

	if len(amts) > 1 && prevBalance != nil {
		delta := amts[len(amts)-1].value.Sub(*prevBalance)
		if delta.Abs().Equal(abs) {
			if delta.IsNegative() {
				return abs.Neg()
			}
			return abs
		}
	}

	if creditHintRe.MatchString(desc) {
		return abs
	}
	return abs.Neg()
}

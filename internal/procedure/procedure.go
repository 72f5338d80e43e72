// Package procedure implements learned extraction procedures: declarative,
// data-only rule sets that turn the text of one statement layout into
// transactions without calling any external service.
package procedure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/shopspring/decimal"
)

// Amount sign policies.
const (
	SignAsIs        = "as_is"
	SignNegate      = "negate"
	SignDebitCredit = "debit_credit"
	SignCRSuffix    = "cr_suffix"
)

const (
	// DefaultTimeout bounds a single execution.
	DefaultTimeout = 5 * time.Second
	// maxLines caps the input so a runaway statement cannot stall ingestion.
	maxLines = 50000
	// ctxCheckEvery is how often the line loop polls for cancellation.
	ctxCheckEvery = 256
)

var (
	// ErrNoTransactions means the procedure ran but matched nothing.
	ErrNoTransactions = errors.New("procedure produced no transactions")
	// ErrInvalidProcedure means the rule set failed validation.
	ErrInvalidProcedure = errors.New("invalid procedure")
)

var defaultYearRe = regexp.MustCompile(`\b(20\d{2})\b`)

// Procedure is a learned rule set for one statement layout.
//
// LinePattern is an RE2 expression with named groups. "date" and
// "description" are required, plus either "amount" or "debit"/"credit".
// "merchant" is optional.
type Procedure struct {
	LinePattern  string   `json:"line_pattern"`
	DateFormats  []string `json:"date_formats"`
	YearPattern  string   `json:"year_pattern,omitempty"`
	AmountSign   string   `json:"amount_sign"`
	SkipPatterns []string `json:"skip_patterns,omitempty"`
	StartMarker  string   `json:"start_marker,omitempty"`
	EndMarker    string   `json:"end_marker,omitempty"`
	Continuation bool     `json:"continuation,omitempty"`
}

// Parse decodes a JSON procedure and validates it.
func Parse(raw string) (*Procedure, error) {
	var p Procedure
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("Parse: unmarshal: %w", err)
	}
	if _, err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// JSON returns the stored representation.
func (p *Procedure) JSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("JSON: marshal: %w", err)
	}
	return string(b), nil
}

type compiled struct {
	line    *regexp.Regexp
	year    *regexp.Regexp
	skips   []*regexp.Regexp
	layouts []string
	hasYear []bool
	groups  map[string]int
}

// Validate checks that the procedure compiles and has the required groups.
func (p *Procedure) Validate() error {
	_, err := p.compile()
	return err
}

func (p *Procedure) compile() (*compiled, error) {
	if p.LinePattern == "" {
		return nil, fmt.Errorf("%w: empty line_pattern", ErrInvalidProcedure)
	}
	line, err := regexp.Compile(p.LinePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: line_pattern: %v", ErrInvalidProcedure, err)
	}

	c := &compiled{line: line, groups: map[string]int{}}
	for i, name := range line.SubexpNames() {
		if name != "" {
			c.groups[name] = i
		}
	}
	for _, g := range []string{"date", "description"} {
		if _, ok := c.groups[g]; !ok {
			return nil, fmt.Errorf("%w: line_pattern lacks %q group", ErrInvalidProcedure, g)
		}
	}

	switch p.AmountSign {
	case SignDebitCredit:
		_, hasDebit := c.groups["debit"]
		_, hasCredit := c.groups["credit"]
		if !hasDebit && !hasCredit {
			return nil, fmt.Errorf("%w: debit_credit needs debit or credit group", ErrInvalidProcedure)
		}
	case SignAsIs, SignNegate, SignCRSuffix, "":
		if _, ok := c.groups["amount"]; !ok {
			return nil, fmt.Errorf("%w: line_pattern lacks \"amount\" group", ErrInvalidProcedure)
		}
	default:
		return nil, fmt.Errorf("%w: unknown amount_sign %q", ErrInvalidProcedure, p.AmountSign)
	}

	if len(p.DateFormats) == 0 {
		return nil, fmt.Errorf("%w: no date_formats", ErrInvalidProcedure)
	}
	for _, f := range p.DateFormats {
		layout, withYear, err := Layout(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProcedure, err)
		}
		c.layouts = append(c.layouts, layout)
		c.hasYear = append(c.hasYear, withYear)
	}

	if p.YearPattern != "" {
		if c.year, err = regexp.Compile(p.YearPattern); err != nil {
			return nil, fmt.Errorf("%w: year_pattern: %v", ErrInvalidProcedure, err)
		}
	}
	for _, s := range p.SkipPatterns {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("%w: skip pattern %q: %v", ErrInvalidProcedure, s, err)
		}
		c.skips = append(c.skips, re)
	}

	return c, nil
}

// Execute runs the procedure over the full statement text. It enforces
// DefaultTimeout on top of ctx and validates every produced row.
func (p *Procedure) Execute(ctx context.Context, text string) ([]domain.RawTransaction, error) {
	c, err := p.compile()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	years := NewYearResolver(text, c.statementYear(text))
	lines := strings.Split(p.section(text), "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}

	var out []domain.RawTransaction
	for i, line := range lines {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("Execute: %w", err)
			}
		}

		line = strings.TrimSpace(line)
		if line == "" || c.skipped(line) {
			continue
		}

		m := c.line.FindStringSubmatch(line)
		if m == nil {
			if p.Continuation && len(out) > 0 {
				last := &out[len(out)-1]
				last.Description = strings.TrimSpace(last.Description + " " + line)
			}
			continue
		}

		tx, err := p.row(c, m, years)
		if err != nil {
			return nil, fmt.Errorf("Execute: line %d: %w", i+1, err)
		}
		out = append(out, tx)
	}

	if len(out) == 0 {
		return nil, ErrNoTransactions
	}
	for i := range out {
		if out[i].Merchant == "" {
			out[i].Merchant = domain.MerchantName(out[i].Description)
		}
	}
	return out, nil
}

func (p *Procedure) section(text string) string {
	if p.StartMarker != "" {
		if i := strings.Index(text, p.StartMarker); i >= 0 {
			text = text[i+len(p.StartMarker):]
		}
	}
	if p.EndMarker != "" {
		if i := strings.Index(text, p.EndMarker); i >= 0 {
			text = text[:i]
		}
	}
	return text
}

func (c *compiled) skipped(line string) bool {
	for _, re := range c.skips {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func (c *compiled) statementYear(text string) int {
	re := c.year
	if re == nil {
		re = defaultYearRe
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	y, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return y
}

func (c *compiled) group(m []string, name string) string {
	i, ok := c.groups[name]
	if !ok || i >= len(m) {
		return ""
	}
	return strings.TrimSpace(m[i])
}

func (p *Procedure) row(c *compiled, m []string, years *YearResolver) (domain.RawTransaction, error) {
	date, err := c.parseDate(c.group(m, "date"), years)
	if err != nil {
		return domain.RawTransaction{}, err
	}

	desc := c.group(m, "description")
	if desc == "" {
		return domain.RawTransaction{}, errors.New("empty description")
	}

	amount, err := p.amount(c, m)
	if err != nil {
		return domain.RawTransaction{}, err
	}

	return domain.RawTransaction{
		Date:        date,
		Description: desc,
		Amount:      amount,
		Merchant:    c.group(m, "merchant"),
	}, nil
}

func (c *compiled) parseDate(s string, years *YearResolver) (civil.Date, error) {
	s = strings.Join(strings.Fields(s), " ")
	for i, layout := range c.layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if !c.hasYear[i] {
			year, ok := years.Resolve(t.Month(), t.Day())
			if !ok {
				return civil.Date{}, fmt.Errorf("date %q has no year and none found in statement", s)
			}
			t = time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		return civil.DateOf(t), nil
	}
	return civil.Date{}, fmt.Errorf("unparseable date %q", s)
}

func (p *Procedure) amount(c *compiled, m []string) (decimal.Decimal, error) {
	if p.AmountSign == SignDebitCredit {
		if d := c.group(m, "debit"); d != "" {
			v, _, err := ParseAmount(d)
			return v.Abs().Neg(), err
		}
		if cr := c.group(m, "credit"); cr != "" {
			v, _, err := ParseAmount(cr)
			return v.Abs(), err
		}
		return decimal.Zero, errors.New("neither debit nor credit present")
	}

	v, isCredit, err := ParseAmount(c.group(m, "amount"))
	if err != nil {
		return decimal.Zero, err
	}
	switch p.AmountSign {
	case SignNegate:
		return v.Neg(), nil
	case SignCRSuffix:
		if isCredit {
			return v.Abs(), nil
		}
		return v.Abs().Neg(), nil
	default:
		return v, nil
	}
}

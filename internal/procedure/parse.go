package procedure

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a statement amount such as "$1,234.56", "-50.00",
// "(12.00)", "45.10 CR" or "45.10DR". A minus sign, parentheses, a trailing
// minus or a DR suffix make the value negative. isCredit reports a CR suffix.
func ParseAmount(s string) (value decimal.Decimal, isCredit bool, err error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)

	negative := false
	switch {
	case strings.HasSuffix(upper, "CR"):
		isCredit = true
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "DR"):
		negative = true
		s = s[:len(s)-2]
	}
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = s[:len(s)-1]
	}
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, false, fmt.Errorf("empty amount")
	}

	value, err = decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if negative {
		value = value.Abs().Neg()
	}
	return value, isCredit, nil
}

// Layout converts a human date format such as "DD/MM/YYYY" or "DD MMM" into
// a Go reference layout. Day and month digits parse with or without a
// leading zero. withYear is false when the format carries no year.
func Layout(format string) (layout string, withYear bool, err error) {
	var b strings.Builder
	runes := []rune(format)
	for i := 0; i < len(runes); {
		ch := runes[i]
		j := i
		for j < len(runes) && runes[j] == ch {
			j++
		}
		n := j - i

		switch ch {
		case 'D':
			if n > 2 {
				return "", false, fmt.Errorf("bad day token in %q", format)
			}
			b.WriteString("2")
		case 'M':
			switch n {
			case 1, 2:
				b.WriteString("1")
			case 3:
				b.WriteString("Jan")
			case 4:
				b.WriteString("January")
			default:
				return "", false, fmt.Errorf("bad month token in %q", format)
			}
		case 'Y':
			switch n {
			case 2:
				b.WriteString("06")
			case 4:
				b.WriteString("2006")
			default:
				return "", false, fmt.Errorf("bad year token in %q", format)
			}
			withYear = true
		default:
			b.WriteString(string(runes[i:j]))
		}
		i = j
	}
	return b.String(), withYear, nil
}

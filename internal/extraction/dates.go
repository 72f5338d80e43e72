package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Day-first layouts are tried before month-first ones: ambiguous dates
// such as 03/04/2024 resolve to 3 April.
var (
	datedLayouts = []string{
		"2006-01-02",
		"2/1/2006",
		"2-1-2006",
		"2.1.2006",
		"2/1/06",
		"2-1-06",
		"2 Jan 2006",
		"2 January 2006",
		"2 Jan 06",
		"2-Jan-2006",
		"2-Jan-06",
		"Jan 2, 2006",
		"Jan 2 2006",
		"January 2, 2006",
		"2006/01/02",
		"1/2/2006",
	}
	yearlessLayouts = []string{
		"2/1",
		"2 Jan",
		"2 January",
		"Jan 2",
		"2-Jan",
	}
	statementYearRe = regexp.MustCompile(`\b(20\d{2})\b`)
)

// yearFunc supplies the year for a date printed without one.
type yearFunc func(month time.Month, day int) (int, bool)

// parseDate parses the date forms seen on statements and CSV exports.
// Year-less dates take defaultYear; zero means they are rejected.
func parseDate(s string, defaultYear int) (civil.Date, error) {
	return parseDateYears(s, func(time.Month, int) (int, bool) {
		return defaultYear, defaultYear > 0
	})
}

// parseDateYears is parseDate with the year of year-less dates chosen by yearFor.
func parseDateYears(s string, yearFor yearFunc) (civil.Date, error) {
	s = strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return civil.Date{}, fmt.Errorf("empty date")
	}

	// ISO timestamps from exports, e.g. 2024-07-26T00:00:00.
	if len(s) > 10 && s[4] == '-' && s[10] == 'T' {
		s = s[:10]
	}

	for _, layout := range datedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	for _, layout := range yearlessLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		year, ok := yearFor(t.Month(), t.Day())
		if !ok {
			break
		}
		return civil.Date{Year: year, Month: t.Month(), Day: t.Day()}, nil
	}
	return civil.Date{}, fmt.Errorf("unrecognised date %q", s)
}

// statementYear returns the first plausible year printed in the text, or 0.
func statementYear(text string) int {
	m := statementYearRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}

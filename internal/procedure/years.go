package procedure

import (
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// periodWindow is how much of the statement head is searched for the period.
const periodWindow = 3000

const periodDate = `(?:\d{4}-\d{2}-\d{2}` +
	`|\d{1,2}[/.-]\d{1,2}[/.-]\d{4}` +
	`|\d{1,2}(?:st|nd|rd|th)?[\s-]+[a-z]{3,9}\.?,?[\s-]+\d{4}` +
	`|[a-z]{3,9}\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})`

var (
	periodRe   = regexp.MustCompile(`(?i)(` + periodDate + `)\s*(?:to|until|through|thru|-|–)\s*(` + periodDate + `)`)
	ordinalRe  = regexp.MustCompile(`(?i)(\d)(?:st|nd|rd|th)\b`)
	periodForm = []string{
		"2006-01-02",
		"2/1/2006",
		"2 Jan 2006",
		"2 January 2006",
		"Jan 2 2006",
		"January 2 2006",
	}
)

// Period is the date range a statement covers.
type Period struct {
	Start civil.Date
	End   civil.Date
}

// FindPeriod looks for a printed "<date> to <date>" range near the top of
// the statement. Both dates must carry a year and be in order.
func FindPeriod(text string) (Period, bool) {
	if r := []rune(text); len(r) > periodWindow {
		text = string(r[:periodWindow])
	}
	for _, m := range periodRe.FindAllStringSubmatch(text, -1) {
		start, ok1 := parsePeriodDate(m[1])
		end, ok2 := parsePeriodDate(m[2])
		if ok1 && ok2 && !end.Before(start) {
			return Period{Start: start, End: end}, true
		}
	}
	return Period{}, false
}

func parsePeriodDate(s string) (civil.Date, bool) {
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = strings.NewReplacer(",", " ", ".", " ", "-", " ", "/", " ").Replace(s)
	s = replaceSept(strings.Join(strings.Fields(s), " "))

	// Numeric dates lost their separators above; rebuild them for the layouts.
	if f := strings.Fields(s); len(f) == 3 && isDigits(f[0]) && isDigits(f[1]) && isDigits(f[2]) {
		if len(f[0]) == 4 {
			s = f[0] + "-" + pad2(f[1]) + "-" + pad2(f[2])
		} else {
			s = f[0] + "/" + f[1] + "/" + f[2]
		}
	}
	for _, layout := range periodForm {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

func replaceSept(s string) string {
	f := strings.Fields(s)
	for i, w := range f {
		if strings.EqualFold(w, "sept") {
			f[i] = "Sep"
		}
	}
	return strings.Join(f, " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// YearResolver assigns years to dates printed without one. With a known
// statement period each date gets the year that places it inside the
// period. Otherwise it starts from a fallback year and follows the rows:
// a jump of more than six months between consecutive rows is read as a
// year boundary, forwards or backwards.
type YearResolver struct {
	period    Period
	hasPeriod bool
	year      int
	lastMonth time.Month
}

// NewYearResolver builds a resolver for one statement. fallback is used
// when the text has no period; zero means year-less dates are rejected.
func NewYearResolver(text string, fallback int) *YearResolver {
	r := &YearResolver{year: fallback}
	r.period, r.hasPeriod = FindPeriod(text)
	return r
}

// Resolve returns the year for a day and month, or false when no year can
// be determined.
func (r *YearResolver) Resolve(month time.Month, day int) (int, bool) {
	if r.hasPeriod {
		return r.inPeriod(month, day), true
	}
	if r.year == 0 {
		return 0, false
	}
	if r.lastMonth != 0 {
		switch {
		case r.lastMonth-month > 6:
			r.year++
		case month-r.lastMonth > 6:
			r.year--
		}
	}
	r.lastMonth = month
	return r.year, true
}

// inPeriod picks the year that puts the date inside the period, or the
// closest one when the row falls just outside it.
func (r *YearResolver) inPeriod(month time.Month, day int) int {
	best, bestDist := r.period.Start.Year, -1
	for y := r.period.Start.Year - 1; y <= r.period.End.Year+1; y++ {
		d := civil.Date{Year: y, Month: month, Day: day}
		var dist int
		switch {
		case d.Before(r.period.Start):
			dist = r.period.Start.DaysSince(d)
		case d.After(r.period.End):
			dist = d.DaysSince(r.period.End)
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = y, dist
		}
	}
	return best
}

package model

import (
	"strings"
	"time"
)

// Period is one calendar month of one year.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

func NewPeriod(monthName string, year int) (Period, error) {
	m, err := ParseMonth(monthName)
	if err != nil {
		return Period{}, err
	}
	if year < 1 || year > 9999 {
		return Period{}, ErrInvalidYear
	}
	return Period{Year: year, Month: m}, nil
}

func PeriodOf(t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return Period{Year: t.Year(), Month: t.Month()}
}

// Start is midnight of the first day of the month in loc.
func (p Period) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, loc)
}

// End is the first instant of the following month, exclusive.
func (p Period) End(loc *time.Location) time.Time {
	return p.Start(loc).AddDate(0, 1, 0)
}

func (p Period) MonthName() string {
	return p.Month.String()
}

func ParseMonth(name string) (time.Month, error) {
	name = strings.TrimSpace(name)
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), name) {
			return m, nil
		}
	}
	return 0, ErrInvalidMonth
}

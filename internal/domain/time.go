package domain

import (
	"fmt"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-01-02T15:04:05",
	"02.01.2006 15:04:05",
	"02.01.2006",
	"06-01-02 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04PM",
}

// ParseTime parses the date formats found in exchange exports and rate files.
// Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %q", s)
}

// YearBounds returns the first instant of year and of the year after, in UTC.
func YearBounds(year int) (from, to time.Time) {
	from = time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(1, 0, 0)
}

// FormatDate renders t as dd.mm.yyyy.
func FormatDate(t time.Time) string {
	return t.Format("02.01.2006")
}

// FormatDateTime renders t as dd.mm.yyyy hh:mm:ss with zone abbreviation.
func FormatDateTime(t time.Time) string {
	return t.Format("02.01.2006 15:04:05 MST")
}

package transform

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	quarterPattern = regexp.MustCompile(`^(\d{4})-?Q([1-4])$`)
	monthPattern   = regexp.MustCompile(`^(\d{4})M(\d{1,2})$`)
)

// builtinLayouts are tried after the configured layout
var builtinLayouts = []string{"2006", "2006-01", "2006-01-02", "2006-01-02T15:04:05Z07:00"}

// ParsePeriod converts an upstream period label to the first day of the
// period in UTC. Supported labels are YYYY, YYYY-MM, YYYY-Qn, YYYYQn, YYYYMn,
// YYYY-MM-DD, RFC 3339 timestamps and anything matching layout.
func ParsePeriod(label, layout string) (time.Time, bool) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return time.Time{}, false
	}

	if m := quarterPattern.FindStringSubmatch(label); m != nil {
		year, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		return time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC), true
	}
	if m := monthPattern.FindStringSubmatch(label); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return time.Time{}, false
		}
		return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
	}

	layouts := builtinLayouts
	if layout != "" {
		layouts = append([]string{layout}, builtinLayouts...)
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, label); err == nil {
			t = t.UTC()
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// QuarterOf returns the calendar quarter of t
func QuarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

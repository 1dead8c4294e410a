package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseStringTime parses durations written as "500ms", "10s", "20m", "48h" or "2d".
// Units are case-insensitive. An empty string yields zero.
func ParseStringTime(timeString string) (time.Duration, error) {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" {
		return 0, nil
	}
	for _, u := range timeUnits {
		cutString, found := strings.CutSuffix(timeString, u.suffix)
		if !found {
			continue
		}
		number, err := strconv.Atoi(cutString)
		if err != nil {
			return 0, fmt.Errorf("invalid time format %q: %w", timeString, err)
		}
		if number < 0 {
			return 0, fmt.Errorf("invalid time format %q: negative duration", timeString)
		}
		return time.Duration(number) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid time format: %s", timeString)
}

// MustParseStringTime is ParseStringTime for trusted literals.
func MustParseStringTime(timeString string) time.Duration {
	d, err := ParseStringTime(timeString)
	if err != nil {
		panic(err)
	}
	return d
}

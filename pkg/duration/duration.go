// Package duration provides human-readable duration parsing.
// It extends Go's standard time.ParseDuration with support for days and weeks,
// which the standard library rejects because their length is calendar-dependent.
// camarr treats a day as exactly 24 hours and a week as exactly 7 days.
//
// Examples:
//   - "30d" = 30 days
//   - "2w" = 2 weeks
//   - "1w2d12h" = 1 week, 2 days, 12 hours
//   - "720h" = 720 hours (standard Go format still works)
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// extendedUnit matches day/week components, with optional whitespace between
// number and unit: "30d", "30 days", "2weeks".
var extendedUnit = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)

// Parse parses a human-readable duration string. Day ("d") and week ("w")
// components are converted to hours before delegating to time.ParseDuration,
// so any mix of extended and standard units is accepted.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var hours int64
	remaining := extendedUnit.ReplaceAllStringFunc(s, func(match string) string {
		parts := extendedUnit.FindStringSubmatch(match)
		value, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return match
		}
		if strings.HasPrefix(strings.ToLower(parts[2]), "w") {
			hours += value * 7 * 24
		} else {
			hours += value * 24
		}
		return ""
	})

	// time.ParseDuration rejects whitespace between components.
	remaining = strings.Join(strings.Fields(remaining), "")

	combined := remaining
	if hours > 0 {
		combined = fmt.Sprintf("%dh%s", hours, remaining)
	}
	if combined == "" {
		combined = "0s"
	}

	d, err := time.ParseDuration(combined)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is like Parse but panics if the string cannot be parsed.
// Use only for compile-time constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format converts a duration to a human-readable string using the largest
// appropriate units. Zero components are omitted: 26h becomes "1d2h".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	for _, unit := range []struct {
		size  time.Duration
		label string
	}{
		{Week, "w"},
		{Day, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
		{time.Millisecond, "ms"},
	} {
		if n := d / unit.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, unit.label)
			d -= n * unit.size
		}
	}
	if b.Len() == 0 {
		// Sub-millisecond remainder only.
		return time.Duration(d).String()
	}
	if negative {
		return "-" + b.String()
	}
	return b.String()
}

// Package bytesize provides human-readable byte size parsing and formatting
// using binary (1024) units.
//
// Supported units (case-insensitive): B, KB/KiB, MB/MiB, GB/GiB, TB/TiB.
// A bare number is bytes.
//
// Examples:
//   - "5MB" = 5 * 1024 * 1024 bytes
//   - "1.5 GB" = 1.5 * 1024^3 bytes
//   - "1024" = 1024 bytes
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a byte size as int64.
type Size int64

// Size constants, binary base.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

var units = map[string]Size{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"kib": KB,
	"m":   MB,
	"mb":  MB,
	"mib": MB,
	"g":   GB,
	"gb":  GB,
	"gib": GB,
	"t":   TB,
	"tb":  TB,
	"tib": TB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a human-readable byte size string. Integer and floating-point
// values are accepted; a missing unit means bytes.
func Parse(s string) (Size, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", matches[1], err)
	}

	multiplier, ok := units[strings.ToLower(matches[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", matches[2])
	}

	return Size(value * float64(multiplier)), nil
}

// MustParse is like Parse but panics if the string cannot be parsed.
// Use only for compile-time constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format converts a byte size to a human-readable string using the largest
// unit that yields a value >= 1.
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}

	negative := s < 0
	if negative {
		s = -s
	}

	var result string
	switch {
	case s >= TB:
		result = trim(float64(s)/float64(TB)) + "TB"
	case s >= GB:
		result = trim(float64(s)/float64(GB)) + "GB"
	case s >= MB:
		result = trim(float64(s)/float64(MB)) + "MB"
	case s >= KB:
		result = trim(float64(s)/float64(KB)) + "KB"
	default:
		result = fmt.Sprintf("%dB", s)
	}

	if negative {
		return "-" + result
	}
	return result
}

func trim(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// Bytes returns the size in bytes.
func (s Size) Bytes() int64 { return int64(s) }

// String returns a human-readable representation.
func (s Size) String() string { return Format(s) }

// UnmarshalText implements encoding.TextUnmarshaler so Size can be decoded
// directly from YAML and Viper configuration values.
func (s *Size) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(Format(s)), nil
}

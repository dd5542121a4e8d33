package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		// Standard Go format
		{"hours", "720h", 720 * time.Hour, false},
		{"minutes", "30m", 30 * time.Minute, false},
		{"seconds", "45s", 45 * time.Second, false},
		{"milliseconds", "100ms", 100 * time.Millisecond, false},
		{"combined standard", "1h30m", 90 * time.Minute, false},

		// Days
		{"days short", "30d", 30 * 24 * time.Hour, false},
		{"single day", "1d", 24 * time.Hour, false},
		{"days and hours", "1d12h", 36 * time.Hour, false},
		{"day word", "1 day", 24 * time.Hour, false},
		{"days word", "30 days", 30 * 24 * time.Hour, false},
		{"days no space", "30days", 30 * 24 * time.Hour, false},

		// Weeks
		{"weeks short", "2w", 14 * 24 * time.Hour, false},
		{"single week", "1w", 7 * 24 * time.Hour, false},
		{"wk abbrev", "2wk", 14 * 24 * time.Hour, false},
		{"wks abbrev", "2wks", 14 * 24 * time.Hour, false},
		{"week word", "1 week", 7 * 24 * time.Hour, false},
		{"weeks word", "2 weeks", 14 * 24 * time.Hour, false},

		// Combinations
		{"weeks and days", "1w2d", 9 * 24 * time.Hour, false},
		{"weeks days hours", "1w2d12h", 9*24*time.Hour + 12*time.Hour, false},
		{"full combo", "1w2d3h4m5s", 9*24*time.Hour + 3*time.Hour + 4*time.Minute + 5*time.Second, false},

		// Case insensitive
		{"DAYS uppercase", "30DAYS", 30 * 24 * time.Hour, false},
		{"Weeks mixed", "2Weeks", 14 * 24 * time.Hour, false},

		// Zero
		{"zero", "0s", 0, false},
		{"zero days", "0d", 0, false},

		// Negative
		{"negative days", "-30d", -30 * 24 * time.Hour, false},
		{"negative hours", "-12h", -12 * time.Hour, false},

		// Errors
		{"invalid", "invalid", 0, true},
		{"empty", "", 0, true},
		{"whitespace only", "   ", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d, "Parse(%q) = %v, want %v", tt.input, d, tt.expected)
		})
	}
}

func TestMustParse(t *testing.T) {
	assert.NotPanics(t, func() {
		d := MustParse("30d")
		assert.Equal(t, 30*24*time.Hour, d)
	})

	assert.Panics(t, func() {
		MustParse("invalid")
	})
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"zero", 0, "0s"},
		{"seconds", 45 * time.Second, "45s"},
		{"minutes", 30 * time.Minute, "30m"},
		{"minutes and seconds", 90 * time.Second, "1m30s"},
		{"hours", 12 * time.Hour, "12h"},
		{"one day", 24 * time.Hour, "1d"},
		{"days", 3 * 24 * time.Hour, "3d"},
		{"one week", 7 * 24 * time.Hour, "1w"},
		{"weeks and days", 9 * 24 * time.Hour, "1w2d"},
		{"weeks days hours", 9*24*time.Hour + 12*time.Hour, "1w2d12h"},
		{"milliseconds", 1500 * time.Millisecond, "1s500ms"},
		{"negative days", -3 * 24 * time.Hour, "-3d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.duration))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	durations := []time.Duration{
		0,
		time.Second,
		1500 * time.Millisecond,
		time.Minute,
		time.Hour,
		24 * time.Hour,
		7 * 24 * time.Hour,
		9*24*time.Hour + 12*time.Hour,
	}

	for _, d := range durations {
		formatted := Format(d)
		parsed, err := Parse(formatted)
		require.NoError(t, err, "Parse(Format(%v)) failed", d)
		assert.Equal(t, d, parsed, "round trip failed for %v via %q", d, formatted)
	}
}

func TestParseEquivalence(t *testing.T) {
	equivalents := [][]string{
		{"1d", "1 day", "24h"},
		{"1w", "1 week", "7d", "168h"},
		{"2w", "2 weeks", "2wks", "14d", "336h"},
		{"1d12h", "36h"},
		{"1w1d", "8d", "192h"},
	}

	for _, group := range equivalents {
		var expected time.Duration
		for i, s := range group {
			d, err := Parse(s)
			require.NoError(t, err)
			if i == 0 {
				expected = d
			} else {
				assert.Equal(t, expected, d, "%q should equal %q", s, group[0])
			}
		}
	}
}

package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{"shorter than max", "fix typo", 20, "fix typo"},
		{"exactly max", "abcde", 5, "abcde"},
		{"longer than max", "migrate user table to new schema", 12, "migrate use…"},
		{"max of one", "abc", 1, "…"},
		{"empty", "", 10, ""},
		{"multibyte runes", "schéma änderung überall", 10, "schéma än…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Truncate(tt.input, tt.max))
		})
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		t        time.Time
		expected string
	}{
		{"zero time", time.Time{}, "-"},
		{"seconds", now.Add(-42 * time.Second), "42s"},
		{"minutes", now.Add(-7 * time.Minute), "7m"},
		{"hours", now.Add(-(2*time.Hour + 15*time.Minute)), "2h15m"},
		{"future clamps to zero", now.Add(30 * time.Second), "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatAge(tt.t, now))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds  int64
		expected string
	}{
		{0, "0m"},
		{59, "0m"},
		{60, "1m"},
		{3540, "59m"},
		{3600, "1h 0m"},
		{8100, "2h 15m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatDuration(tt.seconds))
	}
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "0.0%", FormatPercentage(0))
	assert.Equal(t, "50.0%", FormatPercentage(0.5))
	assert.Equal(t, "100.0%", FormatPercentage(1.0))
	assert.Equal(t, "87.5%", FormatPercentage(0.875))
}

func TestFormatGrade(t *testing.T) {
	assert.Equal(t, "-", FormatGrade(nil))

	grade := 85
	assert.Equal(t, "85/100", FormatGrade(&grade))
}

// Package tfutils resolves MetaTrader-style timeframe names (M1, H4, ...)
// to durations.
package tfutils

import (
	"errors"
	"sort"
	"time"
)

var ErrUnsupportedTimeframe = errors.New("tfutils: unsupported timeframe")

var durations = map[string]time.Duration{
	"M1":  time.Minute,
	"M5":  5 * time.Minute,
	"M15": 15 * time.Minute,
	"M30": 30 * time.Minute,
	"H1":  time.Hour,
	"H4":  4 * time.Hour,
	"D1":  24 * time.Hour,
}

// ParseTimeframe resolves a timeframe name to its duration.
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d, ok := durations[timeframe]
	if !ok {
		return 0, ErrUnsupportedTimeframe
	}
	return d, nil
}

// GetTimeframeDuration is ParseTimeframe with a zero-value fallback, for
// call sites that already validated the timeframe.
func GetTimeframeDuration(timeframe string) time.Duration {
	return durations[timeframe]
}

// TimeframeMinutes returns the timeframe's length in whole minutes.
func TimeframeMinutes(timeframe string) int {
	return int(durations[timeframe] / time.Minute)
}

// GetSupportedTimeframes returns all recognized timeframe names, smallest
// duration first.
func GetSupportedTimeframes() []string {
	names := make([]string, 0, len(durations))
	for name := range durations {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return durations[names[i]] < durations[names[j]] })
	return names
}

// IsValidTimeframe reports whether timeframe is one of the recognized names.
func IsValidTimeframe(timeframe string) bool {
	_, ok := durations[timeframe]
	return ok
}

// EntryTimeframes is the set the Strategy Pipeline may use for FVG entries.
func EntryTimeframes() []string {
	return []string{"M1", "M5", "M15", "M30", "H1"}
}

// HighTimeframes is the set the CRT/Turtle-Soup detectors may key bars off.
func HighTimeframes() []string {
	return []string{"H4", "D1"}
}

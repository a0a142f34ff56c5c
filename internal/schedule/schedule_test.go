package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, specs []Spec) *Scheduler {
	t.Helper()
	s, err := New(true, "America/New_York", specs, "default", nil)
	require.NoError(t, err)
	return s
}

func nyTime(t *testing.T, hh, mm int) time.Time {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(2026, 8, 2, hh, mm, 0, 0, loc)
}

func TestScheduler_DisabledReturnsFallback(t *testing.T) {
	s, err := New(false, "America/New_York", nil, "default", nil)
	require.NoError(t, err)
	assert.Equal(t, "default", s.CurrentStrategy(nyTime(t, 10, 0)))
}

func TestScheduler_ExactlyOneStrategy(t *testing.T) {
	s := mustNew(t, []Spec{
		{Name: "asia", StartTime: "00:00", EndTime: "08:00", Strategy: "turtle-soup"},
		{Name: "london", StartTime: "08:00", EndTime: "13:00", Strategy: "crt"},
		{Name: "ny", StartTime: "13:00", EndTime: "17:00", Strategy: "daily-levels"},
	})
	assert.Equal(t, "turtle-soup", s.CurrentStrategy(nyTime(t, 0, 0)))    // boundary hits starting session
	assert.Equal(t, "crt", s.CurrentStrategy(nyTime(t, 8, 0)))
	assert.Equal(t, "daily-levels", s.CurrentStrategy(nyTime(t, 16, 59)))
	assert.Equal(t, "default", s.CurrentStrategy(nyTime(t, 20, 0))) // uncovered -> fallback
}

func TestScheduler_MidnightWrapBothSides(t *testing.T) {
	s := mustNew(t, []Spec{
		{Name: "overnight", StartTime: "17:00", EndTime: "09:00", Strategy: "turtle-soup"},
	})
	assert.Equal(t, "turtle-soup", s.CurrentStrategy(nyTime(t, 23, 30)))
	assert.Equal(t, "turtle-soup", s.CurrentStrategy(nyTime(t, 2, 30)))
	assert.Equal(t, "default", s.CurrentStrategy(nyTime(t, 12, 0)))
}

func TestScheduler_RejectsOverlap(t *testing.T) {
	_, err := New(true, "America/New_York", []Spec{
		{Name: "a", StartTime: "08:00", EndTime: "13:00", Strategy: "crt"},
		{Name: "b", StartTime: "12:00", EndTime: "17:00", Strategy: "daily-levels"},
	}, "default", nil)
	assert.Error(t, err)
}

func TestScheduler_RejectsUnknownStrategyName(t *testing.T) {
	_, err := New(true, "America/New_York", []Spec{
		{Name: "asia", StartTime: "00:00", EndTime: "08:00", Strategy: "turtel-soup"},
	}, "default", []string{"turtle-soup", "crt-continuation", "default"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turtel-soup")
}

func TestScheduler_RejectsUnknownFallbackStrategy(t *testing.T) {
	_, err := New(true, "America/New_York", []Spec{
		{Name: "asia", StartTime: "00:00", EndTime: "08:00", Strategy: "turtle-soup"},
	}, "defualt", []string{"turtle-soup", "defualt-typo-wont-match"})
	require.Error(t, err)
}

func TestScheduler_AcceptsKnownStrategyNames(t *testing.T) {
	_, err := New(true, "America/New_York", []Spec{
		{Name: "asia", StartTime: "00:00", EndTime: "08:00", Strategy: "turtle-soup"},
	}, "default", []string{"turtle-soup", "default"})
	require.NoError(t, err)
}

func TestUncoveredMinutes_FindsGapsAndFullCoverage(t *testing.T) {
	gaps := uncoveredMinutes([]Session{
		{Name: "a", Intervals: []Interval{{Start: 0, End: 480}}},
		{Name: "b", Intervals: []Interval{{Start: 600, End: 1440}}},
	})
	require.Len(t, gaps, 1)
	assert.Equal(t, Interval{Start: 480, End: 600}, gaps[0])

	full := uncoveredMinutes([]Session{
		{Name: "a", Intervals: []Interval{{Start: 0, End: 1440}}},
	})
	assert.Empty(t, full)
}

func TestScheduler_PollChangeEmitsOnBoundaryOnly(t *testing.T) {
	s := mustNew(t, []Spec{
		{Name: "london", StartTime: "08:00", EndTime: "13:00", Strategy: "crt"},
		{Name: "ny", StartTime: "13:00", EndTime: "17:00", Strategy: "daily-levels"},
	})

	assert.Nil(t, s.PollChange(nyTime(t, 9, 0))) // first observation: no transition reported
	assert.Nil(t, s.PollChange(nyTime(t, 9, 30)))

	ev := s.PollChange(nyTime(t, 13, 0))
	if assert.NotNil(t, ev) {
		assert.Equal(t, "london", ev.FromName)
		assert.Equal(t, "ny", ev.ToName)
		assert.Equal(t, "crt", ev.From)
		assert.Equal(t, "daily-levels", ev.To)
	}

	assert.Nil(t, s.PollChange(nyTime(t, 13, 5)))
}

func TestScheduler_NextTransition(t *testing.T) {
	s := mustNew(t, []Spec{
		{Name: "london", StartTime: "08:00", EndTime: "13:00", Strategy: "crt"},
	})
	at, strategy, ok := s.NextTransition(nyTime(t, 9, 0))
	require.True(t, ok)
	// single session has only one interval start (08:00); the next
	// occurrence of it is tomorrow's london open.
	assert.Equal(t, 8, at.Hour())
	assert.Equal(t, "crt", strategy)
}

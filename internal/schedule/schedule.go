// Package schedule implements the Session Scheduler (component H): mapping
// the current wall-time to the strategy name that is authoritative right
// now. Adapted from the teacher's notion of a stateful manager with
// change-detection logging (internal/position's backup/restore idiom), and
// grounded on original_source/Base/strategy_scheduler.py's session model —
// generalized from "assume no overlap across midnight" to the spec's
// explicit half-open-interval split at the day boundary.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/tradingcore/crtbot/internal/logx"
)

// Interval is a half-open [Start, End) window of minutes-since-midnight.
type Interval struct {
	Start int // minutes since 00:00, inclusive
	End   int // minutes since 00:00, exclusive
}

func (iv Interval) contains(minute int) bool {
	return minute >= iv.Start && minute < iv.End
}

// Session names the strategy authoritative during one or more Intervals. A
// session whose configured end <= start wraps midnight and is represented
// internally as two Intervals covering [start,1440) and [0,end).
type Session struct {
	Name      string
	Strategy  string
	Intervals []Interval
}

// Spec is the raw, unsplit configuration for one configured session.
type Spec struct {
	Name      string
	StartTime string // "HH:MM"
	EndTime   string // "HH:MM"
	Strategy  string
}

// Event is emitted on boundary crossing, observable by the Execution Loop
// for logging (spec §4.1).
type Event struct {
	At       time.Time
	From     string
	To       string
	FromName string
	ToName   string
}

// Scheduler maps wall-time to the currently-authoritative strategy name.
type Scheduler struct {
	enabled  bool
	loc      *time.Location
	sessions []Session
	fallback string

	lastSessionName  string
	lastStrategyName string

	log func(format string, args ...any)
}

// New builds a Scheduler. When enabled is false (or specs is empty) the
// scheduler always returns fallback, matching the teacher's single-strategy
// retro-compatible mode. validStrategies, when non-empty, is the full set of
// strategy names the Strategy Pipeline can dispatch (spec §4.1): every
// session's strategy and fallback must be a member, or New rejects the
// configuration outright rather than accepting a session that would later
// fall silently through the pipeline's dispatch default. New also warns
// (but does not fail) on any minute of the day no session covers.
func New(enabled bool, zoneName string, specs []Spec, fallback string, validStrategies []string) (*Scheduler, error) {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("schedule: load location %q: %w", zoneName, err)
	}
	s := &Scheduler{loc: loc, fallback: fallback, log: logx.Component("schedule")}
	if !enabled || len(specs) == 0 {
		if err := validateStrategyNames(nil, fallback, validStrategies); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := validateStrategyNames(specs, fallback, validStrategies); err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(specs))
	for _, spec := range specs {
		startMin, err := parseHHMM(spec.StartTime)
		if err != nil {
			return nil, fmt.Errorf("schedule: session %q start_time: %w", spec.Name, err)
		}
		endMin, err := parseHHMM(spec.EndTime)
		if err != nil {
			return nil, fmt.Errorf("schedule: session %q end_time: %w", spec.Name, err)
		}
		sessions = append(sessions, Session{
			Name:      spec.Name,
			Strategy:  spec.Strategy,
			Intervals: splitInterval(startMin, endMin),
		})
	}

	if err := validateNoOverlap(sessions); err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Intervals[0].Start < sessions[j].Intervals[0].Start
	})

	for _, gap := range uncoveredMinutes(sessions) {
		s.log("session schedule leaves minutes [%s,%s) uncovered, falling back to %q there", formatHHMM(gap.Start), formatHHMM(gap.End), fallback)
	}

	s.enabled = true
	s.sessions = sessions
	return s, nil
}

// validateStrategyNames rejects any session (or the fallback) naming a
// strategy outside validStrategies. An empty validStrategies disables the
// check, for callers that haven't wired a known-strategy list.
func validateStrategyNames(specs []Spec, fallback string, validStrategies []string) error {
	if len(validStrategies) == 0 {
		return nil
	}
	valid := make(map[string]bool, len(validStrategies))
	for _, name := range validStrategies {
		valid[name] = true
	}
	if !valid[fallback] {
		return fmt.Errorf("schedule: default strategy %q not in %v", fallback, validStrategies)
	}
	for _, spec := range specs {
		if !valid[spec.Strategy] {
			return fmt.Errorf("schedule: session %q references unknown strategy %q", spec.Name, spec.Strategy)
		}
	}
	return nil
}

// uncoveredMinutes returns the gaps, as half-open [Start,End) intervals
// over the 1440-minute day, that no session's Intervals cover.
func uncoveredMinutes(sessions []Session) []Interval {
	covered := make([]bool, 1440)
	for _, sess := range sessions {
		for _, iv := range sess.Intervals {
			for m := iv.Start; m < iv.End; m++ {
				covered[m] = true
			}
		}
	}
	var gaps []Interval
	start := -1
	for m := 0; m < 1440; m++ {
		if !covered[m] && start == -1 {
			start = m
		}
		if covered[m] && start != -1 {
			gaps = append(gaps, Interval{Start: start, End: m})
			start = -1
		}
	}
	if start != -1 {
		gaps = append(gaps, Interval{Start: start, End: 1440})
	}
	return gaps
}

func formatHHMM(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// splitInterval returns one Interval for a non-wrapping session, or two
// Intervals — [start,1440) and [0,end) — for a session whose end <= start.
func splitInterval(startMin, endMin int) []Interval {
	if endMin > startMin {
		return []Interval{{Start: startMin, End: endMin}}
	}
	return []Interval{{Start: startMin, End: 1440}, {Start: 0, End: endMin}}
}

func validateNoOverlap(sessions []Session) error {
	for i := range sessions {
		for j := i + 1; j < len(sessions); j++ {
			for _, a := range sessions[i].Intervals {
				for _, b := range sessions[j].Intervals {
					if intervalsOverlap(a, b) {
						return fmt.Errorf("schedule: sessions %q and %q overlap", sessions[i].Name, sessions[j].Name)
					}
				}
			}
		}
	}
	return nil
}

func intervalsOverlap(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

func parseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid HH:MM %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range HH:MM %q", s)
	}
	return h*60 + m, nil
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// CurrentSession returns the session active at now, or nil if none matches
// (or the scheduler is disabled).
func (s *Scheduler) CurrentSession(now time.Time) *Session {
	if !s.enabled {
		return nil
	}
	local := now.In(s.loc)
	minute := minutesOfDay(local)
	for i := range s.sessions {
		for _, iv := range s.sessions[i].Intervals {
			if iv.contains(minute) {
				return &s.sessions[i]
			}
		}
	}
	return nil
}

// CurrentStrategy returns the strategy name authoritative at now, falling
// back to the configured default when disabled or unmatched (spec §4.1).
// It does not touch the scheduler's change-tracking state and produces no
// Event — callers poll PollChange for that.
func (s *Scheduler) CurrentStrategy(now time.Time) string {
	session := s.CurrentSession(now)
	if session == nil {
		return s.fallback
	}
	return session.Strategy
}

// PollChange returns a session_changed Event if the session active at now
// differs from the session observed on the previous call, and nil
// otherwise. Call once per Execution Loop cycle.
func (s *Scheduler) PollChange(now time.Time) *Event {
	session := s.CurrentSession(now)
	name, strategy := s.fallback, s.fallback
	if session != nil {
		name, strategy = session.Name, session.Strategy
	}
	if name == s.lastSessionName && strategy == s.lastStrategyName {
		return nil
	}
	ev := &Event{
		At: now, From: s.lastStrategyName, To: strategy,
		FromName: s.lastSessionName, ToName: name,
	}
	first := s.lastSessionName == "" && s.lastStrategyName == ""
	s.lastSessionName = name
	s.lastStrategyName = strategy
	if first {
		return nil // no transition to report on the very first observation
	}
	return ev
}

// NextTransition reports the next session start after now (wrapping to the
// earliest start tomorrow) and that session's strategy, or false if the
// scheduler is disabled. A session end that hands over to the fallback is
// not reported.
func (s *Scheduler) NextTransition(now time.Time) (time.Time, string, bool) {
	if !s.enabled || len(s.sessions) == 0 {
		return time.Time{}, "", false
	}
	local := now.In(s.loc)
	minute := minutesOfDay(local)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	best := -1
	bestAt := 1441
	for i := range s.sessions {
		for _, iv := range s.sessions[i].Intervals {
			if iv.Start > minute && iv.Start < bestAt {
				bestAt = iv.Start
				best = i
			}
		}
	}
	if best == -1 {
		// wraps to the earliest interval tomorrow
		bestAt = 2 * 1440
		for i := range s.sessions {
			for _, iv := range s.sessions[i].Intervals {
				if iv.Start+1440 < bestAt {
					bestAt = iv.Start + 1440
					best = i
				}
			}
		}
	}
	if best == -1 {
		return time.Time{}, "", false
	}
	return midnight.Add(time.Duration(bestAt) * time.Minute), s.sessions[best].Strategy, true
}

// Package calendar implements the News Gate (C): a sorted view of
// future high-impact events per currency, answering "may I trade now?".
package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Event is a single calendar row, already normalized to UTC.
type Event struct {
	Time      time.Time
	Currency  string
	Title     string
	Impact    int // 0..3
	IsHoliday bool
}

// HighImpact is the spec's fixed definition of "high impact".
const HighImpact = 3

// Source yields calendar events for a given month/year, already filtered
// to the requested currencies where possible (a Source may over-return;
// the Gate re-filters).
type Source interface {
	Events(ctx context.Context, year int, month time.Month, currencies []string) ([]Event, error)
}

// CurrenciesForSymbol derives the relevant currencies for a 6-letter FX
// symbol such as "EURUSD" -> ("EUR", "USD").
func CurrenciesForSymbol(symbol string) (base, quote string, ok bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if len(symbol) != 6 {
		return "", "", false
	}
	return symbol[:3], symbol[3:], true
}

// Gate answers may_trade queries against a sorted, future-only event list
// for one symbol's relevant currencies.
type Gate struct {
	source Source
	events []Event // sorted ascending by Time, future-only as of last Refresh
}

// NewGate builds a Gate backed by the given Source.
func NewGate(source Source) *Gate {
	return &Gate{source: source}
}

// Refresh re-fetches the current and next month's events (to cover
// month-boundary lookahead) for the given symbol and replaces the cached,
// future-filtered, sorted event list.
func (g *Gate) Refresh(ctx context.Context, now time.Time, symbol string) error {
	base, quote, ok := CurrenciesForSymbol(symbol)
	if !ok {
		return fmt.Errorf("calendar: symbol %q is not a 6-letter FX pair", symbol)
	}
	currencies := []string{base, quote}

	var all []Event
	for _, m := range []time.Time{now, now.AddDate(0, 1, 0)} {
		events, err := g.source.Events(ctx, m.Year(), m.Month(), currencies)
		if err != nil {
			return fmt.Errorf("calendar: fetching events: %w", err)
		}
		all = append(all, events...)
	}

	filtered := all[:0]
	for _, e := range all {
		if !e.Time.After(now) {
			continue
		}
		if !matchesCurrency(e.Currency, currencies) {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Time.Before(filtered[j].Time) })
	g.events = filtered
	return nil
}

func matchesCurrency(eventCurrency string, currencies []string) bool {
	eventCurrency = strings.ToUpper(eventCurrency)
	for _, c := range currencies {
		if eventCurrency == strings.ToUpper(c) {
			return true
		}
	}
	return false
}

// MayTrade answers whether trading is permitted at `now`, given blocking
// windows [event.Time - before, event.Time + after] around each high-impact
// event, plus an optional "consecutive event" extension: if the very next
// upcoming event starts within after+30min of now, trading stays blocked.
func (g *Gate) MayTrade(now time.Time, before, after time.Duration, consecutive bool) (allowed bool, reason string, next *Event) {
	for i := range g.events {
		e := g.events[i]
		if e.Impact < HighImpact || e.IsHoliday {
			continue
		}
		windowStart := e.Time.Add(-before)
		windowEnd := e.Time.Add(after)
		if !now.Before(windowStart) && !now.After(windowEnd) {
			ev := e
			return false, "news_window", &ev
		}
	}

	nextEvent := g.nextHighImpact(now)
	if nextEvent == nil {
		return true, "", nil
	}
	if consecutive {
		consecutiveWindow := after + 30*time.Minute
		if !nextEvent.Time.After(now.Add(consecutiveWindow)) {
			ev := *nextEvent
			return false, "consecutive", &ev
		}
	}
	return true, "", nextEvent
}

func (g *Gate) nextHighImpact(now time.Time) *Event {
	for i := range g.events {
		e := g.events[i]
		if e.Impact < HighImpact || e.IsHoliday {
			continue
		}
		if e.Time.After(now) {
			return &e
		}
	}
	return nil
}

// Holidays returns the set of holiday events in the cached, future-filtered
// window. The Clock's trading-day predicate does not read it; it uses the
// holiday set the Clock was built with.
func (g *Gate) Holidays() []Event {
	var out []Event
	for _, e := range g.events {
		if e.IsHoliday {
			out = append(out, e)
		}
	}
	return out
}

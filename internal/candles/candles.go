// Package candles implements the Candle Reader (D): OHLC bars by
// timeframe and by named anchor ("now", "1am" NY, "HH:MM" NY), adapted
// from the teacher's internal/candle aggregation package and generalized
// from a fixed 1m base timeframe to broker-supplied bars of any
// MetaTrader-style timeframe.
package candles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradingcore/crtbot/internal/tfutils"
)

// Direction classifies a bar's body sign.
type Direction int

const (
	Bullish Direction = iota
	Bearish
	DojiDir
)

// Bar is an OHLC record over a fixed timeframe, in the broker's native
// (server) zone. The most recent bar returned by a RatesProvider may still
// be "forming" (mutates with each tick) until its window closes.
type Bar struct {
	Symbol    string
	Timeframe string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Body returns |close-open|.
func (b Bar) Body() float64 {
	return abs(b.Close - b.Open)
}

// BodyTop / BodyBottom are max(open,close) / min(open,close) — used
// throughout the CRT detectors for "body" as opposed to "range" comparisons.
func (b Bar) BodyTop() float64    { return max(b.Open, b.Close) }
func (b Bar) BodyBottom() float64 { return min(b.Open, b.Close) }

// Direction classifies the bar by sign(close-open).
func (b Bar) Direction() Direction {
	switch {
	case b.Close > b.Open:
		return Bullish
	case b.Close < b.Open:
		return Bearish
	default:
		return DojiDir
	}
}

// CloseTime returns the instant this bar's window closes, given its
// timeframe.
func (b Bar) CloseTime() time.Time {
	return b.OpenTime.Add(tfutils.GetTimeframeDuration(b.Timeframe))
}

var ErrNotFound = errors.New("candles: insufficient history")

// RatesProvider is the subset of the Broker Gateway contract (§6) the
// Candle Reader depends on: `rates(sym, timeframe, from, count) -> [Bar]`,
// bars returned oldest-first, in the broker's native zone.
type RatesProvider interface {
	Rates(ctx context.Context, symbol, timeframe string, from time.Time, count int) ([]Bar, error)
}

// Reader resolves named anchors to bars, auto-detecting (or accepting an
// explicit override of) the broker server's UTC offset.
type Reader struct {
	provider     RatesProvider
	nyLoc        *time.Location
	offset       time.Duration
	offsetKnown  bool
	offsetForced bool
}

// NewReader builds a Reader. If overrideMinutes is non-nil, the broker-zone
// offset is fixed rather than auto-detected (spec §9's documented knob).
func NewReader(provider RatesProvider, overrideMinutes *int) (*Reader, error) {
	nyLoc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("candles: loading NY zone: %w", err)
	}
	r := &Reader{provider: provider, nyLoc: nyLoc}
	if overrideMinutes != nil {
		r.offset = time.Duration(*overrideMinutes) * time.Minute
		r.offsetKnown = true
		r.offsetForced = true
	}
	return r, nil
}

// DetectOffset derives the broker-zone UTC offset by comparing a recently
// closed bar's broker-zone open-time against the known UTC close (the
// current wall clock, rounded to the bar's timeframe). Offsets are assumed
// to land on a 15-minute boundary, consistent with real broker-server
// zones. A forced override short-circuits this.
func (r *Reader) DetectOffset(nowUTC time.Time, recentClosed Bar) {
	if r.offsetForced {
		return
	}
	tfDur := tfutils.GetTimeframeDuration(recentClosed.Timeframe)
	if tfDur <= 0 {
		return
	}
	impliedCloseUTC := nowUTC.Truncate(tfDur)
	brokerClose := recentClosed.CloseTime()
	// brokerClose carries no independent zone info from the gateway beyond
	// its wall-clock fields, so compare wall-clock-to-wall-clock directly.
	brokerCloseWall := time.Date(brokerClose.Year(), brokerClose.Month(), brokerClose.Day(), brokerClose.Hour(), brokerClose.Minute(), brokerClose.Second(), 0, time.UTC)
	rawMinutes := int(impliedCloseUTC.Sub(brokerCloseWall).Minutes())
	rounded := (rawMinutes / 15) * 15
	r.offset = time.Duration(rounded) * time.Minute
	r.offsetKnown = true
}

// toBrokerWallClock converts a UTC instant to the broker's native wall-clock zone
// using the detected/forced offset.
func (r *Reader) toBrokerWallClock(utc time.Time) time.Time {
	shifted := utc.UTC().Add(r.offset)
	return time.Date(shifted.Year(), shifted.Month(), shifted.Day(), shifted.Hour(), shifted.Minute(), shifted.Second(), 0, time.UTC)
}

// GetCandle resolves `when` ("now", a 12-hour NY clock tag, or "HH:MM" NY)
// against `refNY` (the current instant in NY time, used to pick the
// calendar day for clock-tag anchors) and returns the bar whose
// [open_time, open_time+timeframe) window contains the target instant.
func (r *Reader) GetCandle(ctx context.Context, symbol, timeframe string, when string, refNY time.Time) (*Bar, error) {
	if !r.offsetKnown {
		return nil, fmt.Errorf("candles: broker zone offset not yet established")
	}

	var targetNY time.Time
	if when == "now" {
		targetNY = refNY
	} else {
		hour, minute, err := parseClockTag(when)
		if err != nil {
			return nil, err
		}
		local := refNY.In(r.nyLoc)
		targetNY = time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, r.nyLoc)
	}

	targetBrokerWall := r.toBrokerWallClock(targetNY.UTC())

	tfDur := tfutils.GetTimeframeDuration(timeframe)
	if tfDur <= 0 {
		return nil, fmt.Errorf("candles: %w: unknown timeframe %q", ErrNotFound, timeframe)
	}

	lookback := 64
	from := targetBrokerWall.Add(-tfDur * time.Duration(lookback))
	bars, err := r.provider.Rates(ctx, symbol, timeframe, from, lookback*2)
	if err != nil {
		return nil, fmt.Errorf("candles: fetching rates: %w", err)
	}

	for i := range bars {
		b := bars[i]
		start := time.Date(b.OpenTime.Year(), b.OpenTime.Month(), b.OpenTime.Day(), b.OpenTime.Hour(), b.OpenTime.Minute(), b.OpenTime.Second(), 0, time.UTC)
		end := start.Add(tfDur)
		if !targetBrokerWall.Before(start) && targetBrokerWall.Before(end) {
			return &b, nil
		}
	}
	return nil, fmt.Errorf("candles: %w: no bar covers target instant for %s %s", ErrNotFound, symbol, timeframe)
}

func parseClockTag(tag string) (hour, minute int, err error) {
	if t, err2 := time.Parse("15:04", tag); err2 == nil {
		return t.Hour(), t.Minute(), nil
	}
	if t, err2 := time.Parse("3pm", tag); err2 == nil {
		return t.Hour(), 0, nil
	}
	if t, err2 := time.Parse("3:04pm", tag); err2 == nil {
		return t.Hour(), t.Minute(), nil
	}
	return 0, 0, fmt.Errorf("candles: unrecognized clock tag %q", tag)
}

// KeyBars fetches the 01:00, 05:00, 09:00 NY bars, on the given timeframe
// (strategy_config.crt_high_timeframe — "H4" or "D1"), used by all CRT and
// Turtle-Soup detectors. The 09:00 bar may still be forming.
func (r *Reader) KeyBars(ctx context.Context, symbol, timeframe string, refNY time.Time) (c1, c5, c9 *Bar, err error) {
	c1, err = r.GetCandle(ctx, symbol, timeframe, "1am", refNY)
	if err != nil {
		return nil, nil, nil, err
	}
	c5, err = r.GetCandle(ctx, symbol, timeframe, "5am", refNY)
	if err != nil {
		return nil, nil, nil, err
	}
	c9, err = r.GetCandle(ctx, symbol, timeframe, "9am", refNY)
	if err != nil {
		return nil, nil, nil, err
	}
	return c1, c5, c9, nil
}

// RecentClosed fetches the n most recently closed bars of timeframe as of
// refNY, dropping a still-forming trailing bar. Used both by DailyLookback
// and by the crt_lookback/crt_use_vayas and crt_use_engulfing confirmation
// filters (spec §6), which scan a short window on the high/entry timeframe.
func (r *Reader) RecentClosed(ctx context.Context, symbol, timeframe string, n int, refNY time.Time) ([]Bar, error) {
	if !r.offsetKnown {
		return nil, fmt.Errorf("candles: broker zone offset not yet established")
	}
	if n <= 0 {
		n = 1
	}
	tfDur := tfutils.GetTimeframeDuration(timeframe)
	if tfDur <= 0 {
		return nil, fmt.Errorf("candles: %w: unknown timeframe %q", ErrNotFound, timeframe)
	}
	targetBrokerWall := r.toBrokerWallClock(refNY.UTC())
	from := targetBrokerWall.Add(-tfDur * time.Duration(n+1))
	bars, err := r.provider.Rates(ctx, symbol, timeframe, from, n+2)
	if err != nil {
		return nil, fmt.Errorf("candles: fetching rates: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("candles: %w: no bars for %s %s", ErrNotFound, symbol, timeframe)
	}
	// drop the still-forming last bar, keep up to n closed ones.
	closed := bars
	if last := bars[len(bars)-1]; !targetBrokerWall.After(last.OpenTime.Add(tfDur)) {
		closed = bars[:len(bars)-1]
	}
	if len(closed) > n {
		closed = closed[len(closed)-n:]
	}
	return closed, nil
}

// DailyLookback fetches the n most recently closed D1 bars as of refNY,
// used by the Daily-Levels sweep detector (§5 supplemented feature).
func (r *Reader) DailyLookback(ctx context.Context, symbol string, n int, refNY time.Time) ([]Bar, error) {
	return r.RecentClosed(ctx, symbol, "D1", n, refNY)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

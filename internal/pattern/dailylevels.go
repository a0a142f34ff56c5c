package pattern

import "github.com/tradingcore/crtbot/internal/candles"

// DailyLevelKind distinguishes a prior day's high from a prior day's low.
type DailyLevelKind int

const (
	PDH DailyLevelKind = iota // prior day high
	PDL                       // prior day low
)

// DailyLevelSignal is the level closest (by absolute distance) to bid among
// all qualifying prior-day highs/lows.
type DailyLevelSignal struct {
	Kind     DailyLevelKind
	Price    float64
	IsTaking bool // bid within tolerance of the level
	HasTaken bool // bid has strictly crossed the level
	Distance float64
}

// DetectDailyLevels scans the given daily bars (most recent lookback N,
// order irrelevant) for prior-day-high/low levels bid is interacting with.
// tolerance is in price units (already converted from pips by the caller).
// When multiple levels qualify, the closest by absolute distance wins.
func DetectDailyLevels(dailyBars []candles.Bar, bid, tolerance float64) *DailyLevelSignal {
	var best *DailyLevelSignal

	consider := func(kind DailyLevelKind, price float64) {
		var isTaking, hasTaken bool
		switch kind {
		case PDH:
			isTaking = bid >= price-tolerance
			hasTaken = bid > price
		case PDL:
			isTaking = bid <= price+tolerance
			hasTaken = bid < price
		}
		if !isTaking {
			return
		}
		dist := abs(bid - price)
		if best == nil || dist < best.Distance {
			best = &DailyLevelSignal{Kind: kind, Price: price, IsTaking: isTaking, HasTaken: hasTaken, Distance: dist}
		}
	}

	for _, bar := range dailyBars {
		consider(PDH, bar.High)
		consider(PDL, bar.Low)
	}
	return best
}

package gateway

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/tradingcore/crtbot/internal/candles"
	"github.com/tradingcore/crtbot/internal/tfutils"
)

// RandomWalkProvider is a deterministic synthetic candles.RatesProvider for
// running the Mock gateway without a real broker feed (spec §1 treats the
// MT5 terminal as an external collaborator quoted by interface only; no
// real Go binding exists, so this stands in for demo/paper-trading runs).
// Each bar's fractional move is derived from (symbol, timeframe, open time),
// and prices walk from the symbol's base price at the window's first bar, so
// repeated queries over the same window return identical bars; windows with
// different starts return different prices for the same open time.
type RandomWalkProvider struct {
	base map[string]float64 // symbol -> starting price
	vol  float64            // per-bar volatility, as a fraction of price
}

func NewRandomWalkProvider(base map[string]float64, volatility float64) *RandomWalkProvider {
	return &RandomWalkProvider{base: base, vol: volatility}
}

var _ candles.RatesProvider = (*RandomWalkProvider)(nil)

func (p *RandomWalkProvider) Rates(ctx context.Context, symbol, timeframe string, from time.Time, count int) ([]candles.Bar, error) {
	tfDur, err := tfutils.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 1
	}
	start := p.base[symbol]
	if start == 0 {
		start = 1.0
	}

	bucket0 := from.Truncate(tfDur)
	bars := make([]candles.Bar, 0, count)
	price := start
	for i := 0; i < count; i++ {
		open := price
		openTime := bucket0.Add(time.Duration(i) * tfDur)
		step := p.stepFor(symbol, timeframe, openTime)
		close := open * (1 + step)
		high := open
		if close > high {
			high = close
		}
		high *= 1 + p.vol*0.25
		low := open
		if close < low {
			low = close
		}
		low *= 1 - p.vol*0.25
		bars = append(bars, candles.Bar{
			Symbol: symbol, Timeframe: timeframe, OpenTime: openTime,
			Open: open, High: high, Low: low, Close: close, Volume: 100,
		})
		price = close
	}
	return bars, nil
}

// stepFor derives a deterministic, reproducible fractional price move for
// one bar from a hash of its identity, so the same (symbol, timeframe,
// openTime) always yields the same step; the bar's prices also depend on the
// walk that precedes it in the query window.
func (p *RandomWalkProvider) stepFor(symbol, timeframe string, openTime time.Time) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol + "|" + timeframe + "|" + openTime.UTC().Format(time.RFC3339)))
	r := rand.New(rand.NewSource(int64(h.Sum64())))
	return (r.Float64()*2 - 1) * p.vol
}

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradingcore/crtbot/internal/calendar"
	"github.com/tradingcore/crtbot/internal/candles"
	"github.com/tradingcore/crtbot/internal/config"
	"github.com/tradingcore/crtbot/internal/gateway"
	"github.com/tradingcore/crtbot/internal/pattern"
	"github.com/tradingcore/crtbot/internal/store"
)

// fixedProvider serves a fixed set of daily bars for any request, so the
// Candle Reader's DailyLookback trimming logic (drop the forming bar, keep
// the last N) runs against a known fixture.
type fixedProvider struct {
	bars []candles.Bar
}

func (f *fixedProvider) Rates(ctx context.Context, symbol, timeframe string, from time.Time, count int) ([]candles.Bar, error) {
	out := make([]candles.Bar, 0, len(f.bars))
	for _, b := range f.bars {
		if b.Timeframe == timeframe {
			out = append(out, b)
		}
	}
	return out, nil
}

func newTestPipeline(t *testing.T, bars []candles.Bar, info gateway.SymbolInfo) *Pipeline {
	t.Helper()
	provider := &fixedProvider{bars: bars}
	offset := 0
	reader, err := candles.NewReader(provider, &offset)
	require.NoError(t, err)

	gw := gateway.NewMock(provider, map[string]gateway.SymbolInfo{"EURUSD": info}, 0)
	led := store.NewMemory()
	gate := calendar.NewGate(&fakeCalSource{})

	strategy := config.StrategyConfig{
		DailyLevelLookback:      3,
		DailyLevelTolerancePips: 1,
	}
	return New(gw, led, gate, reader, strategy, config.RiskManagement{}, func(string) float64 { return 100000 }, func(context.Context) (float64, error) { return 10000, nil })
}

type fakeCalSource struct{}

func (f *fakeCalSource) Events(ctx context.Context, year int, month time.Month, currencies []string) ([]calendar.Event, error) {
	return nil, nil
}

func dailyBarsFixture() []candles.Bar {
	mk := func(day int, high, low float64) candles.Bar {
		return candles.Bar{
			Symbol: "EURUSD", Timeframe: "D1",
			OpenTime: time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
			High:     high, Low: low, Open: (high + low) / 2, Close: (high + low) / 2,
		}
	}
	return []candles.Bar{
		mk(1, 1.1050, 1.0950),
		mk(2, 1.1080, 1.0920), // prior-day high candidate: 1.1080
		mk(3, 1.1040, 1.0960), // forming "today" bar relative to refNY below, dropped
	}
}

func TestDetectDailyLevels_BearishWhenPriorDayHighTaken(t *testing.T) {
	info := gateway.SymbolInfo{Digits: 5, Point: 0.00001, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01}
	// bid strictly above the nearest prior-day high (1.1080).
	bars := append(dailyBarsFixture(), candles.Bar{
		Symbol: "EURUSD", Timeframe: "M1", OpenTime: time.Now(), Open: 1.1090, Close: 1.1090, High: 1.1090, Low: 1.1090,
	})
	p := newTestPipeline(t, bars, info)

	refNY := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	direction, target, invalidation, ok := p.detectDailyLevels(context.Background(), "EURUSD", refNY)
	require.True(t, ok)
	assert.Equal(t, pattern.DirBearish, direction)
	assert.Less(t, target, invalidation)
}

func TestDetectDailyLevels_NoSignalWhenBidFarFromAnyLevel(t *testing.T) {
	info := gateway.SymbolInfo{Digits: 5, Point: 0.00001, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01}
	bars := append(dailyBarsFixture(), candles.Bar{
		Symbol: "EURUSD", Timeframe: "M1", OpenTime: time.Now(), Open: 1.1000, Close: 1.1000, High: 1.1000, Low: 1.1000,
	})
	p := newTestPipeline(t, bars, info)

	refNY := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	_, _, _, ok := p.detectDailyLevels(context.Background(), "EURUSD", refNY)
	assert.False(t, ok)
}

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomWalkProvider_Rates_DeterministicAcrossCalls(t *testing.T) {
	p := NewRandomWalkProvider(map[string]float64{"EURUSD": 1.1}, 0.001)
	from := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	first, err := p.Rates(context.Background(), "EURUSD", "M5", from, 10)
	require.NoError(t, err)
	second, err := p.Rates(context.Background(), "EURUSD", "M5", from, 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRandomWalkProvider_Rates_BarCountAndOrdering(t *testing.T) {
	p := NewRandomWalkProvider(map[string]float64{"EURUSD": 1.1}, 0.001)
	from := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	bars, err := p.Rates(context.Background(), "EURUSD", "M5", from, 5)
	require.NoError(t, err)
	require.Len(t, bars, 5)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].OpenTime.After(bars[i-1].OpenTime))
		assert.Equal(t, bars[i-1].Close, bars[i].Open)
	}
}

func TestRandomWalkProvider_Rates_UnknownSymbolDefaultsToOne(t *testing.T) {
	p := NewRandomWalkProvider(map[string]float64{}, 0.001)
	bars, err := p.Rates(context.Background(), "GBPUSD", "M5", time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 1.0, bars[0].Open, 1e-9)
}

func TestRandomWalkProvider_Rates_RejectsUnknownTimeframe(t *testing.T) {
	p := NewRandomWalkProvider(map[string]float64{"EURUSD": 1.1}, 0.001)
	_, err := p.Rates(context.Background(), "EURUSD", "W1", time.Now(), 1)
	assert.Error(t, err)
}

func TestRandomWalkProvider_Rates_HighLowBoundBody(t *testing.T) {
	p := NewRandomWalkProvider(map[string]float64{"EURUSD": 1.1}, 0.001)
	bars, err := p.Rates(context.Background(), "EURUSD", "M1", time.Now(), 20)
	require.NoError(t, err)
	for _, b := range bars {
		assert.GreaterOrEqual(t, b.High, b.Open)
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.LessOrEqual(t, b.Low, b.Open)
		assert.LessOrEqual(t, b.Low, b.Close)
	}
}

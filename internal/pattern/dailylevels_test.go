package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tradingcore/crtbot/internal/candles"
)

func TestDetectDailyLevels_ClosestWins(t *testing.T) {
	days := []candles.Bar{
		bar(1.0900, 1.1000, 1.0950, 1.0960), // PDH 1.1000, PDL 1.0900
		bar(1.0850, 1.0995, 1.0900, 1.0910), // PDH 1.0995 (closer), PDL 1.0850
	}
	bid := 1.0994 // within 1-pip tolerance of 1.0995, and near (but farther from) 1.1000

	sig := DetectDailyLevels(days, bid, 0.0001)
	if assert.NotNil(t, sig) {
		assert.Equal(t, PDH, sig.Kind)
		assert.Equal(t, 1.0995, sig.Price)
		assert.True(t, sig.IsTaking)
		assert.False(t, sig.HasTaken)
	}
}

func TestDetectDailyLevels_HasTakenStrictCross(t *testing.T) {
	days := []candles.Bar{bar(1.0900, 1.1000, 1.0950, 1.0960)}
	sig := DetectDailyLevels(days, 1.1005, 0.0001)
	if assert.NotNil(t, sig) {
		assert.Equal(t, PDH, sig.Kind)
		assert.True(t, sig.HasTaken)
	}
}

func TestDetectDailyLevels_NoQualifyingLevel(t *testing.T) {
	days := []candles.Bar{bar(1.0900, 1.1000, 1.0950, 1.0960)}
	sig := DetectDailyLevels(days, 1.0950, 0.0001)
	assert.Nil(t, sig)
}

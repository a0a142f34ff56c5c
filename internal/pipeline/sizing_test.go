package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradingcore/crtbot/internal/gateway"
	"github.com/tradingcore/crtbot/internal/pattern"
)

func TestComputeRiskValidatedSizing_RRExactlyEqualToMinAccepted(t *testing.T) {
	// entry 1.1000, invalidation 1.0950 (no margin since fvgSize 0), target
	// set so reward/risk == 2.0 exactly.
	sizing, ok := computeRiskValidatedSizing(pattern.DirBullish, 1.1000, 1.0950, 1.1100, 0, 2.0)
	if assert.True(t, ok) {
		assert.InDelta(t, 2.0, sizing.RR, 1e-9)
	}
}

func TestComputeRiskValidatedSizing_TightensSLWhenInsufficient(t *testing.T) {
	// risk 0.0050, reward only 0.0060 -> rr 1.2, below rr_min 2.0. Tightening
	// sl to reward/minRR = 0.0030 keeps it between entry and the original sl,
	// so it should apply and hit rr_min exactly.
	sizing, ok := computeRiskValidatedSizing(pattern.DirBullish, 1.1000, 1.0950, 1.1060, 0, 2.0)
	if assert.True(t, ok) {
		assert.InDelta(t, 2.0, sizing.RR, 1e-9)
		assert.Greater(t, sizing.SL, 1.0950) // tightened towards entry, not past original invalidation
	}
}

func TestComputeRiskValidatedSizing_BearishTightensToExactMin(t *testing.T) {
	sizing, ok := computeRiskValidatedSizing(pattern.DirBearish, 1.1000, 1.1010, 1.0995, 0, 2.0)
	if assert.True(t, ok) {
		assert.LessOrEqual(t, sizing.TP, 1.0995) // never tightens tp below the pattern target
		assert.GreaterOrEqual(t, sizing.RR, 2.0-1e-9)
	}
}

func TestComputeRiskValidatedSizing_ZeroRiskRejected(t *testing.T) {
	_, ok := computeRiskValidatedSizing(pattern.DirBullish, 1.1000, 1.1000, 1.2000, 0, 2.0)
	assert.False(t, ok)
}

func TestSnapVolumeClampingInvariant(t *testing.T) {
	v := gateway.SnapVolume(50.0, 0.01, 5.0, 0.01)
	assert.LessOrEqual(t, v, 5.0)
	assert.GreaterOrEqual(t, v, 0.01)
}

package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Scenario 2 from spec §8: CRT-Continuation long.
func TestDetectCRTContinuation_Bullish(t *testing.T) {
	c1 := bar(1.10700, 1.11000, 1.10800, 1.10900)
	c5 := bar(1.11000, 1.11150, 1.11020, 1.11120)

	sig := DetectCRTContinuation(c1, c5)
	if assert.NotNil(t, sig) {
		assert.Equal(t, DirBullish, sig.Direction)
		assert.Equal(t, 1.11150, sig.Target)
	}
}

func TestDetectCRTContinuation_Bearish(t *testing.T) {
	c1 := bar(1.10700, 1.11000, 1.10900, 1.10800)
	c5 := bar(1.10600, 1.10750, 1.10680, 1.10620)

	sig := DetectCRTContinuation(c1, c5)
	if assert.NotNil(t, sig) {
		assert.Equal(t, DirBearish, sig.Direction)
		assert.Equal(t, 1.10600, sig.Target)
	}
}

func TestDetectCRTContinuation_None(t *testing.T) {
	c1 := bar(1.10700, 1.11000, 1.10800, 1.10900)
	c5 := bar(1.10750, 1.10950, 1.10800, 1.10900)
	assert.Nil(t, DetectCRTContinuation(c1, c5))
}

// Scenario 3 from spec §8: CRT-Revision long.
func TestDetectCRTRevision_Bullish(t *testing.T) {
	c1 := bar(1.10700, 1.11000, 1.10800, 1.10900)
	c5 := bar(1.10650, 1.10900, 1.10750, 1.10850)

	sig := DetectCRTRevision(c1, c5)
	if assert.NotNil(t, sig) {
		assert.Equal(t, DirBullish, sig.Direction)
		assert.Equal(t, 1.11000, sig.Target)
	}
}

func TestDetectCRTRevision_BothSweptIsNotRevision(t *testing.T) {
	c1 := bar(1.10700, 1.11000, 1.10800, 1.10900)
	c5 := bar(1.10650, 1.11050, 1.10800, 1.10900)
	assert.Nil(t, DetectCRTRevision(c1, c5))
}

// Scenario 4 from spec §8: CRT-Extreme, bearish close.
func TestDetectCRTExtreme_Bearish(t *testing.T) {
	c1 := bar(1.10700, 1.11000, 1.10800, 1.10900)
	c5 := bar(1.10650, 1.11050, 1.10950, 1.10700)

	sig := DetectCRTExtreme(c1, c5)
	if assert.NotNil(t, sig) {
		assert.Equal(t, DirBearish, sig.Direction)
		assert.Equal(t, 1.10650, sig.Target)
		assert.Equal(t, "", sig.CloseType)
	}
}

func TestDetectCRTExtreme_Doji(t *testing.T) {
	c1 := bar(1.10700, 1.11000, 1.10800, 1.10900)
	c5 := bar(1.10650, 1.11050, 1.10800, 1.10800)

	sig := DetectCRTExtreme(c1, c5)
	if assert.NotNil(t, sig) {
		assert.Equal(t, DirBullish, sig.Direction)
		assert.Equal(t, 1.11050, sig.Target)
		assert.Equal(t, "Doji", sig.CloseType)
	}
}

func TestIsEngulfing(t *testing.T) {
	prev := bar(1.1000, 1.1010, 1.1002, 1.1008) // bullish, small body
	curr := bar(1.0995, 1.1015, 1.1012, 1.0998) // bearish, engulfs prev body
	assert.True(t, IsEngulfing(prev, curr))
	assert.False(t, IsEngulfing(prev, prev))
}

package pattern

import "github.com/tradingcore/crtbot/internal/candles"

// CRTContinuationSignal is the CRT-Continuation result (spec §4.3): c5's
// body fully clears c1's body and high/low on the same side.
type CRTContinuationSignal struct {
	Direction Direction
	Target    float64
}

// DetectCRTContinuation requires c1, c5 both closed.
func DetectCRTContinuation(c1, c5 candles.Bar) *CRTContinuationSignal {
	bTop1, bBot1 := c1.BodyTop(), c1.BodyBottom()
	bTop5, bBot5 := c5.BodyTop(), c5.BodyBottom()

	if bBot5 > c1.High && bBot5 > bTop1 {
		return &CRTContinuationSignal{Direction: DirBullish, Target: c5.High}
	}
	if bTop5 < c1.Low && bTop5 < bBot1 {
		return &CRTContinuationSignal{Direction: DirBearish, Target: c5.Low}
	}
	return nil
}

// CRTRevisionSignal is the CRT-Revision result: c5 sweeps exactly one of
// c1's extremes but its body closes back inside c1's range.
type CRTRevisionSignal struct {
	Direction Direction
	Target    float64
}

// DetectCRTRevision requires c1, c5.
func DetectCRTRevision(c1, c5 candles.Bar) *CRTRevisionSignal {
	bTop5, bBot5 := c5.BodyTop(), c5.BodyBottom()
	bodyInside := bBot5 >= c1.Low && bTop5 <= c1.High
	sweptHigh := c5.High > c1.High
	sweptLow := c5.Low < c1.Low

	if !bodyInside || sweptHigh == sweptLow {
		return nil
	}
	if sweptHigh {
		return &CRTRevisionSignal{Direction: DirBearish, Target: c1.Low}
	}
	return &CRTRevisionSignal{Direction: DirBullish, Target: c1.High}
}

// CRTExtremeSignal is the CRT-Extreme result: c5 sweeps both of c1's
// extremes. CloseType is "Doji" when c5 closed flat, in which case the
// signal defaults to Bullish/c5.High per spec §4.3.
type CRTExtremeSignal struct {
	Direction Direction
	Target    float64
	CloseType string // "", or "Doji"
}

// DetectCRTExtreme requires c1, c5.
func DetectCRTExtreme(c1, c5 candles.Bar) *CRTExtremeSignal {
	if !(c5.High > c1.High && c5.Low < c1.Low) {
		return nil
	}
	switch {
	case c5.Close > c5.Open:
		return &CRTExtremeSignal{Direction: DirBullish, Target: c5.High}
	case c5.Close < c5.Open:
		return &CRTExtremeSignal{Direction: DirBearish, Target: c5.Low}
	default:
		return &CRTExtremeSignal{Direction: DirBullish, Target: c5.High, CloseType: "Doji"}
	}
}

// VayasSignal reports trend exhaustion: the bar following a trending one
// fails to extend its range and closes back inside it, per
// original_source/Base/crt_detector.py's detect_vayas_pattern. Direction
// names the reversal the exhaustion implies, not the trend that exhausted.
type VayasSignal struct {
	Direction Direction
}

// DetectVayas requires prev, curr both closed, same timeframe. An uptrend
// bar (prev) followed by one that fails to break prev's high and closes
// below it signals bearish exhaustion; the bearish-trend case is the
// mirror image.
func DetectVayas(prev, curr candles.Bar) *VayasSignal {
	switch {
	case prev.Close > prev.Open && curr.High <= prev.High && curr.Close < prev.High:
		return &VayasSignal{Direction: DirBearish}
	case prev.Close < prev.Open && curr.Low >= prev.Low && curr.Close > prev.Low:
		return &VayasSignal{Direction: DirBullish}
	default:
		return nil
	}
}

// BodyProfile classifies a candle's body/wick shape ("full-body",
// "indecision", "pin"). It is not a field of any CRT signal; it is used by
// the crt_use_engulfing confirmation filter to reject a weak-bodied
// engulfing candle.
type BodyProfile string

const (
	ProfileFullBody   BodyProfile = "full-body"
	ProfileIndecision BodyProfile = "indecision"
	ProfilePin        BodyProfile = "pin"
)

// ClassifyBodyProfile buckets a bar by the ratio of its body to its total
// range.
func ClassifyBodyProfile(b candles.Bar) BodyProfile {
	totalRange := b.High - b.Low
	if totalRange <= 0 {
		return ProfileIndecision
	}
	bodyRatio := b.Body() / totalRange
	upperShadow := b.High - b.BodyTop()
	lowerShadow := b.BodyBottom() - b.Low
	switch {
	case bodyRatio >= 0.6:
		return ProfileFullBody
	case upperShadow > 2*b.Body() || lowerShadow > 2*b.Body():
		return ProfilePin
	default:
		return ProfileIndecision
	}
}

// IsEngulfing reports whether `curr` engulfs `prev`'s body in the same
// direction as curr's own body — the crt_use_engulfing confirmation
// filter named in the configuration surface.
func IsEngulfing(prev, curr candles.Bar) bool {
	currBull := curr.Close > curr.Open
	prevBull := prev.Close > prev.Open
	if currBull == prevBull {
		return false
	}
	return curr.BodyTop() >= prev.BodyTop() && curr.BodyBottom() <= prev.BodyBottom()
}

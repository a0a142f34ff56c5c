package pattern

import "github.com/tradingcore/crtbot/internal/candles"

// SweepKind distinguishes which extreme the 9 AM bar swept.
type SweepKind int

const (
	BullishSweep SweepKind = iota // c9 swept above c1/c5 highs
	BearishSweep                  // c9 swept below c1/c5 lows
)

// TurtleSoupSignal is the Turtle-Soup (H4) liquidity-sweep result, built
// from the 1am/5am/9am NY key candles.
type TurtleSoupSignal struct {
	Sweep     SweepKind
	Direction Direction
	Target    float64
	SweptBar  string // "1am" or "5am" — which key candle was swept
}

// DetectTurtleSoup compares the 9 AM bar against the 1 AM and 5 AM bars.
// The 9 AM bar may still be forming. Ties (equal highs/lows on c1 and c5)
// resolve to the earlier bar, 1 AM.
func DetectTurtleSoup(c1, c5, c9 candles.Bar) *TurtleSoupSignal {
	switch {
	case c9.High > maxf(c1.High, c5.High):
		swept := "1am"
		sweptLow := c1.Low
		if c5.High > c1.High {
			swept = "5am"
			sweptLow = c5.Low
		}
		return &TurtleSoupSignal{Sweep: BullishSweep, Direction: DirBearish, Target: sweptLow, SweptBar: swept}
	case c9.Low < minf(c1.Low, c5.Low):
		swept := "1am"
		sweptHigh := c1.High
		if c5.Low < c1.Low {
			swept = "5am"
			sweptHigh = c5.High
		}
		return &TurtleSoupSignal{Sweep: BearishSweep, Direction: DirBullish, Target: sweptHigh, SweptBar: swept}
	default:
		return nil
	}
}

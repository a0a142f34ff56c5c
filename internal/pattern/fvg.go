package pattern

import "github.com/tradingcore/crtbot/internal/candles"

// FVGKind distinguishes a bullish from a bearish Fair Value Gap.
type FVGKind int

const (
	FVGBullish FVGKind = iota
	FVGBearish
)

// FVG is a three-bar Fair Value Gap pattern over v1 (older), v2 (middle,
// ignored for formation), v3 (forming/current). See spec §3. Bottom/Top/Size
// are fixed at the instant the gap is detected; Entered/Exited/touched/
// FilledCompletely are re-derived on every subsequent tick via Update,
// since v3 keeps moving until its window closes.
type FVG struct {
	Kind      FVGKind
	Bottom    float64
	Top       float64
	Size      float64
	Symbol    string
	Timeframe string

	Entered          bool
	Exited           bool
	ExitDirection    *FVGKind
	BottomTouched    bool
	TopTouched       bool
	FilledCompletely bool
}

// DetectFVG looks for a Fair Value Gap forming between v1 and v3 (v2 only
// participates by lying between them in time). Returns nil when no gap
// exists, including the zero-size boundary case (v3.low == v1.high exactly
// for a candidate Bullish gap is not an FVG).
func DetectFVG(v1, v2, v3 candles.Bar, currentPrice float64) *FVG {
	var fvg *FVG
	switch {
	case v3.Low > v1.High:
		fvg = &FVG{Kind: FVGBullish, Bottom: v1.High, Top: v3.Low, Symbol: v1.Symbol, Timeframe: v1.Timeframe}
	case v3.High < v1.Low:
		fvg = &FVG{Kind: FVGBearish, Bottom: v3.High, Top: v1.Low, Symbol: v1.Symbol, Timeframe: v1.Timeframe}
	default:
		return nil
	}
	fvg.Size = fvg.Top - fvg.Bottom
	if fvg.Size <= 0 {
		return nil
	}
	fvg.Update(v3, currentPrice)
	return fvg
}

// Update re-derives the entered/exited/touched/filled flags against the
// gap's fixed Bottom/Top boundary, given the latest state of the forming
// bar (v3, which may have extended further since detection) and the
// current tick price. Call on every tick while the gap is under Intensive
// or Intermediate Monitoring.
func (fvg *FVG) Update(forming candles.Bar, currentPrice float64) {
	fvg.Entered = forming.Low <= fvg.Top && forming.High >= fvg.Bottom

	priceInRange := currentPrice >= fvg.Bottom && currentPrice <= fvg.Top
	fvg.Exited = false
	fvg.ExitDirection = nil
	if fvg.Entered && !priceInRange {
		fvg.Exited = true
		if currentPrice > fvg.Top {
			k := FVGBullish
			fvg.ExitDirection = &k
		} else {
			k := FVGBearish
			fvg.ExitDirection = &k
		}
	}

	switch fvg.Kind {
	case FVGBullish:
		fvg.FilledCompletely = forming.Low <= fvg.Bottom
	case FVGBearish:
		fvg.FilledCompletely = forming.High >= fvg.Top
	}
	fvg.BottomTouched = currentPrice <= fvg.Bottom || fvg.FilledCompletely
	fvg.TopTouched = currentPrice >= fvg.Top || fvg.FilledCompletely
}

// Package pipeline implements the Strategy Pipeline (component G): the
// four-stage per-symbol, per-tick state machine from spec §4.4 (News gate ->
// high-timeframe pattern -> entry FVG -> risk-validated order). Adapted
// from the teacher's internal/strategy package (the State-evaluate-signal
// contract) and internal/position's per-symbol guarding idiom, generalized
// from technical-indicator signals to the CRT/Turtle-Soup pattern family.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tradingcore/crtbot/internal/calendar"
	"github.com/tradingcore/crtbot/internal/candles"
	"github.com/tradingcore/crtbot/internal/config"
	"github.com/tradingcore/crtbot/internal/gateway"
	"github.com/tradingcore/crtbot/internal/ledger"
	"github.com/tradingcore/crtbot/internal/logx"
	"github.com/tradingcore/crtbot/internal/metrics"
	"github.com/tradingcore/crtbot/internal/pattern"
	"github.com/tradingcore/crtbot/internal/tfutils"
)

// Cadence is the sleep-policy hint a pipeline run leaves for the Execution
// Loop (spec §4.4/§4.8): Default, Intermediate (10s, stage-2 pattern holds
// but no FVG yet), or Intensive (1s, FVG detected but entry conditions
// pending).
type Cadence int

const (
	CadenceDefault Cadence = iota
	CadenceIntermediate
	CadenceIntensive
)

// Outcome reports what one pipeline run decided, for logging/testing and to
// drive the loop's adaptive cadence.
type Outcome struct {
	Symbol    string
	Strategy  string
	Stage     int // highest stage reached: 0=blocked at news, 1..4
	Cadence   Cadence
	Blocked   string // human reason when Stage==0
	OrderSent *ledger.Order
}

// symbolState is the mutable driver-local state scoped to one (symbol,
// strategy) pair (spec §4.4's "state per symbol,strategy"): an Intensive-
// Monitoring FVG held across ticks, and an Intermediate flag tied to the
// Stage-2 pattern remaining true.
type symbolState struct {
	heldFVG      *pattern.FVG
	intermediate bool
}

// ValuePerPriceUnit returns the account-currency value of a one-unit price
// move for one lot of symbol — e.g. ~100,000 for a standard forex lot on a
// quote-currency pair. Supplied by the caller since it depends on account
// currency and current conversion rates, which are outside this package's
// scope.
type ValuePerPriceUnit func(symbol string) float64

// EquitySource reports the account's current equity for position sizing.
type EquitySource func(ctx context.Context) (float64, error)

// Pipeline runs the four-stage decision process for one symbol at a time.
type Pipeline struct {
	gw       gateway.Gateway
	led      ledger.Ledger
	gate     *calendar.Gate
	candles  *candles.Reader
	strategy config.StrategyConfig
	risk     config.RiskManagement

	valuePerPriceUnit ValuePerPriceUnit
	equity            EquitySource

	log func(format string, args ...any)

	state map[string]*symbolState // keyed by symbol+"|"+strategy
}

func New(gw gateway.Gateway, led ledger.Ledger, gate *calendar.Gate, reader *candles.Reader,
	strategyCfg config.StrategyConfig, risk config.RiskManagement, valuePerPriceUnit ValuePerPriceUnit, equity EquitySource) *Pipeline {
	return &Pipeline{
		gw: gw, led: led, gate: gate, candles: reader,
		strategy: strategyCfg, risk: risk,
		valuePerPriceUnit: valuePerPriceUnit, equity: equity,
		log:   logx.Component("pipeline"),
		state: make(map[string]*symbolState),
	}
}

// retryAttempts/retryDelay bound every Gateway call the pipeline makes
// (spec §5): DefaultTimeout per attempt, a handful of attempts on
// ErrUnavailable.
const (
	retryAttempts = 3
	retryDelay    = 50 * time.Millisecond
)

func (p *Pipeline) tick(ctx context.Context, symbol string) (gateway.Tick, error) {
	return gateway.WithRetry(ctx, gateway.DefaultTimeout, retryAttempts, retryDelay, func(callCtx context.Context) (gateway.Tick, error) {
		return p.gw.Tick(callCtx, symbol)
	})
}

func (p *Pipeline) symbolInfo(ctx context.Context, symbol string) (gateway.SymbolInfo, error) {
	return gateway.WithRetry(ctx, gateway.DefaultTimeout, retryAttempts, retryDelay, func(callCtx context.Context) (gateway.SymbolInfo, error) {
		return p.gw.SymbolInfo(callCtx, symbol)
	})
}

func (p *Pipeline) stateFor(symbol, strategy string) *symbolState {
	key := symbol + "|" + strategy
	s, ok := p.state[key]
	if !ok {
		s = &symbolState{}
		p.state[key] = s
	}
	return s
}

// Run executes one tick of the pipeline for symbol under the given active
// strategy name, at wall-clock now (NY).
func (p *Pipeline) Run(ctx context.Context, symbol, strategyName string, now time.Time) (Outcome, error) {
	out := Outcome{Symbol: symbol, Strategy: strategyName}
	st := p.stateFor(symbol, strategyName)

	if p.risk.CloseDayOnFirstTP {
		tp, err := p.led.FirstTPToday(ctx)
		if err != nil {
			p.log("first_tp_today check failed for %s: %v", symbol, err)
		} else if tp != nil {
			out.Blocked = "first tp already hit today"
			st.heldFVG = nil
			st.intermediate = false
			metrics.PipelineBlocked.WithLabelValues(symbol, "first_tp").Inc()
			return out, nil
		}
	}

	// Stage 1: News gate.
	if err := p.gate.Refresh(ctx, now, symbol); err != nil {
		p.log("news refresh failed for %s, treating as unknown/blocked: %v", symbol, err)
		out.Blocked = "news source unavailable"
		return out, nil
	}
	allowed, reason, _ := p.gate.MayTrade(now, 5*time.Minute, 5*time.Minute, true)
	if !allowed {
		out.Blocked = reason
		st.heldFVG = nil
		st.intermediate = false
		metrics.PipelineBlocked.WithLabelValues(symbol, "news").Inc()
		return out, nil
	}
	out.Stage = 1

	// Stage 2: high-timeframe pattern.
	direction, target, invalidation, detected := p.detectHighTimeframePattern(ctx, symbol, strategyName, now)
	if !detected {
		st.heldFVG = nil
		st.intermediate = false
		out.Cadence = CadenceDefault
		metrics.PipelineBlocked.WithLabelValues(symbol, "pattern").Inc()
		return out, nil
	}
	out.Stage = 2
	st.intermediate = true

	// Stage 3: entry FVG.
	fvg, currentPrice, ready, err := p.evaluateEntryFVG(ctx, symbol, direction, st)
	if err != nil {
		return out, err
	}
	if fvg == nil {
		out.Cadence = CadenceIntermediate
		metrics.PipelineBlocked.WithLabelValues(symbol, "fvg").Inc()
		return out, nil
	}
	out.Stage = 3
	if !ready {
		out.Cadence = CadenceIntensive
		metrics.PipelineBlocked.WithLabelValues(symbol, "fvg").Inc()
		return out, nil
	}
	st.heldFVG = nil
	st.intermediate = false

	// Stage 4: risk-validated order.
	order, err := p.buildAndSubmitOrder(ctx, symbol, strategyName, direction, target, invalidation, fvg, currentPrice, now)
	if err != nil {
		return out, err
	}
	if order != nil {
		out.Stage = 4
		out.OrderSent = order
	}
	return out, nil
}

// ValidStrategyNames lists every strategy name detectHighTimeframePattern
// dispatches on, for the Session Scheduler to validate session/fallback
// strategy names against at startup (spec §4.1).
func ValidStrategyNames() []string {
	return []string{"daily_levels", "turtle-soup", "crt-continuation", "crt-revision", "crt-extreme"}
}

// detectHighTimeframePattern dispatches to the detector named by
// strategyName, returning direction/target/invalidation-boundary.
func (p *Pipeline) detectHighTimeframePattern(ctx context.Context, symbol, strategyName string, now time.Time) (pattern.Direction, float64, float64, bool) {
	if strategyName == "daily_levels" {
		return p.detectDailyLevels(ctx, symbol, now)
	}

	c1, c5, c9, err := p.candles.KeyBars(ctx, symbol, p.strategy.CRTHighTimeframe, now)
	if err != nil {
		p.log("key bars unavailable for %s: %v", symbol, err)
		return 0, 0, 0, false
	}

	switch strategyName {
	case "turtle-soup":
		if c9 == nil {
			return 0, 0, 0, false
		}
		sig := pattern.DetectTurtleSoup(*c1, *c5, *c9)
		if sig == nil {
			return 0, 0, 0, false
		}
		invalidation := c1.High
		if sig.Sweep == pattern.BearishSweep {
			invalidation = c1.Low
		}
		return sig.Direction, sig.Target, invalidation, true
	case "crt-continuation":
		sig := pattern.DetectCRTContinuation(*c1, *c5)
		if sig == nil || !p.confirmsCRTFilters(ctx, symbol, sig.Direction, now) {
			return 0, 0, 0, false
		}
		invalidation := c5.Low
		if sig.Direction == pattern.DirBearish {
			invalidation = c5.High
		}
		return sig.Direction, sig.Target, invalidation, true
	case "crt-revision":
		sig := pattern.DetectCRTRevision(*c1, *c5)
		if sig == nil || !p.confirmsCRTFilters(ctx, symbol, sig.Direction, now) {
			return 0, 0, 0, false
		}
		invalidation := c5.Low
		if sig.Direction == pattern.DirBearish {
			invalidation = c5.High
		}
		return sig.Direction, sig.Target, invalidation, true
	case "crt-extreme":
		sig := pattern.DetectCRTExtreme(*c1, *c5)
		if sig == nil || !p.confirmsCRTFilters(ctx, symbol, sig.Direction, now) {
			return 0, 0, 0, false
		}
		invalidation := c5.High
		if sig.Direction == pattern.DirBearish {
			invalidation = c5.Low
		}
		return sig.Direction, sig.Target, invalidation, true
	default:
		return 0, 0, 0, false
	}
}

// confirmsCRTFilters applies the optional crt_use_vayas/crt_use_engulfing
// confirmation filters (spec §6) on top of a raw CRT signal. Both default
// off; when enabled, the CRT signal is only accepted if the corresponding
// confirmation also agrees with sig's direction.
func (p *Pipeline) confirmsCRTFilters(ctx context.Context, symbol string, dir pattern.Direction, now time.Time) bool {
	if p.strategy.CRTUseVayas {
		bars, err := p.candles.RecentClosed(ctx, symbol, p.strategy.CRTHighTimeframe, p.strategy.CRTLookback, now)
		if err != nil || len(bars) < 2 {
			return false
		}
		found := false
		for i := 1; i < len(bars); i++ {
			if sig := pattern.DetectVayas(bars[i-1], bars[i]); sig != nil && sig.Direction == dir {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.strategy.CRTUseEngulfing {
		bars, err := p.candles.RecentClosed(ctx, symbol, p.strategy.CRTEntryTimeframe, 2, now)
		if err != nil || len(bars) < 2 {
			return false
		}
		prev, curr := bars[len(bars)-2], bars[len(bars)-1]
		if !pattern.IsEngulfing(prev, curr) {
			return false
		}
		if pattern.ClassifyBodyProfile(curr) == pattern.ProfileIndecision {
			return false // engulfing candle itself too weak-bodied to confirm
		}
		engulfingDir := pattern.DirBearish
		if curr.Close > curr.Open {
			engulfingDir = pattern.DirBullish
		}
		if engulfingDir != dir {
			return false
		}
	}
	return true
}

// detectDailyLevels implements the daily-levels sweep strategy (SPEC_FULL.md
// §5 supplemented feature, grounded on original_source/strategies/
// daily_levels_sweep_strategy.py): a prior-day high/low that the current bid
// has strictly crossed signals the opposite direction (no reversal back
// through the level is checked), invalidated one tolerance beyond the swept
// level and targeting twice the sweep distance on the other side of it.
func (p *Pipeline) detectDailyLevels(ctx context.Context, symbol string, now time.Time) (pattern.Direction, float64, float64, bool) {
	tick, err := p.tick(ctx, symbol)
	if err != nil {
		return 0, 0, 0, false
	}
	info, err := p.symbolInfo(ctx, symbol)
	if err != nil {
		return 0, 0, 0, false
	}
	dailyBars, err := p.candles.DailyLookback(ctx, symbol, p.strategy.DailyLevelLookback, now)
	if err != nil || len(dailyBars) == 0 {
		return 0, 0, 0, false
	}
	tolerance := p.strategy.DailyLevelTolerancePips * info.Point
	sig := pattern.DetectDailyLevels(dailyBars, tick.Bid, tolerance)
	if sig == nil || !sig.HasTaken {
		return 0, 0, 0, false
	}
	if sig.Kind == pattern.PDH {
		return pattern.DirBearish, sig.Price - 2*sig.Distance, sig.Price + tolerance, true
	}
	return pattern.DirBullish, sig.Price + 2*sig.Distance, sig.Price - tolerance, true
}

// evaluateEntryFVG implements Stage 3 (spec §4.4). It fetches three
// consecutive entry-timeframe bars, detects/updates the FVG, and reports
// whether all three entry conditions currently hold.
func (p *Pipeline) evaluateEntryFVG(ctx context.Context, symbol string, direction pattern.Direction, st *symbolState) (*pattern.FVG, float64, bool, error) {
	tick, err := p.tick(ctx, symbol)
	if err != nil {
		return nil, 0, false, fmt.Errorf("pipeline: tick: %w", err)
	}
	currentPrice := tick.Bid
	if direction == pattern.DirBullish {
		currentPrice = tick.Ask
	}

	forming, err := p.candles.GetCandle(ctx, symbol, p.strategy.CRTEntryTimeframe, "now", time.Now())
	if err != nil || forming == nil {
		return nil, currentPrice, false, nil
	}

	if st.heldFVG != nil {
		st.heldFVG.Update(*forming, currentPrice)
	} else {
		v1, v2, v3 := p.lastThreeEntryBars(ctx, symbol)
		if v1 == nil || v2 == nil || v3 == nil {
			return nil, currentPrice, false, nil
		}
		fvg := pattern.DetectFVG(*v1, *v2, *v3, currentPrice)
		if fvg == nil {
			return nil, currentPrice, false, nil
		}
		wantKind := pattern.FVGBearish
		if direction == pattern.DirBullish {
			wantKind = pattern.FVGBullish
		}
		if fvg.Kind != wantKind {
			return nil, currentPrice, false, nil
		}
		st.heldFVG = fvg
	}

	fvg := st.heldFVG
	exited := (direction == pattern.DirBullish && currentPrice > fvg.Top) ||
		(direction == pattern.DirBearish && currentPrice < fvg.Bottom)
	ready := fvg.Entered && exited
	return fvg, currentPrice, ready, nil
}

// lastThreeEntryBars fetches the forming bar (v3) on the configured entry
// timeframe and the two bars before it, used for one-time FVG formation
// detection.
func (p *Pipeline) lastThreeEntryBars(ctx context.Context, symbol string) (*candles.Bar, *candles.Bar, *candles.Bar) {
	now := time.Now()
	v3, err := p.candles.GetCandle(ctx, symbol, p.strategy.CRTEntryTimeframe, "now", now)
	if err != nil || v3 == nil {
		return nil, nil, nil
	}
	tfDur, err := tfutils.ParseTimeframe(p.strategy.CRTEntryTimeframe)
	if err != nil {
		return nil, nil, nil
	}
	v2, _ := p.candles.GetCandle(ctx, symbol, p.strategy.CRTEntryTimeframe, "now", now.Add(-tfDur))
	v1, _ := p.candles.GetCandle(ctx, symbol, p.strategy.CRTEntryTimeframe, "now", now.Add(-2*tfDur))
	return v1, v2, v3
}

// buildAndSubmitOrder implements Stage 4 (spec §4.4): sizing, rr
// enforcement, final preconditions, and submission.
func (p *Pipeline) buildAndSubmitOrder(ctx context.Context, symbol, strategyName string, direction pattern.Direction,
	target, invalidation float64, fvg *pattern.FVG, currentPrice float64, now time.Time) (*ledger.Order, error) {

	open, err := p.led.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list open: %w", err)
	}
	for _, o := range open {
		if o.Symbol == symbol {
			return nil, nil // guard: no re-entry while a position on this symbol is open
		}
	}
	count, err := p.led.CountToday(ctx, strategyName)
	if err != nil {
		return nil, fmt.Errorf("pipeline: count today: %w", err)
	}
	if count >= p.risk.MaxTradesPerDay {
		return nil, nil
	}

	info, err := p.symbolInfo(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("pipeline: symbol info: %w", err)
	}
	if !info.TradeEnabled {
		return nil, nil
	}

	sized, ok := computeRiskValidatedSizing(direction, currentPrice, invalidation, target, fvg.Size, p.strategy.MinRR)
	if !ok {
		return nil, nil // still insufficient after both rr-repair attempts: abort (ValidationFailure, spec §7)
	}
	sl, tp, risk, rr := sized.SL, sized.TP, sized.Risk, sized.RR

	equity, err := p.equity(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: equity: %w", err)
	}
	valuePerUnit := p.valuePerPriceUnit(symbol)
	volume := (equity * (p.risk.RiskPerTradePercent / 100)) / (risk * valuePerUnit)
	volume = gateway.SnapVolume(volume, info.VolumeMin, info.VolumeMax, info.VolumeStep)
	if volume > p.risk.MaxPositionSize {
		volume = p.risk.MaxPositionSize
	}
	if volume <= 0 {
		return nil, nil
	}

	side := gateway.Sell
	if direction == pattern.DirBullish {
		side = gateway.Buy
	}

	extra, _ := json.Marshal(map[string]any{
		"fvg":          fvg,
		"target":       target,
		"invalidation": invalidation,
	})

	req := gateway.OrderRequest{Symbol: symbol, Side: side, Volume: volume, SL: sl, TP: tp,
		Comment: fmt.Sprintf("%s/%s", strategyName, directionLabel(direction))}
	res, err := gateway.SendOrderWithRetry(ctx, p.gw, req, 3, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("pipeline: send order: %w", err)
	}
	metrics.OrdersSubmitted.WithLabelValues(symbol, string(side)).Inc()

	order := ledger.Order{
		Ticket: res.Ticket, Symbol: symbol, Side: ledger.Side(side), Volume: res.Volume,
		Entry: res.FillPrice, StopLoss: sl, TakeProfit: tp, StrategyTag: strategyName, RR: rr,
		Status: ledger.Open, ExtraJSON: extra, CreatedAt: now,
	}
	if err := p.led.InsertOpen(ctx, order); err != nil {
		p.log("ledger insert failed for ticket %d (broker remains truth): %v", order.Ticket, err)
	}
	return &order, nil
}

// Sizing is the result of the Stage-4 rr-repair computation (spec §4.4):
// entry/sl/tp after at most two repair attempts, plus the resulting risk
// distance and rr ratio.
type Sizing struct {
	Entry, SL, TP, Risk, RR float64
}

// computeRiskValidatedSizing implements the entry/sl/tp/rr math from spec
// §4.4 Stage 4 as a pure function, independent of gateway/ledger I/O, so it
// can be exercised directly by tests: sl starts just beyond the pattern's
// invalidation boundary (widened by a safety margin of 25% of the entry
// FVG's size); if rr < rr_min it first tries tightening sl to hit rr_min
// exactly, and if that is not an improvement, forces tp outward (never
// tightening below the pattern target). Returns ok=false if rr_min still
// cannot be met.
func computeRiskValidatedSizing(direction pattern.Direction, currentPrice, invalidation, target, fvgSize, minRR float64) (Sizing, bool) {
	entry := currentPrice
	margin := fvgSize * 0.25
	sl := invalidation
	if direction == pattern.DirBullish {
		sl -= margin
	} else {
		sl += margin
	}
	tp := target

	risk := absf(entry - sl)
	reward := absf(tp - entry)
	if risk == 0 {
		return Sizing{}, false
	}
	rr := reward / risk

	if rr < minRR {
		tightenedSL := entry - (reward/minRR)*sign(direction)
		if improvesRisk(direction, tightenedSL, sl, entry) {
			sl = tightenedSL
			risk = absf(entry - sl)
			rr = reward / risk
		}
	}
	if rr < minRR {
		forcedTP := entry + risk*minRR*sign(direction)
		if direction == pattern.DirBullish && forcedTP > tp {
			tp = forcedTP
		} else if direction == pattern.DirBearish && forcedTP < tp {
			tp = forcedTP
		}
		reward = absf(tp - entry)
		rr = reward / risk
	}
	if rr < minRR {
		return Sizing{}, false
	}
	return Sizing{Entry: entry, SL: sl, TP: tp, Risk: risk, RR: rr}, true
}

func sign(d pattern.Direction) float64 {
	if d == pattern.DirBullish {
		return 1
	}
	return -1
}

func improvesRisk(direction pattern.Direction, candidate, current, entry float64) bool {
	if direction == pattern.DirBullish {
		return candidate > current && candidate < entry
	}
	return candidate < current && candidate > entry
}

func directionLabel(d pattern.Direction) string {
	if d == pattern.DirBullish {
		return "long"
	}
	return "short"
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

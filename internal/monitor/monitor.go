// Package monitor implements the Position Monitor (component I): a
// latency-sensitive pass that reconciles the ledger against the broker,
// force-closes every open position at T_flat, and advances trailing stops.
// Adapted from the teacher's internal/position package (backup/rollback
// transaction idiom) and grounded on
// original_source/Base/position_monitor.py's daily_close_cache / pending-
// positions retry pattern and trailing-stop percent-of-movement formula.
package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tradingcore/crtbot/internal/clock"
	"github.com/tradingcore/crtbot/internal/gateway"
	"github.com/tradingcore/crtbot/internal/ledger"
	"github.com/tradingcore/crtbot/internal/logx"
	"github.com/tradingcore/crtbot/internal/metrics"
)

// Config holds the Position Monitor's policy, sourced from
// position_monitoring.* in config.
type Config struct {
	TrailingEnabled bool
	TriggerPercent  float64 // default 0.70
	SLPercent       float64 // default 0.50

	AutoCloseEnabled bool
	FlatClock        *clock.Clock // resolves T_flat in its own timezone
	FlatTag          string       // e.g. "16:50"
}

// Action records one thing the monitor did this cycle, for logging/testing.
type Action struct {
	Kind    string // "reconcile", "auto_close", "trailing_stop"
	Ticket  int64
	Symbol  string
	Detail  string
}

// Monitor runs the reconcile -> auto-close -> trailing-stop sequence named
// in spec §5 ("within a symbol: reconcile -> auto-close check -> trailing-
// stop pass").
type Monitor struct {
	gw     gateway.Gateway
	ledger ledger.Ledger
	cfg    Config

	log func(format string, args ...any)

	// dailyClosedGuard prevents re-triggering auto-close after a
	// successful full flatten on a given NY calendar date.
	dailyClosedGuard string // "YYYY-MM-DD" of the last date fully flattened
}

func New(gw gateway.Gateway, led ledger.Ledger, cfg Config) *Monitor {
	return &Monitor{gw: gw, ledger: led, cfg: cfg, log: logx.Component("monitor")}
}

// retryAttempts/retryDelay bound every Gateway call the monitor makes (spec
// §5): DefaultTimeout per attempt, a handful of attempts on ErrUnavailable.
const (
	retryAttempts = 3
	retryDelay    = 50 * time.Millisecond
)

func (m *Monitor) openPositions(ctx context.Context) ([]gateway.Position, error) {
	return gateway.WithRetry(ctx, gateway.DefaultTimeout, retryAttempts, retryDelay, func(callCtx context.Context) ([]gateway.Position, error) {
		return m.gw.OpenPositions(callCtx, "")
	})
}

func (m *Monitor) historyDeal(ctx context.Context, ticket int64) (gateway.Deal, error) {
	return gateway.WithRetry(ctx, gateway.DefaultTimeout, retryAttempts, retryDelay, func(callCtx context.Context) (gateway.Deal, error) {
		return m.gw.HistoryDeal(callCtx, ticket)
	})
}

func (m *Monitor) tick(ctx context.Context, symbol string) (gateway.Tick, error) {
	return gateway.WithRetry(ctx, gateway.DefaultTimeout, retryAttempts, retryDelay, func(callCtx context.Context) (gateway.Tick, error) {
		return m.gw.Tick(callCtx, symbol)
	})
}

func (m *Monitor) modify(ctx context.Context, ticket int64, sl, tp float64) error {
	_, err := gateway.WithRetry(ctx, gateway.DefaultTimeout, retryAttempts, retryDelay, func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, m.gw.Modify(callCtx, ticket, sl, tp)
	})
	return err
}

func (m *Monitor) close(ctx context.Context, ticket int64) error {
	_, err := gateway.WithRetry(ctx, gateway.DefaultTimeout, retryAttempts, retryDelay, func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, m.gw.Close(callCtx, ticket)
	})
	return err
}

func (m *Monitor) symbolInfo(ctx context.Context, symbol string) (gateway.SymbolInfo, error) {
	return gateway.WithRetry(ctx, gateway.DefaultTimeout, retryAttempts, retryDelay, func(callCtx context.Context) (gateway.SymbolInfo, error) {
		return m.gw.SymbolInfo(callCtx, symbol)
	})
}

// Run executes one monitoring cycle across every symbol and returns the
// actions taken. It never returns an error for partial gateway failure —
// per spec §7 GatewayUnavailable during auto-close is retried forever via
// the daily guard never being set. A reconciliation failure (including a
// ledger that cannot be read) is logged and the cycle goes on with
// auto-close and trailing; the returned error is always nil.
func (m *Monitor) Run(ctx context.Context, now time.Time) ([]Action, error) {
	var actions []Action

	reconcileActions, err := m.reconcile(ctx, now)
	if err != nil {
		m.log("reconcile error: %v", err)
	}
	actions = append(actions, reconcileActions...)

	if m.cfg.AutoCloseEnabled && m.cfg.FlatClock != nil {
		closeActions, allFlat := m.autoClose(ctx, now)
		actions = append(actions, closeActions...)
		if allFlat {
			// nothing further to trail once every position is flat
			return actions, nil
		}
	}

	if m.cfg.TrailingEnabled {
		trailActions := m.trailingPass(ctx)
		actions = append(actions, trailActions...)
	}

	return actions, nil
}

// reconcile compares the ledger's open set against the broker's open set.
// Ledger rows with no matching broker position are closed, with
// close_reason inferred by comparing the historical deal's close price to
// the recorded SL/TP within tolerance (spec §4.5).
func (m *Monitor) reconcile(ctx context.Context, now time.Time) ([]Action, error) {
	ledgerOpen, err := m.ledger.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("monitor: list open: %w", err)
	}
	if len(ledgerOpen) == 0 {
		return nil, nil
	}

	brokerOpen := make(map[int64]gateway.Position)
	positions, err := m.openPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("monitor: open positions: %w", err)
	}
	bySymbol := make(map[string]int)
	for _, p := range positions {
		brokerOpen[p.Ticket] = p
		bySymbol[p.Symbol]++
	}
	for symbol, count := range bySymbol {
		metrics.OpenPositions.WithLabelValues(symbol).Set(float64(count))
	}

	var actions []Action
	for _, order := range ledgerOpen {
		if _, stillOpen := brokerOpen[order.Ticket]; stillOpen {
			continue
		}
		deal, err := m.historyDeal(ctx, order.Ticket)
		if err != nil {
			m.log("reconcile: history_deal(%d) failed: %v", order.Ticket, err)
			continue
		}
		reason := inferCloseReason(order, deal, now, m)
		if err := m.ledger.MarkClosed(ctx, order.Ticket, deal.ClosePrice, reason, nonZeroTime(deal.ClosedAt, now)); err != nil {
			m.log("reconcile: mark_closed(%d) failed: %v", order.Ticket, err)
			continue
		}
		actions = append(actions, Action{Kind: "reconcile", Ticket: order.Ticket, Symbol: order.Symbol, Detail: string(reason)})
		metrics.OrdersClosed.WithLabelValues(order.Symbol, string(reason)).Inc()
	}
	return actions, nil
}

const closeReasonTolerance = 0.0005 // ~5 pips on a 4/5-digit symbol; matches spec's "small tolerance"

func inferCloseReason(order ledger.Order, deal gateway.Deal, now time.Time, m *Monitor) ledger.CloseReason {
	if m.isWithinAutoCloseWindow(now) {
		return ledger.CloseReasonAutoClose
	}
	if math.Abs(deal.ClosePrice-order.TakeProfit) <= closeReasonTolerance {
		return ledger.CloseReasonTP
	}
	if math.Abs(deal.ClosePrice-order.StopLoss) <= closeReasonTolerance {
		return ledger.CloseReasonSL
	}
	return ledger.CloseReasonManual
}

func nonZeroTime(t time.Time, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// isWithinAutoCloseWindow reports whether now is on/after T_flat for its
// calendar date.
func (m *Monitor) isWithinAutoCloseWindow(now time.Time) bool {
	if m.cfg.FlatClock == nil {
		return false
	}
	flat, err := m.cfg.FlatClock.AtClockTag(now, m.cfg.FlatTag)
	if err != nil {
		return false
	}
	return !now.Before(flat)
}

// autoClose force-closes every open position once now >= T_flat. It retries
// every cycle until the broker reports no open positions or every close of
// a pass succeeds; the daily guard only stops re-triggering after a day's
// flatten fully succeeded, never on partial failure. The guard is set from
// the broker's position list alone: open ledger rows are not consulted.
func (m *Monitor) autoClose(ctx context.Context, now time.Time) ([]Action, bool) {
	if !m.isWithinAutoCloseWindow(now) {
		return nil, false
	}
	today := now.In(m.cfg.FlatClock.Location()).Format("2006-01-02")
	if m.dailyClosedGuard == today {
		return nil, true
	}

	positions, err := m.openPositions(ctx)
	if err != nil {
		m.log("auto_close: open_positions failed: %v", err)
		return nil, false
	}
	if len(positions) == 0 {
		m.dailyClosedGuard = today
		return nil, true
	}

	var actions []Action
	pending := 0
	for _, pos := range positions {
		if err := m.close(ctx, pos.Ticket); err != nil {
			pending++
			m.log("auto_close: close(%d) failed, will retry next cycle: %v", pos.Ticket, err)
			continue
		}
		deal, _ := m.historyDeal(ctx, pos.Ticket)
		_ = m.ledger.MarkClosed(ctx, pos.Ticket, deal.ClosePrice, ledger.CloseReasonAutoClose, now)
		actions = append(actions, Action{Kind: "auto_close", Ticket: pos.Ticket, Symbol: pos.Symbol})
		metrics.OrdersClosed.WithLabelValues(pos.Symbol, string(ledger.CloseReasonAutoClose)).Inc()
	}

	allFlat := pending == 0
	if allFlat {
		m.dailyClosedGuard = today
		metrics.AutoCloseFired.Inc()
		m.log("auto_close: flattened %d position(s) for %s", len(positions), today)
	} else {
		m.log("auto_close: %d position(s) still pending, will retry", pending)
	}
	return actions, allFlat
}

// trailingPass advances the stop loss toward the entry once price has moved
// trigger_percent of the distance to TP, moving it to sl_percent of that
// distance. It only ever tightens (moves the SL in the position's favor);
// a call with unchanged price makes no modification (spec §8).
func (m *Monitor) trailingPass(ctx context.Context) []Action {
	positions, err := m.openPositions(ctx)
	if err != nil {
		m.log("trailing_stop: open_positions failed: %v", err)
		return nil
	}

	var actions []Action
	for _, pos := range positions {
		if pos.TP <= 0 {
			continue // no TP, cannot compute movement percent
		}
		tick, err := m.tick(ctx, pos.Symbol)
		if err != nil {
			m.log("trailing_stop: tick(%s) failed: %v", pos.Symbol, err)
			continue
		}
		currentPrice := tick.Ask
		if pos.Side == gateway.Buy {
			currentPrice = tick.Bid
		}

		target, ok := m.computeTargetSL(pos, currentPrice)
		if !ok {
			continue
		}
		info, err := m.symbolInfo(ctx, pos.Symbol)
		if err != nil {
			m.log("trailing_stop: symbol_info(%s) failed: %v", pos.Symbol, err)
			continue
		}
		if !passesStopLevel(pos.Side, target, currentPrice, info) {
			m.log("trailing_stop: candidate sl %.5f for ticket %d inside stop_level (%d points), skipping", target, pos.Ticket, info.StopLevelPoints)
			continue
		}
		if err := m.modify(ctx, pos.Ticket, target, pos.TP); err != nil {
			m.log("trailing_stop: modify(%d) failed: %v", pos.Ticket, err)
			continue
		}
		actions = append(actions, Action{
			Kind: "trailing_stop", Ticket: pos.Ticket, Symbol: pos.Symbol,
			Detail: fmt.Sprintf("sl %.5f -> %.5f", pos.SL, target),
		})
		metrics.TrailingStopApplied.WithLabelValues(pos.Symbol).Inc()
	}
	return actions
}

// computeTargetSL implements the percent-of-movement trailing formula from
// position_monitor.py, generalized to both sides.
func (m *Monitor) computeTargetSL(pos gateway.Position, currentPrice float64) (float64, bool) {
	var totalMovement, currentMovement float64
	if pos.Side == gateway.Buy {
		totalMovement = pos.TP - pos.Entry
		currentMovement = currentPrice - pos.Entry
	} else {
		totalMovement = pos.Entry - pos.TP
		currentMovement = pos.Entry - currentPrice
	}
	if totalMovement <= 0 {
		return 0, false
	}
	progress := currentMovement / totalMovement
	if progress < m.cfg.TriggerPercent-1e-9 {
		return 0, false
	}

	var target float64
	if pos.Side == gateway.Buy {
		target = pos.Entry + totalMovement*m.cfg.SLPercent
		if target <= currentPrice && target > pos.Entry {
			// valid, falls through
		} else {
			return 0, false
		}
		if pos.SL > 0 && target <= pos.SL {
			return 0, false // never loosens
		}
	} else {
		target = pos.Entry - totalMovement*m.cfg.SLPercent
		if target >= currentPrice && target < pos.Entry {
			// valid, falls through
		} else {
			return 0, false
		}
		if pos.SL > 0 && target >= pos.SL {
			return 0, false // never loosens
		}
	}
	return target, true
}

// passesStopLevel enforces the broker's minimum stop distance (spec §4.5:
// "apply iff ... passes the broker's stop_level distance"): the candidate
// SL must sit at least stop_level_points away from the current price.
func passesStopLevel(side gateway.Side, target, currentPrice float64, info gateway.SymbolInfo) bool {
	minDistance := float64(info.StopLevelPoints) * info.Point
	if minDistance <= 0 {
		return true
	}
	if side == gateway.Buy {
		return currentPrice-target >= minDistance
	}
	return target-currentPrice >= minDistance
}

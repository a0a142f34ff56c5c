// Package loop implements the Execution Loop (component J): the single
// logical driver thread that, each cycle, verifies broker connectivity with
// a bounded-backoff retry, runs the Position Monitor, and — when no
// positions are open and trading conditions permit — invokes the Strategy
// Pipeline per symbol. A failed connectivity check skips straight to the
// default-cadence sleep rather than touching the monitor or pipeline that
// cycle. Adapted from the teacher's cmd/main.go runTradingLoop/
// runLiveTrading signal-driven shutdown idiom, generalized from a
// per-strategy candle subscription loop to the spec's adaptive polling
// cadence (§4.8).
package loop

import (
	"context"
	"time"

	"github.com/tradingcore/crtbot/internal/clock"
	"github.com/tradingcore/crtbot/internal/gateway"
	"github.com/tradingcore/crtbot/internal/ledger"
	"github.com/tradingcore/crtbot/internal/logx"
	"github.com/tradingcore/crtbot/internal/metrics"
	"github.com/tradingcore/crtbot/internal/monitor"
	"github.com/tradingcore/crtbot/internal/pipeline"
	"github.com/tradingcore/crtbot/internal/schedule"
)

// connectivityRetries/connectivityDelay bound the per-cycle broker
// connectivity check (spec §4.8): a handful of attempts with backoff before
// the cycle gives up and retries next cycle instead.
const (
	connectivityRetries = 3
	connectivityDelay   = 200 * time.Millisecond
)

// Cadence sleep durations (spec §4.8).
const (
	SleepHasOpenPositions = 5 * time.Second
	SleepIntensive        = 1 * time.Second
	SleepIntermediate     = 10 * time.Second
	SleepDefault          = 60 * time.Second
)

// TradingWindow gates whether the pipeline may run at all this cycle,
// beyond the per-symbol scheduler/news gates.
type TradingWindow struct {
	Clock     *clock.Clock
	Enabled   bool
	StartTime string // "HH:MM"
	EndTime   string // "HH:MM"
}

func (w TradingWindow) allows(now time.Time) bool {
	if !w.Enabled {
		return true
	}
	start, err1 := w.Clock.AtClockTag(now, w.StartTime)
	end, err2 := w.Clock.AtClockTag(now, w.EndTime)
	if err1 != nil || err2 != nil {
		return false
	}
	return !now.Before(start) && now.Before(end)
}

// Loop owns the driver's per-cycle decisions and adaptive sleep.
type Loop struct {
	gw           gateway.Gateway
	led          ledger.Ledger
	monitor      *monitor.Monitor
	scheduler    *schedule.Scheduler
	pipelines    map[string]*pipeline.Pipeline // keyed by symbol
	symbols      []string
	window       TradingWindow
	tradingClock *clock.Clock

	log func(format string, args ...any)
}

func New(gw gateway.Gateway, led ledger.Ledger, mon *monitor.Monitor, sched *schedule.Scheduler,
	pipelines map[string]*pipeline.Pipeline, symbols []string, window TradingWindow, tradingClock *clock.Clock) *Loop {
	return &Loop{
		gw: gw, led: led, monitor: mon, scheduler: sched, pipelines: pipelines,
		symbols: symbols, window: window, tradingClock: tradingClock,
		log: logx.Component("loop"),
	}
}

// Run drives the loop until ctx is cancelled, recomputing the sleep cadence
// every cycle and finishing the in-flight cycle before exiting on
// cancellation (spec §5's "process-wide shutdown signal finishes the
// current cycle").
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.log("shutdown signal received, exiting after final cycle")
			return
		default:
		}

		sleep := l.RunCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// RunCycle executes exactly one cycle and returns the sleep duration to
// apply before the next one.
func (l *Loop) RunCycle(ctx context.Context) time.Duration {
	now := time.Now()
	cycleStart := now
	defer func() { metrics.LoopCycleSeconds.Observe(time.Since(cycleStart).Seconds()) }()
	ret := func(d time.Duration) time.Duration {
		metrics.CadenceSeconds.Set(d.Seconds())
		return d
	}

	if err := l.checkConnectivity(ctx); err != nil {
		l.log("broker connectivity check failed, skipping cycle: %v", err)
		return ret(SleepDefault)
	}

	actions, err := l.monitor.Run(ctx, now)
	if err != nil {
		l.log("monitor run failed: %v", err)
	}
	for _, a := range actions {
		l.log("monitor action: %s ticket=%d symbol=%s %s", a.Kind, a.Ticket, a.Symbol, a.Detail)
	}

	open, err := l.led.ListOpen(ctx)
	if err != nil {
		l.log("list open failed: %v", err)
	}
	if len(open) > 0 {
		return ret(SleepHasOpenPositions)
	}

	if !l.window.allows(now) {
		return ret(SleepDefault)
	}
	if l.tradingClock != nil {
		if ok, reason, _ := l.tradingClock.TradingDay(now); !ok {
			l.log("not a trading day: %s", reason)
			return ret(SleepDefault)
		}
	}

	cadence := time.Duration(0)
	for _, symbol := range l.symbols {
		strategyName := l.scheduler.CurrentStrategy(now)
		if ev := l.scheduler.PollChange(now); ev != nil {
			l.log("session_changed from=%s to=%s strategy=%s->%s", ev.FromName, ev.ToName, ev.From, ev.To)
		}

		p, ok := l.pipelines[symbol]
		if !ok {
			continue
		}
		out, err := p.Run(ctx, symbol, strategyName, now)
		if err != nil {
			l.log("pipeline run failed for %s: %v", symbol, err)
			continue
		}
		if out.Blocked != "" {
			l.log("pipeline blocked for %s: %s", symbol, out.Blocked)
			continue
		}
		if out.OrderSent != nil {
			l.log("order submitted ticket=%d symbol=%s strategy=%s rr=%.2f", out.OrderSent.Ticket, symbol, strategyName, out.OrderSent.RR)
		}
		cadence = moreUrgent(cadence, cadenceDuration(out.Cadence))
	}

	if cadence == 0 {
		cadence = SleepDefault
	}
	return ret(cadence)
}

// checkConnectivity verifies the broker gateway answers before the cycle
// touches the monitor or pipeline, retrying with bounded backoff on
// ErrUnavailable (spec §4.8).
func (l *Loop) checkConnectivity(ctx context.Context) error {
	if l.gw == nil || len(l.symbols) == 0 {
		return nil
	}
	return gateway.Ping(ctx, l.gw, l.symbols[0], connectivityRetries, connectivityDelay)
}

func cadenceDuration(c pipeline.Cadence) time.Duration {
	switch c {
	case pipeline.CadenceIntensive:
		return SleepIntensive
	case pipeline.CadenceIntermediate:
		return SleepIntermediate
	default:
		return SleepDefault
	}
}

// moreUrgent returns the more urgent (shorter, nonzero) of two cadences:
// zero means "no preference yet" and loses to any real cadence; otherwise
// the smaller duration wins.
func moreUrgent(a, b time.Duration) time.Duration {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

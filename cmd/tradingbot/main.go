// Command tradingbot runs the MT5 CRT/Turtle-Soup automated trading bot
// (spec §1): the Execution Loop (J), wired to the Strategy Pipeline (G),
// Position Monitor (I), and Session Scheduler (H) over a paper-trading
// Broker Gateway. Adapted from the teacher's cmd/main.go wiring order
// (config -> db -> exchange -> strategies -> live trading loop) and its
// signal-driven graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradingcore/crtbot/internal/calendar"
	"github.com/tradingcore/crtbot/internal/candles"
	"github.com/tradingcore/crtbot/internal/clock"
	"github.com/tradingcore/crtbot/internal/config"
	"github.com/tradingcore/crtbot/internal/gateway"
	"github.com/tradingcore/crtbot/internal/ledger"
	"github.com/tradingcore/crtbot/internal/logx"
	"github.com/tradingcore/crtbot/internal/loop"
	"github.com/tradingcore/crtbot/internal/monitor"
	"github.com/tradingcore/crtbot/internal/notifier"
	"github.com/tradingcore/crtbot/internal/pipeline"
	"github.com/tradingcore/crtbot/internal/schedule"
	"github.com/tradingcore/crtbot/internal/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logx.Logf(logx.Error, "config: %v", err)
		os.Exit(1)
	}
	logx.Init("crtbot.log", logx.ParseLevel(cfg.General.LogLevel))
	logx.Printf("starting crtbot for symbols %v", cfg.Symbols)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logx.Printf("received signal %v, shutting down after in-flight cycle", sig)
		cancel()
	}()

	led, closeLedger := mustOpenLedger(cfg)
	defer closeLedger()

	nyClock, err := clock.New("America/New_York")
	if err != nil {
		logx.Logf(logx.Error, "clock: %v", err)
		os.Exit(1)
	}

	base := make(map[string]float64, len(cfg.Symbols))
	symbolInfo := make(map[string]gateway.SymbolInfo, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		base[s] = 1.10000
		symbolInfo[s] = gateway.SymbolInfo{
			Digits: 5, Point: 0.00001, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01,
			StopLevelPoints: 50, TradeEnabled: true,
		}
	}
	provider := gateway.NewRandomWalkProvider(base, 0.0015)
	gw := gateway.NewMock(provider, symbolInfo, 0.00015)

	ratesProvider := gateway.RetryingRatesProvider{Provider: gw, MaxAttempts: 3, Delay: time.Second}
	reader, err := candles.NewReader(ratesProvider, cfg.MT5.BrokerTimezoneOffsetMinutes)
	if err != nil {
		logx.Logf(logx.Error, "candles: %v", err)
		os.Exit(1)
	}
	seedOffset(ctx, reader, ratesProvider, cfg.Symbols)

	calSource := calendar.NewHTMLSource("https://www.forexfactory.com/calendar", nyClock.Location())
	gate := calendar.NewGate(calSource)

	specs := make([]schedule.Spec, 0, len(cfg.StrategySchedule.Sessions))
	for _, s := range cfg.StrategySchedule.Sessions {
		specs = append(specs, schedule.Spec{Name: s.Name, StartTime: s.StartTime, EndTime: s.EndTime, Strategy: s.Strategy})
	}
	sched, err := schedule.New(cfg.StrategySchedule.Enabled, cfg.StrategySchedule.Timezone, specs, cfg.Strategy.Name, pipeline.ValidStrategyNames())
	if err != nil {
		logx.Logf(logx.Error, "schedule: %v", err)
		os.Exit(1)
	}

	valuePerPriceUnit := func(string) float64 { return cfg.Account.ValuePerPriceUnit }
	equity := func(ctx context.Context) (float64, error) { return cfg.Account.StartingEquity, nil }

	pipelines := make(map[string]*pipeline.Pipeline, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		pipelines[s] = pipeline.New(gw, led, gate, reader, cfg.StrategyConfig, cfg.RiskManagement, valuePerPriceUnit, equity)
	}

	flatClock, err := clock.New(cfg.PositionMonitoring.AutoClose.Timezone)
	if err != nil {
		logx.Logf(logx.Error, "auto-close clock: %v", err)
		os.Exit(1)
	}
	mon := monitor.New(gw, led, monitor.Config{
		TrailingEnabled:  cfg.PositionMonitoring.TrailingStop.Enabled,
		TriggerPercent:   cfg.PositionMonitoring.TrailingStop.TriggerPercent,
		SLPercent:        cfg.PositionMonitoring.TrailingStop.SLPercent,
		AutoCloseEnabled: cfg.PositionMonitoring.AutoClose.Enabled,
		FlatClock:        flatClock,
		FlatTag:          cfg.PositionMonitoring.AutoClose.Time,
	})

	window := loop.TradingWindow{
		Clock: nyClock, Enabled: cfg.TradingHours.Enabled,
		StartTime: cfg.TradingHours.StartTime, EndTime: cfg.TradingHours.EndTime,
	}
	l := loop.New(gw, led, mon, sched, pipelines, cfg.Symbols, window, nyClock)

	notify := buildNotifier(cfg)
	if notify != nil {
		defer func() {
			if r := recover(); r != nil {
				notify.Send("crtbot panicked and is shutting down")
				panic(r)
			}
		}()
	}

	go serveMetrics(":9090")

	l.Run(ctx)
	logx.Printf("shutdown complete")
}

func mustOpenLedger(cfg config.Config) (ledger.Ledger, func()) {
	if !cfg.Database.Enabled {
		logx.Printf("database disabled, running with an in-memory ledger")
		return store.NewMemory(), func() {}
	}
	s, err := store.Open(cfg.Database)
	if err != nil {
		logx.Logf(logx.Error, "store: %v", err)
		os.Exit(1)
	}
	return s, func() { _ = s.Close() }
}

// seedOffset primes the Candle Reader's broker-zone offset detection with
// one recently closed M1 bar per symbol, so GetCandle/KeyBars don't fail
// with "offset not yet established" on the very first cycle.
func seedOffset(ctx context.Context, reader *candles.Reader, provider candles.RatesProvider, symbols []string) {
	if len(symbols) == 0 {
		return
	}
	bars, err := provider.Rates(ctx, symbols[0], "M1", time.Now().Add(-time.Hour), 2)
	if err != nil || len(bars) == 0 {
		logx.Logf(logx.Warning, "could not seed broker-zone offset: %v", err)
		return
	}
	reader.DetectOffset(time.Now().UTC(), bars[0])
}

func buildNotifier(cfg config.Config) notifier.Notifier {
	if !cfg.Notifications.TelegramEnabled {
		return nil
	}
	return notifier.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logx.Logf(logx.Warning, "metrics server stopped: %v", err)
	}
}

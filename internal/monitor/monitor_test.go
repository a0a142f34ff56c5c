package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradingcore/crtbot/internal/candles"
	"github.com/tradingcore/crtbot/internal/clock"
	"github.com/tradingcore/crtbot/internal/gateway"
	"github.com/tradingcore/crtbot/internal/ledger"
	"github.com/tradingcore/crtbot/internal/store"
)

type fakeGateway struct {
	positions  map[int64]gateway.Position
	ticks      map[string]gateway.Tick
	modified   map[int64][2]float64
	closed     map[int64]bool
	closeErrs  map[int64]error
	symbolInfo *gateway.SymbolInfo
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		positions: make(map[int64]gateway.Position),
		ticks:     make(map[string]gateway.Tick),
		modified:  make(map[int64][2]float64),
		closed:    make(map[int64]bool),
		closeErrs: make(map[int64]error),
	}
}

func (f *fakeGateway) SymbolInfo(ctx context.Context, s string) (gateway.SymbolInfo, error) {
	if f.symbolInfo != nil {
		return *f.symbolInfo, nil
	}
	return gateway.SymbolInfo{Digits: 5, VolumeStep: 0.01, VolumeMin: 0.01, VolumeMax: 10}, nil
}
func (f *fakeGateway) Tick(ctx context.Context, symbol string) (gateway.Tick, error) {
	return f.ticks[symbol], nil
}
func (f *fakeGateway) Rates(ctx context.Context, s, tf string, from time.Time, count int) ([]candles.Bar, error) {
	return nil, nil
}
func (f *fakeGateway) SendOrder(ctx context.Context, req gateway.OrderRequest) (gateway.OrderResult, error) {
	return gateway.OrderResult{}, nil
}
func (f *fakeGateway) Modify(ctx context.Context, ticket int64, sl, tp float64) error {
	f.modified[ticket] = [2]float64{sl, tp}
	pos := f.positions[ticket]
	pos.SL = sl
	f.positions[ticket] = pos
	return nil
}
func (f *fakeGateway) Close(ctx context.Context, ticket int64) error {
	if err, ok := f.closeErrs[ticket]; ok {
		return err
	}
	f.closed[ticket] = true
	delete(f.positions, ticket)
	return nil
}
func (f *fakeGateway) OpenPositions(ctx context.Context, symbol string) ([]gateway.Position, error) {
	var out []gateway.Position
	for _, p := range f.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakeGateway) HistoryDeal(ctx context.Context, ticket int64) (gateway.Deal, error) {
	return gateway.Deal{Ticket: ticket, ClosePrice: 1.105, ClosedAt: time.Now()}, nil
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func nyTime(hh, mm int) time.Time {
	loc, _ := time.LoadLocation("America/New_York")
	return time.Date(2026, 8, 2, hh, mm, 0, 0, loc)
}

func TestMonitor_TrailingStopNoOpOnUnchangedPrice(t *testing.T) {
	gw := newFakeGateway()
	gw.positions[1] = gateway.Position{Ticket: 1, Symbol: "EURUSD", Side: gateway.Buy, Entry: 1.1000, TP: 1.1100, SL: 1.0950}
	gw.ticks["EURUSD"] = gateway.Tick{Bid: 1.1070, Ask: 1.1072} // 70% of the way to TP

	m := New(gw, store.NewMemory(), Config{TrailingEnabled: true, TriggerPercent: 0.70, SLPercent: 0.50})
	first := m.trailingPass(context.Background())
	require.Len(t, first, 1)

	second := m.trailingPass(context.Background())
	assert.Empty(t, second, "second pass at unchanged price must not re-modify")
}

func TestMonitor_TrailingStopNeverLoosens(t *testing.T) {
	gw := newFakeGateway()
	// SL has already been trailed to 1.1060, ahead of where this tick's
	// 50%-of-movement target (1.1050) would put it.
	gw.positions[1] = gateway.Position{Ticket: 1, Symbol: "EURUSD", Side: gateway.Buy, Entry: 1.1000, TP: 1.1100, SL: 1.1060}
	gw.ticks["EURUSD"] = gateway.Tick{Bid: 1.1070, Ask: 1.1072}

	m := New(gw, store.NewMemory(), Config{TrailingEnabled: true, TriggerPercent: 0.70, SLPercent: 0.50})
	actions := m.trailingPass(context.Background())
	assert.Empty(t, actions, "must not move sl backwards to a less favorable price")
}

func TestMonitor_TrailingStopRejectedInsideBrokerStopLevel(t *testing.T) {
	gw := newFakeGateway()
	// 50%-of-movement target is 1.1050, only 200 points (0.00200) below the
	// current bid of 1.1070 — inside a 2000-point stop_level.
	gw.positions[1] = gateway.Position{Ticket: 1, Symbol: "EURUSD", Side: gateway.Buy, Entry: 1.1000, TP: 1.1100, SL: 1.0950}
	gw.ticks["EURUSD"] = gateway.Tick{Bid: 1.1070, Ask: 1.1072}
	info := gateway.SymbolInfo{Digits: 5, Point: 0.00001, StopLevelPoints: 2000, VolumeStep: 0.01, VolumeMin: 0.01, VolumeMax: 10}
	gw.symbolInfo = &info

	m := New(gw, store.NewMemory(), Config{TrailingEnabled: true, TriggerPercent: 0.70, SLPercent: 0.50})
	actions := m.trailingPass(context.Background())
	assert.Empty(t, actions, "candidate sl inside stop_level distance must be rejected")
	assert.Empty(t, gw.modified, "modify must not be called when stop_level rejects the candidate")
}

func TestMonitor_AutoCloseFlattensAllAtTFlat(t *testing.T) {
	gw := newFakeGateway()
	gw.positions[1] = gateway.Position{Ticket: 1, Symbol: "EURUSD", Side: gateway.Buy, Entry: 1.1, TP: 1.12, SL: 1.09}
	gw.positions[2] = gateway.Position{Ticket: 2, Symbol: "GBPUSD", Side: gateway.Sell, Entry: 1.25, TP: 1.23, SL: 1.26}

	led := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, led.InsertOpen(ctx, ledger.Order{Ticket: 1, Symbol: "EURUSD", CreatedAt: time.Now()}))
	require.NoError(t, led.InsertOpen(ctx, ledger.Order{Ticket: 2, Symbol: "GBPUSD", CreatedAt: time.Now()}))

	c, err := clock.New("America/New_York")
	require.NoError(t, err)

	m := New(gw, led, Config{AutoCloseEnabled: true, FlatClock: c, FlatTag: "16:50"})
	actions, err := m.Run(ctx, nyTime(16, 50))
	require.NoError(t, err)
	assert.Len(t, actions, 2)

	open, _ := led.ListOpen(ctx)
	assert.Empty(t, open)
}

func TestMonitor_AutoCloseRetriesPendingPositions(t *testing.T) {
	gw := newFakeGateway()
	gw.positions[1] = gateway.Position{Ticket: 1, Symbol: "EURUSD", Side: gateway.Buy, Entry: 1.1, TP: 1.12, SL: 1.09}
	gw.closeErrs[1] = gateway.ErrUnavailable

	led := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, led.InsertOpen(ctx, ledger.Order{Ticket: 1, Symbol: "EURUSD", CreatedAt: time.Now()}))

	c, err := clock.New("America/New_York")
	require.NoError(t, err)
	m := New(gw, led, Config{AutoCloseEnabled: true, FlatClock: c, FlatTag: "16:50"})

	_, allFlat := m.autoClose(ctx, nyTime(16, 51))
	assert.False(t, allFlat)

	delete(gw.closeErrs, 1)
	_, allFlat = m.autoClose(ctx, nyTime(16, 52))
	assert.True(t, allFlat, "retry on the next cycle must succeed once the gateway recovers")
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tradingcore/crtbot/internal/ledger"
)

func TestMemory_InsertOpenIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	o := ledger.Order{Ticket: 1, Symbol: "EURUSD", Side: ledger.Buy, Volume: 1, Entry: 1.1,
		StopLoss: 1.09, TakeProfit: 1.12, StrategyTag: "default", RR: 2, CreatedAt: time.Now()}

	assert.NoError(t, m.InsertOpen(ctx, o))
	o.Entry = 999 // a duplicate insert with mutated fields must not overwrite
	assert.NoError(t, m.InsertOpen(ctx, o))

	open, err := m.ListOpen(ctx)
	assert.NoError(t, err)
	if assert.Len(t, open, 1) {
		assert.Equal(t, 1.1, open[0].Entry)
	}
}

func TestMemory_MarkClosedExactlyOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	o := ledger.Order{Ticket: 2, Symbol: "EURUSD", Side: ledger.Sell, Volume: 1, Entry: 1.1,
		StopLoss: 1.11, TakeProfit: 1.08, StrategyTag: "default", RR: 2, CreatedAt: time.Now()}
	assert.NoError(t, m.InsertOpen(ctx, o))

	closedAt := time.Now()
	assert.NoError(t, m.MarkClosed(ctx, 2, 1.08, ledger.CloseReasonTP, closedAt))
	// second close attempt is a no-op: reason must not flip to SL
	assert.NoError(t, m.MarkClosed(ctx, 2, 1.11, ledger.CloseReasonSL, closedAt.Add(time.Minute)))

	open, _ := m.ListOpen(ctx)
	assert.Empty(t, open)

	tp, err := m.FirstTPToday(ctx)
	assert.NoError(t, err)
	if assert.NotNil(t, tp) {
		assert.Equal(t, ledger.CloseReasonTP, tp.CloseReason)
		assert.Equal(t, 1.08, tp.ClosePrice)
	}
}

func TestMemory_CountTodayScopedByStrategy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	assert.NoError(t, m.InsertOpen(ctx, ledger.Order{Ticket: 3, StrategyTag: "crt", CreatedAt: now}))
	assert.NoError(t, m.InsertOpen(ctx, ledger.Order{Ticket: 4, StrategyTag: "turtle-soup", CreatedAt: now}))
	assert.NoError(t, m.InsertOpen(ctx, ledger.Order{Ticket: 5, StrategyTag: "crt", CreatedAt: now.Add(-48 * time.Hour)}))

	n, err := m.CountToday(ctx, "crt")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemory_LogAppendsEntries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	assert.NoError(t, m.Log(ctx, ledger.LogEntry{Level: "INFO", Message: "session_changed", Symbol: "EURUSD"}))
	assert.Len(t, m.Logs(), 1)
}

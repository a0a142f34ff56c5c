package gateway

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradingcore/crtbot/internal/candles"
	"github.com/tradingcore/crtbot/internal/logx"
)

// Mock is a paper-trading Gateway: orders fill immediately at the requested
// price, positions live in memory, and rates/ticks are served from a
// caller-supplied candles.RatesProvider. Adapted from the teacher's
// MockWallexExchange (proxy-for-reads, synthesize-for-writes).
type Mock struct {
	provider candles.RatesProvider
	symbols  map[string]SymbolInfo
	spread   float64 // applied around the provider's close to synthesize bid/ask

	mu        sync.Mutex
	positions map[int64]Position
	log       func(format string, args ...any)
}

// NewMock builds a Mock gateway. symbols maps symbol -> SymbolInfo so tests
// can configure digits/volume steps per instrument; spread is added/
// subtracted around the close price to synthesize bid/ask.
func NewMock(provider candles.RatesProvider, symbols map[string]SymbolInfo, spread float64) *Mock {
	return &Mock{
		provider:  provider,
		symbols:   symbols,
		spread:    spread,
		positions: make(map[int64]Position),
		log:       logx.Component("gateway.mock"),
	}
}

var _ Gateway = (*Mock)(nil)

func (m *Mock) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	if info, ok := m.symbols[symbol]; ok {
		return info, nil
	}
	return SymbolInfo{Digits: 5, Point: 0.00001, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01, TradeEnabled: true}, nil
}

func (m *Mock) Tick(ctx context.Context, symbol string) (Tick, error) {
	bars, err := m.provider.Rates(ctx, symbol, "M1", time.Now(), 1)
	if err != nil {
		return Tick{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(bars) == 0 {
		return Tick{}, fmt.Errorf("%w: no bars for %s", ErrUnavailable, symbol)
	}
	last := bars[len(bars)-1]
	half := m.spread / 2
	return Tick{Bid: last.Close - half, Ask: last.Close + half, At: time.Now().UTC()}, nil
}

func (m *Mock) Rates(ctx context.Context, symbol, timeframe string, from time.Time, count int) ([]candles.Bar, error) {
	bars, err := m.provider.Rates(ctx, symbol, timeframe, from, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return bars, nil
}

func (m *Mock) SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	select {
	case <-ctx.Done():
		return OrderResult{}, ctx.Err()
	default:
	}
	info, _ := m.SymbolInfo(ctx, req.Symbol)
	volume := SnapVolume(req.Volume, info.VolumeMin, info.VolumeMax, info.VolumeStep)
	if volume <= 0 {
		return OrderResult{}, &RejectedError{Retcode: 10014, Message: "gateway: invalid volume after snapping"}
	}
	price := req.Price
	if price == 0 {
		tick, err := m.Tick(ctx, req.Symbol)
		if err != nil {
			return OrderResult{}, err
		}
		if req.Side == Buy {
			price = tick.Ask
		} else {
			price = tick.Bid
		}
	}
	price = NormalizePrice(price, info.Digits)

	ticket := ticketFromUUID(uuid.New())
	m.mu.Lock()
	m.positions[ticket] = Position{
		Ticket: ticket, Symbol: req.Symbol, Side: req.Side, Volume: volume,
		Entry: price, SL: req.SL, TP: req.TP, OpenedAt: time.Now().UTC(),
	}
	m.mu.Unlock()

	m.log("filled ticket=%d symbol=%s side=%s volume=%.2f price=%.5f", ticket, req.Symbol, req.Side, volume, price)
	return OrderResult{Ticket: ticket, FillPrice: price, Volume: volume}, nil
}

func (m *Mock) Modify(ctx context.Context, ticket int64, sl, tp float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[ticket]
	if !ok {
		return &RejectedError{Retcode: 10013, Message: "gateway: unknown ticket"}
	}
	pos.SL = sl
	pos.TP = tp
	m.positions[ticket] = pos
	return nil
}

func (m *Mock) Close(ctx context.Context, ticket int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[ticket]; !ok {
		return &RejectedError{Retcode: 10013, Message: "gateway: unknown ticket"}
	}
	delete(m.positions, ticket)
	return nil
}

func (m *Mock) OpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Position
	for _, p := range m.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Mock) HistoryDeal(ctx context.Context, ticket int64) (Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[ticket]; ok {
		return Deal{Ticket: ticket, Symbol: pos.Symbol, ClosePrice: pos.Entry, ClosedAt: time.Now().UTC()}, nil
	}
	return Deal{Ticket: ticket}, nil
}

// ticketFromUUID derives a stable int64 ticket from a uuid, since MT5
// tickets are plain integers but the mock needs no real broker to assign
// one.
func ticketFromUUID(id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(id[:])
	v := int64(h.Sum64() &^ (1 << 63)) // clear sign bit, ticket must be positive
	if v == 0 {
		v = 1
	}
	return v
}

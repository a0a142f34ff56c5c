// Package gateway abstracts the MT5 terminal (Broker Gateway, component A):
// symbol metadata, tick quotes, candle history, order send/modify/close, and
// open-position enumeration. Adapted from the teacher's internal/exchange
// interface shape, generalized from a crypto-exchange REST surface to the
// MT5 capability set named in spec §6.
package gateway

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/tradingcore/crtbot/internal/candles"
)

// Errors mirror the error kinds named in spec §7 that originate at the
// Gateway boundary.
var (
	ErrUnavailable = errors.New("gateway: unavailable")
	ErrRejected    = errors.New("gateway: rejected")
)

// RejectedError carries the broker retcode for a rejected request, so
// callers can log it and abort the action without aborting the loop.
type RejectedError struct {
	Retcode int
	Message string
}

func (e *RejectedError) Error() string { return e.Message }
func (e *RejectedError) Unwrap() error { return ErrRejected }

type SymbolInfo struct {
	Digits           int
	Point            float64
	VolumeMin        float64
	VolumeMax        float64
	VolumeStep       float64
	StopLevelPoints  int
	TradeEnabled     bool
}

type Tick struct {
	Bid float64
	Ask float64
	At  time.Time
}

type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

type OrderRequest struct {
	Symbol  string
	Side    Side
	Volume  float64
	Price   float64 // 0 means "market"
	SL      float64
	TP      float64
	Comment string
}

type OrderResult struct {
	Ticket    int64
	FillPrice float64
	Volume    float64
}

type PositionStatus string

const (
	PositionOpen   PositionStatus = "Open"
	PositionClosed PositionStatus = "Closed"
)

type Position struct {
	Ticket   int64
	Symbol   string
	Side     Side
	Volume   float64
	Entry    float64
	SL       float64
	TP       float64
	OpenedAt time.Time
}

type Deal struct {
	Ticket      int64
	Symbol      string
	ClosePrice  float64
	ClosedAt    time.Time
	Profit      float64
	CloseReason string // "tp", "sl", "manual", or "" if undetermined
}

// Gateway is the Broker Gateway contract (spec §6). All prices are
// normalized to SymbolInfo.Digits and all volumes snapped to VolumeStep by
// implementations before they reach the wire.
type Gateway interface {
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	Tick(ctx context.Context, symbol string) (Tick, error)
	Rates(ctx context.Context, symbol, timeframe string, from time.Time, count int) ([]candles.Bar, error)
	SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	Modify(ctx context.Context, ticket int64, sl, tp float64) error
	Close(ctx context.Context, ticket int64) error
	OpenPositions(ctx context.Context, symbol string) ([]Position, error)
	HistoryDeal(ctx context.Context, ticket int64) (Deal, error)
}

// DefaultTimeout bounds a single attempt of any Gateway call (spec §5:
// "every Gateway call carries a 5s timeout").
const DefaultTimeout = 5 * time.Second

// WithRetry wraps one Gateway call with a per-attempt timeout and bounded
// retry on ErrUnavailable, mirroring the teacher's SubmitOrderWithRetry
// backoff loop; a RejectedError is never retried (spec §7: abort the
// action, not the loop). call receives a context already scoped to timeout.
func WithRetry[T any](ctx context.Context, timeout time.Duration, maxAttempts int, delay time.Duration, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		res, err := call(callCtx)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnavailable) {
			return zero, err
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}

// SendOrderWithRetry retries SendOrder up to maxAttempts times on
// ErrUnavailable, each attempt bounded by DefaultTimeout.
func SendOrderWithRetry(ctx context.Context, gw Gateway, req OrderRequest, maxAttempts int, delay time.Duration) (OrderResult, error) {
	return WithRetry(ctx, DefaultTimeout, maxAttempts, delay, func(callCtx context.Context) (OrderResult, error) {
		return gw.SendOrder(callCtx, req)
	})
}

// Ping probes broker connectivity cheaply via SymbolInfo, retrying with
// bounded backoff on ErrUnavailable — the Execution Loop's per-cycle
// connectivity check (spec §4.8).
func Ping(ctx context.Context, gw Gateway, symbol string, maxAttempts int, delay time.Duration) error {
	_, err := WithRetry(ctx, DefaultTimeout, maxAttempts, delay, func(callCtx context.Context) (SymbolInfo, error) {
		return gw.SymbolInfo(callCtx, symbol)
	})
	return err
}

// RetryingRatesProvider decorates a candles.RatesProvider with the same
// timeout-and-bounded-retry treatment as every other Gateway call (spec
// §5), so the Candle Reader's Rates calls aren't the one bare exception.
type RetryingRatesProvider struct {
	Provider    candles.RatesProvider
	MaxAttempts int
	Delay       time.Duration
}

func (p RetryingRatesProvider) Rates(ctx context.Context, symbol, timeframe string, from time.Time, count int) ([]candles.Bar, error) {
	return WithRetry(ctx, DefaultTimeout, p.MaxAttempts, p.Delay, func(callCtx context.Context) ([]candles.Bar, error) {
		return p.Provider.Rates(callCtx, symbol, timeframe, from, count)
	})
}

// NormalizePrice rounds price to the symbol's digit precision.
func NormalizePrice(price float64, digits int) float64 {
	scale := 1.0
	for i := 0; i < digits; i++ {
		scale *= 10
	}
	return roundHalfAwayFromZero(price*scale) / scale
}

// SnapVolume clamps volume to [min,max] and rounds it down to the nearest
// step, per spec §6's "volumes snapped to volume_step".
func SnapVolume(volume, min, max, step float64) float64 {
	if volume < min {
		volume = min
	}
	if volume > max {
		volume = max
	}
	if step <= 0 {
		return volume
	}
	snapped := math.Floor(volume/step+1e-9) * step
	if snapped < min {
		snapped = min
	}
	if snapped > max {
		snapped = max
	}
	return snapped
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return float64(int64(v + 0.5))
	}
	return float64(int64(v - 0.5))
}

// Package ledger implements the Order Ledger (F): a durable log of
// submitted orders, reconciled against the broker on every tick. Adapted
// from the teacher's internal/order + internal/journal (OrderManager +
// Journaler interfaces) and internal/db's SQL-shaped storage contract,
// generalized to the Order data model in spec §3/§4.7.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

type Status string

const (
	Open   Status = "Open"
	Closed Status = "Closed"
)

type CloseReason string

const (
	CloseReasonTP        CloseReason = "TP"
	CloseReasonSL        CloseReason = "SL"
	CloseReasonManual    CloseReason = "Manual"
	CloseReasonAutoClose CloseReason = "AutoClose"
)

// Order mirrors the spec's Order data model (§3). Ticket is the broker-
// assigned identifier and is immutable; Status transitions Open->Closed
// exactly once.
type Order struct {
	Ticket      int64
	Symbol      string
	Side        Side
	Volume      float64
	Entry       float64
	StopLoss    float64
	TakeProfit  float64
	StrategyTag string
	RR          float64
	Status      Status
	CloseReason CloseReason
	ClosePrice  float64
	Comment     string
	ExtraJSON   json.RawMessage
	CreatedAt   time.Time
	ClosedAt    *time.Time
}

// LogEntry is a row in the auxiliary Logs table (§4.7) — used both for
// free-text journaling and for recording monitor events (trailing-stop
// modifications) against a symbol/strategy/ticket.
type LogEntry struct {
	Level      string
	LoggerName string
	Message    string
	Symbol     string
	Strategy   string
	ExtraJSON  json.RawMessage
	CreatedAt  time.Time
}

var ErrNotFound = errors.New("ledger: not found")

// Ledger is the Order Ledger contract (§4.7). Inserts are idempotent on
// Ticket; writes are auto-committed; callers must not let a failed write
// abort the pipeline — the broker remains source of truth and
// reconciliation heals drift (§7, LedgerUnavailable).
type Ledger interface {
	InsertOpen(ctx context.Context, order Order) error
	MarkClosed(ctx context.Context, ticket int64, price float64, reason CloseReason, at time.Time) error
	ListOpen(ctx context.Context) ([]Order, error)
	CountToday(ctx context.Context, strategy string) (int, error)
	FirstTPToday(ctx context.Context) (*Order, error)
	Log(ctx context.Context, entry LogEntry) error
}

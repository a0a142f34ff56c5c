package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tradingcore/crtbot/internal/ledger"
)

// Memory is an in-process ledger.Ledger used by tests and by operators
// running without a configured database, adapted from the teacher's
// db.MemoryStorage mutex-guarded-map pattern.
type Memory struct {
	mu     sync.RWMutex
	orders map[int64]ledger.Order
	logs   []ledger.LogEntry
}

var _ ledger.Ledger = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{orders: make(map[int64]ledger.Order)}
}

func (m *Memory) InsertOpen(ctx context.Context, o ledger.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.Ticket]; exists {
		return nil
	}
	o.Status = ledger.Open
	m.orders[o.Ticket] = o
	return nil
}

func (m *Memory) MarkClosed(ctx context.Context, ticket int64, price float64, reason ledger.CloseReason, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ticket]
	if !ok || o.Status != ledger.Open {
		return nil
	}
	o.Status = ledger.Closed
	o.CloseReason = reason
	o.ClosePrice = price
	closedAt := at
	o.ClosedAt = &closedAt
	m.orders[ticket] = o
	return nil
}

func (m *Memory) ListOpen(ctx context.Context) ([]ledger.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Order
	for _, o := range m.orders {
		if o.Status == ledger.Open {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CountToday(ctx context.Context, strategy string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	today := todayStart()
	n := 0
	for _, o := range m.orders {
		if o.StrategyTag == strategy && !o.CreatedAt.Before(today) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) FirstTPToday(ctx context.Context) (*ledger.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	today := todayStart()
	var best *ledger.Order
	for i := range m.orders {
		o := m.orders[i]
		if o.Status != ledger.Closed || o.CloseReason != ledger.CloseReasonTP || o.ClosedAt == nil {
			continue
		}
		if o.ClosedAt.Before(today) {
			continue
		}
		if best == nil || o.ClosedAt.Before(*best.ClosedAt) {
			oc := o
			best = &oc
		}
	}
	return best, nil
}

func (m *Memory) Log(ctx context.Context, entry ledger.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

// Logs returns a snapshot of recorded log entries, used by tests asserting
// on monitor/pipeline audit trails.
func (m *Memory) Logs() []ledger.LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.LogEntry, len(m.logs))
	copy(out, m.logs)
	return out
}

func todayStart() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

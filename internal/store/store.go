// Package store provides the Postgres-backed implementation of the Order
// Ledger contract (internal/ledger.Ledger), adapted from the teacher's
// internal/db.Default transaction-context pattern (txKey / WithTransaction /
// executeWithTransaction) generalized from candle storage to order/log
// storage.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tradingcore/crtbot/internal/config"
	"github.com/tradingcore/crtbot/internal/ledger"
)

// Schema is the DDL applied by callers (via migrate tooling or on boot) to
// provision the ledger's backing tables. Kept as a package constant rather
// than a migration framework since the teacher repo manages schema the same
// way, inline near the storage layer.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	ticket        BIGINT PRIMARY KEY,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	volume        DOUBLE PRECISION NOT NULL,
	entry         DOUBLE PRECISION NOT NULL,
	stop_loss     DOUBLE PRECISION NOT NULL,
	take_profit   DOUBLE PRECISION NOT NULL,
	strategy_tag  TEXT NOT NULL,
	rr            DOUBLE PRECISION NOT NULL,
	status        TEXT NOT NULL,
	close_reason  TEXT NOT NULL DEFAULT '',
	close_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
	comment       TEXT NOT NULL DEFAULT '',
	extra         JSONB,
	created_at    TIMESTAMPTZ NOT NULL,
	closed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status);
CREATE INDEX IF NOT EXISTS orders_strategy_created_idx ON orders (strategy_tag, created_at);

CREATE TABLE IF NOT EXISTS logs (
	id          BIGSERIAL PRIMARY KEY,
	level       TEXT NOT NULL,
	logger_name TEXT NOT NULL,
	message     TEXT NOT NULL,
	symbol      TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL DEFAULT '',
	extra       JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS logs_created_at_idx ON logs (created_at);
`

// Transaction context key, mirroring the teacher's internal/db pattern so
// callers that already wrap several ledger writes in one commit (e.g. the
// monitor reconciling several tickets per cycle) can share a *sql.Tx.
type txKey struct{}

// WithTransaction attaches tx to ctx for subsequent Store calls to reuse.
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func getTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Store is a Postgres-backed ledger.Ledger.
type Store struct {
	db *sql.DB
}

var _ ledger.Ledger = (*Store)(nil)

// Open connects to Postgres using cfg and pings it. Callers are expected to
// apply Schema (or an external migration) before first use.
func Open(cfg config.Database) (*Store, error) {
	connStr := fmt.Sprintf("host=%s dbname=%s user=%s password=%s sslmode=disable",
		cfg.Server, cfg.Database, cfg.Username, cfg.Password)
	db, err := sql.Open(cfg.Driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, used by tests against a real
// Postgres instance and by callers that manage the pool themselves.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) execWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := getTransaction(ctx); tx != nil {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *Store) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := getTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return s.db.QueryContext(ctx, query, args...)
}

// InsertOpen inserts a new open order. Idempotent on Ticket: a duplicate
// insert is a silent no-op rather than an error, since the pipeline may
// retry a submission whose ledger write succeeded but whose ack was lost.
func (s *Store) InsertOpen(ctx context.Context, o ledger.Order) error {
	return s.execWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (ticket, symbol, side, volume, entry, stop_loss, take_profit,
				strategy_tag, rr, status, close_reason, close_price, comment, extra, created_at, closed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			ON CONFLICT (ticket) DO NOTHING`,
			o.Ticket, o.Symbol, string(o.Side), o.Volume, o.Entry, o.StopLoss, o.TakeProfit,
			o.StrategyTag, o.RR, string(ledger.Open), "", 0.0, o.Comment, nullableJSON(o.ExtraJSON), o.CreatedAt, o.ClosedAt)
		if err != nil {
			return fmt.Errorf("store: insert open order %d: %w", o.Ticket, err)
		}
		return nil
	})
}

// MarkClosed transitions an order Open->Closed exactly once; a second call
// for an already-closed ticket is a no-op (WHERE status='Open' matches
// nothing, RowsAffected 0, treated as success — reconciliation may retry).
func (s *Store) MarkClosed(ctx context.Context, ticket int64, price float64, reason ledger.CloseReason, at time.Time) error {
	return s.execWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE orders SET status=$1, close_reason=$2, close_price=$3, closed_at=$4
			WHERE ticket=$5 AND status=$6`,
			string(ledger.Closed), string(reason), price, at, ticket, string(ledger.Open))
		if err != nil {
			return fmt.Errorf("store: mark closed %d: %w", ticket, err)
		}
		return nil
	})
}

func (s *Store) ListOpen(ctx context.Context) ([]ledger.Order, error) {
	rows, err := s.queryWithTransaction(ctx, `
		SELECT ticket, symbol, side, volume, entry, stop_loss, take_profit, strategy_tag, rr,
			status, close_reason, close_price, comment, extra, created_at, closed_at
		FROM orders WHERE status=$1 ORDER BY created_at ASC`, string(ledger.Open))
	if err != nil {
		return nil, fmt.Errorf("store: list open: %w", err)
	}
	defer rows.Close()

	var out []ledger.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) CountToday(ctx context.Context, strategy string) (int, error) {
	rows, err := s.queryWithTransaction(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE strategy_tag=$1 AND created_at >= date_trunc('day', now())`, strategy)
	if err != nil {
		return 0, fmt.Errorf("store: count today: %w", err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("store: scan count today: %w", err)
		}
	}
	return n, rows.Err()
}

func (s *Store) FirstTPToday(ctx context.Context) (*ledger.Order, error) {
	rows, err := s.queryWithTransaction(ctx, `
		SELECT ticket, symbol, side, volume, entry, stop_loss, take_profit, strategy_tag, rr,
			status, close_reason, close_price, comment, extra, created_at, closed_at
		FROM orders
		WHERE status=$1 AND close_reason=$2 AND closed_at >= date_trunc('day', now())
		ORDER BY closed_at ASC LIMIT 1`, string(ledger.Closed), string(ledger.CloseReasonTP))
	if err != nil {
		return nil, fmt.Errorf("store: first tp today: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	o, err := scanOrder(rows)
	if err != nil {
		return nil, err
	}
	return &o, rows.Err()
}

func (s *Store) Log(ctx context.Context, entry ledger.LogEntry) error {
	return s.execWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO logs (level, logger_name, message, symbol, strategy, extra, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			entry.Level, entry.LoggerName, entry.Message, entry.Symbol, entry.Strategy,
			nullableJSON(entry.ExtraJSON), entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: log: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(rows rowScanner) (ledger.Order, error) {
	var o ledger.Order
	var side, status, closeReason string
	var extra []byte
	if err := rows.Scan(&o.Ticket, &o.Symbol, &side, &o.Volume, &o.Entry, &o.StopLoss, &o.TakeProfit,
		&o.StrategyTag, &o.RR, &status, &closeReason, &o.ClosePrice, &o.Comment, &extra, &o.CreatedAt, &o.ClosedAt); err != nil {
		return ledger.Order{}, fmt.Errorf("store: scan order: %w", err)
	}
	o.Side = ledger.Side(side)
	o.Status = ledger.Status(status)
	o.CloseReason = ledger.CloseReason(closeReason)
	if len(extra) > 0 {
		o.ExtraJSON = extra
	}
	return o, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

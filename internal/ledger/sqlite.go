package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements Store using SQLite. Writes go through a bounded
// wait: the driver-level busy_timeout plus a short retry loop, because the
// ledger file may see concurrent external writers (reporting jobs, a second
// reconcile run) and the write pattern is many short transactions.
type SQLiteStore struct {
	db       *sql.DB
	busyWait time.Duration
}

// NewSQLiteStore opens (or creates) the ledger at path and runs migrations.
func NewSQLiteStore(path string, busyWait time.Duration) (*SQLiteStore, error) {
	if busyWait <= 0 {
		busyWait = 30 * time.Second
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", path, busyWait.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	s := &SQLiteStore{db: db, busyWait: busyWait}

	if err := s.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Migrate runs database migrations. Additive-only: the orders table is an
// append-only audit trail, so existing columns are never altered or dropped.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			client_order_id TEXT UNIQUE NOT NULL,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			order_type TEXT NOT NULL,
			status INTEGER NOT NULL,
			broker_order_id TEXT,
			submitted_at DATETIME NOT NULL,
			resolved_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_client_order_id ON orders(client_order_id)`,

		`CREATE TABLE IF NOT EXISTS positions (
			position_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			status INTEGER NOT NULL,
			entry_price TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			stop_loss TEXT NOT NULL,
			take_profit TEXT NOT NULL,
			risk_per_share TEXT NOT NULL,
			total_risk TEXT NOT NULL,
			entry_order_id TEXT NOT NULL,
			submitted_at DATETIME NOT NULL,
			opened_at DATETIME,
			closed_at DATETIME,
			note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,

		`CREATE TABLE IF NOT EXISTS guard_entries (
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			trading_day TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(symbol, side, trading_day)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_guard_trading_day ON guard_entries(trading_day)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// execBounded executes a write with retries on lock contention, giving up
// once the bounded wait elapses.
func (s *SQLiteStore) execBounded(ctx context.Context, query string, args ...any) (sql.Result, error) {
	deadline := time.Now().Add(s.busyWait)
	backoff := 50 * time.Millisecond

	for {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if !isBusy(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %v", types.ErrLedgerBusy, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// InsertOrder inserts a new order row.
func (s *SQLiteStore) InsertOrder(ctx context.Context, order OrderRecord) error {
	query := `INSERT INTO orders
		(order_id, client_order_id, symbol, side, quantity, order_type, status, broker_order_id, submitted_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.execBounded(ctx, query,
		order.OrderID,
		order.ClientOrderID,
		order.Symbol,
		order.Side,
		order.Quantity,
		string(order.OrderType),
		order.Status,
		order.BrokerOrderID,
		order.SubmittedAt,
		order.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

const orderColumns = `order_id, client_order_id, symbol, side, quantity, order_type, status, broker_order_id, submitted_at, resolved_at`

// GetOrder returns the order with the given system ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*OrderRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	return scanOrder(row)
}

// GetOrderByClientID returns the order with the given idempotency key.
func (s *SQLiteStore) GetOrderByClientID(ctx context.Context, clientOrderID string) (*OrderRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE client_order_id = ?`, clientOrderID)
	return scanOrder(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*OrderRecord, error) {
	var o OrderRecord
	var orderType string
	var brokerID sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&o.OrderID, &o.ClientOrderID, &o.Symbol, &o.Side, &o.Quantity,
		&orderType, &o.Status, &brokerID, &o.SubmittedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.OrderType = types.OrderType(orderType)
	o.BrokerOrderID = brokerID.String
	if resolvedAt.Valid {
		o.ResolvedAt = &resolvedAt.Time
	}

	return &o, nil
}

// GetOrdersByStatus returns all orders with the given status, oldest first.
func (s *SQLiteStore) GetOrdersByStatus(ctx context.Context, status types.OrderStatus) ([]OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY submitted_at`, status)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	return orders, rows.Err()
}

// ResolveOrder moves an order to a terminal status. Forward-only: a row that
// already carries a terminal status is left untouched.
func (s *SQLiteStore) ResolveOrder(ctx context.Context, orderID string, status types.OrderStatus, resolvedAt time.Time) error {
	if !status.IsFinal() {
		return fmt.Errorf("resolve order %s: status %s is not terminal", orderID, status)
	}

	query := `UPDATE orders SET status = ?, resolved_at = ?
		WHERE order_id = ? AND status = ?`

	_, err := s.execBounded(ctx, query, status, resolvedAt, orderID, types.OrderStatusSubmitted)
	if err != nil {
		return fmt.Errorf("resolve order: %w", err)
	}

	return nil
}

// InsertPosition inserts a new position row.
func (s *SQLiteStore) InsertPosition(ctx context.Context, position PositionRecord) error {
	query := `INSERT INTO positions
		(position_id, symbol, status, entry_price, quantity, stop_loss, take_profit, risk_per_share, total_risk, entry_order_id, submitted_at, opened_at, closed_at, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.execBounded(ctx, query,
		position.PositionID,
		position.Symbol,
		position.Status,
		position.EntryPrice.String(),
		position.Quantity,
		position.StopLoss.String(),
		position.TakeProfit.String(),
		position.RiskPerShare.String(),
		position.TotalRisk.String(),
		position.EntryOrderID,
		position.SubmittedAt,
		position.OpenedAt,
		position.ClosedAt,
		position.Note,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	return nil
}

const positionColumns = `position_id, symbol, status, entry_price, quantity, stop_loss, take_profit, risk_per_share, total_risk, entry_order_id, submitted_at, opened_at, closed_at, note`

func scanPosition(row rowScanner) (*PositionRecord, error) {
	var p PositionRecord
	var entryPrice, stopLoss, takeProfit, riskPerShare, totalRisk string
	var openedAt, closedAt sql.NullTime

	err := row.Scan(&p.PositionID, &p.Symbol, &p.Status, &entryPrice, &p.Quantity,
		&stopLoss, &takeProfit, &riskPerShare, &totalRisk, &p.EntryOrderID,
		&p.SubmittedAt, &openedAt, &closedAt, &p.Note)
	if err == sql.ErrNoRows {
		return nil, types.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}

	p.EntryPrice, _ = decimal.NewFromString(entryPrice)
	p.StopLoss, _ = decimal.NewFromString(stopLoss)
	p.TakeProfit, _ = decimal.NewFromString(takeProfit)
	p.RiskPerShare, _ = decimal.NewFromString(riskPerShare)
	p.TotalRisk, _ = decimal.NewFromString(totalRisk)
	if openedAt.Valid {
		p.OpenedAt = &openedAt.Time
	}
	if closedAt.Valid {
		p.ClosedAt = &closedAt.Time
	}

	return &p, nil
}

// GetPosition returns the position with the given ID.
func (s *SQLiteStore) GetPosition(ctx context.Context, positionID string) (*PositionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE position_id = ?`, positionID)
	return scanPosition(row)
}

// GetPositionsByStatus returns all positions with the given status, oldest first.
func (s *SQLiteStore) GetPositionsByStatus(ctx context.Context, status types.PositionStatus) ([]PositionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY submitted_at`, status)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var positions []PositionRecord
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}

	return positions, rows.Err()
}

// PromotePosition moves a PENDING position to OPEN using broker-reported
// price and quantity, which are authoritative over the intended values. Risk
// fields are recomputed against the recorded stop; a fill at or below the
// stop would make that non-positive, so the row keeps the risk computed at
// submission instead. Only PENDING rows match, so a repeated promote is a
// no-op.
func (s *SQLiteStore) PromotePosition(ctx context.Context, positionID string, fillPrice decimal.Decimal, fillQty int64, openedAt time.Time) error {
	pos, err := s.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}

	riskPerShare := fillPrice.Sub(pos.StopLoss)
	if !riskPerShare.IsPositive() {
		riskPerShare = pos.RiskPerShare
	}
	totalRisk := riskPerShare.Mul(decimal.NewFromInt(fillQty))

	query := `UPDATE positions
		SET status = ?, entry_price = ?, quantity = ?, risk_per_share = ?, total_risk = ?, opened_at = ?
		WHERE position_id = ? AND status = ?`

	_, err = s.execBounded(ctx, query,
		types.PositionStatusOpen,
		fillPrice.String(),
		fillQty,
		riskPerShare.String(),
		totalRisk.String(),
		openedAt,
		positionID,
		types.PositionStatusPending,
	)
	if err != nil {
		return fmt.Errorf("promote position: %w", err)
	}

	return nil
}

// RejectPosition moves a PENDING position to REJECTED with a reason note.
func (s *SQLiteStore) RejectPosition(ctx context.Context, positionID string, note string) error {
	query := `UPDATE positions SET status = ?, note = ?
		WHERE position_id = ? AND status = ?`

	_, err := s.execBounded(ctx, query,
		types.PositionStatusRejected, note, positionID, types.PositionStatusPending)
	if err != nil {
		return fmt.Errorf("reject position: %w", err)
	}

	return nil
}

// ClosePosition moves an OPEN position to CLOSED.
func (s *SQLiteStore) ClosePosition(ctx context.Context, positionID string, closedAt time.Time) error {
	query := `UPDATE positions SET status = ?, closed_at = ?
		WHERE position_id = ? AND status = ?`

	_, err := s.execBounded(ctx, query,
		types.PositionStatusClosed, closedAt, positionID, types.PositionStatusOpen)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}

	return nil
}

// CountOpenPositions returns the number of positions counted against the
// open-position cap: anything not yet terminally resolved (PENDING or OPEN).
func (s *SQLiteStore) CountOpenPositions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE status IN (?, ?)`,
		types.PositionStatusPending, types.PositionStatusOpen,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open positions: %w", err)
	}
	return count, nil
}

// HasGuardEntry reports whether a symbol+side was already attempted on the
// given trading day.
func (s *SQLiteStore) HasGuardEntry(ctx context.Context, symbol string, side types.Side, tradingDay string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guard_entries WHERE symbol = ? AND side = ? AND trading_day = ?`,
		symbol, side, tradingDay,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query guard entry: %w", err)
	}
	return count > 0, nil
}

// RecordGuardEntry inserts a guard entry. The unique constraint on
// (symbol, side, trading_day) makes this the atomicity point for the
// check-then-record sequence.
func (s *SQLiteStore) RecordGuardEntry(ctx context.Context, symbol string, side types.Side, tradingDay string) error {
	_, err := s.execBounded(ctx,
		`INSERT INTO guard_entries (symbol, side, trading_day) VALUES (?, ?, ?)`,
		symbol, side, tradingDay)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return types.ErrDuplicateIntent
		}
		return fmt.Errorf("record guard entry: %w", err)
	}
	return nil
}

// PruneGuardEntries deletes guard entries from trading days before the given
// day (YYYY-MM-DD, lexicographic compare).
func (s *SQLiteStore) PruneGuardEntries(ctx context.Context, before string) (int64, error) {
	res, err := s.execBounded(ctx,
		`DELETE FROM guard_entries WHERE trading_day < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune guard entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the underlying connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

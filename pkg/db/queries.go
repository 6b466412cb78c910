package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// InsertTrade stores a completed trade. Re-inserting the same id is a no-op.
func (d *Database) InsertTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
INSERT OR IGNORE INTO trades (id, symbol, side, entry_price, exit_price, qty, leverage, gross_pnl, fees, realized_pnl, reason, low_fill, preset, opened_at, closed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, t.ID, t.Symbol, t.Side, t.EntryPrice, t.ExitPrice, t.Qty, t.Leverage, t.GrossPnL, t.Fees, t.RealizedPnL,
		t.Reason, boolToInt(t.LowFill), t.Preset, t.OpenedAt.UTC(), t.ClosedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ListTrades returns the newest trades first.
func (d *Database) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
SELECT id, symbol, side, entry_price, exit_price, qty, leverage, gross_pnl, fees, realized_pnl, reason, low_fill, preset, opened_at, closed_at
FROM trades ORDER BY closed_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t       Trade
			lowFill int
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.EntryPrice, &t.ExitPrice, &t.Qty, &t.Leverage,
			&t.GrossPnL, &t.Fees, &t.RealizedPnL, &t.Reason, &lowFill, &t.Preset, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.LowFill = lowFill == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertDailyStats replaces the aggregate row for s.Date.
func (d *Database) UpsertDailyStats(ctx context.Context, s DailyStats) error {
	_, err := d.DB.ExecContext(ctx, `
INSERT INTO daily_stats (date, trades, wins, losses, total_pnl, fees, updated_at)
VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(date) DO UPDATE SET
    trades = excluded.trades,
    wins = excluded.wins,
    losses = excluded.losses,
    total_pnl = excluded.total_pnl,
    fees = excluded.fees,
    updated_at = CURRENT_TIMESTAMP
`, s.Date, s.Trades, s.Wins, s.Losses, s.TotalPnL, s.Fees)
	if err != nil {
		return fmt.Errorf("upsert daily stats: %w", err)
	}
	return nil
}

// GetDailyStats returns ErrNotFound when no row exists for date.
func (d *Database) GetDailyStats(ctx context.Context, date string) (DailyStats, error) {
	var s DailyStats
	err := d.DB.QueryRowContext(ctx, `
SELECT date, trades, wins, losses, total_pnl, fees FROM daily_stats WHERE date = ?
`, date).Scan(&s.Date, &s.Trades, &s.Wins, &s.Losses, &s.TotalPnL, &s.Fees)
	if errors.Is(err, sql.ErrNoRows) {
		return DailyStats{}, ErrNotFound
	}
	if err != nil {
		return DailyStats{}, fmt.Errorf("query daily stats: %w", err)
	}
	return s, nil
}

// AppendLogs writes a batch of log entries in a single transaction.
func (d *Database) AppendLogs(ctx context.Context, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO trade_log (seq, ts, kind, symbol, message, fields) VALUES (?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare log insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Seq, e.Time.UTC(), e.Kind, e.Symbol, e.Message, e.Fields); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert log: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit logs: %w", err)
	}
	return nil
}

// RecentLogs returns up to limit entries, oldest first.
func (d *Database) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := d.DB.QueryContext(ctx, `
SELECT seq, ts, kind, COALESCE(symbol, ''), message, COALESCE(fields, '')
FROM (SELECT * FROM trade_log ORDER BY id DESC LIMIT ?) ORDER BY id ASC
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Seq, &e.Time, &e.Kind, &e.Symbol, &e.Message, &e.Fields); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveOrder inserts or replaces an order row.
func (d *Database) SaveOrder(ctx context.Context, o Order) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
INSERT INTO orders (id, venue, symbol, side, type, price, qty, reduce_only, status, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    error = excluded.error,
    updated_at = CURRENT_TIMESTAMP
`, o.ID, o.Venue, o.Symbol, o.Side, o.Type, o.Price, o.Qty, boolToInt(o.ReduceOnly), o.Status, o.Error, created.UTC())
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// UpdateOrderStatus changes the status of an existing order row.
func (d *Database) UpdateOrderStatus(ctx context.Context, id, status string) error {
	res, err := d.DB.ExecContext(ctx, `
UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
`, status, id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrder loads an order row by id.
func (d *Database) GetOrder(ctx context.Context, id string) (Order, error) {
	var (
		o          Order
		reduceOnly int
		errText    sql.NullString
	)
	err := d.DB.QueryRowContext(ctx, `
SELECT id, venue, symbol, side, type, price, qty, reduce_only, status, error, created_at FROM orders WHERE id = ?
`, id).Scan(&o.ID, &o.Venue, &o.Symbol, &o.Side, &o.Type, &o.Price, &o.Qty, &reduceOnly, &o.Status, &errText, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("query order: %w", err)
	}
	o.ReduceOnly = reduceOnly == 1
	o.Error = errText.String
	return o, nil
}

// SavePosition writes the checkpoint for p.Symbol, replacing any previous one.
func (d *Database) SavePosition(ctx context.Context, p PositionCheckpoint) error {
	_, err := d.DB.ExecContext(ctx, `
INSERT INTO positions (symbol, generation, side, qty, avg_price, planned_qty, leverage, stop_loss, low_fill, peak_pnl_pct, activated_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(symbol) DO UPDATE SET
    generation = excluded.generation,
    side = excluded.side,
    qty = excluded.qty,
    avg_price = excluded.avg_price,
    planned_qty = excluded.planned_qty,
    leverage = excluded.leverage,
    stop_loss = excluded.stop_loss,
    low_fill = excluded.low_fill,
    peak_pnl_pct = excluded.peak_pnl_pct,
    activated_at = excluded.activated_at,
    updated_at = CURRENT_TIMESTAMP
`, p.Symbol, p.Generation, p.Side, p.Qty, p.AvgPrice, p.PlannedQty, p.Leverage, p.StopLoss,
		boolToInt(p.LowFill), p.PeakPnLPct, p.ActivatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// LoadPosition returns ErrNotFound when no checkpoint exists.
func (d *Database) LoadPosition(ctx context.Context, symbol string) (PositionCheckpoint, error) {
	var (
		p       PositionCheckpoint
		lowFill int
	)
	err := d.DB.QueryRowContext(ctx, `
SELECT symbol, generation, side, qty, avg_price, planned_qty, leverage, stop_loss, low_fill, peak_pnl_pct, activated_at
FROM positions WHERE symbol = ?
`, symbol).Scan(&p.Symbol, &p.Generation, &p.Side, &p.Qty, &p.AvgPrice, &p.PlannedQty, &p.Leverage,
		&p.StopLoss, &lowFill, &p.PeakPnLPct, &p.ActivatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PositionCheckpoint{}, ErrNotFound
	}
	if err != nil {
		return PositionCheckpoint{}, fmt.Errorf("query position: %w", err)
	}
	p.LowFill = lowFill == 1
	return p, nil
}

// DeletePosition removes the checkpoint for symbol.
func (d *Database) DeletePosition(ctx context.Context, symbol string) error {
	if _, err := d.DB.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

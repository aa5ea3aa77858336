// Package storage implements position persistence on SQLite
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"risk_engine/internal/core"
	"risk_engine/pkg/retry"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id                  TEXT PRIMARY KEY,
	uid                 TEXT NOT NULL,
	strategy_id         TEXT NOT NULL DEFAULT '',
	exchange_api_key_id TEXT NOT NULL DEFAULT '',
	exchange            TEXT NOT NULL,
	symbol              TEXT NOT NULL,
	side                TEXT NOT NULL,
	entry_price         TEXT NOT NULL,
	quantity            TEXT NOT NULL,
	stop_loss_price     TEXT,
	take_profit_price   TEXT,
	trailing_enabled    INTEGER NOT NULL DEFAULT 0,
	trailing_stop_price TEXT,
	trailing_triggered  INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	close_reason        TEXT,
	close_price         TEXT,
	opened_at           INTEGER NOT NULL,
	closed_at           INTEGER
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
`

// SQLiteStore implements core.IPositionStore on a local SQLite database.
// Writes retry on SQLITE_BUSY since WAL readers and the evaluation loop can
// contend briefly.
type SQLiteStore struct {
	db     *sql.DB
	policy retry.Policy
}

// NewSQLiteStore opens (and if needed bootstraps) the positions database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode for crash recovery and concurrent readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &SQLiteStore{db: db, policy: retry.DefaultPolicy}, nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// InsertPosition persists a newly opened position
func (s *SQLiteStore) InsertPosition(ctx context.Context, pos core.Position) error {
	query := `INSERT OR REPLACE INTO positions
		(id, uid, strategy_id, exchange_api_key_id, exchange, symbol, side,
		 entry_price, quantity, stop_loss_price, take_profit_price,
		 trailing_enabled, trailing_stop_price, trailing_triggered,
		 status, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return retry.Do(ctx, s.policy, isBusy, func() error {
		_, err := s.db.ExecContext(ctx, query,
			pos.ID, pos.UID, pos.StrategyID, pos.ExchangeAPIKeyID,
			pos.Exchange, pos.Symbol, string(pos.Side),
			pos.EntryPrice.String(), pos.Quantity.String(),
			nullDecimal(pos.StopLossPrice), nullDecimal(pos.TakeProfitPrice),
			boolToInt(pos.TrailingEnabled), nullDecimal(pos.TrailingStopPrice),
			boolToInt(pos.TrailingTriggered),
			string(pos.Status), pos.OpenedAt.UnixMilli(), nullTime(pos.ClosedAt))
		return err
	})
}

// ListOpenPositions returns every position still marked open
func (s *SQLiteStore) ListOpenPositions(ctx context.Context) ([]core.Position, error) {
	query := `SELECT id, uid, strategy_id, exchange_api_key_id, exchange, symbol, side,
		entry_price, quantity, stop_loss_price, take_profit_price,
		trailing_enabled, trailing_stop_price, trailing_triggered,
		status, opened_at, closed_at
		FROM positions WHERE status = ?`

	rows, err := s.db.QueryContext(ctx, query, string(core.PositionStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var positions []core.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// ClosePosition marks a position closed and records how and at what price.
// The affected-row count lets callers detect a double close.
func (s *SQLiteStore) ClosePosition(ctx context.Context, positionID string, trailingTriggered bool, closedAt time.Time, reason core.CloseReason, closePrice decimal.Decimal) (int64, error) {
	query := `UPDATE positions
		SET status = ?, trailing_triggered = ?, closed_at = ?, close_reason = ?, close_price = ?
		WHERE id = ? AND status = ?`

	var affected int64
	err := retry.Do(ctx, s.policy, isBusy, func() error {
		res, err := s.db.ExecContext(ctx, query,
			string(core.PositionStatusClosed), boolToInt(trailingTriggered),
			closedAt.UnixMilli(), string(reason), nullDecimal(closePrice),
			positionID, string(core.PositionStatusOpen))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to close position %s: %w", positionID, err)
	}
	return affected, nil
}

// UpdateTrailingStopPrice persists a trailing stop activation or ratchet
func (s *SQLiteStore) UpdateTrailingStopPrice(ctx context.Context, positionID string, price decimal.Decimal) (int64, error) {
	query := `UPDATE positions
		SET trailing_stop_price = ?, trailing_triggered = 1
		WHERE id = ? AND status = ?`

	var affected int64
	err := retry.Do(ctx, s.policy, isBusy, func() error {
		res, err := s.db.ExecContext(ctx, query,
			price.String(), positionID, string(core.PositionStatusOpen))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update trailing stop for %s: %w", positionID, err)
	}
	return affected, nil
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanPosition(rows *sql.Rows) (core.Position, error) {
	var pos core.Position
	var side, status string
	var entryPrice, quantity string
	var stopLoss, takeProfit, trailingStop sql.NullString
	var trailingEnabled, trailingTriggered int
	var openedAt int64
	var closedAt sql.NullInt64

	err := rows.Scan(&pos.ID, &pos.UID, &pos.StrategyID, &pos.ExchangeAPIKeyID,
		&pos.Exchange, &pos.Symbol, &side,
		&entryPrice, &quantity, &stopLoss, &takeProfit,
		&trailingEnabled, &trailingStop, &trailingTriggered,
		&status, &openedAt, &closedAt)
	if err != nil {
		return pos, fmt.Errorf("failed to scan position row: %w", err)
	}

	pos.Side = core.Side(side)
	pos.Status = core.PositionStatus(status)
	pos.TrailingEnabled = trailingEnabled != 0
	pos.TrailingTriggered = trailingTriggered != 0
	pos.OpenedAt = time.UnixMilli(openedAt).UTC()
	if closedAt.Valid {
		pos.ClosedAt = time.UnixMilli(closedAt.Int64).UTC()
	}

	if pos.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return pos, fmt.Errorf("bad entry_price for %s: %w", pos.ID, err)
	}
	if pos.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return pos, fmt.Errorf("bad quantity for %s: %w", pos.ID, err)
	}
	if pos.StopLossPrice, err = parseNullDecimal(stopLoss); err != nil {
		return pos, fmt.Errorf("bad stop_loss_price for %s: %w", pos.ID, err)
	}
	if pos.TakeProfitPrice, err = parseNullDecimal(takeProfit); err != nil {
		return pos, fmt.Errorf("bad take_profit_price for %s: %w", pos.ID, err)
	}
	if pos.TrailingStopPrice, err = parseNullDecimal(trailingStop); err != nil {
		return pos, fmt.Errorf("bad trailing_stop_price for %s: %w", pos.ID, err)
	}
	return pos, nil
}

func parseNullDecimal(v sql.NullString) (decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v.String)
}

func nullDecimal(d decimal.Decimal) interface{} {
	if !d.IsPositive() {
		return nil
	}
	return d.String()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

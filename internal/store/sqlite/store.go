// Package sqlite persists the engine snapshot (gaps, positions, risk state)
// and a closed-trade journal.
//
// Save replaces the whole snapshot inside one transaction, so from the
// engine's perspective a save either fully succeeds or the prior snapshot
// remains intact on disk.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"fvg-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a single-writer SQLite state store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the state database with WAL mode and schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened state store at %s", dbPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS gaps (
			id          TEXT PRIMARY KEY,
			symbol      TEXT    NOT NULL,
			direction   TEXT    NOT NULL,
			top         REAL    NOT NULL,
			bottom      REAL    NOT NULL,
			created_at  INTEGER NOT NULL,
			status      TEXT    NOT NULL,
			fill_count  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS positions (
			id           TEXT PRIMARY KEY,
			symbol       TEXT    NOT NULL,
			direction    TEXT    NOT NULL,
			entry_price  REAL    NOT NULL,
			size         REAL    NOT NULL,
			stop_loss    REAL    NOT NULL,
			take_profit  REAL    NOT NULL,
			gap_id       TEXT,
			opened_at    INTEGER NOT NULL,
			status       TEXT    NOT NULL,
			closed_at    INTEGER NOT NULL DEFAULT 0,
			exit_price   REAL    NOT NULL DEFAULT 0,
			exit_reason  TEXT    NOT NULL DEFAULT '',
			realized_pnl REAL    NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS risk_state (
			id                INTEGER PRIMARY KEY CHECK (id = 1),
			day_start_balance REAL    NOT NULL,
			current_balance   REAL    NOT NULL,
			last_reset        INTEGER NOT NULL,
			guard_triggered   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id  TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			direction    TEXT NOT NULL,
			size         REAL NOT NULL,
			entry_price  REAL NOT NULL,
			exit_price   REAL NOT NULL,
			exit_reason  TEXT NOT NULL,
			realized_pnl REAL NOT NULL,
			opened_at    DATETIME NOT NULL,
			closed_at    DATETIME NOT NULL,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
		CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);
	`)
	return err
}

// Load reconstructs the last saved snapshot. Returns (nil, nil) when the
// store is fresh (no risk state has ever been saved).
func (s *Store) Load() (*model.Snapshot, error) {
	snap := &model.Snapshot{Gaps: make(map[string][]model.FairValueGap)}

	var lastReset int64
	var guard int
	err := s.db.QueryRow(
		`SELECT day_start_balance, current_balance, last_reset, guard_triggered FROM risk_state WHERE id = 1`,
	).Scan(&snap.Risk.DayStartBalance, &snap.Risk.CurrentBalance, &lastReset, &guard)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite load risk state: %w", err)
	}
	snap.Risk.LastReset = time.Unix(0, lastReset).UTC()
	snap.Risk.GuardTriggered = guard != 0

	rows, err := s.db.Query(
		`SELECT id, symbol, direction, top, bottom, created_at, status, fill_count FROM gaps ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite load gaps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g model.FairValueGap
		var createdAt int64
		if err := rows.Scan(&g.ID, &g.Symbol, &g.Direction, &g.Top, &g.Bottom, &createdAt, &g.Status, &g.FillCount); err != nil {
			return nil, fmt.Errorf("sqlite scan gap: %w", err)
		}
		g.CreatedAt = time.Unix(0, createdAt).UTC()
		snap.Gaps[g.Symbol] = append(snap.Gaps[g.Symbol], g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite load gaps: %w", err)
	}

	prows, err := s.db.Query(
		`SELECT id, symbol, direction, entry_price, size, stop_loss, take_profit, gap_id,
		        opened_at, status, closed_at, exit_price, exit_reason, realized_pnl
		 FROM positions ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite load positions: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var p model.Position
		var openedAt, closedAt int64
		if err := prows.Scan(&p.ID, &p.Symbol, &p.Direction, &p.EntryPrice, &p.Size, &p.StopLoss,
			&p.TakeProfit, &p.GapID, &openedAt, &p.Status, &closedAt, &p.ExitPrice, &p.ExitReason, &p.RealizedPnL); err != nil {
			return nil, fmt.Errorf("sqlite scan position: %w", err)
		}
		p.OpenedAt = time.Unix(0, openedAt).UTC()
		if closedAt != 0 {
			p.ClosedAt = time.Unix(0, closedAt).UTC()
		}
		snap.Positions = append(snap.Positions, p)
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite load positions: %w", err)
	}

	return snap, nil
}

// Save replaces the stored snapshot in a single transaction.
func (s *Store) Save(snap *model.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM gaps`); err != nil {
		return fmt.Errorf("sqlite clear gaps: %w", err)
	}
	gapStmt, err := tx.Prepare(
		`INSERT INTO gaps (id, symbol, direction, top, bottom, created_at, status, fill_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare gaps: %w", err)
	}
	defer gapStmt.Close()
	for _, gaps := range snap.Gaps {
		for _, g := range gaps {
			if _, err := gapStmt.Exec(g.ID, g.Symbol, string(g.Direction), g.Top, g.Bottom,
				g.CreatedAt.UnixNano(), string(g.Status), g.FillCount); err != nil {
				return fmt.Errorf("sqlite insert gap %s: %w", g.ID, err)
			}
		}
	}

	if _, err := tx.Exec(`DELETE FROM positions`); err != nil {
		return fmt.Errorf("sqlite clear positions: %w", err)
	}
	posStmt, err := tx.Prepare(
		`INSERT INTO positions (id, symbol, direction, entry_price, size, stop_loss, take_profit,
		        gap_id, opened_at, status, closed_at, exit_price, exit_reason, realized_pnl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare positions: %w", err)
	}
	defer posStmt.Close()
	for _, p := range snap.Positions {
		var closedAt int64
		if !p.ClosedAt.IsZero() {
			closedAt = p.ClosedAt.UnixNano()
		}
		if _, err := posStmt.Exec(p.ID, p.Symbol, string(p.Direction), p.EntryPrice, p.Size,
			p.StopLoss, p.TakeProfit, p.GapID, p.OpenedAt.UnixNano(), string(p.Status),
			closedAt, p.ExitPrice, p.ExitReason, p.RealizedPnL); err != nil {
			return fmt.Errorf("sqlite insert position %s: %w", p.ID, err)
		}
	}

	guard := 0
	if snap.Risk.GuardTriggered {
		guard = 1
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO risk_state (id, day_start_balance, current_balance, last_reset, guard_triggered)
		 VALUES (1, ?, ?, ?, ?)`,
		snap.Risk.DayStartBalance, snap.Risk.CurrentBalance, snap.Risk.LastReset.UnixNano(), guard); err != nil {
		return fmt.Errorf("sqlite save risk state: %w", err)
	}

	return tx.Commit()
}

// RecordTrade appends a closed position to the trade journal for audit.
func (s *Store) RecordTrade(p *model.Position) error {
	_, err := s.db.Exec(
		`INSERT INTO trades (position_id, symbol, direction, size, entry_price, exit_price,
		        exit_reason, realized_pnl, opened_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Symbol, string(p.Direction), p.Size, p.EntryPrice, p.ExitPrice,
		p.ExitReason, p.RealizedPnL,
		p.OpenedAt.Format(time.RFC3339Nano), p.ClosedAt.Format(time.RFC3339Nano))
	return err
}

// TradeRecord is a row from the trades journal.
type TradeRecord struct {
	ID          int64   `json:"id"`
	PositionID  string  `json:"position_id"`
	Symbol      string  `json:"symbol"`
	Direction   string  `json:"direction"`
	Size        float64 `json:"size"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price"`
	ExitReason  string  `json:"exit_reason"`
	RealizedPnL float64 `json:"realized_pnl"`
	OpenedAt    string  `json:"opened_at"`
	ClosedAt    string  `json:"closed_at"`
}

// GetTrades returns the last N journaled trades, newest first.
func (s *Store) GetTrades(limit int) ([]TradeRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, position_id, symbol, direction, size, entry_price, exit_price, exit_reason,
		        realized_pnl, opened_at, closed_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &t.Direction, &t.Size, &t.EntryPrice,
			&t.ExitPrice, &t.ExitReason, &t.RealizedPnL, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DB exposes the underlying handle for health probes.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fibgrid/internal/domain"
	"fibgrid/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements the ports.LedgerStore interface using SQLite.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewStore opens (creating if necessary) the ledger database.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/fibgrid.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the bot and the inspection CLIs
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	store := &Store{db: db, logger: cfg.Logger}
	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	return store, nil
}

// initializeSchema creates tables if they don't exist.
func (s *Store) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS lots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		original_quantity REAL NOT NULL,
		manual INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL DEFAULT 0,
		pnl_pct REAL NOT NULL DEFAULT 0,
		lot_refs TEXT NOT NULL DEFAULT '',
		tag TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lots_symbol_quantity ON lots (symbol, quantity);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_created_at ON trades (symbol, created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite database connection")
		return s.db.Close()
	}
	return nil
}

// InsertLot saves a new lot and returns its assigned ID.
func (s *Store) InsertLot(ctx context.Context, lot *domain.Lot) (int64, error) {
	const query = `
	INSERT INTO lots (symbol, entry_price, quantity, original_quantity, manual, created_at, note)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		lot.Symbol, lot.EntryPrice, lot.Quantity, lot.OrigQty, lot.Manual, lot.CreatedAt, lot.Note)
	if err != nil {
		return 0, fmt.Errorf("failed to insert lot for symbol %s: %w", lot.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for lot %s: %w", lot.Symbol, err)
	}
	lot.ID = id
	s.logger.Debug(ctx, "Lot created", map[string]interface{}{"lotID": id, "symbol": lot.Symbol, "entryPrice": lot.EntryPrice})
	return id, nil
}

// OpenLots retrieves all non-exhausted lots for a symbol in creation order.
// Ordering is by id, not timestamp: ids are monotonic even when inserts
// share a timestamp.
func (s *Store) OpenLots(ctx context.Context, symbol string) ([]*domain.Lot, error) {
	const query = `
	SELECT id, symbol, entry_price, quantity, original_quantity, manual, created_at, note
	FROM lots
	WHERE symbol = ? AND quantity > 0
	ORDER BY id ASC`

	return s.queryLots(ctx, query, symbol)
}

// AllLots retrieves every lot for a symbol in creation order, including
// exhausted ones kept for audit.
func (s *Store) AllLots(ctx context.Context, symbol string) ([]*domain.Lot, error) {
	const query = `
	SELECT id, symbol, entry_price, quantity, original_quantity, manual, created_at, note
	FROM lots
	WHERE symbol = ?
	ORDER BY id ASC`

	return s.queryLots(ctx, query, symbol)
}

func (s *Store) queryLots(ctx context.Context, query, symbol string) ([]*domain.Lot, error) {
	rows, err := s.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	lots := make([]*domain.Lot, 0)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot row: %w", err)
		}
		lots = append(lots, lot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lot rows: %w", err)
	}
	return lots, nil
}

// CommitSell applies the lot consumptions of one FIFO sell together with its
// trade record in a single transaction. A lot that no longer holds the
// sliced quantity aborts the whole commit.
func (s *Store) CommitSell(ctx context.Context, symbol string, slices []domain.SellSlice, trade *domain.TradeRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin sell transaction for %s: %w", symbol, err)
	}
	defer tx.Rollback()

	const update = `UPDATE lots SET quantity = quantity - ? WHERE id = ? AND symbol = ? AND quantity >= ?`
	for _, slice := range slices {
		result, err := tx.ExecContext(ctx, update, slice.Quantity, slice.LotID, symbol, slice.Quantity)
		if err != nil {
			return 0, fmt.Errorf("failed to consume lot %d: %w", slice.LotID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected for lot %d: %w", slice.LotID, err)
		}
		if affected == 0 {
			return 0, fmt.Errorf("lot %d holds less than %.8f: %w", slice.LotID, slice.Quantity, ports.ErrNotFound)
		}
	}

	id, err := insertTrade(ctx, tx, trade)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sell for %s: %w", symbol, err)
	}

	trade.ID = id
	s.logger.Debug(ctx, "Sell committed", map[string]interface{}{
		"tradeID": id, "symbol": symbol, "lots": len(slices), "pnl": trade.PnL,
	})
	return id, nil
}

// InsertTrade saves a trade record that consumed no lots (buys).
func (s *Store) InsertTrade(ctx context.Context, trade *domain.TradeRecord) (int64, error) {
	id, err := insertTrade(ctx, s.db, trade)
	if err != nil {
		return 0, err
	}
	trade.ID = id
	s.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "side": trade.Side})
	return id, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertTrade(ctx context.Context, db execer, trade *domain.TradeRecord) (int64, error) {
	const query = `
	INSERT INTO trades (symbol, side, price, quantity, pnl, pnl_pct, lot_refs, tag, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.ExecContext(ctx, query,
		trade.Symbol, string(trade.Side), trade.Price, trade.Quantity, trade.PnL, trade.PnLPct,
		trade.LotRefs, string(trade.Tag), trade.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Symbol, err)
	}
	return id, nil
}

// RecentTrades retrieves the most recent trades for a symbol, newest first.
func (s *Store) RecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error) {
	const query = `
	SELECT id, symbol, side, price, quantity, pnl, pnl_pct, lot_refs, tag, created_at
	FROM trades
	WHERE symbol = ?
	ORDER BY id DESC
	LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	trades := make([]*domain.TradeRecord, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// DailyStats aggregates realized results for the UTC day containing t.
// Wins and losses count sells only; the trade count covers both sides.
func (s *Store) DailyStats(ctx context.Context, symbol string, t time.Time) (*ports.DailyStats, error) {
	const query = `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN side = 'SELL' AND pnl > 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN side = 'SELL' AND pnl < 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN side = 'SELL' THEN pnl ELSE 0 END), 0)
	FROM trades
	WHERE symbol = ? AND date(created_at) = ?`

	day := t.UTC().Format("2006-01-02")
	stats := &ports.DailyStats{Day: t.UTC().Truncate(24 * time.Hour)}
	err := s.db.QueryRowContext(ctx, query, symbol, day).
		Scan(&stats.Trades, &stats.Wins, &stats.Losses, &stats.TotalPnL)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily stats for symbol %s: %w", symbol, err)
	}
	return stats, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanLot scans a row into a domain.Lot struct.
func scanLot(sc scanner) (*domain.Lot, error) {
	lot := &domain.Lot{}
	err := sc.Scan(
		&lot.ID, &lot.Symbol, &lot.EntryPrice, &lot.Quantity, &lot.OrigQty,
		&lot.Manual, &lot.CreatedAt, &lot.Note)
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// scanTrade scans a row into a domain.TradeRecord struct.
func scanTrade(sc scanner) (*domain.TradeRecord, error) {
	trade := &domain.TradeRecord{}
	var side, tag string
	err := sc.Scan(
		&trade.ID, &trade.Symbol, &side, &trade.Price, &trade.Quantity,
		&trade.PnL, &trade.PnLPct, &trade.LotRefs, &tag, &trade.CreatedAt)
	if err != nil {
		return nil, err
	}
	trade.Side = domain.OrderSide(side)
	trade.Tag = domain.TradeTag(tag)
	return trade, nil
}

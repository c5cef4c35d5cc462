package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradewatch/internal/domain"
	"tradewatch/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRepository, ports.StatusRepository and
// ports.UpdateRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// terminalStatusSet is the SQL fragment listing absorbing statuses.
// Keep in sync with domain.Status.IsTerminal.
const terminalStatusSet = `('take_profit_hit', 'stop_loss_hit', 'manual_take_profit', 'manual_stop_loss')`

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradewatch.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the ingestion and
	// reconciliation writers.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally, but the Go driver benefits
	// from limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trader_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		source_message_id TEXT,
		user_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		take_profit REAL DEFAULT NULL,
		stop_loss REAL DEFAULT NULL,
		confidence REAL DEFAULT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_status (
		trade_id INTEGER PRIMARY KEY,
		status TEXT NOT NULL,
		pnl_points REAL DEFAULT NULL,
		pnl_percent REAL DEFAULT NULL,
		current_price REAL DEFAULT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trader_id TEXT NOT NULL,
		trade_ref_id INTEGER DEFAULT NULL,
		source_message_id TEXT,
		channel_id TEXT,
		user_id TEXT,
		text TEXT,
		pnl_points REAL DEFAULT NULL,
		status TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_trader_channel_created ON trades (trader_id, channel_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_trade_status_status ON trade_status (status);
	CREATE INDEX IF NOT EXISTS idx_trade_updates_ref_created ON trade_updates (trade_ref_id, created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (trader_id, channel_id, source_message_id, user_id, symbol, side, entry_price, take_profit, stop_loss, confidence, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.TraderID, trade.ChannelID, trade.MessageID, trade.UserID,
		trade.Symbol, trade.Side, trade.EntryPrice,
		nullFloat(trade.TakeProfit), nullFloat(trade.StopLoss),
		nullFloatPtr(trade.Confidence), trade.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "trader": trade.TraderID})
	return id, nil
}

const tradeColumns = `t.id, t.trader_id, t.channel_id, t.source_message_id, t.user_id, t.symbol, t.side,
	       t.entry_price, COALESCE(t.take_profit, 0), COALESCE(t.stop_loss, 0), t.confidence, t.created_at`

// FindTradeByID retrieves a trade by its unique ID.
func (r *Repository) FindTradeByID(ctx context.Context, id int64) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades t WHERE t.id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query trade by ID %d: %w", id, err)
	}
	return trade, nil
}

// FindLatestOpenTrade retrieves the most recently created non-terminal
// trade for the (trader, channel) pair.
func (r *Repository) FindLatestOpenTrade(ctx context.Context, traderID, channelID string) (*domain.Trade, error) {
	query := `
	SELECT ` + tradeColumns + `
	FROM trades t
	LEFT JOIN trade_status s ON s.trade_id = t.id
	WHERE t.trader_id = ? AND t.channel_id = ?
	  AND (s.status IS NULL OR s.status NOT IN ` + terminalStatusSet + `)
	ORDER BY t.created_at DESC, t.id DESC
	LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, traderID, channelID)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No open trade for trader/channel", map[string]interface{}{"trader": traderID, "channel": channelID})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open trade for trader %s channel %s: %w", traderID, channelID, err)
	}
	return trade, nil
}

// FindActiveTrades retrieves all trades that are neither terminal nor
// waiting for their entry to trigger.
func (r *Repository) FindActiveTrades(ctx context.Context) ([]*domain.Trade, error) {
	query := `
	SELECT ` + tradeColumns + `
	FROM trades t
	LEFT JOIN trade_status s ON s.trade_id = t.id
	WHERE (s.status IS NULL OR (s.status NOT IN ` + terminalStatusSet + ` AND s.status != 'pending_entry'))
	ORDER BY t.created_at DESC, t.id DESC`

	return r.queryTrades(ctx, query)
}

// FindPendingTrades retrieves all trades currently in pending_entry.
func (r *Repository) FindPendingTrades(ctx context.Context) ([]*domain.Trade, error) {
	query := `
	SELECT ` + tradeColumns + `
	FROM trades t
	JOIN trade_status s ON s.trade_id = t.id
	WHERE s.status = 'pending_entry'
	ORDER BY t.created_at DESC, t.id DESC`

	return r.queryTrades(ctx, query)
}

// FindAllTrades retrieves all trades matching the filter, newest first.
func (r *Repository) FindAllTrades(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades t`
	var conditions []string
	var params []interface{}
	if filter.ChannelID != "" {
		conditions = append(conditions, "t.channel_id = ?")
		params = append(params, filter.ChannelID)
	}
	if filter.TraderID != "" {
		conditions = append(conditions, "t.trader_id = ?")
		params = append(params, filter.TraderID)
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY t.created_at DESC, t.id DESC"

	return r.queryTrades(ctx, query, params...)
}

// DeleteTrade removes a trade along with its status row and update history.
func (r *Repository) DeleteTrade(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction for trade %d: %w", id, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trade %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for delete trade %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade %d not found for delete: %w", id, ports.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trade_status WHERE trade_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete status for trade %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trade_updates WHERE trade_ref_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete updates for trade %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete for trade %d: %w", id, err)
	}
	r.logger.Info(ctx, "Trade deleted", map[string]interface{}{"tradeID": id})
	return nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, params ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
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

// --- StatusRepository Implementation ---

// UpsertStatus writes the trade's current status row in a single atomic
// statement keyed by trade id. Last writer wins; concurrent writers using
// the same inputs converge on the same value.
func (r *Repository) UpsertStatus(ctx context.Context, status *domain.TradeStatus) error {
	const query = `
	INSERT INTO trade_status (trade_id, status, pnl_points, pnl_percent, current_price, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(trade_id) DO UPDATE SET
		status = excluded.status,
		pnl_points = excluded.pnl_points,
		pnl_percent = excluded.pnl_percent,
		current_price = excluded.current_price,
		updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		status.TradeID, status.Status,
		nullFloatPtr(status.PnlPoints), nullFloatPtr(status.PnlPercent), nullFloatPtr(status.CurrentPrice),
		status.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert status for trade %d: %w", status.TradeID, err)
	}
	r.logger.Debug(ctx, "Trade status upserted", map[string]interface{}{"tradeID": status.TradeID, "status": status.Status})
	return nil
}

// FindStatusByTradeID retrieves the current status row for a trade.
func (r *Repository) FindStatusByTradeID(ctx context.Context, tradeID int64) (*domain.TradeStatus, error) {
	const query = `
	SELECT trade_id, status, pnl_points, pnl_percent, current_price, updated_at
	FROM trade_status
	WHERE trade_id = ?`

	row := r.db.QueryRowContext(ctx, query, tradeID)
	status, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query status for trade %d: %w", tradeID, err)
	}
	return status, nil
}

// --- UpdateRepository Implementation ---

// AppendUpdate saves a new update row and returns its assigned ID.
func (r *Repository) AppendUpdate(ctx context.Context, update *domain.TradeUpdate) (int64, error) {
	const query = `
	INSERT INTO trade_updates (trader_id, trade_ref_id, source_message_id, channel_id, user_id, text, pnl_points, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var tradeRef sql.NullInt64
	if update.TradeRefID != nil {
		tradeRef = sql.NullInt64{Int64: *update.TradeRefID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		update.TraderID, tradeRef, update.MessageID, update.ChannelID, update.UserID,
		update.Text, nullFloatPtr(update.PnlPoints), update.StatusLabel, update.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade update for trader %s: %w", update.TraderID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade update: %w", err)
	}
	update.ID = id
	r.logger.Debug(ctx, "Trade update appended", map[string]interface{}{"updateID": id, "trader": update.TraderID, "label": update.StatusLabel})
	return id, nil
}

const updateColumns = `id, trader_id, trade_ref_id, source_message_id, channel_id, user_id, text, pnl_points, status, created_at`

// FindUpdatesByTradeRef retrieves all updates attached to a trade, most
// recent first.
func (r *Repository) FindUpdatesByTradeRef(ctx context.Context, tradeID int64) ([]*domain.TradeUpdate, error) {
	query := `
	SELECT ` + updateColumns + `
	FROM trade_updates
	WHERE trade_ref_id = ?
	ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query updates for trade %d: %w", tradeID, err)
	}
	defer rows.Close()

	updates := make([]*domain.TradeUpdate, 0)
	for rows.Next() {
		update, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade update row: %w", err)
		}
		updates = append(updates, update)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade update rows: %w", err)
	}
	return updates, nil
}

// FindLatestPartialExit retrieves the most recent partial-exit update for a
// trade, whose realized P&L is carried forward during reconciliation.
func (r *Repository) FindLatestPartialExit(ctx context.Context, tradeID int64) (*domain.TradeUpdate, error) {
	query := `
	SELECT ` + updateColumns + `
	FROM trade_updates
	WHERE trade_ref_id = ? AND status LIKE '%部分%'
	ORDER BY created_at DESC, id DESC
	LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, tradeID)
	update, err := scanUpdate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest partial exit for trade %d: %w", tradeID, err)
	}
	return update, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side string
	var messageID, userID sql.NullString
	var confidence sql.NullFloat64
	err := s.Scan(
		&t.ID, &t.TraderID, &t.ChannelID, &messageID, &userID, &t.Symbol, &side,
		&t.EntryPrice, &t.TakeProfit, &t.StopLoss, &confidence, &t.CreatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.Side(side)
	if messageID.Valid {
		t.MessageID = messageID.String
	}
	if userID.Valid {
		t.UserID = userID.String
	}
	if confidence.Valid {
		t.Confidence = &confidence.Float64
	}
	return t, nil
}

func scanStatus(s scanner) (*domain.TradeStatus, error) {
	st := &domain.TradeStatus{}
	var status string
	var pnlPoints, pnlPercent, currentPrice sql.NullFloat64
	err := s.Scan(&st.TradeID, &status, &pnlPoints, &pnlPercent, &currentPrice, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Status = domain.Status(status)
	if pnlPoints.Valid {
		st.PnlPoints = &pnlPoints.Float64
	}
	if pnlPercent.Valid {
		st.PnlPercent = &pnlPercent.Float64
	}
	if currentPrice.Valid {
		st.CurrentPrice = &currentPrice.Float64
	}
	return st, nil
}

func scanUpdate(s scanner) (*domain.TradeUpdate, error) {
	u := &domain.TradeUpdate{}
	var tradeRef sql.NullInt64
	var messageID, channelID, userID, text, label sql.NullString
	var pnlPoints sql.NullFloat64
	err := s.Scan(&u.ID, &u.TraderID, &tradeRef, &messageID, &channelID, &userID, &text, &pnlPoints, &label, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if tradeRef.Valid {
		u.TradeRefID = &tradeRef.Int64
	}
	if messageID.Valid {
		u.MessageID = messageID.String
	}
	if channelID.Valid {
		u.ChannelID = channelID.String
	}
	if userID.Valid {
		u.UserID = userID.String
	}
	if text.Valid {
		u.Text = text.String
	}
	if pnlPoints.Valid {
		u.PnlPoints = &pnlPoints.Float64
	}
	if label.Valid {
		u.StatusLabel = label.String
	}
	return u, nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if v == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullFloatPtr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

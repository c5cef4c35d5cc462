package ports

import (
	"context"

	"tradewatch/internal/domain"
)

// TradeFilter narrows list queries. Zero values mean "no filter".
type TradeFilter struct {
	ChannelID string
	TraderID  string
}

// TradeRepository defines the interface for storing and retrieving trades.
// Trades are immutable after creation; there is no Update method.
type TradeRepository interface {
	// CreateTrade saves a new trade and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindTradeByID retrieves a trade by its unique ID.
	// Returns nil, nil if not found.
	FindTradeByID(ctx context.Context, id int64) (*domain.Trade, error)
	// FindLatestOpenTrade retrieves the most recently created trade for the
	// (trader, channel) pair whose status is not terminal, ordered by
	// creation descending. Returns nil, nil if none is open.
	FindLatestOpenTrade(ctx context.Context, traderID, channelID string) (*domain.Trade, error)
	// FindActiveTrades retrieves all trades whose status is neither terminal
	// nor pending_entry, ordered by creation descending.
	FindActiveTrades(ctx context.Context) ([]*domain.Trade, error)
	// FindPendingTrades retrieves all trades currently in pending_entry,
	// ordered by creation descending.
	FindPendingTrades(ctx context.Context) ([]*domain.Trade, error)
	// FindAllTrades retrieves all trades matching the filter, newest first.
	FindAllTrades(ctx context.Context, filter TradeFilter) ([]*domain.Trade, error)
	// DeleteTrade removes a trade with its status row and update history.
	// This is an administrative operation, never invoked by the core writers.
	DeleteTrade(ctx context.Context, id int64) error
}

// StatusRepository defines the interface for the per-trade derived status.
type StatusRepository interface {
	// UpsertStatus writes the trade's current status row, replacing any
	// previous one. The write is a single atomic statement per trade id.
	UpsertStatus(ctx context.Context, status *domain.TradeStatus) error
	// FindStatusByTradeID retrieves the current status row for a trade.
	// Returns nil, nil if the trade has never been evaluated.
	FindStatusByTradeID(ctx context.Context, tradeID int64) (*domain.TradeStatus, error)
}

// UpdateRepository defines the interface for the append-only update log.
type UpdateRepository interface {
	// AppendUpdate saves a new update row and returns its assigned ID.
	// Rows are never mutated or deleted by the core.
	AppendUpdate(ctx context.Context, update *domain.TradeUpdate) (int64, error)
	// FindUpdatesByTradeRef retrieves all updates attached to a trade,
	// most recent first.
	FindUpdatesByTradeRef(ctx context.Context, tradeID int64) ([]*domain.TradeUpdate, error)
	// FindLatestPartialExit retrieves the most recent partial-exit update
	// for a trade. Returns nil, nil if none exists.
	FindLatestPartialExit(ctx context.Context, tradeID int64) (*domain.TradeUpdate, error)
}

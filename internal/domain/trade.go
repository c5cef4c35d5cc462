package domain

import "time"

// Trade represents one tracked position extracted from a trade-call message.
// Identity and entry parameters are immutable after creation; only the
// associated TradeStatus changes over the trade's lifetime.
type Trade struct {
	ID         int64     // Unique identifier (assigned by the store on creation)
	TraderID   string    // Registered trader the source channel belongs to
	ChannelID  string    // Source chat channel
	MessageID  string    // Originating message id
	UserID     string    // Author of the originating message
	Symbol     string    // Instrument, e.g. "BTC-USDT-SWAP"
	Side       Side      // long or short
	EntryPrice float64   // Called entry price
	TakeProfit float64   // Take-profit target (0 if not given)
	StopLoss   float64   // Stop-loss level (0 if not given)
	Confidence *float64  // Classifier confidence (nullable)
	CreatedAt  time.Time // Creation timestamp
}

// TradeStatus is the latest derived state for a trade, upserted in place.
// Exactly one row exists per trade id; it is the authoritative current view
// and is never reconstructed by replaying updates.
type TradeStatus struct {
	TradeID      int64
	Status       Status
	PnlPoints    *float64 // P&L in price points (nil until the entry triggers)
	PnlPercent   *float64 // P&L as percent of entry price
	CurrentPrice *float64 // Last observed price (nil when never seen)
	UpdatedAt    time.Time
}

// TradeUpdate is one row of the append-only audit log of classified update
// signals. Immutable once written.
type TradeUpdate struct {
	ID          int64
	TraderID    string
	TradeRefID  *int64 // Matched trade, nil for orphan updates
	MessageID   string
	ChannelID   string
	UserID      string
	Text        string   // Raw message text
	PnlPoints   *float64 // Parsed P&L points, if the message carried one
	StatusLabel string   // Parsed status label, verbatim
	CreatedAt   time.Time
}

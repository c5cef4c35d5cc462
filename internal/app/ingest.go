// Package app wires the classification, lifecycle and storage layers into
// the two entry points of the system: message ingestion and the periodic
// reconciliation sweep.
package app

import (
	"context"
	"fmt"
	"time"

	"tradewatch/internal/domain"
	"tradewatch/internal/lifecycle"
	"tradewatch/internal/ports"
	"tradewatch/internal/traders"
)

// TraderDirectory is the registry view the handlers need. Implemented by
// *traders.Registry; both methods resolve against the current snapshot.
type TraderDirectory interface {
	ResolveChannel(channelID string) (traders.Trader, bool)
	SymbolAllowed(symbol string) bool
}

// Message is one inbound chat message at the ingestion boundary.
type Message struct {
	ChannelID string
	MessageID string
	UserID    string
	Text      string
}

// Outcome describes what ingestion did with a message.
type Outcome string

const (
	OutcomeSkippedChannel Outcome = "skipped_unmapped_channel"
	OutcomeSkippedSymbol  Outcome = "skipped_symbol"
	OutcomeNoSignal       Outcome = "no_signal"
	OutcomeInvalidSignal  Outcome = "invalid_signal"
	OutcomeTradeCreated   Outcome = "trade_created"
	OutcomeUpdateApplied  Outcome = "update_applied"
	OutcomeUpdateOrphaned Outcome = "update_orphaned"
)

// IngestResult reports the outcome of one message.
type IngestResult struct {
	Outcome Outcome
	TradeID int64         // trade created or matched, 0 otherwise
	Status  domain.Status // status written, empty when nothing was written
}

// IngestionHandler turns classified signals into trades, status writes and
// audit rows. Per message it performs at most one status upsert and one
// update insert.
type IngestionHandler struct {
	logger     ports.Logger
	trades     ports.TradeRepository
	statuses   ports.StatusRepository
	updates    ports.UpdateRepository
	prices     ports.PriceFeed
	directory  TraderDirectory
	classifier ports.SignalClassifier
	now        func() time.Time
}

// IngestionConfig holds the dependencies of the ingestion handler.
type IngestionConfig struct {
	Logger     ports.Logger
	Trades     ports.TradeRepository
	Statuses   ports.StatusRepository
	Updates    ports.UpdateRepository
	Prices     ports.PriceFeed
	Directory  TraderDirectory
	Classifier ports.SignalClassifier
	Now        func() time.Time // defaults to time.Now
}

// NewIngestionHandler validates dependencies and creates the handler.
func NewIngestionHandler(cfg IngestionConfig) (*IngestionHandler, error) {
	if cfg.Logger == nil || cfg.Trades == nil || cfg.Statuses == nil || cfg.Updates == nil ||
		cfg.Prices == nil || cfg.Directory == nil {
		return nil, fmt.Errorf("missing required dependencies for ingestion handler")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &IngestionHandler{
		logger:     cfg.Logger,
		trades:     cfg.Trades,
		statuses:   cfg.Statuses,
		updates:    cfg.Updates,
		prices:     cfg.Prices,
		directory:  cfg.Directory,
		classifier: cfg.Classifier,
		now:        now,
	}, nil
}

// Process gates the message by channel, classifies it and dispatches the
// signal. The gate runs before classification so messages from unmapped
// channels never cost a classifier call.
func (h *IngestionHandler) Process(ctx context.Context, msg Message) (IngestResult, error) {
	op := "Process"
	if _, ok := h.directory.ResolveChannel(msg.ChannelID); !ok {
		h.logger.Debug(ctx, op+": channel not registered, skipping", map[string]interface{}{"channelID": msg.ChannelID})
		return IngestResult{Outcome: OutcomeSkippedChannel}, nil
	}
	if h.classifier == nil || !h.classifier.Available() {
		// An unavailable classifier yields no information, same as a failed
		// classification; the message is logged and dropped.
		h.logger.Warn(ctx, op+": classifier unavailable, message dropped", map[string]interface{}{"channelID": msg.ChannelID, "messageID": msg.MessageID})
		return IngestResult{Outcome: OutcomeNoSignal}, nil
	}

	signal, err := h.classifier.Classify(ctx, msg.Text)
	if err != nil {
		h.logger.Warn(ctx, op+": classification failed", map[string]interface{}{"channelID": msg.ChannelID, "messageID": msg.MessageID, "error": err.Error()})
		return IngestResult{Outcome: OutcomeNoSignal}, nil
	}

	return h.Handle(ctx, msg, signal, h.now())
}

// Handle applies one already-classified signal. Exposed separately from
// Process so callers with their own classification path reuse the exact
// persistence semantics.
func (h *IngestionHandler) Handle(ctx context.Context, msg Message, signal domain.Signal, now time.Time) (IngestResult, error) {
	op := "Handle"
	trader, ok := h.directory.ResolveChannel(msg.ChannelID)
	if !ok {
		h.logger.Debug(ctx, op+": channel not registered, skipping", map[string]interface{}{"channelID": msg.ChannelID})
		return IngestResult{Outcome: OutcomeSkippedChannel}, nil
	}
	if signal.IsEmpty() {
		return IngestResult{Outcome: OutcomeNoSignal}, nil
	}

	switch signal.Type {
	case domain.SignalEntry:
		return h.handleEntry(ctx, trader, msg, signal.Entry, now)
	case domain.SignalUpdate:
		return h.handleUpdate(ctx, trader, msg, signal.Update, now)
	}
	return IngestResult{Outcome: OutcomeNoSignal}, nil
}

func (h *IngestionHandler) handleEntry(ctx context.Context, trader traders.Trader, msg Message, entry *domain.EntrySignal, now time.Time) (IngestResult, error) {
	op := "handleEntry"

	if entry.Symbol == "" || !entry.Side.IsValid() || entry.EntryPrice <= 0 {
		h.logger.Warn(ctx, op+": invalid entry signal, nothing persisted", map[string]interface{}{
			"trader": trader.ID, "symbol": entry.Symbol, "side": entry.Side, "entryPrice": entry.EntryPrice,
		})
		return IngestResult{Outcome: OutcomeInvalidSignal}, fmt.Errorf("%s: entry signal rejected: %w", op, ports.ErrValidation)
	}
	if !h.directory.SymbolAllowed(entry.Symbol) {
		h.logger.Info(ctx, op+": symbol not on allow-list, skipping", map[string]interface{}{"trader": trader.ID, "symbol": entry.Symbol})
		return IngestResult{Outcome: OutcomeSkippedSymbol}, nil
	}

	trade := &domain.Trade{
		TraderID:   trader.ID,
		ChannelID:  msg.ChannelID,
		MessageID:  msg.MessageID,
		UserID:     msg.UserID,
		Symbol:     entry.Symbol,
		Side:       entry.Side,
		EntryPrice: entry.EntryPrice,
		TakeProfit: entry.TakeProfit,
		StopLoss:   entry.StopLoss,
		Confidence: entry.Confidence,
		CreatedAt:  now,
	}
	tradeID, err := h.trades.CreateTrade(ctx, trade)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%s: failed to create trade: %w", op, err)
	}

	// One synchronous price read seeds the initial status. Until a price
	// proves the entry triggered, the trade waits in pending_entry so the
	// gating rule still applies on the first sweep with a real price.
	price, priceOK := h.prices.Price(trade.Symbol)
	status := &domain.TradeStatus{TradeID: tradeID, UpdatedAt: now}
	if priceOK {
		status.CurrentPrice = &price
	}
	if !priceOK || !lifecycle.EntryTriggered(trade.Side, trade.EntryPrice, price) {
		status.Status = domain.StatusPendingEntry
	} else {
		res := lifecycle.Evaluate(trade.Side, trade.EntryPrice, trade.TakeProfit, trade.StopLoss, price)
		status.Status = res.Status
		status.PnlPoints = res.PnlPoints
		status.PnlPercent = res.PnlPercent
	}

	if err := h.statuses.UpsertStatus(ctx, status); err != nil {
		return IngestResult{}, fmt.Errorf("%s: failed to seed status for trade %d: %w", op, tradeID, err)
	}

	h.logger.Info(ctx, "Trade created from entry signal", map[string]interface{}{
		"tradeID": tradeID, "trader": trader.ID, "symbol": trade.Symbol, "side": trade.Side, "status": status.Status,
	})
	return IngestResult{Outcome: OutcomeTradeCreated, TradeID: tradeID, Status: status.Status}, nil
}

func (h *IngestionHandler) handleUpdate(ctx context.Context, trader traders.Trader, msg Message, upd *domain.UpdateSignal, now time.Time) (IngestResult, error) {
	op := "handleUpdate"

	trade, err := h.trades.FindLatestOpenTrade(ctx, trader.ID, msg.ChannelID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%s: failed to find open trade for trader %s: %w", op, trader.ID, err)
	}

	row := &domain.TradeUpdate{
		TraderID:    trader.ID,
		MessageID:   msg.MessageID,
		ChannelID:   msg.ChannelID,
		UserID:      msg.UserID,
		Text:        msg.Text,
		PnlPoints:   upd.PnlPoints,
		StatusLabel: upd.StatusLabel,
		CreatedAt:   now,
	}

	if trade == nil {
		// No open trade to attach to; keep the audit row anyway.
		if _, err := h.updates.AppendUpdate(ctx, row); err != nil {
			return IngestResult{}, fmt.Errorf("%s: failed to append orphan update: %w", op, err)
		}
		h.logger.Warn(ctx, "Update signal without an open trade, recorded as orphan", map[string]interface{}{
			"trader": trader.ID, "channelID": msg.ChannelID, "label": upd.StatusLabel,
		})
		return IngestResult{Outcome: OutcomeUpdateOrphaned}, nil
	}

	row.TradeRefID = &trade.ID
	if _, err := h.updates.AppendUpdate(ctx, row); err != nil {
		return IngestResult{}, fmt.Errorf("%s: failed to append update for trade %d: %w", op, trade.ID, err)
	}

	status, err := h.statusForUpdate(ctx, trade, upd, now)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%s: failed to derive status for trade %d: %w", op, trade.ID, err)
	}
	if status == nil {
		// Informational label with no price to evaluate against.
		return IngestResult{Outcome: OutcomeUpdateApplied, TradeID: trade.ID}, nil
	}

	if err := h.statuses.UpsertStatus(ctx, status); err != nil {
		return IngestResult{}, fmt.Errorf("%s: failed to upsert status for trade %d: %w", op, trade.ID, err)
	}
	h.logger.Info(ctx, "Update signal applied", map[string]interface{}{
		"tradeID": trade.ID, "trader": trader.ID, "label": upd.StatusLabel, "status": status.Status,
	})
	return IngestResult{Outcome: OutcomeUpdateApplied, TradeID: trade.ID, Status: status.Status}, nil
}

// statusForUpdate maps the update label to the status row to write.
// Returns nil when no write is warranted.
func (h *IngestionHandler) statusForUpdate(ctx context.Context, trade *domain.Trade, upd *domain.UpdateSignal, now time.Time) (*domain.TradeStatus, error) {
	price, priceOK := h.prices.Price(trade.Symbol)
	status := &domain.TradeStatus{TradeID: trade.ID, UpdatedAt: now}
	if priceOK {
		status.CurrentPrice = &price
	}

	if terminal, ok := domain.TerminalStatusForLabel(upd.StatusLabel); ok {
		status.Status = terminal
		switch {
		case upd.PnlPoints != nil:
			// The caller's reported figure is authoritative for closes.
			pts := lifecycle.Round2(*upd.PnlPoints)
			status.PnlPoints = &pts
			if trade.EntryPrice != 0 {
				pct := lifecycle.Round2(*upd.PnlPoints / trade.EntryPrice * 100)
				status.PnlPercent = &pct
			}
		case priceOK:
			pts, pct := pnlFromPrice(trade.Side, trade.EntryPrice, price)
			status.PnlPoints = pts
			status.PnlPercent = pct
		}
		// No figure and no price: the terminal status still sticks, P&L
		// stays unknown.
		return status, nil
	}

	if domain.IsPartialExitLabel(upd.StatusLabel) {
		var exited float64
		if upd.PnlPoints != nil {
			exited = *upd.PnlPoints
		}
		res := lifecycle.ContinuePartialExit(trade.Side, trade.EntryPrice, trade.TakeProfit, trade.StopLoss, price, exited)
		status.Status = res.Status
		status.PnlPoints = res.PnlPoints
		status.PnlPercent = res.PnlPercent
		return status, nil
	}

	// Informational label (浮盈, 浮亏, anything unmapped): refresh from the
	// current price, honoring the trade's present phase.
	if !priceOK {
		return nil, nil
	}
	current, err := h.statuses.FindStatusByTradeID(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	res, err := evaluatePhase(ctx, h.updates, trade, current, price)
	if err != nil {
		return nil, err
	}
	if res == nil {
		status.Status = domain.StatusPendingEntry
		return status, nil
	}
	status.Status = res.Status
	status.PnlPoints = res.PnlPoints
	status.PnlPercent = res.PnlPercent
	return status, nil
}

// evaluatePhase re-evaluates a trade against a known price, respecting the
// stored phase: pending trades stay pending until the entry triggers
// (signalled by a nil result), partial exits carry the realized portion
// forward, everything else is a plain evaluation. Shared between ingestion
// and the reconciliation sweep so both derive identical statuses.
func evaluatePhase(ctx context.Context, updates ports.UpdateRepository, trade *domain.Trade, current *domain.TradeStatus, price float64) (*lifecycle.Result, error) {
	if current != nil && current.Status == domain.StatusPendingEntry &&
		!lifecycle.EntryTriggered(trade.Side, trade.EntryPrice, price) {
		return nil, nil
	}

	if current != nil && current.Status == domain.StatusPartialExit {
		partial, err := updates.FindLatestPartialExit(ctx, trade.ID)
		if err != nil {
			return nil, err
		}
		var exited float64
		if partial != nil && partial.PnlPoints != nil {
			exited = *partial.PnlPoints
		}
		res := lifecycle.ContinuePartialExit(trade.Side, trade.EntryPrice, trade.TakeProfit, trade.StopLoss, price, exited)
		return &res, nil
	}

	res := lifecycle.Evaluate(trade.Side, trade.EntryPrice, trade.TakeProfit, trade.StopLoss, price)
	return &res, nil
}

func pnlFromPrice(side domain.Side, entry, price float64) (*float64, *float64) {
	if entry == 0 || price == 0 {
		return nil, nil
	}
	var raw float64
	if side == domain.SideLong {
		raw = price - entry
	} else {
		raw = entry - price
	}
	pts := lifecycle.Round2(raw)
	pct := lifecycle.Round2(raw / entry * 100)
	return &pts, &pct
}

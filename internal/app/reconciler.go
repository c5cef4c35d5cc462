package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"tradewatch/internal/domain"
	"tradewatch/internal/lifecycle"
	"tradewatch/internal/ports"
)

// minSweepInterval is the floor for the reconciliation interval.
const minSweepInterval = 5 * time.Second

// ReconciliationScheduler periodically re-evaluates every non-terminal
// trade against the latest cached prices, repairing any drift between the
// stored statuses and the market.
type ReconciliationScheduler struct {
	logger   ports.Logger
	trades   ports.TradeRepository
	statuses ports.StatusRepository
	updates  ports.UpdateRepository
	prices   ports.PriceFeed
	interval time.Duration
	now      func() time.Time

	sweeping atomic.Bool
}

// SchedulerConfig holds the dependencies of the reconciliation scheduler.
type SchedulerConfig struct {
	Logger   ports.Logger
	Trades   ports.TradeRepository
	Statuses ports.StatusRepository
	Updates  ports.UpdateRepository
	Prices   ports.PriceFeed
	Interval time.Duration // clamped to the 5s floor
	Now      func() time.Time
}

// NewReconciliationScheduler validates dependencies and creates the scheduler.
func NewReconciliationScheduler(cfg SchedulerConfig) (*ReconciliationScheduler, error) {
	if cfg.Logger == nil || cfg.Trades == nil || cfg.Statuses == nil || cfg.Updates == nil || cfg.Prices == nil {
		return nil, fmt.Errorf("missing required dependencies for reconciliation scheduler")
	}
	interval := cfg.Interval
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ReconciliationScheduler{
		logger:   cfg.Logger,
		trades:   cfg.Trades,
		statuses: cfg.Statuses,
		updates:  cfg.Updates,
		prices:   cfg.Prices,
		interval: interval,
		now:      now,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
// Ticks that arrive while a sweep is still in flight are skipped, never
// queued.
func (s *ReconciliationScheduler) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Reconciliation scheduler starting", map[string]interface{}{"interval": s.interval.String()})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Reconciliation scheduler stopping", map[string]interface{}{"reason": ctx.Err().Error()})
			return ctx.Err()
		case <-ticker.C:
			if !s.sweeping.CompareAndSwap(false, true) {
				s.logger.Warn(ctx, "Previous sweep still running, skipping tick")
				continue
			}
			s.Sweep(ctx)
			s.sweeping.Store(false)
		}
	}
}

// Sweep runs one full reconciliation pass: active trades first, then trades
// still waiting for their entry. A failure on one trade never stops the
// rest of the pass.
func (s *ReconciliationScheduler) Sweep(ctx context.Context) {
	start := s.now()
	evaluated := s.sweepActive(ctx)
	triggered := s.sweepPending(ctx)
	s.logger.Debug(ctx, "Reconciliation sweep finished", map[string]interface{}{
		"evaluated": evaluated, "pendingChecked": triggered, "elapsed": time.Since(start).String(),
	})
}

func (s *ReconciliationScheduler) sweepActive(ctx context.Context) int {
	op := "sweepActive"
	trades, err := s.trades.FindActiveTrades(ctx)
	if err != nil {
		s.logger.Error(ctx, err, op+": failed to list active trades")
		return 0
	}

	count := 0
	for _, trade := range trades {
		if ctx.Err() != nil {
			return count
		}
		if err := s.reconcileActive(ctx, trade); err != nil {
			s.logger.Error(ctx, err, op+": failed to reconcile trade", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol})
			continue
		}
		count++
	}
	return count
}

func (s *ReconciliationScheduler) reconcileActive(ctx context.Context, trade *domain.Trade) error {
	price, ok := s.prices.Price(trade.Symbol)
	if !ok {
		// Stale feed for this symbol; the trade keeps its last status.
		s.logger.Debug(ctx, "No price for symbol, skipping trade", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol})
		return nil
	}

	current, err := s.statuses.FindStatusByTradeID(ctx, trade.ID)
	if err != nil {
		return fmt.Errorf("failed to load status: %w", err)
	}
	if current != nil && current.Status.IsTerminal() {
		// Closed between the listing query and now; leave it alone.
		return nil
	}

	res, err := evaluatePhase(ctx, s.updates, trade, current, price)
	if err != nil {
		return fmt.Errorf("failed to evaluate: %w", err)
	}
	if res == nil {
		return nil
	}

	status := &domain.TradeStatus{
		TradeID:      trade.ID,
		Status:       res.Status,
		PnlPoints:    res.PnlPoints,
		PnlPercent:   res.PnlPercent,
		CurrentPrice: &price,
		UpdatedAt:    s.now(),
	}
	if err := s.statuses.UpsertStatus(ctx, status); err != nil {
		return fmt.Errorf("failed to upsert status: %w", err)
	}

	if res.Status.IsTerminal() {
		s.logger.Info(ctx, "Trade closed by price trigger", map[string]interface{}{
			"tradeID": trade.ID, "symbol": trade.Symbol, "status": res.Status, "price": price,
		})
	}
	return nil
}

func (s *ReconciliationScheduler) sweepPending(ctx context.Context) int {
	op := "sweepPending"
	trades, err := s.trades.FindPendingTrades(ctx)
	if err != nil {
		s.logger.Error(ctx, err, op+": failed to list pending trades")
		return 0
	}

	count := 0
	for _, trade := range trades {
		if ctx.Err() != nil {
			return count
		}
		if err := s.reconcilePending(ctx, trade); err != nil {
			s.logger.Error(ctx, err, op+": failed to reconcile pending trade", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol})
			continue
		}
		count++
	}
	return count
}

func (s *ReconciliationScheduler) reconcilePending(ctx context.Context, trade *domain.Trade) error {
	price, ok := s.prices.Price(trade.Symbol)
	if !ok {
		return nil
	}

	status := &domain.TradeStatus{TradeID: trade.ID, CurrentPrice: &price, UpdatedAt: s.now()}
	if !lifecycle.EntryTriggered(trade.Side, trade.EntryPrice, price) {
		// Still waiting; refresh only the observed price.
		status.Status = domain.StatusPendingEntry
		return s.statuses.UpsertStatus(ctx, status)
	}

	res := lifecycle.Evaluate(trade.Side, trade.EntryPrice, trade.TakeProfit, trade.StopLoss, price)
	status.Status = res.Status
	status.PnlPoints = res.PnlPoints
	status.PnlPercent = res.PnlPercent
	if err := s.statuses.UpsertStatus(ctx, status); err != nil {
		return err
	}

	s.logger.Info(ctx, "Pending trade entry triggered", map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.Symbol, "status": res.Status, "price": price,
	})
	return nil
}

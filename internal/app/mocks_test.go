package app

import (
	"context"

	"tradewatch/internal/domain"
	"tradewatch/internal/ports"
	"tradewatch/internal/traders"
)

// --- Mock Logger ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// --- Mock TradeRepository ---

type mockTradeRepo struct {
	createFn         func(ctx context.Context, trade *domain.Trade) (int64, error)
	findByIDFn       func(ctx context.Context, id int64) (*domain.Trade, error)
	findLatestOpenFn func(ctx context.Context, traderID, channelID string) (*domain.Trade, error)
	findActiveFn     func(ctx context.Context) ([]*domain.Trade, error)
	findPendingFn    func(ctx context.Context) ([]*domain.Trade, error)
	findAllFn        func(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error)
	deleteFn         func(ctx context.Context, id int64) error

	created []*domain.Trade
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.created = append(m.created, trade)
	if m.createFn != nil {
		return m.createFn(ctx, trade)
	}
	trade.ID = int64(len(m.created))
	return trade.ID, nil
}

func (m *mockTradeRepo) FindTradeByID(ctx context.Context, id int64) (*domain.Trade, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockTradeRepo) FindLatestOpenTrade(ctx context.Context, traderID, channelID string) (*domain.Trade, error) {
	if m.findLatestOpenFn != nil {
		return m.findLatestOpenFn(ctx, traderID, channelID)
	}
	return nil, nil
}

func (m *mockTradeRepo) FindActiveTrades(ctx context.Context) ([]*domain.Trade, error) {
	if m.findActiveFn != nil {
		return m.findActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockTradeRepo) FindPendingTrades(ctx context.Context) ([]*domain.Trade, error) {
	if m.findPendingFn != nil {
		return m.findPendingFn(ctx)
	}
	return nil, nil
}

func (m *mockTradeRepo) FindAllTrades(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	if m.findAllFn != nil {
		return m.findAllFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockTradeRepo) DeleteTrade(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// --- Mock StatusRepository ---

type mockStatusRepo struct {
	upsertFn       func(ctx context.Context, status *domain.TradeStatus) error
	findByTradeFn  func(ctx context.Context, tradeID int64) (*domain.TradeStatus, error)
	upsertedStatus []*domain.TradeStatus
}

func (m *mockStatusRepo) UpsertStatus(ctx context.Context, status *domain.TradeStatus) error {
	m.upsertedStatus = append(m.upsertedStatus, status)
	if m.upsertFn != nil {
		return m.upsertFn(ctx, status)
	}
	return nil
}

func (m *mockStatusRepo) FindStatusByTradeID(ctx context.Context, tradeID int64) (*domain.TradeStatus, error) {
	if m.findByTradeFn != nil {
		return m.findByTradeFn(ctx, tradeID)
	}
	return nil, nil
}

// --- Mock UpdateRepository ---

type mockUpdateRepo struct {
	appendFn            func(ctx context.Context, update *domain.TradeUpdate) (int64, error)
	findByTradeRefFn    func(ctx context.Context, tradeID int64) ([]*domain.TradeUpdate, error)
	latestPartialExitFn func(ctx context.Context, tradeID int64) (*domain.TradeUpdate, error)
	appended            []*domain.TradeUpdate
}

func (m *mockUpdateRepo) AppendUpdate(ctx context.Context, update *domain.TradeUpdate) (int64, error) {
	m.appended = append(m.appended, update)
	if m.appendFn != nil {
		return m.appendFn(ctx, update)
	}
	update.ID = int64(len(m.appended))
	return update.ID, nil
}

func (m *mockUpdateRepo) FindUpdatesByTradeRef(ctx context.Context, tradeID int64) ([]*domain.TradeUpdate, error) {
	if m.findByTradeRefFn != nil {
		return m.findByTradeRefFn(ctx, tradeID)
	}
	return nil, nil
}

func (m *mockUpdateRepo) FindLatestPartialExit(ctx context.Context, tradeID int64) (*domain.TradeUpdate, error) {
	if m.latestPartialExitFn != nil {
		return m.latestPartialExitFn(ctx, tradeID)
	}
	return nil, nil
}

// --- Mock PriceFeed ---

type mockPriceFeed struct {
	prices map[string]float64
}

func (m *mockPriceFeed) Price(symbol string) (float64, bool) {
	p, ok := m.prices[symbol]
	return p, ok
}

// --- Mock TraderDirectory ---

type mockDirectory struct {
	byChannel map[string]traders.Trader
	symbols   map[string]bool // nil allows everything
}

func (m *mockDirectory) ResolveChannel(channelID string) (traders.Trader, bool) {
	t, ok := m.byChannel[channelID]
	return t, ok
}

func (m *mockDirectory) SymbolAllowed(symbol string) bool {
	if m.symbols == nil {
		return true
	}
	return m.symbols[symbol]
}

// --- Mock SignalClassifier ---

type mockClassifier struct {
	available  bool
	classifyFn func(ctx context.Context, text string) (domain.Signal, error)
}

func (m *mockClassifier) Available() bool { return m.available }

func (m *mockClassifier) Classify(ctx context.Context, text string) (domain.Signal, error) {
	if m.classifyFn != nil {
		return m.classifyFn(ctx, text)
	}
	return domain.Signal{}, nil
}

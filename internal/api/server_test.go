package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradewatch/internal/app"
	"tradewatch/internal/domain"
	"tradewatch/internal/ports"
	"tradewatch/internal/traders"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockTradeRepo struct {
	byID    map[int64]*domain.Trade
	created []*domain.Trade
	deleted []int64
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.created = append(m.created, trade)
	trade.ID = int64(len(m.created))
	return trade.ID, nil
}

func (m *mockTradeRepo) FindTradeByID(ctx context.Context, id int64) (*domain.Trade, error) {
	return m.byID[id], nil
}

func (m *mockTradeRepo) FindLatestOpenTrade(ctx context.Context, traderID, channelID string) (*domain.Trade, error) {
	return nil, nil
}

func (m *mockTradeRepo) FindActiveTrades(ctx context.Context) ([]*domain.Trade, error) {
	return nil, nil
}

func (m *mockTradeRepo) FindPendingTrades(ctx context.Context) ([]*domain.Trade, error) {
	return nil, nil
}

func (m *mockTradeRepo) FindAllTrades(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	out := make([]*domain.Trade, 0, len(m.byID))
	for _, t := range m.byID {
		if filter.ChannelID != "" && t.ChannelID != filter.ChannelID {
			continue
		}
		if filter.TraderID != "" && t.TraderID != filter.TraderID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockTradeRepo) DeleteTrade(ctx context.Context, id int64) error {
	if _, ok := m.byID[id]; !ok {
		return ports.ErrNotFound
	}
	delete(m.byID, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockStatusRepo struct {
	byTrade  map[int64]*domain.TradeStatus
	upserted []*domain.TradeStatus
}

func (m *mockStatusRepo) UpsertStatus(ctx context.Context, status *domain.TradeStatus) error {
	if m.byTrade == nil {
		m.byTrade = make(map[int64]*domain.TradeStatus)
	}
	m.byTrade[status.TradeID] = status
	m.upserted = append(m.upserted, status)
	return nil
}

func (m *mockStatusRepo) FindStatusByTradeID(ctx context.Context, tradeID int64) (*domain.TradeStatus, error) {
	return m.byTrade[tradeID], nil
}

type mockUpdateRepo struct {
	partialByTrade map[int64]*domain.TradeUpdate
	appended       []*domain.TradeUpdate
}

func (m *mockUpdateRepo) AppendUpdate(ctx context.Context, update *domain.TradeUpdate) (int64, error) {
	m.appended = append(m.appended, update)
	update.ID = int64(len(m.appended))
	return update.ID, nil
}

func (m *mockUpdateRepo) FindUpdatesByTradeRef(ctx context.Context, tradeID int64) ([]*domain.TradeUpdate, error) {
	return nil, nil
}

func (m *mockUpdateRepo) FindLatestPartialExit(ctx context.Context, tradeID int64) (*domain.TradeUpdate, error) {
	return m.partialByTrade[tradeID], nil
}

type mockPriceFeed struct {
	prices map[string]float64
}

func (m *mockPriceFeed) Price(symbol string) (float64, bool) {
	p, ok := m.prices[symbol]
	return p, ok
}

type mockClassifier struct {
	signal      domain.Signal
	unavailable bool
}

func (m *mockClassifier) Available() bool { return !m.unavailable }

func (m *mockClassifier) Classify(ctx context.Context, text string) (domain.Signal, error) {
	return m.signal, nil
}

type fixture struct {
	server   *Server
	trades   *mockTradeRepo
	statuses *mockStatusRepo
	updates  *mockUpdateRepo
	prices   *mockPriceFeed
}

func newFixture(t *testing.T, classifier ports.SignalClassifier) *fixture {
	t.Helper()

	tradersFile := filepath.Join(t.TempDir(), "traders.yaml")
	require.NoError(t, os.WriteFile(tradersFile, []byte(`
traders:
  - id: trader-01
    name: Alpha
    channel_id: "chan-1"
symbols:
  - BTC-USDT-SWAP
`), 0644))
	registry, err := traders.NewRegistry(tradersFile, &mockLogger{})
	require.NoError(t, err)

	fx := &fixture{
		trades:   &mockTradeRepo{byID: map[int64]*domain.Trade{}},
		statuses: &mockStatusRepo{byTrade: map[int64]*domain.TradeStatus{}},
		updates:  &mockUpdateRepo{partialByTrade: map[int64]*domain.TradeUpdate{}},
		prices:   &mockPriceFeed{prices: map[string]float64{}},
	}

	ingest, err := app.NewIngestionHandler(app.IngestionConfig{
		Logger:     &mockLogger{},
		Trades:     fx.trades,
		Statuses:   fx.statuses,
		Updates:    fx.updates,
		Prices:     fx.prices,
		Directory:  registry,
		Classifier: classifier,
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)

	server, err := New(Config{
		Logger:    &mockLogger{},
		Trades:    fx.trades,
		Statuses:  fx.statuses,
		Updates:   fx.updates,
		Prices:    fx.prices,
		Directory: registry,
		Ingest:    ingest,
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)
	fx.server = server
	return fx
}

func (fx *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func seedTrade(fx *fixture, id int64, status *domain.TradeStatus) *domain.Trade {
	trade := &domain.Trade{
		ID: id, TraderID: "trader-01", ChannelID: "chan-1", Symbol: "BTC-USDT-SWAP",
		Side: domain.SideLong, EntryPrice: 87400, TakeProfit: 90000, StopLoss: 86000,
		CreatedAt: testNow.Add(-time.Hour),
	}
	fx.trades.byID[id] = trade
	if status != nil {
		fx.statuses.byTrade[id] = status
	}
	return trade
}

func TestHealthz(t *testing.T) {
	fx := newFixture(t, &mockClassifier{})
	rec := fx.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostMessage(t *testing.T) {
	t.Run("entry signal creates trade", func(t *testing.T) {
		classifier := &mockClassifier{signal: domain.Signal{
			Type: domain.SignalEntry,
			Entry: &domain.EntrySignal{
				Symbol: "BTC-USDT-SWAP", Side: domain.SideLong, EntryPrice: 87400, TakeProfit: 90000, StopLoss: 86000,
			},
		}}
		fx := newFixture(t, classifier)
		fx.prices.prices["BTC-USDT-SWAP"] = 87400

		rec := fx.do(t, http.MethodPost, "/api/messages", map[string]string{
			"channel_id": "chan-1", "message_id": "m1", "user_id": "u1", "text": "BTC多单 87400 止盈90000 止损86000",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, string(app.OutcomeTradeCreated), body["outcome"])
		assert.Equal(t, string(domain.StatusFlat), body["status"])
		require.Len(t, fx.trades.created, 1)
	})

	t.Run("unmapped channel is reported, not an error", func(t *testing.T) {
		fx := newFixture(t, &mockClassifier{})
		rec := fx.do(t, http.MethodPost, "/api/messages", map[string]string{
			"channel_id": "chan-unknown", "text": "hello",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, string(app.OutcomeSkippedChannel), decode(t, rec)["outcome"])
	})

	t.Run("classifier unavailable is accepted with no signal", func(t *testing.T) {
		fx := newFixture(t, &mockClassifier{unavailable: true})
		rec := fx.do(t, http.MethodPost, "/api/messages", map[string]string{
			"channel_id": "chan-1", "text": "多单进场",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, string(app.OutcomeNoSignal), decode(t, rec)["outcome"])
		assert.Empty(t, fx.trades.created)
	})

	t.Run("missing text rejected", func(t *testing.T) {
		fx := newFixture(t, &mockClassifier{})
		rec := fx.do(t, http.MethodPost, "/api/messages", map[string]string{"channel_id": "chan-1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid entry signal maps to 422", func(t *testing.T) {
		classifier := &mockClassifier{signal: domain.Signal{
			Type:  domain.SignalEntry,
			Entry: &domain.EntrySignal{Symbol: "BTC-USDT-SWAP", Side: domain.SideLong, EntryPrice: 0},
		}}
		fx := newFixture(t, classifier)
		rec := fx.do(t, http.MethodPost, "/api/messages", map[string]string{
			"channel_id": "chan-1", "text": "多单进场",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestCloseTrade(t *testing.T) {
	t.Run("profit closes as manual take profit", func(t *testing.T) {
		fx := newFixture(t, &mockClassifier{})
		seedTrade(fx, 7, &domain.TradeStatus{TradeID: 7, Status: domain.StatusFloatingProfit, UpdatedAt: testNow})
		fx.prices.prices["BTC-USDT-SWAP"] = 88000

		rec := fx.do(t, http.MethodPost, "/api/trades/7/close", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, string(domain.StatusManualTakeProfit), body["status"])
		assert.Equal(t, 600.0, body["pnl_points"])

		require.Len(t, fx.statuses.upserted, 1)
		assert.Equal(t, domain.StatusManualTakeProfit, fx.statuses.upserted[0].Status)
	})

	t.Run("partial exit folds realized portion in", func(t *testing.T) {
		fx := newFixture(t, &mockClassifier{})
		trade := seedTrade(fx, 7, &domain.TradeStatus{TradeID: 7, Status: domain.StatusPartialExit, UpdatedAt: testNow})
		exited := 500.0
		fx.updates.partialByTrade[trade.ID] = &domain.TradeUpdate{TradeRefID: &trade.ID, StatusLabel: "部分止盈", PnlPoints: &exited}
		fx.prices.prices["BTC-USDT-SWAP"] = 88000

		rec := fx.do(t, http.MethodPost, "/api/trades/7/close", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, 1100.0, body["pnl_points"]) // 500 exited + 600 remaining
	})

	t.Run("already closed", func(t *testing.T) {
		fx := newFixture(t, &mockClassifier{})
		seedTrade(fx, 7, &domain.TradeStatus{TradeID: 7, Status: domain.StatusTakeProfitHit, UpdatedAt: testNow})
		fx.prices.prices["BTC-USDT-SWAP"] = 88000

		rec := fx.do(t, http.MethodPost, "/api/trades/7/close", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, fx.statuses.upserted)
	})

	t.Run("price unavailable", func(t *testing.T) {
		fx := newFixture(t, &mockClassifier{})
		seedTrade(fx, 7, &domain.TradeStatus{TradeID: 7, Status: domain.StatusFloatingLoss, UpdatedAt: testNow})

		rec := fx.do(t, http.MethodPost, "/api/trades/7/close", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("unknown trade", func(t *testing.T) {
		fx := newFixture(t, &mockClassifier{})
		rec := fx.do(t, http.MethodPost, "/api/trades/99/close", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDeleteTrade(t *testing.T) {
	fx := newFixture(t, &mockClassifier{})
	seedTrade(fx, 7, nil)

	rec := fx.do(t, http.MethodDelete, "/api/trades/7", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = fx.do(t, http.MethodDelete, "/api/trades/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTrades(t *testing.T) {
	fx := newFixture(t, &mockClassifier{})
	pnl := 4800.0
	price := 90000.0
	seedTrade(fx, 9, &domain.TradeStatus{
		TradeID: 9, Status: domain.StatusPartialExit, PnlPoints: &pnl, CurrentPrice: &price, UpdatedAt: testNow,
	})
	exited := 2250.0
	nine := int64(9)
	fx.updates.partialByTrade[9] = &domain.TradeUpdate{TradeRefID: &nine, StatusLabel: "部分止盈", PnlPoints: &exited}

	rec := fx.do(t, http.MethodGet, "/api/trades", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	list, ok := body["trades"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
	view := list[0].(map[string]interface{})
	assert.Equal(t, string(domain.StatusPartialExit), view["status"])
	assert.Equal(t, 2250.0, view["exited_pnl"])
	assert.Equal(t, 2550.0, view["remaining_pnl"])
}

func TestGetTrade_NotFound(t *testing.T) {
	fx := newFixture(t, &mockClassifier{})
	rec := fx.do(t, http.MethodGet, "/api/trades/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPrices(t *testing.T) {
	fx := newFixture(t, &mockClassifier{})
	fx.prices.prices["BTC-USDT-SWAP"] = 87400.0

	rec := fx.do(t, http.MethodGet, "/api/prices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	prices := body["prices"].(map[string]interface{})
	assert.Equal(t, 87400.0, prices["BTC-USDT-SWAP"])
}

func TestGetTraders(t *testing.T) {
	fx := newFixture(t, &mockClassifier{})
	rec := fx.do(t, http.MethodGet, "/api/traders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	list := body["traders"].([]interface{})
	require.Len(t, list, 1)
	trader := list[0].(map[string]interface{})
	assert.Equal(t, "trader-01", trader["id"])
}

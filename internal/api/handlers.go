package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"tradewatch/internal/app"
	"tradewatch/internal/domain"
	"tradewatch/internal/lifecycle"
	"tradewatch/internal/ports"

	"github.com/gin-gonic/gin"
)

// tradeView is the JSON shape of one trade in list and detail responses.
type tradeView struct {
	ID           int64         `json:"id"`
	TraderID     string        `json:"trader_id"`
	ChannelID    string        `json:"channel_id"`
	Symbol       string        `json:"symbol"`
	Side         domain.Side   `json:"side"`
	EntryPrice   float64       `json:"entry_price"`
	TakeProfit   *float64      `json:"take_profit,omitempty"`
	StopLoss     *float64      `json:"stop_loss,omitempty"`
	Confidence   *float64      `json:"confidence,omitempty"`
	Status       domain.Status `json:"status"`
	PnlPoints    *float64      `json:"pnl_points,omitempty"`
	PnlPercent   *float64      `json:"pnl_percent,omitempty"`
	CurrentPrice *float64      `json:"current_price,omitempty"`
	ExitedPnl    *float64      `json:"exited_pnl,omitempty"`
	RemainingPnl *float64      `json:"remaining_pnl,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    *time.Time    `json:"updated_at,omitempty"`
}

type updateView struct {
	ID          int64     `json:"id"`
	TradeRefID  *int64    `json:"trade_ref_id,omitempty"`
	Text        string    `json:"text"`
	StatusLabel string    `json:"status_label"`
	PnlPoints   *float64  `json:"pnl_points,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleListTrades returns all trades, optionally filtered by channel_id
// and/or trader_id query parameters.
func (s *Server) handleListTrades(c *gin.Context) {
	ctx := c.Request.Context()
	filter := ports.TradeFilter{
		ChannelID: c.Query("channel_id"),
		TraderID:  c.Query("trader_id"),
	}

	trades, err := s.trades.FindAllTrades(ctx, filter)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to list trades")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trades"})
		return
	}

	views := make([]tradeView, 0, len(trades))
	for _, trade := range trades {
		view, err := s.buildTradeView(c, trade)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to build trade view", map[string]interface{}{"tradeID": trade.ID})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trades"})
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"trades": views})
}

func (s *Server) handleGetTrade(c *gin.Context) {
	ctx := c.Request.Context()
	trade, ok := s.tradeFromParam(c)
	if !ok {
		return
	}

	view, err := s.buildTradeView(c, trade)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to build trade view", map[string]interface{}{"tradeID": trade.ID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trade"})
		return
	}

	updates, err := s.updates.FindUpdatesByTradeRef(ctx, trade.ID)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load trade updates", map[string]interface{}{"tradeID": trade.ID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trade"})
		return
	}
	updateViews := make([]updateView, 0, len(updates))
	for _, u := range updates {
		updateViews = append(updateViews, updateView{
			ID: u.ID, TradeRefID: u.TradeRefID, Text: u.Text,
			StatusLabel: u.StatusLabel, PnlPoints: u.PnlPoints, CreatedAt: u.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"trade": view, "updates": updateViews})
}

// handleCloseTrade closes a trade at the current market price. Already
// closed trades return 400; a missing price returns 503 so the caller can
// retry once the feed is warm.
func (s *Server) handleCloseTrade(c *gin.Context) {
	ctx := c.Request.Context()
	trade, ok := s.tradeFromParam(c)
	if !ok {
		return
	}

	current, err := s.statuses.FindStatusByTradeID(ctx, trade.ID)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load status for close", map[string]interface{}{"tradeID": trade.ID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close trade"})
		return
	}
	if current != nil && current.Status.IsTerminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": ports.ErrTradeClosed.Error(), "status": current.Status})
		return
	}

	price, priceOK := s.prices.Price(trade.Symbol)
	if !priceOK {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ports.ErrPriceUnavailable.Error(), "symbol": trade.Symbol})
		return
	}

	res := lifecycle.ManualClose(trade.Side, trade.EntryPrice, price)
	if current != nil && current.Status == domain.StatusPartialExit {
		// Fold the realized portion into the final figure so the close
		// reflects the whole position.
		partial, err := s.updates.FindLatestPartialExit(ctx, trade.ID)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to load partial exit for close", map[string]interface{}{"tradeID": trade.ID})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close trade"})
			return
		}
		if partial != nil && partial.PnlPoints != nil && res.PnlPoints != nil {
			total := lifecycle.Round2(*partial.PnlPoints + *res.PnlPoints)
			res.PnlPoints = &total
			if trade.EntryPrice != 0 {
				pct := lifecycle.Round2(total / trade.EntryPrice * 100)
				res.PnlPercent = &pct
			}
			res.Status = domain.StatusManualTakeProfit
			if total < 0 {
				res.Status = domain.StatusManualStopLoss
			}
		}
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
		s.logger.Error(ctx, err, "Failed to persist manual close", map[string]interface{}{"tradeID": trade.ID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close trade"})
		return
	}

	s.logger.Info(ctx, "Trade closed manually", map[string]interface{}{"tradeID": trade.ID, "status": res.Status, "price": price})
	c.JSON(http.StatusOK, gin.H{
		"trade_id":    trade.ID,
		"status":      res.Status,
		"pnl_points":  res.PnlPoints,
		"pnl_percent": res.PnlPercent,
		"close_price": price,
	})
}

func (s *Server) handleDeleteTrade(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}

	if err := s.trades.DeleteTrade(ctx, id); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
			return
		}
		s.logger.Error(ctx, err, "Failed to delete trade", map[string]interface{}{"tradeID": id})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete trade"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePrices(c *gin.Context) {
	snap := s.directory.Snapshot()
	prices := make(map[string]interface{})
	for _, symbol := range snap.Symbols() {
		if price, ok := s.prices.Price(symbol); ok {
			prices[symbol] = price
		} else {
			prices[symbol] = nil
		}
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices})
}

func (s *Server) handleTraders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"traders": s.directory.Snapshot().Traders()})
}

// messageRequest is the ingress webhook payload.
type messageRequest struct {
	ChannelID string `json:"channel_id" binding:"required"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text" binding:"required"`
}

func (s *Server) handleMessage(c *gin.Context) {
	ctx := c.Request.Context()
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id and text are required"})
		return
	}

	result, err := s.ingest.Process(ctx, app.Message{
		ChannelID: req.ChannelID,
		MessageID: req.MessageID,
		UserID:    req.UserID,
		Text:      req.Text,
	})
	if err != nil {
		if errors.Is(err, ports.ErrValidation) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "signal failed validation", "outcome": result.Outcome})
			return
		}
		s.logger.Error(ctx, err, "Message ingestion failed", map[string]interface{}{"channelID": req.ChannelID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
		return
	}

	resp := gin.H{"outcome": result.Outcome}
	if result.TradeID != 0 {
		resp["trade_id"] = result.TradeID
	}
	if result.Status != "" {
		resp["status"] = result.Status
	}
	c.JSON(http.StatusAccepted, resp)
}

// tradeFromParam loads the trade named by the :id route parameter, writing
// the error response itself when the id is bad or unknown.
func (s *Server) tradeFromParam(c *gin.Context) (*domain.Trade, bool) {
	ctx := c.Request.Context()
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return nil, false
	}
	trade, err := s.trades.FindTradeByID(ctx, id)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load trade", map[string]interface{}{"tradeID": id})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trade"})
		return nil, false
	}
	if trade == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
		return nil, false
	}
	return trade, true
}

// buildTradeView joins a trade with its status row. Partial exits carry an
// exited/remaining split; non-terminal trades without a stored price get
// the live cache value for display.
func (s *Server) buildTradeView(c *gin.Context, trade *domain.Trade) (tradeView, error) {
	ctx := c.Request.Context()
	view := tradeView{
		ID:         trade.ID,
		TraderID:   trade.TraderID,
		ChannelID:  trade.ChannelID,
		Symbol:     trade.Symbol,
		Side:       trade.Side,
		EntryPrice: trade.EntryPrice,
		Confidence: trade.Confidence,
		Status:     domain.StatusNotTriggered,
		CreatedAt:  trade.CreatedAt,
	}
	if trade.TakeProfit != 0 {
		tp := trade.TakeProfit
		view.TakeProfit = &tp
	}
	if trade.StopLoss != 0 {
		sl := trade.StopLoss
		view.StopLoss = &sl
	}

	status, err := s.statuses.FindStatusByTradeID(ctx, trade.ID)
	if err != nil {
		return tradeView{}, err
	}
	if status != nil {
		view.Status = status.Status
		view.PnlPoints = status.PnlPoints
		view.PnlPercent = status.PnlPercent
		view.CurrentPrice = status.CurrentPrice
		updatedAt := status.UpdatedAt
		view.UpdatedAt = &updatedAt
	}

	if view.CurrentPrice == nil && !view.Status.IsTerminal() {
		if price, ok := s.prices.Price(trade.Symbol); ok {
			view.CurrentPrice = &price
		}
	}

	if status != nil && status.Status == domain.StatusPartialExit && status.PnlPoints != nil {
		partial, err := s.updates.FindLatestPartialExit(ctx, trade.ID)
		if err != nil {
			return tradeView{}, err
		}
		if partial != nil && partial.PnlPoints != nil {
			exited := lifecycle.Round2(*partial.PnlPoints)
			remaining := lifecycle.Round2(*status.PnlPoints - exited)
			view.ExitedPnl = &exited
			view.RemainingPnl = &remaining
		}
	}

	return view, nil
}

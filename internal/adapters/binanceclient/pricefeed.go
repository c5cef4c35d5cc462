// Package binanceclient implements ports.PriceFeed by polling the Binance
// futures ticker endpoint into an in-memory last-price cache.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradewatch/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultPollInterval = 5 * time.Second
	requestTimeout      = 10 * time.Second
)

// SymbolSource provides the set of instruments worth caching. Called once
// per poll so registry reloads take effect without restarting the feed.
type SymbolSource func() []string

// PriceFeed polls ticker prices for a watched symbol set and serves the
// last-known values from memory. Reads never block on the network.
type PriceFeed struct {
	futuresClient *futures.Client
	logger        ports.Logger
	symbols       SymbolSource
	pollInterval  time.Duration

	mu     sync.RWMutex
	prices map[string]float64
}

var _ ports.PriceFeed = (*PriceFeed)(nil)

// Config holds configuration specific to the Binance price feed adapter.
type Config struct {
	APIKey       string
	SecretKey    string
	UseTestnet   bool
	Logger       ports.Logger
	Symbols      SymbolSource
	PollInterval time.Duration
}

// New creates a new Binance price feed adapter.
func New(cfg Config) (*PriceFeed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance price feed")
	}
	if cfg.Symbols == nil {
		return nil, fmt.Errorf("symbol source is required for Binance price feed")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Ticker endpoints are public; keys only matter for private calls.
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Price feed will use public endpoints only.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance price feed configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance price feed configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	pollInterval := cfg.PollInterval
	if pollInterval < defaultPollInterval {
		pollInterval = defaultPollInterval
	}

	return &PriceFeed{
		futuresClient: client,
		logger:        cfg.Logger,
		symbols:       cfg.Symbols,
		pollInterval:  pollInterval,
		prices:        make(map[string]float64),
	}, nil
}

// Price returns the last cached price for the symbol. ok is false when the
// symbol has never been fetched successfully.
func (f *PriceFeed) Price(symbol string) (float64, bool) {
	key := NormalizeSymbol(symbol)
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[key]
	return price, ok
}

// Start polls until the context is cancelled. The first refresh happens
// immediately so prices are warm before the first reconciliation tick.
func (f *PriceFeed) Start(ctx context.Context) error {
	f.refresh(ctx)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info(ctx, "Price feed stopping", map[string]interface{}{"reason": ctx.Err().Error()})
			return ctx.Err()
		case <-ticker.C:
			f.refresh(ctx)
		}
	}
}

// refresh fetches the full ticker list once and updates the cache for every
// watched symbol present in the response. A failed poll leaves the previous
// values in place.
func (f *PriceFeed) refresh(ctx context.Context) {
	op := "refresh"
	watched := f.watchedSet()
	if len(watched) == 0 {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	tickers, err := f.futuresClient.NewListPricesService().Do(reqCtx)
	if err != nil {
		f.handleError(ctx, err, op)
		return
	}

	updated := 0
	f.mu.Lock()
	for _, t := range tickers {
		if _, ok := watched[t.Symbol]; !ok {
			continue
		}
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			f.logger.Warn(ctx, "Could not parse ticker price", map[string]interface{}{"symbol": t.Symbol, "price": t.Price})
			continue
		}
		f.prices[t.Symbol] = price
		updated++
	}
	f.mu.Unlock()

	f.logger.Debug(ctx, "Price cache refreshed", map[string]interface{}{"watched": len(watched), "updated": updated})
}

func (f *PriceFeed) watchedSet() map[string]struct{} {
	symbols := f.symbols()
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[NormalizeSymbol(s)] = struct{}{}
	}
	return set
}

// NormalizeSymbol maps instrument names like "BTC-USDT-SWAP" to the Binance
// ticker form "BTCUSDT". Already-normalized symbols pass through unchanged.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimSuffix(s, "-SWAP")
	return strings.ReplaceAll(s, "-", "")
}

// handleError translates common Binance API errors into standardized ports
// errors and logs them. The feed never propagates poll errors to callers;
// the cache simply stays stale until the next successful refresh.
func (f *PriceFeed) handleError(ctx context.Context, err error, operation string) {
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := ports.ErrUnknown
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		}
		f.logger.Error(ctx, fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err), "Price poll failed with API error", fields)
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		f.logger.Warn(ctx, "Price poll timed out", fields)
		return
	}
	if errors.Is(err, context.Canceled) {
		f.logger.Debug(ctx, "Price poll canceled", fields)
		return
	}
	f.logger.Error(ctx, fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err), "Price poll failed", fields)
}

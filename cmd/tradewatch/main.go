package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradewatch/config"
	"tradewatch/internal/adapters/binanceclient"
	"tradewatch/internal/adapters/deepseek"
	"tradewatch/internal/adapters/logger"
	"tradewatch/internal/adapters/sqlite"
	"tradewatch/internal/api"
	"tradewatch/internal/app"
	"tradewatch/internal/traders"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var rootCmd = &cobra.Command{
	Use:   "tradewatch",
	Short: "Tracks trade calls from chat channels through their lifecycle",
	Long: `tradewatch ingests trade-call messages, classifies them into entry and
update signals, and follows each tracked position against live prices
until it closes.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the price feed, reconciliation scheduler and HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Console:    cfg.LogConsole,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer repo.Close()

	registry, err := traders.NewRegistry(cfg.TradersFile, log)
	if err != nil {
		return fmt.Errorf("failed to load trader registry: %w", err)
	}

	// The feed watches the allow-list plus every symbol with an open trade,
	// so positions opened before an allow-list edit keep getting prices.
	symbolSource := func() []string {
		set := make(map[string]struct{})
		for _, s := range registry.Symbols() {
			set[s] = struct{}{}
		}
		qctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if active, err := repo.FindActiveTrades(qctx); err == nil {
			for _, t := range active {
				set[t.Symbol] = struct{}{}
			}
		}
		if pending, err := repo.FindPendingTrades(qctx); err == nil {
			for _, t := range pending {
				set[t.Symbol] = struct{}{}
			}
		}
		out := make([]string, 0, len(set))
		for s := range set {
			out = append(out, s)
		}
		return out
	}

	feed, err := binanceclient.New(binanceclient.Config{
		APIKey:       cfg.BinanceAPIKey,
		SecretKey:    cfg.BinanceSecretKey,
		UseTestnet:   cfg.IsTestnet,
		Logger:       log,
		Symbols:      symbolSource,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize price feed: %w", err)
	}

	classifier, err := deepseek.New(deepseek.Config{
		APIKey:  cfg.DeepSeekAPIKey,
		BaseURL: cfg.DeepSeekBaseURL,
		Model:   cfg.DeepSeekModel,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize classifier: %w", err)
	}

	ingest, err := app.NewIngestionHandler(app.IngestionConfig{
		Logger:     log,
		Trades:     repo,
		Statuses:   repo,
		Updates:    repo,
		Prices:     feed,
		Directory:  registry,
		Classifier: classifier,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ingestion handler: %w", err)
	}

	scheduler, err := app.NewReconciliationScheduler(app.SchedulerConfig{
		Logger:   log,
		Trades:   repo,
		Statuses: repo,
		Updates:  repo,
		Prices:   feed,
		Interval: cfg.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	server, err := api.New(api.Config{
		Logger:    log,
		Trades:    repo,
		Statuses:  repo,
		Updates:   repo,
		Prices:    feed,
		Directory: registry,
		Ingest:    ingest,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feed.Start(gctx)
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		log.Info(gctx, "HTTP API listening", map[string]interface{}{"addr": cfg.HTTPAddr})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	log.Info(ctx, "tradewatch started", map[string]interface{}{
		"pollInterval": cfg.PollInterval.String(),
		"dbPath":       cfg.DBPath,
		"tradersFile":  cfg.TradersFile,
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info(context.Background(), "tradewatch stopped")
	return nil
}

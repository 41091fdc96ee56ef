package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nileshpandit/optionflow/internal/broker"
	"github.com/nileshpandit/optionflow/internal/config"
	"github.com/nileshpandit/optionflow/internal/feed"
	"github.com/nileshpandit/optionflow/internal/gateway"
	"github.com/nileshpandit/optionflow/internal/ledger"
	"github.com/nileshpandit/optionflow/internal/marketdata"
	"github.com/nileshpandit/optionflow/internal/retry"
	"github.com/nileshpandit/optionflow/internal/scheduler"
	"github.com/nileshpandit/optionflow/internal/selector"
	"github.com/nileshpandit/optionflow/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Secrets in .env expand into ${VAR} placeholders in the config file.
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.WithFields(logrus.Fields{
		"mode":    cfg.Environment.Mode,
		"storage": cfg.Storage.Driver,
	}).Info("starting optionflow engine")

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("engine stopped: %v", err)
	}
	logger.Info("engine stopped cleanly")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	store, err := storage.New(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
		cancel()
	}()

	gw, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing order gateway: %w", err)
	}

	led := ledger.New(store, cfg.Trading.MaxOpenPositions, logger)
	nse := marketdata.NewNSEClient(logger)
	quotes := retry.NewQuoteClient(nse, logger)
	picker := selector.New(nse, selector.Config{
		Instruments:  cfg.Selection.Instruments,
		TopN:         cfg.Selection.TopN,
		MaxSelection: cfg.Selection.MaxSelection,
	}, logger)

	engine := scheduler.NewEngine(picker, gw, led, quotes, cfg.Trading.Quantity, logger)
	sched := scheduler.New(engine,
		scheduler.NewWeeklyTimer(cfg.Schedule.Entry, loc),
		scheduler.NewWeeklyTimer(cfg.Schedule.Exit, loc),
		logger)

	valuator := feed.NewValuator(led, quotes, logger)
	feedServer := feed.NewServer(feed.Config{
		Port:         cfg.Feed.Port,
		PushInterval: cfg.PushInterval(),
		Location:     loc,
	}, valuator, led, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sched.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := feedServer.Start()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return feedServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildGateway selects the execution mode once at startup. Live mode
// authenticates up front and wraps the broker behind a circuit breaker;
// paper mode simulates fills locally.
func buildGateway(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (gateway.Gateway, error) {
	if cfg.IsPaperTrading() {
		logger.Info("paper trading mode, orders are simulated")
		return gateway.NewPaper(logger), nil
	}

	logger.Warn("live trading mode, orders go to the broker")
	sessions := broker.NewClient(broker.Credentials{
		AccessToken: cfg.Broker.AccessToken,
		Mobile:      cfg.Broker.Mobile,
		UCC:         cfg.Broker.UCC,
		MPIN:        cfg.Broker.MPIN,
		TOTPSecret:  cfg.Broker.TOTPSecret,
	}, cfg.Broker.LoginURL, cfg.Broker.ValidateURL, logger)

	if _, err := sessions.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("broker authentication: %w", err)
	}
	return gateway.NewCircuitBreaker(gateway.NewLive(sessions, logger), logger), nil
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

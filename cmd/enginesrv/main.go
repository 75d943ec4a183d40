// Command enginesrv runs the outgoing-payment engine as a standalone
// process: it brings up the payment store, the worker pool, and the
// ingress HTTP façade, then blocks until SIGINT/SIGTERM. Structurally
// this mirrors stronghold/cmd/api/main.go almost line for line — load
// config, set up logging, validate, construct, serve in a goroutine,
// wait on a signal, shut down with a bounded timeout.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rafikipay/outpay/internal/capability/inmemory"
	"github.com/rafikipay/outpay/internal/command"
	"github.com/rafikipay/outpay/internal/config"
	"github.com/rafikipay/outpay/internal/ingress"
	"github.com/rafikipay/outpay/internal/lifecycle"
	"github.com/rafikipay/outpay/internal/money"
	"github.com/rafikipay/outpay/internal/payment"
	"github.com/rafikipay/outpay/internal/store"
	"github.com/rafikipay/outpay/internal/worker"
)

func main() {
	cfg := config.Load()

	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, store.Config(cfg.Database))
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		slog.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	ledger := inmemory.NewLedger()
	superAccountID := seedSuperAccount(ledger)

	deps := lifecycle.Deps{
		Accounting: ledger,
		Rates:      inmemory.NewRates(),
		Streaming:  inmemory.NewStreaming(),
		Plugins:    inmemory.NewPluginFactory(),
		Limits: payment.Limits{
			MaxQuoteAttempts: cfg.Engine.MaxQuoteAttempts,
			MaxSendAttempts:  cfg.Engine.MaxSendAttempts,
		},
		Slippage:      cfg.Engine.Slippage,
		QuoteLifespan: cfg.Engine.QuoteLifespan,
		BackoffBase:   cfg.Engine.BackoffBase,
		BackoffMax:    cfg.Engine.BackoffMax,
	}

	engine := command.New(st, inmemory.NewSubAccounts(ledger), deps)

	pool := worker.New(st, deps, worker.Config{
		WorkerCount:        cfg.Engine.WorkerCount,
		BatchSize:          10,
		IdleInterval:       cfg.Engine.WorkerIdleInterval,
		ExpirationInterval: time.Minute,
	}, slog.Default())
	pool.Start(ctx)

	srv := ingress.New(engine, st, ingress.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, slog.Default())

	go func() {
		if err := srv.Start(":" + cfg.Server.Port); err != nil {
			slog.Error("ingress server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("outpay engine started", "port", cfg.Server.Port, "superAccountId", superAccountID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("ingress server forced to shut down", "error", err)
		os.Exit(1)
	}

	slog.Info("outpay engine exited")
}

// seedSuperAccount credits a fixed demo super-account so the first
// `create`/`fund` call against a freshly started process has somewhere
// to draw balance from. A real deployment's super-accounts are funded by
// whatever deposits into the surrounding ledger; this stands in for that
// until a real AccountingService is wired.
func seedSuperAccount(ledger *inmemory.Ledger) uuid.UUID {
	id := uuid.New()
	ledger.Credit(id, money.Amount(1_000_000_00))
	return id
}

// setupLogging configures the global slog logger: JSON for production,
// text for development.
func setupLogging(cfg *config.Config) {
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	slog.SetDefault(slog.New(handler))
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/dispatch"
	"github.com/example/ride-lifecycle/internal/events"
	httpapi "github.com/example/ride-lifecycle/internal/http"
	"github.com/example/ride-lifecycle/internal/logging"
	"github.com/example/ride-lifecycle/internal/payments"
	"github.com/example/ride-lifecycle/internal/registry"
	"github.com/example/ride-lifecycle/internal/ride"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	wsreg := dispatch.NewWSRegistry()
	bus := events.NewBus(logger, events.LogSink{Logger: logger})
	bus.AddQueuedSink(wsreg, 0)
	if len(cfg.KafkaBrokers) > 0 {
		ks := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer ks.Close()
		bus.AddQueuedSink(ks, 1024)
		logger.Info("publishing ride events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer bus.Close()

	reg := registry.New(registry.Config{
		Events:          bus,
		Processor:       payments.NewSimulator(cfg.PaymentSuccessRate, cfg.PaymentDelay),
		Logger:          logger,
		LookupDelay:     cfg.LookupDelay,
		MatchDelay:      cfg.MatchDelay,
		PremiumDiscount: cfg.PremiumDiscount,
		VIPMinRating:    cfg.VIPMinRating,
		RideOptions:     []ride.Option{ride.WithFare(ride.RandomFare(cfg.FareMin, cfg.FareSpread))},
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(reg, wsreg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-lifecycle listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

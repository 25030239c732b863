package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"odin-busd/internal/admin"
	"odin-busd/internal/broker"
	"odin-busd/internal/config"
	"odin-busd/internal/fifocmd"
	"odin-busd/internal/logging"
	"odin-busd/internal/metrics"
	"odin-busd/internal/peer"
	"odin-busd/internal/registry"
	"odin-busd/internal/transport"
	"odin-busd/internal/wire"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	if cfg.Runtime.Workers > 0 {
		runtime.GOMAXPROCS(cfg.Runtime.Workers)
	}
	logger.Info("runtime sized", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))

	if cfg.Broker.PIDFile != "" {
		if err := writePIDFile(cfg.Broker.PIDFile); err != nil {
			logger.Warn("failed to write pid file", zap.Error(err))
		} else {
			defer os.Remove(cfg.Broker.PIDFile)
		}
	}

	metricsRegistry := metrics.NewRegistry()

	db := broker.New(cfg.Broker.QueueSize, logger, broker.Hooks{
		OnRegister:   func(*registry.Handle) { metricsRegistry.ObserveRegister() },
		OnUnregister: func(*registry.Handle) { metricsRegistry.ObserveUnregister() },
		OnRouted:     metricsRegistry.ObserveRouted,
		OnDropped:    metricsRegistry.ObserveDropped,
	})

	brokerClient, err := broker.NewInProcessClient(db, wire.BrokerClientName, cfg.Broker.QueueSize)
	if err != nil {
		logger.Fatal("failed to register broker-internal client", zap.Error(err))
	}
	defer brokerClient.Close()

	peerHandler := peer.New(db, logger, peer.Config{
		Timeout:   cfg.Broker.Timeout,
		BufSize:   cfg.Broker.BufSize,
		QueueSize: cfg.Broker.QueueSize,
	})
	peerHandler.OnAck(func(status byte) {
		metricsRegistry.AcksEmitted.WithLabelValues(metrics.StatusName(status)).Inc()
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Listeners.UnixPath != "" {
		g.Go(func() error {
			logger.Info("unix listener starting", zap.String("path", cfg.Listeners.UnixPath))
			return transport.ServeUnix(gctx, cfg.Listeners.UnixPath, peerHandler, logger, metricsRegistry.AcceptErrors.Inc)
		})
	}
	if cfg.Listeners.TCPAddr != "" {
		g.Go(func() error {
			logger.Info("tcp listener starting", zap.String("addr", cfg.Listeners.TCPAddr))
			return transport.ServeTCP(gctx, cfg.Listeners.TCPAddr, peerHandler, logger, metricsRegistry.AcceptErrors.Inc)
		})
	}
	if cfg.Listeners.FIFOPath != "" {
		g.Go(func() error {
			logger.Info("fifo bridge starting", zap.String("path", cfg.Listeners.FIFOPath))
			return fifocmd.Serve(gctx, cfg.Listeners.FIFOPath, brokerClient, logger)
		})
	}

	g.Go(func() error {
		return runHTTPServer(gctx, cfg, db, metricsRegistry, logger)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func runHTTPServer(ctx context.Context, cfg config.Config, db *broker.DB, m *metrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"clients":   len(db.Enumerate()),
		})
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Endpoint, m.Handler())
	}
	if cfg.Admin.Enabled {
		mux.Handle(cfg.Admin.Endpoint, admin.Handler(db))
	}

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin/metrics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

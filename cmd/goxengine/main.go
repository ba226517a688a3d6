// gox-engine — a live market-state mirror for an MtGox-style streaming
// exchange API: order book, trade-to-candle history, and wallet balances
// kept current off the duplex transport, with optional order placement and
// a read-only status dashboard.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	internal/engine         — orchestrator: wires transport, signer, book, history, strategies
//	internal/transport      — plain-WebSocket and Socket.IO duplex connections, fixed reconnect delay
//	internal/signer         — authenticated call multiplexer (streaming signed calls + REST signed calls)
//	internal/book           — order book ladders and own-order tracking
//	internal/candle         — trade-to-OHLCV aggregation
//	internal/snapshot       — one-shot REST pulls (full depth, recent trades)
//	internal/ratelimit      — token-bucket rate limiting for REST calls
//	internal/signal         — named synchronous fan-out bus shared by book, history, and engine
//	internal/strategy       — pluggable strategy registry (OnBookChanged / OnCandleChanged / OnKey)
//	internal/status         — optional read-only websocket dashboard
//	internal/creds          — in-memory credential handling (no decryption here)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"goxengine/internal/config"
	"goxengine/internal/creds"
	"goxengine/internal/engine"
	gosignal "goxengine/internal/signal"
	"goxengine/internal/status"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("GOX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	cred, err := creds.Load(cfg.Gox.SecretKey, cfg.Gox.SecretSecret)
	if err != nil {
		logger.Error("failed to load credential", "error", err)
		os.Exit(1)
	}
	if cred == nil {
		logger.Warn("no credential configured, running read-only")
	}

	bus := gosignal.New(logger)
	eng := engine.New(cfg, cred, bus, logger)

	var dashboard *status.Server
	if cfg.Dashboard.Enabled {
		dashboard = status.NewServer(cfg.Dashboard.Port, eng, cfg.Dashboard.AllowedOrigins, logger)
		eng.SetDashboard(dashboard.Hub())
		go func() {
			if err := dashboard.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := eng.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("engine stopped unexpectedly", "error", err)
		}
	}()

	logger.Info("gox-engine started",
		"host", cfg.Gox.Host,
		"currency", cfg.Gox.Currency,
		"use_ssl", cfg.Gox.UseSSL,
		"plain_websocket", cfg.Gox.UsePlainOldWebsocket,
		"read_only", cred == nil,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()

	if dashboard != nil {
		if err := dashboard.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

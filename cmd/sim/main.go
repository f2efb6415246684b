// marketsim — a deterministic, event-driven limit-order-book exchange
// simulator for a single symbol.
//
// Architecture:
//
//	main.go               — entry point: loads config, wires the agents, waits for SIGINT/SIGTERM
//	kernel/kernel.go      — discrete-event core: virtual clock, time-priority queue, tick loop
//	kernel/bus.go         — pub/sub event bus for non-agent observers (gateway, sink)
//	latency/latency.go    — two-stage RPC latency model with seeded downlink jitter
//	book/book.go          — price-time priority order book over B-trees
//	exchange/exchange.go  — exchange agent: validation, matching, response protocol
//	trader/human.go       — order-entry agent bridging the gateway into the kernel
//	gateway/server.go     — HTTP/WebSocket surface: REST order entry plus a live event stream
//	sink/csv.go           — CSV recorder for trades, order log, and rejections
//
// Virtual time advances in fixed wall-paced ticks; within a tick every
// due message is delivered in timestamp-then-FIFO order, so runs with
// the same configuration and seed replay bit-identically.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"marketsim/internal/config"
	"marketsim/internal/exchange"
	"marketsim/internal/gateway"
	"marketsim/internal/kernel"
	"marketsim/internal/latency"
	"marketsim/internal/sink"
	"marketsim/internal/trader"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MSIM_CONFIG"); p != "" {
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

	cash, err := decimal.NewFromString(cfg.Trader.Cash)
	if err != nil {
		logger.Error("invalid trader.cash", "error", err, "value", cfg.Trader.Cash)
		os.Exit(1)
	}

	k := kernel.New(kernel.Config{TickMs: cfg.Kernel.TickMs, StartNs: cfg.Kernel.StartNs}, logger)

	human := trader.New(cfg.Symbol, cash, logger)
	k.Register(human)

	ex := exchange.New(exchange.Config{
		Symbol:          cfg.Symbol,
		Depth:           cfg.Exchange.Depth,
		PipelineDelayMs: cfg.Exchange.PipelineDelayMs,
	}, logger)
	exID := k.Register(ex)

	k.SetLatency(latency.NewRPC(latency.RPCConfig{
		RPCUpMs:      cfg.Latency.RPCUpMs,
		RPCDownMs:    cfg.Latency.RPCDownMs,
		ComputeMs:    cfg.Latency.ComputeMs,
		DownJitterMs: cfg.Latency.DownJitterMs,
		Seed:         cfg.Latency.Seed,
	}, exID))

	var recorder *sink.Sink
	if cfg.Sink.Enabled {
		recorder, err = sink.Open(cfg.Sink.DataDir, logger)
		if err != nil {
			logger.Error("failed to open sink", "error", err)
			os.Exit(1)
		}
		recorder.Attach(k.Bus())
	}

	var gw *gateway.Server
	if cfg.Gateway.Enabled {
		gw = gateway.NewServer(gateway.Config{
			Port:           cfg.Gateway.Port,
			AllowedOrigins: cfg.Gateway.AllowedOrigins,
		}, k, human, cfg.Symbol, cfg.Exchange.Depth, logger)
		go func() {
			if err := gw.Start(); err != nil {
				logger.Error("gateway failed", "error", err)
			}
		}()
		logger.Info("gateway started", "url", fmt.Sprintf("http://localhost:%d", cfg.Gateway.Port))
	}

	if err := k.Start(cfg.Kernel.StartNs); err != nil {
		logger.Error("failed to start kernel", "error", err)
		os.Exit(1)
	}

	logger.Info("simulator started",
		"symbol", cfg.Symbol,
		"tick_ms", cfg.Kernel.TickMs,
		"seed", cfg.Latency.Seed,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if gw != nil {
		if err := gw.Stop(); err != nil {
			logger.Error("failed to stop gateway", "error", err)
		}
	}
	k.Stop()
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Error("failed to close sink", "error", err)
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

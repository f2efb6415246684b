// Package gateway exposes the running simulation over HTTP and
// WebSocket: REST order entry and book/ledger reads, plus a one-way
// event stream mirroring the kernel bus.
//
// The gateway runs on real threads while the kernel runs on virtual
// time; the bridge is kernel.Sync, which serializes every REST call
// with the tick loop. Bus handlers registered here only marshal the
// event and hand it to the hub's buffered channel, so the tick thread
// never blocks on a slow client.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"marketsim/internal/kernel"
	"marketsim/internal/trader"
)

// Server runs the HTTP/WebSocket gateway.
type Server struct {
	cfg      Config
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds the gateway around one kernel and one trader agent.
// Call Start after the kernel is running; bus subscriptions are
// installed here, before the tick loop begins.
func NewServer(cfg Config, k *kernel.Kernel, human *trader.Human, symbol string, depth int, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(k, human, symbol, depth, cfg.AllowedOrigins, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/book", handlers.HandleBook)
	mux.HandleFunc("GET /api/last", handlers.HandleLast)
	mux.HandleFunc("GET /api/orders", handlers.HandleOpenOrders)
	mux.HandleFunc("POST /api/orders", handlers.HandlePlaceOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.HandleCancelOrder)
	mux.HandleFunc("PATCH /api/orders/{id}", handlers.HandleModifyOrder)
	mux.HandleFunc("GET /api/balances", handlers.HandleBalances)
	mux.HandleFunc("/ws", handlers.HandleStream)

	s := &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "gateway"),
	}
	s.attachBus(k.Bus())
	return s
}

// attachBus mirrors kernel bus events onto the WebSocket stream.
func (s *Server) attachBus(bus *kernel.Bus) {
	bus.On(kernel.EventTrade, func(ev kernel.Event) {
		s.hub.Broadcast(StreamEvent{Type: "trade", At: ev.At, Data: ev.Trade})
	})
	bus.On(kernel.EventOrderLog, func(ev kernel.Event) {
		s.hub.Broadcast(StreamEvent{Type: "order_log", At: ev.OrderLog.At, Data: ev.OrderLog})
	})
	bus.On(kernel.EventOrderRejected, func(ev kernel.Event) {
		s.hub.Broadcast(StreamEvent{Type: "reject", At: ev.At, Data: ev.Reject})
	})
	bus.On(kernel.EventMarketData, func(ev kernel.Event) {
		s.hub.Broadcast(StreamEvent{Type: "market_data", At: ev.At, Data: ev.MarketData})
	})
	bus.On(kernel.EventOracleTick, func(ev kernel.Event) {
		s.hub.Broadcast(StreamEvent{Type: "oracle", At: ev.At, Data: ev.Oracle})
	})
}

// Start runs the hub and the HTTP listener. It blocks until Stop or a
// listener error.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("gateway listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Stop drains the HTTP server and shuts the hub down.
func (s *Server) Stop() error {
	s.logger.Info("stopping gateway")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.hub.Stop()
	return err
}

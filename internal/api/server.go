// Package api serves the exchange over HTTP and pushes snapshots over a
// websocket.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/exchange"
	"github.com/zappabad/tickreplay/internal/market"
	marketview "github.com/zappabad/tickreplay/internal/market/view"
)

// Exchange is the exchange surface served over HTTP.
type Exchange interface {
	Status() exchange.Status
	Start(ctx context.Context, req clock.StartRequest) (clock.Status, error)
	Pause(ctx context.Context) (clock.Status, error)
	Stop(ctx context.Context) (clock.Status, error)
	Step(ctx context.Context) (clock.Status, error)

	Stocks() []market.Stock
	Stock(symbol string) (market.Stock, error)
	SetStockEnabled(ctx context.Context, symbol string, enabled bool) (market.Stock, error)

	SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error)
	CreateBroker(ctx context.Context, nb broker.NewBroker) (broker.Broker, error)
	ListBrokers(ctx context.Context) ([]broker.Broker, error)
	Valuation(ctx context.Context, id string) (broker.Valuation, error)
	AdjustBalance(ctx context.Context, id string, amount decimal.Decimal) (broker.Broker, error)
	DeleteBroker(ctx context.Context, id string, liquidate bool) ([]broker.Order, error)
	Orders(ctx context.Context, id string, n int) ([]broker.Order, error)
	RecentOrders(n int) []broker.Order

	Subscribe() *marketview.Subscription[marketview.Snapshot]
	Unsubscribe(sub *marketview.Subscription[marketview.Snapshot])
	Latest() (marketview.Snapshot, bool)
}

var _ Exchange = (*exchange.Exchange)(nil)

// Server is the HTTP front end of one exchange.
type Server struct {
	cfg      Config
	ex       Exchange
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// closed ends every websocket stream on shutdown.
	closed chan struct{}
}

// NewServer creates a Server for ex.
func NewServer(cfg Config, ex Exchange, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg.withDefaults(),
		ex:       ex,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		closed:   make(chan struct{}),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/snapshots", s.handleSnapshotStream)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)

	mux.HandleFunc("GET /admin/status", s.handleStatus)
	mux.Handle("POST /admin/start", s.withAuth(http.HandlerFunc(s.handleStart)))
	mux.Handle("POST /admin/pause", s.withAuth(s.clockHandler(s.ex.Pause)))
	mux.Handle("POST /admin/stop", s.withAuth(s.clockHandler(s.ex.Stop)))
	mux.Handle("POST /admin/step", s.withAuth(s.clockHandler(s.ex.Step)))

	mux.HandleFunc("GET /stocks", s.handleStocks)
	mux.HandleFunc("GET /stocks/{symbol}", s.handleStock)
	mux.Handle("PUT /stocks/{symbol}/enabled", s.withAuth(http.HandlerFunc(s.handleStockEnabled)))

	mux.HandleFunc("GET /brokers", s.handleBrokers)
	mux.Handle("POST /brokers", s.withAuth(http.HandlerFunc(s.handleCreateBroker)))
	mux.HandleFunc("GET /brokers/{id}", s.handleBroker)
	mux.Handle("DELETE /brokers/{id}", s.withAuth(http.HandlerFunc(s.handleDeleteBroker)))
	mux.Handle("POST /brokers/{id}/balance", s.withAuth(http.HandlerFunc(s.handleAdjustBalance)))
	mux.HandleFunc("GET /brokers/{id}/orders", s.handleBrokerOrders)

	mux.HandleFunc("GET /orders", s.handleRecentOrders)
	mux.Handle("POST /orders", s.withAuth(http.HandlerFunc(s.handleOrder)))

	return s.withCORS(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	close(s.closed)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.cfg.AuthToken {
			writeJSON(w, http.StatusUnauthorized, &AppError{Kind: "Unauthorized", Message: "missing or invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

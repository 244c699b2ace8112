package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/zappabad/tickreplay/internal/api"
	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/date"
	"github.com/zappabad/tickreplay/internal/exchange"
	"github.com/zappabad/tickreplay/internal/market"
	"github.com/zappabad/tickreplay/internal/store/jsonfile"
)

func newTestClient(t *testing.T, token string) *Client {
	t.Helper()
	st, err := jsonfile.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := exchange.DefaultConfig()
	cfg.ClockConfig.TickInterval = time.Hour
	cfg.Stocks = []market.Stock{{Symbol: "AAPL", Enabled: true, History: market.History{
		{Date: date.MustParse("2024-01-02"), Open: decimal.NewFromInt(100)},
		{Date: date.MustParse("2024-01-03"), Open: decimal.NewFromInt(120)},
	}}}

	logger := zaptest.NewLogger(t)
	ex, err := exchange.NewExchange(context.Background(), cfg, exchange.Deps{Store: st, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.NewServer(api.Config{AuthToken: token}, ex, logger).Handler())
	t.Cleanup(func() {
		srv.Close()
		ex.Close()
	})

	c, err := New(srv.URL, token)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClientTrading(t *testing.T) {
	c := newTestClient(t, "tok")
	ctx := context.Background()

	if _, err := c.CreateBroker(ctx, broker.NewBroker{ID: "alice", Balance: decimal.NewFromInt(1000)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := c.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "alice", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NewBalance.Equal(decimal.NewFromInt(700)) {
		t.Errorf("expected 700, got %s", res.NewBalance)
	}

	_, err = c.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "alice", Symbol: "AAPL", Side: broker.SideSell, Quantity: 4})
	var appErr *api.AppError
	if !errors.As(err, &appErr) || appErr.Kind != "InsufficientHoldings" || appErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected InsufficientHoldings, got %v", err)
	}

	if _, err := c.Start(ctx, api.StartRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st, err := c.Step(ctx); err != nil || st.CurrentDate != date.MustParse("2024-01-03") {
		t.Fatalf("unexpected step %+v %v", st, err)
	}

	v, err := c.Broker(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Equity.Equal(decimal.NewFromInt(1060)) {
		t.Errorf("expected equity 1060, got %s", v.Equity)
	}

	orders, err := c.Orders(ctx, "alice", 10)
	if err != nil || len(orders) != 1 {
		t.Errorf("expected 1 order, got %d %v", len(orders), err)
	}

	recent, err := c.RecentOrders(ctx, 10)
	if err != nil || len(recent) != 1 || recent[0].BrokerID != "alice" {
		t.Errorf("expected alice's order on the recent tape, got %+v %v", recent, err)
	}

	status, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Clock.State != clock.StateRunning || status.Brokers != 1 {
		t.Errorf("unexpected status %+v", status)
	}

	del, err := c.DeleteBroker(ctx, "alice", true)
	if err != nil || len(del.Liquidation) != 1 {
		t.Errorf("unexpected delete %+v %v", del, err)
	}
}

func TestClientSubscribe(t *testing.T) {
	c := newTestClient(t, "")
	ctx, cancel := context.WithCancel(context.Background())

	snaps, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case snap := <-snaps:
		if !snap.Prices["AAPL"].Equal(decimal.NewFromInt(100)) {
			t.Errorf("unexpected prices %v", snap.Prices)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
	}

	if _, err := c.SetStockEnabled(ctx, "AAPL", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case snap := <-snaps:
		if len(snap.Prices) != 0 {
			t.Errorf("expected no prices, got %v", snap.Prices)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after disable")
	}

	cancel()
	for range snaps {
	}
}

func TestNewRejectsScheme(t *testing.T) {
	if _, err := New("ftp://example.com", ""); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

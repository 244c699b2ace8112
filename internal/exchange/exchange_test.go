package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/date"
	"github.com/zappabad/tickreplay/internal/market"
	"github.com/zappabad/tickreplay/internal/store/jsonfile"
)

func testStocks() []market.Stock {
	d := date.MustParse
	return []market.Stock{
		{Symbol: "AAPL", Name: "Apple", Enabled: true, History: market.History{
			{Date: d("2024-01-02"), Open: decimal.NewFromInt(100)},
			{Date: d("2024-01-03"), Open: decimal.NewFromInt(110)},
		}},
		{Symbol: "MSFT", Name: "Microsoft", Enabled: true, History: market.History{
			{Date: d("2024-01-02"), Open: decimal.NewFromInt(50)},
			{Date: d("2024-01-04"), Open: decimal.NewFromInt(60)},
		}},
	}
}

type recordingAudit struct {
	mu     sync.Mutex
	orders []broker.Order
	clocks []clock.Status
}

func (r *recordingAudit) PublishOrder(_ context.Context, o broker.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, o)
}

func (r *recordingAudit) PublishClock(_ context.Context, st clock.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clocks = append(r.clocks, st)
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Stocks = testStocks()
	// Ticks are driven by Step.
	cfg.ClockConfig.TickInterval = time.Hour
	return cfg
}

func openExchange(t *testing.T, dir string, cfg Config, pub *recordingAudit) *Exchange {
	t.Helper()
	st, err := jsonfile.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	deps := Deps{Store: st, Logger: zaptest.NewLogger(t)}
	if pub != nil {
		deps.Audit = pub
	}
	ex, err := NewExchange(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}
	return ex
}

func TestBuyIsPersisted(t *testing.T) {
	dir := t.TempDir()
	pub := &recordingAudit{}
	ex := openExchange(t, dir, testConfig(), pub)
	ctx := context.Background()

	if _, err := ex.CreateBroker(ctx, broker.NewBroker{ID: "alice", Balance: decimal.NewFromInt(10000)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := ex.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "alice", Symbol: "aapl", Side: broker.SideBuy, Quantity: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NewBalance.Equal(decimal.NewFromInt(5000)) || res.NewHoldings["AAPL"] != 50 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Date != date.MustParse("2024-01-02") {
		t.Errorf("expected order on 2024-01-02, got %s", res.Date)
	}

	_, err = ex.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "alice", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 60})
	if !errors.Is(err, broker.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	ex.Close()

	if pub.orderCount() != 1 {
		t.Errorf("expected 1 audited order, got %d", pub.orderCount())
	}

	st, err := jsonfile.Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	brokers, err := st.LoadBrokers(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(brokers) != 1 || !brokers[0].Balance.Equal(decimal.NewFromInt(5000)) || brokers[0].Holdings["AAPL"] != 50 {
		t.Fatalf("unexpected saved brokers %+v", brokers)
	}
	orders, err := st.Orders(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != res.OrderID {
		t.Errorf("expected order %s in log, got %+v", res.OrderID, orders)
	}
}

func TestDisabledSymbolLeavesSnapshot(t *testing.T) {
	ex := openExchange(t, t.TempDir(), testConfig(), nil)
	defer ex.Close()
	ctx := context.Background()

	if _, err := ex.CreateBroker(ctx, broker.NewBroker{ID: "bob", Balance: decimal.NewFromInt(1000)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub := ex.Subscribe()
	defer ex.Unsubscribe(sub)

	if _, err := ex.SetStockEnabled(ctx, "AAPL", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := ex.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "bob", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 1})
	if !errors.Is(err, broker.ErrSymbolDisabled) {
		t.Fatalf("expected ErrSymbolDisabled, got %v", err)
	}

	timeout := time.After(time.Second)
	for {
		select {
		case snap := <-sub.C():
			if _, ok := snap.Prices["AAPL"]; ok {
				continue
			}
			if _, ok := snap.Prices["MSFT"]; !ok {
				t.Fatalf("expected MSFT in snapshot %+v", snap)
			}
			return
		case <-timeout:
			t.Fatal("timed out waiting for a snapshot without AAPL")
		}
	}
}

func TestUnknownSymbolIsUnpriced(t *testing.T) {
	ex := openExchange(t, t.TempDir(), testConfig(), nil)
	defer ex.Close()

	if _, err := ex.Quote("TSLA"); !errors.Is(err, broker.ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestStepRevaluesHoldings(t *testing.T) {
	ex := openExchange(t, t.TempDir(), testConfig(), nil)
	defer ex.Close()
	ctx := context.Background()

	ex.CreateBroker(ctx, broker.NewBroker{ID: "carol", Balance: decimal.NewFromInt(1000)})
	if _, err := ex.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "carol", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ex.Start(ctx, clock.StartRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, err := ex.Step(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.CurrentDate != date.MustParse("2024-01-03") {
		t.Fatalf("expected 2024-01-03, got %s", st.CurrentDate)
	}

	v, err := ex.Valuation(ctx, "carol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v.Positions) != 1 || !v.Positions[0].UnrealizedPL.Equal(decimal.NewFromInt(50)) {
		t.Errorf("unexpected positions %+v", v.Positions)
	}
	if !v.Equity.Equal(decimal.NewFromInt(1050)) {
		t.Errorf("expected equity 1050, got %s", v.Equity)
	}
}

func TestResumeOnBoot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ex := openExchange(t, dir, testConfig(), nil)
	if _, err := ex.Start(ctx, clock.StartRequest{StartDate: date.MustParse("2024-01-03")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ex.Close()

	ex = openExchange(t, dir, testConfig(), nil)
	st := ex.Status()
	ex.Close()
	if st.Clock.State != clock.StateRunning || st.Clock.CurrentDate != date.MustParse("2024-01-03") {
		t.Errorf("expected running from 2024-01-03, got %s at %s", st.Clock.State, st.Clock.CurrentDate)
	}
	if st.Stocks != 2 {
		t.Errorf("expected 2 stocks, got %d", st.Stocks)
	}

	cfg := testConfig()
	cfg.ResumeOnBoot = false
	ex = openExchange(t, dir, cfg, nil)
	defer ex.Close()
	if got := ex.Status().Clock.State; got != clock.StateStopped {
		t.Errorf("expected stopped without resume, got %s", got)
	}
}

func TestDeleteBrokerLiquidates(t *testing.T) {
	dir := t.TempDir()
	ex := openExchange(t, dir, testConfig(), nil)
	ctx := context.Background()

	ex.CreateBroker(ctx, broker.NewBroker{ID: "dave", Balance: decimal.NewFromInt(1000)})
	ex.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "dave", Symbol: "MSFT", Side: broker.SideBuy, Quantity: 4})

	if _, err := ex.DeleteBroker(ctx, "dave", false); !errors.Is(err, broker.ErrHoldingsNotEmpty) {
		t.Fatalf("expected ErrHoldingsNotEmpty, got %v", err)
	}
	orders, err := ex.DeleteBroker(ctx, "dave", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 || orders[0].Side != broker.SideSell || orders[0].Quantity != 4 {
		t.Fatalf("unexpected liquidation %+v", orders)
	}
	ex.Close()

	st, _ := jsonfile.Open(dir)
	if brokers, _ := st.LoadBrokers(ctx); len(brokers) != 0 {
		t.Errorf("expected broker record removed, got %+v", brokers)
	}
}

type memoryArchive struct {
	mu     sync.Mutex
	orders []broker.Order
}

func (a *memoryArchive) AppendOrder(_ context.Context, o broker.Order) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, have := range a.orders {
		if have.ID == o.ID {
			return nil
		}
	}
	a.orders = append(a.orders, o)
	return nil
}

func (a *memoryArchive) OrdersByBroker(_ context.Context, brokerID string, limit int) ([]broker.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []broker.Order
	for i := len(a.orders) - 1; i >= 0 && len(out) < limit; i-- {
		if a.orders[i].BrokerID == brokerID {
			out = append(out, a.orders[i])
		}
	}
	return out, nil
}

func TestOrdersReadsArchivedHistory(t *testing.T) {
	archive := &memoryArchive{orders: []broker.Order{
		{ID: "old-1", BrokerID: "alice", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 1, Price: decimal.NewFromInt(90)},
		{ID: "other", BrokerID: "bob", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 1, Price: decimal.NewFromInt(90)},
		{ID: "old-2", BrokerID: "alice", Symbol: "MSFT", Side: broker.SideBuy, Quantity: 2, Price: decimal.NewFromInt(45)},
	}}
	st, err := jsonfile.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ex, err := NewExchange(context.Background(), testConfig(), Deps{Store: st, Archive: archive, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}
	defer ex.Close()
	ctx := context.Background()

	if _, err := ex.CreateBroker(ctx, broker.NewBroker{ID: "alice", Balance: decimal.NewFromInt(1000)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := ex.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "alice", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	orders, err := ex.Orders(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 3 || orders[0].ID != "old-1" || orders[1].ID != "old-2" || orders[2].ID != res.OrderID {
		t.Fatalf("expected old-1, old-2, %s; got %+v", res.OrderID, orders)
	}

	orders, err = ex.Orders(ctx, "alice", 2)
	if err != nil || len(orders) != 2 || orders[0].ID != "old-2" || orders[1].ID != res.OrderID {
		t.Errorf("expected the two latest orders, got %+v %v", orders, err)
	}

	orders, err = ex.Orders(ctx, "alice", 1)
	if err != nil || len(orders) != 1 || orders[0].ID != res.OrderID {
		t.Errorf("expected only the tape order, got %+v %v", orders, err)
	}

	if _, err := ex.Orders(ctx, "bob", 10); !errors.Is(err, broker.ErrUnknownBroker) {
		t.Errorf("expected ErrUnknownBroker for an archived-only broker, got %v", err)
	}

	recent := ex.RecentOrders(10)
	if len(recent) != 1 || recent[0].ID != res.OrderID {
		t.Errorf("expected only the live order on the tape, got %+v", recent)
	}
}

func TestMergeOrdersSkipsDuplicates(t *testing.T) {
	o := func(id string) broker.Order { return broker.Order{ID: id} }
	archived := []broker.Order{o("c"), o("b"), o("a")}
	recent := []broker.Order{o("c"), o("d")}

	got := mergeOrders(archived, recent, 10)
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %+v", want, got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}

	if got := mergeOrders(archived, recent, 3); len(got) != 3 || got[0].ID != "b" {
		t.Errorf("expected the last three orders, got %+v", got)
	}
}

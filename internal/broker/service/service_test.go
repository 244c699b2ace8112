package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/date"
)

type fakePricer struct {
	mu       sync.Mutex
	prices   map[string]decimal.Decimal
	disabled map[string]bool
	calls    atomic.Int64
}

func newFakePricer(prices map[string]int64) *fakePricer {
	p := &fakePricer{prices: map[string]decimal.Decimal{}, disabled: map[string]bool{}}
	for sym, v := range prices {
		p.prices[sym] = decimal.NewFromInt(v)
	}
	return p
}

func (p *fakePricer) Quote(symbol string) (broker.Quote, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disabled[symbol] {
		return broker.Quote{}, fmt.Errorf("%w: %s", broker.ErrSymbolDisabled, symbol)
	}
	price, ok := p.prices[symbol]
	if !ok {
		return broker.Quote{}, fmt.Errorf("%w: %s", broker.ErrPriceUnavailable, symbol)
	}
	return broker.Quote{Symbol: symbol, Price: price, Date: date.MustParse("2024-01-02")}, nil
}

func (p *fakePricer) disable(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled[symbol] = true
}

type fakeSink struct {
	mu      sync.Mutex
	saved   map[string]broker.Broker
	deleted []string
	orders  []broker.Order
}

func newFakeSink() *fakeSink { return &fakeSink{saved: map[string]broker.Broker{}} }

func (s *fakeSink) BrokerChanged(b broker.Broker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[b.ID] = b
}

func (s *fakeSink) BrokerDeleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, id)
	s.deleted = append(s.deleted, id)
}

func (s *fakeSink) OrderExecuted(o broker.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
}

func newTestService(t *testing.T, pricer Pricer, sink Sink, brokers ...broker.Broker) *BrokerService {
	t.Helper()
	svc, err := NewBrokerService(DefaultConfig(), brokers, pricer, sink, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

func TestSubmitOrderBuyAndInsufficientFunds(t *testing.T) {
	sink := newFakeSink()
	svc := newTestService(t, newFakePricer(map[string]int64{"AAPL": 100}), sink,
		broker.Broker{ID: "b1", Balance: decimal.NewFromInt(10000)})
	defer svc.Close()

	ctx := context.Background()

	res, err := svc.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "b1", Symbol: "aapl", Side: broker.SideBuy, Quantity: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NewBalance.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("expected balance 5000, got %s", res.NewBalance)
	}
	if res.NewHoldings["AAPL"] != 50 {
		t.Errorf("expected 50 AAPL, got %d", res.NewHoldings["AAPL"])
	}
	if !res.Price.Equal(decimal.NewFromInt(100)) || res.OrderID == "" {
		t.Errorf("unexpected result %+v", res)
	}

	_, err = svc.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "b1", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 60})
	if !errors.Is(err, broker.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	b, err := svc.Broker(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Balance.Equal(decimal.NewFromInt(5000)) || b.Holdings["AAPL"] != 50 {
		t.Errorf("rejected order changed state: %+v", b)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.orders) != 1 {
		t.Errorf("expected 1 recorded order, got %d", len(sink.orders))
	}
	if saved := sink.saved["b1"]; saved.Holdings["AAPL"] != 50 {
		t.Errorf("expected persisted broker with 50 AAPL, got %+v", saved)
	}
}

func TestSubmitOrderRejections(t *testing.T) {
	pricer := newFakePricer(map[string]int64{"AAPL": 100})
	svc := newTestService(t, pricer, newFakeSink(),
		broker.Broker{ID: "b1", Balance: decimal.NewFromInt(1000)})
	defer svc.Close()

	ctx := context.Background()

	pricer.disable("AAPL")
	_, err := svc.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "b1", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 1})
	if !errors.Is(err, broker.ErrSymbolDisabled) {
		t.Errorf("expected ErrSymbolDisabled, got %v", err)
	}

	_, err = svc.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "b1", Symbol: "TSLA", Side: broker.SideBuy, Quantity: 1})
	if !errors.Is(err, broker.ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}

	_, err = svc.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "b1", Symbol: "TSLA", Side: broker.SideSell, Quantity: 0})
	if !errors.Is(err, broker.ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got %v", err)
	}

	_, err = svc.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "nobody", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 1})
	if !errors.Is(err, broker.ErrUnknownBroker) {
		t.Errorf("expected ErrUnknownBroker, got %v", err)
	}
}

func TestConcurrentOrdersSameBroker(t *testing.T) {
	pricer := newFakePricer(map[string]int64{"AAPL": 10})
	svc := newTestService(t, pricer, newFakeSink(),
		broker.Broker{ID: "b1", Balance: decimal.NewFromInt(500)},
		broker.Broker{ID: "b2", Balance: decimal.NewFromInt(500)})
	defer svc.Close()

	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "b1"
			if i%2 == 1 {
				id = "b2"
			}
			_, err := svc.SubmitOrder(ctx, broker.OrderRequest{BrokerID: id, Symbol: "AAPL", Side: broker.SideBuy, Quantity: 1})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, broker.ErrInsufficientFunds):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded.Load() != 100 || rejected.Load() != 100 {
		t.Errorf("expected 100/100, got %d/%d", succeeded.Load(), rejected.Load())
	}
	// One quote per submitted order.
	if pricer.calls.Load() != 200 {
		t.Errorf("expected 200 quotes, got %d", pricer.calls.Load())
	}

	brokers, err := svc.Brokers(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, b := range brokers {
		if !b.Balance.IsZero() || b.Holdings["AAPL"] != 50 {
			t.Errorf("unexpected final state %+v", b)
		}
	}
}

func TestCreateAndAdjustBroker(t *testing.T) {
	sink := newFakeSink()
	svc := newTestService(t, newFakePricer(nil), sink)
	defer svc.Close()

	ctx := context.Background()

	b, err := svc.CreateBroker(ctx, broker.NewBroker{Name: "Alice", Balance: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ID == "" || b.Name != "Alice" {
		t.Errorf("unexpected broker %+v", b)
	}

	_, err = svc.CreateBroker(ctx, broker.NewBroker{ID: b.ID})
	if !errors.Is(err, broker.ErrBrokerExists) {
		t.Errorf("expected ErrBrokerExists, got %v", err)
	}
	_, err = svc.CreateBroker(ctx, broker.NewBroker{ID: "neg", Balance: decimal.NewFromInt(-1)})
	if !errors.Is(err, broker.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}

	b, err = svc.AdjustBalance(ctx, b.ID, decimal.NewFromInt(50))
	if err != nil || !b.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected balance 150, got %s %v", b.Balance, err)
	}
	b, err = svc.AdjustBalance(ctx, b.ID, decimal.NewFromInt(-200))
	if !errors.Is(err, broker.ErrInsufficientFunds) || !b.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected rejected withdrawal, got %s %v", b.Balance, err)
	}

	if svc.Count() != 1 {
		t.Errorf("expected 1 broker, got %d", svc.Count())
	}
}

func TestDeleteBroker(t *testing.T) {
	pricer := newFakePricer(map[string]int64{"AAPL": 100, "MSFT": 200})
	sink := newFakeSink()
	svc := newTestService(t, pricer, sink, broker.Broker{
		ID:        "b1",
		Balance:   decimal.NewFromInt(0),
		Holdings:  map[string]int64{"AAPL": 2, "MSFT": 1},
		CostBasis: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(50), "MSFT": decimal.NewFromInt(100)},
	})
	defer svc.Close()

	ctx := context.Background()

	_, err := svc.DeleteBroker(ctx, "b1", false)
	if !errors.Is(err, broker.ErrHoldingsNotEmpty) {
		t.Fatalf("expected ErrHoldingsNotEmpty, got %v", err)
	}

	pricer.disable("MSFT")
	_, err = svc.DeleteBroker(ctx, "b1", true)
	if !errors.Is(err, broker.ErrSymbolDisabled) {
		t.Fatalf("expected ErrSymbolDisabled, got %v", err)
	}
	if b, _ := svc.Broker(ctx, "b1"); b.Holdings["AAPL"] != 2 {
		t.Fatalf("failed liquidation changed holdings: %+v", b)
	}

	pricer.mu.Lock()
	delete(pricer.disabled, "MSFT")
	pricer.mu.Unlock()

	orders, err := svc.DeleteBroker(ctx, "b1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 2 || orders[0].Symbol != "AAPL" || orders[0].Side != broker.SideSell {
		t.Errorf("unexpected liquidation orders %+v", orders)
	}

	_, err = svc.Broker(ctx, "b1")
	if !errors.Is(err, broker.ErrUnknownBroker) {
		t.Errorf("expected ErrUnknownBroker after delete, got %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.deleted) != 1 || sink.deleted[0] != "b1" {
		t.Errorf("expected b1 deleted in sink, got %v", sink.deleted)
	}
}

func TestDeleteBrokerIgnoresEmptyHoldings(t *testing.T) {
	pricer := newFakePricer(map[string]int64{"AAPL": 100, "MSFT": 200})
	sink := newFakeSink()
	svc := newTestService(t, pricer, sink, broker.Broker{
		ID:        "b1",
		Balance:   decimal.NewFromInt(0),
		Holdings:  map[string]int64{"AAPL": 5, "MSFT": 0},
		CostBasis: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(90), "MSFT": decimal.NewFromInt(150)},
	})
	defer svc.Close()

	ctx := context.Background()

	b, err := svc.Broker(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := b.Holdings["MSFT"]; ok {
		t.Errorf("expected zero holding dropped on load, got %+v", b.Holdings)
	}
	if _, ok := b.CostBasis["MSFT"]; ok {
		t.Errorf("expected zero holding cost basis dropped, got %+v", b.CostBasis)
	}

	orders, err := svc.DeleteBroker(ctx, "b1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 || orders[0].Symbol != "AAPL" || orders[0].Quantity != 5 {
		t.Errorf("unexpected liquidation orders %+v", orders)
	}
	if _, err := svc.Broker(ctx, "b1"); !errors.Is(err, broker.ErrUnknownBroker) {
		t.Errorf("expected ErrUnknownBroker after delete, got %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.orders) != 1 || len(sink.deleted) != 1 {
		t.Errorf("expected 1 order and 1 delete in sink, got %d and %v", len(sink.orders), sink.deleted)
	}
}

func TestFailedLiquidationRecordsNothing(t *testing.T) {
	pricer := newFakePricer(map[string]int64{"AAPL": 100, "MSFT": 200})
	sink := newFakeSink()
	svc := newTestService(t, pricer, sink, broker.Broker{
		ID:       "b1",
		Balance:  decimal.NewFromInt(0),
		Holdings: map[string]int64{"AAPL": 2, "MSFT": 1},
	})
	defer svc.Close()

	ctx := context.Background()

	pricer.disable("MSFT")
	if _, err := svc.DeleteBroker(ctx, "b1", true); err == nil {
		t.Fatal("expected liquidation to fail")
	}

	b, err := svc.Broker(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Balance.IsZero() || b.Holdings["AAPL"] != 2 || b.Holdings["MSFT"] != 1 {
		t.Errorf("failed liquidation changed broker: %+v", b)
	}
	if got := svc.RecentOrders(10); len(got) != 0 {
		t.Errorf("expected no orders on the tape, got %+v", got)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.orders) != 0 || len(sink.deleted) != 0 {
		t.Errorf("expected sink untouched, got orders=%d deleted=%v", len(sink.orders), sink.deleted)
	}
}

func TestOrdersTape(t *testing.T) {
	svc := newTestService(t, newFakePricer(map[string]int64{"AAPL": 1}), newFakeSink(),
		broker.Broker{ID: "b1", Balance: decimal.NewFromInt(10)})
	defer svc.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.SubmitOrder(ctx, broker.OrderRequest{BrokerID: "b1", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	orders, err := svc.Orders("b1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if len(svc.RecentOrders(0)) != 3 {
		t.Errorf("expected 3 recent orders, got %d", len(svc.RecentOrders(0)))
	}
	if _, err := svc.Orders("nobody", 1); !errors.Is(err, broker.ErrUnknownBroker) {
		t.Errorf("expected ErrUnknownBroker, got %v", err)
	}
}

func TestNewBrokerServiceRejectsInvalidLoad(t *testing.T) {
	_, err := NewBrokerService(DefaultConfig(), []broker.Broker{{ID: "b1", Balance: decimal.NewFromInt(-1)}}, newFakePricer(nil), newFakeSink(), nil)
	if err == nil {
		t.Error("expected error for negative balance")
	}
}

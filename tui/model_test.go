package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"github.com/zappabad/tickreplay/internal/api"
	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/date"
	marketview "github.com/zappabad/tickreplay/internal/market/view"
	"github.com/zappabad/tickreplay/tui/panels"
)

type fakeBackend struct {
	calls    []string
	orders   []broker.OrderRequest
	orderErr error
}

func (f *fakeBackend) Broker(ctx context.Context, id string) (broker.Valuation, error) {
	f.calls = append(f.calls, "broker")
	return broker.Valuation{Broker: broker.Broker{ID: id, Name: "demo", Balance: decimal.NewFromInt(1000)}, Equity: decimal.NewFromInt(1000)}, nil
}

func (f *fakeBackend) Orders(ctx context.Context, id string, limit int) ([]broker.Order, error) {
	f.calls = append(f.calls, "orders")
	return nil, nil
}

func (f *fakeBackend) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	f.orders = append(f.orders, req)
	if f.orderErr != nil {
		return broker.OrderResult{}, f.orderErr
	}
	return broker.OrderResult{Price: decimal.NewFromInt(100), Date: date.MustParse("2024-01-02")}, nil
}

func (f *fakeBackend) Start(ctx context.Context, req api.StartRequest) (clock.Status, error) {
	f.calls = append(f.calls, "start")
	return clock.Status{State: clock.StateRunning}, nil
}

func (f *fakeBackend) Pause(ctx context.Context) (clock.Status, error) {
	f.calls = append(f.calls, "pause")
	return clock.Status{State: clock.StatePaused}, nil
}

func (f *fakeBackend) Stop(ctx context.Context) (clock.Status, error) {
	f.calls = append(f.calls, "stop")
	return clock.Status{State: clock.StateStopped}, nil
}

func (f *fakeBackend) Step(ctx context.Context) (clock.Status, error) {
	f.calls = append(f.calls, "step")
	return clock.Status{State: clock.StatePaused}, nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func snapshot(state clock.State) marketview.Snapshot {
	return marketview.Snapshot{
		State:       state,
		CurrentDate: date.MustParse("2024-01-02"),
		Prices:      map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100), "MSFT": decimal.NewFromInt(50)},
	}
}

func TestSnapshotRelistensAndRevalues(t *testing.T) {
	snaps := make(chan marketview.Snapshot, 1)
	be := &fakeBackend{}
	m := NewModel(be, snaps, "b1", "USD")

	_, cmd := m.Update(panels.SnapshotMsg{Snapshot: snapshot(clock.StateRunning)})
	if cmd == nil {
		t.Fatal("expected follow-up commands")
	}
	if got := m.marketPanel.Snapshot().CurrentDate; got != date.MustParse("2024-01-02") {
		t.Errorf("expected snapshot applied, got %s", got)
	}

	close(snaps)
	if _, ok := m.listenSnapshots()().(streamClosedMsg); !ok {
		t.Error("expected streamClosedMsg on closed channel")
	}
	m.Update(streamClosedMsg{})
	if m.connected {
		t.Error("expected model offline after stream closed")
	}
}

func TestClockShortcuts(t *testing.T) {
	be := &fakeBackend{}
	m := NewModel(be, nil, "b1", "USD")

	// Shortcuts are ignored while the order form has focus.
	m.Update(key("x"))
	if m.focusedPanel != FocusOrderInput || m.orderInputPanel.Symbol() != "x" {
		t.Fatal("expected key typed into the order form")
	}

	m.Update(key("tab"))
	if m.focusedPanel != FocusMarket {
		t.Fatalf("expected market focus, got %d", m.focusedPanel)
	}

	run := func(k string) tea.Msg {
		_, cmd := m.Update(key(k))
		if cmd == nil {
			t.Fatalf("expected command for %q", k)
		}
		return cmd()
	}

	run(" ")
	m.Update(panels.SnapshotMsg{Snapshot: snapshot(clock.StateRunning)})
	run(" ")
	run("n")
	if msg, ok := run("x").(clockMsg); !ok || msg.status.State != clock.StateStopped {
		t.Errorf("expected stopped clockMsg, got %#v", msg)
	}

	want := []string{"start", "pause", "step", "stop"}
	if strings.Join(be.calls, ",") != strings.Join(want, ",") {
		t.Errorf("expected calls %v, got %v", want, be.calls)
	}
}

func TestSubmitOrder(t *testing.T) {
	be := &fakeBackend{}
	m := NewModel(be, nil, "b1", "USD")

	msg := m.submitOrder(panels.OrderSubmitMsg{Symbol: "AAPL", Side: broker.SideBuy, Quantity: 3})()
	res, ok := msg.(orderResultMsg)
	if !ok || !res.ok {
		t.Fatalf("expected successful result, got %#v", msg)
	}
	if len(be.orders) != 1 || be.orders[0].BrokerID != "b1" || be.orders[0].Quantity != 3 {
		t.Errorf("unexpected order request %+v", be.orders)
	}

	be.orderErr = errors.New("insufficient funds")
	res = m.submitOrder(panels.OrderSubmitMsg{Symbol: "AAPL", Side: broker.SideBuy, Quantity: 3})().(orderResultMsg)
	if res.ok || !strings.Contains(res.message, "insufficient funds") {
		t.Errorf("expected failure message, got %#v", res)
	}

	m.Update(res)
	if m.statusMsg != res.message {
		t.Errorf("expected status %q, got %q", res.message, m.statusMsg)
	}
}

func TestViewRendersPanels(t *testing.T) {
	m := NewModel(&fakeBackend{}, nil, "b1", "USD")
	if m.View() != "Initializing..." {
		t.Fatal("expected placeholder before first resize")
	}

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m.Update(panels.SnapshotMsg{Snapshot: snapshot(clock.StatePaused)})
	m.Update(panels.ValuationMsg{Valuation: broker.Valuation{Broker: broker.Broker{Name: "demo"}}})

	view := m.View()
	for _, want := range []string{"Market", "Portfolio", "Order Entry", "AAPL", "demo"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
}

package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zappabad/tickreplay/internal/api"
	"github.com/zappabad/tickreplay/internal/api/client"
	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	marketview "github.com/zappabad/tickreplay/internal/market/view"
	"github.com/zappabad/tickreplay/tui/panels"
	"github.com/zappabad/tickreplay/tui/styles"
)

const requestTimeout = 5 * time.Second

// Backend is the part of the exchange API the terminal uses.
type Backend interface {
	Broker(ctx context.Context, id string) (broker.Valuation, error)
	Orders(ctx context.Context, id string, limit int) ([]broker.Order, error)
	SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error)
	Start(ctx context.Context, req api.StartRequest) (clock.Status, error)
	Pause(ctx context.Context) (clock.Status, error)
	Stop(ctx context.Context) (clock.Status, error)
	Step(ctx context.Context) (clock.Status, error)
}

var _ Backend = (*client.Client)(nil)

// PanelFocus represents which panel is currently focused.
type PanelFocus int

const (
	FocusMarket PanelFocus = iota
	FocusPortfolio
	FocusOrderInput

	panelCount = 3
)

// Model is the main TUI application model.
type Model struct {
	backend   Backend
	snapshots <-chan marketview.Snapshot
	brokerID  string

	marketPanel     *panels.MarketPanel
	portfolioPanel  *panels.PortfolioPanel
	orderInputPanel *panels.OrderInputPanel

	focusedPanel PanelFocus

	width  int
	height int

	statusMsg string
	connected bool
	ready     bool
}

// NewModel creates a terminal for brokerID. snapshots is typically the
// channel returned by client.Subscribe.
func NewModel(backend Backend, snapshots <-chan marketview.Snapshot, brokerID, currency string) *Model {
	m := &Model{
		backend:         backend,
		snapshots:       snapshots,
		brokerID:        brokerID,
		marketPanel:     panels.NewMarketPanel(),
		portfolioPanel:  panels.NewPortfolioPanel(currency),
		orderInputPanel: panels.NewOrderInputPanel(),
		connected:       true,
	}
	m.setFocus(FocusOrderInput)
	return m
}

type (
	streamClosedMsg struct{}

	ordersMsg struct {
		orders []broker.Order
	}

	orderResultMsg struct {
		message string
		ok      bool
	}

	clockMsg struct {
		status clock.Status
	}

	errMsg struct {
		op  string
		err error
	}
)

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.marketPanel.Init(),
		m.portfolioPanel.Init(),
		m.orderInputPanel.Init(),
		m.listenSnapshots(),
		m.fetchValuation(),
		m.fetchOrders(),
	)
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "tab":
			m.setFocus((m.focusedPanel + 1) % panelCount)
			return m, nil

		case "shift+tab":
			m.setFocus((m.focusedPanel + panelCount - 1) % panelCount)
			return m, nil
		}

		// Letter shortcuts only apply outside the order form.
		if m.focusedPanel != FocusOrderInput {
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case " ":
				return m, m.toggleRun()
			case "n":
				return m, m.clockCmd("step", m.backend.Step)
			case "x":
				return m, m.clockCmd("stop", m.backend.Stop)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case panels.SnapshotMsg:
		m.handleSnapshot(msg.Snapshot)
		cmds = append(cmds, m.listenSnapshots(), m.fetchValuation())

	case streamClosedMsg:
		m.connected = false
		m.statusMsg = "snapshot stream closed"

	case panels.ValuationMsg:
		m.portfolioPanel.SetValuation(msg.Valuation)

	case ordersMsg:
		m.portfolioPanel.SetOrders(msg.orders)

	case panels.SymbolSelectedMsg:
		m.orderInputPanel.SetSymbol(msg.Symbol)
		m.setFocus(FocusOrderInput)

	case panels.OrderSubmitMsg:
		cmds = append(cmds, m.submitOrder(msg))

	case orderResultMsg:
		m.statusMsg = msg.message
		if msg.ok {
			m.orderInputPanel.Reset()
			cmds = append(cmds, m.fetchValuation(), m.fetchOrders())
		}

	case clockMsg:
		m.statusMsg = fmt.Sprintf("clock %s on %s", msg.status.State, msg.status.CurrentDate)

	case errMsg:
		m.statusMsg = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
	}

	m.updateFocusedPanel(msg, &cmds)

	return m, tea.Batch(cmds...)
}

func (m *Model) updateFocusedPanel(msg tea.Msg, cmds *[]tea.Cmd) {
	var cmd tea.Cmd

	switch m.focusedPanel {
	case FocusMarket:
		m.marketPanel, cmd = m.marketPanel.Update(msg)
	case FocusPortfolio:
		m.portfolioPanel, cmd = m.portfolioPanel.Update(msg)
	case FocusOrderInput:
		m.orderInputPanel, cmd = m.orderInputPanel.Update(msg)
	}

	if cmd != nil {
		*cmds = append(*cmds, cmd)
	}
}

// View renders the UI.
func (m *Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	// Layout:
	// ┌──────────────┬──────────────────────┐
	// │    Market    │      Portfolio       │
	// │              ├──────────────────────┤
	// │              │     Order Entry      │
	// └──────────────┴──────────────────────┘
	leftWidth := m.width * 2 / 5
	rightWidth := m.width - leftWidth

	bodyHeight := m.height - 1
	topHeight := bodyHeight / 2
	bottomHeight := bodyHeight - topHeight

	m.marketPanel.SetSize(leftWidth, bodyHeight)
	m.portfolioPanel.SetSize(rightWidth, topHeight)
	m.orderInputPanel.SetSize(rightWidth, bottomHeight)

	right := lipgloss.JoinVertical(lipgloss.Left,
		m.portfolioPanel.View(),
		m.orderInputPanel.View(),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.marketPanel.View(), right)

	return lipgloss.JoinVertical(lipgloss.Left, body, m.renderStatusBar())
}

func (m *Model) renderStatusBar() string {
	help := []string{
		styles.StatusBarKeyStyle.Render("Tab") + styles.StatusBarDescStyle.Render(" panels"),
		styles.StatusBarKeyStyle.Render("Space") + styles.StatusBarDescStyle.Render(" run/pause"),
		styles.StatusBarKeyStyle.Render("n") + styles.StatusBarDescStyle.Render(" step"),
		styles.StatusBarKeyStyle.Render("x") + styles.StatusBarDescStyle.Render(" stop"),
		styles.StatusBarKeyStyle.Render("q") + styles.StatusBarDescStyle.Render(" quit"),
	}

	helpStr := help[0]
	for _, h := range help[1:] {
		helpStr += " │ " + h
	}

	status := ""
	if !m.connected {
		status = " │ offline"
	}
	if m.statusMsg != "" {
		status += " │ " + m.statusMsg
	}

	return styles.StatusBarStyle.Width(m.width).Render(helpStr + status)
}

func (m *Model) setFocus(panel PanelFocus) {
	m.focusedPanel = panel
	m.marketPanel.SetFocus(panel == FocusMarket)
	m.portfolioPanel.SetFocus(panel == FocusPortfolio)
	m.orderInputPanel.SetFocus(panel == FocusOrderInput)
}

func (m *Model) handleSnapshot(snap marketview.Snapshot) {
	m.marketPanel.SetSnapshot(snap)
	m.orderInputPanel.SetSymbols(snap.Symbols())
}

func (m *Model) listenSnapshots() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.snapshots
		if !ok {
			return streamClosedMsg{}
		}
		return panels.SnapshotMsg{Snapshot: snap}
	}
}

func (m *Model) fetchValuation() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		v, err := m.backend.Broker(ctx, m.brokerID)
		if err != nil {
			return errMsg{op: "valuation", err: err}
		}
		return panels.ValuationMsg{Valuation: v}
	}
}

func (m *Model) fetchOrders() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		orders, err := m.backend.Orders(ctx, m.brokerID, 20)
		if err != nil {
			return errMsg{op: "orders", err: err}
		}
		return ordersMsg{orders: orders}
	}
}

func (m *Model) submitOrder(order panels.OrderSubmitMsg) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		res, err := m.backend.SubmitOrder(ctx, broker.OrderRequest{
			BrokerID: m.brokerID,
			Symbol:   order.Symbol,
			Side:     order.Side,
			Quantity: order.Quantity,
		})
		if err != nil {
			return orderResultMsg{message: "order failed: " + err.Error()}
		}
		return orderResultMsg{
			message: fmt.Sprintf("%s %d %s @ %s on %s", order.Side, order.Quantity, order.Symbol, res.Price.StringFixed(2), res.Date),
			ok:      true,
		}
	}
}

func (m *Model) toggleRun() tea.Cmd {
	if m.marketPanel.Snapshot().State == clock.StateRunning {
		return m.clockCmd("pause", m.backend.Pause)
	}
	return m.clockCmd("start", func(ctx context.Context) (clock.Status, error) {
		return m.backend.Start(ctx, api.StartRequest{})
	})
}

func (m *Model) clockCmd(op string, fn func(context.Context) (clock.Status, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		st, err := fn(ctx)
		if err != nil {
			return errMsg{op: op, err: err}
		}
		return clockMsg{status: st}
	}
}

package panels

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/tui/styles"
)

const maxRecentOrders = 8

// PortfolioPanel shows a broker's cash, equity, positions and recent orders.
type PortfolioPanel struct {
	currency  string
	valuation broker.Valuation
	loaded    bool
	orders    []broker.Order

	focused bool
	width   int
	height  int
}

// NewPortfolioPanel creates a panel that formats amounts in currency.
func NewPortfolioPanel(currency string) *PortfolioPanel {
	return &PortfolioPanel{currency: currency}
}

// Init initializes the panel.
func (p *PortfolioPanel) Init() tea.Cmd {
	return nil
}

// Update handles messages for the panel.
func (p *PortfolioPanel) Update(msg tea.Msg) (*PortfolioPanel, tea.Cmd) {
	return p, nil
}

// View renders the panel.
func (p *PortfolioPanel) View() string {
	var content strings.Builder

	if !p.loaded {
		content.WriteString(styles.MutedRowStyle.Render("loading..."))
	} else {
		v := p.valuation
		content.WriteString(styles.LabelStyle.Render(fmt.Sprintf("%-10s", "Broker")) + v.Broker.Name + "\n")
		content.WriteString(styles.LabelStyle.Render(fmt.Sprintf("%-10s", "Cash")) + broker.FormatMoney(v.Broker.Balance, p.currency) + "\n")
		content.WriteString(styles.LabelStyle.Render(fmt.Sprintf("%-10s", "Equity")) + broker.FormatMoney(v.Equity, p.currency) + "\n\n")

		header := fmt.Sprintf("%-8s %8s %12s %12s", "Symbol", "Qty", "Price", "P/L")
		content.WriteString(styles.HeaderStyle.Render(header))
		for _, pos := range v.Positions {
			price := pos.Price.StringFixed(2)
			if !pos.Priced {
				price = "n/a"
			}
			row := fmt.Sprintf("%-8s %8d %12s ", pos.Symbol, pos.Quantity, price)
			pl := pos.UnrealizedPL.StringFixed(2)
			content.WriteString("\n" + styles.RowStyle.Render(row) + styles.Signed(pos.UnrealizedPL.Sign()).Render(fmt.Sprintf("%12s", pl)))
		}
		if len(v.Positions) == 0 {
			content.WriteString("\n" + styles.MutedRowStyle.Render("no positions"))
		}
	}

	if len(p.orders) > 0 {
		content.WriteString("\n\n" + styles.HeaderStyle.Render("Recent orders"))
		for _, o := range p.orders {
			sideStyle := styles.BuyStyle
			if o.Side == broker.SideSell {
				sideStyle = styles.SellStyle
			}
			content.WriteString(fmt.Sprintf("\n%s %-4s %-6s x%d @ %s",
				styles.DateStyle.Render(o.Date.String()),
				sideStyle.Render(strings.ToUpper(o.Side.String())),
				o.Symbol, o.Quantity, o.Price.StringFixed(2)))
		}
	}

	panelStyle := styles.PanelStyle
	if p.focused {
		panelStyle = styles.FocusedPanelStyle
	}

	title := styles.RenderTitle("Portfolio", p.focused)
	panel := lipgloss.JoinVertical(lipgloss.Left, title, content.String())

	return panelStyle.Width(p.width - 2).Height(p.height - 2).Render(panel)
}

// SetValuation replaces the valuation on display.
func (p *PortfolioPanel) SetValuation(v broker.Valuation) {
	p.valuation = v
	p.loaded = true
}

// AddOrder records an executed order, newest first.
func (p *PortfolioPanel) AddOrder(o broker.Order) {
	p.orders = append([]broker.Order{o}, p.orders...)
	if len(p.orders) > maxRecentOrders {
		p.orders = p.orders[:maxRecentOrders]
	}
}

// SetOrders replaces the recent orders. orders is oldest first.
func (p *PortfolioPanel) SetOrders(orders []broker.Order) {
	p.orders = nil
	for _, o := range orders {
		p.AddOrder(o)
	}
}

// SetFocus sets the focus state of the panel.
func (p *PortfolioPanel) SetFocus(focused bool) {
	p.focused = focused
}

// SetSize sets the panel dimensions.
func (p *PortfolioPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// ValuationMsg carries a refreshed broker valuation.
type ValuationMsg struct {
	Valuation broker.Valuation
}

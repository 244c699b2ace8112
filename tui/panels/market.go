package panels

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	marketview "github.com/zappabad/tickreplay/internal/market/view"
	"github.com/zappabad/tickreplay/tui/styles"
)

// MarketPanel displays the simulated date and the price of every enabled symbol.
type MarketPanel struct {
	snap     marketview.Snapshot
	previous map[string]decimal.Decimal
	symbols  []string

	selectedIndex int
	focused       bool
	width         int
	height        int
}

// NewMarketPanel creates a new market panel.
func NewMarketPanel() *MarketPanel {
	return &MarketPanel{previous: map[string]decimal.Decimal{}}
}

// Init initializes the panel.
func (p *MarketPanel) Init() tea.Cmd {
	return nil
}

// Update handles messages for the panel.
func (p *MarketPanel) Update(msg tea.Msg) (*MarketPanel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !p.focused {
			return p, nil
		}
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("up", "k"))):
			if p.selectedIndex > 0 {
				p.selectedIndex--
			}
		case key.Matches(msg, key.NewBinding(key.WithKeys("down", "j"))):
			if p.selectedIndex < len(p.symbols)-1 {
				p.selectedIndex++
			}
		case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
			if sym := p.SelectedSymbol(); sym != "" {
				return p, func() tea.Msg { return SymbolSelectedMsg{Symbol: sym} }
			}
		}
	}
	return p, nil
}

// View renders the panel.
func (p *MarketPanel) View() string {
	var content strings.Builder

	content.WriteString(styles.DateStyle.Render(p.snap.CurrentDate.String()))
	content.WriteString("  " + styles.LabelStyle.Render(p.snap.State.String()))
	content.WriteString("\n\n")

	header := fmt.Sprintf("%-8s %12s %10s", "Symbol", "Price", "Change")
	content.WriteString(styles.HeaderStyle.Render(header))

	for i, sym := range p.symbols {
		price := p.snap.Prices[sym]
		change := "-"
		sign := 0
		if prev, ok := p.previous[sym]; ok {
			diff := price.Sub(prev)
			sign = diff.Sign()
			change = diff.StringFixed(2)
			if sign > 0 {
				change = "+" + change
			}
		}

		row := fmt.Sprintf("%-8s %12s ", sym, price.StringFixed(2))
		style := styles.RowStyle
		if i == p.selectedIndex && p.focused {
			style = styles.SelectedRowStyle
		}
		content.WriteString("\n")
		content.WriteString(style.Render(row) + styles.Signed(sign).Render(fmt.Sprintf("%10s", change)))
	}
	if len(p.symbols) == 0 {
		content.WriteString("\n" + styles.MutedRowStyle.Render("no prices"))
	}

	panelStyle := styles.PanelStyle
	if p.focused {
		panelStyle = styles.FocusedPanelStyle
	}

	title := styles.RenderTitle("Market", p.focused)
	panel := lipgloss.JoinVertical(lipgloss.Left, title, content.String())

	return panelStyle.Width(p.width - 2).Height(p.height - 2).Render(panel)
}

// SetFocus sets the focus state of the panel.
func (p *MarketPanel) SetFocus(focused bool) {
	p.focused = focused
}

// SetSize sets the panel dimensions.
func (p *MarketPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// SetSnapshot shows snap. Changes are computed against the previous snapshot
// when the date moved.
func (p *MarketPanel) SetSnapshot(snap marketview.Snapshot) {
	if snap.CurrentDate != p.snap.CurrentDate {
		p.previous = p.snap.Prices
		if p.previous == nil {
			p.previous = map[string]decimal.Decimal{}
		}
	}
	selected := p.SelectedSymbol()

	p.snap = snap
	p.symbols = snap.Symbols()

	p.selectedIndex = 0
	for i, sym := range p.symbols {
		if sym == selected {
			p.selectedIndex = i
			break
		}
	}
}

// Snapshot returns the snapshot on display.
func (p *MarketPanel) Snapshot() marketview.Snapshot {
	return p.snap
}

// SelectedSymbol returns the highlighted symbol, or "" when there is none.
func (p *MarketPanel) SelectedSymbol() string {
	if p.selectedIndex >= 0 && p.selectedIndex < len(p.symbols) {
		return p.symbols[p.selectedIndex]
	}
	return ""
}

// SymbolSelectedMsg is sent when a symbol is picked in the market panel.
type SymbolSelectedMsg struct {
	Symbol string
}

// SnapshotMsg carries a pushed snapshot.
type SnapshotMsg struct {
	Snapshot marketview.Snapshot
}

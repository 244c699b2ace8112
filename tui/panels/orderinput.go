package panels

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/tui/styles"
)

// OrderInputField represents the currently focused input field.
type OrderInputField int

const (
	FieldSymbol OrderInputField = iota
	FieldSide
	FieldQuantity
	FieldSubmit
)

// OrderInputPanel handles order entry with symbol autocomplete. Orders
// execute at the current simulated price, so there is no price field.
type OrderInputPanel struct {
	symbolInput   textinput.Model
	quantityInput textinput.Model

	symbols          []string
	showDropdown     bool
	dropdownFiltered []string
	dropdownIndex    int

	sides     []broker.Side
	sideIndex int

	currentField OrderInputField
	errMsg       string

	focused bool
	width   int
	height  int
}

// NewOrderInputPanel creates a new order input panel.
func NewOrderInputPanel() *OrderInputPanel {
	symbolInput := textinput.New()
	symbolInput.Placeholder = "Search symbol..."
	symbolInput.Width = 15
	symbolInput.CharLimit = 10

	quantityInput := textinput.New()
	quantityInput.Placeholder = "Quantity"
	quantityInput.Width = 10
	quantityInput.CharLimit = 12

	return &OrderInputPanel{
		symbolInput:   symbolInput,
		quantityInput: quantityInput,
		sides:         []broker.Side{broker.SideBuy, broker.SideSell},
		currentField:  FieldSymbol,
	}
}

// Init initializes the panel.
func (p *OrderInputPanel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the panel.
func (p *OrderInputPanel) Update(msg tea.Msg) (*OrderInputPanel, tea.Cmd) {
	if !p.focused {
		return p, nil
	}

	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("down"))):
			if p.showDropdown {
				if p.dropdownIndex < len(p.dropdownFiltered)-1 {
					p.dropdownIndex++
				}
				return p, nil
			}
			p.nextField()
			return p, nil

		case key.Matches(msg, key.NewBinding(key.WithKeys("up"))):
			if p.showDropdown {
				if p.dropdownIndex > 0 {
					p.dropdownIndex--
				}
				return p, nil
			}
			p.prevField()
			return p, nil

		case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
			if p.currentField == FieldSubmit {
				return p, p.submitOrder()
			}
			p.nextField()
			return p, nil

		case key.Matches(msg, key.NewBinding(key.WithKeys("esc"))):
			p.showDropdown = false
			return p, nil

		case key.Matches(msg, key.NewBinding(key.WithKeys("left", "right"))):
			if p.currentField == FieldSide {
				p.sideIndex = 1 - p.sideIndex
				return p, nil
			}
		}
	}

	switch p.currentField {
	case FieldSymbol:
		p.symbolInput, cmd = p.symbolInput.Update(msg)
		p.filterDropdown(p.symbolInput.Value())
		p.showDropdown = p.symbolInput.Value() != "" && len(p.dropdownFiltered) > 0

	case FieldQuantity:
		p.quantityInput, cmd = p.quantityInput.Update(msg)
	}

	return p, cmd
}

// View renders the panel.
func (p *OrderInputPanel) View() string {
	var content strings.Builder

	content.WriteString(p.renderField("Symbol", FieldSymbol, p.renderSymbolField()))
	content.WriteString("\n")
	content.WriteString(p.renderField("Side", FieldSide, p.renderSideField()))
	content.WriteString("\n")
	content.WriteString(p.renderField("Qty", FieldQuantity, p.quantityInput.View()))
	content.WriteString("\n\n")

	submitStyle := styles.InputStyle
	if p.currentField == FieldSubmit && p.focused {
		submitStyle = styles.FocusedInputStyle.Bold(true).Foreground(styles.PrimaryColor)
	}
	content.WriteString(submitStyle.Render("  [Submit Order]  "))

	content.WriteString("\n\n")
	content.WriteString(p.renderOrderSummary())
	if p.errMsg != "" {
		content.WriteString("\n" + styles.SellStyle.Render(p.errMsg))
	}

	panelStyle := styles.PanelStyle
	if p.focused {
		panelStyle = styles.FocusedPanelStyle
	}

	title := styles.RenderTitle("Order Entry", p.focused)
	panel := lipgloss.JoinVertical(lipgloss.Left, title, content.String())

	return panelStyle.Width(p.width - 2).Height(p.height - 2).Render(panel)
}

func (p *OrderInputPanel) renderField(label string, field OrderInputField, inputView string) string {
	labelStyle := styles.LabelStyle
	if p.currentField == field && p.focused {
		labelStyle = labelStyle.Foreground(styles.PrimaryColor)
	}
	return labelStyle.Render(fmt.Sprintf("%-8s", label)) + inputView
}

func (p *OrderInputPanel) renderSymbolField() string {
	var result strings.Builder

	inputStyle := styles.InputStyle
	if p.currentField == FieldSymbol && p.focused {
		inputStyle = styles.FocusedInputStyle
	}
	result.WriteString(inputStyle.Render(p.symbolInput.View()))

	if p.showDropdown {
		maxShow := min(5, len(p.dropdownFiltered))
		for i := 0; i < maxShow; i++ {
			item := p.dropdownFiltered[i]
			style := styles.DropdownItemStyle
			if i == p.dropdownIndex {
				style = styles.DropdownSelectedStyle
			}
			result.WriteString("\n         " + style.Render(p.highlightMatch(item, p.symbolInput.Value())))
		}
	}

	return result.String()
}

func (p *OrderInputPanel) renderSideField() string {
	var items []string
	for i, side := range p.sides {
		style := styles.DropdownItemStyle
		if i == p.sideIndex {
			if p.currentField == FieldSide && p.focused {
				style = styles.DropdownSelectedStyle
			} else {
				style = style.Bold(true)
			}
			if side == broker.SideBuy {
				style = style.Foreground(styles.BuyColor)
			} else {
				style = style.Foreground(styles.SellColor)
			}
		}
		items = append(items, style.Render(strings.ToUpper(side.String())))
	}
	return strings.Join(items, " | ")
}

func (p *OrderInputPanel) renderOrderSummary() string {
	symbol := strings.ToUpper(p.symbolInput.Value())
	if symbol == "" {
		symbol = "---"
	}

	side := p.sides[p.sideIndex]
	sideStyle := styles.BuyStyle
	if side == broker.SideSell {
		sideStyle = styles.SellStyle
	}

	qty := p.quantityInput.Value()
	if qty == "" {
		qty = "0"
	}

	return styles.HeaderStyle.Render("Order: ") +
		strings.Join([]string{symbol, sideStyle.Render(strings.ToUpper(side.String())), "x" + qty, "@ market"}, " ")
}

func (p *OrderInputPanel) filterDropdown(query string) {
	query = strings.ToUpper(query)
	p.dropdownFiltered = nil
	p.dropdownIndex = 0

	for _, sym := range p.symbols {
		if strings.Contains(sym, query) {
			p.dropdownFiltered = append(p.dropdownFiltered, sym)
		}
	}
}

func (p *OrderInputPanel) highlightMatch(item, query string) string {
	idx := strings.Index(item, strings.ToUpper(query))
	if query == "" || idx == -1 {
		return item
	}
	return item[:idx] + styles.DropdownMatchStyle.Render(item[idx:idx+len(query)]) + item[idx+len(query):]
}

func (p *OrderInputPanel) selectDropdownItem() {
	if p.showDropdown && p.dropdownIndex < len(p.dropdownFiltered) {
		p.symbolInput.SetValue(p.dropdownFiltered[p.dropdownIndex])
	}
	p.showDropdown = false
}

func (p *OrderInputPanel) nextField() {
	switch p.currentField {
	case FieldSymbol:
		p.selectDropdownItem()
		p.currentField = FieldSide
	case FieldSide:
		p.currentField = FieldQuantity
	case FieldQuantity:
		p.currentField = FieldSubmit
	case FieldSubmit:
		p.currentField = FieldSymbol
	}
	p.syncFocus()
}

func (p *OrderInputPanel) prevField() {
	p.showDropdown = false
	switch p.currentField {
	case FieldSymbol:
		p.currentField = FieldSubmit
	case FieldSide:
		p.currentField = FieldSymbol
	case FieldQuantity:
		p.currentField = FieldSide
	case FieldSubmit:
		p.currentField = FieldQuantity
	}
	p.syncFocus()
}

func (p *OrderInputPanel) syncFocus() {
	p.symbolInput.Blur()
	p.quantityInput.Blur()
	if !p.focused {
		return
	}
	switch p.currentField {
	case FieldSymbol:
		p.symbolInput.Focus()
	case FieldQuantity:
		p.quantityInput.Focus()
	}
}

func (p *OrderInputPanel) submitOrder() tea.Cmd {
	symbol := strings.ToUpper(strings.TrimSpace(p.symbolInput.Value()))
	if symbol == "" {
		p.errMsg = "symbol is required"
		return nil
	}
	qty, err := strconv.ParseInt(strings.TrimSpace(p.quantityInput.Value()), 10, 64)
	if err != nil || qty <= 0 {
		p.errMsg = "quantity must be a positive integer"
		return nil
	}
	p.errMsg = ""

	order := OrderSubmitMsg{Symbol: symbol, Side: p.sides[p.sideIndex], Quantity: qty}
	return func() tea.Msg { return order }
}

// SetFocus sets the focus state of the panel.
func (p *OrderInputPanel) SetFocus(focused bool) {
	p.focused = focused
	p.syncFocus()
}

// SetSize sets the panel dimensions.
func (p *OrderInputPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// SetSymbols replaces the autocomplete candidates.
func (p *OrderInputPanel) SetSymbols(symbols []string) {
	p.symbols = symbols
}

// SetSymbol pre-fills the symbol field.
func (p *OrderInputPanel) SetSymbol(symbol string) {
	p.symbolInput.SetValue(symbol)
	p.showDropdown = false
}

// Symbol returns the symbol as typed.
func (p *OrderInputPanel) Symbol() string {
	return p.symbolInput.Value()
}

// Reset clears the quantity and keeps the symbol and side.
func (p *OrderInputPanel) Reset() {
	p.quantityInput.SetValue("")
	p.errMsg = ""
}

// OrderSubmitMsg is sent when an order is submitted.
type OrderSubmitMsg struct {
	Symbol   string
	Side     broker.Side
	Quantity int64
}

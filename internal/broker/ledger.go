package broker

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Clone returns a deep copy of b.
func (b Broker) Clone() Broker {
	out := b
	out.Holdings = make(map[string]int64, len(b.Holdings))
	for k, v := range b.Holdings {
		out.Holdings[k] = v
	}
	out.CostBasis = make(map[string]decimal.Decimal, len(b.CostBasis))
	for k, v := range b.CostBasis {
		out.CostBasis[k] = v
	}
	return out
}

// HoldingsCopy returns a copy of the holdings map.
func (b Broker) HoldingsCopy() map[string]int64 {
	out := make(map[string]int64, len(b.Holdings))
	for k, v := range b.Holdings {
		out[k] = v
	}
	return out
}

func (b *Broker) init() {
	if b.Holdings == nil {
		b.Holdings = make(map[string]int64)
	}
	if b.CostBasis == nil {
		b.CostBasis = make(map[string]decimal.Decimal)
	}
}

// Buy debits price×quantity and adds quantity shares of symbol, moving the
// cost basis to the weighted average of the old and new lots.
func (b *Broker) Buy(symbol string, quantity int64, price decimal.Decimal) error {
	if err := checkTrade(quantity, price); err != nil {
		return err
	}
	cost := price.Mul(decimal.NewFromInt(quantity))
	if b.Balance.LessThan(cost) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost, b.Balance)
	}

	b.init()
	held := b.Holdings[symbol]
	total := held + quantity
	basis := b.CostBasis[symbol].Mul(decimal.NewFromInt(held)).Add(cost).Div(decimal.NewFromInt(total))

	b.Balance = b.Balance.Sub(cost)
	b.Holdings[symbol] = total
	b.CostBasis[symbol] = basis
	return nil
}

// Sell removes quantity shares of symbol and credits price×quantity.
// The cost basis of the remaining shares is unchanged.
func (b *Broker) Sell(symbol string, quantity int64, price decimal.Decimal) error {
	if err := checkTrade(quantity, price); err != nil {
		return err
	}
	held := b.Holdings[symbol]
	if held < quantity {
		return fmt.Errorf("%w: want %d %s, have %d", ErrInsufficientHoldings, quantity, symbol, held)
	}

	b.init()
	b.Balance = b.Balance.Add(price.Mul(decimal.NewFromInt(quantity)))
	if held == quantity {
		delete(b.Holdings, symbol)
		delete(b.CostBasis, symbol)
	} else {
		b.Holdings[symbol] = held - quantity
	}
	return nil
}

// Apply executes one side of a trade.
func (b *Broker) Apply(side Side, symbol string, quantity int64, price decimal.Decimal) error {
	switch side {
	case SideBuy:
		return b.Buy(symbol, quantity, price)
	case SideSell:
		return b.Sell(symbol, quantity, price)
	default:
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, int(side))
	}
}

// Adjust adds amount (which may be negative) to the balance. The balance never
// goes below zero.
func (b *Broker) Adjust(amount decimal.Decimal) error {
	next := b.Balance.Add(amount)
	if next.IsNegative() {
		return fmt.Errorf("%w: balance %s cannot cover %s", ErrInsufficientFunds, b.Balance, amount.Neg())
	}
	b.Balance = next
	return nil
}

func checkTrade(quantity int64, price decimal.Decimal) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, quantity)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: non-positive price %s", ErrPriceUnavailable, price)
	}
	return nil
}

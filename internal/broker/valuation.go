package broker

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/zappabad/tickreplay/internal/date"
)

// Position is one holding valued at the current simulated price.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     int64           `json:"quantity"`
	CostBasis    decimal.Decimal `json:"costBasis"`
	Price        decimal.Decimal `json:"price"`
	Priced       bool            `json:"priced"`
	MarketValue  decimal.Decimal `json:"marketValue"`
	UnrealizedPL decimal.Decimal `json:"unrealizedPL"`
}

// Valuation is a broker with its holdings marked to market on Date.
type Valuation struct {
	Broker        Broker          `json:"broker"`
	Date          date.Date       `json:"date"`
	Positions     []Position      `json:"positions"`
	HoldingsValue decimal.Decimal `json:"holdingsValue"`
	Equity        decimal.Decimal `json:"equity"`
}

// PriceFunc returns the price of symbol, or false if it has none.
type PriceFunc func(symbol string) (decimal.Decimal, bool)

// Value marks b to market. Holdings without a price are valued at cost.
func Value(b Broker, on date.Date, price PriceFunc) Valuation {
	v := Valuation{Broker: b, Date: on}
	for _, sym := range b.Symbols() {
		qty := decimal.NewFromInt(b.Holdings[sym])
		p := Position{
			Symbol:    sym,
			Quantity:  b.Holdings[sym],
			CostBasis: b.CostBasis[sym],
		}
		if px, ok := price(sym); ok {
			p.Price, p.Priced = px, true
			p.MarketValue = px.Mul(qty)
			p.UnrealizedPL = px.Sub(p.CostBasis).Mul(qty)
		} else {
			p.MarketValue = p.CostBasis.Mul(qty)
		}
		v.HoldingsValue = v.HoldingsValue.Add(p.MarketValue)
		v.Positions = append(v.Positions, p)
	}
	v.Equity = b.Balance.Add(v.HoldingsValue)
	return v
}

// FormatMoney renders amount in the given ISO currency, e.g. "$5,000.00".
// Sub-unit remainders are rounded half away from zero.
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.New(0, currency).Currency()
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

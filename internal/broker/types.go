package broker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zappabad/tickreplay/internal/date"
)

// Side is the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// ParseSide accepts "buy"/"b" and "sell"/"s" in any case.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy", "b":
		return SideBuy, nil
	case "sell", "s":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Broker is a participant's account: cash, share holdings and the average
// purchase price of each holding.
type Broker struct {
	ID        string                     `json:"id"`
	Name      string                     `json:"name"`
	Balance   decimal.Decimal            `json:"balance"`
	Holdings  map[string]int64           `json:"holdings"`
	CostBasis map[string]decimal.Decimal `json:"costBasis"`
}

// Symbols returns the held symbols in alphabetical order.
func (b Broker) Symbols() []string {
	out := make([]string, 0, len(b.Holdings))
	for sym := range b.Holdings {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// NewBroker is the admin request creating a broker. An empty ID is generated.
type NewBroker struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// Order is an executed buy or sell. Orders are never modified once recorded.
type Order struct {
	ID          string          `json:"id"`
	BrokerID    string          `json:"brokerId"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Date        date.Date       `json:"date"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

// Value is the cash moved by the order.
func (o Order) Value() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// OrderRequest is a broker's instruction to trade at the current simulated price.
type OrderRequest struct {
	BrokerID string `json:"brokerId"`
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Quantity int64  `json:"quantity"`
}

// OrderResult is returned for an executed order.
type OrderResult struct {
	OrderID     string           `json:"orderId"`
	Price       decimal.Decimal  `json:"price"`
	Date        date.Date        `json:"date"`
	NewBalance  decimal.Decimal  `json:"newBalance"`
	NewHoldings map[string]int64 `json:"newHoldings"`
}

// Quote is the execution price of a symbol on the current simulated date.
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	Date   date.Date
}

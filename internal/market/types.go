package market

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zappabad/tickreplay/internal/date"
)

var (
	ErrInvalidStock   = errors.New("invalid stock")
	ErrInvalidHistory = errors.New("invalid price history")
)

// PricePoint is the opening price of a stock on one day.
type PricePoint struct {
	Date date.Date       `json:"date"`
	Open decimal.Decimal `json:"open"`
}

// Stock is a tradable symbol with its full price history.
// History is immutable once loaded; only Enabled changes at runtime.
type Stock struct {
	Symbol  string  `json:"symbol"`
	Name    string  `json:"name"`
	Enabled bool    `json:"enabled"`
	History History `json:"history"`
}

// Validate checks the symbol and the ordering of the history.
func (s Stock) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidStock)
	}
	if err := s.History.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidStock, s.Symbol, err)
	}
	return nil
}

// Info returns s without its history.
func (s Stock) Info() Stock {
	s.History = nil
	return s
}

// NormalizeSymbol returns the canonical (upper-case, trimmed) form of a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// History is a date-ordered price series with strictly increasing dates.
type History []PricePoint

// NewHistory sorts points by date and rejects duplicate dates and non-positive prices.
func NewHistory(points []PricePoint) (History, error) {
	h := make(History, len(points))
	copy(h, points)
	sort.SliceStable(h, func(i, j int) bool { return h[i].Date.Before(h[j].Date) })
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Validate reports an error unless dates are strictly increasing and prices positive.
func (h History) Validate() error {
	for i, p := range h {
		if p.Date.IsZero() {
			return fmt.Errorf("%w: missing date at index %d", ErrInvalidHistory, i)
		}
		if !p.Open.IsPositive() {
			return fmt.Errorf("%w: non-positive price %s on %s", ErrInvalidHistory, p.Open, p.Date)
		}
		if i > 0 && !h[i-1].Date.Before(p.Date) {
			return fmt.Errorf("%w: %s does not follow %s", ErrInvalidHistory, p.Date, h[i-1].Date)
		}
	}
	return nil
}

// search returns the index of the first point dated on or after day.
func (h History) search(day date.Date) int {
	return sort.Search(len(h), func(i int) bool { return !h[i].Date.Before(day) })
}

// ValueAsOf returns the price on day, or the most recent price before it.
// It returns false when day precedes the whole history.
func (h History) ValueAsOf(day date.Date) (decimal.Decimal, bool) {
	i := h.search(day)
	if i < len(h) && h[i].Date == day {
		return h[i].Open, true
	}
	if i == 0 {
		return decimal.Decimal{}, false
	}
	return h[i-1].Open, true
}

// Next returns the first date strictly after day.
func (h History) Next(day date.Date) (date.Date, bool) {
	i := h.search(day)
	if i < len(h) && h[i].Date == day {
		i++
	}
	if i >= len(h) {
		return date.Date{}, false
	}
	return h[i].Date, true
}

// First returns the earliest date of the history.
func (h History) First() (date.Date, bool) {
	if len(h) == 0 {
		return date.Date{}, false
	}
	return h[0].Date, true
}

// Last returns the latest date of the history.
func (h History) Last() (date.Date, bool) {
	if len(h) == 0 {
		return date.Date{}, false
	}
	return h[len(h)-1].Date, true
}

package series

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/zappabad/tickreplay/internal/date"
	"github.com/zappabad/tickreplay/internal/market"
)

var (
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrPriceNotFound   = errors.New("price not found")
	ErrDuplicateSymbol = errors.New("duplicate symbol")
)

// Store holds every stock's price history and enabled flag.
// Histories are never modified after NewStore; only the enabled flags are.
type Store struct {
	mu      sync.RWMutex
	stocks  map[string]*market.Stock
	symbols []string
}

// NewStore validates stocks and indexes them by symbol.
func NewStore(stocks []market.Stock) (*Store, error) {
	s := &Store{stocks: make(map[string]*market.Stock, len(stocks))}
	for _, st := range stocks {
		st.Symbol = market.NormalizeSymbol(st.Symbol)
		if err := st.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.stocks[st.Symbol]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSymbol, st.Symbol)
		}
		s.stocks[st.Symbol] = &st
		s.symbols = append(s.symbols, st.Symbol)
	}
	sort.Strings(s.symbols)
	return s, nil
}

// PriceAt resolves the price of symbol on day: the exact entry, else the last
// entry before day, else ErrPriceNotFound.
func (s *Store) PriceAt(symbol string, day date.Date) (decimal.Decimal, error) {
	s.mu.RLock()
	st, ok := s.stocks[market.NormalizeSymbol(symbol)]
	s.mu.RUnlock()
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	price, ok := st.History.ValueAsOf(day)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s on %s", ErrPriceNotFound, st.Symbol, day)
	}
	return price, nil
}

// Enabled reports whether symbol is currently tradable.
func (s *Store) Enabled(symbol string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[market.NormalizeSymbol(symbol)]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return st.Enabled, nil
}

// SetEnabled flips the enabled flag and returns the updated stock.
// changed is false when the flag already had that value.
func (s *Store) SetEnabled(symbol string, enabled bool) (st market.Stock, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.stocks[market.NormalizeSymbol(symbol)]
	if !ok {
		return market.Stock{}, false, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	changed = p.Enabled != enabled
	p.Enabled = enabled
	return *p, changed, nil
}

// Stock returns the stock for symbol. The history slice is shared and must not be modified.
func (s *Store) Stock(symbol string) (market.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[market.NormalizeSymbol(symbol)]
	if !ok {
		return market.Stock{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return *st, nil
}

// Stocks returns every stock sorted by symbol, without histories.
func (s *Store) Stocks() []market.Stock {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]market.Stock, 0, len(s.symbols))
	for _, sym := range s.symbols {
		out = append(out, s.stocks[sym].Info())
	}
	return out
}

// Prices resolves the price on day of every enabled symbol.
// Symbols with no price yet on day are left out.
func (s *Store) Prices(day date.Date) map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(s.symbols))
	for _, sym := range s.symbols {
		st := s.stocks[sym]
		if !st.Enabled {
			continue
		}
		if p, ok := st.History.ValueAsOf(day); ok {
			out[sym] = p
		}
	}
	return out
}

// NextDate returns the earliest date strictly after day present in the
// history of any enabled stock.
func (s *Store) NextDate(day date.Date) (date.Date, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		next  date.Date
		found bool
	)
	for _, sym := range s.symbols {
		st := s.stocks[sym]
		if !st.Enabled {
			continue
		}
		d, ok := st.History.Next(day)
		if ok && (!found || d.Before(next)) {
			next, found = d, true
		}
	}
	return next, found
}

// FirstDate returns the earliest date in the history of any enabled stock.
func (s *Store) FirstDate() (date.Date, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		first date.Date
		found bool
	)
	for _, sym := range s.symbols {
		st := s.stocks[sym]
		if !st.Enabled {
			continue
		}
		d, ok := st.History.First()
		if ok && (!found || d.Before(first)) {
			first, found = d, true
		}
	}
	return first, found
}

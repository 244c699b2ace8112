package view

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/date"
)

// SnapshotType is the message type of every pushed snapshot.
const SnapshotType = "snapshot"

// Snapshot is the trading state pushed to viewers: the simulated date and the
// price of every enabled symbol on it.
type Snapshot struct {
	Type        string                     `json:"type"`
	Seq         uint64                     `json:"seq"`
	Event       clock.Event                `json:"event"`
	State       clock.State                `json:"state"`
	CurrentDate date.Date                  `json:"currentDate"`
	Prices      map[string]decimal.Decimal `json:"prices"`
	At          time.Time                  `json:"at"`
}

// Symbols returns the priced symbols in alphabetical order.
func (s Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.Prices))
	for sym := range s.Prices {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	prices := make(map[string]decimal.Decimal, len(s.Prices))
	for k, v := range s.Prices {
		prices[k] = v
	}
	s.Prices = prices
	return s
}

package service

import (
	"context"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/date"
	marketview "github.com/zappabad/tickreplay/internal/market/view"
)

// PriceSource resolves the prices of enabled symbols on a day.
type PriceSource interface {
	Prices(day date.Date) map[string]decimal.Decimal
}

// Broadcaster turns clock statuses into snapshots and pushes them to subscribers.
type Broadcaster struct {
	cfg    Config
	prices PriceSource
	hub    *marketview.Hub[marketview.Snapshot]
	logger *zap.Logger

	seq atomic.Uint64
}

// NewBroadcaster creates a Broadcaster reading prices from prices.
func NewBroadcaster(cfg Config, prices PriceSource, logger *zap.Logger) *Broadcaster {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Broadcaster{
		cfg:    cfg,
		prices: prices,
		hub:    marketview.NewHub[marketview.Snapshot](),
		logger: logger,
	}
}

// Publish builds the snapshot for st and pushes it. It never blocks on subscribers.
// Its signature matches the clock handler.
func (b *Broadcaster) Publish(_ context.Context, st clock.Status) {
	snap := marketview.Snapshot{
		Type:        marketview.SnapshotType,
		Seq:         b.seq.Add(1),
		Event:       st.Event,
		State:       st.State,
		CurrentDate: st.CurrentDate,
		Prices:      b.prices.Prices(st.CurrentDate),
		At:          st.At,
	}

	before := b.hub.Dropped()
	b.hub.Publish(snap)
	if n := b.hub.Dropped() - before; n > 0 {
		b.logger.Debug("dropped snapshots for slow subscribers",
			zap.Int64("dropped", n),
			zap.Uint64("seq", snap.Seq))
	}
}

// Subscribe registers a viewer. The latest snapshot, if any, is delivered first.
func (b *Broadcaster) Subscribe() *marketview.Subscription[marketview.Snapshot] {
	return b.hub.Subscribe(b.cfg.SubscriberBuffer)
}

// Unsubscribe removes a viewer.
func (b *Broadcaster) Unsubscribe(sub *marketview.Subscription[marketview.Snapshot]) {
	b.hub.Unsubscribe(sub)
}

// Latest returns a copy of the most recent snapshot.
func (b *Broadcaster) Latest() (marketview.Snapshot, bool) {
	snap, ok := b.hub.Latest()
	if !ok {
		return marketview.Snapshot{}, false
	}
	return snap.Clone(), true
}

// Subscribers returns the current number of subscribers.
func (b *Broadcaster) Subscribers() int {
	return b.hub.Len()
}

// DroppedSnapshots returns the count of snapshots discarded for slow subscribers.
func (b *Broadcaster) DroppedSnapshots() int64 {
	return b.hub.Dropped()
}

// Close closes every subscription.
func (b *Broadcaster) Close() {
	b.hub.Close()
}

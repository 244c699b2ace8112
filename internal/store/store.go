package store

import (
	"context"
	"errors"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/market"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// BrokerStore persists one record per broker.
type BrokerStore interface {
	LoadBrokers(ctx context.Context) ([]broker.Broker, error)
	SaveBroker(ctx context.Context, b broker.Broker) error
	DeleteBroker(ctx context.Context, id string) error
}

// StockStore persists one record per stock, history included.
type StockStore interface {
	LoadStocks(ctx context.Context) ([]market.Stock, error)
	SaveStock(ctx context.Context, s market.Stock) error
}

// SettingsStore persists the exchange clock settings. LoadSettings returns
// ErrNotFound when none were saved yet.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (clock.Settings, error)
	SaveSettings(ctx context.Context, s clock.Settings) error
}

// OrderLog is the durable append-only order history. Appending an order id
// that is already present is a no-op.
type OrderLog interface {
	AppendOrder(ctx context.Context, o broker.Order) error
}

// OrderHistory reads back a broker's archived orders, most recent first.
type OrderHistory interface {
	OrdersByBroker(ctx context.Context, brokerID string, limit int) ([]broker.Order, error)
}

// Store is a complete persistence backend.
type Store interface {
	BrokerStore
	StockStore
	SettingsStore
	OrderLog
	Close() error
}

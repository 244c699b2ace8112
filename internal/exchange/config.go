package exchange

import (
	"time"

	brokerservice "github.com/zappabad/tickreplay/internal/broker/service"
	clockservice "github.com/zappabad/tickreplay/internal/clock/service"
	"github.com/zappabad/tickreplay/internal/market"
	marketservice "github.com/zappabad/tickreplay/internal/market/service"
	"github.com/zappabad/tickreplay/internal/store"
)

// Config holds configuration for the exchange.
type Config struct {
	// Stocks are written to the store when it holds no stocks yet.
	Stocks []market.Stock
	// ClockConfig is the configuration for the market clock.
	ClockConfig clockservice.Config
	// MarketConfig is the configuration for the snapshot broadcaster.
	MarketConfig marketservice.Config
	// BrokerConfig is the configuration for the broker service.
	BrokerConfig brokerservice.Config
	// PersistConfig is the configuration for the background writer.
	PersistConfig store.PersisterConfig
	// ResumeOnBoot restarts the clock when the saved settings say it was running.
	ResumeOnBoot bool
	// FlushTimeout bounds how long Close waits for pending writes.
	FlushTimeout time.Duration
	// Currency is the ISO code balances are displayed in.
	Currency string
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		ClockConfig:   clockservice.DefaultConfig(),
		MarketConfig:  marketservice.DefaultConfig(),
		BrokerConfig:  brokerservice.DefaultConfig(),
		PersistConfig: store.DefaultPersisterConfig(),
		ResumeOnBoot:  true,
		FlushTimeout:  5 * time.Second,
		Currency:      "USD",
	}
}

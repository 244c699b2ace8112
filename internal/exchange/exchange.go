// Package exchange owns the market clock, the price series, the snapshot
// broadcaster and the broker ledgers, and keeps the durable store in step
// with them.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/audit"
	"github.com/zappabad/tickreplay/internal/broker"
	brokerservice "github.com/zappabad/tickreplay/internal/broker/service"
	"github.com/zappabad/tickreplay/internal/clock"
	clockservice "github.com/zappabad/tickreplay/internal/clock/service"
	"github.com/zappabad/tickreplay/internal/market"
	"github.com/zappabad/tickreplay/internal/market/series"
	marketservice "github.com/zappabad/tickreplay/internal/market/service"
	marketview "github.com/zappabad/tickreplay/internal/market/view"
	"github.com/zappabad/tickreplay/internal/store"
)

// Deps are the external resources the exchange runs on. The caller owns
// them and closes them after the exchange.
type Deps struct {
	// Store is the primary durable store. Required.
	Store store.Store
	// Archive optionally receives a second copy of every order.
	Archive store.OrderLog
	// Audit optionally receives order and clock events.
	Audit  audit.Publisher
	Logger *zap.Logger
}

// Status is the operator view of the exchange.
type Status struct {
	Clock            clock.Status         `json:"clock"`
	Stocks           int                  `json:"stocks"`
	Brokers          int                  `json:"brokers"`
	Subscribers      int                  `json:"subscribers"`
	DroppedSnapshots int64                `json:"droppedSnapshots"`
	Persistence      store.PersisterStats `json:"persistence"`
	Currency         string               `json:"currency"`
}

// Exchange owns all subsystems and manages their lifecycle.
type Exchange struct {
	Series    *series.Store
	Market    *marketservice.Broadcaster
	Clock     *clockservice.Service
	Brokers   *brokerservice.BrokerService
	Persister *store.Persister

	cfg     Config
	store   store.Store
	archive store.OrderLog
	history store.OrderHistory
	audit   audit.Publisher
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewExchange loads state from deps.Store and starts every subsystem.
func NewExchange(ctx context.Context, cfg Config, deps Deps) (*Exchange, error) {
	if deps.Store == nil {
		return nil, errors.New("exchange: store is required")
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultConfig().FlushTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultConfig().Currency
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pub := deps.Audit
	if pub == nil {
		pub = audit.Nop{}
	}

	e := &Exchange{
		cfg:     cfg,
		store:   deps.Store,
		archive: deps.Archive,
		audit:   pub,
		logger:  logger,
	}
	if h, ok := deps.Archive.(store.OrderHistory); ok {
		e.history = h
	}

	stocks, err := e.loadStocks(ctx)
	if err != nil {
		return nil, err
	}
	e.Series, err = series.NewStore(stocks)
	if err != nil {
		return nil, fmt.Errorf("build price series: %w", err)
	}

	brokers, err := deps.Store.LoadBrokers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load brokers: %w", err)
	}

	settings, err := deps.Store.LoadSettings(ctx)
	haveSettings := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	e.Persister = store.NewPersister(cfg.PersistConfig, logger.Named("persist"))
	e.Market = marketservice.NewBroadcaster(cfg.MarketConfig, e.Series, logger.Named("market"))
	e.Clock = clockservice.NewService(cfg.ClockConfig, e.Series, e.onClock, logger.Named("clock"))

	e.Brokers, err = brokerservice.NewBrokerService(cfg.BrokerConfig, brokers, e, e, logger.Named("broker"))
	if err != nil {
		e.Clock.Close()
		e.Market.Close()
		e.Persister.Close()
		return nil, fmt.Errorf("load brokers: %w", err)
	}

	if err := e.boot(ctx, settings, haveSettings); err != nil {
		e.Close()
		return nil, err
	}

	logger.Info("exchange ready",
		zap.Int("stocks", len(stocks)),
		zap.Int("brokers", len(brokers)),
		zap.Stringer("date", e.Clock.Status().CurrentDate))
	return e, nil
}

func (e *Exchange) loadStocks(ctx context.Context) ([]market.Stock, error) {
	stocks, err := e.store.LoadStocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stocks: %w", err)
	}
	if len(stocks) > 0 || len(e.cfg.Stocks) == 0 {
		return stocks, nil
	}
	for _, st := range e.cfg.Stocks {
		if err := e.store.SaveStock(ctx, st); err != nil {
			return nil, fmt.Errorf("seed stock %s: %w", st.Symbol, err)
		}
	}
	return e.cfg.Stocks, nil
}

// boot applies saved settings and publishes the first snapshot.
func (e *Exchange) boot(ctx context.Context, settings clock.Settings, ok bool) error {
	if !ok {
		_, err := e.Clock.Refresh(ctx)
		return err
	}
	if _, err := e.Clock.Restore(ctx, settings); err != nil {
		return fmt.Errorf("restore clock: %w", err)
	}
	if settings.Running && e.cfg.ResumeOnBoot {
		if _, err := e.Clock.Start(ctx, clock.StartRequest{}); err != nil && !errors.Is(err, clock.ErrNoData) {
			return fmt.Errorf("resume clock: %w", err)
		}
	}
	return nil
}

// onClock runs on the clock goroutine for every status it publishes.
func (e *Exchange) onClock(ctx context.Context, st clock.Status) {
	e.Market.Publish(ctx, st)
	if st.Event.Transition() {
		settings := st.Settings
		e.Persister.Enqueue("settings", func(ctx context.Context) error {
			return e.store.SaveSettings(ctx, settings)
		})
	}
	e.audit.PublishClock(ctx, st)
}

// Quote prices symbol at the current simulated date.
func (e *Exchange) Quote(symbol string) (broker.Quote, error) {
	day := e.Clock.Status().CurrentDate

	enabled, err := e.Series.Enabled(symbol)
	if err != nil {
		return broker.Quote{}, fmt.Errorf("%w: %w", broker.ErrPriceUnavailable, err)
	}
	if !enabled {
		return broker.Quote{}, fmt.Errorf("%w: %s", broker.ErrSymbolDisabled, symbol)
	}
	price, err := e.Series.PriceAt(symbol, day)
	if err != nil {
		return broker.Quote{}, fmt.Errorf("%w: %w", broker.ErrPriceUnavailable, err)
	}
	return broker.Quote{Symbol: market.NormalizeSymbol(symbol), Price: price, Date: day}, nil
}

// BrokerChanged queues the broker's new state for saving.
func (e *Exchange) BrokerChanged(b broker.Broker) {
	e.Persister.Enqueue("broker:"+b.ID, func(ctx context.Context) error {
		return e.store.SaveBroker(ctx, b)
	})
}

// BrokerDeleted queues the removal of the broker's record.
func (e *Exchange) BrokerDeleted(id string) {
	e.Persister.Enqueue("broker:"+id, func(ctx context.Context) error {
		return e.store.DeleteBroker(ctx, id)
	})
}

// OrderExecuted appends o to the order log, the archive and the audit stream.
func (e *Exchange) OrderExecuted(o broker.Order) {
	e.Persister.Enqueue("order:"+o.ID, func(ctx context.Context) error {
		return e.store.AppendOrder(ctx, o)
	})
	if e.archive != nil {
		e.Persister.Enqueue("archive:"+o.ID, func(ctx context.Context) error {
			return e.archive.AppendOrder(ctx, o)
		})
	}
	e.audit.PublishOrder(context.Background(), o)

	e.logger.Debug("order executed",
		zap.String("order", o.ID),
		zap.String("broker", o.BrokerID),
		zap.String("symbol", o.Symbol),
		zap.Stringer("side", o.Side),
		zap.Int64("quantity", o.Quantity),
		zap.String("value", broker.FormatMoney(o.Value(), e.cfg.Currency)),
		zap.Stringer("date", o.Date))
}

// Start starts or resumes the clock.
func (e *Exchange) Start(ctx context.Context, req clock.StartRequest) (clock.Status, error) {
	return e.Clock.Start(ctx, req)
}

// Pause pauses the clock.
func (e *Exchange) Pause(ctx context.Context) (clock.Status, error) {
	return e.Clock.Pause(ctx)
}

// Stop stops the clock and rewinds it to the start date.
func (e *Exchange) Stop(ctx context.Context) (clock.Status, error) {
	return e.Clock.Stop(ctx)
}

// Step advances a running or paused clock by one day.
func (e *Exchange) Step(ctx context.Context) (clock.Status, error) {
	return e.Clock.Step(ctx)
}

// Status returns the operator view of the exchange.
func (e *Exchange) Status() Status {
	return Status{
		Clock:            e.Clock.Status(),
		Stocks:           len(e.Series.Stocks()),
		Brokers:          e.Brokers.Count(),
		Subscribers:      e.Market.Subscribers(),
		DroppedSnapshots: e.Market.DroppedSnapshots(),
		Persistence:      e.Persister.Stats(),
		Currency:         e.cfg.Currency,
	}
}

// Currency returns the display currency.
func (e *Exchange) Currency() string { return e.cfg.Currency }

// Stocks lists every stock without its history.
func (e *Exchange) Stocks() []market.Stock {
	return e.Series.Stocks()
}

// Stock returns one stock with its history.
func (e *Exchange) Stock(symbol string) (market.Stock, error) {
	return e.Series.Stock(symbol)
}

// SetStockEnabled enables or disables trading of symbol. A change is saved
// and pushed to subscribers right away.
func (e *Exchange) SetStockEnabled(ctx context.Context, symbol string, enabled bool) (market.Stock, error) {
	st, changed, err := e.Series.SetEnabled(symbol, enabled)
	if err != nil {
		return market.Stock{}, err
	}
	if !changed {
		return st.Info(), nil
	}

	e.Persister.Enqueue("stock:"+st.Symbol, func(ctx context.Context) error {
		return e.store.SaveStock(ctx, st)
	})
	e.logger.Info("stock availability changed",
		zap.String("symbol", st.Symbol),
		zap.Bool("enabled", enabled))

	if _, err := e.Clock.Refresh(ctx); err != nil {
		return st.Info(), err
	}
	return st.Info(), nil
}

// SubmitOrder executes an order at the current simulated price.
func (e *Exchange) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	return e.Brokers.SubmitOrder(ctx, req)
}

// CreateBroker registers a broker.
func (e *Exchange) CreateBroker(ctx context.Context, nb broker.NewBroker) (broker.Broker, error) {
	return e.Brokers.CreateBroker(ctx, nb)
}

// ListBrokers returns every broker sorted by id.
func (e *Exchange) ListBrokers(ctx context.Context) ([]broker.Broker, error) {
	return e.Brokers.Brokers(ctx)
}

// Valuation returns a broker marked to market at the current date.
// Holdings that cannot be quoted are valued at cost.
func (e *Exchange) Valuation(ctx context.Context, id string) (broker.Valuation, error) {
	b, err := e.Brokers.Broker(ctx, id)
	if err != nil {
		return broker.Valuation{}, err
	}
	day := e.Clock.Status().CurrentDate
	return broker.Value(b, day, func(symbol string) (decimal.Decimal, bool) {
		q, err := e.Quote(symbol)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return q.Price, true
	}), nil
}

// AdjustBalance deposits (positive) or withdraws (negative) cash.
func (e *Exchange) AdjustBalance(ctx context.Context, id string, amount decimal.Decimal) (broker.Broker, error) {
	return e.Brokers.AdjustBalance(ctx, id, amount)
}

// DeleteBroker removes a broker, selling its holdings first when liquidate is set.
func (e *Exchange) DeleteBroker(ctx context.Context, id string, liquidate bool) ([]broker.Order, error) {
	return e.Brokers.DeleteBroker(ctx, id, liquidate)
}

// Orders returns up to n recent orders of a broker, oldest first. When the
// in-memory tape holds fewer than n and the archive can read history back,
// the older orders come from the archive.
func (e *Exchange) Orders(ctx context.Context, id string, n int) ([]broker.Order, error) {
	recent, err := e.Brokers.Orders(id, n)
	if err != nil || e.history == nil || n <= 0 || len(recent) >= n {
		return recent, err
	}

	archived, err := e.history.OrdersByBroker(ctx, id, n)
	if err != nil {
		e.logger.Warn("order history unavailable", zap.String("broker", id), zap.Error(err))
		return recent, nil
	}
	return mergeOrders(archived, recent, n), nil
}

// RecentOrders returns up to n of the latest orders across all brokers,
// oldest first.
func (e *Exchange) RecentOrders(n int) []broker.Order {
	return e.Brokers.RecentOrders(n)
}

// mergeOrders puts the archived orders missing from recent in front of it
// and keeps the last n. archived is most recent first; recent is oldest
// first and always newer than anything the tape has evicted.
func mergeOrders(archived, recent []broker.Order, n int) []broker.Order {
	seen := make(map[string]bool, len(recent))
	for _, o := range recent {
		seen[o.ID] = true
	}

	merged := make([]broker.Order, 0, len(archived)+len(recent))
	for i := len(archived) - 1; i >= 0; i-- {
		if !seen[archived[i].ID] {
			merged = append(merged, archived[i])
		}
	}
	merged = append(merged, recent...)

	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}
	return merged
}

// Subscribe registers a snapshot viewer.
func (e *Exchange) Subscribe() *marketview.Subscription[marketview.Snapshot] {
	return e.Market.Subscribe()
}

// Unsubscribe removes a snapshot viewer.
func (e *Exchange) Unsubscribe(sub *marketview.Subscription[marketview.Snapshot]) {
	e.Market.Unsubscribe(sub)
}

// Latest returns the most recent snapshot.
func (e *Exchange) Latest() (marketview.Snapshot, bool) {
	return e.Market.Latest()
}

// Close shuts down all subsystems in reverse dependency order and waits up
// to FlushTimeout for pending writes.
func (e *Exchange) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true

	// Stop producers first
	e.Clock.Close()
	e.Brokers.Close()
	e.Market.Close()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FlushTimeout)
	defer cancel()
	if err := e.Persister.Flush(ctx); err != nil {
		e.logger.Error("shutdown with unsaved changes", zap.Error(err))
	}
	e.Persister.Close()
}

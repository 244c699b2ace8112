package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/broker"
	brokerview "github.com/zappabad/tickreplay/internal/broker/view"
	"github.com/zappabad/tickreplay/internal/market"
)

// Pricer quotes a symbol at the current simulated date.
type Pricer interface {
	Quote(symbol string) (broker.Quote, error)
}

// Sink receives committed ledger changes. Implementations must not block.
type Sink interface {
	BrokerChanged(b broker.Broker)
	BrokerDeleted(id string)
	OrderExecuted(o broker.Order)
}

// BrokerService owns every broker's ledger. Each broker is served by its own
// goroutine, so orders of one broker are applied one at a time while
// different brokers proceed in parallel.
type BrokerService struct {
	cfg    Config
	pricer Pricer
	sink   Sink
	tape   *brokerview.OrderTape
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	accounts map[string]*account

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBrokerService starts a service over the loaded brokers.
func NewBrokerService(cfg Config, brokers []broker.Broker, pricer Pricer, sink Sink, logger *zap.Logger) (*BrokerService, error) {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = DefaultConfig().CommandBuffer
	}
	if cfg.OrderTapeSize <= 0 {
		cfg.OrderTapeSize = DefaultConfig().OrderTapeSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &BrokerService{
		cfg:      cfg,
		pricer:   pricer,
		sink:     sink,
		tape:     brokerview.NewOrderTape(cfg.OrderTapeSize),
		logger:   logger,
		now:      time.Now,
		accounts: make(map[string]*account, len(brokers)),
		closed:   make(chan struct{}),
	}

	for _, b := range brokers {
		if err := validateLoaded(b); err != nil {
			s.Close()
			return nil, err
		}
		if _, ok := s.accounts[b.ID]; ok {
			s.Close()
			return nil, fmt.Errorf("%w: %s", broker.ErrBrokerExists, b.ID)
		}
		s.startAccount(b)
	}

	return s, nil
}

func validateLoaded(b broker.Broker) error {
	if b.ID == "" {
		return fmt.Errorf("load broker: empty id")
	}
	if b.Balance.IsNegative() {
		return fmt.Errorf("load broker %s: negative balance %s", b.ID, b.Balance)
	}
	for sym, q := range b.Holdings {
		if q < 0 {
			return fmt.Errorf("load broker %s: negative holdings %s=%d", b.ID, sym, q)
		}
	}
	return nil
}

// startAccount must be called with mu held or before the service is shared.
func (s *BrokerService) startAccount(b broker.Broker) *account {
	a := newAccount(s, b)
	s.accounts[b.ID] = a

	s.wg.Add(1)
	go a.run()
	return a
}

func (s *BrokerService) lookup(id string) (*account, error) {
	s.mu.RLock()
	a, ok := s.accounts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", broker.ErrUnknownBroker, id)
	}
	return a, nil
}

func (s *BrokerService) send(ctx context.Context, a *account, cmd command) (response, error) {
	respCh := make(chan response, 1)
	cmd.respCh = respCh

	select {
	case <-s.closed:
		return response{}, context.Canceled
	case <-a.done:
		return response{}, fmt.Errorf("%w: %s", broker.ErrUnknownBroker, a.id)
	case <-ctx.Done():
		return response{}, ctx.Err()
	case a.cmdCh <- cmd:
	}

	// Once picked up, the command runs to completion even if ctx ends.
	select {
	case <-s.closed:
		return drain(respCh, context.Canceled)
	case <-a.done:
		return drain(respCh, fmt.Errorf("%w: %s", broker.ErrUnknownBroker, a.id))
	case <-ctx.Done():
		return response{}, ctx.Err()
	case resp := <-respCh:
		return resp, nil
	}
}

// drain prefers a reply that raced with shutdown over err.
func drain(respCh <-chan response, err error) (response, error) {
	select {
	case resp := <-respCh:
		return resp, nil
	default:
		return response{}, err
	}
}

// SubmitOrder executes req at the current simulated price of its symbol.
func (s *BrokerService) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	req.BrokerID = strings.TrimSpace(req.BrokerID)
	req.Symbol = market.NormalizeSymbol(req.Symbol)
	if req.BrokerID == "" || req.Symbol == "" {
		return broker.OrderResult{}, fmt.Errorf("%w: broker and symbol are required", broker.ErrInvalidOrder)
	}
	if req.Quantity <= 0 {
		return broker.OrderResult{}, fmt.Errorf("%w: quantity must be positive, got %d", broker.ErrInvalidOrder, req.Quantity)
	}

	a, err := s.lookup(req.BrokerID)
	if err != nil {
		return broker.OrderResult{}, err
	}
	resp, err := s.send(ctx, a, command{typ: cmdSubmit, req: req})
	if err != nil {
		return broker.OrderResult{}, err
	}
	return resp.result, resp.err
}

// CreateBroker registers a new broker with an opening balance.
func (s *BrokerService) CreateBroker(ctx context.Context, nb broker.NewBroker) (broker.Broker, error) {
	if err := ctx.Err(); err != nil {
		return broker.Broker{}, err
	}
	id := strings.TrimSpace(nb.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if nb.Balance.IsNegative() {
		return broker.Broker{}, fmt.Errorf("%w: opening balance %s", broker.ErrInvalidAmount, nb.Balance)
	}
	name := strings.TrimSpace(nb.Name)
	if name == "" {
		name = id
	}

	b := broker.Broker{
		ID:        id,
		Name:      name,
		Balance:   nb.Balance,
		Holdings:  map[string]int64{},
		CostBasis: map[string]decimal.Decimal{},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return broker.Broker{}, context.Canceled
	default:
	}
	if _, ok := s.accounts[id]; ok {
		return broker.Broker{}, fmt.Errorf("%w: %s", broker.ErrBrokerExists, id)
	}
	s.startAccount(b)
	s.sink.BrokerChanged(b.Clone())

	s.logger.Info("broker created",
		zap.String("broker", id),
		zap.String("balance", b.Balance.String()))
	return b, nil
}

// Broker returns a copy of one broker.
func (s *BrokerService) Broker(ctx context.Context, id string) (broker.Broker, error) {
	a, err := s.lookup(id)
	if err != nil {
		return broker.Broker{}, err
	}
	resp, err := s.send(ctx, a, command{typ: cmdGet})
	if err != nil {
		return broker.Broker{}, err
	}
	return resp.broker, nil
}

// Brokers returns a copy of every broker, sorted by id.
func (s *BrokerService) Brokers(ctx context.Context) ([]broker.Broker, error) {
	s.mu.RLock()
	accounts := make([]*account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	s.mu.RUnlock()

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].id < accounts[j].id })

	out := make([]broker.Broker, 0, len(accounts))
	for _, a := range accounts {
		resp, err := s.send(ctx, a, command{typ: cmdGet})
		if err != nil {
			if errors.Is(err, broker.ErrUnknownBroker) {
				continue
			}
			return nil, err
		}
		out = append(out, resp.broker)
	}
	return out, nil
}

// AdjustBalance adds amount (negative to withdraw) to a broker's cash.
func (s *BrokerService) AdjustBalance(ctx context.Context, id string, amount decimal.Decimal) (broker.Broker, error) {
	if amount.IsZero() {
		return broker.Broker{}, fmt.Errorf("%w: zero adjustment", broker.ErrInvalidAmount)
	}
	a, err := s.lookup(id)
	if err != nil {
		return broker.Broker{}, err
	}
	resp, err := s.send(ctx, a, command{typ: cmdAdjust, amount: amount})
	if err != nil {
		return broker.Broker{}, err
	}
	return resp.broker, resp.err
}

// DeleteBroker removes a broker. A broker with holdings is only removed when
// liquidate is set, after selling everything at the current prices.
func (s *BrokerService) DeleteBroker(ctx context.Context, id string, liquidate bool) ([]broker.Order, error) {
	a, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	resp, err := s.send(ctx, a, command{typ: cmdRetire, liquidate: liquidate})
	if err != nil {
		return nil, err
	}
	if resp.err != nil {
		return nil, resp.err
	}

	s.mu.Lock()
	if s.accounts[id] == a {
		delete(s.accounts, id)
	}
	s.mu.Unlock()
	s.tape.Forget(id)

	return resp.orders, nil
}

// Orders returns up to n of a broker's most recent orders.
func (s *BrokerService) Orders(id string, n int) ([]broker.Order, error) {
	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	return s.tape.ForBroker(id, n), nil
}

// RecentOrders returns up to n of the most recent orders of all brokers.
func (s *BrokerService) RecentOrders(n int) []broker.Order {
	return s.tape.Last(n)
}

// Count returns the number of brokers.
func (s *BrokerService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// Close stops every broker goroutine. Orders already being applied complete first.
func (s *BrokerService) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.wg.Wait()
}

package service

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/broker"
)

// command types
type cmdType int

const (
	cmdSubmit cmdType = iota
	cmdGet
	cmdAdjust
	cmdRetire
)

type command struct {
	typ       cmdType
	req       broker.OrderRequest
	amount    decimal.Decimal
	liquidate bool
	respCh    chan<- response
}

type response struct {
	result broker.OrderResult
	broker broker.Broker
	orders []broker.Order
	err    error
}

// account is the serialization point of one broker: its state is only read
// and written by the run goroutine.
type account struct {
	id    string
	state broker.Broker
	svc   *BrokerService

	cmdCh chan command
	done  chan struct{}
}

func newAccount(svc *BrokerService, b broker.Broker) *account {
	state := b.Clone()
	for sym, q := range state.Holdings {
		if q == 0 {
			delete(state.Holdings, sym)
			delete(state.CostBasis, sym)
		}
	}
	return &account{
		id:    b.ID,
		state: state,
		svc:   svc,
		cmdCh: make(chan command, svc.cfg.CommandBuffer),
		done:  make(chan struct{}),
	}
}

func (a *account) run() {
	defer a.svc.wg.Done()
	defer close(a.done)

	for {
		select {
		case <-a.svc.closed:
			return
		case cmd := <-a.cmdCh:
			if retired := a.processCommand(cmd); retired {
				return
			}
		}
	}
}

func (a *account) processCommand(cmd command) (retired bool) {
	var resp response

	switch cmd.typ {
	case cmdSubmit:
		resp.result, resp.err = a.submit(cmd.req)
	case cmdGet:
		resp.broker = a.state.Clone()
	case cmdAdjust:
		resp.err = a.state.Adjust(cmd.amount)
		if resp.err == nil {
			a.svc.sink.BrokerChanged(a.state.Clone())
		}
		resp.broker = a.state.Clone()
	case cmdRetire:
		resp.orders, resp.err = a.retire(cmd.liquidate)
		retired = resp.err == nil
	}

	if cmd.respCh != nil {
		cmd.respCh <- resp
	}
	return retired
}

// submit prices, validates and applies one order. The quote is taken once and
// used for both the check and the settlement.
func (a *account) submit(req broker.OrderRequest) (broker.OrderResult, error) {
	q, err := a.svc.pricer.Quote(req.Symbol)
	if err != nil {
		a.reject(req, err)
		return broker.OrderResult{}, err
	}
	if err := a.state.Apply(req.Side, q.Symbol, req.Quantity, q.Price); err != nil {
		a.reject(req, err)
		return broker.OrderResult{}, err
	}

	order := a.record(req.Side, q, req.Quantity)
	a.svc.sink.BrokerChanged(a.state.Clone())

	return broker.OrderResult{
		OrderID:     order.ID,
		Price:       order.Price,
		Date:        order.Date,
		NewBalance:  a.state.Balance,
		NewHoldings: a.state.HoldingsCopy(),
	}, nil
}

func (a *account) record(side broker.Side, q broker.Quote, quantity int64) broker.Order {
	order := broker.Order{
		ID:          uuid.NewString(),
		BrokerID:    a.id,
		Symbol:      q.Symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       q.Price,
		Date:        q.Date,
		SubmittedAt: a.svc.now(),
	}
	a.svc.tape.Add(order)
	a.svc.sink.OrderExecuted(order)

	a.svc.logger.Info("order executed",
		zap.String("broker", a.id),
		zap.String("order", order.ID),
		zap.String("symbol", order.Symbol),
		zap.Stringer("side", order.Side),
		zap.Int64("quantity", order.Quantity),
		zap.String("price", order.Price.String()),
		zap.Stringer("date", order.Date))
	return order
}

func (a *account) reject(req broker.OrderRequest, err error) {
	a.svc.logger.Info("order rejected",
		zap.String("broker", a.id),
		zap.String("symbol", req.Symbol),
		zap.Stringer("side", req.Side),
		zap.Int64("quantity", req.Quantity),
		zap.String("kind", broker.Kind(err)),
		zap.Error(err))
}

// retire closes the account. With liquidate, every holding is first sold at
// the current price; if any holding cannot be priced nothing is sold.
func (a *account) retire(liquidate bool) ([]broker.Order, error) {
	if len(a.state.Holdings) > 0 && !liquidate {
		return nil, fmt.Errorf("%w: %s holds %d symbols", broker.ErrHoldingsNotEmpty, a.id, len(a.state.Holdings))
	}

	symbols := a.state.Symbols()
	quotes := make([]broker.Quote, 0, len(symbols))
	for _, sym := range symbols {
		q, err := a.svc.pricer.Quote(sym)
		if err != nil {
			return nil, fmt.Errorf("liquidate %s: %w", sym, err)
		}
		quotes = append(quotes, q)
	}

	// Sells are staged on a copy; nothing is recorded unless all succeed.
	staged := a.state.Clone()
	for _, q := range quotes {
		if err := staged.Sell(q.Symbol, staged.Holdings[q.Symbol], q.Price); err != nil {
			return nil, fmt.Errorf("liquidate %s: %w", q.Symbol, err)
		}
	}

	orders := make([]broker.Order, 0, len(quotes))
	for _, q := range quotes {
		orders = append(orders, a.record(broker.SideSell, q, a.state.Holdings[q.Symbol]))
	}
	a.state = staged

	a.svc.sink.BrokerDeleted(a.id)
	a.svc.logger.Info("broker deleted",
		zap.String("broker", a.id),
		zap.Int("liquidated", len(orders)),
		zap.String("balance", a.state.Balance.String()))
	return orders, nil
}

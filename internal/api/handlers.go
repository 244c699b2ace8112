package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/date"
)

// StartRequest is the body of POST /admin/start. Both fields are optional.
type StartRequest struct {
	StartDate   date.Date `json:"startDate"`
	TickSeconds float64   `json:"tickSeconds"`
}

// EnabledRequest is the body of PUT /stocks/{symbol}/enabled.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// AmountRequest is the body of POST /brokers/{id}/balance.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// OrderRequest is the body of POST /orders. Side is required.
type OrderRequest struct {
	BrokerID string `json:"brokerId"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
}

// DeleteResponse lists the orders a liquidating delete executed.
type DeleteResponse struct {
	ID          string         `json:"id"`
	Liquidation []broker.Order `json:"liquidation"`
}

// decode reads a JSON body. An empty body leaves v unchanged when optional.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return invalidInput(fmt.Errorf("invalid payload: %w", err))
	}
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.ex.Latest()
	if !ok {
		s.writeError(w, r, clock.ErrNoData)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ex.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.TickSeconds < 0 {
		s.writeError(w, r, fmt.Errorf("%w: %g seconds", clock.ErrInvalidInterval, req.TickSeconds))
		return
	}

	st, err := s.ex.Start(r.Context(), clock.StartRequest{
		StartDate:    req.StartDate,
		TickInterval: clock.Seconds(req.TickSeconds),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) clockHandler(op func(context.Context) (clock.Status, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := op(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ex.Stocks())
}

func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	st, err := s.ex.Stock(r.PathValue("symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStockEnabled(w http.ResponseWriter, r *http.Request) {
	var req EnabledRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Enabled == nil {
		s.writeError(w, r, invalidInput(errors.New("enabled is required")))
		return
	}

	st, err := s.ex.SetStockEnabled(r.Context(), r.PathValue("symbol"), *req.Enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleBrokers(w http.ResponseWriter, r *http.Request) {
	brokers, err := s.ex.ListBrokers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, brokers)
}

func (s *Server) handleCreateBroker(w http.ResponseWriter, r *http.Request) {
	var req broker.NewBroker
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	b, err := s.ex.CreateBroker(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleBroker(w http.ResponseWriter, r *http.Request) {
	v, err := s.ex.Valuation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteBroker(w http.ResponseWriter, r *http.Request) {
	liquidate := false
	if v := r.URL.Query().Get("liquidate"); v != "" {
		var err error
		if liquidate, err = strconv.ParseBool(v); err != nil {
			s.writeError(w, r, invalidInput(fmt.Errorf("liquidate: %w", err)))
			return
		}
	}

	id := r.PathValue("id")
	orders, err := s.ex.DeleteBroker(r.Context(), id, liquidate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []broker.Order{}
	}
	writeJSON(w, http.StatusOK, DeleteResponse{ID: id, Liquidation: orders})
}

func (s *Server) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	b, err := s.ex.AdjustBalance(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// orderLimit reads the optional limit query parameter, capped at OrderLimit.
func (s *Server) orderLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return s.cfg.OrderLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, invalidInput(fmt.Errorf("limit must be a positive integer, got %q", v))
	}
	return min(n, s.cfg.OrderLimit), nil
}

func (s *Server) handleBrokerOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := s.orderLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	orders, err := s.ex.Orders(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []broker.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleRecentOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := s.orderLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	orders := s.ex.RecentOrders(limit)
	if orders == nil {
		orders = []broker.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var body OrderRequest
	if err := decode(r, &body, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	side, err := broker.ParseSide(body.Side)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.ex.SubmitOrder(r.Context(), broker.OrderRequest{
		BrokerID: body.BrokerID,
		Symbol:   body.Symbol,
		Side:     side,
		Quantity: body.Quantity,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

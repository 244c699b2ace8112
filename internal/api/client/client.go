// Package client talks to a running exchange over HTTP and its snapshot
// websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/zappabad/tickreplay/internal/api"
	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/exchange"
	"github.com/zappabad/tickreplay/internal/market"
	marketview "github.com/zappabad/tickreplay/internal/market/view"
)

// Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	dialer *websocket.Dialer
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &Client{
		base:   u,
		token:  token,
		http:   &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		appErr := &api.AppError{Code: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(appErr); err != nil || appErr.Message == "" {
			appErr.Message = resp.Status
		}
		return appErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status returns the exchange status.
func (c *Client) Status(ctx context.Context) (exchange.Status, error) {
	var st exchange.Status
	err := c.do(ctx, http.MethodGet, "/admin/status", nil, &st)
	return st, err
}

// Snapshot returns the latest snapshot.
func (c *Client) Snapshot(ctx context.Context) (marketview.Snapshot, error) {
	var snap marketview.Snapshot
	err := c.do(ctx, http.MethodGet, "/snapshot", nil, &snap)
	return snap, err
}

func (c *Client) Start(ctx context.Context, req api.StartRequest) (clock.Status, error) {
	var st clock.Status
	err := c.do(ctx, http.MethodPost, "/admin/start", req, &st)
	return st, err
}

func (c *Client) Pause(ctx context.Context) (clock.Status, error) {
	var st clock.Status
	err := c.do(ctx, http.MethodPost, "/admin/pause", nil, &st)
	return st, err
}

func (c *Client) Stop(ctx context.Context) (clock.Status, error) {
	var st clock.Status
	err := c.do(ctx, http.MethodPost, "/admin/stop", nil, &st)
	return st, err
}

func (c *Client) Step(ctx context.Context) (clock.Status, error) {
	var st clock.Status
	err := c.do(ctx, http.MethodPost, "/admin/step", nil, &st)
	return st, err
}

func (c *Client) Stocks(ctx context.Context) ([]market.Stock, error) {
	var out []market.Stock
	err := c.do(ctx, http.MethodGet, "/stocks", nil, &out)
	return out, err
}

func (c *Client) SetStockEnabled(ctx context.Context, symbol string, enabled bool) (market.Stock, error) {
	var st market.Stock
	err := c.do(ctx, http.MethodPut, "/stocks/"+url.PathEscape(symbol)+"/enabled", api.EnabledRequest{Enabled: &enabled}, &st)
	return st, err
}

func (c *Client) Brokers(ctx context.Context) ([]broker.Broker, error) {
	var out []broker.Broker
	err := c.do(ctx, http.MethodGet, "/brokers", nil, &out)
	return out, err
}

func (c *Client) CreateBroker(ctx context.Context, nb broker.NewBroker) (broker.Broker, error) {
	var b broker.Broker
	err := c.do(ctx, http.MethodPost, "/brokers", nb, &b)
	return b, err
}

// Broker returns a broker valued at the current simulated date.
func (c *Client) Broker(ctx context.Context, id string) (broker.Valuation, error) {
	var v broker.Valuation
	err := c.do(ctx, http.MethodGet, "/brokers/"+url.PathEscape(id), nil, &v)
	return v, err
}

func (c *Client) AdjustBalance(ctx context.Context, id string, amount decimal.Decimal) (broker.Broker, error) {
	var b broker.Broker
	err := c.do(ctx, http.MethodPost, "/brokers/"+url.PathEscape(id)+"/balance", api.AmountRequest{Amount: amount}, &b)
	return b, err
}

func (c *Client) DeleteBroker(ctx context.Context, id string, liquidate bool) (api.DeleteResponse, error) {
	var out api.DeleteResponse
	path := "/brokers/" + url.PathEscape(id) + "?liquidate=" + strconv.FormatBool(liquidate)
	err := c.do(ctx, http.MethodDelete, path, nil, &out)
	return out, err
}

func (c *Client) Orders(ctx context.Context, id string, limit int) ([]broker.Order, error) {
	var out []broker.Order
	path := "/brokers/" + url.PathEscape(id) + "/orders?limit=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// RecentOrders returns up to limit of the latest orders of all brokers.
func (c *Client) RecentOrders(ctx context.Context, limit int) ([]broker.Order, error) {
	var out []broker.Order
	err := c.do(ctx, http.MethodGet, "/orders?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

// SubmitOrder places an order at the current simulated price.
func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	var res broker.OrderResult
	body := api.OrderRequest{
		BrokerID: req.BrokerID,
		Symbol:   req.Symbol,
		Side:     req.Side.String(),
		Quantity: req.Quantity,
	}
	err := c.do(ctx, http.MethodPost, "/orders", body, &res)
	return res, err
}

// Subscribe streams snapshots until ctx ends or the connection drops; the
// returned channel is closed then.
func (c *Client) Subscribe(ctx context.Context) (<-chan marketview.Snapshot, error) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws/snapshots"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	out := make(chan marketview.Snapshot, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var snap marketview.Snapshot
			if err := conn.ReadJSON(&snap); err != nil {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

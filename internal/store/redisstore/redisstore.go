package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/market"
	"github.com/zappabad/tickreplay/internal/store"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "tickreplay"

// Compile-time check to ensure Store implements store.Store
var _ store.Store = (*Store)(nil)

// Store keeps exchange state in Redis:
//
//	<prefix>:brokers      hash id -> broker JSON
//	<prefix>:stocks       hash symbol -> stock JSON
//	<prefix>:settings     string settings JSON
//	<prefix>:orders       hash order id -> order JSON
//	<prefix>:orders:seq   sorted set of order ids by submission time
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps client. An empty prefix uses DefaultPrefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(name string) string { return s.prefix + ":" + name }

// Ping checks the connection to the Redis server.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// LoadBrokers reads every broker, sorted by id.
func (s *Store) LoadBrokers(ctx context.Context) ([]broker.Broker, error) {
	vals, err := s.client.HGetAll(ctx, s.key("brokers")).Result()
	if err != nil {
		return nil, fmt.Errorf("load brokers: %w", err)
	}
	out := make([]broker.Broker, 0, len(vals))
	for id, raw := range vals {
		var b broker.Broker
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("decode broker %s: %w", id, err)
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveBroker replaces the broker's record.
func (s *Store) SaveBroker(ctx context.Context, b broker.Broker) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key("brokers"), b.ID, raw).Err()
}

// DeleteBroker removes the broker's record.
func (s *Store) DeleteBroker(ctx context.Context, id string) error {
	return s.client.HDel(ctx, s.key("brokers"), id).Err()
}

// LoadStocks reads every stock, sorted by symbol.
func (s *Store) LoadStocks(ctx context.Context) ([]market.Stock, error) {
	vals, err := s.client.HGetAll(ctx, s.key("stocks")).Result()
	if err != nil {
		return nil, fmt.Errorf("load stocks: %w", err)
	}
	out := make([]market.Stock, 0, len(vals))
	for sym, raw := range vals {
		var st market.Stock
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("decode stock %s: %w", sym, err)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// SaveStock replaces the stock's record.
func (s *Store) SaveStock(ctx context.Context, st market.Stock) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key("stocks"), st.Symbol, raw).Err()
}

// LoadSettings reads the settings record.
func (s *Store) LoadSettings(ctx context.Context) (clock.Settings, error) {
	raw, err := s.client.Get(ctx, s.key("settings")).Bytes()
	if errors.Is(err, redis.Nil) {
		return clock.Settings{}, store.ErrNotFound
	}
	if err != nil {
		return clock.Settings{}, err
	}
	var st clock.Settings
	if err := json.Unmarshal(raw, &st); err != nil {
		return clock.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return st, nil
}

// SaveSettings replaces the settings record.
func (s *Store) SaveSettings(ctx context.Context, st clock.Settings) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("settings"), raw, 0).Err()
}

// AppendOrder records o once; repeated appends of the same id are no-ops.
func (s *Store) AppendOrder(ctx context.Context, o broker.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, s.key("orders"), o.ID, raw)
		pipe.ZAddNX(ctx, s.key("orders:seq"), redis.Z{
			Score:  float64(o.SubmittedAt.UnixNano()),
			Member: o.ID,
		})
		return nil
	})
	return err
}

// Orders returns every recorded order in submission order.
func (s *Store) Orders(ctx context.Context) ([]broker.Order, error) {
	ids, err := s.client.ZRange(ctx, s.key("orders:seq"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.key("orders"), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]broker.Order, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var o broker.Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", ids[i], err)
		}
		out = append(out, o)
	}
	return out, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

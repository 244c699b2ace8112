// Package jsonfile stores exchange state as JSON documents in a directory:
//
//	brokers/<id>.json
//	stocks/<SYMBOL>.json
//	settings.json
//	orders.jsonl
package jsonfile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/market"
	"github.com/zappabad/tickreplay/internal/store"
)

const (
	brokersDir   = "brokers"
	stocksDir    = "stocks"
	settingsFile = "settings.json"
	ordersFile   = "orders.jsonl"
)

// Store is a store.Store backed by a directory.
type Store struct {
	dir string

	mu       sync.Mutex
	orderIDs map[string]struct{}
}

var _ store.Store = (*Store)(nil)

// Open creates the directory layout under dir if needed.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{brokersDir, stocksDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("open store %s: %w", dir, err)
		}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.

func fileName(key string) string { return url.PathEscape(key) + ".json" }

// LoadBrokers reads every broker record.
func (s *Store) LoadBrokers(ctx context.Context) ([]broker.Broker, error) {
	var out []broker.Broker
	err := s.readAll(ctx, brokersDir, func(b []byte) error {
		var v broker.Broker
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// SaveBroker replaces the broker's record.
func (s *Store) SaveBroker(ctx context.Context, b broker.Broker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.dir, brokersDir, fileName(b.ID)), b)
}

// DeleteBroker removes the broker's record. Deleting a missing broker is not an error.
func (s *Store) DeleteBroker(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, brokersDir, fileName(id)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete broker %s: %w", id, err)
	}
	return nil
}

// LoadStocks reads every stock record.
func (s *Store) LoadStocks(ctx context.Context) ([]market.Stock, error) {
	var out []market.Stock
	err := s.readAll(ctx, stocksDir, func(b []byte) error {
		var v market.Stock
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// SaveStock replaces the stock's record.
func (s *Store) SaveStock(ctx context.Context, st market.Stock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.dir, stocksDir, fileName(st.Symbol)), st)
}

// LoadSettings reads settings.json.
func (s *Store) LoadSettings(ctx context.Context) (clock.Settings, error) {
	if err := ctx.Err(); err != nil {
		return clock.Settings{}, err
	}
	b, err := os.ReadFile(filepath.Join(s.dir, settingsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return clock.Settings{}, store.ErrNotFound
	}
	if err != nil {
		return clock.Settings{}, err
	}
	var st clock.Settings
	if err := json.Unmarshal(b, &st); err != nil {
		return clock.Settings{}, fmt.Errorf("decode %s: %w", settingsFile, err)
	}
	return st, nil
}

// SaveSettings replaces settings.json.
func (s *Store) SaveSettings(ctx context.Context, st clock.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.dir, settingsFile), st)
}

// AppendOrder appends one JSON line to orders.jsonl unless the id is already there.
func (s *Store) AppendOrder(ctx context.Context, o broker.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.orderIDs == nil {
		ids, err := s.scanOrderIDs()
		if err != nil {
			return err
		}
		s.orderIDs = ids
	}
	if _, ok := s.orderIDs[o.ID]; ok {
		return nil
	}

	line, err := json.Marshal(o)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, ordersFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.orderIDs[o.ID] = struct{}{}
	return nil
}

// Orders reads the whole order log.
func (s *Store) Orders(ctx context.Context) ([]broker.Order, error) {
	var out []broker.Order
	err := s.scanOrders(func(o broker.Order) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

func (s *Store) scanOrderIDs() (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	err := s.scanOrders(func(o broker.Order) error {
		ids[o.ID] = struct{}{}
		return nil
	})
	return ids, err
}

func (s *Store) scanOrders(fn func(broker.Order) error) error {
	f, err := os.Open(filepath.Join(s.dir, ordersFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var o broker.Order
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			return fmt.Errorf("%s:%d: %w", ordersFile, line, err)
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

func (s *Store) readAll(ctx context.Context, sub string, decode func([]byte) error) error {
	dir := filepath.Join(s.dir, sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := decode(b); err != nil {
			return fmt.Errorf("decode %s: %w", filepath.Join(sub, name), err)
		}
	}
	return nil
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

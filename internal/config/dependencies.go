package config

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/audit"
	"github.com/zappabad/tickreplay/internal/exchange"
	"github.com/zappabad/tickreplay/internal/store"
	"github.com/zappabad/tickreplay/internal/store/jsonfile"
	"github.com/zappabad/tickreplay/internal/store/postgres"
	"github.com/zappabad/tickreplay/internal/store/redisstore"
)

// Dependencies are the external resources opened for one process.
type Dependencies struct {
	Store   store.Store
	Archive *postgres.OrderArchive
	Audit   audit.Publisher
	Logger  *zap.Logger
}

type Option func(context.Context, *Dependencies) error

// Close releases every opened resource.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}

	if d.Audit != nil {
		if err := d.Audit.Close(); err != nil && d.Logger != nil {
			d.Logger.Warn("close audit writer", zap.Error(err))
		}
	}
	if d.Archive != nil {
		d.Archive.Close()
	}
	if d.Store != nil {
		d.Store.Close()
	}
}

// Exchange returns the exchange view of the dependencies.
func (d *Dependencies) Exchange() exchange.Deps {
	deps := exchange.Deps{Store: d.Store, Audit: d.Audit, Logger: d.Logger}
	if d.Archive != nil {
		deps.Archive = d.Archive
	}
	return deps
}

// NewDependencies applies opts in order. On failure everything opened so
// far is closed.
func NewDependencies(ctx context.Context, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{}

	for _, opt := range opts {
		if err := opt(ctx, deps); err != nil {
			deps.Close()
			return nil, err
		}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return deps, nil
}

// FromConfig returns the options selected by cfg, logger first.
func FromConfig(cfg *Config) []Option {
	opts := []Option{WithLogger(cfg.Log)}
	switch cfg.Store.Driver {
	case DriverRedis:
		opts = append(opts, WithRedis(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB, cfg.Store.RedisPrefix))
	default:
		opts = append(opts, WithJSONStore(cfg.Store.Dir))
	}
	if cfg.Postgres.URL != "" {
		opts = append(opts, WithPostgres(cfg.Postgres.URL))
	}
	if cfg.Kafka.Enabled {
		opts = append(opts, WithKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	return opts
}

func WithLogger(cfg LogConfig) Option {
	return func(_ context.Context, d *Dependencies) error {
		logger, err := NewLogger(cfg)
		if err != nil {
			return err
		}
		d.Logger = logger
		return nil
	}
}

func WithJSONStore(dir string) Option {
	return func(_ context.Context, d *Dependencies) error {
		st, err := jsonfile.Open(dir)
		if err != nil {
			return err
		}
		d.Store = st
		return nil
	}
}

func WithRedis(addr, password string, db int, prefix string) Option {
	return func(ctx context.Context, d *Dependencies) error {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})

		st := redisstore.New(client, prefix)
		if err := st.Ping(ctx); err != nil {
			client.Close()
			return fmt.Errorf("redis %s: %w", addr, err)
		}

		d.Store = st
		return nil
	}
}

// WithPostgres opens the order archive and creates its table.
func WithPostgres(connString string) Option {
	return func(ctx context.Context, d *Dependencies) error {
		pool, err := pgxpool.New(ctx, connString)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("postgres: %w", err)
		}

		archive := postgres.NewOrderArchive(pool, d.logger().Named("archive"))
		if err := archive.EnsureSchema(ctx); err != nil {
			archive.Close()
			return err
		}
		d.Archive = archive
		return nil
	}
}

func WithKafka(brokers []string, topic string) Option {
	return func(_ context.Context, d *Dependencies) error {
		logger := d.logger().Named("audit")
		w := audit.NewKafkaWriter(audit.KafkaConfig{Brokers: brokers, Topic: topic}, logger)
		d.Audit = audit.NewKafkaPublisher(w, logger)
		return nil
	}
}

func (d *Dependencies) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/date"
	"github.com/zappabad/tickreplay/internal/store"
)

var (
	_ store.OrderLog     = (*OrderArchive)(nil)
	_ store.OrderHistory = (*OrderArchive)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id           TEXT PRIMARY KEY,
	broker_id    TEXT        NOT NULL,
	symbol       TEXT        NOT NULL,
	side         TEXT        NOT NULL,
	quantity     BIGINT      NOT NULL CHECK (quantity > 0),
	price        NUMERIC     NOT NULL,
	sim_date     DATE        NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_broker_idx ON orders (broker_id, submitted_at);
`

// OrderArchive mirrors the order log into a Postgres table for reporting.
type OrderArchive struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewOrderArchive wraps an open pool.
func NewOrderArchive(db *pgxpool.Pool, logger *zap.Logger) *OrderArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderArchive{db: db, logger: logger}
}

// EnsureSchema creates the orders table if it does not exist.
func (r *OrderArchive) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create orders schema: %w", err)
	}
	return nil
}

// AppendOrder inserts o; an existing row with the same id is left untouched.
func (r *OrderArchive) AppendOrder(ctx context.Context, o broker.Order) error {
	query := `
		INSERT INTO orders (id, broker_id, symbol, side, quantity, price, sim_date, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::date, $8)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query,
		o.ID,
		o.BrokerID,
		o.Symbol,
		o.Side.String(),
		o.Quantity,
		o.Price.String(),
		o.Date.String(),
		o.SubmittedAt,
	)
	if err != nil {
		r.logger.Error("failed to archive order", zap.String("order", o.ID), zap.Error(err))
		return err
	}
	return nil
}

// OrdersByBroker returns up to limit of a broker's orders, most recent first.
func (r *OrderArchive) OrdersByBroker(ctx context.Context, brokerID string, limit int) ([]broker.Order, error) {
	query := `
		SELECT id, broker_id, symbol, side, quantity, price::text, to_char(sim_date, 'YYYY-MM-DD'), submitted_at
		FROM orders
		WHERE broker_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, brokerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.Order
	for rows.Next() {
		var (
			o                   broker.Order
			side, price, simDay string
		)
		if err := rows.Scan(&o.ID, &o.BrokerID, &o.Symbol, &side, &o.Quantity, &price, &simDay, &o.SubmittedAt); err != nil {
			return nil, err
		}
		if o.Side, err = broker.ParseSide(side); err != nil {
			return nil, err
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if o.Date, err = date.Parse(simDay); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close closes the pool.
func (r *OrderArchive) Close() {
	r.db.Close()
}

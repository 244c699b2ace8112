// Package audit emits an event stream of executed orders and clock
// transitions for downstream consumers.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
)

// Event types.
const (
	TypeOrder = "order"
	TypeClock = "clock"
)

// Publisher receives audit events. Implementations must not block the caller
// for long; failures are logged, not returned to the exchange.
type Publisher interface {
	PublishOrder(ctx context.Context, o broker.Order)
	PublishClock(ctx context.Context, st clock.Status)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishOrder(context.Context, broker.Order)  {}
func (Nop) PublishClock(context.Context, clock.Status) {}
func (Nop) Close() error                               { return nil }

// Event is the JSON payload of one audit message.
type Event struct {
	Type  string        `json:"type"`
	At    time.Time     `json:"at"`
	Order *broker.Order `json:"order,omitempty"`
	Clock *clock.Status `json:"clock,omitempty"`
}

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures NewKafkaWriter.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

// NewKafkaWriter builds an async writer; delivery errors surface through
// the writer's completion callback rather than WriteMessages.
func NewKafkaWriter(cfg KafkaConfig, logger *zap.Logger) *kafka.Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("audit delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
}

// KafkaPublisher writes events to a topic. Orders are keyed by broker id so
// each broker's orders stay in one partition.
type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
	now    func() time.Time
}

// NewKafkaPublisher wraps w.
func NewKafkaPublisher(w MessageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, logger: logger, now: time.Now}
}

func (p *KafkaPublisher) PublishOrder(ctx context.Context, o broker.Order) {
	p.write(ctx, o.BrokerID, Event{Type: TypeOrder, At: p.now(), Order: &o})
}

// PublishClock only forwards transitions; plain ticks are not audited.
func (p *KafkaPublisher) PublishClock(ctx context.Context, st clock.Status) {
	if !st.Event.Transition() {
		return
	}
	p.write(ctx, TypeClock, Event{Type: TypeClock, At: p.now(), Clock: &st})
}

func (p *KafkaPublisher) write(ctx context.Context, key string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("audit encode failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		p.logger.Warn("audit write failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

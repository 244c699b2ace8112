package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/date"
)

type fixedPrices map[string]decimal.Decimal

func (p fixedPrices) Prices(date.Date) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func status(day date.Date, ev clock.Event) clock.Status {
	return clock.Status{State: clock.StateRunning, CurrentDate: day, Event: ev, At: time.Now()}
}

func TestBroadcasterSubscribeGetsLatest(t *testing.T) {
	b := NewBroadcaster(DefaultConfig(), fixedPrices{"AAPL": decimal.NewFromInt(100)}, zap.NewNop())
	defer b.Close()

	ctx := context.Background()

	// No snapshot yet: nothing is delivered on subscribe.
	early := b.Subscribe()
	select {
	case snap := <-early.C():
		t.Fatalf("unexpected snapshot %+v", snap)
	default:
	}

	day := date.MustParse("2024-01-02")
	b.Publish(ctx, status(day, clock.EventTick))

	select {
	case snap := <-early.C():
		if snap.Type != "snapshot" || snap.CurrentDate != day {
			t.Errorf("unexpected snapshot %+v", snap)
		}
		if !snap.Prices["AAPL"].Equal(decimal.NewFromInt(100)) {
			t.Errorf("expected AAPL 100, got %v", snap.Prices)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	late := b.Subscribe()
	select {
	case snap := <-late.C():
		if snap.Seq != 1 {
			t.Errorf("expected seq 1, got %d", snap.Seq)
		}
	default:
		t.Fatal("expected latest snapshot on subscribe")
	}
}

func TestBroadcasterLateSubscriberAfterManyTicks(t *testing.T) {
	b := NewBroadcaster(DefaultConfig(), fixedPrices{"AAPL": decimal.NewFromInt(100)}, zap.NewNop())
	defer b.Close()

	ctx := context.Background()
	day := date.MustParse("2020-01-01")
	for i := 0; i < 1000; i++ {
		b.Publish(ctx, status(day.Add(i), clock.EventTick))
	}

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	snap := <-sub.C()
	if snap.Seq != 1000 || snap.CurrentDate != day.Add(999) {
		t.Fatalf("expected only the latest snapshot, got seq %d date %s", snap.Seq, snap.CurrentDate)
	}
	select {
	case extra := <-sub.C():
		t.Fatalf("expected no replay, got seq %d", extra.Seq)
	default:
	}
}

func TestBroadcasterSlowSubscriberKeepsNewest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubscriberBuffer = 2
	b := NewBroadcaster(cfg, fixedPrices{}, zap.NewNop())
	defer b.Close()

	sub := b.Subscribe()
	ctx := context.Background()
	day := date.MustParse("2020-01-01")
	for i := 0; i < 10; i++ {
		b.Publish(ctx, status(day.Add(i), clock.EventTick))
	}

	var last uint64
	for len(sub.C()) > 0 {
		last = (<-sub.C()).Seq
	}
	if last != 10 {
		t.Errorf("expected newest seq 10 to survive, got %d", last)
	}
	if b.DroppedSnapshots() != 8 {
		t.Errorf("expected 8 dropped snapshots, got %d", b.DroppedSnapshots())
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(DefaultConfig(), fixedPrices{}, zap.NewNop())
	sub := b.Subscribe()
	if b.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Subscribers())
	}

	b.Close()
	if _, ok := <-sub.C(); ok {
		t.Error("expected subscription channel closed")
	}
	// Unsubscribe after close must not panic.
	b.Unsubscribe(sub)
	if b.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", b.Subscribers())
	}
}

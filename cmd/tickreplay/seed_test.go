package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/zappabad/tickreplay/internal/date"
)

func TestRandomWalk(t *testing.T) {
	start := date.MustParse("2024-01-05") // Friday
	h := randomWalk(rand.New(rand.NewSource(1)), start, 10, 100)

	if len(h) != 10 {
		t.Fatalf("expected 10 points, got %d", len(h))
	}
	if err := h.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h[0].Date != start || h[1].Date != date.MustParse("2024-01-08") {
		t.Errorf("expected weekend skipped, got %s %s", h[0].Date, h[1].Date)
	}
	if h[0].Open.String() != "100" {
		t.Errorf("expected first open at base price, got %s", h[0].Open)
	}
	for _, p := range h {
		if wd := p.Date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("unexpected weekend date %s", p.Date)
		}
	}

	again := randomWalk(rand.New(rand.NewSource(1)), start, 10, 100)
	for i := range h {
		if !h[i].Open.Equal(again[i].Open) {
			t.Fatalf("expected deterministic walk, differs at %d", i)
		}
	}
}

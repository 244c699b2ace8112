package market

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/zappabad/tickreplay/internal/date"
)

func point(day string, open string) PricePoint {
	return PricePoint{Date: date.MustParse(day), Open: decimal.RequireFromString(open)}
}

func TestHistoryValueAsOf(t *testing.T) {
	h, err := NewHistory([]PricePoint{
		point("2024-01-05", "101"),
		point("2024-01-02", "100"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Exact match
	if v, ok := h.ValueAsOf(date.MustParse("2024-01-02")); !ok || !v.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100, got %v %v", v, ok)
	}
	// Carry forward across the gap
	if v, ok := h.ValueAsOf(date.MustParse("2024-01-04")); !ok || !v.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected carried 100, got %v %v", v, ok)
	}
	// Carry forward past the end
	if v, ok := h.ValueAsOf(date.MustParse("2030-01-01")); !ok || !v.Equal(decimal.NewFromInt(101)) {
		t.Errorf("expected carried 101, got %v %v", v, ok)
	}
	// Before the first point
	if _, ok := h.ValueAsOf(date.MustParse("2024-01-01")); ok {
		t.Error("expected not found before first point")
	}
}

func TestHistoryNext(t *testing.T) {
	h := History{point("2024-01-02", "1"), point("2024-01-03", "1"), point("2024-01-08", "1")}

	cases := []struct {
		after string
		want  string
		ok    bool
	}{
		{"2023-12-31", "2024-01-02", true},
		{"2024-01-02", "2024-01-03", true},
		{"2024-01-04", "2024-01-08", true},
		{"2024-01-08", "", false},
	}
	for _, c := range cases {
		got, ok := h.Next(date.MustParse(c.after))
		if ok != c.ok {
			t.Errorf("Next(%s): expected ok=%v, got %v", c.after, c.ok, ok)
			continue
		}
		if ok && got != date.MustParse(c.want) {
			t.Errorf("Next(%s): expected %s, got %s", c.after, c.want, got)
		}
	}
}

func TestHistoryRejectsDuplicates(t *testing.T) {
	_, err := NewHistory([]PricePoint{point("2024-01-02", "1"), point("2024-01-02", "2")})
	if !errors.Is(err, ErrInvalidHistory) {
		t.Errorf("expected ErrInvalidHistory, got %v", err)
	}

	_, err = NewHistory([]PricePoint{point("2024-01-02", "0")})
	if !errors.Is(err, ErrInvalidHistory) {
		t.Errorf("expected ErrInvalidHistory for zero price, got %v", err)
	}
}

func TestStockValidate(t *testing.T) {
	s := Stock{Symbol: " ", History: History{point("2024-01-02", "1")}}
	if !errors.Is(s.Validate(), ErrInvalidStock) {
		t.Error("expected empty symbol to be rejected")
	}

	s = Stock{Symbol: "AAPL", History: History{point("2024-01-03", "1"), point("2024-01-02", "1")}}
	err := s.Validate()
	if !errors.Is(err, ErrInvalidStock) || !errors.Is(err, ErrInvalidHistory) {
		t.Errorf("expected unsorted history to be rejected, got %v", err)
	}
}

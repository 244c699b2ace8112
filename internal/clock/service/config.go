package service

import (
	"time"

	"github.com/zappabad/tickreplay/internal/date"
)

// Config holds configuration for the market clock.
type Config struct {
	// TickInterval is the real time between two simulated days.
	TickInterval time.Duration
	// MinTickInterval is the floor applied to requested tick intervals.
	MinTickInterval time.Duration
	// StartDate is the first simulated day. Zero means the earliest available date.
	StartDate date.Date
	// HandlerTimeout bounds the context passed to the tick handler.
	HandlerTimeout time.Duration
	// CommandBuffer is the size of the command channel.
	CommandBuffer int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:    time.Second,
		MinTickInterval: 10 * time.Millisecond,
		HandlerTimeout:  500 * time.Millisecond,
		CommandBuffer:   64,
	}
}

package api

import "time"

// Config holds configuration for the HTTP server.
type Config struct {
	// Addr is the listen address.
	Addr string
	// AuthToken, when set, is required as a bearer token on admin and order routes.
	AuthToken string
	// CORSOrigin is sent as Access-Control-Allow-Origin.
	CORSOrigin string

	// WriteWait bounds a single websocket write.
	WriteWait time.Duration
	// PongWait is how long a websocket may stay silent before it is dropped.
	PongWait time.Duration
	// PingPeriod is the websocket keepalive interval. Must be less than PongWait.
	PingPeriod time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
	// OrderLimit caps the orders returned by the order listing.
	OrderLimit int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		CORSOrigin:      "*",
		WriteWait:       5 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      50 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		OrderLimit:      100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.CORSOrigin == "" {
		c.CORSOrigin = d.CORSOrigin
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.OrderLimit <= 0 {
		c.OrderLimit = d.OrderLimit
	}
	return c
}

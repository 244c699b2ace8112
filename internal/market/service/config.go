package service

// Config holds configuration for the broadcaster.
type Config struct {
	// SubscriberBuffer is the channel size of each subscription.
	SubscriberBuffer int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		SubscriberBuffer: 16,
	}
}

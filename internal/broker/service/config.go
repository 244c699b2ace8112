package service

// Config holds configuration for the broker service.
type Config struct {
	// CommandBuffer is the size of each broker's command channel.
	CommandBuffer int
	// OrderTapeSize is the number of recent orders kept in memory per list.
	OrderTapeSize int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		CommandBuffer: 64,
		OrderTapeSize: 500,
	}
}

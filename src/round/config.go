package round

import "time"

// Config of a round Manager.
type Config struct {
	// RoundDuration triggers aggregation once elapsed.
	RoundDuration time.Duration
	// MaxBlocks caps the round buffer.
	MaxBlocks int
	// MaxTransactions caps the number of transactions across buffered blocks.
	MaxTransactions int
	// MinBlocks triggers aggregation once buffered.
	MinBlocks int
	// AggregationTimeout bounds proof generation.
	AggregationTimeout time.Duration
}

// DefaultConfig ...
func DefaultConfig() *Config {
	return &Config{
		RoundDuration:      200 * time.Millisecond,
		MaxBlocks:          1000,
		MaxTransactions:    100000,
		MinBlocks:          10,
		AggregationTimeout: 5 * time.Second,
	}
}

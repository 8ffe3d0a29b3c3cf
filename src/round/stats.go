package round

// Stats records the outcome of one aggregated round.
type Stats struct {
	Round          uint64
	Blocks         int
	Transactions   int
	ProofSize      int
	ProvingMs      uint64
	VerificationMs uint64
	AggregationMs  uint64
}

package net

// Transport provides an interface for network transports
// to allow a node to communicate with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// PushAggregation, PushHeader, FetchRound, PushBlock and PushProof send
	// the appropriate RPC to the target node.

	PushAggregation(target string, args *PushAggregationRequest, resp *PushAggregationResponse) error

	PushHeader(target string, args *PushHeaderRequest, resp *PushHeaderResponse) error

	FetchRound(target string, args *FetchRoundRequest, resp *FetchRoundResponse) error

	PushBlock(target string, args *PushBlockRequest, resp *PushBlockResponse) error

	PushProof(target string, args *PushProofRequest, resp *PushProofResponse) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}

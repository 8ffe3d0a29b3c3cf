// Package net implements different transports to communicate between
// roundchain nodes.
//
// This package contains implementations of the Transport interface, which is
// used by nodes to send and receive RPC requests (PushAggregationRequest,
// PushHeaderRequest, FetchRoundRequest). There are two implementations:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: communicating over plain TCP
//
// The TCP transport frames every request with a byte indicating the message
// type, followed by the JSON encoded request. Connections are pooled per
// target.
//
// To use a TCP transport, set the following configuration options in the
// Config object (cf config package):
//
// - BindAddr: the IP:PORT of the TCP socket that the node binds to.
//
// - AdvertiseAddr: (optional) The address that is advertised to other nodes. If
// BindAddr is a local address not reachable by other peers, it is usefull to
// set AdvertiseAddr to the reachable public address.
//
// Every request carries the sender's clock. Receivers record it as a time
// sample for the synthetic network time.
package net

// Package timing implements synthetic network time and timestamp commitments.
//
// Validators share no trusted wall clock. Each one reports its local time to
// its peers and the TimeService keeps the last sample per validator. The
// median of those samples is the synthetic network time. Until enough samples
// have been collected, the local wall clock is used instead and drift checks
// pass automatically, so that a network can bootstrap.
//
// A Commitment binds a synthetic timestamp, the identity of its producer, a
// round and a sequence number to the content hash of the entity it stamps. It
// is checked once, when the entity is validated: the commitment must
// reproduce the entity's content hash and its timestamp must lie within the
// drift bound of the current median.
package timing

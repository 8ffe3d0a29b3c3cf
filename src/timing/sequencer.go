package timing

import (
	"sync"

	"github.com/mosaicnetworks/roundchain/src/common"
)

// Sequencer issues commitments for a single source. Sequence numbers increase
// within a round and restart at zero when the round changes. Timestamps come
// from the TimeService so that they stay within the drift bound.
type Sequencer struct {
	sync.Mutex

	source string
	ts     *TimeService
	round  uint64
	next   uint64
	lastNs int64
}

// NewSequencer ...
func NewSequencer(source string, ts *TimeService) *Sequencer {
	return &Sequencer{
		source: source,
		ts:     ts,
	}
}

// Stamp returns the timestamp and sequence for the next entity of round. The
// timestamp is strictly greater than the previous one issued.
func (s *Sequencer) Stamp(round uint64) (timestampNs int64, sequence uint64) {
	s.Lock()
	defer s.Unlock()

	if round != s.round {
		s.round = round
		s.next = 0
	}

	now := s.ts.MedianNs()
	if now <= s.lastNs {
		now = s.lastNs + 1
	}
	s.lastNs = now

	sequence = s.next
	s.next++

	return now, sequence
}

// Commit stamps content directly. Use Stamp when the content hash depends on
// the timestamp.
func (s *Sequencer) Commit(round uint64, content common.Hash) Commitment {
	ns, seq := s.Stamp(round)
	return NewCommitment(ns, s.source, round, seq, s.ts.Drift(ns), content)
}

// Source ...
func (s *Sequencer) Source() string {
	return s.source
}

package timing

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
)

// Commitment binds a synthetic timestamp, a producer, a round and a sequence
// number to the content hash of the entity it is attached to.
type Commitment struct {
	TimestampNs int64
	Source      string
	Round       uint64
	Sequence    uint64
	DriftNs     int64
	Hash        common.Hash
}

// NewCommitment creates a Commitment over content.
func NewCommitment(timestampNs int64, source string, round, sequence uint64, driftNs int64, content common.Hash) Commitment {
	c := Commitment{
		TimestampNs: timestampNs,
		Source:      source,
		Round:       round,
		Sequence:    sequence,
		DriftNs:     driftNs,
	}
	c.Hash = c.computeHash(content)
	return c
}

func (c Commitment) computeHash(content common.Hash) common.Hash {
	return crypto.SHA256([]byte(fmt.Sprintf("%d:%s:%d:%d:%s",
		c.TimestampNs, c.Source, c.Round, c.Sequence, content.Hex())))
}

// Bind recomputes the commitment hash over content. It is used once an
// entity's content hash is known, since that hash may itself cover
// TimestampNs.
func (c *Commitment) Bind(content common.Hash) {
	c.Hash = c.computeHash(content)
}

// MatchesContent reports whether the commitment reproduces content.
func (c Commitment) MatchesContent(content common.Hash) bool {
	return c.Hash == c.computeHash(content)
}

// Validate checks the commitment against content and the drift bound of ts.
// A content mismatch is a Validation error; excessive drift is a Timing
// error.
func (c Commitment) Validate(content common.Hash, ts *TimeService) error {
	if !c.MatchesContent(content) {
		return common.Errf(common.Validation, "commitment",
			"commitment %s does not match content %s", c.Hash.Short(), content.Short())
	}

	if ts != nil {
		if err := ts.CheckDrift(c.TimestampNs); err != nil {
			return err
		}
	}

	return nil
}

// Micros returns the timestamp in microseconds.
func (c Commitment) Micros() int64 {
	return c.TimestampNs / int64(time.Microsecond)
}

// Time returns the timestamp as a time.Time.
func (c Commitment) Time() time.Time {
	return time.Unix(0, c.TimestampNs)
}

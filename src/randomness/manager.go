package randomness

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/sirupsen/logrus"
)

// Config ...
type Config struct {
	MinProofs     int
	BeaconTimeout time.Duration
}

// DefaultConfig ...
func DefaultConfig() *Config {
	return &Config{
		MinProofs:     3,
		BeaconTimeout: 5 * time.Second,
	}
}

// Validation is the outcome of ValidateProof.
type Validation struct {
	Valid          bool
	Error          string `json:",omitempty"`
	VerificationUs int64
	ProofCount     int
}

// Stats ...
type Stats struct {
	Beacons            int
	Finalized          int
	Proofs             int
	Rounds             int
	AvgProofsPerBeacon int
	MinProofs          int
}

// BeaconID is the id under which the beacon of a round is registered.
func BeaconID(round uint64) string {
	return fmt.Sprintf("round-%d", round)
}

// Manager owns the beacons of a node and the randomness they produced.
type Manager struct {
	sync.RWMutex

	conf        *Config
	key         *btcec.PrivateKey
	validatorID string

	beacons    map[string]*Beacon
	randomness map[uint64]ConsensusRandomness
	proofs     map[string]*VRFProof //validator:round:ts => proof

	clock func() time.Time

	logger *logrus.Entry
}

// NewManager creates a Manager producing proofs with key on behalf of
// validatorID.
func NewManager(conf *Config, key *btcec.PrivateKey, validatorID string, logger *logrus.Entry) *Manager {
	if conf == nil {
		conf = DefaultConfig()
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Manager{
		conf:        conf,
		key:         key,
		validatorID: validatorID,
		beacons:     make(map[string]*Beacon),
		randomness:  make(map[uint64]ConsensusRandomness),
		proofs:      make(map[string]*VRFProof),
		clock:       time.Now,
		logger:      logger,
	}
}

// SetClock replaces the source of proof and beacon timestamps.
func (m *Manager) SetClock(clock func() time.Time) {
	m.Lock()
	defer m.Unlock()
	m.clock = clock
}

func (m *Manager) now() time.Time {
	m.RLock()
	defer m.RUnlock()
	return m.clock()
}

// GenerateProof produces this node's VRF proof of message for round.
func (m *Manager) GenerateProof(message string, round uint64) (*VRFProof, error) {
	if m.key == nil {
		return nil, common.NewErr(common.Validation, "randomness", "no signing key")
	}
	return NewVRFProof(m.key, message, round, m.validatorID, m.now().UnixNano())
}

// CreateBeacon registers an empty beacon.
func (m *Manager) CreateBeacon(id string, round uint64) error {
	ts := m.now().UnixNano()

	m.Lock()
	defer m.Unlock()

	if _, ok := m.beacons[id]; ok {
		return common.NewStoreErr("Beacon", common.KeyAlreadyExists, id)
	}

	m.beacons[id] = NewBeacon(id, round, m.conf.MinProofs, ts)

	m.logger.WithFields(logrus.Fields{
		"beacon": id,
		"round":  round,
	}).Debug("Beacon created")

	return nil
}

// AddProof adds p to beacon id. Randomness is recorded as soon as the beacon
// finalizes.
func (m *Manager) AddProof(id string, p *VRFProof) error {
	m.Lock()
	defer m.Unlock()

	b, ok := m.beacons[id]
	if !ok {
		return common.NewStoreErr("Beacon", common.KeyNotFound, id)
	}

	if err := b.AddProof(p); err != nil {
		return err
	}

	m.proofs[fmt.Sprintf("%s:%d:%d", p.ValidatorID, p.Round, p.Timestamp)] = p

	m.recordRandomness(b)

	return nil
}

// Finalize forces beacon id to combine its proofs.
func (m *Manager) Finalize(id string) error {
	m.Lock()
	defer m.Unlock()

	b, ok := m.beacons[id]
	if !ok {
		return common.NewStoreErr("Beacon", common.KeyNotFound, id)
	}

	if err := b.Finalize(); err != nil {
		return err
	}

	m.recordRandomness(b)

	return nil
}

// Not protected by the mutex.
func (m *Manager) recordRandomness(b *Beacon) {
	cr, ok := b.ConsensusRandomness()
	if !ok {
		return
	}

	if _, done := m.randomness[cr.Round]; done {
		return
	}

	m.randomness[cr.Round] = cr

	m.logger.WithFields(logrus.Fields{
		"beacon": b.ID,
		"round":  b.Round,
		"proofs": len(b.Proofs),
	}).Info("Beacon finalized")
}

// Beacon returns a copy of beacon id.
func (m *Manager) Beacon(id string) (Beacon, bool) {
	m.RLock()
	defer m.RUnlock()

	b, ok := m.beacons[id]
	if !ok {
		return Beacon{}, false
	}
	return b.copy(), true
}

// ConsensusRandomness ...
func (m *Manager) ConsensusRandomness(round uint64) (ConsensusRandomness, bool) {
	m.RLock()
	defer m.RUnlock()

	cr, ok := m.randomness[round]
	return cr, ok
}

// ValidatorSelectionSeed ...
func (m *Manager) ValidatorSelectionSeed(round uint64) (uint64, bool) {
	cr, ok := m.ConsensusRandomness(round)
	return cr.ValidatorSelectionSeed, ok
}

// BlockProductionSeed ...
func (m *Manager) BlockProductionSeed(round uint64) (uint64, bool) {
	cr, ok := m.ConsensusRandomness(round)
	return cr.BlockProductionSeed, ok
}

// ValidateProof checks p without adding it anywhere.
func (m *Manager) ValidateProof(p *VRFProof) Validation {
	start := time.Now()
	err := p.Verify()

	v := Validation{
		Valid:          err == nil,
		VerificationUs: int64(time.Since(start) / time.Microsecond),
		ProofCount:     1,
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}

// Cleanup drops beacons older than twice the beacon timeout, with the proofs
// of their rounds, and returns the number of beacons dropped. Randomness
// already produced is kept.
func (m *Manager) Cleanup(now time.Time) int {
	m.Lock()
	defer m.Unlock()

	dropped := 0
	rounds := make(map[uint64]bool)
	for id, b := range m.beacons {
		if b.TimedOut(now, 2*m.conf.BeaconTimeout) {
			delete(m.beacons, id)
			rounds[b.Round] = true
			dropped++
		}
	}

	if dropped == 0 {
		return 0
	}

	// a round may still hold a live beacon under another id
	for _, b := range m.beacons {
		delete(rounds, b.Round)
	}

	pruned := 0
	for k, p := range m.proofs {
		if rounds[p.Round] {
			delete(m.proofs, k)
			pruned++
		}
	}

	m.logger.WithFields(logrus.Fields{
		"dropped": dropped,
		"proofs":  pruned,
	}).Debug("Beacons cleaned up")

	return dropped
}

// Stats ...
func (m *Manager) Stats() Stats {
	m.RLock()
	defer m.RUnlock()

	s := Stats{
		Beacons:   len(m.beacons),
		Proofs:    len(m.proofs),
		Rounds:    len(m.randomness),
		MinProofs: m.conf.MinProofs,
	}

	for _, b := range m.beacons {
		if b.Finalized {
			s.Finalized++
		}
	}

	if s.Beacons > 0 {
		s.AvgProofsPerBeacon = s.Proofs / s.Beacons
	}

	return s
}

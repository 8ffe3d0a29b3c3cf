package dag

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
	"github.com/mosaicnetworks/roundchain/src/timing"
	"github.com/ugorji/go/codec"
)

// TxType identifies the payload variant carried by a Transaction.
type TxType uint8

const (
	// PaymentTx moves value between two accounts.
	PaymentTx TxType = iota
	// AnchorTx commits the state root of an external chain.
	AnchorTx
	// StakingTx changes a validator stake.
	StakingTx
	// StorageTx records a storage operation.
	StorageTx
)

func (t TxType) String() string {
	switch t {
	case PaymentTx:
		return "Payment"
	case AnchorTx:
		return "Anchor"
	case StakingTx:
		return "Staking"
	case StorageTx:
		return "Storage"
	default:
		return "Unknown"
	}
}

// StakingAction ...
type StakingAction uint8

const (
	// Stake ...
	Stake StakingAction = iota
	// Unstake ...
	Unstake
	// ClaimRewards ...
	ClaimRewards
)

// StorageAction ...
type StorageAction uint8

const (
	// StoreFile ...
	StoreFile StorageAction = iota
	// RetrieveFile ...
	RetrieveFile
	// DeleteFile ...
	DeleteFile
)

// PaymentData ...
type PaymentData struct {
	From   string
	To     string
	Amount uint64
}

// AnchorData ...
type AnchorData struct {
	ChainID   string
	StateRoot string
	ProofData []byte
}

// StakingData ...
type StakingData struct {
	Staker    string
	Validator string
	Amount    uint64
	Action    StakingAction
}

// StorageData ...
type StorageData struct {
	Provider string
	FileHash common.Hash
	Action   StorageAction
	Size     uint64
}

// Transaction is a single ledger operation. Exactly one of the payload
// pointers is set, as indicated by Type.
type Transaction struct {
	Hash       common.Hash
	Type       TxType
	Payment    *PaymentData `json:",omitempty"`
	Anchor     *AnchorData  `json:",omitempty"`
	Staking    *StakingData `json:",omitempty"`
	Storage    *StorageData `json:",omitempty"`
	Fee        uint64
	Nonce      uint64
	Commitment timing.Commitment
	Signature  []byte `json:",omitempty"`
}

// NewPayment ...
func NewPayment(from, to string, amount, fee, nonce uint64, c timing.Commitment) *Transaction {
	tx := &Transaction{
		Type:       PaymentTx,
		Payment:    &PaymentData{From: from, To: to, Amount: amount},
		Fee:        fee,
		Nonce:      nonce,
		Commitment: c,
	}
	tx.Seal()
	return tx
}

// NewAnchor ...
func NewAnchor(chainID, stateRoot string, proofData []byte, fee, nonce uint64, c timing.Commitment) *Transaction {
	tx := &Transaction{
		Type:       AnchorTx,
		Anchor:     &AnchorData{ChainID: chainID, StateRoot: stateRoot, ProofData: proofData},
		Fee:        fee,
		Nonce:      nonce,
		Commitment: c,
	}
	tx.Seal()
	return tx
}

// NewStaking ...
func NewStaking(staker, validator string, amount uint64, action StakingAction, fee, nonce uint64, c timing.Commitment) *Transaction {
	tx := &Transaction{
		Type:       StakingTx,
		Staking:    &StakingData{Staker: staker, Validator: validator, Amount: amount, Action: action},
		Fee:        fee,
		Nonce:      nonce,
		Commitment: c,
	}
	tx.Seal()
	return tx
}

// NewStorage ...
func NewStorage(provider string, fileHash common.Hash, action StorageAction, size, fee, nonce uint64, c timing.Commitment) *Transaction {
	tx := &Transaction{
		Type:       StorageTx,
		Storage:    &StorageData{Provider: provider, FileHash: fileHash, Action: action, Size: size},
		Fee:        fee,
		Nonce:      nonce,
		Commitment: c,
	}
	tx.Seal()
	return tx
}

// PayloadBytes returns the canonical byte encoding of the variant payload.
// Integers are little-endian.
func (tx *Transaction) PayloadBytes() []byte {
	var b bytes.Buffer
	var n [8]byte

	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(n[:], v)
		b.Write(n[:])
	}

	switch tx.Type {
	case PaymentTx:
		if p := tx.Payment; p != nil {
			b.WriteString(p.From)
			b.WriteString(p.To)
			putU64(p.Amount)
		}
	case AnchorTx:
		if a := tx.Anchor; a != nil {
			b.WriteString(a.ChainID)
			b.WriteString(a.StateRoot)
			b.Write(a.ProofData)
		}
	case StakingTx:
		if s := tx.Staking; s != nil {
			b.WriteString(s.Staker)
			b.WriteString(s.Validator)
			putU64(s.Amount)
			b.WriteByte(byte(s.Action))
		}
	case StorageTx:
		if s := tx.Storage; s != nil {
			b.WriteString(s.Provider)
			b.Write(s.FileHash[:])
			b.WriteByte(byte(s.Action))
			putU64(s.Size)
		}
	}

	return b.Bytes()
}

// ComputeHash digests the payload, fee, nonce and commitment time.
func (tx *Transaction) ComputeHash() common.Hash {
	var fee, nonce, ts [8]byte
	binary.LittleEndian.PutUint64(fee[:], tx.Fee)
	binary.LittleEndian.PutUint64(nonce[:], tx.Nonce)
	binary.BigEndian.PutUint64(ts[:], uint64(tx.Commitment.TimestampNs))

	return crypto.SHA256Parts(
		[]byte{byte(tx.Type)},
		tx.PayloadBytes(),
		fee[:],
		nonce[:],
		ts[:],
	)
}

// Seal sets the transaction hash and binds the commitment to it.
func (tx *Transaction) Seal() {
	tx.Hash = tx.ComputeHash()
	tx.Commitment.Bind(tx.Hash)
}

// ValidatePayload checks the variant payload for required fields.
func (tx *Transaction) ValidatePayload() error {
	invalid := func(msg string) error {
		return common.NewErr(common.Validation, "transaction", msg)
	}

	switch tx.Type {
	case PaymentTx:
		p := tx.Payment
		if p == nil {
			return invalid("missing payment payload")
		}
		if p.From == "" || p.To == "" {
			return invalid("payment requires sender and recipient")
		}
		if p.Amount == 0 {
			return invalid("payment amount is zero")
		}
	case AnchorTx:
		a := tx.Anchor
		if a == nil {
			return invalid("missing anchor payload")
		}
		if a.ChainID == "" || a.StateRoot == "" {
			return invalid("anchor requires chain id and state root")
		}
	case StakingTx:
		s := tx.Staking
		if s == nil {
			return invalid("missing staking payload")
		}
		if s.Staker == "" || s.Validator == "" {
			return invalid("staking requires staker and validator")
		}
		if s.Amount == 0 && s.Action != ClaimRewards {
			return invalid("staking amount is zero")
		}
	case StorageTx:
		s := tx.Storage
		if s == nil {
			return invalid("missing storage payload")
		}
		if s.Provider == "" {
			return invalid("storage requires provider")
		}
		if s.Action == StoreFile && s.Size == 0 {
			return invalid("stored file size is zero")
		}
	default:
		return common.Errf(common.Validation, "transaction", "unknown type %d", tx.Type)
	}

	return nil
}

// Validate recomputes the hash and checks the payload and the commitment.
func (tx *Transaction) Validate(ts *timing.TimeService) error {
	if h := tx.ComputeHash(); h != tx.Hash {
		return common.Errf(common.Validation, "transaction",
			"hash mismatch: have %s, computed %s", tx.Hash.Short(), h.Short())
	}

	if err := tx.ValidatePayload(); err != nil {
		return err
	}

	return tx.Commitment.Validate(tx.Hash, ts)
}

// Sign attaches a signature over the transaction hash.
func (tx *Transaction) Sign(priv *btcec.PrivateKey) error {
	sig, err := keys.Sign(priv, tx.Hash.Bytes())
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// VerifySignature checks the attached signature against pub.
func (tx *Transaction) VerifySignature(pub *btcec.PublicKey) bool {
	if len(tx.Signature) == 0 {
		return false
	}
	return keys.Verify(pub, tx.Hash.Bytes(), tx.Signature)
}

// Marshal - json encoding of Transaction
func (tx *Transaction) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(tx); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (tx *Transaction) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(tx)
}

package dag

import (
	"testing"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
)

func TestTransactionVariants(t *testing.T) {
	b := newDagBuilder(t)

	fileHash := crypto.SHA256([]byte("file"))

	valid := []*Transaction{
		NewPayment("alice", "bob", 5, 1, 1, b.commitment(1)),
		NewAnchor("eth", "0xroot", []byte("proof"), 1, 2, b.commitment(1)),
		NewStaking("alice", "validator-a", 100, Stake, 1, 3, b.commitment(1)),
		NewStaking("alice", "validator-a", 0, ClaimRewards, 1, 4, b.commitment(1)),
		NewStorage("provider", fileHash, StoreFile, 2048, 1, 5, b.commitment(1)),
		NewStorage("provider", fileHash, DeleteFile, 0, 1, 6, b.commitment(1)),
	}

	for _, tx := range valid {
		if err := tx.Validate(b.ts); err != nil {
			t.Fatalf("%s transaction should be valid: %v", tx.Type, err)
		}
	}

	invalid := []*Transaction{
		NewPayment("alice", "bob", 0, 1, 1, b.commitment(1)),
		NewAnchor("", "0xroot", nil, 1, 2, b.commitment(1)),
		NewStaking("alice", "", 100, Unstake, 1, 3, b.commitment(1)),
		NewStorage("provider", fileHash, StoreFile, 0, 1, 4, b.commitment(1)),
		{Type: TxType(9)},
	}

	for _, tx := range invalid {
		if err := tx.ValidatePayload(); !common.IsKind(err, common.Validation) {
			t.Fatalf("%s transaction should fail payload validation, got %v", tx.Type, err)
		}
	}
}

func TestTransactionHashCoversFields(t *testing.T) {
	b := newDagBuilder(t)
	c := b.commitment(1)

	base := NewPayment("alice", "bob", 5, 1, 1, c)

	others := []*Transaction{
		NewPayment("alice", "bob", 6, 1, 1, c),
		NewPayment("alice", "bob", 5, 2, 1, c),
		NewPayment("alice", "bob", 5, 1, 2, c),
		NewPayment("alice", "carol", 5, 1, 1, c),
	}

	later := c
	later.TimestampNs++
	others = append(others, NewPayment("alice", "bob", 5, 1, 1, later))

	for i, o := range others {
		if o.Hash == base.Hash {
			t.Fatalf("variation %d should change the hash", i)
		}
	}

	if again := NewPayment("alice", "bob", 5, 1, 1, c); again.Hash != base.Hash {
		t.Fatal("hash should be deterministic")
	}
}

func TestTransactionSignature(t *testing.T) {
	b := newDagBuilder(t)

	priv, err := keys.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	other, err := keys.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	tx := b.tx(1)
	if err := tx.Sign(priv); err != nil {
		t.Fatal(err)
	}

	if !tx.VerifySignature(priv.PubKey()) {
		t.Fatal("signature should verify")
	}
	if tx.VerifySignature(other.PubKey()) {
		t.Fatal("signature should not verify with another key")
	}
}

package round

import (
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
)

// MerkleTree is a binary hash tree stored level by level, leaves first. When
// a level has an odd width its last node is paired with itself.
type MerkleTree struct {
	Root      common.Hash
	Height    uint32
	Nodes     []common.Hash
	LeafCount int
}

// NewMerkleTree builds the tree over leaves. The root of an empty tree is the
// zero hash; the root of a single leaf is the leaf itself.
func NewMerkleTree(leaves []common.Hash) *MerkleTree {
	nodes := make([]common.Hash, len(leaves), 2*len(leaves))
	copy(nodes, leaves)

	var height uint32
	levelStart, levelSize := 0, len(leaves)

	for levelSize > 1 {
		for i := 0; i < levelSize; i += 2 {
			left := nodes[levelStart+i]
			right := left
			if i+1 < levelSize {
				right = nodes[levelStart+i+1]
			}
			nodes = append(nodes, crypto.SimpleHashFromTwoHashes(left, right))
		}
		levelStart += levelSize
		levelSize = (levelSize + 1) / 2
		height++
	}

	t := &MerkleTree{
		Height:    height,
		Nodes:     nodes,
		LeafCount: len(leaves),
	}
	if len(nodes) > 0 {
		t.Root = nodes[len(nodes)-1]
	}
	return t
}

// InclusionProof returns the sibling path of leaf index, bottom-up.
func (t *MerkleTree) InclusionProof(index int) ([]common.Hash, error) {
	if index < 0 || index >= t.LeafCount {
		return nil, common.Errf(common.Validation, "merkle",
			"leaf index %d out of range [0, %d)", index, t.LeafCount)
	}

	proof := make([]common.Hash, 0, t.Height)
	levelStart, levelSize := 0, t.LeafCount

	for levelSize > 1 {
		sibling := index ^ 1
		if sibling >= levelSize {
			sibling = index
		}
		pos := levelStart + sibling
		if pos >= len(t.Nodes) {
			return nil, common.NewErr(common.Validation, "merkle", "truncated tree")
		}
		proof = append(proof, t.Nodes[pos])

		index /= 2
		levelStart += levelSize
		levelSize = (levelSize + 1) / 2
	}

	return proof, nil
}

// VerifyInclusionProof checks proof against the tree root.
func (t *MerkleTree) VerifyInclusionProof(leaf common.Hash, proof []common.Hash, index int) bool {
	if index < 0 || index >= t.LeafCount {
		return false
	}
	return VerifyInclusionProof(t.Root, leaf, proof, index)
}

// VerifyInclusionProof folds the sibling path of leaf at index and compares
// the result with root.
func VerifyInclusionProof(root, leaf common.Hash, proof []common.Hash, index int) bool {
	if index < 0 {
		return false
	}

	cur := leaf
	for _, sibling := range proof {
		if index%2 == 0 {
			cur = crypto.SimpleHashFromTwoHashes(cur, sibling)
		} else {
			cur = crypto.SimpleHashFromTwoHashes(sibling, cur)
		}
		index /= 2
	}

	return index == 0 && cur == root
}

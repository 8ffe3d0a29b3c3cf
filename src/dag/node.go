package dag

import (
	"time"

	"github.com/mosaicnetworks/roundchain/src/common"
)

// Node wraps a Block with the relationships the DAG maintains for it.
type Node struct {
	Block     *Block
	Children  map[common.Hash]struct{}
	Finalized bool
	Score     uint64
}

func newNode(b *Block) *Node {
	return &Node{
		Block:    b,
		Children: make(map[common.Hash]struct{}),
		Score:    blockScore(b),
	}
}

// blockScore favours recent blocks and, secondarily, full ones.
func blockScore(b *Block) uint64 {
	us := b.Header.Commitment.TimestampNs / int64(time.Microsecond)
	if us < 0 {
		us = 0
	}
	return uint64(us) + 1000*uint64(len(b.Transactions))
}

func (n *Node) copy() Node {
	children := make(map[common.Hash]struct{}, len(n.Children))
	for h := range n.Children {
		children[h] = struct{}{}
	}
	return Node{
		Block:     n.Block,
		Children:  children,
		Finalized: n.Finalized,
		Score:     n.Score,
	}
}

package batchprocessor

import (
	"dispute-rollup/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// MerkleProof is a self contained inclusion proof for one dispute leaf of a
// batch.  Siblings are ordered bottom up; the leaf index and leaf count are
// enough to rebuild the position of every sibling during verification.
type MerkleProof struct {
	BatchNum   common.BatchNum   `json:"batchNum"`
	DisputeNum common.DisputeNum `json:"disputeNum"`
	Leaf       ethCommon.Hash    `json:"leaf"`
	Index      int               `json:"index"`
	NumLeaves  int               `json:"numLeaves"`
	Siblings   []ethCommon.Hash  `json:"siblings"`
	Root       ethCommon.Hash    `json:"root"`
}

// merkleReduce computes the next level up from the given one.  Nodes are
// paired left to right and hashed with Keccak256.  When the level holds an
// odd number of nodes the last node is carried up unchanged instead of being
// paired with itself; the settlement layer verifier implements this exact
// reduction, so it must not be changed to the more common duplicate-last
// convention.
func merkleReduce(level []ethCommon.Hash) []ethCommon.Hash {
	next := make([]ethCommon.Hash, 0, (len(level)+1)/2)
	for i := 0; i+1 < len(level); i += 2 {
		next = append(next, common.HashData(level[i][:], level[i+1][:]))
	}
	if len(level)%2 == 1 {
		next = append(next, level[len(level)-1])
	}
	return next
}

// MerkleRoot reduces the given leaves to a single root.  A single leaf is its
// own root, without hashing.  An empty leaf set reduces to the zero hash.
func MerkleRoot(leaves []ethCommon.Hash) ethCommon.Hash {
	if len(leaves) == 0 {
		return ethCommon.Hash{}
	}
	level := leaves
	for len(level) > 1 {
		level = merkleReduce(level)
	}
	return level[0]
}

// merkleSiblings walks the reduction from the leaves and records, per level,
// the sibling of the tracked index when one exists.  A node that is carried
// up unpaired contributes no sibling for that level.
func merkleSiblings(leaves []ethCommon.Hash, index int) []ethCommon.Hash {
	siblings := []ethCommon.Hash{}
	level := leaves
	i := index
	for len(level) > 1 {
		sibling := i ^ 1
		if sibling < len(level) {
			siblings = append(siblings, level[sibling])
		}
		level = merkleReduce(level)
		i /= 2
	}
	return siblings
}

// VerifyMerkleProof recomputes the root from the leaf and the recorded
// siblings and compares it against the proof's root.  The level sizes are
// rebuilt from NumLeaves so that carried up nodes consume no sibling, exactly
// mirroring the reduction.
func VerifyMerkleProof(proof *MerkleProof) bool {
	if proof.Index < 0 || proof.Index >= proof.NumLeaves {
		return false
	}
	node := proof.Leaf
	i := proof.Index
	n := proof.NumLeaves
	used := 0
	for n > 1 {
		sibling := i ^ 1
		if sibling < n {
			if used >= len(proof.Siblings) {
				return false
			}
			if i%2 == 0 {
				node = common.HashData(node[:], proof.Siblings[used][:])
			} else {
				node = common.HashData(proof.Siblings[used][:], node[:])
			}
			used++
		}
		i /= 2
		n = (n + 1) / 2
	}
	return used == len(proof.Siblings) && node == proof.Root
}

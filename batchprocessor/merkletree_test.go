package batchprocessor

import (
	"testing"

	"dispute-rollup/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLeaves(n int) []ethCommon.Hash {
	leaves := make([]ethCommon.Hash, n)
	for i := 0; i < n; i++ {
		leaves[i] = common.HashData([]byte{byte(i)})
	}
	return leaves
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaves := testLeaves(1)
	assert.Equal(t, leaves[0], MerkleRoot(leaves))
}

func TestMerkleRootEmpty(t *testing.T) {
	assert.Equal(t, ethCommon.Hash{}, MerkleRoot(nil))
}

func TestMerkleRootTwoLeaves(t *testing.T) {
	leaves := testLeaves(2)
	expected := common.HashData(leaves[0][:], leaves[1][:])
	assert.Equal(t, expected, MerkleRoot(leaves))
}

func TestMerkleRootCarryForward(t *testing.T) {
	// the unpaired last node moves up unchanged, it is not hashed with
	// itself
	leaves := testLeaves(3)
	h01 := common.HashData(leaves[0][:], leaves[1][:])
	expected := common.HashData(h01[:], leaves[2][:])
	assert.Equal(t, expected, MerkleRoot(leaves))

	duplicateLast := common.HashData(h01[:],
		common.HashData(leaves[2][:], leaves[2][:]).Bytes())
	assert.NotEqual(t, duplicateLast, MerkleRoot(leaves))

	// five leaves carry the last one across two levels
	leaves = testLeaves(5)
	h01 = common.HashData(leaves[0][:], leaves[1][:])
	h23 := common.HashData(leaves[2][:], leaves[3][:])
	h0123 := common.HashData(h01[:], h23[:])
	expected = common.HashData(h0123[:], leaves[4][:])
	assert.Equal(t, expected, MerkleRoot(leaves))
}

func TestMerkleProofRoundTrip(t *testing.T) {
	for n := 1; n <= 8; n++ {
		leaves := testLeaves(n)
		root := MerkleRoot(leaves)
		for index := 0; index < n; index++ {
			proof := &MerkleProof{
				Leaf:      leaves[index],
				Index:     index,
				NumLeaves: n,
				Siblings:  merkleSiblings(leaves, index),
				Root:      root,
			}
			assert.True(t, VerifyMerkleProof(proof),
				"leaves=%d index=%d", n, index)
		}
	}
}

func TestMerkleProofSingleLeaf(t *testing.T) {
	leaves := testLeaves(1)
	siblings := merkleSiblings(leaves, 0)
	require.Equal(t, 0, len(siblings))
	proof := &MerkleProof{
		Leaf:      leaves[0],
		Index:     0,
		NumLeaves: 1,
		Siblings:  siblings,
		Root:      MerkleRoot(leaves),
	}
	assert.True(t, VerifyMerkleProof(proof))
}

func TestVerifyMerkleProofRejectsTampering(t *testing.T) {
	leaves := testLeaves(6)
	root := MerkleRoot(leaves)
	proof := &MerkleProof{
		Leaf:      leaves[2],
		Index:     2,
		NumLeaves: 6,
		Siblings:  merkleSiblings(leaves, 2),
		Root:      root,
	}
	require.True(t, VerifyMerkleProof(proof))

	tampered := *proof
	tampered.Leaf = common.HashData([]byte("other"))
	assert.False(t, VerifyMerkleProof(&tampered))

	tampered = *proof
	tampered.Root = common.HashData([]byte("other"))
	assert.False(t, VerifyMerkleProof(&tampered))

	tampered = *proof
	tampered.Index = 3
	assert.False(t, VerifyMerkleProof(&tampered))

	tampered = *proof
	tampered.Siblings = tampered.Siblings[:len(tampered.Siblings)-1]
	assert.False(t, VerifyMerkleProof(&tampered))

	tampered = *proof
	tampered.Index = -1
	assert.False(t, VerifyMerkleProof(&tampered))
}

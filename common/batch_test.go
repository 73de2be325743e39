package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchNumBytes(t *testing.T) {
	bn := BatchNum(12)
	b := bn.Bytes()
	assert.Equal(t, 8, len(b))
	bn2, err := BatchNumFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, bn, bn2)

	_, err = BatchNumFromBytes([]byte{0, 1})
	assert.Error(t, err)
}

func TestBatchStatusIsTerminal(t *testing.T) {
	terminal := map[BatchStatus]bool{
		BatchStatusPending:    false,
		BatchStatusFull:       false,
		BatchStatusProcessing: false,
		BatchStatusCommitted:  false,
		BatchStatusChallenged: false,
		BatchStatusFinalized:  true,
		BatchStatusRejected:   true,
	}
	for status, want := range terminal {
		assert.Equal(t, want, status.IsTerminal(), "status %s", status)
	}
}

func TestBatchTotalStake(t *testing.T) {
	batch := Batch{
		Disputes: []Dispute{
			{DisputeNum: 1, StakeAmount: big.NewInt(100)},
			{DisputeNum: 2, StakeAmount: big.NewInt(250)},
			{DisputeNum: 3, StakeAmount: big.NewInt(50)},
		},
	}
	assert.Equal(t, 0, big.NewInt(400).Cmp(batch.TotalStake()))

	empty := Batch{}
	assert.Equal(t, 0, big.NewInt(0).Cmp(empty.TotalStake()))
}

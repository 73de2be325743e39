package common

import (
	"encoding/binary"
	"math/big"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

const batchNumBytesLen = 8

// BatchNum identifies a batch of disputes
type BatchNum uint64

// Bytes returns a byte array of length 8 representing the BatchNum
func (bn BatchNum) Bytes() []byte {
	var batchNumBytes [batchNumBytesLen]byte
	binary.BigEndian.PutUint64(batchNumBytes[:], uint64(bn))
	return batchNumBytes[:]
}

// BigInt returns a *big.Int representing the BatchNum
func (bn BatchNum) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(bn))
}

// BatchNumFromBytes returns BatchNum from a []byte
func BatchNumFromBytes(b []byte) (BatchNum, error) {
	if len(b) != batchNumBytesLen {
		return 0, Wrap(ErrBatchNumBytesLen)
	}
	return BatchNum(binary.BigEndian.Uint64(b[:batchNumBytesLen])), nil
}

// BatchStatus is the lifecycle status of a Batch
type BatchStatus string

const (
	// BatchStatusPending marks a batch that has been created and is
	// waiting to be processed
	BatchStatusPending BatchStatus = "pending"
	// BatchStatusFull marks a batch whose dispute set is closed and that
	// is ready for processing
	BatchStatusFull BatchStatus = "full"
	// BatchStatusProcessing marks a batch whose commitment roots are
	// being computed
	BatchStatusProcessing BatchStatus = "processing"
	// BatchStatusCommitted marks a batch whose roots are computed and
	// whose challenge period is running
	BatchStatusCommitted BatchStatus = "committed"
	// BatchStatusChallenged marks a committed batch under an open
	// challenge
	BatchStatusChallenged BatchStatus = "challenged"
	// BatchStatusFinalized marks a batch that survived its challenge
	// period.  Terminal.
	BatchStatusFinalized BatchStatus = "finalized"
	// BatchStatusRejected marks a challenged batch whose commitment was
	// reverted.  Terminal.
	BatchStatusRejected BatchStatus = "rejected"
)

// String returns the string representation of the BatchStatus
func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no further lifecycle transition is possible
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusFinalized || s == BatchStatusRejected
}

// Batch is an ordered group of disputes with an associated Merkle commitment,
// destined for the upper settlement layer.  A batch exclusively owns its
// disputes while pending or processing; on rejection, ownership reverts to
// the processor's pending queue.
type Batch struct {
	BatchNum BatchNum  `meddler:"batch_num" json:"batchNum"`
	Disputes []Dispute `meddler:"-" json:"disputes,omitempty"`
	// PrevStateRoot is the processor's global state root at the moment
	// the batch was created, not when it is processed.
	PrevStateRoot ethCommon.Hash `meddler:"prev_state_root" json:"prevStateRoot"`
	StateRoot     ethCommon.Hash `meddler:"state_root" json:"stateRoot"`
	DisputeRoot   ethCommon.Hash `meddler:"dispute_root" json:"disputeRoot"`
	Status        BatchStatus    `meddler:"status" json:"status"`
	CreatedAt     time.Time      `meddler:"created_at,utctime" json:"createdAt"`
	SubmittedAt   *time.Time     `meddler:"submitted_at,utctime" json:"submittedAt,omitempty"`
	FinalizedAt   *time.Time     `meddler:"finalized_at,utctime" json:"finalizedAt,omitempty"`
}

// TotalStake returns the sum of the stake amounts of all disputes in the
// batch
func (b *Batch) TotalStake() *big.Int {
	total := new(big.Int)
	for i := range b.Disputes {
		if b.Disputes[i].StakeAmount != nil {
			total.Add(total, b.Disputes[i].StakeAmount)
		}
	}
	return total
}

// Commitment builds the outbound settlement record of the batch
func (b *Batch) Commitment() *BatchCommitment {
	return &BatchCommitment{
		BatchNum:      b.BatchNum,
		PrevStateRoot: b.PrevStateRoot,
		StateRoot:     b.StateRoot,
		DisputeRoot:   b.DisputeRoot,
		DisputeCount:  len(b.Disputes),
		TotalStake:    b.TotalStake(),
	}
}

// BatchCommitment is the record of a committed batch exposed to the
// settlement layer
type BatchCommitment struct {
	BatchNum      BatchNum       `json:"batchNum"`
	PrevStateRoot ethCommon.Hash `json:"prevStateRoot"`
	StateRoot     ethCommon.Hash `json:"stateRoot"`
	DisputeRoot   ethCommon.Hash `json:"disputeRoot"`
	DisputeCount  int            `json:"disputeCount"`
	TotalStake    *big.Int       `json:"totalStake"`
}

// BatchResult reports the outcome of processing a batch.  On failure the
// batch is returned to the pending state (never lost) and Err carries the
// reason; the processor's global state root is left unchanged.
type BatchResult struct {
	BatchNum          BatchNum       `json:"batchNum"`
	Success           bool           `json:"success"`
	StateRoot         ethCommon.Hash `json:"stateRoot"`
	DisputeRoot       ethCommon.Hash `json:"disputeRoot"`
	DisputesProcessed int            `json:"disputesProcessed"`
	ProcessingTime    time.Duration  `json:"processingTime"`
	GasEstimate       uint64         `json:"gasEstimate"`
	Err               string         `json:"error,omitempty"`
}

/*
Package batchprocessor groups disputes into batches and commits them with
Merkle roots toward the settlement layer.

Disputes enter through AddDispute and wait in a FIFO pending queue.  A batch
is cut from the front of the queue either when the queue grows past the
configured sizes or when disputes have waited longer than the batch interval.
Processing a batch computes the Merkle root over the dispute data hashes,
chains it into the processor's global state root and opens the challenge
period.  A committed batch either survives the period and is finalized, or is
challenged and rejected, which reverts the global root and returns the
disputes to the front of the queue with their identities intact.

The processor is a single instance owning all mutable state (pending queue,
batch map, dispute counter, global root) behind one mutex; callers can invoke
it from multiple goroutines but operations execute one at a time.
*/
package batchprocessor

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"dispute-rollup/common"
	"dispute-rollup/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// Config contains the batch processor configuration parameters
type Config struct {
	// MinBatchSize is the pending queue size that triggers batch creation
	MinBatchSize int
	// MaxBatchSize bounds the number of disputes cut into one batch; the
	// queue reaching it forces immediate batch creation
	MaxBatchSize int
	// BatchInterval triggers batch creation by dispute age: with a non
	// empty queue, a batch is cut once this much time has passed since
	// the last batch was created
	BatchInterval time.Duration
	// ChallengePeriod is the window after commitment during which the
	// batch can be challenged; finalization requires it to have elapsed
	ChallengePeriod time.Duration
}

// BatchProcessor owns the dispute intake queue, the batch lifecycle and the
// global state root
type BatchProcessor struct {
	mu  sync.RWMutex
	cfg Config

	stateRoot      ethCommon.Hash
	pending        []common.Dispute
	nextDisputeNum common.DisputeNum
	nextBatchNum   common.BatchNum
	batches        map[common.BatchNum]*common.Batch
	// batchNums keeps creation order for oldest-first processing
	batchNums          []common.BatchNum
	lastBatchCreatedAt time.Time

	timeNow func() time.Time
}

// NewBatchProcessor creates a BatchProcessor with an empty queue and a zero
// global state root
func NewBatchProcessor(cfg Config) *BatchProcessor {
	now := time.Now
	return &BatchProcessor{
		cfg:                cfg,
		nextDisputeNum:     1,
		nextBatchNum:       1,
		batches:            make(map[common.BatchNum]*common.Batch),
		lastBatchCreatedAt: now(),
		timeNow:            now,
	}
}

// AddDispute assigns the next dispute number, computes the dispute data hash
// and appends the dispute to the pending queue.  If the queue reaches
// MaxBatchSize a batch is cut immediately as a side effect.
func (bp *BatchProcessor) AddDispute(initiatorHash, counterpartyHash,
	evidenceRoot ethCommon.Hash, stakeAmount *big.Int) *common.Dispute {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	dispute := common.Dispute{
		DisputeNum:       bp.nextDisputeNum,
		InitiatorHash:    initiatorHash,
		CounterpartyHash: counterpartyHash,
		EvidenceRoot:     evidenceRoot,
		StakeAmount:      new(big.Int).Set(stakeAmount),
		CreatedAt:        bp.timeNow().UTC(),
	}
	dispute.DataHash = common.CalcDisputeDataHash(dispute.DisputeNum,
		dispute.InitiatorHash, dispute.CounterpartyHash, dispute.EvidenceRoot)
	bp.nextDisputeNum++
	bp.pending = append(bp.pending, dispute)

	if len(bp.pending) >= bp.cfg.MaxBatchSize {
		batch := bp.createBatch()
		log.Infow("BatchProcessor: queue full, batch cut",
			"batch", batch.BatchNum, "disputes", len(batch.Disputes))
	}
	return &dispute
}

// ShouldCreateBatch reports whether the size or the age trigger for batch
// creation holds
func (bp *BatchProcessor) ShouldCreateBatch() bool {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.shouldCreateBatch()
}

func (bp *BatchProcessor) shouldCreateBatch() bool {
	if len(bp.pending) >= bp.cfg.MinBatchSize {
		return true
	}
	return len(bp.pending) > 0 &&
		bp.timeNow().Sub(bp.lastBatchCreatedAt) >= bp.cfg.BatchInterval
}

// createBatch pops up to MaxBatchSize disputes from the front of the queue
// into a new batch in full state.  Caller must hold the write lock and
// guarantee a non empty queue.
func (bp *BatchProcessor) createBatch() *common.Batch {
	n := len(bp.pending)
	if n > bp.cfg.MaxBatchSize {
		n = bp.cfg.MaxBatchSize
	}
	disputes := make([]common.Dispute, n)
	copy(disputes, bp.pending[:n])
	bp.pending = append([]common.Dispute{}, bp.pending[n:]...)

	now := bp.timeNow().UTC()
	batch := &common.Batch{
		BatchNum: bp.nextBatchNum,
		Disputes: disputes,
		// the global root at creation time, even if processing happens
		// much later
		PrevStateRoot: bp.stateRoot,
		Status:        common.BatchStatusFull,
		CreatedAt:     now,
	}
	bp.nextBatchNum++
	bp.batches[batch.BatchNum] = batch
	bp.batchNums = append(bp.batchNums, batch.BatchNum)
	bp.lastBatchCreatedAt = now
	return batch
}

// CreateAndProcessBatch cuts a batch from the pending queue if a creation
// trigger holds and processes it immediately.  If no trigger holds but an
// earlier batch is still waiting to be processed, the oldest such batch is
// processed instead.  Returns nil when there is nothing to do.
func (bp *BatchProcessor) CreateAndProcessBatch() (*common.BatchResult, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.shouldCreateBatch() {
		batch := bp.createBatch()
		return bp.processBatch(batch)
	}
	for _, batchNum := range bp.batchNums {
		batch := bp.batches[batchNum]
		if batch.Status == common.BatchStatusFull ||
			batch.Status == common.BatchStatusPending {
			return bp.processBatch(batch)
		}
	}
	return nil, nil
}

// ProcessBatch processes the batch with the given number.  Only batches in
// full or pending state can be processed.
func (bp *BatchProcessor) ProcessBatch(batchNum common.BatchNum) (*common.BatchResult, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	batch, ok := bp.batches[batchNum]
	if !ok {
		return nil, common.Wrap(common.ErrBatchNotFound)
	}
	if batch.Status != common.BatchStatusFull &&
		batch.Status != common.BatchStatusPending {
		return nil, common.Wrap(common.ErrInvalidBatchStatus)
	}
	return bp.processBatch(batch)
}

// processBatch computes the batch commitment roots and advances the global
// state root.  On failure the batch goes back to pending, the global root is
// left untouched and the result carries the error.  Caller must hold the
// write lock.
func (bp *BatchProcessor) processBatch(batch *common.Batch) (*common.BatchResult, error) {
	start := bp.timeNow()
	batch.Status = common.BatchStatusProcessing

	if len(batch.Disputes) == 0 {
		batch.Status = common.BatchStatusPending
		log.Warnw("BatchProcessor: batch processing failed",
			"batch", batch.BatchNum, "err", common.ErrEmptyBatch)
		return &common.BatchResult{
			BatchNum: batch.BatchNum,
			Err:      common.ErrEmptyBatch.Error(),
		}, nil
	}

	leaves := make([]ethCommon.Hash, len(batch.Disputes))
	for i := range batch.Disputes {
		leaves[i] = batch.Disputes[i].DataHash
	}
	disputeRoot := MerkleRoot(leaves)

	now := bp.timeNow().UTC()
	stateRoot := common.HashData(batch.PrevStateRoot[:], disputeRoot[:],
		common.TimestampBytes(now.Unix()))

	batch.DisputeRoot = disputeRoot
	batch.StateRoot = stateRoot
	batch.Status = common.BatchStatusCommitted
	batch.SubmittedAt = &now
	bp.stateRoot = stateRoot

	result := &common.BatchResult{
		BatchNum:          batch.BatchNum,
		Success:           true,
		StateRoot:         stateRoot,
		DisputeRoot:       disputeRoot,
		DisputesProcessed: len(batch.Disputes),
		ProcessingTime:    bp.timeNow().Sub(start),
		GasEstimate: common.BatchGasBase +
			common.BatchGasPerDispute*uint64(len(batch.Disputes)),
	}
	log.Infow("BatchProcessor: batch committed", "batch", batch.BatchNum,
		"disputes", result.DisputesProcessed, "stateRoot", stateRoot.Hex())
	return result, nil
}

// FinalizeBatch moves a committed batch to finalized once its challenge
// period has elapsed
func (bp *BatchProcessor) FinalizeBatch(batchNum common.BatchNum) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	batch, ok := bp.batches[batchNum]
	if !ok {
		return common.Wrap(common.ErrBatchNotFound)
	}
	if batch.Status != common.BatchStatusCommitted {
		return common.Wrap(common.ErrInvalidBatchStatus)
	}
	if batch.SubmittedAt == nil ||
		bp.timeNow().Sub(*batch.SubmittedAt) < bp.cfg.ChallengePeriod {
		return common.Wrap(common.ErrChallengePeriodActive)
	}
	now := bp.timeNow().UTC()
	batch.Status = common.BatchStatusFinalized
	batch.FinalizedAt = &now
	log.Infow("BatchProcessor: batch finalized", "batch", batch.BatchNum)
	return nil
}

// ChallengeBatch opens a challenge against a committed batch
func (bp *BatchProcessor) ChallengeBatch(batchNum common.BatchNum) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	batch, ok := bp.batches[batchNum]
	if !ok {
		return common.Wrap(common.ErrBatchNotFound)
	}
	if batch.Status != common.BatchStatusCommitted {
		return common.Wrap(common.ErrInvalidBatchStatus)
	}
	batch.Status = common.BatchStatusChallenged
	log.Infow("BatchProcessor: batch challenged", "batch", batch.BatchNum)
	return nil
}

// RejectBatch resolves a challenge against the batch.  The global state root
// reverts to the batch's previous root and the batch's disputes return to
// the front of the pending queue, keeping their numbers and timestamps, so
// they are reprocessed before newer disputes.
func (bp *BatchProcessor) RejectBatch(batchNum common.BatchNum) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	batch, ok := bp.batches[batchNum]
	if !ok {
		return common.Wrap(common.ErrBatchNotFound)
	}
	if batch.Status != common.BatchStatusChallenged {
		return common.Wrap(common.ErrInvalidBatchStatus)
	}
	batch.Status = common.BatchStatusRejected
	bp.stateRoot = batch.PrevStateRoot

	refront := make([]common.Dispute, 0, len(batch.Disputes)+len(bp.pending))
	refront = append(refront, batch.Disputes...)
	refront = append(refront, bp.pending...)
	bp.pending = refront

	log.Infow("BatchProcessor: batch rejected", "batch", batch.BatchNum,
		"requeued", len(batch.Disputes), "stateRoot", bp.stateRoot.Hex())
	return nil
}

// RecordResolution stores the resolution bytes on an existing dispute.  The
// live copy is resolved: the pending queue first, then batches from newest
// to oldest, so a dispute requeued by a rejection is never resolved on the
// stale record inside the rejected batch.  The data hash is unaffected;
// resolutions do not take part in batch commitments.
func (bp *BatchProcessor) RecordResolution(disputeNum common.DisputeNum,
	resolution []byte) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	now := bp.timeNow().UTC()
	for i := range bp.pending {
		if bp.pending[i].DisputeNum == disputeNum {
			bp.pending[i].Resolution = resolution
			bp.pending[i].ResolvedAt = &now
			return nil
		}
	}
	for i := len(bp.batchNums) - 1; i >= 0; i-- {
		batch := bp.batches[bp.batchNums[i]]
		for j := range batch.Disputes {
			if batch.Disputes[j].DisputeNum == disputeNum {
				batch.Disputes[j].Resolution = resolution
				batch.Disputes[j].ResolvedAt = &now
				return nil
			}
		}
	}
	return common.Wrap(common.ErrDisputeNotFound)
}

// GetMerkleProof builds the inclusion proof of a dispute inside a batch
func (bp *BatchProcessor) GetMerkleProof(batchNum common.BatchNum,
	disputeNum common.DisputeNum) (*MerkleProof, error) {
	bp.mu.RLock()
	defer bp.mu.RUnlock()

	batch, ok := bp.batches[batchNum]
	if !ok {
		return nil, common.Wrap(common.ErrBatchNotFound)
	}
	index := -1
	leaves := make([]ethCommon.Hash, len(batch.Disputes))
	for i := range batch.Disputes {
		leaves[i] = batch.Disputes[i].DataHash
		if batch.Disputes[i].DisputeNum == disputeNum {
			index = i
		}
	}
	if index == -1 {
		return nil, common.Wrap(common.ErrDisputeNotFound)
	}
	return &MerkleProof{
		BatchNum:   batchNum,
		DisputeNum: disputeNum,
		Leaf:       leaves[index],
		Index:      index,
		NumLeaves:  len(leaves),
		Siblings:   merkleSiblings(leaves, index),
		Root:       MerkleRoot(leaves),
	}, nil
}

// StateRoot returns the processor's current global state root
func (bp *BatchProcessor) StateRoot() ethCommon.Hash {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.stateRoot
}

// PendingCount returns the number of disputes waiting to be batched
func (bp *BatchProcessor) PendingCount() int {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return len(bp.pending)
}

// PendingDisputes returns a snapshot of the pending queue in order
func (bp *BatchProcessor) PendingDisputes() []common.Dispute {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	disputes := make([]common.Dispute, len(bp.pending))
	copy(disputes, bp.pending)
	return disputes
}

// TotalDisputes returns the number of disputes ever created
func (bp *BatchProcessor) TotalDisputes() uint64 {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return uint64(bp.nextDisputeNum) - 1
}

// LastBatchNum returns the number of the most recently created batch, or 0
// when no batch exists yet
func (bp *BatchProcessor) LastBatchNum() common.BatchNum {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.nextBatchNum - 1
}

// Batch returns a snapshot of the batch with the given number
func (bp *BatchProcessor) Batch(batchNum common.BatchNum) (*common.Batch, error) {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	batch, ok := bp.batches[batchNum]
	if !ok {
		return nil, common.Wrap(common.ErrBatchNotFound)
	}
	return copyBatch(batch), nil
}

// Batches returns snapshots of all batches in creation order
func (bp *BatchProcessor) Batches() []*common.Batch {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	batches := make([]*common.Batch, 0, len(bp.batchNums))
	for _, batchNum := range bp.batchNums {
		batches = append(batches, copyBatch(bp.batches[batchNum]))
	}
	return batches
}

// Dispute looks up a dispute by number, first in the pending queue and then
// across the batches
func (bp *BatchProcessor) Dispute(disputeNum common.DisputeNum) (*common.Dispute, error) {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	for i := range bp.pending {
		if bp.pending[i].DisputeNum == disputeNum {
			dispute := bp.pending[i]
			return &dispute, nil
		}
	}
	for _, batchNum := range bp.batchNums {
		batch := bp.batches[batchNum]
		for i := range batch.Disputes {
			if batch.Disputes[i].DisputeNum == disputeNum {
				dispute := batch.Disputes[i]
				return &dispute, nil
			}
		}
	}
	return nil, common.Wrap(common.ErrDisputeNotFound)
}

// HasDispute reports whether a dispute with the given number has been
// created.  Dispute numbers are dense, so an existence check against the
// counter suffices.
func (bp *BatchProcessor) HasDispute(disputeNum common.DisputeNum) bool {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return disputeNum >= 1 && disputeNum < bp.nextDisputeNum
}

func copyBatch(batch *common.Batch) *common.Batch {
	c := *batch
	c.Disputes = make([]common.Dispute, len(batch.Disputes))
	copy(c.Disputes, batch.Disputes)
	return &c
}

// String summarizes the processor state for logs
func (bp *BatchProcessor) String() string {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return fmt.Sprintf("BatchProcessor{pending: %d, batches: %d, stateRoot: %s}",
		len(bp.pending), len(bp.batches), bp.stateRoot.Hex())
}

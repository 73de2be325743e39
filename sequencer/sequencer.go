/*
Package sequencer gives dispute transactions a total order and executes them
into blocks.

Transactions enter the pool through SubmitTransaction (or the typed builders
on top of it) and wait in a priority queue ordered by descending priority,
descending gas price and ascending submission time.  ProduceBlock drains the
queue greedily under the per block transaction and gas limits, executes each
transaction against the batch processor, and chains the executed results
into the sequencer state root: the root is iteratively rehashed with every
transaction id, result and timestamp in inclusion order.  Blocks carry a
cheap incremental hash chain while batch commitments carry provable Merkle
trees; the two are intentionally different constructions.

The sequencer accepts work only while running.  All mutable state (pool,
nonce table, block counter, state root) lives behind one mutex, so
submitters and the block producing loop can run on different goroutines.
*/
package sequencer

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"dispute-rollup/batchprocessor"
	"dispute-rollup/common"
	"dispute-rollup/log"
	"dispute-rollup/metric"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// State is the lifecycle state of the sequencer
type State string

const (
	// StateStarting is the state before the first Start call
	StateStarting State = "starting"
	// StateRunning accepts transactions and produces blocks
	StateRunning State = "running"
	// StatePaused holds the pool but accepts nothing and produces nothing
	StatePaused State = "paused"
	// StateStopped is the state after Stop; Start brings the sequencer
	// back
	StateStopped State = "stopped"
)

// ErrInvalidStateTransition is returned by the lifecycle methods when the
// requested transition is not allowed from the current state
var ErrInvalidStateTransition = errors.New("invalid sequencer state transition")

// execution result markers
var (
	voteRecordedResult = []byte("vote_recorded")
	noBatchResult      = []byte("no_batch")
)

// Config contains the sequencer configuration parameters
type Config struct {
	// SequencerID is recorded in every produced StateTransition
	SequencerID string
	// MaxTxsPerBlock bounds the number of transactions per block
	MaxTxsPerBlock int
	// MaxGasPerBlock bounds the estimated gas per block; a transaction
	// that would exceed it is deferred to the next block, not dropped
	MaxGasPerBlock uint64
	// MaxPendingTxs bounds the pool; submissions beyond it are rejected
	MaxPendingTxs int
	// BatchCommitInterval is the number of produced blocks after which
	// the batch processor is asked to cut and process a batch
	BatchCommitInterval uint64
}

// Sequencer orders and executes dispute transactions into blocks
type Sequencer struct {
	mu  sync.RWMutex
	cfg Config

	state State
	queue *txQueue
	// txs indexes every submitted transaction by id, pooled or processed
	txs map[string]*common.Tx
	// nonces holds, per sender, the minimum nonce accepted next: it
	// advances to tx.Nonce+1 when a transaction is included in a block
	nonces map[string]uint64

	blockNum          uint64
	stateRoot         ethCommon.Hash
	blocksSinceCommit uint64
	lastTransition    *common.StateTransition

	bp *batchprocessor.BatchProcessor

	timeNow func() time.Time
}

// NewSequencer creates a stopped sequencer bound to the given batch
// processor.  Start must be called before it accepts work.
func NewSequencer(cfg Config, bp *batchprocessor.BatchProcessor) *Sequencer {
	return &Sequencer{
		cfg:     cfg,
		state:   StateStarting,
		queue:   newTxQueue(),
		txs:     make(map[string]*common.Tx),
		nonces:  make(map[string]uint64),
		bp:      bp,
		timeNow: time.Now,
	}
}

// Start moves the sequencer to running
func (s *Sequencer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStarting && s.state != StateStopped {
		return common.Wrap(ErrInvalidStateTransition)
	}
	s.state = StateRunning
	log.Infow("Sequencer: started", "id", s.cfg.SequencerID)
	return nil
}

// Stop halts the sequencer.  The pool is kept, so a later Start resumes
// with the queued transactions.
func (s *Sequencer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return common.Wrap(ErrInvalidStateTransition)
	}
	s.state = StateStopped
	log.Infow("Sequencer: stopped", "id", s.cfg.SequencerID)
	return nil
}

// Pause suspends a running sequencer
func (s *Sequencer) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return common.Wrap(ErrInvalidStateTransition)
	}
	s.state = StatePaused
	log.Infow("Sequencer: paused", "id", s.cfg.SequencerID)
	return nil
}

// Resume moves a paused sequencer back to running
func (s *Sequencer) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return common.Wrap(ErrInvalidStateTransition)
	}
	s.state = StateRunning
	log.Infow("Sequencer: resumed", "id", s.cfg.SequencerID)
	return nil
}

// SubmitTransaction validates and pools a transaction.  It reports false
// when the sequencer is not running, the pool is at capacity, the type has
// no execution semantics, or the nonce is below the sender's accepted
// minimum.
func (s *Sequencer) SubmitTransaction(tx *common.Tx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		metric.RejectedTxs.Inc()
		log.Debugw("Sequencer: tx rejected, not running", "state", s.state)
		return false
	}
	if s.queue.Len() >= s.cfg.MaxPendingTxs {
		metric.RejectedTxs.Inc()
		log.Debugw("Sequencer: tx rejected, pool full", "size", s.queue.Len())
		return false
	}
	// there is no stake ledger in this rollup: deposits and withdrawals
	// are turned away at the door instead of failing at execution
	if tx.Type == common.TxTypeStakeDeposit || tx.Type == common.TxTypeStakeWithdraw {
		metric.RejectedTxs.Inc()
		log.Debugw("Sequencer: tx rejected, unsupported type", "type", tx.Type)
		return false
	}
	if tx.Nonce < s.nonces[tx.Sender] {
		metric.RejectedTxs.Inc()
		log.Debugw("Sequencer: tx rejected, stale nonce", "sender", tx.Sender,
			"nonce", tx.Nonce, "accepted", s.nonces[tx.Sender])
		return false
	}
	// relayed transactions arrive with their id set; a known id means the
	// transaction is already pooled or executed
	if _, known := s.txs[tx.TxID]; known && tx.TxID != "" {
		metric.RejectedTxs.Inc()
		log.Debugw("Sequencer: tx rejected, duplicate id", "txID", tx.TxID)
		return false
	}

	if tx.Timestamp.IsZero() {
		tx.Timestamp = s.timeNow().UTC()
	}
	if tx.TxID == "" {
		tx.TxID = common.CalcTxID(tx.Type, tx.Sender, tx.Nonce, tx.Payload,
			tx.Timestamp)
	}
	s.queue.Push(tx)
	s.txs[tx.TxID] = tx
	metric.PoolTxs.Set(float64(s.queue.Len()))
	return true
}

// SubmitDispute packs the dispute creation fields into a DisputeSubmit
// transaction at base priority and submits it
func (s *Sequencer) SubmitDispute(initiatorHash, counterpartyHash,
	evidenceRoot ethCommon.Hash, stakeAmount *big.Int, sender string,
	gasPrice, nonce uint64) (*common.Tx, bool) {
	tx := s.buildTx(common.TxTypeDisputeSubmit, sender,
		common.PackDisputePayload(initiatorHash, counterpartyHash, evidenceRoot,
			stakeAmount),
		common.TxPriorityBase, gasPrice, nonce)
	return tx, s.SubmitTransaction(tx)
}

// SubmitResolution packs a DisputeResolve transaction.  Resolutions ride at
// elevated priority so they win block space over new submissions.
func (s *Sequencer) SubmitResolution(disputeNum common.DisputeNum,
	resolution []byte, sender string, gasPrice, nonce uint64) (*common.Tx, bool) {
	tx := s.buildTx(common.TxTypeDisputeResolve, sender,
		common.PackResolutionPayload(disputeNum, resolution),
		common.TxPriorityResolution, gasPrice, nonce)
	return tx, s.SubmitTransaction(tx)
}

// SubmitEvidence packs an EvidenceSubmit transaction at base priority
func (s *Sequencer) SubmitEvidence(disputeNum common.DisputeNum,
	evidence []byte, sender string, gasPrice, nonce uint64) (*common.Tx, bool) {
	tx := s.buildTx(common.TxTypeEvidenceSubmit, sender,
		common.PackEvidencePayload(disputeNum, evidence),
		common.TxPriorityBase, gasPrice, nonce)
	return tx, s.SubmitTransaction(tx)
}

// SubmitVote packs a VoteCast transaction at base priority
func (s *Sequencer) SubmitVote(vote []byte, sender string, gasPrice,
	nonce uint64) (*common.Tx, bool) {
	tx := s.buildTx(common.TxTypeVoteCast, sender, vote,
		common.TxPriorityBase, gasPrice, nonce)
	return tx, s.SubmitTransaction(tx)
}

// SubmitBatchCommit packs a BatchCommit transaction, which forces the batch
// processor to cut and process a batch when executed
func (s *Sequencer) SubmitBatchCommit(sender string, gasPrice,
	nonce uint64) (*common.Tx, bool) {
	tx := s.buildTx(common.TxTypeBatchCommit, sender, nil,
		common.TxPriorityBase, gasPrice, nonce)
	return tx, s.SubmitTransaction(tx)
}

func (s *Sequencer) buildTx(typ common.TxType, sender string, payload []byte,
	priority int, gasPrice, nonce uint64) *common.Tx {
	timestamp := s.timeNow().UTC()
	return &common.Tx{
		TxID:      common.CalcTxID(typ, sender, nonce, payload, timestamp),
		Type:      typ,
		Sender:    sender,
		Payload:   payload,
		Timestamp: timestamp,
		Priority:  priority,
		GasPrice:  gasPrice,
		Nonce:     nonce,
	}
}

// ProduceBlock drains the pool under the block limits, executes the drained
// transactions and emits the resulting state transition.  It returns nil
// when the sequencer is not running, the pool is empty, or nothing fits the
// gas limit.
func (s *Sequencer) ProduceBlock() *common.StateTransition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning || s.queue.Len() == 0 {
		return nil
	}

	prevRoot := s.stateRoot
	root := prevRoot
	var included []*common.Tx
	var gasUsed uint64
	for len(included) < s.cfg.MaxTxsPerBlock {
		item := s.queue.Pop()
		if item == nil {
			break
		}
		gas := estimateTxGas(item.tx)
		if gasUsed+gas > s.cfg.MaxGasPerBlock {
			// deferred, not dropped: it keeps its place in line
			s.queue.PushBack(item)
			break
		}
		tx := item.tx
		s.executeTx(tx)
		tx.Processed = true
		s.nonces[tx.Sender] = tx.Nonce + 1
		gasUsed += gas
		root = common.HashData(root[:], []byte(tx.TxID), tx.Result,
			common.TimestampBytes(tx.Timestamp.Unix()))
		included = append(included, tx)
	}
	if len(included) == 0 {
		return nil
	}

	s.blockNum++
	s.stateRoot = root
	txIDs := make([]string, len(included))
	for i, tx := range included {
		blockNum := s.blockNum
		tx.BlockNum = &blockNum
		txIDs[i] = tx.TxID
	}
	transition := &common.StateTransition{
		BlockNum:      s.blockNum,
		PrevStateRoot: prevRoot,
		NewStateRoot:  root,
		TxIDs:         txIDs,
		GasUsed:       gasUsed,
		Timestamp:     s.timeNow().UTC(),
		SequencerID:   s.cfg.SequencerID,
	}
	s.lastTransition = transition

	metric.LastBlockNum.Set(float64(s.blockNum))
	metric.ProducedBlocks.Inc()
	metric.ProcessedTxs.Add(float64(len(included)))
	metric.PoolTxs.Set(float64(s.queue.Len()))
	log.Debugw("Sequencer: block produced", "block", s.blockNum,
		"txs", len(included), "gas", gasUsed)

	s.blocksSinceCommit++
	if s.cfg.BatchCommitInterval > 0 &&
		s.blocksSinceCommit >= s.cfg.BatchCommitInterval {
		s.blocksSinceCommit = 0
		if result, err := s.bp.CreateAndProcessBatch(); err != nil {
			log.Errorw("Sequencer: scheduled batch commit failed", "err", err)
		} else if result != nil && !result.Success {
			log.Warnw("Sequencer: scheduled batch commit unsuccessful",
				"batch", result.BatchNum, "err", result.Err)
		}
	}
	return transition
}

// executeTx runs the type dispatch for one transaction.  An execution
// failure is recorded on the transaction and does not stop the block.
func (s *Sequencer) executeTx(tx *common.Tx) {
	result, err := s.applyTx(tx)
	if err != nil {
		tx.Error = err.Error()
		log.Debugw("Sequencer: tx execution failed", "txID", tx.TxID,
			"type", tx.Type, "err", err)
		return
	}
	tx.Result = result
}

func (s *Sequencer) applyTx(tx *common.Tx) ([]byte, error) {
	switch tx.Type {
	case common.TxTypeDisputeSubmit:
		initiatorHash, counterpartyHash, evidenceRoot, stakeAmount, err :=
			common.ParseDisputePayload(tx.Payload)
		if err != nil {
			return nil, err
		}
		dispute := s.bp.AddDispute(initiatorHash, counterpartyHash,
			evidenceRoot, stakeAmount)
		return dispute.DisputeNum.Bytes(), nil
	case common.TxTypeDisputeResolve:
		disputeNum, resolution, err := common.ParseResolutionPayload(tx.Payload)
		if err != nil {
			return nil, err
		}
		if err := s.bp.RecordResolution(disputeNum, resolution); err != nil {
			return nil, err
		}
		return resolution, nil
	case common.TxTypeEvidenceSubmit:
		digest := common.HashData(tx.Payload)
		return digest.Bytes(), nil
	case common.TxTypeVoteCast:
		return voteRecordedResult, nil
	case common.TxTypeBatchCommit:
		s.blocksSinceCommit = 0
		result, err := s.bp.CreateAndProcessBatch()
		if err != nil {
			return nil, err
		}
		if result == nil {
			return noBatchResult, nil
		}
		if !result.Success {
			return nil, errors.New(result.Err)
		}
		return result.StateRoot.Bytes(), nil
	default:
		return nil, fmt.Errorf("no execution defined for tx type %v", tx.Type)
	}
}

func estimateTxGas(tx *common.Tx) uint64 {
	switch tx.Type {
	case common.TxTypeDisputeSubmit:
		return common.TxGasBase + common.TxGasDisputeSubmit
	case common.TxTypeDisputeResolve:
		return common.TxGasBase + common.TxGasDisputeResolve
	case common.TxTypeEvidenceSubmit:
		return common.TxGasBase + common.TxGasEvidenceSubmit +
			common.TxGasEvidencePerB*uint64(len(tx.Payload))
	default:
		return common.TxGasBase + common.TxGasDefault
	}
}

// State returns the current lifecycle state
func (s *Sequencer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BlockNum returns the number of the last produced block
func (s *Sequencer) BlockNum() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockNum
}

// StateRoot returns the sequencer's current chain root
func (s *Sequencer) StateRoot() ethCommon.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateRoot
}

// PendingTxCount returns the number of pooled transactions
func (s *Sequencer) PendingTxCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.Len()
}

// PoolSnapshot returns copies of the pooled transactions in ranking order
func (s *Sequencer) PoolSnapshot() []common.Tx {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.Snapshot()
}

// Tx returns a copy of a submitted transaction by id, pooled or processed
func (s *Sequencer) Tx(txID string) (*common.Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[txID]
	if !ok {
		return nil, common.Wrap(common.ErrTxNotFound)
	}
	c := *tx
	return &c, nil
}

// Nonce returns the minimum nonce currently accepted from the sender
func (s *Sequencer) Nonce(sender string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[sender]
}

// LastTransition returns a copy of the most recent state transition, nil
// before the first block
func (s *Sequencer) LastTransition() *common.StateTransition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastTransition == nil {
		return nil
	}
	c := *s.lastTransition
	c.TxIDs = append([]string{}, s.lastTransition.TxIDs...)
	return &c
}

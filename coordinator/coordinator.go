/*
Package coordinator drives the periodic work of a sequencer node.  It owns no
rollup state of its own: the sequencer and the batch processor hold all of it
behind their locks, and the coordinator turns the crank from a single
goroutine so that block production, batch lifecycle transitions, settlement
forwarding and archiving never interleave.

The coordinator runs two goroutines.  The main one handles messages from the
msgCh channel and produces a block every BlockInterval; the second one only
emits MsgFinalizeSweep every FinalizeInterval, so the sweep is serialized
with everything else on the same channel.  Messages are also how the rest of
the node requests out-of-cadence work: the API sends MsgChallengeBatch and
MsgRejectBatch on behalf of the settlement layer, and MsgProduceBlock forces
a block outside the cadence.
*/
package coordinator

import (
	"context"
	"sync"
	"time"

	"dispute-rollup/batchprocessor"
	"dispute-rollup/common"
	"dispute-rollup/database/historydb"
	"dispute-rollup/log"
	"dispute-rollup/metric"
	"dispute-rollup/sequencer"
	"dispute-rollup/settlement"
)

const queueLen = 16

// Config contains the Coordinator configuration
type Config struct {
	// BlockInterval is the cadence of block production
	BlockInterval time.Duration
	// FinalizeInterval is the cadence of the sweep that finalizes committed
	// batches whose challenge period has elapsed
	FinalizeInterval time.Duration
	// SettlementTimeout bounds every call to the settlement layer
	SettlementTimeout time.Duration
}

// Coordinator implements the Coordinator type
type Coordinator struct {
	// State
	started bool
	// batchStatus is the last lifecycle status synced per batch, used to
	// detect transitions exactly once
	batchStatus map[common.BatchNum]common.BatchStatus
	// lastForwardedBatch is the highest batch number the settlement layer
	// has accepted
	lastForwardedBatch common.BatchNum

	cfg Config

	seq        *sequencer.Sequencer
	bp         *batchprocessor.BatchProcessor
	settlement settlement.Client    // nil when the node runs without a settlement layer
	historyDB  *historydb.HistoryDB // nil when the node runs without the archive database

	msgCh  chan interface{}
	ctx    context.Context
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// MsgProduceBlock requests one block production out of cadence
type MsgProduceBlock struct{}

// MsgFinalizeSweep requests a pass over the committed batches to finalize
// the ones whose challenge period has elapsed
type MsgFinalizeSweep struct{}

// MsgChallengeBatch opens a challenge against a committed batch
type MsgChallengeBatch struct {
	BatchNum common.BatchNum
	Reason   string
}

// MsgRejectBatch resolves an open challenge by reverting the batch
type MsgRejectBatch struct {
	BatchNum common.BatchNum
	Reason   string
}

// NewCoordinator creates a new Coordinator.  When a settlement client is
// given, the forwarding cursor starts from whatever the settlement layer
// already holds, so a restarted node does not resubmit old commitments.
func NewCoordinator(cfg Config,
	seq *sequencer.Sequencer,
	bp *batchprocessor.BatchProcessor,
	settlementClient settlement.Client,
	historyDB *historydb.HistoryDB,
) (*Coordinator, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := Coordinator{
		batchStatus:        make(map[common.BatchNum]common.BatchStatus),
		lastForwardedBatch: 0,

		cfg: cfg,

		seq:        seq,
		bp:         bp,
		settlement: settlementClient,
		historyDB:  historyDB,

		msgCh: make(chan interface{}, queueLen),
		ctx:   ctx,
		// wg
		cancel: cancel,
	}
	if settlementClient != nil {
		ctxTimeout, ctxTimeoutCancel := context.WithTimeout(ctx, cfg.SettlementTimeout)
		defer ctxTimeoutCancel()
		lastBatch, err := settlementClient.LastCommittedBatch(ctxTimeout)
		if err != nil {
			log.Warnw("Coordinator: settlement layer unreachable, "+
				"forwarding from the first batch", "err", err)
		} else {
			c.lastForwardedBatch = lastBatch
		}
	}
	return &c, nil
}

// SendMsg is a thread safe method to pass a message to the Coordinator
func (c *Coordinator) SendMsg(ctx context.Context, msg interface{}) {
	select {
	case c.msgCh <- msg:
	case <-ctx.Done():
	}
}

func (c *Coordinator) handleMsg(ctx context.Context, msg interface{}) error {
	switch msg := msg.(type) {
	case MsgProduceBlock:
		return c.produceBlock(ctx)
	case MsgFinalizeSweep:
		return c.finalizeSweep(ctx)
	case MsgChallengeBatch:
		return c.challengeBatch(ctx, msg)
	case MsgRejectBatch:
		return c.rejectBatch(ctx, msg)
	default:
		log.Fatalw("Coordinator.handleMsg invalid msg", "msg", msg)
	}
	return nil
}

// Start the coordinator
func (c *Coordinator) Start() {
	if c.started {
		log.Fatal("Coordinator already started")
	}
	c.started = true

	c.wg.Add(1)
	go func() {
		timer := time.NewTimer(c.cfg.BlockInterval)
		for {
			select {
			case <-c.ctx.Done():
				log.Info("Coordinator done")
				c.wg.Done()
				return
			case msg := <-c.msgCh:
				if err := c.handleMsg(c.ctx, msg); c.ctx.Err() != nil {
					continue
				} else if err != nil {
					log.Errorw("Coordinator.handleMsg", "err", err)
					continue
				}
			case <-timer.C:
				timer.Reset(c.cfg.BlockInterval)
				if err := c.produceBlock(c.ctx); c.ctx.Err() != nil {
					continue
				} else if err != nil {
					log.Errorw("Coordinator.produceBlock", "err", err)
					continue
				}
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		for {
			select {
			case <-c.ctx.Done():
				log.Info("Coordinator finalize loop done")
				c.wg.Done()
				return
			case <-time.After(c.cfg.FinalizeInterval):
				c.SendMsg(c.ctx, MsgFinalizeSweep{})
			}
		}
	}()
}

// Stop the coordinator
func (c *Coordinator) Stop() {
	if !c.started {
		log.Fatal("Coordinator already stopped")
	}
	c.started = false
	log.Infow("Stopping Coordinator...")
	c.cancel()
	c.wg.Wait()
}

// produceBlock asks the sequencer for a block and mirrors the outcome: the
// block and its transactions go to the archive, batch transitions caused by
// the executed transactions are synced, and resolutions are recorded on
// their archived disputes
func (c *Coordinator) produceBlock(ctx context.Context) error {
	transition := c.seq.ProduceBlock()
	if transition == nil {
		return nil
	}
	txs, err := c.blockTxs(transition)
	if err != nil {
		return common.Wrap(err)
	}
	if c.historyDB != nil {
		if err := c.historyDB.AddBlockData(transition, txs); err != nil {
			return common.Wrap(err)
		}
		if err := c.historyDB.AddPendingDisputes(c.bp.PendingDisputes()); err != nil {
			return common.Wrap(err)
		}
	}
	if err := c.syncBatches(ctx); err != nil {
		return common.Wrap(err)
	}
	if c.historyDB != nil {
		if err := c.archiveResolutions(txs); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}

func (c *Coordinator) blockTxs(transition *common.StateTransition) ([]common.Tx, error) {
	txs := make([]common.Tx, 0, len(transition.TxIDs))
	for _, txID := range transition.TxIDs {
		tx, err := c.seq.Tx(txID)
		if err != nil {
			return nil, common.Wrap(err)
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}

// archiveResolutions mirrors the resolutions carried by a block's executed
// transactions.  Resolutions touch disputes that may have been archived long
// ago inside a batch that will see no further lifecycle transition, so they
// cannot ride on the batch sync.
func (c *Coordinator) archiveResolutions(txs []common.Tx) error {
	for i := range txs {
		tx := &txs[i]
		if tx.Type != common.TxTypeDisputeResolve || tx.Error != "" {
			continue
		}
		disputeNum, _, err := common.ParseResolutionPayload(tx.Payload)
		if err != nil {
			return common.Wrap(err)
		}
		dispute, err := c.bp.Dispute(disputeNum)
		if err != nil {
			return common.Wrap(err)
		}
		if dispute.ResolvedAt == nil {
			continue
		}
		if err := c.historyDB.SetDisputeResolution(disputeNum,
			dispute.Resolution, *dispute.ResolvedAt); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}

// finalizeSweep finalizes every committed batch whose challenge period has
// elapsed.  Batches still inside their window stay committed.
func (c *Coordinator) finalizeSweep(ctx context.Context) error {
	for _, batch := range c.bp.Batches() {
		if batch.Status != common.BatchStatusCommitted {
			continue
		}
		err := c.bp.FinalizeBatch(batch.BatchNum)
		if common.Unwrap(err) == common.ErrChallengePeriodActive {
			continue
		} else if err != nil {
			return common.Wrap(err)
		}
	}
	return c.syncBatches(ctx)
}

func (c *Coordinator) challengeBatch(ctx context.Context, msg MsgChallengeBatch) error {
	log.Infow("Coordinator: challenging batch", "batch", msg.BatchNum,
		"reason", msg.Reason)
	if err := c.bp.ChallengeBatch(msg.BatchNum); err != nil {
		return common.Wrap(err)
	}
	return c.syncBatches(ctx)
}

func (c *Coordinator) rejectBatch(ctx context.Context, msg MsgRejectBatch) error {
	log.Infow("Coordinator: rejecting batch", "batch", msg.BatchNum,
		"reason", msg.Reason)
	if err := c.bp.RejectBatch(msg.BatchNum); err != nil {
		return common.Wrap(err)
	}
	if c.historyDB != nil {
		// the rejected batch's disputes are pending again; re-archiving
		// them clears their batch association in the mirror
		if err := c.historyDB.AddPendingDisputes(c.bp.PendingDisputes()); err != nil {
			return common.Wrap(err)
		}
	}
	return c.syncBatches(ctx)
}

// syncBatches walks the batches and handles every lifecycle transition since
// the last sync: a batch that reached committed is forwarded to the
// settlement layer, every transition is re-archived, and the batch gauges
// are refreshed.  Returning an error leaves the cursor untouched so the next
// sync retries from the same transition.
func (c *Coordinator) syncBatches(ctx context.Context) error {
	for _, batch := range c.bp.Batches() {
		if c.batchStatus[batch.BatchNum] == batch.Status {
			continue
		}
		if batch.Status == common.BatchStatusCommitted &&
			batch.BatchNum > c.lastForwardedBatch && c.settlement != nil {
			if err := c.forwardBatch(ctx, batch); err != nil {
				return common.Wrap(err)
			}
		}
		if c.historyDB != nil {
			if err := c.historyDB.SaveBatch(batch); err != nil {
				return common.Wrap(err)
			}
		}
		switch batch.Status {
		case common.BatchStatusCommitted:
			metric.CommittedBatches.Inc()
		case common.BatchStatusFinalized:
			metric.FinalizedBatches.Inc()
		case common.BatchStatusRejected:
			metric.RejectedBatches.Inc()
		}
		c.batchStatus[batch.BatchNum] = batch.Status
		log.Debugw("Coordinator: batch synced", "batch", batch.BatchNum,
			"status", batch.Status)
	}
	metric.LastBatchNum.Set(float64(c.bp.LastBatchNum()))
	metric.PendingDisputes.Set(float64(c.bp.PendingCount()))
	return nil
}

func (c *Coordinator) forwardBatch(ctx context.Context, batch *common.Batch) error {
	start := time.Now()
	ctxTimeout, cancel := context.WithTimeout(ctx, c.cfg.SettlementTimeout)
	defer cancel()
	if err := c.settlement.SubmitCommitment(ctxTimeout, batch.Commitment()); err != nil {
		return common.Wrap(err)
	}
	metric.MeasureDuration(metric.WaitSettlement, start,
		batch.BatchNum.BigInt().String())
	c.lastForwardedBatch = batch.BatchNum
	log.Infow("Coordinator: batch forwarded to settlement",
		"batch", batch.BatchNum, "stateRoot", batch.StateRoot.Hex())
	return nil
}

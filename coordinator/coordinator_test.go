package coordinator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"dispute-rollup/batchprocessor"
	"dispute-rollup/common"
	"dispute-rollup/sequencer"
	"dispute-rollup/settlement"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coordTestEnv struct {
	c    *Coordinator
	s    *sequencer.Sequencer
	bp   *batchprocessor.BatchProcessor
	mock *settlement.MockClient
}

// testCoordConfig keeps the tickers out of the way so tests drive the
// coordinator through handleMsg deterministically
func testCoordConfig() Config {
	return Config{
		BlockInterval:     time.Hour,
		FinalizeInterval:  time.Hour,
		SettlementTimeout: time.Second,
	}
}

func testSeqConfig() sequencer.Config {
	return sequencer.Config{
		SequencerID:         "seq-coord-test",
		MaxTxsPerBlock:      100,
		MaxGasPerBlock:      30000000,
		MaxPendingTxs:       1000,
		BatchCommitInterval: 1,
	}
}

func testBPConfig() batchprocessor.Config {
	return batchprocessor.Config{
		MinBatchSize:    1,
		MaxBatchSize:    1000,
		BatchInterval:   time.Hour,
		ChallengePeriod: 168 * time.Hour,
	}
}

func newTestCoordinator(t *testing.T, cfg Config, seqCfg sequencer.Config,
	bpCfg batchprocessor.Config) *coordTestEnv {
	t.Helper()
	bp := batchprocessor.NewBatchProcessor(bpCfg)
	s := sequencer.NewSequencer(seqCfg, bp)
	require.NoError(t, s.Start())
	mock := &settlement.MockClient{}
	c, err := NewCoordinator(cfg, s, bp, mock, nil)
	require.NoError(t, err)
	return &coordTestEnv{c: c, s: s, bp: bp, mock: mock}
}

func submitDispute(t *testing.T, s *sequencer.Sequencer, sender string,
	nonce uint64) {
	t.Helper()
	_, ok := s.SubmitDispute(
		ethCommon.HexToHash("0x0a"), ethCommon.HexToHash("0x0b"),
		ethCommon.HexToHash("0x0c"), big.NewInt(100), sender, 1, nonce)
	require.True(t, ok)
}

func TestProduceBlockForwardsCommittedBatches(t *testing.T) {
	env := newTestCoordinator(t, testCoordConfig(), testSeqConfig(),
		testBPConfig())
	ctx := context.Background()

	// an empty pool produces nothing and is not an error
	require.NoError(t, env.c.handleMsg(ctx, MsgProduceBlock{}))
	assert.Equal(t, uint64(0), env.s.BlockNum())
	assert.Len(t, env.mock.Commitments(), 0)

	// one dispute, one block: the commit interval of 1 cuts a batch right
	// after the block, and the sync forwards it upward
	submitDispute(t, env.s, "alice", 0)
	require.NoError(t, env.c.handleMsg(ctx, MsgProduceBlock{}))
	assert.Equal(t, uint64(1), env.s.BlockNum())

	commitments := env.mock.Commitments()
	require.Len(t, commitments, 1)
	assert.Equal(t, common.BatchNum(1), commitments[0].BatchNum)
	assert.Equal(t, env.bp.StateRoot(), commitments[0].StateRoot)
	assert.Equal(t, 1, commitments[0].DisputeCount)
	assert.Equal(t, big.NewInt(100), commitments[0].TotalStake)

	// a second round forwards the next batch, never the first one again
	submitDispute(t, env.s, "alice", 1)
	require.NoError(t, env.c.handleMsg(ctx, MsgProduceBlock{}))
	commitments = env.mock.Commitments()
	require.Len(t, commitments, 2)
	assert.Equal(t, common.BatchNum(2), commitments[1].BatchNum)
}

func TestFinalizeSweep(t *testing.T) {
	bpCfg := testBPConfig()
	// an elapsed challenge period, so the sweep finalizes immediately
	bpCfg.ChallengePeriod = 0
	env := newTestCoordinator(t, testCoordConfig(), testSeqConfig(), bpCfg)
	ctx := context.Background()

	submitDispute(t, env.s, "alice", 0)
	require.NoError(t, env.c.handleMsg(ctx, MsgProduceBlock{}))

	batch, err := env.bp.Batch(1)
	require.NoError(t, err)
	require.Equal(t, common.BatchStatusCommitted, batch.Status)

	require.NoError(t, env.c.handleMsg(ctx, MsgFinalizeSweep{}))
	batch, err = env.bp.Batch(1)
	require.NoError(t, err)
	assert.Equal(t, common.BatchStatusFinalized, batch.Status)
	assert.NotNil(t, batch.FinalizedAt)
	// finalization is not re-forwarded
	assert.Len(t, env.mock.Commitments(), 1)

	// sweeping again with nothing to finalize is a no-op
	require.NoError(t, env.c.handleMsg(ctx, MsgFinalizeSweep{}))
}

func TestFinalizeSweepRespectsChallengePeriod(t *testing.T) {
	env := newTestCoordinator(t, testCoordConfig(), testSeqConfig(),
		testBPConfig())
	ctx := context.Background()

	submitDispute(t, env.s, "alice", 0)
	require.NoError(t, env.c.handleMsg(ctx, MsgProduceBlock{}))
	require.NoError(t, env.c.handleMsg(ctx, MsgFinalizeSweep{}))

	batch, err := env.bp.Batch(1)
	require.NoError(t, err)
	assert.Equal(t, common.BatchStatusCommitted, batch.Status)
}

func TestChallengeAndReject(t *testing.T) {
	env := newTestCoordinator(t, testCoordConfig(), testSeqConfig(),
		testBPConfig())
	ctx := context.Background()

	submitDispute(t, env.s, "alice", 0)
	require.NoError(t, env.c.handleMsg(ctx, MsgProduceBlock{}))
	batch, err := env.bp.Batch(1)
	require.NoError(t, err)
	require.Equal(t, common.BatchStatusCommitted, batch.Status)

	err = env.c.handleMsg(ctx, MsgChallengeBatch{BatchNum: 1,
		Reason: "dispute root mismatch"})
	require.NoError(t, err)
	batch, err = env.bp.Batch(1)
	require.NoError(t, err)
	assert.Equal(t, common.BatchStatusChallenged, batch.Status)

	// a challenged batch is out of the sweep's reach
	require.NoError(t, env.c.handleMsg(ctx, MsgFinalizeSweep{}))
	batch, err = env.bp.Batch(1)
	require.NoError(t, err)
	require.Equal(t, common.BatchStatusChallenged, batch.Status)

	err = env.c.handleMsg(ctx, MsgRejectBatch{BatchNum: 1,
		Reason: "challenge upheld"})
	require.NoError(t, err)
	batch, err = env.bp.Batch(1)
	require.NoError(t, err)
	assert.Equal(t, common.BatchStatusRejected, batch.Status)
	// the rejection reverted the root and requeued the dispute
	assert.Equal(t, batch.PrevStateRoot, env.bp.StateRoot())
	assert.Equal(t, 1, env.bp.PendingCount())

	// lifecycle violations surface as handler errors
	err = env.c.handleMsg(ctx, MsgChallengeBatch{BatchNum: 99})
	assert.Equal(t, common.ErrBatchNotFound, common.Unwrap(err))
	err = env.c.handleMsg(ctx, MsgChallengeBatch{BatchNum: 1})
	assert.Equal(t, common.ErrInvalidBatchStatus, common.Unwrap(err))

	submitDispute(t, env.s, "bob", 0)
	require.NoError(t, env.c.handleMsg(ctx, MsgProduceBlock{}))
	err = env.c.handleMsg(ctx, MsgRejectBatch{BatchNum: 2})
	assert.Equal(t, common.ErrInvalidBatchStatus, common.Unwrap(err))
}

func TestForwardingCursorFromSettlement(t *testing.T) {
	bp := batchprocessor.NewBatchProcessor(testBPConfig())
	s := sequencer.NewSequencer(testSeqConfig(), bp)
	require.NoError(t, s.Start())

	// the settlement layer already holds batch 1 from a previous run
	mock := &settlement.MockClient{}
	err := mock.SubmitCommitment(context.Background(),
		&common.BatchCommitment{BatchNum: 1})
	require.NoError(t, err)

	c, err := NewCoordinator(testCoordConfig(), s, bp, mock, nil)
	require.NoError(t, err)

	submitDispute(t, s, "alice", 0)
	require.NoError(t, c.handleMsg(context.Background(), MsgProduceBlock{}))

	// the local batch 1 commits but is not resubmitted
	batch, err := bp.Batch(1)
	require.NoError(t, err)
	assert.Equal(t, common.BatchStatusCommitted, batch.Status)
	assert.Len(t, mock.Commitments(), 1)
}

func TestStartStopLoops(t *testing.T) {
	bpCfg := testBPConfig()
	bpCfg.ChallengePeriod = 0
	env := newTestCoordinator(t, Config{
		BlockInterval:     10 * time.Millisecond,
		FinalizeInterval:  20 * time.Millisecond,
		SettlementTimeout: time.Second,
	}, testSeqConfig(), bpCfg)

	env.c.Start()
	submitDispute(t, env.s, "alice", 0)

	// the block ticker picks up the dispute, the commit interval cuts the
	// batch, the sync forwards it and the finalize ticker closes it out
	assert.Eventually(t, func() bool {
		batch, err := env.bp.Batch(1)
		if err != nil {
			return false
		}
		return batch.Status == common.BatchStatusFinalized &&
			len(env.mock.Commitments()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.c.Stop()
}

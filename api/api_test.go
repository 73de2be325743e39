package api

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"dispute-rollup/batchprocessor"
	"dispute-rollup/common"
	"dispute-rollup/coordinator"
	"dispute-rollup/sequencer"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type apiTestEnv struct {
	api    *API
	engine *gin.Engine
	s      *sequencer.Sequencer
	bp     *batchprocessor.BatchProcessor
	coord  *coordinator.Coordinator
}

func newTestAPI(t *testing.T) *apiTestEnv {
	t.Helper()
	bp := batchprocessor.NewBatchProcessor(batchprocessor.Config{
		MinBatchSize:    1,
		MaxBatchSize:    1000,
		BatchInterval:   time.Hour,
		ChallengePeriod: time.Hour,
	})
	s := sequencer.NewSequencer(sequencer.Config{
		SequencerID:    "seq-api-test",
		MaxTxsPerBlock: 100,
		MaxGasPerBlock: 30000000,
		MaxPendingTxs:  1000,
	}, bp)
	require.NoError(t, s.Start())

	// long ticker intervals: tests drive blocks and batches themselves, the
	// coordinator only serves the lifecycle messages
	coord, err := coordinator.NewCoordinator(coordinator.Config{
		BlockInterval:     time.Hour,
		FinalizeInterval:  time.Hour,
		SettlementTimeout: time.Second,
	}, s, bp, nil, nil)
	require.NoError(t, err)
	coord.Start()
	t.Cleanup(coord.Stop)

	engine := gin.New()
	a, err := NewAPI(Config{
		Version:            "test",
		SequencerEndpoints: true,
		ExplorerEndpoints:  true,
		Server:             engine,
		Sequencer:          s,
		BatchProcessor:     bp,
		Coordinator:        coord,
	})
	require.NoError(t, err)
	return &apiTestEnv{api: a, engine: engine, s: s, bp: bp, coord: coord}
}

func (e *apiTestEnv) request(t *testing.T, method, path string,
	body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst))
}

func TestNewAPIChecksInput(t *testing.T) {
	engine := gin.New()
	_, err := NewAPI(Config{
		SequencerEndpoints: true,
		Server:             engine,
	})
	assert.Error(t, err)

	_, err = NewAPI(Config{
		ExplorerEndpoints: true,
		Server:            engine,
	})
	assert.Error(t, err)

	_, err = NewAPI(Config{
		Coordinator: &coordinator.Coordinator{},
		Server:      engine,
	})
	assert.Error(t, err)
}

func TestHealthAndNoRoute(t *testing.T) {
	e := newTestAPI(t)

	w := e.request(t, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status health
	decodeJSON(t, w, &status)
	assert.Equal(t, "UP", status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, sequencer.StateRunning, status.SequencerState)

	w = e.request(t, http.MethodGet, "/v1/no-such-route", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	var msg errorMsg
	decodeJSON(t, w, &msg)
	assert.Equal(t, "404 page not found", msg.Message)
}

func TestPostDispute(t *testing.T) {
	e := newTestAPI(t)

	body := map[string]interface{}{
		"initiatorHash":    common.HashData([]byte("alice")).Hex(),
		"counterpartyHash": common.HashData([]byte("bob")).Hex(),
		"evidenceRoot":     common.HashData([]byte("evidence")).Hex(),
		"stakeAmount":      250,
		"sender":           "alice",
		"gasPrice":         1,
	}
	w := e.request(t, http.MethodPost, "/v1/disputes", body)
	require.Equal(t, http.StatusOK, w.Code)
	var txID string
	decodeJSON(t, w, &txID)
	assert.Contains(t, txID, "0x")

	// the dispute exists once the transaction has been executed
	require.NotNil(t, e.s.ProduceBlock())
	w = e.request(t, http.MethodGet, "/v1/disputes/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dispute common.Dispute
	decodeJSON(t, w, &dispute)
	assert.Equal(t, common.DisputeNum(1), dispute.DisputeNum)
	assert.Equal(t, common.HashData([]byte("alice")), dispute.InitiatorHash)
	assert.Equal(t, 0, big.NewInt(250).Cmp(dispute.StakeAmount))

	// missing required fields
	w = e.request(t, http.MethodPost, "/v1/disputes", map[string]interface{}{
		"initiatorHash": common.HashData([]byte("alice")).Hex(),
		"sender":        "alice",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// negative stakes have no wire representation
	body["stakeAmount"] = -5
	w = e.request(t, http.MethodPost, "/v1/disputes", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.request(t, http.MethodGet, "/v1/disputes/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.request(t, http.MethodGet, "/v1/disputes/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostPoolTx(t *testing.T) {
	e := newTestAPI(t)

	w := e.request(t, http.MethodPost, "/v1/transactions-pool", map[string]interface{}{
		"type":     common.TxTypeVoteCast,
		"sender":   "voter",
		"payload":  hexutil.Bytes([]byte("yes")).String(),
		"gasPrice": 3,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var txID string
	decodeJSON(t, w, &txID)

	w = e.request(t, http.MethodGet, "/v1/transactions-pool", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pool txsPoolResponse
	decodeJSON(t, w, &pool)
	require.Equal(t, uint64(1), pool.PendingItems)
	assert.Equal(t, txID, pool.Txs[0].TxID)

	w = e.request(t, http.MethodGet, "/v1/transactions-pool/"+txID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tx common.Tx
	decodeJSON(t, w, &tx)
	assert.Equal(t, common.TxTypeVoteCast, tx.Type)
	assert.Equal(t, "voter", tx.Sender)
	assert.False(t, tx.Processed)

	// resolutions get the elevated lane no matter what the client sends
	resPayload := common.PackResolutionPayload(common.DisputeNum(1), []byte("ok"))
	w = e.request(t, http.MethodPost, "/v1/transactions-pool", map[string]interface{}{
		"type":    common.TxTypeDisputeResolve,
		"sender":  "arbiter",
		"payload": hexutil.Bytes(resPayload).String(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &txID)
	w = e.request(t, http.MethodGet, "/v1/transactions-pool/"+txID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &tx)
	assert.Equal(t, common.TxPriorityResolution, tx.Priority)

	// no stake ledger: deposits are turned away at the door
	w = e.request(t, http.MethodPost, "/v1/transactions-pool", map[string]interface{}{
		"type":   common.TxTypeStakeDeposit,
		"sender": "whale",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// malformed payload for a parsed type
	w = e.request(t, http.MethodPost, "/v1/transactions-pool", map[string]interface{}{
		"type":    common.TxTypeDisputeSubmit,
		"sender":  "alice",
		"payload": "0x0102",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// missing sender
	w = e.request(t, http.MethodPost, "/v1/transactions-pool", map[string]interface{}{
		"type": common.TxTypeVoteCast,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.request(t, http.MethodGet, "/v1/transactions-pool/0xdeadbeef", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostResolution(t *testing.T) {
	e := newTestAPI(t)

	_, ok := e.s.SubmitDispute(
		common.HashData([]byte("alice")), common.HashData([]byte("bob")),
		common.HashData([]byte("evidence")), big.NewInt(100), "alice", 1, 0)
	require.True(t, ok)
	require.NotNil(t, e.s.ProduceBlock())

	w := e.request(t, http.MethodPost, "/v1/resolutions", map[string]interface{}{
		"disputeNum": 1,
		"resolution": hexutil.Bytes([]byte("in favor of initiator")).String(),
		"sender":     "arbiter",
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, e.s.ProduceBlock())
	dispute, err := e.bp.Dispute(1)
	require.NoError(t, err)
	assert.True(t, dispute.Resolved())

	// a dispute number the processor never handed out
	w = e.request(t, http.MethodPost, "/v1/resolutions", map[string]interface{}{
		"disputeNum": 99,
		"resolution": hexutil.Bytes([]byte("x")).String(),
		"sender":     "arbiter",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBatchesAndMerkleProof(t *testing.T) {
	e := newTestAPI(t)

	for i := 0; i < 3; i++ {
		_, ok := e.s.SubmitDispute(
			common.HashData([]byte{byte(i)}), common.HashData([]byte{byte(i + 10)}),
			common.HashData([]byte{byte(i + 20)}), big.NewInt(int64(100+i)),
			"alice", 1, uint64(i))
		require.True(t, ok)
	}
	require.NotNil(t, e.s.ProduceBlock())
	result, err := e.bp.CreateAndProcessBatch()
	require.NoError(t, err)
	require.True(t, result.Success)

	w := e.request(t, http.MethodGet, "/v1/batches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var batches batchesResponse
	decodeJSON(t, w, &batches)
	require.Equal(t, uint64(1), batches.Total)
	assert.Equal(t, common.BatchNum(1), batches.Batches[0].BatchNum)

	w = e.request(t, http.MethodGet, "/v1/batches/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var batch common.Batch
	decodeJSON(t, w, &batch)
	assert.Equal(t, common.BatchStatusCommitted, batch.Status)
	assert.Equal(t, 3, len(batch.Disputes))

	// the served proof verifies against the served root
	w = e.request(t, http.MethodGet, "/v1/batches/1/merkle-proof/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var proof batchprocessor.MerkleProof
	decodeJSON(t, w, &proof)
	assert.Equal(t, batch.DisputeRoot, proof.Root)
	assert.True(t, batchprocessor.VerifyMerkleProof(&proof))

	w = e.request(t, http.MethodGet, "/v1/batches/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.request(t, http.MethodGet, "/v1/batches/1/merkle-proof/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.request(t, http.MethodGet, "/v1/batches/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChallengeAndRejectBatch(t *testing.T) {
	e := newTestAPI(t)

	_, ok := e.s.SubmitDispute(
		common.HashData([]byte("alice")), common.HashData([]byte("bob")),
		common.HashData([]byte("evidence")), big.NewInt(100), "alice", 1, 0)
	require.True(t, ok)
	require.NotNil(t, e.s.ProduceBlock())
	result, err := e.bp.CreateAndProcessBatch()
	require.NoError(t, err)
	require.True(t, result.Success)

	// rejecting a batch that is not challenged is a conflict
	w := e.request(t, http.MethodPost, "/v1/batches/1/reject",
		map[string]interface{}{"reason": "early"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.request(t, http.MethodPost, "/v1/batches/1/challenge",
		map[string]interface{}{"reason": "dispute root mismatch"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Eventually(t, func() bool {
		batch, err := e.bp.Batch(1)
		return err == nil && batch.Status == common.BatchStatusChallenged
	}, time.Second, 10*time.Millisecond)

	// challenging twice is a conflict once the first one landed
	w = e.request(t, http.MethodPost, "/v1/batches/1/challenge",
		map[string]interface{}{"reason": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	prevRoot := e.bp.StateRoot()
	w = e.request(t, http.MethodPost, "/v1/batches/1/reject",
		map[string]interface{}{"reason": "challenge upheld"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Eventually(t, func() bool {
		batch, err := e.bp.Batch(1)
		return err == nil && batch.Status == common.BatchStatusRejected
	}, time.Second, 10*time.Millisecond)
	assert.NotEqual(t, prevRoot, e.bp.StateRoot())
	assert.Equal(t, 1, e.bp.PendingCount())

	w = e.request(t, http.MethodPost, "/v1/batches/99/challenge",
		map[string]interface{}{"reason": "no such batch"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// the reason is not optional
	w = e.request(t, http.MethodPost, "/v1/batches/1/challenge",
		map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetState(t *testing.T) {
	e := newTestAPI(t)

	w := e.request(t, http.MethodGet, "/v1/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state stateAPI
	decodeJSON(t, w, &state)
	assert.Equal(t, uint64(0), state.BlockNum)
	assert.Equal(t, sequencer.StateRunning, state.State)
	assert.Equal(t, common.BatchNum(0), state.LastBatchNum)

	_, ok := e.s.SubmitDispute(
		common.HashData([]byte("alice")), common.HashData([]byte("bob")),
		common.HashData([]byte("evidence")), big.NewInt(100), "alice", 1, 0)
	require.True(t, ok)
	require.NotNil(t, e.s.ProduceBlock())

	w = e.request(t, http.MethodGet, "/v1/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &state)
	assert.Equal(t, uint64(1), state.BlockNum)
	assert.Equal(t, 0, state.PoolTxs)
	assert.Equal(t, 1, state.PendingDisputes)
	assert.Equal(t, uint64(1), state.TotalDisputes)
	assert.Equal(t, e.s.StateRoot(), state.StateRoot)
}

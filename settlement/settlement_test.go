package settlement

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"dispute-rollup/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCommitment(batchNum common.BatchNum) *common.BatchCommitment {
	return &common.BatchCommitment{
		BatchNum:      batchNum,
		PrevStateRoot: ethCommon.BigToHash(big.NewInt(int64(batchNum) - 1)),
		StateRoot:     ethCommon.BigToHash(big.NewInt(int64(batchNum))),
		DisputeRoot:   ethCommon.BigToHash(big.NewInt(int64(batchNum) * 100)),
		DisputeCount:  3,
		TotalStake:    big.NewInt(3000),
	}
}

type settlementServer struct {
	mu          sync.Mutex
	commitments []common.BatchCommitment
}

func (s *settlementServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/commitments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var commitment common.BatchCommitment
		if err := json.NewDecoder(r.Body).Decode(&commitment); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.commitments = append(s.commitments, commitment)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/commitments/last", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		res := lastBatchResponse{}
		if len(s.commitments) > 0 {
			res.BatchNum = s.commitments[len(s.commitments)-1].BatchNum
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	return mux
}

func TestHTTPClientSubmitCommitment(t *testing.T) {
	srv := &settlementServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 5*time.Second)
	ctx := context.Background()

	last, err := client.LastCommittedBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(0), last)

	commitment := testCommitment(1)
	require.NoError(t, client.SubmitCommitment(ctx, commitment))
	require.NoError(t, client.SubmitCommitment(ctx, testCommitment(2)))

	last, err = client.LastCommittedBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(2), last)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Equal(t, 2, len(srv.commitments))
	assert.Equal(t, commitment.StateRoot, srv.commitments[0].StateRoot)
	assert.Equal(t, commitment.DisputeRoot, srv.commitments[0].DisputeRoot)
	assert.Equal(t, "3000", srv.commitments[0].TotalStake.String())
}

func TestHTTPClientBadResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"msg":"settlement unavailable"}`))
		}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 5*time.Second)
	err := client.SubmitCommitment(context.Background(), testCommitment(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settlement unavailable")
}

func TestMockClient(t *testing.T) {
	var client MockClient
	ctx := context.Background()

	last, err := client.LastCommittedBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(0), last)

	require.NoError(t, client.SubmitCommitment(ctx, testCommitment(1)))
	require.NoError(t, client.SubmitCommitment(ctx, testCommitment(2)))

	last, err = client.LastCommittedBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(2), last)
	assert.Equal(t, 2, len(client.Commitments()))

	client.Err = common.ErrBatchNotFound
	err = client.SubmitCommitment(ctx, testCommitment(3))
	assert.Equal(t, common.ErrBatchNotFound, err)
}

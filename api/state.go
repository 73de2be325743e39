package api

import (
	"net/http"

	"dispute-rollup/common"
	"dispute-rollup/sequencer"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// stateAPI is the live node summary served at /v1/state, assembled from the
// core's snapshot getters
type stateAPI struct {
	Version         string          `json:"version"`
	State           sequencer.State `json:"state"`
	BlockNum        uint64          `json:"blockNum"`
	StateRoot       ethCommon.Hash  `json:"stateRoot"`
	PoolTxs         int             `json:"poolTxs"`
	LastBatchNum    common.BatchNum `json:"lastBatchNum"`
	BatchStateRoot  ethCommon.Hash  `json:"batchStateRoot"`
	PendingDisputes int             `json:"pendingDisputes"`
	TotalDisputes   uint64          `json:"totalDisputes"`
}

func (a *API) getState(c *gin.Context) {
	c.JSON(http.StatusOK, stateAPI{
		Version:         a.version,
		State:           a.s.State(),
		BlockNum:        a.s.BlockNum(),
		StateRoot:       a.s.StateRoot(),
		PoolTxs:         a.s.PendingTxCount(),
		LastBatchNum:    a.processor.LastBatchNum(),
		BatchStateRoot:  a.processor.StateRoot(),
		PendingDisputes: a.processor.PendingCount(),
		TotalDisputes:   a.processor.TotalDisputes(),
	})
}

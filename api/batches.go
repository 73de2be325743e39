package api

import (
	"net/http"

	"dispute-rollup/common"
	"dispute-rollup/coordinator"

	"github.com/gin-gonic/gin"
)

type batchesResponse struct {
	Batches []*common.Batch `json:"batches"`
	Total   uint64          `json:"total"`
}

func (a *API) getBatches(c *gin.Context) {
	batches := a.processor.Batches()
	c.JSON(http.StatusOK, batchesResponse{
		Batches: batches,
		Total:   uint64(len(batches)),
	})
}

func (a *API) getBatch(c *gin.Context) {
	batchNum, err := parseParamUint("batchNum", c)
	if err != nil {
		retBadReq(err, c)
		return
	}
	batch, err := a.processor.Batch(common.BatchNum(batchNum))
	if err != nil {
		retErr(err, c)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// lifecycleRequest carries the reason the settlement layer gives for a
// challenge or a rejection
type lifecycleRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// postChallenge queues a challenge against a committed batch.  The status
// pre-checks give the caller a meaningful response; the transition itself is
// serialized through the coordinator so it cannot interleave with settlement
// forwarding.
func (a *API) postChallenge(c *gin.Context) {
	batchNum, err := parseParamUint("batchNum", c)
	if err != nil {
		retBadReq(err, c)
		return
	}
	var req lifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		retBadReq(common.Wrap(err), c)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		retBadReq(common.Wrap(err), c)
		return
	}
	batch, err := a.processor.Batch(common.BatchNum(batchNum))
	if err != nil {
		retErr(err, c)
		return
	}
	if batch.Status != common.BatchStatusCommitted {
		retErr(common.Wrap(common.ErrInvalidBatchStatus), c)
		return
	}
	a.coord.SendMsg(c.Request.Context(), coordinator.MsgChallengeBatch{
		BatchNum: batch.BatchNum,
		Reason:   req.Reason,
	})
	c.JSON(http.StatusOK, batch.BatchNum)
}

// postReject queues the rejection of a challenged batch
func (a *API) postReject(c *gin.Context) {
	batchNum, err := parseParamUint("batchNum", c)
	if err != nil {
		retBadReq(err, c)
		return
	}
	var req lifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		retBadReq(common.Wrap(err), c)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		retBadReq(common.Wrap(err), c)
		return
	}
	batch, err := a.processor.Batch(common.BatchNum(batchNum))
	if err != nil {
		retErr(err, c)
		return
	}
	if batch.Status != common.BatchStatusChallenged {
		retErr(common.Wrap(common.ErrInvalidBatchStatus), c)
		return
	}
	a.coord.SendMsg(c.Request.Context(), coordinator.MsgRejectBatch{
		BatchNum: batch.BatchNum,
		Reason:   req.Reason,
	})
	c.JSON(http.StatusOK, batch.BatchNum)
}

func (a *API) getMerkleProof(c *gin.Context) {
	batchNum, err := parseParamUint("batchNum", c)
	if err != nil {
		retBadReq(err, c)
		return
	}
	disputeNum, err := parseParamUint("disputeNum", c)
	if err != nil {
		retBadReq(err, c)
		return
	}
	proof, err := a.processor.GetMerkleProof(common.BatchNum(batchNum),
		common.DisputeNum(disputeNum))
	if err != nil {
		retErr(err, c)
		return
	}
	c.JSON(http.StatusOK, proof)
}

package api

import (
	"errors"
	"math/big"
	"net/http"

	"dispute-rollup/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

var errNegativeStake = errors.New("stakeAmount must not be negative")

// disputeRequest carries the opening fields of a dispute.  Party identities
// arrive pre-hashed; the node never sees them in clear.
type disputeRequest struct {
	InitiatorHash    ethCommon.Hash `json:"initiatorHash" validate:"required"`
	CounterpartyHash ethCommon.Hash `json:"counterpartyHash" validate:"required"`
	EvidenceRoot     ethCommon.Hash `json:"evidenceRoot"`
	StakeAmount      *big.Int       `json:"stakeAmount" validate:"required"`
	Sender           string         `json:"sender" validate:"required"`
	GasPrice         uint64         `json:"gasPrice"`
	Nonce            uint64         `json:"nonce"`
}

func (a *API) postDispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		retBadReq(common.Wrap(err), c)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		retBadReq(common.Wrap(err), c)
		return
	}
	// the stake travels as an unsigned 32 byte integer, so a negative
	// amount cannot be represented past this point
	if req.StakeAmount.Sign() < 0 {
		retBadReq(common.Wrap(errNegativeStake), c)
		return
	}
	tx, ok := a.s.SubmitDispute(req.InitiatorHash, req.CounterpartyHash,
		req.EvidenceRoot, req.StakeAmount, req.Sender, req.GasPrice, req.Nonce)
	if !ok {
		retBadReq(common.Wrap(errTxRejected), c)
		return
	}
	a.relayTx(tx)
	c.JSON(http.StatusOK, tx.TxID)
}

// resolutionRequest carries a resolution for an existing dispute
type resolutionRequest struct {
	DisputeNum common.DisputeNum `json:"disputeNum" validate:"required"`
	Resolution hexutil.Bytes     `json:"resolution" validate:"required"`
	Sender     string            `json:"sender" validate:"required"`
	GasPrice   uint64            `json:"gasPrice"`
	Nonce      uint64            `json:"nonce"`
}

func (a *API) postResolution(c *gin.Context) {
	var req resolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		retBadReq(common.Wrap(err), c)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		retBadReq(common.Wrap(err), c)
		return
	}
	// dispute numbers are only ever handed out by the processor, so a
	// number it does not know cannot become known by pooling the tx longer
	if !a.processor.HasDispute(req.DisputeNum) {
		retErr(common.Wrap(common.ErrDisputeNotFound), c)
		return
	}
	tx, ok := a.s.SubmitResolution(req.DisputeNum, req.Resolution, req.Sender,
		req.GasPrice, req.Nonce)
	if !ok {
		retBadReq(common.Wrap(errTxRejected), c)
		return
	}
	a.relayTx(tx)
	c.JSON(http.StatusOK, tx.TxID)
}

func (a *API) getDispute(c *gin.Context) {
	disputeNum, err := parseParamUint("disputeNum", c)
	if err != nil {
		retBadReq(err, c)
		return
	}
	dispute, err := a.processor.Dispute(common.DisputeNum(disputeNum))
	if err != nil {
		retErr(err, c)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

func (a *API) getHistoryDispute(c *gin.Context) {
	disputeNum, err := parseParamUint("disputeNum", c)
	if err != nil {
		retBadReq(err, c)
		return
	}
	dispute, err := a.historyDB.GetDisputeInternalAPI(common.DisputeNum(disputeNum))
	if err != nil {
		retErr(err, c)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

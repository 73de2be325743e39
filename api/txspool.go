package api

import (
	"errors"
	"net/http"

	"dispute-rollup/common"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

// errTxRejected is returned when the sequencer turns a transaction away: not
// running, pool full, unsupported type or stale nonce.  The node log carries
// the concrete reason.
var errTxRejected = errors.New("transaction rejected by the pool")

// receivedTx is the wire form of a pool transaction.  Priority is not part of
// it: the lane derives from the type, so a client cannot buy its way into the
// resolution lane.
type receivedTx struct {
	Type      common.TxType `json:"type" validate:"required"`
	Sender    string        `json:"sender" validate:"required"`
	Payload   hexutil.Bytes `json:"payload"`
	GasPrice  uint64        `json:"gasPrice"`
	Nonce     uint64        `json:"nonce"`
	Signature hexutil.Bytes `json:"signature"`
}

// checkTxPayload rejects payloads the executor could never parse.  Types with
// free form payloads pass through untouched.
func checkTxPayload(typ common.TxType, payload []byte) error {
	var err error
	switch typ {
	case common.TxTypeDisputeSubmit:
		_, _, _, _, err = common.ParseDisputePayload(payload)
	case common.TxTypeDisputeResolve:
		_, _, err = common.ParseResolutionPayload(payload)
	case common.TxTypeEvidenceSubmit:
		_, _, err = common.ParseEvidencePayload(payload)
	}
	return err
}

func (a *API) postPoolTx(c *gin.Context) {
	var recvTx receivedTx
	if err := c.ShouldBindJSON(&recvTx); err != nil {
		retBadReq(common.Wrap(err), c)
		return
	}
	if err := a.validate.Struct(recvTx); err != nil {
		retBadReq(common.Wrap(err), c)
		return
	}
	if err := checkTxPayload(recvTx.Type, recvTx.Payload); err != nil {
		retBadReq(err, c)
		return
	}
	tx := &common.Tx{
		Type:      recvTx.Type,
		Sender:    recvTx.Sender,
		Payload:   recvTx.Payload,
		Priority:  common.TxPriorityBase,
		GasPrice:  recvTx.GasPrice,
		Nonce:     recvTx.Nonce,
		Signature: recvTx.Signature,
	}
	if tx.Type == common.TxTypeDisputeResolve {
		tx.Priority = common.TxPriorityResolution
	}
	if !a.s.SubmitTransaction(tx) {
		retBadReq(common.Wrap(errTxRejected), c)
		return
	}
	a.relayTx(tx)
	c.JSON(http.StatusOK, tx.TxID)
}

type txsPoolResponse struct {
	Txs          []common.Tx `json:"transactions"`
	PendingItems uint64      `json:"pendingItems"`
}

func (a *API) getPoolTxs(c *gin.Context) {
	txs := a.s.PoolSnapshot()
	c.JSON(http.StatusOK, txsPoolResponse{
		Txs:          txs,
		PendingItems: uint64(len(txs)),
	})
}

func (a *API) getPoolTx(c *gin.Context) {
	tx, err := a.s.Tx(c.Param("id"))
	if err != nil {
		retErr(err, c)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (a *API) getHistoryTx(c *gin.Context) {
	tx, err := a.historyDB.GetTxInternalAPI(c.Param("id"))
	if err != nil {
		retErr(err, c)
		return
	}
	c.JSON(http.StatusOK, tx)
}

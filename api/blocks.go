package api

import (
	"net/http"

	"dispute-rollup/common"

	"github.com/gin-gonic/gin"
)

type blocksResponse struct {
	Blocks []common.StateTransition `json:"blocks"`
	Total  uint64                   `json:"total"`
}

// getBlocks pages through the archived blocks: fromBlock (default 1) and
// limit (default 20, capped) bound the range
func (a *API) getBlocks(c *gin.Context) {
	fromBlock, err := parseQueryUint("fromBlock", 1, c)
	if err != nil {
		retBadReq(err, c)
		return
	}
	limit, err := parseQueryLimit(c)
	if err != nil {
		retBadReq(err, c)
		return
	}
	blocks, err := a.historyDB.GetBlocksInternalAPI(fromBlock, fromBlock+limit)
	if err != nil {
		retErr(err, c)
		return
	}
	c.JSON(http.StatusOK, blocksResponse{
		Blocks: blocks,
		Total:  uint64(len(blocks)),
	})
}

func (a *API) getBlock(c *gin.Context) {
	blockNum, err := parseParamUint("blockNum", c)
	if err != nil {
		retBadReq(err, c)
		return
	}
	block, err := a.historyDB.GetBlockInternalAPI(blockNum)
	if err != nil {
		retErr(err, c)
		return
	}
	c.JSON(http.StatusOK, block)
}

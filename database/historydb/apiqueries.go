package historydb

import (
	"dispute-rollup/common"
)

// GetBlockInternalAPI returns the archived block with the given block number
func (hdb *HistoryDB) GetBlockInternalAPI(blockNum uint64) (*common.StateTransition, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	return hdb.GetBlock(blockNum)
}

// GetBlocksInternalAPI returns the archived blocks in [fromBlock, toBlock)
func (hdb *HistoryDB) GetBlocksInternalAPI(fromBlock, toBlock uint64) ([]common.StateTransition, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	return hdb.getBlocks(fromBlock, toBlock)
}

// GetTxInternalAPI returns the archived transaction with the given id
func (hdb *HistoryDB) GetTxInternalAPI(txID string) (*common.Tx, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	return hdb.GetTx(txID)
}

// GetDisputeInternalAPI returns the archived dispute with the given number
func (hdb *HistoryDB) GetDisputeInternalAPI(disputeNum common.DisputeNum) (*common.Dispute, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	return hdb.GetDispute(disputeNum)
}

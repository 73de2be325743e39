// Package historydb mirrors the rollup history to PostgreSQL: produced
// blocks with their transactions, batches with their disputes, and the
// lifecycle updates that follow.  The mirror is write-mostly; the core never
// reads it back, it exists for the explorer API and the settlement layer.
package historydb

import (
	"math/big"
	"time"

	"dispute-rollup/common"
	"dispute-rollup/database"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/russross/meddler"
)

// HistoryDB persist the historic of the rollup
type HistoryDB struct {
	dbRead     *sqlx.DB
	dbWrite    *sqlx.DB
	apiConnCon *database.APIConnectionController
}

// NewHistoryDB initialize the DB
func NewHistoryDB(dbRead, dbWrite *sqlx.DB, apiConnCon *database.APIConnectionController) *HistoryDB {
	return &HistoryDB{
		dbRead:     dbRead,
		dbWrite:    dbWrite,
		apiConnCon: apiConnCon,
	}
}

// DB returns a pointer to the history DB write handle.  This method should be
// used only for internal testing purposes.
func (hdb *HistoryDB) DB() *sqlx.DB {
	return hdb.dbWrite
}

// txWrite mirrors common.Tx in the tx table, adding the position of the
// transaction inside its block so inclusion order survives the round trip
type txWrite struct {
	TxID      string        `meddler:"tx_id"`
	Type      common.TxType `meddler:"tx_type"`
	Sender    string        `meddler:"sender"`
	Payload   []byte        `meddler:"payload"`
	Timestamp time.Time     `meddler:"timestamp,utctime"`
	Priority  int           `meddler:"priority"`
	GasPrice  uint64        `meddler:"gas_price"`
	Nonce     uint64        `meddler:"nonce"`
	Signature []byte        `meddler:"signature"`
	Processed bool          `meddler:"processed"`
	Result    []byte        `meddler:"result"`
	Error     string        `meddler:"error"`
	BlockNum  *uint64       `meddler:"block_num"`
	Position  int           `meddler:"position"`
}

// disputeWrite mirrors common.Dispute in the dispute table, adding the batch
// that currently owns the dispute (NULL while pending)
type disputeWrite struct {
	DisputeNum       common.DisputeNum `meddler:"dispute_num"`
	BatchNum         *common.BatchNum  `meddler:"batch_num"`
	InitiatorHash    ethCommon.Hash    `meddler:"initiator_hash"`
	CounterpartyHash ethCommon.Hash    `meddler:"counterparty_hash"`
	EvidenceRoot     ethCommon.Hash    `meddler:"evidence_root"`
	StakeAmount      *big.Int          `meddler:"stake_amount,bigint"`
	CreatedAt        time.Time         `meddler:"created_at,utctime"`
	Resolution       []byte            `meddler:"resolution"`
	ResolvedAt       *time.Time        `meddler:"resolved_at,utctime"`
	DataHash         ethCommon.Hash    `meddler:"data_hash"`
}

// AddBlockData stores a produced block and its transactions atomically
func (hdb *HistoryDB) AddBlockData(block *common.StateTransition, txs []common.Tx) error {
	txn, err := hdb.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()
	if err = hdb.addBlock(txn, block); err != nil {
		return common.Wrap(err)
	}
	if err = hdb.addTxs(txn, txs); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(txn.Commit())
}

func (hdb *HistoryDB) addBlock(d meddler.DB, block *common.StateTransition) error {
	return common.Wrap(meddler.Insert(d, "block", block))
}

func (hdb *HistoryDB) addTxs(d meddler.DB, txs []common.Tx) error {
	if len(txs) == 0 {
		return nil
	}
	writes := make([]txWrite, len(txs))
	for i := range txs {
		writes[i] = txWrite{
			TxID:      txs[i].TxID,
			Type:      txs[i].Type,
			Sender:    txs[i].Sender,
			Payload:   txs[i].Payload,
			Timestamp: txs[i].Timestamp,
			Priority:  txs[i].Priority,
			GasPrice:  txs[i].GasPrice,
			Nonce:     txs[i].Nonce,
			Signature: txs[i].Signature,
			Processed: txs[i].Processed,
			Result:    txs[i].Result,
			Error:     txs[i].Error,
			BlockNum:  txs[i].BlockNum,
			Position:  i,
		}
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO tx (
			tx_id,
			tx_type,
			sender,
			payload,
			timestamp,
			priority,
			gas_price,
			nonce,
			signature,
			processed,
			result,
			error,
			block_num,
			position
		) VALUES %s;`,
		writes,
	))
}

// GetBlock retrieves a block from the DB, given a block number.  The TxIDs
// are filled in inclusion order.
func (hdb *HistoryDB) GetBlock(blockNum uint64) (*common.StateTransition, error) {
	block := &common.StateTransition{}
	if err := meddler.QueryRow(
		hdb.dbRead, block,
		"SELECT * FROM block WHERE block_num = $1;", blockNum,
	); err != nil {
		return nil, common.Wrap(err)
	}
	if err := hdb.fillBlockTxIDs(block); err != nil {
		return nil, common.Wrap(err)
	}
	return block, nil
}

// GetLastBlock retrieves the block with the highest block number from the DB
func (hdb *HistoryDB) GetLastBlock() (*common.StateTransition, error) {
	block := &common.StateTransition{}
	if err := meddler.QueryRow(
		hdb.dbRead, block, "SELECT * FROM block ORDER BY block_num DESC LIMIT 1;",
	); err != nil {
		return nil, common.Wrap(err)
	}
	if err := hdb.fillBlockTxIDs(block); err != nil {
		return nil, common.Wrap(err)
	}
	return block, nil
}

// GetAllBlocks retrieves all blocks from the DB
func (hdb *HistoryDB) GetAllBlocks() ([]common.StateTransition, error) {
	var blocks []*common.StateTransition
	err := meddler.QueryAll(
		hdb.dbRead, &blocks,
		"SELECT * FROM block ORDER BY block_num;",
	)
	return database.SlicePtrsToSlice(blocks).([]common.StateTransition), common.Wrap(err)
}

// getBlocks retrieves blocks from the DB, given a range of block numbers
// defined by from and to
func (hdb *HistoryDB) getBlocks(from, to uint64) ([]common.StateTransition, error) {
	var blocks []*common.StateTransition
	err := meddler.QueryAll(
		hdb.dbRead, &blocks,
		"SELECT * FROM block WHERE $1 <= block_num AND block_num < $2 ORDER BY block_num;",
		from, to,
	)
	return database.SlicePtrsToSlice(blocks).([]common.StateTransition), common.Wrap(err)
}

func (hdb *HistoryDB) fillBlockTxIDs(block *common.StateTransition) error {
	var txIDs []string
	if err := hdb.dbRead.Select(
		&txIDs,
		"SELECT tx_id FROM tx WHERE block_num = $1 ORDER BY position;",
		block.BlockNum,
	); err != nil {
		return common.Wrap(err)
	}
	block.TxIDs = txIDs
	return nil
}

// GetTx retrieves a transaction from the DB, given its id
func (hdb *HistoryDB) GetTx(txID string) (*common.Tx, error) {
	tx := &common.Tx{}
	err := meddler.QueryRow(
		hdb.dbRead, tx,
		`SELECT tx_id, tx_type, sender, payload, timestamp, priority, gas_price,
		nonce, signature, processed, result, error, block_num
		FROM tx WHERE tx_id = $1;`, txID,
	)
	return tx, common.Wrap(err)
}

// GetBlockTxs retrieves the transactions of a block in inclusion order
func (hdb *HistoryDB) GetBlockTxs(blockNum uint64) ([]common.Tx, error) {
	var txs []*common.Tx
	err := meddler.QueryAll(
		hdb.dbRead, &txs,
		`SELECT tx_id, tx_type, sender, payload, timestamp, priority, gas_price,
		nonce, signature, processed, result, error, block_num
		FROM tx WHERE block_num = $1 ORDER BY position;`, blockNum,
	)
	return database.SlicePtrsToSlice(txs).([]common.Tx), common.Wrap(err)
}

// SaveBatch upserts the batch row and its disputes.  Lifecycle updates
// (commit, challenge, finalize, reject) re-save the same batch number; the
// last write wins, so the mirror always reflects the current state.
func (hdb *HistoryDB) SaveBatch(batch *common.Batch) error {
	txn, err := hdb.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()
	if err = hdb.saveBatch(txn, batch); err != nil {
		return common.Wrap(err)
	}
	batchNum := batch.BatchNum
	if err = hdb.addDisputes(txn, &batchNum, batch.Disputes); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(txn.Commit())
}

func (hdb *HistoryDB) saveBatch(d meddler.DB, batch *common.Batch) error {
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO batch (
			batch_num,
			prev_state_root,
			state_root,
			dispute_root,
			status,
			created_at,
			submitted_at,
			finalized_at
		) VALUES %s
		ON CONFLICT (batch_num) DO UPDATE SET
			state_root = EXCLUDED.state_root,
			dispute_root = EXCLUDED.dispute_root,
			status = EXCLUDED.status,
			submitted_at = EXCLUDED.submitted_at,
			finalized_at = EXCLUDED.finalized_at;`,
		[]common.Batch{*batch},
	))
}

// AddPendingDisputes archives disputes that are not owned by any batch yet.
// Re-archiving a dispute that returned to the pending queue clears its batch
// association.
func (hdb *HistoryDB) AddPendingDisputes(disputes []common.Dispute) error {
	return common.Wrap(hdb.addDisputes(hdb.dbWrite, nil, disputes))
}

func (hdb *HistoryDB) addDisputes(d meddler.DB, batchNum *common.BatchNum,
	disputes []common.Dispute) error {
	if len(disputes) == 0 {
		return nil
	}
	writes := make([]disputeWrite, len(disputes))
	for i := range disputes {
		writes[i] = disputeWrite{
			DisputeNum:       disputes[i].DisputeNum,
			BatchNum:         batchNum,
			InitiatorHash:    disputes[i].InitiatorHash,
			CounterpartyHash: disputes[i].CounterpartyHash,
			EvidenceRoot:     disputes[i].EvidenceRoot,
			StakeAmount:      disputes[i].StakeAmount,
			CreatedAt:        disputes[i].CreatedAt,
			Resolution:       disputes[i].Resolution,
			ResolvedAt:       disputes[i].ResolvedAt,
			DataHash:         disputes[i].DataHash,
		}
	}
	return common.Wrap(database.BulkInsert(
		d,
		`INSERT INTO dispute (
			dispute_num,
			batch_num,
			initiator_hash,
			counterparty_hash,
			evidence_root,
			stake_amount,
			created_at,
			resolution,
			resolved_at,
			data_hash
		) VALUES %s
		ON CONFLICT (dispute_num) DO UPDATE SET
			batch_num = EXCLUDED.batch_num,
			resolution = EXCLUDED.resolution,
			resolved_at = EXCLUDED.resolved_at;`,
		writes,
	))
}

// SetDisputeResolution records a resolution on an archived dispute
func (hdb *HistoryDB) SetDisputeResolution(disputeNum common.DisputeNum,
	resolution []byte, resolvedAt time.Time) error {
	res, err := hdb.dbWrite.Exec(
		"UPDATE dispute SET resolution = $1, resolved_at = $2 WHERE dispute_num = $3;",
		resolution, resolvedAt.UTC(), uint64(disputeNum),
	)
	if err != nil {
		return common.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.Wrap(err)
	}
	if n == 0 {
		return common.Wrap(common.ErrDisputeNotFound)
	}
	return nil
}

// GetBatch returns the batch with the given batchNum, with its disputes
// attached in dispute number order
func (hdb *HistoryDB) GetBatch(batchNum common.BatchNum) (*common.Batch, error) {
	batch := &common.Batch{}
	if err := meddler.QueryRow(
		hdb.dbRead, batch,
		"SELECT * FROM batch WHERE batch_num = $1;", batchNum,
	); err != nil {
		return nil, common.Wrap(err)
	}
	disputes, err := hdb.getBatchDisputes(batchNum)
	if err != nil {
		return nil, common.Wrap(err)
	}
	batch.Disputes = disputes
	return batch, nil
}

// GetLastBatchNum returns the BatchNum of the latest archived batch
func (hdb *HistoryDB) GetLastBatchNum() (common.BatchNum, error) {
	row := hdb.dbRead.QueryRow("SELECT batch_num FROM batch ORDER BY batch_num DESC LIMIT 1;")
	var batchNum common.BatchNum
	return batchNum, common.Wrap(row.Scan(&batchNum))
}

// GetAllBatches retrieves all batches from the DB, without their disputes
func (hdb *HistoryDB) GetAllBatches() ([]common.Batch, error) {
	var batches []*common.Batch
	err := meddler.QueryAll(
		hdb.dbRead, &batches,
		"SELECT * FROM batch ORDER BY batch_num;",
	)
	return database.SlicePtrsToSlice(batches).([]common.Batch), common.Wrap(err)
}

// GetBatches retrieves batches from the DB, given a range of batch numbers
// defined by from and to
func (hdb *HistoryDB) GetBatches(from, to common.BatchNum) ([]common.Batch, error) {
	var batches []*common.Batch
	err := meddler.QueryAll(
		hdb.dbRead, &batches,
		"SELECT * FROM batch WHERE $1 <= batch_num AND batch_num < $2 ORDER BY batch_num;",
		from, to,
	)
	return database.SlicePtrsToSlice(batches).([]common.Batch), common.Wrap(err)
}

func (hdb *HistoryDB) getBatchDisputes(batchNum common.BatchNum) ([]common.Dispute, error) {
	var disputes []*common.Dispute
	err := meddler.QueryAll(
		hdb.dbRead, &disputes,
		`SELECT dispute_num, initiator_hash, counterparty_hash, evidence_root,
		stake_amount, created_at, resolution, resolved_at, data_hash
		FROM dispute WHERE batch_num = $1 ORDER BY dispute_num;`, batchNum,
	)
	return database.SlicePtrsToSlice(disputes).([]common.Dispute), common.Wrap(err)
}

// GetDispute returns the archived dispute with the given dispute number
func (hdb *HistoryDB) GetDispute(disputeNum common.DisputeNum) (*common.Dispute, error) {
	dispute := &common.Dispute{}
	err := meddler.QueryRow(
		hdb.dbRead, dispute,
		`SELECT dispute_num, initiator_hash, counterparty_hash, evidence_root,
		stake_amount, created_at, resolution, resolved_at, data_hash
		FROM dispute WHERE dispute_num = $1;`, disputeNum,
	)
	return dispute, common.Wrap(err)
}

// GetAllDisputes retrieves all archived disputes in dispute number order
func (hdb *HistoryDB) GetAllDisputes() ([]common.Dispute, error) {
	var disputes []*common.Dispute
	err := meddler.QueryAll(
		hdb.dbRead, &disputes,
		`SELECT dispute_num, initiator_hash, counterparty_hash, evidence_root,
		stake_amount, created_at, resolution, resolved_at, data_hash
		FROM dispute ORDER BY dispute_num;`,
	)
	return database.SlicePtrsToSlice(disputes).([]common.Dispute), common.Wrap(err)
}

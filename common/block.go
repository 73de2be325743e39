package common

import (
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// StateTransition is the record emitted for every produced block.  It links
// the previous sequencer state root to the new one and lists the
// transactions applied in between, in execution order.
type StateTransition struct {
	BlockNum      uint64         `meddler:"block_num" json:"blockNum"`
	PrevStateRoot ethCommon.Hash `meddler:"prev_state_root" json:"prevStateRoot"`
	NewStateRoot  ethCommon.Hash `meddler:"new_state_root" json:"newStateRoot"`
	TxIDs         []string       `meddler:"-" json:"txIDs"`
	GasUsed       uint64         `meddler:"gas_used" json:"gasUsed"`
	Timestamp     time.Time      `meddler:"timestamp,utctime" json:"timestamp"`
	SequencerID   string         `meddler:"sequencer_id" json:"sequencerID"`
}

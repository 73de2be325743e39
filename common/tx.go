package common

import (
	"encoding/hex"
	"math/big"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxType is the type tag of a sequencer transaction
type TxType string

const (
	// TxTypeDisputeSubmit opens a new dispute.  Payload: 4 segments of 32
	// bytes (initiatorHash || counterpartyHash || evidenceRoot || stake).
	TxTypeDisputeSubmit TxType = "DisputeSubmit"
	// TxTypeDisputeResolve records a resolution for an existing dispute.
	// Payload: 32 byte dispute number || resolution bytes.
	TxTypeDisputeResolve TxType = "DisputeResolve"
	// TxTypeEvidenceSubmit attaches evidence to a dispute.  The execution
	// result is the Keccak256 commitment of the payload.
	TxTypeEvidenceSubmit TxType = "EvidenceSubmit"
	// TxTypeVoteCast records an arbitration vote
	TxTypeVoteCast TxType = "VoteCast"
	// TxTypeStakeDeposit is declared for wire compatibility.  There is no
	// stake ledger in this core, so deposits are rejected at intake.
	TxTypeStakeDeposit TxType = "StakeDeposit"
	// TxTypeStakeWithdraw is declared for wire compatibility and rejected
	// at intake, like TxTypeStakeDeposit.
	TxTypeStakeWithdraw TxType = "StakeWithdraw"
	// TxTypeBatchCommit forces the batch processor to create and process
	// a batch from the pending disputes, outside the periodic commit
	// schedule
	TxTypeBatchCommit TxType = "BatchCommit"
)

const (
	// TxPriorityBase is the priority of plain dispute submissions
	TxPriorityBase = 0
	// TxPriorityResolution is the elevated priority of dispute
	// resolutions, so that resolutions win block space over new
	// submissions when contending
	TxPriorityResolution = 10

	// DisputePayloadLen is the fixed length of a DisputeSubmit payload
	DisputePayloadLen = 128
	// resolutionNumLen is the length of the dispute number segment of a
	// DisputeResolve payload
	resolutionNumLen = 32
)

// Gas estimation constants used by the sequencer when packing blocks.  Plain
// unsigned integers in wei-equivalent units; no conversion is performed.
const (
	TxGasBase           uint64 = 21000
	TxGasDisputeSubmit  uint64 = 50000
	TxGasDisputeResolve uint64 = 30000
	TxGasEvidenceSubmit uint64 = 20000
	TxGasEvidencePerB   uint64 = 16
	TxGasDefault        uint64 = 10000

	// BatchGasBase plus BatchGasPerDispute per dispute is the synthetic
	// gas estimate reported for a processed batch
	BatchGasBase       uint64 = 21000
	BatchGasPerDispute uint64 = 5000
)

// Tx is a sequencer-level client request.  A Tx is never mutated after
// submission except to mark it processed and record its result or error.
// Byte fields use hexutil so they travel as 0x-prefixed hex over the API.
type Tx struct {
	TxID      string        `meddler:"tx_id" json:"txID"`
	Type      TxType        `meddler:"tx_type" json:"type"`
	Sender    string        `meddler:"sender" json:"sender"`
	Payload   hexutil.Bytes `meddler:"payload,zeroisnull" json:"payload"`
	Timestamp time.Time     `meddler:"timestamp,utctime" json:"timestamp"`
	// Priority orders transactions in the pool: higher is preferred.
	// Ties break on descending GasPrice, then ascending Timestamp.
	Priority  int           `meddler:"priority" json:"priority"`
	GasPrice  uint64        `meddler:"gas_price" json:"gasPrice"`
	Nonce     uint64        `meddler:"nonce" json:"nonce"`
	Signature hexutil.Bytes `meddler:"signature,zeroisnull" json:"signature,omitempty"`
	Processed bool          `meddler:"processed" json:"processed"`
	Result    hexutil.Bytes `meddler:"result,zeroisnull" json:"result,omitempty"`
	Error     string        `meddler:"error" json:"error,omitempty"`
	// BlockNum is set once the transaction has been included in a block
	BlockNum *uint64 `meddler:"block_num" json:"blockNum,omitempty"`
}

// CalcTxID derives the transaction identifier from the submission fields.
// The timestamp takes part so that two otherwise identical submissions get
// distinct identifiers.
func CalcTxID(typ TxType, sender string, nonce uint64, payload []byte,
	timestamp time.Time) string {
	var nonceBytes [8]byte
	copy(nonceBytes[:], Uint64Bytes(nonce))
	digest := HashData([]byte(typ), []byte(sender), nonceBytes[:], payload,
		Uint64Bytes(uint64(timestamp.UnixNano())))
	return "0x" + hex.EncodeToString(digest[:])
}

// PackDisputePayload encodes the four dispute creation fields into the fixed
// 128 byte DisputeSubmit wire layout
func PackDisputePayload(initiatorHash, counterpartyHash, evidenceRoot ethCommon.Hash,
	stakeAmount *big.Int) []byte {
	payload := make([]byte, 0, DisputePayloadLen)
	payload = append(payload, initiatorHash[:]...)
	payload = append(payload, counterpartyHash[:]...)
	payload = append(payload, evidenceRoot[:]...)
	stake := ethCommon.BigToHash(stakeAmount)
	payload = append(payload, stake[:]...)
	return payload
}

// ParseDisputePayload decodes a DisputeSubmit payload
func ParseDisputePayload(payload []byte) (initiatorHash, counterpartyHash,
	evidenceRoot ethCommon.Hash, stakeAmount *big.Int, err error) {
	if len(payload) != DisputePayloadLen {
		return ethCommon.Hash{}, ethCommon.Hash{}, ethCommon.Hash{}, nil,
			Wrap(ErrDisputePayloadLen)
	}
	copy(initiatorHash[:], payload[0:32])
	copy(counterpartyHash[:], payload[32:64])
	copy(evidenceRoot[:], payload[64:96])
	stakeAmount = new(big.Int).SetBytes(payload[96:128])
	return initiatorHash, counterpartyHash, evidenceRoot, stakeAmount, nil
}

// PackResolutionPayload encodes a DisputeResolve payload: the dispute number
// as a 32 byte big-endian integer followed by the resolution bytes
func PackResolutionPayload(disputeNum DisputeNum, resolution []byte) []byte {
	numHash := disputeNum.Hash()
	payload := make([]byte, 0, resolutionNumLen+len(resolution))
	payload = append(payload, numHash[:]...)
	payload = append(payload, resolution...)
	return payload
}

// ParseResolutionPayload decodes a DisputeResolve payload
func ParseResolutionPayload(payload []byte) (DisputeNum, []byte, error) {
	if len(payload) < resolutionNumLen {
		return 0, nil, Wrap(ErrResolutionPayloadLen)
	}
	num := new(big.Int).SetBytes(payload[:resolutionNumLen])
	if !num.IsUint64() {
		return 0, nil, Wrap(ErrDisputeNumOverflow)
	}
	return DisputeNum(num.Uint64()), payload[resolutionNumLen:], nil
}

// PackEvidencePayload encodes an EvidenceSubmit payload.  It shares the
// DisputeResolve wire layout: 32 byte dispute number then the evidence
// bytes.
func PackEvidencePayload(disputeNum DisputeNum, evidence []byte) []byte {
	return PackResolutionPayload(disputeNum, evidence)
}

// ParseEvidencePayload decodes an EvidenceSubmit payload
func ParseEvidencePayload(payload []byte) (DisputeNum, []byte, error) {
	return ParseResolutionPayload(payload)
}

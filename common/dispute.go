package common

import (
	"encoding/binary"
	"math/big"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const disputeNumBytesLen = 8

// DisputeNum identifies a dispute.  Dispute numbers are assigned by the batch
// processor, are strictly increasing and are never reused, even when a batch
// rejection returns its disputes to the pending queue.
type DisputeNum uint64

// Bytes returns a byte array of length 8 representing the DisputeNum in
// big-endian.
func (dn DisputeNum) Bytes() []byte {
	var disputeNumBytes [disputeNumBytesLen]byte
	binary.BigEndian.PutUint64(disputeNumBytes[:], uint64(dn))
	return disputeNumBytes[:]
}

// Hash returns the DisputeNum encoded as a 32 byte big-endian integer, which
// is the encoding used for hash inputs and wire payloads.
func (dn DisputeNum) Hash() ethCommon.Hash {
	return ethCommon.BigToHash(new(big.Int).SetUint64(uint64(dn)))
}

// BigInt returns a *big.Int representing the DisputeNum
func (dn DisputeNum) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(dn))
}

// DisputeNumFromBytes returns DisputeNum from a []byte
func DisputeNumFromBytes(b []byte) (DisputeNum, error) {
	if len(b) != disputeNumBytesLen {
		return 0, Wrap(ErrDisputeNumBytesLen)
	}
	return DisputeNum(binary.BigEndian.Uint64(b[:disputeNumBytesLen])), nil
}

// Dispute is the atomic unit of work processed by the rollup: an opaque,
// privacy-preserving record of a disagreement between two hashed parties plus
// an evidence commitment.  The party identities never appear in clear; only
// their 32 byte hashes do.
type Dispute struct {
	DisputeNum       DisputeNum     `meddler:"dispute_num" json:"disputeNum"`
	InitiatorHash    ethCommon.Hash `meddler:"initiator_hash" json:"initiatorHash"`
	CounterpartyHash ethCommon.Hash `meddler:"counterparty_hash" json:"counterpartyHash"`
	EvidenceRoot     ethCommon.Hash `meddler:"evidence_root" json:"evidenceRoot"`
	StakeAmount      *big.Int       `meddler:"stake_amount,bigint" json:"stakeAmount"`
	CreatedAt        time.Time      `meddler:"created_at,utctime" json:"createdAt"`
	// Resolution is nil until a resolution is recorded for the dispute.
	Resolution hexutil.Bytes `meddler:"resolution,zeroisnull" json:"resolution,omitempty"`
	ResolvedAt *time.Time    `meddler:"resolved_at,utctime" json:"resolvedAt,omitempty"`
	// DataHash is the leaf commitment of the dispute, computed once at
	// creation and never mutated:
	// Keccak256(disputeNum || initiatorHash || counterpartyHash || evidenceRoot)
	// with disputeNum encoded as a 32 byte big-endian integer.
	DataHash ethCommon.Hash `meddler:"data_hash" json:"dataHash"`
}

// Resolved reports whether a resolution has been recorded for the dispute
func (d *Dispute) Resolved() bool {
	return d.ResolvedAt != nil
}

// CalcDisputeDataHash computes the dispute leaf commitment from its immutable
// fields.  The dispute number is encoded as a 32 byte big-endian integer,
// following the convention that all numeric hash inputs in the 256 bit range
// use 32 byte big-endian encoding.
func CalcDisputeDataHash(disputeNum DisputeNum, initiatorHash, counterpartyHash,
	evidenceRoot ethCommon.Hash) ethCommon.Hash {
	numHash := disputeNum.Hash()
	return HashData(numHash[:], initiatorHash[:], counterpartyHash[:], evidenceRoot[:])
}

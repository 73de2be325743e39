package common

import (
	"encoding/binary"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hermeznetwork/tracerr"
)

// Wrap annotates an error with the stack frame of the caller.  Every error
// that crosses a package boundary goes through Wrap so that logs carry the
// origin of the failure.
func Wrap(err error) error {
	return tracerr.Wrap(err)
}

// Unwrap returns the original error behind a Wrap, for comparison against
// sentinel errors
func Unwrap(err error) error {
	return tracerr.Unwrap(err)
}

// HashData returns the Keccak256 digest of the concatenation of the given
// byte slices.  All commitments in the rollup (dispute data hashes, merkle
// nodes, state roots, block roots) are computed through this function.
func HashData(data ...[]byte) ethCommon.Hash {
	return crypto.Keccak256Hash(data...)
}

// Uint64Bytes returns the 8 byte big-endian encoding of v, the canonical
// integer layout of every hash input in the rollup
func Uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// TimestampBytes returns the 8 byte big-endian encoding of a Unix timestamp
// in seconds, the layout used when a timestamp takes part in a hash
func TimestampBytes(ts int64) []byte {
	return Uint64Bytes(uint64(ts))
}

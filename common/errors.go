package common

import "errors"

// ErrDisputeNumBytesLen is used when a byte slice of the wrong length is decoded into a DisputeNum
var ErrDisputeNumBytesLen = errors.New("can not parse DisputeNum, bytes len != 8")

// ErrBatchNumBytesLen is used when a byte slice of the wrong length is decoded into a BatchNum
var ErrBatchNumBytesLen = errors.New("can not parse BatchNum, bytes len != 8")

// ErrDisputePayloadLen is used when a DisputeSubmit payload is not exactly 128 bytes
var ErrDisputePayloadLen = errors.New("can not parse dispute payload, expected 128 bytes")

// ErrResolutionPayloadLen is used when a DisputeResolve payload is shorter than the 32 byte dispute number
var ErrResolutionPayloadLen = errors.New("can not parse resolution payload, expected at least 32 bytes")

// ErrDisputeNumOverflow is used when a 32 byte dispute number does not fit in 64 bits
var ErrDisputeNumOverflow = errors.New("dispute number does not fit in uint64")

// ErrBatchNotFound is used when the queried batch does not exist
var ErrBatchNotFound = errors.New("batch not found")

// ErrDisputeNotFound is used when the queried dispute does not exist
var ErrDisputeNotFound = errors.New("dispute not found")

// ErrTxNotFound is used when the queried transaction does not exist
var ErrTxNotFound = errors.New("transaction not found")

// ErrInvalidBatchStatus is used when a lifecycle transition is attempted from a status that does not allow it
var ErrInvalidBatchStatus = errors.New("invalid batch status for requested transition")

// ErrChallengePeriodActive is used when finalization is attempted before the challenge period has elapsed
var ErrChallengePeriodActive = errors.New("challenge period still active")

// ErrEmptyBatch is used when batch creation is requested with no pending disputes
var ErrEmptyBatch = errors.New("no pending disputes to batch")

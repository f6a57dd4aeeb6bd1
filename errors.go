package gatehouse

import "gatehouse/internal/sdkerr"

// Error classification re-exported for embedders; match with errors.Is/As.
var (
	ErrRetriesExhausted    = sdkerr.ErrRetriesExhausted
	ErrRequestNotRetryable = sdkerr.ErrRequestNotRetryable
	ErrNetworkDisabled     = sdkerr.ErrNetworkDisabled
	ErrShutdownTimeout     = sdkerr.ErrShutdownTimeout
	ErrUnstartedAdapter    = sdkerr.ErrUnstartedAdapter
)

type NetworkError = sdkerr.NetworkError
type JSONParseError = sdkerr.JSONParseError
type LockFailure = sdkerr.LockFailure
type EvaluationError = sdkerr.EvaluationError

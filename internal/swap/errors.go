package swap

import "errors"

// FailureReason is the taxonomy surfaced on the swap's failure path.
type FailureReason uint8

const (
	FailureNone FailureReason = iota
	FailureFailedToSendParameters
	FailureFailedToRegister
	FailureInvalidTransaction
	FailurePeerSignatureInvalid
	FailureRpcError
	FailureExpired
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureFailedToSendParameters:
		return "failed to send parameters to peer"
	case FailureFailedToRegister:
		return "transaction was not accepted by the chain"
	case FailureInvalidTransaction:
		return "locally built transaction is invalid"
	case FailurePeerSignatureInvalid:
		return "peer signature is invalid"
	case FailureRpcError:
		return "rpc error"
	case FailureExpired:
		return "swap expired"
	default:
		return "unknown"
	}
}

// Transport/RPC level errors.
var (
	ErrRpc        = errors.New("rpc error")
	ErrEmptyReply = errors.New("empty rpc reply")
)

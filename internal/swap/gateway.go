package swap

import "github.com/DrakenTech/beam/internal/mw"

// BeamGateway is the swap engine's view of a Beam node. All operations are
// asynchronous: completions write into the swap's parameter store and post a
// tick, so the FSM can always be resumed from persisted state alone.
type BeamGateway interface {
	// RegisterTx broadcasts a transaction. Acceptance is reported by writing
	// TransactionRegistered under the owning sub-transaction; inclusion is
	// observed through ConfirmKernel.
	RegisterTx(txID TxID, subTx SubTxID, tx *mw.Transaction)

	// ConfirmKernel requests proof of inclusion for a kernel. On success the
	// gateway stores KernelProofHeight under the owning sub-transaction and
	// ticks the swap.
	ConfirmKernel(txID TxID, subTx SubTxID, kernelID [32]byte)

	// GetKernel fetches a kernel body so its embedded preimage can be
	// extracted. On success the gateway stores PreImage and ticks the swap.
	GetKernel(txID TxID, subTx SubTxID, kernelID [32]byte)

	// Tip returns the current chain tip height.
	Tip() uint64
}

// BitcoinRPC is the asynchronous Bitcoin wallet RPC surface the engine
// consumes. Every callback is dispatched on the reactor thread. A nil error
// with zero-value results never happens: transport loss surfaces as
// ErrEmptyReply and is retried by the next tick.
type BitcoinRPC interface {
	GetRawChangeAddress(cb func(addr string, err error))
	FundRawTransaction(hexTx string, cb func(fundedHex string, changePos int, fee float64, err error))
	SignRawTransaction(hexTx string, cb func(signedHex string, complete bool, err error))
	CreateRawTransaction(inputs []RawTxInput, outputs map[string]string, locktime int64, cb func(hexTx string, err error))
	DumpPrivKey(addr string, cb func(wif string, err error))
	SendRawTransaction(hexTx string, cb func(txid string, err error))
	GetTxOut(txid string, vout int, cb func(confirmations int64, found bool, err error))
}

// RawTxInput is one input argument of createrawtransaction.
type RawTxInput struct {
	TxID     string `json:"txid"`
	Vout     int    `json:"vout"`
	Sequence uint32 `json:"Sequence"`
}

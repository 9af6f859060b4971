package swap

// Protocol constants. Locktimes and confirmation minimums are fixed in this
// version.
const (
	// BeamLockTimeInBlocks is the Beam-side refund locktime, counted from
	// the lock kernel's MinHeight.
	BeamLockTimeInBlocks = 24 * 60

	// BTCLockTimeSec is the HTLC locktime, added to the swap creation time.
	BTCLockTimeSec = 2 * 24 * 60 * 60

	// BTCMinTxConfirmations is how deep the HTLC lock must be before the
	// Beam side commits.
	BTCMinTxConfirmations = 6

	// WithdrawTxConfirmations is the confirmation target for the BTC-side
	// redeem and refund broadcasts.
	WithdrawTxConfirmations = 1

	// SecretSize is the hash preimage length in bytes.
	SecretSize = 32

	// ProtoVersion tags the first peer message of every swap.
	ProtoVersion = 1

	// SatoshiPerBitcoin converts satoshi amounts to RPC decimal arguments.
	SatoshiPerBitcoin = 100_000_000
)

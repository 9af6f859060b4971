// Package swap - the top-level swap state machine.
//
// A Swap advances only on ticks running on the engine reactor. Every tick
// re-reads state from the parameter store, goes as far as the available
// parameters allow, and returns. RPC and gateway completions write their
// results into the store and post another tick, so a swap resumed from
// persisted state alone continues exactly where it stopped.
package swap

import (
	"crypto/sha256"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/DrakenTech/beam/internal/mw"
	"github.com/DrakenTech/beam/pkg/helpers"
	"github.com/DrakenTech/beam/pkg/logging"
)

// SwapConfig wires a Swap to its collaborators.
type SwapConfig struct {
	TxID    TxID
	Params  *ParamStore
	Kdf     *mw.Kdf
	Coins   CoinSource
	Gateway BeamGateway
	BTC     BitcoinRPC
	Channel PeerChannel
	Net     *chaincfg.Params

	// BTCFeeSat is the flat fee carved out of BTC-side withdraw transactions.
	BTCFeeSat uint64

	// OnStateChange is invoked after every top-level state transition.
	OnStateChange func(s *Swap)

	Log *logging.Logger
}

// Swap is one atomic swap instance. All methods run on the reactor thread.
type Swap struct {
	id      TxID
	params  *ParamStore
	kdf     *mw.Kdf
	coins   CoinSource
	gateway BeamGateway
	btc     BitcoinRPC
	channel PeerChannel
	net     *chaincfg.Params
	log     *logging.Logger

	btcFeeSat     uint64
	onStateChange func(s *Swap)

	// Assembled Beam transactions, rebuilt on demand after a restart.
	lockTx   *mw.Transaction
	refundTx *mw.Transaction
	redeemTx *mw.Transaction

	// HTLC lock confirmation count from the last getTxOut poll.
	lockTxConfirmations int64

	// In-flight RPC guard, keyed by operation name.
	inFlight map[string]bool

	tickRequested bool
}

// NewSwap binds a swap instance to its collaborators.
func NewSwap(cfg SwapConfig) *Swap {
	log := cfg.Log
	if log == nil {
		log = logging.GetDefault().Component("swap")
	}
	return &Swap{
		id:            cfg.TxID,
		params:        cfg.Params,
		kdf:           cfg.Kdf,
		coins:         cfg.Coins,
		gateway:       cfg.Gateway,
		btc:           cfg.BTC,
		channel:       cfg.Channel,
		net:           cfg.Net,
		btcFeeSat:     cfg.BTCFeeSat,
		onStateChange: cfg.OnStateChange,
		log:           log.With("tx", cfg.TxID.String()[:8]),
		inFlight:      make(map[string]bool),
	}
}

// ID returns the swap's transaction id.
func (s *Swap) ID() TxID { return s.id }

// Params exposes the swap's parameter store.
func (s *Swap) Params() *ParamStore { return s.params }

// Accessors over the parameter store.

func (s *Swap) State() State {
	v, ok := getUint64(s.params, SubTxDefault, ParamState)
	if !ok {
		return StateInitial
	}
	return State(v)
}

func (s *Swap) subTxState(sub SubTxID) SubTxState {
	v, ok := getUint64(s.params, sub, ParamState)
	if !ok {
		return SubTxStateInitial
	}
	return SubTxState(v)
}

func (s *Swap) swapTxState(sub SubTxID) SwapTxState {
	v, ok := getUint64(s.params, sub, ParamState)
	if !ok {
		return SwapTxStateInitial
	}
	return SwapTxState(v)
}

// IsSender reports whether this party sends on the Beam side.
func (s *Swap) IsSender() bool {
	v, _ := getBool(s.params, SubTxDefault, ParamIsSender)
	return v
}

// IsInitiator reports whether this party started the swap.
func (s *Swap) IsInitiator() bool {
	v, _ := getBool(s.params, SubTxDefault, ParamIsInitiator)
	return v
}

func (s *Swap) amount() uint64 {
	v, _ := getUint64(s.params, SubTxDefault, ParamAmount)
	return v
}

func (s *Swap) fee() uint64 {
	v, _ := getUint64(s.params, SubTxDefault, ParamFee)
	return v
}

func (s *Swap) swapAmount() uint64 {
	v, _ := getUint64(s.params, SubTxDefault, ParamAtomicSwapAmount)
	return v
}

func (s *Swap) createTime() int64 {
	v, _ := getUint64(s.params, SubTxDefault, ParamCreateTime)
	return int64(v)
}

// htlcLocktime is the absolute HTLC deadline L.
func (s *Swap) htlcLocktime() int64 {
	return s.createTime() + BTCLockTimeSec
}

func (s *Swap) swapAddress() (string, bool) {
	return getString(s.params, SubTxDefault, ParamAtomicSwapAddress)
}

func (s *Swap) peerSwapAddress() (string, bool) {
	return getString(s.params, SubTxDefault, ParamAtomicSwapPeerAddress)
}

func (s *Swap) builderDeps() BuilderDeps {
	return BuilderDeps{TxID: s.id, Params: s.params, Kdf: s.kdf, Coins: s.coins}
}

func (s *Swap) setState(state State) {
	s.params.Put(SubTxDefault, ParamState, encodeUint64(uint64(state)), true)
	if s.onStateChange != nil {
		s.onStateChange(s)
	}
}

// setNextState transitions and immediately requests another tick.
func (s *Swap) setNextState(state State) {
	s.setState(state)
	s.tickRequested = true
}

func (s *Swap) setSubTxState(sub SubTxID, state SubTxState) {
	s.params.Put(sub, ParamState, encodeUint64(uint64(state)), true)
}

func (s *Swap) setSwapTxState(sub SubTxID, state SwapTxState) {
	s.params.Put(sub, ParamState, encodeUint64(uint64(state)), true)
}

// lockCommitted reports whether the Beam lock has been handed to the chain:
// past this point cancellation is impossible and only refund paths remain.
func (s *Swap) lockCommitted() bool {
	if _, ok := getBool(s.params, SubTxBeamLock, ParamTransactionRegistered); ok {
		return true
	}
	if h, ok := getUint64(s.params, SubTxBeamLock, ParamKernelProofHeight); ok && h > 0 {
		return true
	}
	return false
}

// fail routes an error to the failure path. Before the Beam lock commit
// point the swap fails cleanly; after it, the appropriate refund path is
// entered instead, because the counterparty may already be racing the hash
// lock.
func (s *Swap) fail(reason FailureReason) {
	s.params.Put(SubTxDefault, ParamFailureReason, encodeUint64(uint64(reason)), true)

	if !s.lockCommitted() {
		s.log.Error("Swap failed", "reason", reason.String())
		s.setNextState(StateFailed)
		return
	}

	s.log.Warn("Error after lock commit point, entering refund path", "reason", reason.String())
	if s.IsSender() {
		s.setNextState(StateSendingBeamRefundTX)
	} else {
		s.setNextState(StateSendingRefundTX)
	}
}

// cancel ends the swap cleanly. Only legal before the lock commit point.
func (s *Swap) cancel() {
	if s.lockCommitted() {
		s.log.Warn("Cancellation after lock commit point ignored")
		return
	}
	s.log.Info("Swap cancelled")
	s.setNextState(StateCancelled)
}

// FailureReason returns the preserved failure reason, if any.
func (s *Swap) FailureReason() FailureReason {
	v, ok := getUint64(s.params, SubTxDefault, ParamFailureReason)
	if !ok {
		return FailureNone
	}
	return FailureReason(v)
}

// Tick advances the swap as far as the available parameters allow.
func (s *Swap) Tick() {
	for {
		s.tickRequested = false
		s.tickOnce()
		if err := s.params.Flush(); err != nil {
			s.log.Error("Failed to flush swap parameters", "error", err)
		}
		if !s.tickRequested {
			return
		}
	}
}

func (s *Swap) tickOnce() {
	state := s.State()
	if state.IsTerminal() {
		return
	}
	isBeamOwner := s.IsSender()

	switch state {
	case StateInitial:
		if _, ok := s.swapAddress(); !ok {
			s.getRawChangeAddress()
			return
		}
		s.setNextState(StateInvitation)

	case StateInvitation:
		if s.IsInitiator() {
			s.sendInvitation()
		} else {
			s.sendAddressReply()
		}
		if isBeamOwner {
			s.setNextState(StateBuildingBeamLockTX)
		} else {
			s.setNextState(StateBuildingLockTX)
		}

	case StateBuildingLockTX:
		if s.buildLockTx() != SwapTxStateConstructed {
			return
		}
		s.setNextState(StateBuildingBeamLockTX)

	case StateBuildingBeamLockTX:
		if s.buildBeamLockTx() != SubTxStateConstructed {
			return
		}
		s.setNextState(StateBuildingBeamRefundTX)

	case StateBuildingBeamRefundTX:
		if s.buildBeamWithdrawTx(SubTxBeamRefund) != SubTxStateConstructed {
			return
		}
		s.setNextState(StateBuildingBeamRedeemTX)

	case StateBuildingBeamRedeemTX:
		if s.buildBeamWithdrawTx(SubTxBeamRedeem) != SubTxStateConstructed {
			return
		}
		s.setNextState(StateHandlingContractTX)

	case StateHandlingContractTX:
		s.handleContractTx(isBeamOwner)

	case StateBuildingRefundTX:
		if s.buildWithdrawTx(SubTxRefund) != SwapTxStateConstructed {
			return
		}
		s.setNextState(StateSendingBeamLockTX)

	case StateBuildingRedeemTX:
		if s.buildWithdrawTx(SubTxRedeem) != SwapTxStateConstructed {
			return
		}
		s.setNextState(StateSendingRedeemTX)

	case StateSendingBeamLockTX:
		if isBeamOwner && !s.sendBeamSubTx(s.lockTx, SubTxBeamLock, s.rebuildLockTx) {
			return
		}
		if !s.isSubTxCompleted(SubTxBeamLock) {
			return
		}
		s.log.Debug("Beam lock tx completed")
		s.setNextState(StateSendingBeamRedeemTX)

	case StateSendingBeamRedeemTX:
		s.sendingBeamRedeem(isBeamOwner)

	case StateSendingBeamRefundTX:
		if !s.sendBeamSubTx(s.refundTx, SubTxBeamRefund, s.rebuildRefundTx) {
			return
		}
		if !s.isSubTxCompleted(SubTxBeamRefund) {
			return
		}
		s.log.Info("Beam refund tx completed")
		s.setNextState(StateCompleteSwap)

	case StateSendingRedeemTX:
		s.sendWithdrawTx(SubTxRedeem)

	case StateSendingRefundTX:
		s.sendWithdrawTx(SubTxRefund)

	case StateCompleteSwap:
		s.log.Info("Swap completed")
		s.setState(StateCompleteSwap)
	}
}

// sendingBeamRedeem handles the state where the redeem kernel either
// discloses the preimage or the Beam locktime forces the refund path.
func (s *Swap) sendingBeamRedeem(isBeamOwner bool) {
	if !isBeamOwner {
		// Redeem owner: broadcast and wait for the kernel proof.
		if !s.sendBeamSubTx(s.redeemTx, SubTxBeamRedeem, s.rebuildRedeemTx) {
			// While the redeem is unconfirmed the HTLC deadline keeps
			// running; once it passes, reclaim through the refund branch.
			s.checkHtlcRefundDeadline()
			return
		}
		if !s.isSubTxCompleted(SubTxBeamRedeem) {
			s.checkHtlcRefundDeadline()
			return
		}
		s.log.Info("Beam redeem tx completed")
		s.setNextState(StateCompleteSwap)
		return
	}

	if s.isBeamLockTimeExpired() {
		s.log.Debug("Beam locktime expired")
		s.setNextState(StateSendingBeamRefundTX)
		return
	}

	preimage, ok := s.preimageFromChain()
	if !ok {
		return
	}
	s.log.Debug("Recovered preimage from redeem kernel")
	_ = preimage
	s.setNextState(StateBuildingRedeemTX)
}

// checkHtlcRefundDeadline moves the BTC owner to its HTLC refund once the
// contract locktime has passed.
func (s *Swap) checkHtlcRefundDeadline() {
	if time.Now().Unix() > s.htlcLocktime() {
		s.log.Warn("HTLC locktime passed, reclaiming through refund branch")
		s.setNextState(StateSendingRefundTX)
	}
}

// isBeamLockTimeExpired checks the Beam-side refund deadline.
func (s *Swap) isBeamLockTimeExpired() bool {
	minHeight, ok := getUint64(s.params, SubTxDefault, ParamMinHeight)
	if !ok {
		return false
	}
	return s.gateway.Tip() > minHeight+BeamLockTimeInBlocks
}

// isSubTxCompleted checks the kernel proof for a Beam sub-transaction,
// requesting confirmation when absent. Proof heights are stored per sub-tx.
func (s *Swap) isSubTxCompleted(sub SubTxID) bool {
	if h, ok := getUint64(s.params, sub, ParamKernelProofHeight); ok && h > 0 {
		return true
	}
	kernelID, ok := getHash32(s.params, sub, ParamKernelID)
	if !ok {
		return false
	}
	s.gateway.ConfirmKernel(s.id, sub, kernelID)
	return false
}

// preimageFromChain fetches the redeem kernel body until the preimage is
// available.
func (s *Swap) preimageFromChain() ([32]byte, bool) {
	if pre, ok := getHash32(s.params, SubTxBeamRedeem, ParamPreImage); ok {
		return pre, true
	}
	kernelID, ok := getHash32(s.params, SubTxBeamRedeem, ParamKernelID)
	if !ok {
		return [32]byte{}, false
	}
	s.gateway.GetKernel(s.id, SubTxBeamRedeem, kernelID)
	return [32]byte{}, false
}

// sendBeamSubTx hands a Beam transaction to the gateway, once. Returns true
// when the chain accepted it.
func (s *Swap) sendBeamSubTx(tx *mw.Transaction, sub SubTxID, rebuild func() *mw.Transaction) bool {
	registered, ok := getBool(s.params, sub, ParamTransactionRegistered)
	if !ok {
		if tx == nil {
			tx = rebuild()
			if tx == nil {
				return false
			}
		}
		s.gateway.RegisterTx(s.id, sub, tx)
		return false
	}
	if !registered {
		s.fail(FailureFailedToRegister)
		return false
	}
	return true
}

// Rebuilders re-run the (already constructed) negotiations to re-assemble a
// Beam transaction after a restart.

func (s *Swap) rebuildLockTx() *mw.Transaction {
	if s.buildBeamLockTx() != SubTxStateConstructed {
		return nil
	}
	return s.lockTx
}

func (s *Swap) rebuildRefundTx() *mw.Transaction {
	if s.buildBeamWithdrawTx(SubTxBeamRefund) != SubTxStateConstructed {
		return nil
	}
	return s.refundTx
}

func (s *Swap) rebuildRedeemTx() *mw.Transaction {
	if s.buildBeamWithdrawTx(SubTxBeamRedeem) != SubTxStateConstructed {
		return nil
	}
	return s.redeemTx
}

// handleContractTx drives the HTLC lock handling: the BTC owner broadcasts
// and announces it, the Beam owner waits for confirmations.
func (s *Swap) handleContractTx(isBeamOwner bool) {
	if !isBeamOwner {
		rawTx, ok := getString(s.params, SubTxLock, ParamRawTransaction)
		if !ok {
			s.log.Error("HTLC lock raw transaction missing")
			s.fail(FailureInvalidTransaction)
			return
		}
		if !s.registerExternalTx(rawTx, SubTxLock) {
			return
		}
		s.sendExternalTxDetails()
		s.setNextState(StateBuildingRefundTX)
		return
	}

	if _, ok := getString(s.params, SubTxLock, ParamAtomicSwapExternalTxID); !ok {
		s.checkContractTimeout()
		return
	}

	if s.lockTxConfirmations < BTCMinTxConfirmations {
		s.checkContractTimeout()
		s.pollLockTxConfirmations()
		return
	}
	s.setNextState(StateSendingBeamLockTX)
}

// checkContractTimeout cancels the swap if the HTLC lock is still
// unconfirmed with less than half the hash-lock window remaining. A later
// Beam commit would leave too little room to redeem safely.
func (s *Swap) checkContractTimeout() {
	if time.Now().Unix() > s.createTime()+BTCLockTimeSec/2 {
		s.log.Warn("HTLC lock not confirmed in time")
		s.cancel()
	}
}

// Message sending.

func (s *Swap) send(msg *SetTxParameter) bool {
	msg.TxID = s.id
	if err := s.channel.Send(*msg); err != nil {
		s.log.Error("Failed to send parameters to peer", "error", err)
		s.fail(FailureFailedToSendParameters)
		return false
	}
	return true
}

// sendInvitation announces the swap to the peer.
func (s *Swap) sendInvitation() {
	addr, _ := s.swapAddress()
	coin, _ := getString(s.params, SubTxDefault, ParamAtomicSwapCoin)

	msg := &SetTxParameter{SubTxID: SubTxDefault}
	msg.AddParameter(ParamAmount, encodeUint64(s.amount())).
		AddParameter(ParamFee, encodeUint64(s.fee())).
		AddParameter(ParamIsSender, encodeBool(!s.IsSender())).
		AddParameter(ParamCreateTime, encodeUint64(uint64(s.createTime()))).
		AddParameter(ParamMinHeight, mustGetBytes(s.params, SubTxDefault, ParamMinHeight)).
		AddParameter(ParamAtomicSwapAmount, encodeUint64(s.swapAmount())).
		AddParameter(ParamAtomicSwapCoin, []byte(coin)).
		AddParameter(ParamAtomicSwapPeerAddress, []byte(addr)).
		AddParameter(ParamPeerProtoVersion, encodeUint64(ProtoVersion))
	s.send(msg)
}

// sendAddressReply gives the initiator this party's BTC payment address.
func (s *Swap) sendAddressReply() {
	addr, _ := s.swapAddress()
	msg := &SetTxParameter{SubTxID: SubTxDefault}
	msg.AddParameter(ParamAtomicSwapPeerAddress, []byte(addr)).
		AddParameter(ParamPeerProtoVersion, encodeUint64(ProtoVersion))
	s.send(msg)
}

// sendExternalTxDetails announces the broadcast HTLC lock to the peer.
func (s *Swap) sendExternalTxDetails() {
	txid, _ := getString(s.params, SubTxLock, ParamAtomicSwapExternalTxID)
	outIdx := mustGetBytes(s.params, SubTxLock, ParamAtomicSwapExternalTxOutputIdx)

	msg := &SetTxParameter{SubTxID: SubTxLock}
	msg.AddParameter(ParamAtomicSwapExternalTxID, []byte(txid)).
		AddParameter(ParamAtomicSwapExternalTxOutputIdx, outIdx)
	s.send(msg)
}

func mustGetBytes(p ParamIO, sub SubTxID, id ParameterID) []byte {
	b, _ := p.Get(sub, id)
	return b
}

// initSecret generates the swap secret, exactly once.
func (s *Swap) initSecret() error {
	if _, ok := getHash32(s.params, SubTxBeamRedeem, ParamPreImage); ok {
		return nil
	}
	secret, err := helpers.GenerateSecureRandom(SecretSize)
	if err != nil {
		return err
	}
	s.params.Put(SubTxBeamRedeem, ParamPreImage, secret, true)
	return nil
}

// lockImage returns SHA256 of the locally held preimage.
func (s *Swap) lockImage() ([32]byte, bool) {
	pre, ok := getHash32(s.params, SubTxBeamRedeem, ParamPreImage)
	if !ok {
		return [32]byte{}, false
	}
	return sha256.Sum256(pre[:]), true
}

// Package swap - BTC-side flows of the state machine: HTLC lock funding and
// signing, withdraw transaction construction, broadcast and confirmation
// polling. Every RPC completion writes its result into the parameter store
// and ticks the swap, so a crashed swap reissues exactly the calls whose
// controlling parameter is still unset.
package swap

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/DrakenTech/beam/pkg/helpers"
)

// contractScript rebuilds the HTLC redeem script from persisted parameters.
// Both parties derive the identical script: the refund key is the HTLC
// funder's address, the redeem key the Beam owner's.
func (s *Swap) contractScript() ([]byte, error) {
	own, _ := s.swapAddress()
	peer, _ := s.peerSwapAddress()

	secretHash, ok := getHash32(s.params, SubTxBeamRedeem, ParamPeerLockImage)
	if !ok {
		img, haveSecret := s.lockImage()
		if !haveSecret {
			return nil, errIncompletePeerData
		}
		secretHash = img
	}

	refundAddr, redeemAddr := own, peer
	if s.IsSender() {
		refundAddr, redeemAddr = peer, own
	}
	return BuildHTLCContract(refundAddr, redeemAddr, s.htlcLocktime(), secretHash[:], s.net)
}

// getRawChangeAddress fetches this party's BTC payment address.
func (s *Swap) getRawChangeAddress() {
	if s.inFlight["changeAddress"] {
		return
	}
	s.inFlight["changeAddress"] = true
	s.btc.GetRawChangeAddress(func(addr string, err error) {
		s.inFlight["changeAddress"] = false
		if s.State().IsTerminal() {
			return
		}
		if err != nil {
			s.log.Error("getrawchangeaddress failed", "error", err)
			return
		}
		s.params.Put(SubTxDefault, ParamAtomicSwapAddress, []byte(addr), true)
		s.Tick()
	})
}

// buildLockTx constructs the HTLC lock transaction (BTC owner only): build
// the contract output, let the node fund it, then sign it.
func (s *Swap) buildLockTx() SwapTxState {
	state := s.swapTxState(SubTxLock)

	switch state {
	case SwapTxStateInitial:
		if err := s.initSecret(); err != nil {
			s.log.Error("Failed to generate swap secret", "error", err)
			s.fail(FailureInvalidTransaction)
			return state
		}
		if _, ok := s.peerSwapAddress(); !ok {
			return state
		}
		if !s.fundLockTx() {
			return state
		}
		s.setSwapTxState(SubTxLock, SwapTxStateCreating)
		return SwapTxStateCreating

	case SwapTxStateCreating:
		// Crash recovery: if nothing is in flight the previous funding
		// attempt is lost; fund again.
		s.fundLockTx()
		return state
	}
	return state
}

// fundLockTx issues fundrawtransaction for the contract output. Reports
// whether the request was dispatched.
func (s *Swap) fundLockTx() bool {
	if s.inFlight["fundLock"] {
		return true
	}
	contract, err := s.contractScript()
	if err != nil {
		return false
	}
	template, err := BuildLockTxTemplate(s.swapAmount(), contract)
	if err != nil {
		s.log.Error("Failed to build lock template", "error", err)
		s.fail(FailureInvalidTransaction)
		return false
	}

	s.inFlight["fundLock"] = true
	s.btc.FundRawTransaction(template, func(fundedHex string, changePos int, fee float64, err error) {
		s.inFlight["fundLock"] = false
		if s.State().IsTerminal() {
			return
		}
		if err != nil {
			s.log.Error("fundrawtransaction failed", "error", err)
			return
		}
		// A replayed callback must not trigger a second signing pass.
		if s.swapTxState(SubTxLock) == SwapTxStateConstructed {
			return
		}

		outIdx := 1
		if changePos != 0 {
			outIdx = 0
		}
		s.params.Put(SubTxLock, ParamAtomicSwapExternalTxOutputIdx, encodeUint64(uint64(outIdx)), true)
		s.signLockTx(fundedHex)
	})
	return true
}

func (s *Swap) signLockTx(fundedHex string) {
	if s.inFlight["signLock"] {
		return
	}
	s.inFlight["signLock"] = true
	s.btc.SignRawTransaction(fundedHex, func(signedHex string, complete bool, err error) {
		s.inFlight["signLock"] = false
		if s.State().IsTerminal() {
			return
		}
		if err != nil || !complete {
			s.log.Error("signrawtransaction failed", "error", err, "complete", complete)
			return
		}
		s.params.Put(SubTxLock, ParamRawTransaction, []byte(signedHex), true)
		s.setSwapTxState(SubTxLock, SwapTxStateConstructed)
		s.Tick()
	})
}

// buildWithdrawTx constructs a withdraw (redeem or refund) transaction
// spending the HTLC output: create the raw transaction through the node,
// export the key, and sign the contract input locally.
func (s *Swap) buildWithdrawTx(sub SubTxID) SwapTxState {
	state := s.swapTxState(sub)

	switch state {
	case SwapTxStateInitial:
		lockTxID, ok := getString(s.params, SubTxLock, ParamAtomicSwapExternalTxID)
		if !ok {
			return state
		}
		outIdx, ok := getUint64(s.params, SubTxLock, ParamAtomicSwapExternalTxOutputIdx)
		if !ok {
			return state
		}
		addr, ok := s.swapAddress()
		if !ok {
			return state
		}

		amount := s.swapAmount() - s.btcFeeSat
		inputs := []RawTxInput{{
			TxID:     lockTxID,
			Vout:     int(outIdx),
			Sequence: wire.MaxTxInSequenceNum - 1, // enables CLTV
		}}
		outputs := map[string]string{addr: helpers.SatoshiToBTC(amount)}

		var locktime int64
		if sub == SubTxRefund {
			locktime = s.htlcLocktime()
		}

		op := fmt.Sprintf("create:%d", sub)
		if s.inFlight[op] {
			return state
		}
		s.inFlight[op] = true
		s.btc.CreateRawTransaction(inputs, outputs, locktime, func(hexTx string, err error) {
			s.inFlight[op] = false
			if s.State().IsTerminal() {
				return
			}
			if err != nil {
				s.log.Error("createrawtransaction failed", "error", err)
				return
			}
			s.params.Put(sub, ParamRawTransaction, []byte(hexTx), true)
			s.Tick()
		})
		s.setSwapTxState(sub, SwapTxStateCreating)
		return SwapTxStateCreating

	case SwapTxStateCreating:
		raw, ok := getString(s.params, sub, ParamRawTransaction)
		if !ok {
			// Lost the create reply; the Initial-state logic reissues it.
			s.setSwapTxState(sub, SwapTxStateInitial)
			s.tickRequested = true
			return state
		}
		s.signWithdrawTx(sub, raw)
		return state
	}
	return state
}

func (s *Swap) signWithdrawTx(sub SubTxID, raw string) {
	addr, _ := s.swapAddress()

	op := fmt.Sprintf("dump:%d", sub)
	if s.inFlight[op] {
		return
	}
	s.inFlight[op] = true
	s.btc.DumpPrivKey(addr, func(wif string, err error) {
		s.inFlight[op] = false
		if s.State().IsTerminal() || s.swapTxState(sub) == SwapTxStateConstructed {
			return
		}
		if err != nil {
			s.log.Error("dumpprivkey failed", "error", err)
			return
		}

		contract, cerr := s.contractScript()
		if cerr != nil {
			s.log.Error("Failed to rebuild contract script", "error", cerr)
			return
		}

		var secret []byte
		if sub == SubTxRedeem {
			pre, ok := getHash32(s.params, SubTxBeamRedeem, ParamPreImage)
			if !ok {
				s.log.Error("Redeem preimage missing")
				return
			}
			secret = pre[:]
		}

		signed, serr := SignWithdrawTx(raw, contract, wif, secret)
		if serr != nil {
			s.log.Error("Failed to sign withdraw tx", "error", serr)
			s.fail(FailureInvalidTransaction)
			return
		}
		s.params.Put(sub, ParamRawTransaction, []byte(signed), true)
		s.setSwapTxState(sub, SwapTxStateConstructed)
		s.Tick()
	})
}

// registerExternalTx broadcasts a BTC transaction, once. The registered flag
// is only written by the broadcast reply, so a crash in between reissues the
// same broadcast; the node answers with the same txid for a transaction
// already in its mempool.
func (s *Swap) registerExternalTx(rawTx string, sub SubTxID) bool {
	registered, ok := getBool(s.params, sub, ParamTransactionRegistered)
	if !ok {
		op := fmt.Sprintf("send:%d", sub)
		if s.inFlight[op] {
			return false
		}
		s.inFlight[op] = true
		s.btc.SendRawTransaction(rawTx, func(txid string, err error) {
			s.inFlight[op] = false
			if s.State().IsTerminal() {
				return
			}
			if errors.Is(err, ErrEmptyReply) {
				return // transport loss; next tick retries
			}
			if err != nil {
				s.log.Error("sendrawtransaction failed", "error", err)
				s.params.Put(sub, ParamTransactionRegistered, encodeBool(false), true)
				s.Tick()
				return
			}
			s.params.Put(sub, ParamAtomicSwapExternalTxID, []byte(txid), true)
			s.params.Put(sub, ParamTransactionRegistered, encodeBool(true), true)
			s.Tick()
		})
		return false
	}
	if !registered {
		s.fail(FailureFailedToRegister)
		return false
	}
	return true
}

// pollLockTxConfirmations polls the HTLC lock output depth.
func (s *Swap) pollLockTxConfirmations() {
	txid, ok := getString(s.params, SubTxLock, ParamAtomicSwapExternalTxID)
	if !ok {
		return
	}
	outIdx, _ := getUint64(s.params, SubTxLock, ParamAtomicSwapExternalTxOutputIdx)

	if s.inFlight["gettxout"] {
		return
	}
	s.inFlight["gettxout"] = true
	s.btc.GetTxOut(txid, int(outIdx), func(confirmations int64, found bool, err error) {
		s.inFlight["gettxout"] = false
		if s.State().IsTerminal() {
			return
		}
		if err != nil || !found {
			return
		}
		s.lockTxConfirmations = confirmations
		if confirmations >= BTCMinTxConfirmations {
			s.Tick()
		}
	})
}

// sendWithdrawTx drives the SendingRedeemTX / SendingRefundTX states:
// broadcast the signed withdraw and poll it to its confirmation target.
func (s *Swap) sendWithdrawTx(sub SubTxID) {
	if sub == SubTxRefund && time.Now().Unix() < s.htlcLocktime() {
		return // non-final until the contract locktime passes
	}

	raw, ok := getString(s.params, sub, ParamRawTransaction)
	if !ok || s.swapTxState(sub) != SwapTxStateConstructed {
		if s.buildWithdrawTx(sub) != SwapTxStateConstructed {
			return
		}
		raw, _ = getString(s.params, sub, ParamRawTransaction)
	}

	if !s.registerExternalTx(raw, sub) {
		return
	}

	txid, _ := getString(s.params, sub, ParamAtomicSwapExternalTxID)
	op := fmt.Sprintf("poll:%d", sub)
	if s.inFlight[op] {
		return
	}
	s.inFlight[op] = true
	s.btc.GetTxOut(txid, 0, func(confirmations int64, found bool, err error) {
		s.inFlight[op] = false
		if s.State().IsTerminal() {
			return
		}
		if err != nil {
			return
		}
		// A spent or sufficiently buried output both count as done; gettxout
		// stops reporting outputs once they are spent.
		if !found || confirmations >= WithdrawTxConfirmations {
			s.log.Info("BTC withdraw confirmed", "subtx", int(sub))
			s.setState(StateCompleteSwap)
			s.Tick()
		}
	})
}

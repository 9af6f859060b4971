// Package swap - Beam-side sub-transaction flows of the state machine: the
// shared-output lock negotiation and the redeem/refund kernel negotiations.
package swap

// buildBeamLockTx drives the three-round shared UTXO construction.
func (s *Swap) buildBeamLockTx() SubTxState {
	state := s.subTxState(SubTxBeamLock)
	isSender := s.IsSender()

	b := NewLockTxBuilder(s.builderDeps(), s.amount(), s.fee())

	if state == SubTxStateInitial && isSender && !b.GetInitialTxParams() {
		if err := b.SelectInputs(); err != nil {
			s.log.Error("Input selection failed", "error", err)
			s.fail(FailureInvalidTransaction)
			return state
		}
		if err := b.AddChangeOutput(); err != nil {
			s.log.Error("Change output failed", "error", err)
			s.fail(FailureInvalidTransaction)
			return state
		}
	}
	if err := b.FinalizeOutputs(); err != nil {
		s.log.Error("Failed to finalize outputs", "error", err)
		s.fail(FailureInvalidTransaction)
		return state
	}
	b.CreateKernel()

	if !b.GetPeerPublicExcessAndNonce() {
		if state == SubTxStateInitial && s.IsInitiator() {
			s.sendLockTxInvitation(b)
			s.setSubTxState(SubTxBeamLock, SubTxStateInvitation)
			state = SubTxStateInvitation
		}
		return state
	}

	if err := b.LoadSharedParameters(); err != nil {
		s.log.Error("Failed to load shared parameters", "error", err)
		s.fail(FailureInvalidTransaction)
		return state
	}
	b.SignPartial()

	if state == SubTxStateInitial || state == SubTxStateInvitation {
		// Enter the proof round: exchange signature shares, offsets and the
		// public shared blinding factor, plus this party's proof material.
		if err := b.SharedUTXOProofPart2(isSender); err != nil && err != errIncompletePeerData {
			s.log.Error("Shared proof part2 failed", "error", err)
			s.fail(FailureInvalidTransaction)
			return state
		}
		s.sendLockTxProofPart2(b, isSender)
		s.setSubTxState(SubTxBeamLock, SubTxStateSharedUTXOProofPart2)
		return SubTxStateSharedUTXOProofPart2
	}

	if isSender {
		return s.lockTxProducerRounds(b, state)
	}
	return s.lockTxCosignerRounds(b, state)
}

// lockTxProducerRounds finishes the producer (Beam sender) side: fold the
// peer's Part2 when it arrives, verify the peer signature, finalize the
// proof with the peer's Part3, and assemble the lock transaction.
func (s *Swap) lockTxProducerRounds(b *LockTxBuilder, state SubTxState) SubTxState {
	if !b.ProofProduced() {
		if !b.HavePeerProofPart2() {
			return state
		}
		if err := b.SharedUTXOProofPart2(true); err != nil {
			s.log.Error("Shared proof part2 failed", "error", err)
			s.fail(FailureInvalidTransaction)
			return state
		}
		s.sendLockTxProofMultiSig(b)
	}

	if !b.GetPeerSignature() {
		return state
	}
	if !b.IsPeerSignatureValid() {
		s.log.Info("Peer signature is invalid")
		s.fail(FailurePeerSignatureInvalid)
		return state
	}
	b.FinalizeSignature()

	if !b.HavePeerProofPart3() {
		return state
	}
	if err := b.SharedUTXOProofPart3(true); err != nil {
		s.log.Error("Shared proof finalize failed", "error", err)
		s.fail(FailureInvalidTransaction)
		return state
	}
	s.setSubTxState(SubTxBeamLock, SubTxStateConstructed)

	tx, err := b.CreateTransaction()
	if err != nil {
		s.log.Error("Failed to create lock tx", "error", err)
		s.fail(FailureInvalidTransaction)
		return SubTxStateConstructed
	}
	if err := tx.IsValid(); err != nil {
		s.log.Error("Lock tx is invalid", "error", err)
		s.fail(FailureInvalidTransaction)
		return SubTxStateConstructed
	}
	s.lockTx = tx
	return SubTxStateConstructed
}

// lockTxCosignerRounds finishes the non-producer (Beam receiver) side: wait
// for the producer's challenge, verify its signature, and send the Part3
// share.
func (s *Swap) lockTxCosignerRounds(b *LockTxBuilder, state SubTxState) SubTxState {
	if !b.HaveProofMultiSig() {
		return state
	}
	if !b.GetPeerSignature() {
		return state
	}
	if !b.IsPeerSignatureValid() {
		s.log.Info("Peer signature is invalid")
		s.fail(FailurePeerSignatureInvalid)
		return state
	}
	b.FinalizeSignature()

	part3, err := b.ProofPart3Bytes()
	if err != nil {
		s.log.Error("Shared proof part3 failed", "error", err)
		s.fail(FailureInvalidTransaction)
		return state
	}
	msg := &SetTxParameter{SubTxID: SubTxBeamLock}
	msg.AddParameter(ParamPeerSharedBulletProofPart3, part3)
	if !s.send(msg) {
		return state
	}
	s.setSubTxState(SubTxBeamLock, SubTxStateConstructed)
	return SubTxStateConstructed
}

// buildBeamWithdrawTx drives the two-round redeem or refund negotiation over
// the shared output.
func (s *Swap) buildBeamWithdrawTx(sub SubTxID) SubTxState {
	state := s.subTxState(sub)

	// Fee is the same flat kernel fee as the lock; the withdraw output gets
	// the remainder.
	fee := s.fee()
	amount := s.amount() - fee

	isOwner := s.IsSender() == (sub == SubTxBeamRefund)

	b := NewSharedTxBuilder(s.builderDeps(), sub, amount, fee)
	if !b.GetSharedParameters() {
		return state
	}

	if sub == SubTxBeamRedeem {
		if isOwner {
			// The redeem owner holds the preimage and derives the lock image
			// locally.
			img, ok := s.lockImage()
			if !ok {
				return state
			}
			s.params.Put(sub, ParamPeerLockImage, img[:], false)
		} else if _, ok := getHash32(s.params, sub, ParamPeerLockImage); !ok {
			// The cosigner waits for the lock image from the invitation.
			return state
		}
		if err := b.LoadLockImage(); err != nil {
			return state
		}
	}

	if err := b.InitTx(isOwner); err != nil {
		s.log.Error("Failed to init withdraw tx", "error", err)
		s.fail(FailureInvalidTransaction)
		return state
	}
	b.CreateKernel()

	if !b.GetPeerPublicExcessAndNonce() {
		if state == SubTxStateInitial && isOwner {
			s.sendSharedTxInvitation(b, sub == SubTxBeamRedeem)
			s.setSubTxState(sub, SubTxStateInvitation)
			state = SubTxStateInvitation
		}
		return state
	}
	b.SignPartial()

	if !b.GetPeerSignature() {
		if state == SubTxStateInitial && !isOwner {
			s.confirmSharedTxInvitation(b)
			// The cosigner never combines the signature, but the kernel id
			// binds only the message and the combined excess, so it is
			// recorded here for finding the owner's kernel on chain.
			kernel := *b.kernel
			kernel.Excess = b.totalExcess()
			id := kernel.ID()
			s.params.Put(sub, ParamKernelID, id[:], true)
			s.setSubTxState(sub, SubTxStateConstructed)
			state = SubTxStateConstructed
		}
		return state
	}

	if !b.IsPeerSignatureValid() {
		s.log.Info("Peer signature is invalid")
		s.fail(FailurePeerSignatureInvalid)
		return state
	}
	b.FinalizeSignature()
	s.setSubTxState(sub, SubTxStateConstructed)

	if isOwner {
		if sub == SubTxBeamRedeem {
			pre, ok := getHash32(s.params, SubTxBeamRedeem, ParamPreImage)
			if !ok {
				s.fail(FailureInvalidTransaction)
				return SubTxStateConstructed
			}
			b.AttachPreimage(pre)
		}
		tx, err := b.CreateTransaction()
		if err != nil {
			s.log.Error("Failed to create withdraw tx", "error", err)
			s.fail(FailureInvalidTransaction)
			return SubTxStateConstructed
		}
		if err := tx.IsValid(); err != nil {
			s.log.Error("Withdraw tx is invalid", "error", err)
			s.fail(FailureInvalidTransaction)
			return SubTxStateConstructed
		}
		if sub == SubTxBeamRefund {
			s.refundTx = tx
		} else {
			s.redeemTx = tx
		}
	}
	return SubTxStateConstructed
}

// Beam-side peer messages.

func (s *Swap) sendLockTxInvitation(b *LockTxBuilder) {
	msg := &SetTxParameter{SubTxID: SubTxBeamLock}
	msg.AddParameter(ParamFee, encodeUint64(b.Fee())).
		AddParameter(ParamMinHeight, encodeUint64(b.MinHeight())).
		AddParameter(ParamPeerPublicExcess, b.PublicExcess()).
		AddParameter(ParamPeerPublicNonce, b.PublicNonce())
	s.send(msg)
}

// sendLockTxProofPart2 sends the second-round bundle: the partial signature,
// offset and public shared blinding factor, the non-producer's Part2 share,
// and the producer's multisig challenge when it is already available. A
// party that did not send the invitation repeats its excess and nonce here.
func (s *Swap) sendLockTxProofPart2(b *LockTxBuilder, producer bool) {
	msg := &SetTxParameter{SubTxID: SubTxBeamLock}
	msg.AddParameter(ParamPeerSignature, b.PartialSignature()).
		AddParameter(ParamPeerOffset, b.OffsetBytes()).
		AddParameter(ParamPeerPublicSharedBlindingFactor, b.PublicSharedBlindingFactorBytes())

	if !s.IsInitiator() {
		msg.AddParameter(ParamPeerPublicExcess, b.PublicExcess()).
			AddParameter(ParamPeerPublicNonce, b.PublicNonce())
	}
	if producer {
		if b.ProofProduced() {
			msg.AddParameter(ParamPeerSharedBulletProofMSig, b.ProofMultiSigBytes())
		}
	} else {
		msg.AddParameter(ParamPeerSharedBulletProofPart2, b.ProofPart2Bytes())
	}
	s.send(msg)
}

func (s *Swap) sendLockTxProofMultiSig(b *LockTxBuilder) {
	msg := &SetTxParameter{SubTxID: SubTxBeamLock}
	msg.AddParameter(ParamPeerSharedBulletProofMSig, b.ProofMultiSigBytes())
	s.send(msg)
}

func (s *Swap) sendSharedTxInvitation(b *SharedTxBuilder, withLockImage bool) {
	msg := &SetTxParameter{SubTxID: b.SubTx()}
	msg.AddParameter(ParamAmount, encodeUint64(b.Amount())).
		AddParameter(ParamFee, encodeUint64(b.Fee())).
		AddParameter(ParamMinHeight, encodeUint64(b.MinHeight())).
		AddParameter(ParamPeerPublicExcess, b.PublicExcess()).
		AddParameter(ParamPeerPublicNonce, b.PublicNonce())
	if withLockImage {
		img := mustGetBytes(s.params, SubTxBeamRedeem, ParamPeerLockImage)
		msg.AddParameter(ParamPeerLockImage, img)
	}
	s.send(msg)
}

func (s *Swap) confirmSharedTxInvitation(b *SharedTxBuilder) {
	msg := &SetTxParameter{SubTxID: b.SubTx()}
	msg.AddParameter(ParamPeerPublicExcess, b.PublicExcess()).
		AddParameter(ParamPeerSignature, b.PartialSignature()).
		AddParameter(ParamPeerPublicNonce, b.PublicNonce()).
		AddParameter(ParamPeerOffset, b.OffsetBytes())
	s.send(msg)
}

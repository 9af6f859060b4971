// Package swap - LockTxBuilder drives the two-party construction of the
// Beam-side shared output: input selection, the joint Pedersen commitment,
// and the three-round shared proof.
package swap

import (
	"errors"
	"fmt"

	"github.com/DrakenTech/beam/internal/mw"
)

// LockTxBuilder builds the Beam lock transaction. Only the Beam sender holds
// the final serialized transaction; the receiver is a cosigner.
type LockTxBuilder struct {
	baseBuilder

	sharedCoin   mw.CoinID
	sharedBlind  *mw.Scalar // r_self
	sharedSeed   [32]byte
	peerPubBlind *mw.Point // R_peer

	sharedProof mw.SharedProof
	proofMSig   mw.ProofMultiSig
}

// NewLockTxBuilder creates the builder for the BEAM_LOCK sub-transaction.
func NewLockTxBuilder(deps BuilderDeps, amount, fee uint64) *LockTxBuilder {
	b := &LockTxBuilder{baseBuilder: newBaseBuilder(deps, SubTxBeamLock, amount, fee)}
	b.loadMinHeight()
	return b
}

// GetInitialTxParams reports whether input selection already ran.
func (b *LockTxBuilder) GetInitialTxParams() bool {
	_, ok := b.deps.Params.Get(b.subTx, ParamInputs)
	return ok
}

// selectedInputs reads back the persisted input coin ids.
func (b *LockTxBuilder) selectedInputs() ([]mw.CoinID, error) {
	inBytes, ok := b.deps.Params.Get(b.subTx, ParamInputs)
	if !ok {
		return nil, errors.New("inputs not selected")
	}
	return decodeCoinIDs(inBytes)
}

// SelectInputs locks wallet coins covering amount + fee and persists their
// ids. Sender side only.
func (b *LockTxBuilder) SelectInputs() error {
	ids, _, err := b.deps.Coins.SelectCoins(b.deps.TxID, b.amount+b.fee)
	if err != nil {
		return err
	}
	b.deps.Params.Put(b.subTx, ParamInputs, encodeCoinIDs(ids), false)
	return nil
}

// AddChangeOutput allocates the change coin and persists its id. Sender side
// only.
func (b *LockTxBuilder) AddChangeOutput() error {
	ids, err := b.selectedInputs()
	if err != nil {
		return err
	}
	var total uint64
	for _, id := range ids {
		total += id.Value
	}
	if total < b.amount+b.fee {
		return errors.New("selected inputs do not cover amount and fee")
	}
	change := total - b.amount - b.fee
	if change == 0 {
		b.deps.Params.Put(b.subTx, ParamOutputs, nil, false)
		return nil
	}
	coin, err := b.deps.Coins.AllocateCoin(change, 0)
	if err != nil {
		return err
	}
	b.deps.Params.Put(b.subTx, ParamOutputs, encodeCoinIDs([]mw.CoinID{coin}), false)
	return nil
}

// FinalizeOutputs materializes the persisted input/output sets and derives
// this party's excess secret and offset.
func (b *LockTxBuilder) FinalizeOutputs() error {
	rho := b.offsetBase()
	excess := rho.Clone()

	if inBytes, ok := b.deps.Params.Get(b.subTx, ParamInputs); ok && len(inBytes) > 0 {
		ids, err := decodeCoinIDs(inBytes)
		if err != nil {
			return err
		}
		for _, id := range ids {
			blind := b.coinBlind(id)
			b.inputs = append(b.inputs, &mw.Input{Commitment: mw.Commit(blind, id.Value)})
			excess = excess.Sub(blind)
		}
	}
	if outBytes, ok := b.deps.Params.Get(b.subTx, ParamOutputs); ok && len(outBytes) > 0 {
		ids, err := decodeCoinIDs(outBytes)
		if err != nil {
			return err
		}
		for _, id := range ids {
			blind := b.coinBlind(id)
			b.outputs = append(b.outputs, &mw.Output{
				Commitment: mw.Commit(blind, id.Value),
				Proof:      mw.SignSolo(blind, id, mw.Commit(blind, id.Value)),
			})
			excess = excess.Add(blind)
		}
	}

	b.excess = excess
	b.deps.Params.Put(b.subTx, ParamBlindingExcess, excess.Bytes(), false)
	return nil
}

// CreateKernel initializes the lock kernel.
func (b *LockTxBuilder) CreateKernel() {
	b.createKernel(nil, b.minHeight)
}

// LoadSharedParameters derives (or reloads) the shared-coin blinding share,
// the proof seed, and the offset adjustment. The offset is decreased by
// r_self so the shared output's blinding never appears in the kernel excess.
func (b *LockTxBuilder) LoadSharedParameters() error {
	if b.sharedBlind != nil {
		return nil
	}

	if blindBytes, ok := b.deps.Params.Get(b.subTx, ParamSharedBlindingFactor); ok {
		blind, err := mw.ScalarFromBytes(blindBytes)
		if err != nil {
			return fmt.Errorf("shared blinding factor: %w", err)
		}
		b.sharedBlind = blind

		idBytes, _ := b.deps.Params.Get(b.subTx, ParamSharedCoinID)
		if b.sharedCoin, err = mw.ParseCoinID(idBytes); err != nil {
			return fmt.Errorf("shared coin id: %w", err)
		}
		seed, ok := getHash32(b.deps.Params, b.subTx, ParamSharedSeed)
		if !ok {
			return errors.New("shared seed missing")
		}
		b.sharedSeed = seed
	} else {
		coin, err := b.deps.Coins.AllocateCoin(b.amount, sharedCoinSubIdx)
		if err != nil {
			return err
		}
		b.sharedCoin = coin
		b.deps.Params.Put(b.subTx, ParamSharedCoinID, coin.Bytes(), false)

		b.sharedBlind = b.deps.Kdf.Child(coin.SubIdx).DeriveBlinding(coin)
		b.deps.Params.Put(b.subTx, ParamSharedBlindingFactor, b.sharedBlind.Bytes(), false)

		b.sharedSeed = mw.GenerateSeed(b.sharedBlind, b.amount)
		b.deps.Params.Put(b.subTx, ParamSharedSeed, b.sharedSeed[:], false)
	}

	b.offset = b.offsetBase().Sub(b.sharedBlind)
	b.deps.Params.Put(b.subTx, ParamOffset, b.offset.Bytes(), false)

	if proofBytes, ok := b.deps.Params.Get(b.subTx, ParamSharedBulletProof); ok {
		proof, err := mw.ParseSharedProof(proofBytes)
		if err == nil {
			b.sharedProof = *proof
		}
	}
	return nil
}

// GetPeerPublicSharedBlindingFactor loads R_peer. Returns false while
// absent.
func (b *LockTxBuilder) GetPeerPublicSharedBlindingFactor() bool {
	if b.peerPubBlind != nil {
		return true
	}
	pb, ok := b.deps.Params.Get(b.subTx, ParamPeerPublicSharedBlindingFactor)
	if !ok {
		return false
	}
	p, err := mw.PointFromBytes(pb)
	if err != nil {
		return false
	}
	b.peerPubBlind = p
	return true
}

// SharedCommitment computes the joint commitment
// C = R_self + R_peer + amount*H.
func (b *LockTxBuilder) SharedCommitment() (*mw.Point, error) {
	if !b.GetPeerPublicSharedBlindingFactor() {
		return nil, errIncompletePeerData
	}
	c := mw.ScalarBaseMult(b.sharedBlind).Add(b.peerPubBlind).Add(mw.CommitValue(b.amount))
	return c, nil
}

func (b *LockTxBuilder) creatorParams() (*mw.CreatorParams, error) {
	c, err := b.SharedCommitment()
	if err != nil {
		return nil, err
	}
	return &mw.CreatorParams{Commitment: c, CoinID: b.sharedCoin}, nil
}

// HavePeerProofPart2 reports whether the peer's Part2 share arrived.
func (b *LockTxBuilder) HavePeerProofPart2() bool {
	_, ok := b.deps.Params.Get(b.subTx, ParamPeerSharedBulletProofPart2)
	return ok
}

// HavePeerProofPart3 reports whether the peer's Part3 share arrived.
func (b *LockTxBuilder) HavePeerProofPart3() bool {
	_, ok := b.deps.Params.Get(b.subTx, ParamPeerSharedBulletProofPart3)
	return ok
}

// HaveProofMultiSig reports whether the producer's challenge arrived.
func (b *LockTxBuilder) HaveProofMultiSig() bool {
	_, ok := b.deps.Params.Get(b.subTx, ParamPeerSharedBulletProofMSig)
	return ok
}

// ProofProduced reports whether the producer already ran Step2.
func (b *LockTxBuilder) ProofProduced() bool {
	_, ok := b.deps.Params.Get(b.subTx, ParamSharedBulletProof)
	return ok
}

// SharedUTXOProofPart2 runs this party's second proof round.
//
// The producer folds the peer's Part2 share with its own, emits the
// challenge multisig, and persists the partially built proof. The
// non-producer only computes its own Part2 share (returned via
// ProofPart2Bytes).
func (b *LockTxBuilder) SharedUTXOProofPart2(producer bool) error {
	if !producer {
		return nil // share is derived on demand from the seed
	}

	p2Bytes, ok := b.deps.Params.Get(b.subTx, ParamPeerSharedBulletProofPart2)
	if !ok {
		return errIncompletePeerData
	}
	peerPart2, err := mw.ParseProofPart2(p2Bytes)
	if err != nil {
		return fmt.Errorf("peer proof part2: %w", err)
	}
	cp, err := b.creatorParams()
	if err != nil {
		return err
	}

	b.sharedProof = mw.SharedProof{Part2: *peerPart2}
	if err := b.sharedProof.CoSign(b.sharedSeed, b.sharedBlind, cp, mw.ProofPhaseStep2, &b.proofMSig); err != nil {
		return err
	}

	// Persist the partial proof; its presence marks Step2 as done.
	b.deps.Params.Put(b.subTx, ParamSharedBulletProof, b.sharedProof.Bytes(), true)
	return nil
}

// SharedUTXOProofPart3 runs this party's third proof round.
//
// The producer folds the peer's Part3 share and finalizes the proof. The
// non-producer computes its Part3 share from the producer's multisig
// challenge (returned via ProofPart3Bytes).
func (b *LockTxBuilder) SharedUTXOProofPart3(producer bool) error {
	cp, err := b.creatorParams()
	if err != nil {
		return err
	}

	if producer {
		p3Bytes, ok := b.deps.Params.Get(b.subTx, ParamPeerSharedBulletProofPart3)
		if !ok {
			return errIncompletePeerData
		}
		peerPart3, err := mw.ParseProofPart3(p3Bytes)
		if err != nil {
			return fmt.Errorf("peer proof part3: %w", err)
		}
		b.sharedProof.Part3 = *peerPart3
		if err := b.sharedProof.CoSign(b.sharedSeed, b.sharedBlind, cp, mw.ProofPhaseFinalize, nil); err != nil {
			return err
		}
		if !b.sharedProof.IsValid(cp.Commitment) {
			return errors.New("finalized shared proof is invalid")
		}
		b.deps.Params.Put(b.subTx, ParamSharedBulletProof, b.sharedProof.Bytes(), true)
	}
	return nil
}

// ProofPart2Bytes returns this party's own Part2 share for transmission.
func (b *LockTxBuilder) ProofPart2Bytes() []byte {
	var part2 mw.ProofPart2
	mw.CoSignPart(b.sharedSeed, &part2)
	return part2.Bytes()
}

// ProofPart3Bytes returns this party's own Part3 share for transmission.
// Requires the producer's multisig challenge.
func (b *LockTxBuilder) ProofPart3Bytes() ([]byte, error) {
	msigBytes, ok := b.deps.Params.Get(b.subTx, ParamPeerSharedBulletProofMSig)
	if !ok {
		return nil, errIncompletePeerData
	}
	msig, err := mw.ParseProofMultiSig(msigBytes)
	if err != nil {
		return nil, fmt.Errorf("proof multisig: %w", err)
	}
	var part3 mw.ProofPart3
	if err := msig.CoSignPart(b.sharedSeed, b.sharedBlind, &part3); err != nil {
		return nil, err
	}
	return part3.Bytes(), nil
}

// ProofMultiSigBytes returns the producer's challenge bundle for
// transmission.
func (b *LockTxBuilder) ProofMultiSigBytes() []byte {
	return b.proofMSig.Bytes()
}

// PublicSharedBlindingFactorBytes returns R_self for transmission.
func (b *LockTxBuilder) PublicSharedBlindingFactorBytes() []byte {
	return mw.ScalarBaseMult(b.sharedBlind).Bytes()
}

// CreateTransaction assembles the final lock transaction, attaching the
// shared output with its finalized proof. Sender side only.
func (b *LockTxBuilder) CreateTransaction() (*mw.Transaction, error) {
	c, err := b.SharedCommitment()
	if err != nil {
		return nil, err
	}
	proofBytes, ok := b.deps.Params.Get(b.subTx, ParamSharedBulletProof)
	if !ok {
		return nil, errors.New("shared proof not finalized")
	}
	proof, err := mw.ParseSharedProof(proofBytes)
	if err != nil {
		return nil, err
	}
	if !proof.IsValid(c) {
		return nil, errors.New("shared proof does not verify")
	}

	b.outputs = append(b.outputs, &mw.Output{Commitment: c, Proof: proof})
	return b.createTransaction()
}

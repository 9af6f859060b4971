// Package swap - SharedTxBuilder drives the two-party construction of the
// Beam redeem and refund kernels spending the shared output.
package swap

import (
	"errors"
	"fmt"

	"github.com/DrakenTech/beam/internal/mw"
)

// SharedTxBuilder builds a kernel spending the shared output: one input (the
// joint commitment) and one new output of amount - fee owned by the spending
// party. The offset is increased by r_self, the mirror of the lock
// transaction's decrease.
type SharedTxBuilder struct {
	baseBuilder

	sharedBlind  *mw.Scalar // r_self, from the BEAM_LOCK negotiation
	peerPubBlind *mw.Point  // R_peer
	lockImage    *[32]byte
}

// NewSharedTxBuilder creates the builder for BEAM_REFUND or BEAM_REDEEM.
// amount is the withdraw amount (swap amount minus the kernel fee).
func NewSharedTxBuilder(deps BuilderDeps, subTx SubTxID, amount, fee uint64) *SharedTxBuilder {
	b := &SharedTxBuilder{baseBuilder: newBaseBuilder(deps, subTx, amount, fee)}
	b.loadMinHeight()
	return b
}

// GetSharedParameters loads the shared-coin material negotiated during
// BEAM_LOCK. Returns false until the lock negotiation has produced it.
func (b *SharedTxBuilder) GetSharedParameters() bool {
	if b.sharedBlind != nil && b.peerPubBlind != nil {
		return true
	}
	blindBytes, ok := b.deps.Params.Get(SubTxBeamLock, ParamSharedBlindingFactor)
	if !ok {
		return false
	}
	pubBytes, ok := b.deps.Params.Get(SubTxBeamLock, ParamPeerPublicSharedBlindingFactor)
	if !ok {
		return false
	}
	blind, err := mw.ScalarFromBytes(blindBytes)
	if err != nil {
		return false
	}
	pub, err := mw.PointFromBytes(pubBytes)
	if err != nil {
		return false
	}
	b.sharedBlind = blind
	b.peerPubBlind = pub
	return true
}

// GetInitialTxParams reports whether InitTx already ran for the owner.
func (b *SharedTxBuilder) GetInitialTxParams() bool {
	_, ok := b.deps.Params.Get(b.subTx, ParamOutputs)
	return ok
}

// InitTx prepares this party's side of the spend. The owner selects the
// shared output as input and allocates the withdraw output; the cosigner
// only needs its offset share.
func (b *SharedTxBuilder) InitTx(isOwner bool) error {
	if isOwner && !b.GetInitialTxParams() {
		coin, err := b.deps.Coins.AllocateCoin(b.amount, 0)
		if err != nil {
			return err
		}
		b.deps.Params.Put(b.subTx, ParamOutputs, encodeCoinIDs([]mw.CoinID{coin}), false)
	}

	rho := b.offsetBase()
	b.offset = rho.Add(b.sharedBlind)
	b.deps.Params.Put(b.subTx, ParamOffset, b.offset.Bytes(), false)

	excess := rho.Clone()
	if isOwner {
		b.inputs = append(b.inputs, &mw.Input{Commitment: b.sharedCommitment()})

		outBytes, _ := b.deps.Params.Get(b.subTx, ParamOutputs)
		ids, err := decodeCoinIDs(outBytes)
		if err != nil || len(ids) != 1 {
			return errors.New("withdraw output missing")
		}
		blind := b.coinBlind(ids[0])
		b.outputs = append(b.outputs, &mw.Output{
			Commitment: mw.Commit(blind, ids[0].Value),
			Proof:      mw.SignSolo(blind, ids[0], mw.Commit(blind, ids[0].Value)),
		})
		excess = excess.Add(blind)
	}
	b.excess = excess
	b.deps.Params.Put(b.subTx, ParamBlindingExcess, excess.Bytes(), false)
	return nil
}

// sharedCommitment reconstructs the shared output's commitment.
func (b *SharedTxBuilder) sharedCommitment() *mw.Point {
	amount, _ := getUint64(b.deps.Params, SubTxDefault, ParamAmount)
	return mw.ScalarBaseMult(b.sharedBlind).Add(b.peerPubBlind).Add(mw.CommitValue(amount))
}

// LoadLockImage loads the hash-lock image for the redeem kernel. The redeem
// owner computes it from the preimage; the cosigner receives it from the
// peer.
func (b *SharedTxBuilder) LoadLockImage() error {
	if b.subTx != SubTxBeamRedeem || b.lockImage != nil {
		return nil
	}
	img, ok := getHash32(b.deps.Params, b.subTx, ParamPeerLockImage)
	if !ok {
		return fmt.Errorf("redeem lock image missing")
	}
	b.lockImage = &img
	return nil
}

// CreateKernel initializes the spend kernel. The refund kernel can only be
// mined after the Beam-side locktime has passed; the redeem kernel binds the
// hash-lock image into its signing challenge.
func (b *SharedTxBuilder) CreateKernel() {
	minHeight := b.minHeight
	if b.subTx == SubTxBeamRefund {
		minHeight += BeamLockTimeInBlocks
	}
	b.createKernel(b.lockImage, minHeight)
}

// AttachPreimage embeds the preimage into the finalized redeem kernel so its
// broadcast discloses the secret on chain.
func (b *SharedTxBuilder) AttachPreimage(preimage [32]byte) {
	b.kernel.Preimage = &preimage
}

// CreateTransaction assembles the final spend transaction. Owner side only.
func (b *SharedTxBuilder) CreateTransaction() (*mw.Transaction, error) {
	return b.createTransaction()
}

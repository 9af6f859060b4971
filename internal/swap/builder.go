// Package swap - common machinery for the interactive partial-Schnorr kernel
// builders. LockTxBuilder and SharedTxBuilder embed baseBuilder; there is no
// runtime dispatch between them.
package swap

import (
	"errors"
	"fmt"

	"github.com/DrakenTech/beam/internal/mw"
)

// sharedCoinSubIdx is the child-KDF branch for shared-coin blinding shares.
const sharedCoinSubIdx uint32 = 2

// CoinSource supplies Beam wallet coins to the builders.
type CoinSource interface {
	// SelectCoins locks coins covering at least amount for the given swap
	// and returns them with their total value.
	SelectCoins(txID TxID, amount uint64) ([]mw.CoinID, uint64, error)

	// AllocateCoin registers a new own coin (change, withdraw, or shared
	// output) under a KDF branch and returns its id.
	AllocateCoin(value uint64, subIdx uint32) (mw.CoinID, error)
}

// BuilderDeps are the capabilities a builder needs: parameter access, the
// key hierarchy, and the wallet coin source.
type BuilderDeps struct {
	TxID   TxID
	Params ParamIO
	Kdf    *mw.Kdf
	Coins  CoinSource
}

var errIncompletePeerData = errors.New("peer data incomplete")

// baseBuilder carries the state common to both kernel builders.
type baseBuilder struct {
	deps  BuilderDeps
	subTx SubTxID

	amount uint64
	fee    uint64

	minHeight uint64

	// Own secrets.
	excess *mw.Scalar // kernel excess secret
	nonce  *mw.Scalar // kernel signing nonce
	offset *mw.Scalar // per-party blinding offset

	// Peer public material.
	peerPubExcess *mw.Point
	peerPubNonce  *mw.Point
	peerSignature *mw.Scalar
	peerOffset    *mw.Scalar

	kernel     *mw.Kernel
	partialSig *mw.Scalar
	finalized  bool

	inputs  []*mw.Input
	outputs []*mw.Output
}

func newBaseBuilder(deps BuilderDeps, subTx SubTxID, amount, fee uint64) baseBuilder {
	return baseBuilder{deps: deps, subTx: subTx, amount: amount, fee: fee}
}

// nonceContext is the derivation context for this builder's deterministic
// secrets: re-deriving after a restart reproduces the same values.
func (b *baseBuilder) nonceContext() []byte {
	ctx := make([]byte, 0, 17)
	ctx = append(ctx, b.deps.TxID[:]...)
	ctx = append(ctx, byte(b.subTx))
	return ctx
}

// offsetBase is the random-looking per-party offset component rho; the
// shared blinding share is folded in on top of it by the concrete builders.
func (b *baseBuilder) offsetBase() *mw.Scalar {
	return b.deps.Kdf.DeriveNonce("offset", b.nonceContext())
}

// loadMinHeight reads the kernel MinHeight: the sub-transaction's own value
// if set, the swap default otherwise.
func (b *baseBuilder) loadMinHeight() {
	if h, ok := getUint64(b.deps.Params, b.subTx, ParamMinHeight); ok {
		b.minHeight = h
		return
	}
	b.minHeight, _ = getUint64(b.deps.Params, SubTxDefault, ParamMinHeight)
}

// createKernel initializes the kernel skeleton and this party's signing
// secrets. Idempotent.
func (b *baseBuilder) createKernel(lockImage *[32]byte, kernelMinHeight uint64) {
	if b.kernel != nil {
		return
	}
	b.kernel = &mw.Kernel{
		Fee:       b.fee,
		MinHeight: kernelMinHeight,
		MaxHeight: kernelMinHeight + maxKernelLifetime,
		LockImage: lockImage,
	}
	b.nonce = b.deps.Kdf.DeriveNonce("kernel-nonce", b.nonceContext())
}

const maxKernelLifetime = 1440

// GetPeerPublicExcessAndNonce loads the peer's public excess and nonce.
// Returns false while either is missing.
func (b *baseBuilder) GetPeerPublicExcessAndNonce() bool {
	if b.peerPubExcess != nil && b.peerPubNonce != nil {
		return true
	}
	eb, ok := b.deps.Params.Get(b.subTx, ParamPeerPublicExcess)
	if !ok {
		return false
	}
	nb, ok := b.deps.Params.Get(b.subTx, ParamPeerPublicNonce)
	if !ok {
		return false
	}
	excess, err := mw.PointFromBytes(eb)
	if err != nil {
		return false
	}
	nonce, err := mw.PointFromBytes(nb)
	if err != nil {
		return false
	}
	b.peerPubExcess = excess
	b.peerPubNonce = nonce
	return true
}

// GetPeerSignature loads the peer's partial signature. Returns false while
// absent.
func (b *baseBuilder) GetPeerSignature() bool {
	if b.peerSignature != nil {
		return true
	}
	sb, ok := b.deps.Params.Get(b.subTx, ParamPeerSignature)
	if !ok {
		return false
	}
	sig, err := mw.ScalarFromBytes(sb)
	if err != nil {
		return false
	}
	b.peerSignature = sig
	return true
}

// loadPeerOffset reads the peer's offset share.
func (b *baseBuilder) loadPeerOffset() error {
	if b.peerOffset != nil {
		return nil
	}
	ob, ok := b.deps.Params.Get(b.subTx, ParamPeerOffset)
	if !ok {
		return errIncompletePeerData
	}
	off, err := mw.ScalarFromBytes(ob)
	if err != nil {
		return fmt.Errorf("peer offset: %w", err)
	}
	b.peerOffset = off
	return nil
}

// Totals over both parties.

func (b *baseBuilder) totalNonce() *mw.Point {
	return mw.ScalarBaseMult(b.nonce).Add(b.peerPubNonce)
}

func (b *baseBuilder) totalExcess() *mw.Point {
	return mw.ScalarBaseMult(b.excess).Add(b.peerPubExcess)
}

// SignPartial produces this party's signature share. Requires the peer's
// public excess and nonce.
func (b *baseBuilder) SignPartial() {
	if b.partialSig != nil {
		return
	}
	msg := b.kernel.Message()
	b.partialSig = mw.PartialSign(msg, b.nonce, b.excess, b.totalNonce(), b.totalExcess())
}

// IsPeerSignatureValid verifies the peer's partial signature against the
// peer's own public nonce and excess.
func (b *baseBuilder) IsPeerSignatureValid() bool {
	if b.peerSignature == nil {
		return false
	}
	msg := b.kernel.Message()
	return mw.VerifyPartial(b.peerSignature, b.peerPubNonce, b.peerPubExcess,
		b.totalNonce(), b.totalExcess(), msg)
}

// FinalizeSignature combines both shares into the kernel and persists the
// kernel id under the owning sub-transaction.
func (b *baseBuilder) FinalizeSignature() {
	if b.finalized {
		return
	}
	b.kernel.Excess = b.totalExcess()
	b.kernel.NoncePub = b.totalNonce()
	b.kernel.Signature = b.partialSig.Add(b.peerSignature)
	b.finalized = true

	id := b.kernel.ID()
	b.deps.Params.Put(b.subTx, ParamKernelID, id[:], true)
}

// createTransaction assembles the final transaction from the builder state.
func (b *baseBuilder) createTransaction() (*mw.Transaction, error) {
	if !b.finalized {
		return nil, errors.New("kernel signature not finalized")
	}
	if err := b.loadPeerOffset(); err != nil {
		return nil, err
	}
	return &mw.Transaction{
		Inputs:  b.inputs,
		Outputs: b.outputs,
		Kernel:  b.kernel,
		Offset:  b.offset.Add(b.peerOffset),
	}, nil
}

// Getters used when composing peer messages.

func (b *baseBuilder) Fee() uint64       { return b.fee }
func (b *baseBuilder) Amount() uint64    { return b.amount }
func (b *baseBuilder) MinHeight() uint64 { return b.minHeight }
func (b *baseBuilder) SubTx() SubTxID    { return b.subTx }

func (b *baseBuilder) PublicExcess() []byte {
	return mw.ScalarBaseMult(b.excess).Bytes()
}

func (b *baseBuilder) PublicNonce() []byte {
	return mw.ScalarBaseMult(b.nonce).Bytes()
}

func (b *baseBuilder) PartialSignature() []byte {
	return b.partialSig.Bytes()
}

func (b *baseBuilder) OffsetBytes() []byte {
	return b.offset.Bytes()
}

// Coin id list serialization for the Inputs/Outputs parameters.

func encodeCoinIDs(ids []mw.CoinID) []byte {
	out := make([]byte, 0, len(ids)*20)
	for _, id := range ids {
		out = append(out, id.Bytes()...)
	}
	return out
}

func decodeCoinIDs(b []byte) ([]mw.CoinID, error) {
	if len(b)%20 != 0 {
		return nil, errors.New("malformed coin id list")
	}
	ids := make([]mw.CoinID, 0, len(b)/20)
	for i := 0; i < len(b); i += 20 {
		id, err := mw.ParseCoinID(b[i : i+20])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// coinBlind derives the blinding factor of a wallet coin.
func (b *baseBuilder) coinBlind(id mw.CoinID) *mw.Scalar {
	return b.deps.Kdf.Child(id.SubIdx).DeriveBlinding(id)
}

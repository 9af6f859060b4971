// Package swap implements the cross-chain atomic swap engine: the top-level
// swap state machine, the interactive builders for the Beam-side shared
// output and its spending kernels, the BTC-side HTLC contract, and the
// parameter store that makes every step resumable.
package swap

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/DrakenTech/beam/internal/storage"
)

// TxID identifies a swap. 128 bits, rendered as a UUID string.
type TxID = uuid.UUID

// SubTxID keys the logical sub-transactions inside a swap.
type SubTxID uint8

const (
	SubTxDefault SubTxID = 1

	SubTxBeamLock   SubTxID = 2
	SubTxBeamRefund SubTxID = 3
	SubTxBeamRedeem SubTxID = 4

	SubTxLock   SubTxID = 5
	SubTxRefund SubTxID = 6
	SubTxRedeem SubTxID = 7
)

// ParameterID identifies a value in the per-swap parameter store. The
// numeric values are the wire and storage encoding; they never change
// meaning between versions.
type ParameterID uint8

const (
	ParamState                 ParameterID = 0
	ParamIsSender              ParameterID = 1
	ParamIsInitiator           ParameterID = 2
	ParamCreateTime            ParameterID = 3
	ParamAmount                ParameterID = 4
	ParamFee                   ParameterID = 5
	ParamMinHeight             ParameterID = 6
	ParamPreImage              ParameterID = 7
	ParamKernelID              ParameterID = 8
	ParamKernelProofHeight     ParameterID = 9
	ParamTransactionRegistered ParameterID = 10
	ParamInputs                ParameterID = 11
	ParamOutputs               ParameterID = 12
	ParamOffset                ParameterID = 13
	ParamBlindingExcess        ParameterID = 14
	ParamRawTransaction        ParameterID = 15

	ParamSharedBlindingFactor ParameterID = 20
	ParamSharedSeed           ParameterID = 21
	ParamSharedCoinID         ParameterID = 22
	ParamSharedBulletProof    ParameterID = 23

	ParamPeerPublicExcess               ParameterID = 30
	ParamPeerPublicNonce                ParameterID = 31
	ParamPeerSignature                  ParameterID = 32
	ParamPeerOffset                     ParameterID = 33
	ParamPeerPublicSharedBlindingFactor ParameterID = 34
	ParamPeerSharedBulletProofPart2     ParameterID = 35
	ParamPeerSharedBulletProofPart3     ParameterID = 36
	ParamPeerSharedBulletProofMSig      ParameterID = 37
	ParamPeerLockImage                  ParameterID = 38
	ParamPeerProtoVersion               ParameterID = 39

	ParamAtomicSwapAmount              ParameterID = 50
	ParamAtomicSwapCoin                ParameterID = 51
	ParamAtomicSwapAddress             ParameterID = 52
	ParamAtomicSwapPeerAddress         ParameterID = 53
	ParamAtomicSwapExternalTxID        ParameterID = 54
	ParamAtomicSwapExternalTxOutputIdx ParameterID = 55

	ParamFailureReason ParameterID = 60
)

// knownParameters is the set accepted from a peer. Unknown ids in an
// inbound bundle are ignored, and so are local-only ids like State: a peer
// can never advance this side's state machine directly.
var knownParameters = map[ParameterID]bool{
	ParamIsSender:   true,
	ParamCreateTime: true, ParamAmount: true, ParamFee: true,
	ParamMinHeight: true, ParamPeerPublicExcess: true,
	ParamPeerPublicNonce: true, ParamPeerSignature: true,
	ParamPeerOffset: true, ParamPeerPublicSharedBlindingFactor: true,
	ParamPeerSharedBulletProofPart2: true, ParamPeerSharedBulletProofPart3: true,
	ParamPeerSharedBulletProofMSig: true, ParamPeerLockImage: true,
	ParamPeerProtoVersion: true, ParamAtomicSwapAmount: true,
	ParamAtomicSwapCoin: true, ParamAtomicSwapAddress: true,
	ParamAtomicSwapPeerAddress: true, ParamAtomicSwapExternalTxID: true,
	ParamAtomicSwapExternalTxOutputIdx: true,
}

// ParamIO is the narrow capability the builders get for parameter access.
type ParamIO interface {
	Get(sub SubTxID, id ParameterID) ([]byte, bool)
	// Put stores a value; with persist the write is durable before Put
	// returns, otherwise it is deferred until the end of the current tick.
	// Reports whether the stored value changed.
	Put(sub SubTxID, id ParameterID, value []byte, persist bool) bool
}

type paramKey struct {
	sub SubTxID
	id  ParameterID
}

// ParamStore is the per-swap typed facade over the wallet DB parameter
// table. Deferred (persist=false) writes are kept in an overlay that the
// engine flushes after every tick.
type ParamStore struct {
	txID    TxID
	store   *storage.Storage
	pending map[paramKey][]byte
}

// NewParamStore binds a parameter store to a swap.
func NewParamStore(txID TxID, store *storage.Storage) *ParamStore {
	return &ParamStore{
		txID:    txID,
		store:   store,
		pending: make(map[paramKey][]byte),
	}
}

// Get reads a parameter, preferring a deferred write over the durable row.
func (p *ParamStore) Get(sub SubTxID, id ParameterID) ([]byte, bool) {
	if v, ok := p.pending[paramKey{sub, id}]; ok {
		return v, true
	}
	v, ok, err := p.store.GetParam(p.txID.String(), int(sub), int(id))
	if err != nil {
		return nil, false
	}
	return v, ok
}

// Put stores a parameter. Writing an identical value is a no-op and reports
// no change.
func (p *ParamStore) Put(sub SubTxID, id ParameterID, value []byte, persist bool) bool {
	if cur, ok := p.Get(sub, id); ok && bytesEqual(cur, value) {
		return false
	}
	if !persist {
		p.pending[paramKey{sub, id}] = append([]byte(nil), value...)
		return true
	}
	// Durable writes flush the deferred overlay first, so storage never
	// holds a later write without its predecessors.
	delete(p.pending, paramKey{sub, id})
	if err := p.Flush(); err != nil {
		return false
	}
	changed, err := p.store.PutParam(p.txID.String(), int(sub), int(id), value)
	if err != nil {
		return false
	}
	return changed
}

// Flush makes all deferred writes durable.
func (p *ParamStore) Flush() error {
	for k, v := range p.pending {
		if _, err := p.store.PutParam(p.txID.String(), int(k.sub), int(k.id), v); err != nil {
			return err
		}
		delete(p.pending, k)
	}
	return nil
}

// Remove deletes every parameter of the swap.
func (p *ParamStore) Remove() error {
	p.pending = make(map[paramKey][]byte)
	return p.store.DeleteParams(p.txID.String())
}

// Typed encoding helpers. The canonical encodings: uint64 big-endian,
// bool one byte, strings UTF-8 bytes, curve values via internal/mw.

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func decodeBool(b []byte) (bool, bool) {
	if len(b) != 1 {
		return false, false
	}
	return b[0] == 1, true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Typed accessors used across the FSM and builders.

func getUint64(p ParamIO, sub SubTxID, id ParameterID) (uint64, bool) {
	b, ok := p.Get(sub, id)
	if !ok {
		return 0, false
	}
	return decodeUint64(b)
}

func getBool(p ParamIO, sub SubTxID, id ParameterID) (bool, bool) {
	b, ok := p.Get(sub, id)
	if !ok {
		return false, false
	}
	return decodeBool(b)
}

func getString(p ParamIO, sub SubTxID, id ParameterID) (string, bool) {
	b, ok := p.Get(sub, id)
	if !ok {
		return "", false
	}
	return string(b), true
}

func getHash32(p ParamIO, sub SubTxID, id ParameterID) ([32]byte, bool) {
	var h [32]byte
	b, ok := p.Get(sub, id)
	if !ok || len(b) != 32 {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

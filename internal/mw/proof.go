package mw

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Two-party proof of ownership for a shared Pedersen commitment
// C = (r_a + r_b)*G + v*H.
//
// The proof attests joint knowledge of the commitment opening without either
// party learning the other's blinding share. It is built in three rounds
// mirroring the shared-UTXO construction: each side contributes a nonce point
// share (Part2), the producer folds in the value nonce and publishes the
// challenge (MultiSig), then each side contributes its response share (Part3)
// and the producer finalizes. The range argument for the committed value is
// supplied by the chain's proof system and is outside this module.

var (
	ErrProofPhase      = errors.New("invalid proof co-signing phase")
	ErrMalformedProof  = errors.New("malformed shared proof")
	ErrMissingMultiSig = errors.New("missing proof multisig challenge")
)

// ProofPhase selects a co-signing round for SharedProof.CoSign.
type ProofPhase uint8

const (
	ProofPhaseStep2 ProofPhase = iota
	ProofPhaseFinalize
)

// ProofPart2 is the aggregated nonce point. Each party adds its own share.
type ProofPart2 struct {
	T *Point
}

// ProofPart3 is the aggregated blinding response. Each party adds its own
// share.
type ProofPart3 struct {
	Z *Scalar
}

// ProofMultiSig carries the producer's aggregated nonce and the challenge the
// non-producer needs to compute its Part3 share.
type ProofMultiSig struct {
	NoncePub  *Point
	Challenge *Scalar
}

// CreatorParams bind the proof to the coin being created.
type CreatorParams struct {
	Commitment *Point
	CoinID     CoinID
}

// SharedProof is the completed ownership proof for a commitment.
type SharedProof struct {
	Part2 ProofPart2
	Part3 ProofPart3
	ZV    *Scalar // value response, supplied by the producer at finalize
}

// proofNonce derives a deterministic nonce scalar from the shared seed.
// Re-running a round after a restart reproduces the same share.
func proofNonce(seed [32]byte, tag string) *Scalar {
	mac := hmac.New(sha256.New, seed[:])
	mac.Write([]byte(tag))
	var d [32]byte
	mac.Sum(d[:0])
	return scalarReduce(d)
}

// GenerateSeed derives the proof seed from the blinding share and the amount.
func GenerateSeed(blind *Scalar, amount uint64) [32]byte {
	o := NewOracle()
	o.WriteBytes([]byte("proof-seed"))
	o.WriteScalar(blind)
	o.WriteUint64(amount)
	return o.Digest()
}

// proofChallenge binds the commitment and the aggregated nonce.
func proofChallenge(commitment, noncePub *Point) *Scalar {
	o := NewOracle()
	o.WriteUint64(0) // coin maturity height
	o.WritePoint(commitment)
	o.WritePoint(noncePub)
	return o.Challenge()
}

// CoSignPart adds this party's nonce share to part2. Used by the
// non-producer in round two.
func CoSignPart(seed [32]byte, part2 *ProofPart2) {
	share := ScalarBaseMult(proofNonce(seed, "nonce"))
	if part2.T == nil {
		part2.T = NewPoint()
	}
	part2.T = part2.T.Add(share)
}

// CoSignPart adds this party's response share to part3 using the producer's
// challenge. Used by the non-producer in round three.
func (m *ProofMultiSig) CoSignPart(seed [32]byte, blind *Scalar, part3 *ProofPart3) error {
	if m.Challenge == nil {
		return ErrMissingMultiSig
	}
	share := proofNonce(seed, "nonce").Add(m.Challenge.Mul(blind))
	if part3.Z == nil {
		part3.Z = NewScalar()
	}
	part3.Z = part3.Z.Add(share)
	return nil
}

// CoSign drives the producer's side of the proof.
//
// At ProofPhaseStep2, p.Part2 must hold the peer's nonce share; the producer
// adds its own share plus the value nonce and emits the challenge through
// msig. At ProofPhaseFinalize, p.Part3 must hold the peer's response share;
// the producer adds its own and attaches the value response.
func (p *SharedProof) CoSign(seed [32]byte, blind *Scalar, cp *CreatorParams, phase ProofPhase, msig *ProofMultiSig) error {
	switch phase {
	case ProofPhaseStep2:
		if msig == nil {
			return ErrMissingMultiSig
		}
		own := ScalarBaseMult(proofNonce(seed, "nonce"))
		valueNonce := proofNonce(seed, "value-nonce")
		if p.Part2.T == nil {
			p.Part2.T = NewPoint()
		}
		p.Part2.T = p.Part2.T.Add(own).Add(ScalarMult(valueNonce, GeneratorH()))
		msig.NoncePub = p.Part2.T.Clone()
		msig.Challenge = proofChallenge(cp.Commitment, p.Part2.T)
		return nil

	case ProofPhaseFinalize:
		e := proofChallenge(cp.Commitment, p.Part2.T)
		own := proofNonce(seed, "nonce").Add(e.Mul(blind))
		if p.Part3.Z == nil {
			p.Part3.Z = NewScalar()
		}
		p.Part3.Z = p.Part3.Z.Add(own)
		p.ZV = proofNonce(seed, "value-nonce").Add(e.Mul(scalarFromUint64(cp.CoinID.Value)))
		return nil

	default:
		return ErrProofPhase
	}
}

// SignSolo produces a single-party proof for an output fully owned by one
// party (change and withdraw outputs).
func SignSolo(blind *Scalar, id CoinID, commitment *Point) *SharedProof {
	seed := GenerateSeed(blind, id.Value)
	p := &SharedProof{}
	valueNonce := proofNonce(seed, "value-nonce")
	p.Part2.T = ScalarBaseMult(proofNonce(seed, "nonce")).Add(ScalarMult(valueNonce, GeneratorH()))
	e := proofChallenge(commitment, p.Part2.T)
	p.Part3.Z = proofNonce(seed, "nonce").Add(e.Mul(blind))
	p.ZV = valueNonce.Add(e.Mul(scalarFromUint64(id.Value)))
	return p
}

// IsValid verifies the proof against its commitment:
// Z*G + ZV*H == T + e*C.
func (p *SharedProof) IsValid(commitment *Point) bool {
	if p.Part2.T == nil || p.Part3.Z == nil || p.ZV == nil || commitment == nil {
		return false
	}
	e := proofChallenge(commitment, p.Part2.T)
	lhs := ScalarBaseMult(p.Part3.Z).Add(ScalarMult(p.ZV, GeneratorH()))
	rhs := p.Part2.T.Add(ScalarMult(e, commitment))
	return lhs.Equal(rhs)
}

// Serialization.

// Bytes encodes a proof. A proof persisted mid-construction carries zero
// placeholders for the parts not yet folded in.
func (p *SharedProof) Bytes() []byte {
	b := make([]byte, 0, PointSize+2*ScalarSize)
	b = append(b, p.Part2.Bytes()...)
	b = append(b, p.Part3.Bytes()...)
	zv := p.ZV
	if zv == nil {
		zv = NewScalar()
	}
	b = append(b, zv.Bytes()...)
	return b
}

// ParseSharedProof decodes a completed proof.
func ParseSharedProof(b []byte) (*SharedProof, error) {
	if len(b) != PointSize+2*ScalarSize {
		return nil, ErrMalformedProof
	}
	t, err := PointFromBytes(b[:PointSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	z, err := ScalarFromBytes(b[PointSize : PointSize+ScalarSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	zv, err := ScalarFromBytes(b[PointSize+ScalarSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	return &SharedProof{Part2: ProofPart2{T: t}, Part3: ProofPart3{Z: z}, ZV: zv}, nil
}

// Bytes encodes a Part2 share.
func (p *ProofPart2) Bytes() []byte {
	if p.T == nil {
		return NewPoint().Bytes()
	}
	return p.T.Bytes()
}

// ParseProofPart2 decodes a Part2 share.
func ParseProofPart2(b []byte) (*ProofPart2, error) {
	t, err := PointFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	return &ProofPart2{T: t}, nil
}

// Bytes encodes a Part3 share.
func (p *ProofPart3) Bytes() []byte {
	if p.Z == nil {
		return NewScalar().Bytes()
	}
	return p.Z.Bytes()
}

// ParseProofPart3 decodes a Part3 share.
func ParseProofPart3(b []byte) (*ProofPart3, error) {
	z, err := ScalarFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	return &ProofPart3{Z: z}, nil
}

// Bytes encodes the multisig challenge bundle.
func (m *ProofMultiSig) Bytes() []byte {
	b := make([]byte, 0, PointSize+ScalarSize)
	b = append(b, m.NoncePub.Bytes()...)
	b = append(b, m.Challenge.Bytes()...)
	return b
}

// ParseProofMultiSig decodes a multisig challenge bundle.
func ParseProofMultiSig(b []byte) (*ProofMultiSig, error) {
	if len(b) != PointSize+ScalarSize {
		return nil, ErrMalformedProof
	}
	n, err := PointFromBytes(b[:PointSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	c, err := ScalarFromBytes(b[PointSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	return &ProofMultiSig{NoncePub: n, Challenge: c}, nil
}

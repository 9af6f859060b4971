// Package mw implements the Mimblewimble-side cryptography for atomic swaps:
// Pedersen commitments, interactive Schnorr kernels, the two-party shared
// output proof, and the blinding-factor KDF hierarchy.
package mw

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/DrakenTech/beam/pkg/helpers"
)

// ScalarSize is the serialized size of a scalar in bytes.
const ScalarSize = 32

// PointSize is the serialized size of a compressed point in bytes.
const PointSize = 33

var (
	ErrInvalidPoint  = errors.New("invalid curve point")
	ErrInvalidScalar = errors.New("invalid scalar")
)

// Scalar is an element of the secp256k1 group order field.
type Scalar struct {
	n secp256k1.ModNScalar
}

// NewScalar returns a zero scalar.
func NewScalar() *Scalar {
	return &Scalar{}
}

// RandomScalar returns a uniformly random non-zero scalar.
func RandomScalar() (*Scalar, error) {
	for {
		b, err := helpers.GenerateSecureRandom(ScalarSize)
		if err != nil {
			return nil, err
		}
		s := &Scalar{}
		if overflow := s.n.SetByteSlice(b); overflow {
			continue
		}
		if !s.n.IsZero() {
			return s, nil
		}
	}
}

// ScalarFromBytes parses a 32-byte big-endian scalar.
func ScalarFromBytes(b []byte) (*Scalar, error) {
	if len(b) != ScalarSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidScalar, len(b))
	}
	s := &Scalar{}
	if overflow := s.n.SetByteSlice(b); overflow {
		return nil, ErrInvalidScalar
	}
	return s, nil
}

// scalarReduce interprets a 32-byte digest as a scalar, reducing mod n.
func scalarReduce(digest [32]byte) *Scalar {
	s := &Scalar{}
	s.n.SetByteSlice(digest[:])
	return s
}

// Bytes returns the 32-byte big-endian serialization.
func (s *Scalar) Bytes() []byte {
	var b [ScalarSize]byte
	s.n.PutBytes(&b)
	return b[:]
}

// Clone returns a copy of the scalar.
func (s *Scalar) Clone() *Scalar {
	c := &Scalar{}
	c.n.Set(&s.n)
	return c
}

// Add returns s + t.
func (s *Scalar) Add(t *Scalar) *Scalar {
	r := s.Clone()
	r.n.Add(&t.n)
	return r
}

// Sub returns s - t.
func (s *Scalar) Sub(t *Scalar) *Scalar {
	neg := t.Clone()
	neg.n.Negate()
	return s.Add(neg)
}

// Mul returns s * t.
func (s *Scalar) Mul(t *Scalar) *Scalar {
	r := s.Clone()
	r.n.Mul(&t.n)
	return r
}

// Negate returns -s.
func (s *Scalar) Negate() *Scalar {
	r := s.Clone()
	r.n.Negate()
	return r
}

// IsZero reports whether the scalar is zero.
func (s *Scalar) IsZero() bool {
	return s.n.IsZero()
}

// Equal reports whether two scalars are equal.
func (s *Scalar) Equal(t *Scalar) bool {
	return s.n.Equals(&t.n)
}

// Point is a point on secp256k1, including the identity.
type Point struct {
	p secp256k1.JacobianPoint
}

// NewPoint returns the identity point.
func NewPoint() *Point {
	return &Point{}
}

// IsIdentity reports whether the point is the group identity.
func (p *Point) IsIdentity() bool {
	z := p.p.Z
	return z.Normalize().IsZero()
}

// Clone returns a copy of the point.
func (p *Point) Clone() *Point {
	c := &Point{}
	c.p.Set(&p.p)
	return c
}

// Add returns p + q.
func (p *Point) Add(q *Point) *Point {
	r := &Point{}
	secp256k1.AddNonConst(&p.p, &q.p, &r.p)
	return r
}

// Sub returns p - q.
func (p *Point) Sub(q *Point) *Point {
	return p.Add(q.Negate())
}

// Negate returns -p.
func (p *Point) Negate() *Point {
	r := p.Clone()
	if !r.IsIdentity() {
		r.p.Y.Normalize()
		r.p.Y.Negate(1).Normalize()
	}
	return r
}

// Equal reports whether two points are equal.
func (p *Point) Equal(q *Point) bool {
	return helpers.BytesEqual(p.Bytes(), q.Bytes())
}

// Bytes returns the 33-byte compressed serialization. The identity point
// serializes as 33 zero bytes.
func (p *Point) Bytes() []byte {
	b := make([]byte, PointSize)
	if p.IsIdentity() {
		return b
	}
	aff := p.Clone()
	aff.p.ToAffine()
	if aff.p.Y.IsOdd() {
		b[0] = 0x03
	} else {
		b[0] = 0x02
	}
	aff.p.X.PutBytesUnchecked(b[1:])
	return b
}

// PointFromBytes parses a 33-byte compressed point. 33 zero bytes parse as
// the identity.
func PointFromBytes(b []byte) (*Point, error) {
	if len(b) != PointSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPoint, len(b))
	}
	if helpers.IsZeroBytes(b) {
		return NewPoint(), nil
	}
	if b[0] != 0x02 && b[0] != 0x03 {
		return nil, ErrInvalidPoint
	}
	var x, y secp256k1.FieldVal
	if overflow := x.SetByteSlice(b[1:]); overflow {
		return nil, ErrInvalidPoint
	}
	if !secp256k1.DecompressY(&x, b[0] == 0x03, &y) {
		return nil, ErrInvalidPoint
	}
	p := &Point{}
	var z secp256k1.FieldVal
	z.SetInt(1)
	p.p.X.Set(&x)
	p.p.Y.Set(&y)
	p.p.Z.Set(&z)
	return p, nil
}

// ScalarBaseMult returns k*G.
func ScalarBaseMult(k *Scalar) *Point {
	r := &Point{}
	secp256k1.ScalarBaseMultNonConst(&k.n, &r.p)
	return r
}

// ScalarMult returns k*P.
func ScalarMult(k *Scalar, p *Point) *Point {
	r := &Point{}
	secp256k1.ScalarMultNonConst(&k.n, &p.p, &r.p)
	return r
}

// generatorH is the value generator: a second curve point with unknown
// discrete log relative to G, derived by hashing a domain tag to an
// x-coordinate.
var generatorH = deriveH()

func deriveH() *Point {
	seed := sha256.Sum256([]byte("beamswap/value-generator/H/v1"))
	for {
		var x, y secp256k1.FieldVal
		if overflow := x.SetByteSlice(seed[:]); !overflow {
			if secp256k1.DecompressY(&x, false, &y) {
				p := &Point{}
				var z secp256k1.FieldVal
				z.SetInt(1)
				p.p.X.Set(&x)
				p.p.Y.Set(&y)
				p.p.Z.Set(&z)
				return p
			}
		}
		seed = sha256.Sum256(seed[:])
	}
}

// GeneratorH returns the value generator H.
func GeneratorH() *Point {
	return generatorH.Clone()
}

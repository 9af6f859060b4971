package mw

import (
	"crypto/sha256"
	"encoding/binary"
)

// Oracle is a Fiat-Shamir transcript: every value a challenge must bind is
// written into it in a fixed order, then the challenge is drawn.
type Oracle struct {
	h [32]byte
}

// NewOracle returns an empty transcript.
func NewOracle() *Oracle {
	return &Oracle{h: sha256.Sum256([]byte("beamswap/oracle/v1"))}
}

func (o *Oracle) absorb(tag byte, data []byte) {
	h := sha256.New()
	h.Write(o.h[:])
	h.Write([]byte{tag})
	h.Write(data)
	h.Sum(o.h[:0])
}

// WriteBytes absorbs raw bytes.
func (o *Oracle) WriteBytes(b []byte) *Oracle {
	o.absorb(0x01, b)
	return o
}

// WriteUint64 absorbs a 64-bit integer.
func (o *Oracle) WriteUint64(v uint64) *Oracle {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	o.absorb(0x02, b[:])
	return o
}

// WritePoint absorbs a curve point.
func (o *Oracle) WritePoint(p *Point) *Oracle {
	o.absorb(0x03, p.Bytes())
	return o
}

// WriteScalar absorbs a scalar.
func (o *Oracle) WriteScalar(s *Scalar) *Oracle {
	o.absorb(0x04, s.Bytes())
	return o
}

// Digest returns the current transcript digest without consuming it.
func (o *Oracle) Digest() [32]byte {
	return o.h
}

// Challenge draws a scalar challenge and advances the transcript.
func (o *Oracle) Challenge() *Scalar {
	d := o.h
	o.absorb(0x05, nil)
	return scalarReduce(d)
}

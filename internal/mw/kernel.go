package mw

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrMalformedKernel = errors.New("malformed kernel")

// Kernel is the signature+excess component of a transaction. A kernel with a
// LockImage is a hash-locked kernel: it only becomes valid once the preimage
// is attached, and publishing it discloses the preimage on chain.
type Kernel struct {
	Fee       uint64
	MinHeight uint64
	MaxHeight uint64

	Excess    *Point
	NoncePub  *Point
	Signature *Scalar

	LockImage *[32]byte
	Preimage  *[32]byte
}

// Message returns the digest the kernel signature commits to.
func (k *Kernel) Message() [32]byte {
	o := NewOracle()
	o.WriteUint64(k.Fee)
	o.WriteUint64(k.MinHeight)
	o.WriteUint64(k.MaxHeight)
	if k.LockImage != nil {
		o.WriteBytes(k.LockImage[:])
	}
	return o.Digest()
}

// ID returns the kernel identifier, binding the message and the excess.
func (k *Kernel) ID() [32]byte {
	o := NewOracle()
	msg := k.Message()
	o.WriteBytes(msg[:])
	o.WritePoint(k.Excess)
	return o.Digest()
}

// Verify checks the combined signature and, for hash-locked kernels, that the
// attached preimage matches the lock image.
func (k *Kernel) Verify() error {
	if k.Excess == nil || k.NoncePub == nil || k.Signature == nil {
		return ErrMalformedKernel
	}
	if !VerifyCombined(k.Signature, k.NoncePub, k.Excess, k.Message()) {
		return errors.New("kernel signature invalid")
	}
	if k.LockImage != nil {
		if k.Preimage == nil {
			return errors.New("hash-locked kernel missing preimage")
		}
		image := sha256.Sum256(k.Preimage[:])
		if !bytes.Equal(image[:], k.LockImage[:]) {
			return errors.New("kernel preimage does not match lock image")
		}
	}
	return nil
}

const (
	kernelFlagLockImage = 1 << 0
	kernelFlagPreimage  = 1 << 1
)

// Serialize encodes the kernel for broadcast and storage.
func (k *Kernel) Serialize() []byte {
	var buf bytes.Buffer
	var flags byte
	if k.LockImage != nil {
		flags |= kernelFlagLockImage
	}
	if k.Preimage != nil {
		flags |= kernelFlagPreimage
	}
	buf.WriteByte(flags)

	var u [8]byte
	for _, v := range []uint64{k.Fee, k.MinHeight, k.MaxHeight} {
		binary.BigEndian.PutUint64(u[:], v)
		buf.Write(u[:])
	}
	buf.Write(k.Excess.Bytes())
	buf.Write(k.NoncePub.Bytes())
	buf.Write(k.Signature.Bytes())
	if k.LockImage != nil {
		buf.Write(k.LockImage[:])
	}
	if k.Preimage != nil {
		buf.Write(k.Preimage[:])
	}
	return buf.Bytes()
}

// ParseKernel decodes a kernel serialized by Serialize.
func ParseKernel(b []byte) (*Kernel, error) {
	if len(b) < 1+3*8+2*PointSize+ScalarSize {
		return nil, ErrMalformedKernel
	}
	flags := b[0]
	b = b[1:]

	k := &Kernel{}
	k.Fee = binary.BigEndian.Uint64(b[0:8])
	k.MinHeight = binary.BigEndian.Uint64(b[8:16])
	k.MaxHeight = binary.BigEndian.Uint64(b[16:24])
	b = b[24:]

	var err error
	if k.Excess, err = PointFromBytes(b[:PointSize]); err != nil {
		return nil, fmt.Errorf("%w: excess: %v", ErrMalformedKernel, err)
	}
	b = b[PointSize:]
	if k.NoncePub, err = PointFromBytes(b[:PointSize]); err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformedKernel, err)
	}
	b = b[PointSize:]
	if k.Signature, err = ScalarFromBytes(b[:ScalarSize]); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedKernel, err)
	}
	b = b[ScalarSize:]

	if flags&kernelFlagLockImage != 0 {
		if len(b) < 32 {
			return nil, ErrMalformedKernel
		}
		var img [32]byte
		copy(img[:], b[:32])
		k.LockImage = &img
		b = b[32:]
	}
	if flags&kernelFlagPreimage != 0 {
		if len(b) < 32 {
			return nil, ErrMalformedKernel
		}
		var pre [32]byte
		copy(pre[:], b[:32])
		k.Preimage = &pre
		b = b[32:]
	}
	if len(b) != 0 {
		return nil, ErrMalformedKernel
	}
	return k, nil
}

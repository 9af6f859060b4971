package mw

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrMalformedTx = errors.New("malformed transaction")

// Input spends an existing output by its commitment.
type Input struct {
	Commitment *Point
}

// Output creates a new confidential output.
type Output struct {
	Commitment *Point
	Proof      *SharedProof
}

// Transaction is a Mimblewimble transaction: inputs, outputs, a single
// kernel, and the blinding offset.
//
// Validity: sum(outputs) + fee*H - sum(inputs) == excess - offset*G.
// Per-party offsets are summed before assembly; building a lock transaction
// decreases the local offset by the shared blinding share, spending the
// shared output increases it, which is what keeps the shared blinding out of
// the kernel excess.
type Transaction struct {
	Inputs  []*Input
	Outputs []*Output
	Kernel  *Kernel
	Offset  *Scalar
}

// IsValid checks the balance equation, the kernel signature, and every
// output proof.
func (t *Transaction) IsValid() error {
	if t.Kernel == nil || t.Offset == nil {
		return ErrMalformedTx
	}
	if err := t.Kernel.Verify(); err != nil {
		return fmt.Errorf("kernel: %w", err)
	}

	sum := CommitValue(t.Kernel.Fee)
	for _, out := range t.Outputs {
		if out.Commitment == nil {
			return ErrMalformedTx
		}
		if out.Proof == nil || !out.Proof.IsValid(out.Commitment) {
			return errors.New("output proof invalid")
		}
		sum = sum.Add(out.Commitment)
	}
	for _, in := range t.Inputs {
		if in.Commitment == nil {
			return ErrMalformedTx
		}
		sum = sum.Sub(in.Commitment)
	}

	rhs := t.Kernel.Excess.Sub(ScalarBaseMult(t.Offset))
	if !sum.Equal(rhs) {
		return errors.New("transaction does not balance")
	}
	return nil
}

// Serialize encodes the transaction for broadcast.
func (t *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	var n [4]byte

	binary.BigEndian.PutUint32(n[:], uint32(len(t.Inputs)))
	buf.Write(n[:])
	for _, in := range t.Inputs {
		buf.Write(in.Commitment.Bytes())
	}

	binary.BigEndian.PutUint32(n[:], uint32(len(t.Outputs)))
	buf.Write(n[:])
	for _, out := range t.Outputs {
		buf.Write(out.Commitment.Bytes())
		buf.Write(out.Proof.Bytes())
	}

	kernel := t.Kernel.Serialize()
	binary.BigEndian.PutUint32(n[:], uint32(len(kernel)))
	buf.Write(n[:])
	buf.Write(kernel)
	buf.Write(t.Offset.Bytes())
	return buf.Bytes()
}

// ParseTransaction decodes a transaction serialized by Serialize.
func ParseTransaction(b []byte) (*Transaction, error) {
	t := &Transaction{}

	readU32 := func() (uint32, error) {
		if len(b) < 4 {
			return 0, ErrMalformedTx
		}
		v := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		return v, nil
	}

	nIn, err := readU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nIn; i++ {
		if len(b) < PointSize {
			return nil, ErrMalformedTx
		}
		c, err := PointFromBytes(b[:PointSize])
		if err != nil {
			return nil, fmt.Errorf("%w: input: %v", ErrMalformedTx, err)
		}
		b = b[PointSize:]
		t.Inputs = append(t.Inputs, &Input{Commitment: c})
	}

	nOut, err := readU32()
	if err != nil {
		return nil, err
	}
	proofLen := PointSize + 2*ScalarSize
	for i := uint32(0); i < nOut; i++ {
		if len(b) < PointSize+proofLen {
			return nil, ErrMalformedTx
		}
		c, err := PointFromBytes(b[:PointSize])
		if err != nil {
			return nil, fmt.Errorf("%w: output: %v", ErrMalformedTx, err)
		}
		b = b[PointSize:]
		p, err := ParseSharedProof(b[:proofLen])
		if err != nil {
			return nil, err
		}
		b = b[proofLen:]
		t.Outputs = append(t.Outputs, &Output{Commitment: c, Proof: p})
	}

	kLen, err := readU32()
	if err != nil {
		return nil, err
	}
	if uint32(len(b)) < kLen+ScalarSize {
		return nil, ErrMalformedTx
	}
	if t.Kernel, err = ParseKernel(b[:kLen]); err != nil {
		return nil, err
	}
	b = b[kLen:]
	if t.Offset, err = ScalarFromBytes(b[:ScalarSize]); err != nil {
		return nil, fmt.Errorf("%w: offset: %v", ErrMalformedTx, err)
	}
	return t, nil
}

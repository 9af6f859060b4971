package mw

import "encoding/binary"

// scalarFromUint64 lifts a 64-bit value into the scalar field.
func scalarFromUint64(v uint64) *Scalar {
	var b [32]byte
	binary.BigEndian.PutUint64(b[24:], v)
	s := &Scalar{}
	s.n.SetBytes(&b)
	return s
}

// Commit returns the Pedersen commitment blind*G + value*H.
func Commit(blind *Scalar, value uint64) *Point {
	c := ScalarBaseMult(blind)
	if value != 0 {
		c = c.Add(CommitValue(value))
	}
	return c
}

// CommitValue returns value*H.
func CommitValue(value uint64) *Point {
	return ScalarMult(scalarFromUint64(value), GeneratorH())
}

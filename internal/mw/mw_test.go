package mw

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestPointSerializationRoundtrip(t *testing.T) {
	k, err := RandomScalar()
	if err != nil {
		t.Fatal(err)
	}
	p := ScalarBaseMult(k)

	parsed, err := PointFromBytes(p.Bytes())
	if err != nil {
		t.Fatalf("PointFromBytes() error = %v", err)
	}
	if !parsed.Equal(p) {
		t.Error("roundtripped point differs")
	}

	identity, err := PointFromBytes(make([]byte, PointSize))
	if err != nil {
		t.Fatalf("identity parse error = %v", err)
	}
	if !identity.IsIdentity() {
		t.Error("zero bytes should parse as identity")
	}
}

func TestScalarArithmetic(t *testing.T) {
	a, _ := RandomScalar()
	b, _ := RandomScalar()

	if !a.Add(b).Sub(b).Equal(a) {
		t.Error("a + b - b != a")
	}
	if !a.Add(a.Negate()).IsZero() {
		t.Error("a + (-a) != 0")
	}

	// Point arithmetic must mirror scalar arithmetic.
	sum := ScalarBaseMult(a).Add(ScalarBaseMult(b))
	if !sum.Equal(ScalarBaseMult(a.Add(b))) {
		t.Error("a*G + b*G != (a+b)*G")
	}
}

func TestSharedCommitmentIdentity(t *testing.T) {
	// C == R_self + R_peer + amount*H for a jointly blinded output.
	rA, _ := RandomScalar()
	rB, _ := RandomScalar()
	const amount = uint64(10_000_000)

	joint := Commit(rA.Add(rB), amount)
	sum := ScalarBaseMult(rA).Add(ScalarBaseMult(rB)).Add(CommitValue(amount))
	if !joint.Equal(sum) {
		t.Error("joint commitment does not equal the sum of shares")
	}
}

func TestPartialSchnorrCombination(t *testing.T) {
	xA, _ := RandomScalar()
	xB, _ := RandomScalar()
	kA, _ := RandomScalar()
	kB, _ := RandomScalar()

	msg := sha256.Sum256([]byte("kernel message"))

	totalNonce := ScalarBaseMult(kA).Add(ScalarBaseMult(kB))
	totalExcess := ScalarBaseMult(xA).Add(ScalarBaseMult(xB))

	sA := PartialSign(msg, kA, xA, totalNonce, totalExcess)
	sB := PartialSign(msg, kB, xB, totalNonce, totalExcess)

	if !VerifyPartial(sA, ScalarBaseMult(kA), ScalarBaseMult(xA), totalNonce, totalExcess, msg) {
		t.Error("valid partial A rejected")
	}
	if !VerifyPartial(sB, ScalarBaseMult(kB), ScalarBaseMult(xB), totalNonce, totalExcess, msg) {
		t.Error("valid partial B rejected")
	}
	if !VerifyCombined(sA.Add(sB), totalNonce, totalExcess, msg) {
		t.Error("combined signature does not verify")
	}

	// A tampered share must fail both partial and combined verification.
	one, _ := ScalarFromBytes(append(make([]byte, 31), 1))
	bad := sA.Add(one)
	if VerifyPartial(bad, ScalarBaseMult(kA), ScalarBaseMult(xA), totalNonce, totalExcess, msg) {
		t.Error("tampered partial accepted")
	}
	if VerifyCombined(bad.Add(sB), totalNonce, totalExcess, msg) {
		t.Error("combined signature with tampered share accepted")
	}
}

func TestPartialRejectsWrongMessage(t *testing.T) {
	x, _ := RandomScalar()
	k, _ := RandomScalar()
	msg := sha256.Sum256([]byte("m1"))
	other := sha256.Sum256([]byte("m2"))

	n := ScalarBaseMult(k)
	e := ScalarBaseMult(x)
	s := PartialSign(msg, k, x, n, e)
	if VerifyPartial(s, n, e, n, e, other) {
		t.Error("signature verified against a different message")
	}
}

func TestKernelSerializationRoundtrip(t *testing.T) {
	x, _ := RandomScalar()
	k, _ := RandomScalar()

	pre := sha256.Sum256([]byte("secret"))
	img := sha256.Sum256(pre[:])

	kernel := &Kernel{
		Fee:       100,
		MinHeight: 5000,
		MaxHeight: 6440,
		LockImage: &img,
	}
	msg := kernel.Message()
	kernel.Excess = ScalarBaseMult(x)
	kernel.NoncePub = ScalarBaseMult(k)
	kernel.Signature = PartialSign(msg, k, x, kernel.NoncePub, kernel.Excess)
	kernel.Preimage = &pre

	if err := kernel.Verify(); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	parsed, err := ParseKernel(kernel.Serialize())
	if err != nil {
		t.Fatalf("ParseKernel() error = %v", err)
	}
	if err := parsed.Verify(); err != nil {
		t.Errorf("parsed kernel Verify() error = %v", err)
	}
	if parsed.ID() != kernel.ID() {
		t.Error("kernel id changed across serialization")
	}
	if !bytes.Equal(parsed.Preimage[:], pre[:]) {
		t.Error("preimage not preserved")
	}
}

func TestHashLockedKernelRequiresPreimage(t *testing.T) {
	x, _ := RandomScalar()
	k, _ := RandomScalar()

	img := sha256.Sum256([]byte("image"))
	kernel := &Kernel{Fee: 1, MinHeight: 1, MaxHeight: 100, LockImage: &img}
	msg := kernel.Message()
	kernel.Excess = ScalarBaseMult(x)
	kernel.NoncePub = ScalarBaseMult(k)
	kernel.Signature = PartialSign(msg, k, x, kernel.NoncePub, kernel.Excess)

	if err := kernel.Verify(); err == nil {
		t.Error("hash-locked kernel verified without preimage")
	}

	wrong := sha256.Sum256([]byte("wrong"))
	kernel.Preimage = &wrong
	if err := kernel.Verify(); err == nil {
		t.Error("kernel verified with mismatched preimage")
	}
}

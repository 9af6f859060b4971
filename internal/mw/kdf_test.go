package mw

import "testing"

func TestKdfDeterminism(t *testing.T) {
	seed := []byte("0123456789abcdef0123456789abcdef")
	a := NewKdf(seed)
	b := NewKdf(seed)

	id := CoinID{Idx: 12, SubIdx: 2, Value: 1_000_000}
	if !a.DeriveBlinding(id).Equal(b.DeriveBlinding(id)) {
		t.Error("same seed and coin id derived different blindings")
	}
	if !a.Child(2).DeriveBlinding(id).Equal(b.Child(2).DeriveBlinding(id)) {
		t.Error("child derivation is not deterministic")
	}
}

func TestKdfSeparation(t *testing.T) {
	k := NewKdf([]byte("another-seed-for-separation-test"))

	a := k.DeriveBlinding(CoinID{Idx: 1, SubIdx: 0, Value: 5})
	b := k.DeriveBlinding(CoinID{Idx: 2, SubIdx: 0, Value: 5})
	if a.Equal(b) {
		t.Error("distinct coin ids derived the same blinding")
	}

	c := k.Child(1).DeriveBlinding(CoinID{Idx: 1, SubIdx: 0, Value: 5})
	if a.Equal(c) {
		t.Error("child KDF derived the parent's blinding")
	}

	n1 := k.DeriveNonce("kernel-nonce", []byte("ctx1"))
	n2 := k.DeriveNonce("kernel-nonce", []byte("ctx2"))
	if n1.Equal(n2) {
		t.Error("distinct contexts derived the same nonce")
	}
}

func TestMnemonicKdf(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatal(err)
	}
	a, err := KdfFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("KdfFromMnemonic() error = %v", err)
	}
	b, _ := KdfFromMnemonic(mnemonic, "")
	id := CoinID{Idx: 1, SubIdx: 0, Value: 1}
	if !a.DeriveBlinding(id).Equal(b.DeriveBlinding(id)) {
		t.Error("mnemonic derivation is not deterministic")
	}

	if _, err := KdfFromMnemonic("not a valid mnemonic", ""); err == nil {
		t.Error("invalid mnemonic accepted")
	}
}

func TestCoinIDRoundtrip(t *testing.T) {
	id := CoinID{Idx: 77, SubIdx: 3, Value: 123456789}
	parsed, err := ParseCoinID(id.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Errorf("ParseCoinID() = %+v, want %+v", parsed, id)
	}
}

package mw

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

// CoinID identifies a wallet coin: a derivation index, the child-KDF
// subindex, and the coin's value.
type CoinID struct {
	Idx    uint64
	SubIdx uint32
	Value  uint64
}

// Bytes returns the canonical encoding of the coin id.
func (id CoinID) Bytes() []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint64(b[0:8], id.Idx)
	binary.BigEndian.PutUint32(b[8:12], id.SubIdx)
	binary.BigEndian.PutUint64(b[12:20], id.Value)
	return b
}

// ParseCoinID decodes a coin id encoded by Bytes.
func ParseCoinID(b []byte) (CoinID, error) {
	if len(b) != 20 {
		return CoinID{}, errors.New("malformed coin id")
	}
	return CoinID{
		Idx:    binary.BigEndian.Uint64(b[0:8]),
		SubIdx: binary.BigEndian.Uint32(b[8:12]),
		Value:  binary.BigEndian.Uint64(b[12:20]),
	}, nil
}

// Kdf is a node in the key-derivation hierarchy. The master Kdf is rooted in
// the wallet seed; child Kdfs are derived per subindex so that shared-coin
// keys live in their own branch.
type Kdf struct {
	secret [32]byte
}

// NewKdf builds a KDF root from raw seed material.
func NewKdf(seed []byte) *Kdf {
	r := hkdf.New(sha256.New, seed, []byte("beamswap/kdf/v1"), nil)
	k := &Kdf{}
	if _, err := io.ReadFull(r, k.secret[:]); err != nil {
		panic(err) // hkdf never fails on a 32-byte read
	}
	return k
}

// KdfFromMnemonic builds the master KDF from a BIP39 mnemonic.
func KdfFromMnemonic(mnemonic, passphrase string) (*Kdf, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return NewKdf(seed), nil
}

// GenerateMnemonic creates a fresh 24-word wallet mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// Child derives the child KDF for a subindex.
func (k *Kdf) Child(subIdx uint32) *Kdf {
	info := make([]byte, 10)
	copy(info, "child:")
	binary.BigEndian.PutUint32(info[6:], subIdx)
	r := hkdf.New(sha256.New, k.secret[:], nil, info)
	c := &Kdf{}
	if _, err := io.ReadFull(r, c.secret[:]); err != nil {
		panic(err)
	}
	return c
}

// DeriveBlinding derives the blinding factor for a coin. Derivation is
// deterministic: the same coin id always yields the same scalar.
func (k *Kdf) DeriveBlinding(id CoinID) *Scalar {
	counter := uint32(0)
	for {
		info := append([]byte("blind:"), id.Bytes()...)
		var c [4]byte
		binary.BigEndian.PutUint32(c[:], counter)
		info = append(info, c[:]...)

		r := hkdf.New(sha256.New, k.secret[:], nil, info)
		var out [32]byte
		if _, err := io.ReadFull(r, out[:]); err != nil {
			panic(err)
		}
		s, err := ScalarFromBytes(out[:])
		if err == nil && !s.IsZero() {
			return s
		}
		counter++
		if counter > 128 {
			panic(fmt.Sprintf("blinding derivation failed for coin %v", id))
		}
	}
}

// DeriveNonce derives a deterministic signing nonce bound to a context tag.
// Restart-safe: re-deriving for the same context returns the same nonce, so a
// resumed negotiation never signs the same message with a fresh nonce.
func (k *Kdf) DeriveNonce(tag string, context []byte) *Scalar {
	info := append([]byte("nonce:"+tag+":"), context...)
	r := hkdf.New(sha256.New, k.secret[:], nil, info)
	var out [32]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		panic(err)
	}
	return scalarReduce(out)
}

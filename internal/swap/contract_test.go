package swap

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var testNet = &chaincfg.TestNet3Params

func newTestAddress(t *testing.T) (string, *btcutil.WIF) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	wif, err := btcutil.NewWIF(priv, testNet, true)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(priv.PubKey().SerializeCompressed()), testNet)
	if err != nil {
		t.Fatal(err)
	}
	return addr.EncodeAddress(), wif
}

func TestBuildHTLCContract(t *testing.T) {
	refundAddr, _ := newTestAddress(t)
	redeemAddr, _ := newTestAddress(t)

	secret := bytes.Repeat([]byte{7}, 32)
	secretHash := sha256.Sum256(secret)
	const t0 = int64(1_700_000_000)
	locktime := t0 + BTCLockTimeSec

	contract, err := BuildHTLCContract(refundAddr, redeemAddr, locktime, secretHash[:], testNet)
	if err != nil {
		t.Fatalf("BuildHTLCContract() error = %v", err)
	}

	// Locktime monotonicity: L is strictly after creation.
	if locktime <= t0 {
		t.Fatal("locktime not after creation time")
	}

	// Verify the exact opcode sequence.
	wantOps := []byte{
		txscript.OP_IF,
		txscript.OP_SIZE, txscript.OP_DATA_1, txscript.OP_EQUALVERIFY,
		txscript.OP_SHA256, txscript.OP_DATA_32, txscript.OP_EQUALVERIFY,
		txscript.OP_DUP, txscript.OP_HASH160, txscript.OP_DATA_20,
		txscript.OP_ELSE,
		txscript.OP_DATA_4, txscript.OP_CHECKLOCKTIMEVERIFY, txscript.OP_DROP,
		txscript.OP_DUP, txscript.OP_HASH160, txscript.OP_DATA_20,
		txscript.OP_ENDIF,
		txscript.OP_EQUALVERIFY, txscript.OP_CHECKSIG,
	}
	tokenizer := txscript.MakeScriptTokenizer(0, contract)
	var ops []byte
	var pushes [][]byte
	for tokenizer.Next() {
		ops = append(ops, tokenizer.Opcode())
		if tokenizer.Data() != nil {
			pushes = append(pushes, tokenizer.Data())
		}
	}
	if err := tokenizer.Err(); err != nil {
		t.Fatalf("tokenizer error = %v", err)
	}
	if !bytes.Equal(ops, wantOps) {
		t.Errorf("opcode sequence = %x, want %x", ops, wantOps)
	}

	// Pushes: secret size, secret hash, redeem pkh, locktime, refund pkh.
	if len(pushes) != 5 {
		t.Fatalf("push count = %d, want 5", len(pushes))
	}
	if pushes[0][0] != SecretSize {
		t.Errorf("secret size push = %d, want %d", pushes[0][0], SecretSize)
	}
	if !bytes.Equal(pushes[1], secretHash[:]) {
		t.Error("secret hash push mismatch")
	}
}

func TestBuildHTLCContractRejectsBadInputs(t *testing.T) {
	refundAddr, _ := newTestAddress(t)
	redeemAddr, _ := newTestAddress(t)
	hash := make([]byte, 32)

	if _, err := BuildHTLCContract(refundAddr, redeemAddr, 1, hash[:16], testNet); err == nil {
		t.Error("short secret hash accepted")
	}
	if _, err := BuildHTLCContract(refundAddr, redeemAddr, 0, hash, testNet); err == nil {
		t.Error("zero locktime accepted")
	}
	if _, err := BuildHTLCContract("not-an-address", redeemAddr, 1, hash, testNet); err == nil {
		t.Error("malformed refund address accepted")
	}
}

func TestInputScripts(t *testing.T) {
	sig := bytes.Repeat([]byte{1}, 71)
	pub := bytes.Repeat([]byte{2}, 33)
	secret := bytes.Repeat([]byte{3}, 32)

	redeem, err := RedeemInputScript(sig, pub, secret)
	if err != nil {
		t.Fatal(err)
	}
	// Last opcode selects the hash branch.
	if redeem[len(redeem)-1] != txscript.OP_1 {
		t.Error("redeem input script does not end with OP_1")
	}

	refund, err := RefundInputScript(sig, pub)
	if err != nil {
		t.Fatal(err)
	}
	if refund[len(refund)-1] != txscript.OP_0 {
		t.Error("refund input script does not end with OP_0")
	}

	if _, err := RedeemInputScript(sig, pub, secret[:8]); err == nil {
		t.Error("short secret accepted")
	}
}

func TestSignWithdrawTx(t *testing.T) {
	refundAddr, refundWIF := newTestAddress(t)
	redeemAddr, _ := newTestAddress(t)

	secret := bytes.Repeat([]byte{9}, 32)
	secretHash := sha256.Sum256(secret)
	contract, err := BuildHTLCContract(refundAddr, redeemAddr, 1_700_172_800, secretHash[:], testNet)
	if err != nil {
		t.Fatal(err)
	}

	// An unsigned withdraw spending the contract outpoint.
	prev, _ := chainhash.NewHashFromStr(
		"aa00000000000000000000000000000000000000000000000000000000000001")
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prev, 1), nil, nil))
	tx.TxIn[0].Sequence = wire.MaxTxInSequenceNum - 1
	tx.AddTxOut(wire.NewTxOut(99_000_000, make([]byte, 25)))
	tx.LockTime = 1_700_172_800
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	rawHex := hex.EncodeToString(buf.Bytes())

	// Refund branch: no secret.
	signedHex, err := SignWithdrawTx(rawHex, contract, refundWIF.String(), nil)
	if err != nil {
		t.Fatalf("SignWithdrawTx() error = %v", err)
	}
	raw, _ := hex.DecodeString(signedHex)
	signed := wire.NewMsgTx(wire.TxVersion)
	if err := signed.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatal(err)
	}
	script := signed.TxIn[0].SignatureScript
	if len(script) == 0 {
		t.Fatal("signature script not attached")
	}
	if script[len(script)-1] != txscript.OP_0 {
		t.Error("refund spend does not select the timeout branch")
	}

	// Redeem branch carries the secret.
	signedHex, err = SignWithdrawTx(rawHex, contract, refundWIF.String(), secret)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ = hex.DecodeString(signedHex)
	signed = wire.NewMsgTx(wire.TxVersion)
	if err := signed.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatal(err)
	}
	script = signed.TxIn[0].SignatureScript
	if script[len(script)-1] != txscript.OP_1 {
		t.Error("redeem spend does not select the hash branch")
	}
	if !bytes.Contains(script, secret) {
		t.Error("redeem spend does not carry the secret")
	}
}

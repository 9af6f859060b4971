// Package swap - HTLC contract building for the BTC side of the swap.
package swap

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// BuildHTLCContract builds the atomic-swap redeem script.
//
// Script structure:
//
//	OP_IF
//	    OP_SIZE <32> OP_EQUALVERIFY
//	    OP_SHA256 <secret_hash> OP_EQUALVERIFY
//	    OP_DUP OP_HASH160 <hash160(redeem_addr)>
//	OP_ELSE
//	    <locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    OP_DUP OP_HASH160 <hash160(refund_addr)>
//	OP_ENDIF
//	OP_EQUALVERIFY OP_CHECKSIG
//
// The size check pins the secret to a known length so the redeeming party
// cannot be defrauded between chains with different data size limits.
// locktime is an absolute Unix timestamp; refundAddr is the HTLC funder's
// address, redeemAddr the counterparty's.
func BuildHTLCContract(refundAddr, redeemAddr string, locktime int64, secretHash []byte, net *chaincfg.Params) ([]byte, error) {
	if len(secretHash) != 32 {
		return nil, fmt.Errorf("secret hash must be 32 bytes, got %d", len(secretHash))
	}
	if locktime <= 0 {
		return nil, fmt.Errorf("locktime must be positive")
	}

	refundHash, err := addressPubKeyHash(refundAddr, net)
	if err != nil {
		return nil, fmt.Errorf("refund address: %w", err)
	}
	redeemHash, err := addressPubKeyHash(redeemAddr, net)
	if err != nil {
		return nil, fmt.Errorf("redeem address: %w", err)
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(SecretSize)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(secretHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(redeemHash)

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(locktime)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(refundHash)

	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// RedeemInputScript builds the input script spending the HTLC through the
// hash branch: <sig> <pubkey> <secret> 1.
func RedeemInputScript(sig, pubkey, secret []byte) ([]byte, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	builder := txscript.NewScriptBuilder()
	builder.AddData(sig)
	builder.AddData(pubkey)
	builder.AddData(secret)
	builder.AddInt64(1)
	return builder.Script()
}

// RefundInputScript builds the input script spending the HTLC through the
// timeout branch: <sig> <pubkey> 0.
func RefundInputScript(sig, pubkey []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(sig)
	builder.AddData(pubkey)
	builder.AddInt64(0)
	return builder.Script()
}

// BuildLockTxTemplate builds the unfunded HTLC lock transaction: a single
// output paying amount satoshis to the contract script. Inputs and change
// are attached by fundrawtransaction.
func BuildLockTxTemplate(amount uint64, contract []byte) (string, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(int64(amount), contract))
	return serializeTx(tx)
}

// SignWithdrawTx signs input 0 of a withdraw (redeem or refund) transaction
// against the contract script with the WIF-encoded key and attaches the
// matching input script. A non-nil secret selects the hash branch.
func SignWithdrawTx(rawTxHex string, contract []byte, wifStr string, secret []byte) (string, error) {
	tx, err := deserializeTx(rawTxHex)
	if err != nil {
		return "", err
	}
	if len(tx.TxIn) == 0 {
		return "", fmt.Errorf("withdraw transaction has no inputs")
	}

	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return "", fmt.Errorf("invalid WIF: %w", err)
	}

	sig, err := txscript.RawTxInSignature(tx, 0, contract, txscript.SigHashAll, wif.PrivKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign input: %w", err)
	}
	pubkey := wif.PrivKey.PubKey().SerializeCompressed()

	var inputScript []byte
	if secret != nil {
		inputScript, err = RedeemInputScript(sig, pubkey, secret)
	} else {
		inputScript, err = RefundInputScript(sig, pubkey)
	}
	if err != nil {
		return "", err
	}

	tx.TxIn[0].SignatureScript = inputScript
	return serializeTx(tx)
}

// PubKeyFromWIF returns the compressed public key of a WIF-encoded key.
func PubKeyFromWIF(wifStr string) (*btcec.PublicKey, error) {
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("invalid WIF: %w", err)
	}
	return wif.PrivKey.PubKey(), nil
}

func addressPubKeyHash(addr string, net *chaincfg.Params) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, net)
	if err != nil {
		return nil, err
	}
	pkh, ok := decoded.(*btcutil.AddressPubKeyHash)
	if !ok {
		return nil, fmt.Errorf("address %s is not P2PKH", addr)
	}
	return pkh.Hash160()[:], nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func deserializeTx(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return tx, nil
}

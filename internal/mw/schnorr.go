package mw

// Interactive two-party Schnorr signing over kernel messages.
//
// Each party holds an excess secret x_i and a nonce secret k_i, publishing
// X_i = x_i*G and N_i = k_i*G. The challenge binds the combined nonce,
// combined excess and the kernel message; partial signatures s_i = k_i - e*x_i
// sum to the final signature.

// SignatureChallenge computes e = H(N || X || msg) for the combined nonce N
// and combined excess X.
func SignatureChallenge(totalNonce, totalExcess *Point, msg [32]byte) *Scalar {
	o := NewOracle()
	o.WritePoint(totalNonce)
	o.WritePoint(totalExcess)
	o.WriteBytes(msg[:])
	return o.Challenge()
}

// PartialSign produces this party's signature share s_i = k_i - e*x_i.
func PartialSign(msg [32]byte, nonce, excess *Scalar, totalNonce, totalExcess *Point) *Scalar {
	e := SignatureChallenge(totalNonce, totalExcess, msg)
	return nonce.Sub(e.Mul(excess))
}

// VerifyPartial checks a counterparty share against its public nonce and
// excess: s_i*G + e*X_i == N_i.
func VerifyPartial(share *Scalar, noncePub, excessPub, totalNonce, totalExcess *Point, msg [32]byte) bool {
	if share == nil || noncePub == nil || excessPub == nil {
		return false
	}
	e := SignatureChallenge(totalNonce, totalExcess, msg)
	lhs := ScalarBaseMult(share).Add(ScalarMult(e, excessPub))
	return lhs.Equal(noncePub)
}

// VerifyCombined checks the summed signature against the combined nonce and
// excess: s*G + e*X == N.
func VerifyCombined(sig *Scalar, totalNonce, totalExcess *Point, msg [32]byte) bool {
	if sig == nil || totalNonce == nil || totalExcess == nil {
		return false
	}
	e := SignatureChallenge(totalNonce, totalExcess, msg)
	lhs := ScalarBaseMult(sig).Add(ScalarMult(e, totalExcess))
	return lhs.Equal(totalNonce)
}

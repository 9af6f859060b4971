package mw

import "testing"

// runSharedProof drives the full three-round construction between a
// producer and a non-producer, returning the finalized proof and the joint
// commitment.
func runSharedProof(t *testing.T, amount uint64) (*SharedProof, *Point) {
	t.Helper()

	rProducer, _ := RandomScalar()
	rPeer, _ := RandomScalar()

	commitment := Commit(rProducer.Add(rPeer), amount)

	seedProducer := GenerateSeed(rProducer, amount)
	seedPeer := GenerateSeed(rPeer, amount)

	cp := &CreatorParams{
		Commitment: commitment,
		CoinID:     CoinID{Idx: 7, SubIdx: 2, Value: amount},
	}

	// Round two: the non-producer sends its nonce share, the producer folds
	// it in and emits the challenge.
	var peerPart2 ProofPart2
	CoSignPart(seedPeer, &peerPart2)

	proof := &SharedProof{Part2: peerPart2}
	var msig ProofMultiSig
	if err := proof.CoSign(seedProducer, rProducer, cp, ProofPhaseStep2, &msig); err != nil {
		t.Fatalf("producer step2 error = %v", err)
	}

	// Round three: the non-producer answers the challenge, the producer
	// finalizes.
	var peerPart3 ProofPart3
	if err := msig.CoSignPart(seedPeer, rPeer, &peerPart3); err != nil {
		t.Fatalf("peer part3 error = %v", err)
	}
	proof.Part3 = peerPart3
	if err := proof.CoSign(seedProducer, rProducer, cp, ProofPhaseFinalize, nil); err != nil {
		t.Fatalf("producer finalize error = %v", err)
	}
	return proof, commitment
}

func TestSharedProofThreeRounds(t *testing.T) {
	proof, commitment := runSharedProof(t, 10_000_000)

	if !proof.IsValid(commitment) {
		t.Error("finalized shared proof does not verify")
	}

	// Serialization roundtrip preserves validity.
	parsed, err := ParseSharedProof(proof.Bytes())
	if err != nil {
		t.Fatalf("ParseSharedProof() error = %v", err)
	}
	if !parsed.IsValid(commitment) {
		t.Error("parsed proof does not verify")
	}
}

func TestSharedProofRejectsWrongCommitment(t *testing.T) {
	proof, _ := runSharedProof(t, 10_000_000)

	other, _ := RandomScalar()
	wrong := Commit(other, 10_000_000)
	if proof.IsValid(wrong) {
		t.Error("proof verified against a different commitment")
	}
}

func TestSharedProofRejectsTamperedResponse(t *testing.T) {
	proof, commitment := runSharedProof(t, 42)

	one, _ := ScalarFromBytes(append(make([]byte, 31), 1))
	proof.Part3.Z = proof.Part3.Z.Add(one)
	if proof.IsValid(commitment) {
		t.Error("tampered proof verified")
	}
}

func TestSoloProof(t *testing.T) {
	blind, _ := RandomScalar()
	id := CoinID{Idx: 3, SubIdx: 0, Value: 990}
	commitment := Commit(blind, id.Value)

	proof := SignSolo(blind, id, commitment)
	if !proof.IsValid(commitment) {
		t.Error("solo proof does not verify")
	}
}

func TestProofSharesAreDeterministic(t *testing.T) {
	// A restarted party must reproduce the same share for the same seed.
	blind, _ := RandomScalar()
	seed := GenerateSeed(blind, 5)

	var a, b ProofPart2
	CoSignPart(seed, &a)
	CoSignPart(seed, &b)
	if !a.T.Equal(b.T) {
		t.Error("part2 share differs across derivations")
	}
}

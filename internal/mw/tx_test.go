package mw

import "testing"

// TestInteractiveTransactionBalance builds a two-party lock-style
// transaction with the offset convention used by the swap builders and
// checks that it balances and verifies.
func TestInteractiveTransactionBalance(t *testing.T) {
	const (
		inputValue = uint64(12_000)
		amount     = uint64(10_000)
		fee        = uint64(100)
	)
	change := inputValue - amount - fee

	// Party A spends an input, creates the change output, and contributes
	// its blinding share to the shared output.
	rIn, _ := RandomScalar()
	rChange, _ := RandomScalar()
	rSharedA, _ := RandomScalar()
	rhoA, _ := RandomScalar()

	// Party B only contributes its blinding share.
	rSharedB, _ := RandomScalar()
	rhoB, _ := RandomScalar()

	// Per-party excess secrets exclude the shared blinding; the offsets,
	// decreased by each share, carry it instead.
	xA := rChange.Sub(rIn).Add(rhoA)
	xB := rhoB
	offsetA := rhoA.Sub(rSharedA)
	offsetB := rhoB.Sub(rSharedB)

	kA, _ := RandomScalar()
	kB, _ := RandomScalar()

	kernel := &Kernel{Fee: fee, MinHeight: 100, MaxHeight: 1540}
	msg := kernel.Message()

	totalNonce := ScalarBaseMult(kA).Add(ScalarBaseMult(kB))
	totalExcess := ScalarBaseMult(xA).Add(ScalarBaseMult(xB))
	sA := PartialSign(msg, kA, xA, totalNonce, totalExcess)
	sB := PartialSign(msg, kB, xB, totalNonce, totalExcess)

	kernel.Excess = totalExcess
	kernel.NoncePub = totalNonce
	kernel.Signature = sA.Add(sB)

	sharedCommitment := ScalarBaseMult(rSharedA).
		Add(ScalarBaseMult(rSharedB)).
		Add(CommitValue(amount))

	// The shared output's proof, built through the three rounds.
	seedA := GenerateSeed(rSharedA, amount)
	seedB := GenerateSeed(rSharedB, amount)
	cp := &CreatorParams{Commitment: sharedCommitment, CoinID: CoinID{Idx: 9, SubIdx: 2, Value: amount}}

	var part2 ProofPart2
	CoSignPart(seedB, &part2)
	sharedProof := &SharedProof{Part2: part2}
	var msig ProofMultiSig
	if err := sharedProof.CoSign(seedA, rSharedA, cp, ProofPhaseStep2, &msig); err != nil {
		t.Fatal(err)
	}
	var part3 ProofPart3
	if err := msig.CoSignPart(seedB, rSharedB, &part3); err != nil {
		t.Fatal(err)
	}
	sharedProof.Part3 = part3
	if err := sharedProof.CoSign(seedA, rSharedA, cp, ProofPhaseFinalize, nil); err != nil {
		t.Fatal(err)
	}

	changeID := CoinID{Idx: 1, SubIdx: 0, Value: change}
	changeCommitment := Commit(rChange, change)

	tx := &Transaction{
		Inputs: []*Input{{Commitment: Commit(rIn, inputValue)}},
		Outputs: []*Output{
			{Commitment: changeCommitment, Proof: SignSolo(rChange, changeID, changeCommitment)},
			{Commitment: sharedCommitment, Proof: sharedProof},
		},
		Kernel: kernel,
		Offset: offsetA.Add(offsetB),
	}

	if err := tx.IsValid(); err != nil {
		t.Fatalf("IsValid() error = %v", err)
	}

	// Serialization roundtrip preserves validity.
	parsed, err := ParseTransaction(tx.Serialize())
	if err != nil {
		t.Fatalf("ParseTransaction() error = %v", err)
	}
	if err := parsed.IsValid(); err != nil {
		t.Errorf("parsed transaction IsValid() error = %v", err)
	}
}

func TestTransactionRejectsUnbalanced(t *testing.T) {
	blind, _ := RandomScalar()
	k, _ := RandomScalar()
	x, _ := RandomScalar()

	kernel := &Kernel{Fee: 0, MinHeight: 1, MaxHeight: 100}
	msg := kernel.Message()
	kernel.Excess = ScalarBaseMult(x)
	kernel.NoncePub = ScalarBaseMult(k)
	kernel.Signature = PartialSign(msg, k, x, kernel.NoncePub, kernel.Excess)

	id := CoinID{Idx: 1, SubIdx: 0, Value: 100}
	c := Commit(blind, id.Value)

	tx := &Transaction{
		Outputs: []*Output{{Commitment: c, Proof: SignSolo(blind, id, c)}},
		Kernel:  kernel,
		Offset:  NewScalar(),
	}
	if err := tx.IsValid(); err == nil {
		t.Error("unbalanced transaction accepted")
	}
}

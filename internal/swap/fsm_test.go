package swap

import (
	"bytes"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/DrakenTech/beam/internal/mw"
	"github.com/DrakenTech/beam/internal/storage"
	"github.com/DrakenTech/beam/pkg/helpers"
)

// fakeChain is a shared in-memory Beam chain: registered kernels become
// confirmable and their bodies retrievable.
type fakeChain struct {
	mu      sync.Mutex
	kernels map[[32]byte]*mw.Kernel
	height  uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{kernels: make(map[[32]byte]*mw.Kernel), height: 120}
}

func (c *fakeChain) register(k *mw.Kernel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kernels[k.ID()] = k
}

func (c *fakeChain) lookup(id [32]byte) (*mw.Kernel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.kernels[id]
	return k, ok
}

func (c *fakeChain) kernelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.kernels)
}

func (c *fakeChain) tip() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

func (c *fakeChain) setTip(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = h
}

// fakeGateway adapts fakeChain to the BeamGateway surface for one engine.
type fakeGateway struct {
	chain  *fakeChain
	engine *Engine
}

func (g *fakeGateway) RegisterTx(txID TxID, sub SubTxID, tx *mw.Transaction) {
	accepted := tx.IsValid() == nil
	if accepted {
		g.chain.register(tx.Kernel)
	}
	g.engine.PutSwapParam(txID, sub, ParamTransactionRegistered, encodeBool(accepted))
	g.engine.TickSwap(txID)
}

func (g *fakeGateway) ConfirmKernel(txID TxID, sub SubTxID, kernelID [32]byte) {
	if _, ok := g.chain.lookup(kernelID); !ok {
		return
	}
	g.engine.PutSwapParam(txID, sub, ParamKernelProofHeight, encodeUint64(g.chain.tip()))
	g.engine.TickSwap(txID)
}

func (g *fakeGateway) GetKernel(txID TxID, sub SubTxID, kernelID [32]byte) {
	k, ok := g.chain.lookup(kernelID)
	if !ok || k.Preimage == nil {
		return
	}
	g.engine.PutSwapParam(txID, sub, ParamPreImage, k.Preimage[:])
	g.engine.TickSwap(txID)
}

func (g *fakeGateway) Tip() uint64 { return g.chain.tip() }

// fakeBTC is a scripted Bitcoin wallet node.
type fakeBTC struct {
	post func(func())

	mu        sync.Mutex
	keys      map[string]*btcutil.WIF
	sent      map[string]string
	signCalls int

	// fire fund callbacks this many times (replayed-callback scenario)
	fundReplies int
}

func newFakeBTC() *fakeBTC {
	return &fakeBTC{
		keys:        make(map[string]*btcutil.WIF),
		sent:        make(map[string]string),
		fundReplies: 1,
	}
}

func (f *fakeBTC) GetRawChangeAddress(cb func(string, error)) {
	f.mu.Lock()
	priv, _ := btcec.NewPrivateKey()
	wif, _ := btcutil.NewWIF(priv, testNet, true)
	addr, _ := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(priv.PubKey().SerializeCompressed()), testNet)
	f.keys[addr.EncodeAddress()] = wif
	f.mu.Unlock()
	f.post(func() { cb(addr.EncodeAddress(), nil) })
}

func (f *fakeBTC) FundRawTransaction(hexTx string, cb func(string, int, float64, error)) {
	raw, err := hex.DecodeString(hexTx)
	if err != nil {
		f.post(func() { cb("", 0, 0, err) })
		return
	}
	tpl := wire.NewMsgTx(wire.TxVersion)
	if err := tpl.DeserializeNoWitness(bytes.NewReader(raw)); err != nil {
		f.post(func() { cb("", 0, 0, err) })
		return
	}

	funded := wire.NewMsgTx(wire.TxVersion)
	var zero chainhash.Hash
	funded.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&zero, 0), nil, nil))
	funded.AddTxOut(wire.NewTxOut(5000, make([]byte, 25))) // change at 0
	funded.AddTxOut(tpl.TxOut[0])                          // contract at 1

	var buf bytes.Buffer
	_ = funded.Serialize(&buf)
	fundedHex := hex.EncodeToString(buf.Bytes())

	for i := 0; i < f.fundReplies; i++ {
		f.post(func() { cb(fundedHex, 0, 0.0001, nil) })
	}
}

func (f *fakeBTC) SignRawTransaction(hexTx string, cb func(string, bool, error)) {
	f.mu.Lock()
	f.signCalls++
	f.mu.Unlock()
	f.post(func() { cb(hexTx, true, nil) })
}

func (f *fakeBTC) CreateRawTransaction(inputs []RawTxInput, outputs map[string]string, locktime int64, cb func(string, error)) {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			f.post(func() { cb("", err) })
			return
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(hash, uint32(in.Vout)), nil, nil)
		txIn.Sequence = in.Sequence
		tx.AddTxIn(txIn)
	}
	for addr, amount := range outputs {
		decoded, err := btcutil.DecodeAddress(addr, testNet)
		if err != nil {
			f.post(func() { cb("", err) })
			return
		}
		script, _ := txscript.PayToAddrScript(decoded)
		sat, err := helpers.BTCToSatoshi(amount)
		if err != nil {
			f.post(func() { cb("", err) })
			return
		}
		tx.AddTxOut(wire.NewTxOut(int64(sat), script))
	}
	if locktime > 0 {
		tx.LockTime = uint32(locktime)
	}
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	rawHex := hex.EncodeToString(buf.Bytes())
	f.post(func() { cb(rawHex, nil) })
}

func (f *fakeBTC) DumpPrivKey(addr string, cb func(string, error)) {
	f.mu.Lock()
	wif, ok := f.keys[addr]
	f.mu.Unlock()
	if !ok {
		f.post(func() { cb("", ErrRpc) })
		return
	}
	f.post(func() { cb(wif.String(), nil) })
}

func (f *fakeBTC) SendRawTransaction(hexTx string, cb func(string, error)) {
	raw, _ := hex.DecodeString(hexTx)
	txid := chainhash.DoubleHashH(raw).String()
	f.mu.Lock()
	f.sent[txid] = hexTx
	f.mu.Unlock()
	f.post(func() { cb(txid, nil) })
}

func (f *fakeBTC) GetTxOut(txid string, vout int, cb func(int64, bool, error)) {
	f.post(func() { cb(6, true, nil) })
}

func (f *fakeBTC) signCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signCalls
}

// loopback wires two engines' peer channels directly together.
type loopback struct {
	fromPeer string
	deliver  func(peerID string, msg SetTxParameter)
	tamper   func(*SetTxParameter)
}

func (l *loopback) Send(msg SetTxParameter) error {
	// Copy so a tamper never mutates the sender's view.
	out := SetTxParameter{TxID: msg.TxID, SubTxID: msg.SubTxID}
	for _, p := range msg.Params {
		out.AddParameter(p.ID, append([]byte(nil), p.Value...))
	}
	if l.tamper != nil {
		l.tamper(&out)
	}
	l.deliver(l.fromPeer, out)
	return nil
}

// testParty bundles one side of the harness.
type testParty struct {
	store  *storage.Storage
	btc    *fakeBTC
	engine *Engine
	chanTo *loopback
}

func newTestParty(t *testing.T, name string, chain *fakeChain, seedCoins uint64) *testParty {
	t.Helper()

	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	if seedCoins > 0 {
		if err := store.SaveCoin(&storage.Coin{Idx: 1, SubIdx: 0, Value: seedCoins, Status: storage.CoinStatusAvailable}); err != nil {
			t.Fatal(err)
		}
	}

	btc := newFakeBTC()
	gw := &fakeGateway{chain: chain}
	ch := &loopback{fromPeer: name}

	engine := NewEngine(EngineConfig{
		Store:        store,
		Kdf:          mw.NewKdf([]byte(name + "-wallet-seed-0123456789abcdef")),
		Gateway:      gw,
		BTC:          btc,
		Channel:      ch,
		Net:          testNet,
		BTCFeeSat:    1000,
		TickInterval: 50 * time.Millisecond,
	})
	gw.engine = engine
	btc.post = func(f func()) { engine.Reactor().Post(f) }

	t.Cleanup(engine.Stop)
	if err := engine.Start(); err != nil {
		t.Fatal(err)
	}
	return &testParty{store: store, btc: btc, engine: engine, chanTo: ch}
}

// connect wires the two parties' loopback channels.
func connect(a, b *testParty) {
	a.chanTo.deliver = b.engine.ApplyPeerMessage
	b.chanTo.deliver = a.engine.ApplyPeerMessage
}

func waitForSummary(t *testing.T, store *storage.Storage, txID TxID, want string) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.GetSwap(txID.String())
		if err == nil && rec.State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := store.GetSwap(txID.String())
	t.Fatalf("swap did not reach %q; last summary: %+v", want, rec)
}

const (
	testAmountBeam = uint64(10_000_000)
	testFeeBeam    = uint64(100)
	testAmountSat  = uint64(100_000_000)
)

func startHappySwap(t *testing.T, a, b *testParty) TxID {
	t.Helper()
	connect(a, b)

	txID, err := a.engine.StartSwap(SwapParams{
		AmountBeam:  testAmountBeam,
		FeeBeam:     testFeeBeam,
		AmountSwap:  testAmountSat,
		SwapCoin:    "BTC",
		IsBeamOwner: true,
		PeerID:      "B",
	})
	if err != nil {
		t.Fatal(err)
	}
	return txID
}

func TestSwapHappyPath(t *testing.T) {
	chain := newFakeChain()
	a := newTestParty(t, "A", chain, testAmountBeam+testFeeBeam+5000)
	b := newTestParty(t, "B", chain, 0)

	txID := startHappySwap(t, a, b)

	waitForSummary(t, a.store, txID, "completed")
	waitForSummary(t, b.store, txID, "completed")

	// The lock and redeem kernels are on chain; the refund kernel was built
	// but never broadcast.
	if n := chain.kernelCount(); n != 2 {
		t.Errorf("chain kernel count = %d, want 2", n)
	}

	// Both sides agree on the secret: B generated it, A recovered it from
	// the redeem kernel.
	preA, okA, _ := a.store.GetParam(txID.String(), int(SubTxBeamRedeem), int(ParamPreImage))
	preB, okB, _ := b.store.GetParam(txID.String(), int(SubTxBeamRedeem), int(ParamPreImage))
	if !okA || !okB || !bytes.Equal(preA, preB) {
		t.Errorf("preimage mismatch: A ok=%v B ok=%v", okA, okB)
	}

	// B signed the HTLC lock exactly once.
	if n := b.btc.signCount(); n != 1 {
		t.Errorf("lock sign calls = %d, want 1", n)
	}

	// Each side broadcast one BTC transaction: B the lock, A the redeem.
	b.btc.mu.Lock()
	bSent := len(b.btc.sent)
	b.btc.mu.Unlock()
	a.btc.mu.Lock()
	aSent := len(a.btc.sent)
	a.btc.mu.Unlock()
	if bSent != 1 || aSent != 1 {
		t.Errorf("broadcast counts: A=%d B=%d, want 1 and 1", aSent, bSent)
	}
}

func TestSwapDuplicateFundCallback(t *testing.T) {
	chain := newFakeChain()
	a := newTestParty(t, "A", chain, testAmountBeam+testFeeBeam+5000)
	b := newTestParty(t, "B", chain, 0)
	b.btc.fundReplies = 2 // replay the fundrawtransaction completion

	txID := startHappySwap(t, a, b)

	waitForSummary(t, a.store, txID, "completed")
	waitForSummary(t, b.store, txID, "completed")

	if n := b.btc.signCount(); n != 1 {
		t.Errorf("lock sign calls with replayed callback = %d, want 1", n)
	}
}

func TestSwapInvalidPeerSignature(t *testing.T) {
	chain := newFakeChain()
	a := newTestParty(t, "A", chain, testAmountBeam+testFeeBeam+5000)
	b := newTestParty(t, "B", chain, 0)
	connect(a, b)

	// B's lock-negotiation signature share is corrupted in flight.
	b.chanTo.tamper = func(msg *SetTxParameter) {
		if msg.SubTxID != SubTxBeamLock {
			return
		}
		for i, p := range msg.Params {
			if p.ID == ParamPeerSignature {
				msg.Params[i].Value[0] ^= 0xff
			}
		}
	}

	txID, err := a.engine.StartSwap(SwapParams{
		AmountBeam:  testAmountBeam,
		FeeBeam:     testFeeBeam,
		AmountSwap:  testAmountSat,
		SwapCoin:    "BTC",
		IsBeamOwner: true,
		PeerID:      "B",
	})
	if err != nil {
		t.Fatal(err)
	}

	waitForSummary(t, a.store, txID, "failed")

	// No on-chain side effects.
	if n := chain.kernelCount(); n != 0 {
		t.Errorf("chain kernel count after failure = %d, want 0", n)
	}

	rec, _ := a.store.GetSwap(txID.String())
	if rec.FailureReason != FailurePeerSignatureInvalid.String() {
		t.Errorf("failure reason = %q, want %q", rec.FailureReason, FailurePeerSignatureInvalid.String())
	}
}

// dropChannel swallows every bundle; used for single-sided tests.
type dropChannel struct{}

func (dropChannel) Send(SetTxParameter) error { return nil }

func TestContractTimeoutCancels(t *testing.T) {
	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	txID := uuid.New()
	if err := store.SaveSwap(&storage.SwapRecord{TxID: txID.String(), State: "in_progress", SwapCoin: "BTC"}); err != nil {
		t.Fatal(err)
	}

	params := NewParamStore(txID, store)
	params.Put(SubTxDefault, ParamState, encodeUint64(uint64(StateHandlingContractTX)), true)
	params.Put(SubTxDefault, ParamIsSender, encodeBool(true), true)
	// More than half the hash-lock window has already passed.
	created := time.Now().Unix() - BTCLockTimeSec/2 - 10
	params.Put(SubTxDefault, ParamCreateTime, encodeUint64(uint64(created)), true)

	s := NewSwap(SwapConfig{
		TxID:    txID,
		Params:  params,
		Kdf:     mw.NewKdf([]byte("timeout-test-seed-0123456789abcd")),
		Gateway: &fakeGateway{chain: newFakeChain()},
		BTC:     newFakeBTC(),
		Channel: dropChannel{},
		Net:     testNet,
	})
	s.Tick()

	if got := s.State(); got != StateCancelled {
		t.Errorf("state after contract timeout = %v, want cancelled", got)
	}
}

func TestBeamLockTimeExpiryEntersRefundPath(t *testing.T) {
	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	chain := newFakeChain()
	chain.setTip(100 + BeamLockTimeInBlocks + 1)

	txID := uuid.New()
	params := NewParamStore(txID, store)
	params.Put(SubTxDefault, ParamState, encodeUint64(uint64(StateSendingBeamRedeemTX)), true)
	params.Put(SubTxDefault, ParamIsSender, encodeBool(true), true)
	params.Put(SubTxDefault, ParamMinHeight, encodeUint64(100), true)
	// The lock is committed: cancellation is no longer possible.
	params.Put(SubTxBeamLock, ParamTransactionRegistered, encodeBool(true), true)

	s := NewSwap(SwapConfig{
		TxID:    txID,
		Params:  params,
		Kdf:     mw.NewKdf([]byte("locktime-test-seed-0123456789abc")),
		Gateway: &fakeGateway{chain: chain},
		BTC:     newFakeBTC(),
		Channel: dropChannel{},
		Net:     testNet,
	})
	s.Tick()

	if got := s.State(); got != StateSendingBeamRefundTX {
		t.Errorf("state after beam locktime expiry = %v, want sending beam refund tx", got)
	}
}

func TestEngineResumesPendingSwaps(t *testing.T) {
	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	chain := newFakeChain()
	btc := newFakeBTC()

	newEngine := func() *Engine {
		gw := &fakeGateway{chain: chain}
		e := NewEngine(EngineConfig{
			Store:        store,
			Kdf:          mw.NewKdf([]byte("resume-test-seed-0123456789abcde")),
			Gateway:      gw,
			BTC:          btc,
			Channel:      dropChannel{},
			Net:          testNet,
			TickInterval: time.Hour,
		})
		gw.engine = e
		btc.post = func(f func()) { e.Reactor().Post(f) }
		return e
	}

	e1 := newEngine()
	if err := e1.Start(); err != nil {
		t.Fatal(err)
	}
	txID, err := e1.StartSwap(SwapParams{
		AmountBeam:  testAmountBeam,
		FeeBeam:     testFeeBeam,
		AmountSwap:  testAmountSat,
		SwapCoin:    "BTC",
		IsBeamOwner: false,
		PeerID:      "peer",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Let the swap make some progress, then simulate a restart.
	time.Sleep(200 * time.Millisecond)
	e1.Stop()

	e2 := newEngine()
	if err := e2.Start(); err != nil {
		t.Fatal(err)
	}
	defer e2.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := e2.GetSwap(txID); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := e2.GetSwap(txID); !ok {
		t.Fatal("restarted engine did not resume the pending swap")
	}

	// The restarted swap picked up where it left off: its durable role and
	// amounts survived.
	v, ok, _ := store.GetParam(txID.String(), int(SubTxDefault), int(ParamAmount))
	if !ok || !bytes.Equal(v, encodeUint64(testAmountBeam)) {
		t.Error("swap amount lost across restart")
	}
}

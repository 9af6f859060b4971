package swap

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/DrakenTech/beam/internal/storage"
)

func newTestParams(t *testing.T) *ParamStore {
	t.Helper()
	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return NewParamStore(uuid.New(), store)
}

func TestParamStoreRoundtrip(t *testing.T) {
	p := newTestParams(t)

	if !p.Put(SubTxBeamLock, ParamFee, encodeUint64(100), true) {
		t.Error("first write reported unchanged")
	}
	v, ok := p.Get(SubTxBeamLock, ParamFee)
	if !ok || !bytes.Equal(v, encodeUint64(100)) {
		t.Errorf("Get() = %x, %v", v, ok)
	}

	// Identical writes never report a change; this is what makes replayed
	// peer bundles and callback duplicates inert.
	if p.Put(SubTxBeamLock, ParamFee, encodeUint64(100), true) {
		t.Error("identical durable write reported a change")
	}
	if p.Put(SubTxBeamLock, ParamFee, encodeUint64(100), false) {
		t.Error("identical deferred write reported a change")
	}
}

func TestParamStoreDeferredWrites(t *testing.T) {
	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	txID := uuid.New()
	p := NewParamStore(txID, store)

	p.Put(SubTxDefault, ParamAmount, encodeUint64(7), false)

	// Visible through the overlay, not yet durable.
	if v, ok := p.Get(SubTxDefault, ParamAmount); !ok || !bytes.Equal(v, encodeUint64(7)) {
		t.Error("deferred write not visible")
	}
	if _, ok, _ := store.GetParam(txID.String(), int(SubTxDefault), int(ParamAmount)); ok {
		t.Error("deferred write reached storage before flush")
	}

	if err := p.Flush(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.GetParam(txID.String(), int(SubTxDefault), int(ParamAmount)); !ok {
		t.Error("flushed write missing from storage")
	}

	// A durable write is in storage before Put returns.
	p.Put(SubTxDefault, ParamFee, encodeUint64(1), true)
	if _, ok, _ := store.GetParam(txID.String(), int(SubTxDefault), int(ParamFee)); !ok {
		t.Error("durable write not in storage")
	}
}

func TestParamStoreSurvivesRebind(t *testing.T) {
	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	txID := uuid.New()

	p := NewParamStore(txID, store)
	p.Put(SubTxBeamRedeem, ParamPreImage, bytes.Repeat([]byte{3}, 32), true)

	// A fresh binding over the same storage sees the value, as a restarted
	// process would.
	p2 := NewParamStore(txID, store)
	v, ok := p2.Get(SubTxBeamRedeem, ParamPreImage)
	if !ok || len(v) != 32 || v[0] != 3 {
		t.Errorf("rebound Get() = %x, %v", v, ok)
	}
}

func TestEncodingHelpers(t *testing.T) {
	if v, ok := decodeUint64(encodeUint64(987654321)); !ok || v != 987654321 {
		t.Error("uint64 roundtrip failed")
	}
	if v, ok := decodeBool(encodeBool(true)); !ok || !v {
		t.Error("bool roundtrip failed")
	}
	if _, ok := decodeUint64([]byte{1, 2}); ok {
		t.Error("short uint64 accepted")
	}
}

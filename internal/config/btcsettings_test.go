package config

import (
	"testing"

	"github.com/DrakenTech/beam/internal/storage"
)

func newProvider(t *testing.T) (*SettingsProvider, *storage.Storage) {
	t.Helper()
	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	p, err := NewSettingsProvider(store)
	if err != nil {
		t.Fatal(err)
	}
	return p, store
}

func TestSettingsBorrowGuardsMutation(t *testing.T) {
	p, _ := newProvider(t)

	if !p.CanModify() {
		t.Fatal("fresh provider not modifiable")
	}

	s := p.Borrow()
	if p.CanModify() {
		t.Error("CanModify() true while borrowed")
	}

	s.Address = "127.0.0.1:8332"
	if err := p.SetSettings(s); err != ErrSettingsBorrowed {
		t.Errorf("SetSettings() while borrowed error = %v, want ErrSettingsBorrowed", err)
	}

	p.Release()
	if !p.CanModify() {
		t.Error("CanModify() false after release")
	}
	if err := p.SetSettings(s); err != nil {
		t.Errorf("SetSettings() error = %v", err)
	}
}

func TestSettingsPersistAndReload(t *testing.T) {
	p, store := newProvider(t)

	s := p.Borrow()
	p.Release()
	s.UserName = "rpcuser"
	s.Pass = "rpcpass"
	s.Address = "127.0.0.1:18332"
	s.FeeRate = 123_456
	s.TxMinConfirmations = 3
	if err := p.SetSettings(s); err != nil {
		t.Fatal(err)
	}

	// A fresh provider over the same store sees the persisted values.
	p2, err := NewSettingsProvider(store)
	if err != nil {
		t.Fatal(err)
	}
	got := p2.Borrow()
	defer p2.Release()

	if got.UserName != "rpcuser" || got.Address != "127.0.0.1:18332" ||
		got.FeeRate != 123_456 || got.TxMinConfirmations != 3 {
		t.Errorf("reloaded settings = %+v", got)
	}

	// The stored keys carry the fixed prefix.
	v, ok, _ := store.GetSetting("BTCSettings_UserName")
	if !ok || v != "rpcuser" {
		t.Errorf("BTCSettings_UserName = %q, ok=%v", v, ok)
	}
}

func TestSettingsRejectsUnknownConnectionType(t *testing.T) {
	p, _ := newProvider(t)

	s := p.Borrow()
	p.Release()
	s.ConnectionType = "carrier-pigeon"
	if err := p.SetSettings(s); err == nil {
		t.Error("unknown connection type accepted")
	}
}

func TestSettingsReset(t *testing.T) {
	p, store := newProvider(t)

	s := p.Borrow()
	p.Release()
	s.Address = "somewhere:8332"
	if err := p.SetSettings(s); err != nil {
		t.Fatal(err)
	}

	if err := p.ResetSettings(); err != nil {
		t.Fatal(err)
	}
	got := p.Borrow()
	p.Release()
	if got.Address != "" || got.FeeRate != DefaultBTCSettings().FeeRate {
		t.Errorf("reset settings = %+v", got)
	}
	_, ok, _ := store.GetSetting("BTCSettings_Address")
	if ok {
		t.Error("persisted setting survived reset")
	}
}

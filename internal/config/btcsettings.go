// Package config - the persisted BTC connection settings provider.
//
// Settings live in the wallet DB settings table under the fixed key prefix
// "BTCSettings". The provider is reference-counted: readers borrow a
// snapshot, and mutation is only allowed while no borrow is outstanding.
// Changes persist only on a successful mutation under an exclusive borrow.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/DrakenTech/beam/internal/storage"
)

// Connection types.
const (
	ConnectionTypeNode     = "node"
	ConnectionTypeElectrum = "electrum"
)

// Settings key prefix and suffixes.
const settingsPrefix = "BTCSettings"

var ErrSettingsBorrowed = errors.New("settings are borrowed and cannot be modified")

// BTCSettings holds the Chain B connection options.
type BTCSettings struct {
	UserName           string
	Pass               string
	Address            string
	ElectrumAddress    string
	SecretWords        string
	AddressVersion     uint32
	FeeRate            uint64
	MinFeeRate         uint64
	TxMinConfirmations uint32
	LockTimeInBlocks   uint32
	ConnectionType     string
}

// DefaultBTCSettings returns the defaults for a fresh wallet.
func DefaultBTCSettings() BTCSettings {
	return BTCSettings{
		FeeRate:            90_000,
		MinFeeRate:         1_000,
		TxMinConfirmations: 6,
		LockTimeInBlocks:   12 * 24,
		ConnectionType:     ConnectionTypeNode,
	}
}

// SettingsProvider loads and persists BTCSettings over the wallet DB.
type SettingsProvider struct {
	store *storage.Storage

	mu       sync.Mutex
	refs     int
	settings BTCSettings
}

// NewSettingsProvider creates a provider and loads the persisted settings.
func NewSettingsProvider(store *storage.Storage) (*SettingsProvider, error) {
	p := &SettingsProvider{store: store, settings: DefaultBTCSettings()}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// Borrow takes a read reference and returns a settings snapshot. Every
// Borrow must be paired with a Release.
func (p *SettingsProvider) Borrow() BTCSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs++
	return p.settings
}

// Release returns a borrow taken with Borrow.
func (p *SettingsProvider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs > 0 {
		p.refs--
	}
}

// CanModify reports whether no reader currently holds the settings.
func (p *SettingsProvider) CanModify() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs == 0
}

// SetSettings replaces and persists the settings. Fails while any borrow is
// outstanding; nothing is persisted on failure.
func (p *SettingsProvider) SetSettings(s BTCSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs != 0 {
		return ErrSettingsBorrowed
	}
	if s.ConnectionType != ConnectionTypeNode && s.ConnectionType != ConnectionTypeElectrum {
		return fmt.Errorf("unknown connection type %q", s.ConnectionType)
	}

	for key, value := range map[string]string{
		settingsPrefix + "_UserName":           s.UserName,
		settingsPrefix + "_Pass":               s.Pass,
		settingsPrefix + "_Address":            s.Address,
		settingsPrefix + "_ElectrumAddress":    s.ElectrumAddress,
		settingsPrefix + "_SecretWords":        s.SecretWords,
		settingsPrefix + "_AddressVersion":     strconv.FormatUint(uint64(s.AddressVersion), 10),
		settingsPrefix + "_FeeRate":            strconv.FormatUint(s.FeeRate, 10),
		settingsPrefix + "_MinFeeRate":         strconv.FormatUint(s.MinFeeRate, 10),
		settingsPrefix + "_TxMinConfirmations": strconv.FormatUint(uint64(s.TxMinConfirmations), 10),
		settingsPrefix + "_LockTimeInBlocks":   strconv.FormatUint(uint64(s.LockTimeInBlocks), 10),
		settingsPrefix + "_ConnectionType":     s.ConnectionType,
	} {
		if err := p.store.PutSetting(key, value); err != nil {
			return err
		}
	}
	p.settings = s
	return nil
}

// ResetSettings removes every persisted BTC setting and restores defaults.
func (p *SettingsProvider) ResetSettings() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs != 0 {
		return ErrSettingsBorrowed
	}
	if err := p.store.DeleteSettingsPrefix(settingsPrefix); err != nil {
		return err
	}
	p.settings = DefaultBTCSettings()
	return nil
}

func (p *SettingsProvider) load() error {
	s := DefaultBTCSettings()

	readString := func(suffix string, dst *string) error {
		v, ok, err := p.store.GetSetting(settingsPrefix + suffix)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
		return nil
	}
	readUint := func(suffix string, dst *uint64) error {
		v, ok, err := p.store.GetSetting(settingsPrefix + suffix)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		n, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			return fmt.Errorf("malformed setting %s%s: %w", settingsPrefix, suffix, perr)
		}
		*dst = n
		return nil
	}

	var addrVersion, txMinConf, lockTime uint64
	for _, step := range []error{
		readString("_UserName", &s.UserName),
		readString("_Pass", &s.Pass),
		readString("_Address", &s.Address),
		readString("_ElectrumAddress", &s.ElectrumAddress),
		readString("_SecretWords", &s.SecretWords),
		readString("_ConnectionType", &s.ConnectionType),
		readUint("_AddressVersion", &addrVersion),
		readUint("_FeeRate", &s.FeeRate),
		readUint("_MinFeeRate", &s.MinFeeRate),
		readUint("_TxMinConfirmations", &txMinConf),
		readUint("_LockTimeInBlocks", &lockTime),
	} {
		if step != nil {
			return step
		}
	}
	if addrVersion > 0 {
		s.AddressVersion = uint32(addrVersion)
	}
	if txMinConf > 0 {
		s.TxMinConfirmations = uint32(txMinConf)
	}
	if lockTime > 0 {
		s.LockTimeInBlocks = uint32(lockTime)
	}

	p.settings = s
	return nil
}

// Package main provides the beamswapd daemon: the Beam <-> BTC atomic swap
// engine node.
package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/DrakenTech/beam/internal/backend"
	"github.com/DrakenTech/beam/internal/beamnode"
	"github.com/DrakenTech/beam/internal/config"
	"github.com/DrakenTech/beam/internal/node"
	"github.com/DrakenTech/beam/internal/storage"
	"github.com/DrakenTech/beam/internal/swap"
	"github.com/DrakenTech/beam/pkg/logging"

	"github.com/DrakenTech/beam/internal/mw"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.beamswap", "Data directory")
		beamNode    = flag.String("beam-node", "", "Beam node RPC address, overrides config")
		btcNode     = flag.String("btc-node", "", "Bitcoin node RPC address, overrides stored settings")
		btcUser     = flag.String("btc-user", "", "Bitcoin RPC user, overrides stored settings")
		btcPass     = flag.String("btc-pass", "", "Bitcoin RPC password, overrides stored settings")
		testnet     = flag.Bool("testnet", false, "Run on testnet")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("beamswapd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := expandPath(*dataDir)
	if *testnet {
		effectiveDataDir = filepath.Join(effectiveDataDir, "testnet")
	}

	cfg, err := config.Load(effectiveDataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}
	if *beamNode != "" {
		cfg.BeamNode.Address = *beamNode
	}
	cfg.Logging.Level = *logLevel

	store, err := storage.New(&storage.Config{DataDir: effectiveDataDir})
	if err != nil {
		log.Fatal("Failed to open wallet database", "error", err)
	}
	defer store.Close()

	settings, err := config.NewSettingsProvider(store)
	if err != nil {
		log.Fatal("Failed to load BTC settings", "error", err)
	}
	applySettingsOverrides(settings, *btcNode, *btcUser, *btcPass, log)

	kdf, err := loadWalletKdf(effectiveDataDir)
	if err != nil {
		log.Fatal("Failed to load wallet seed", "error", err)
	}

	netParams := &chaincfg.MainNetParams
	if *testnet {
		netParams = &chaincfg.TestNet3Params
	}

	btcSettings := settings.Borrow()
	defer settings.Release()

	gateway := beamnode.New(&beamnode.Config{Address: cfg.BeamNode.Address})

	var engine *swap.Engine
	btcClient := backend.NewClient(&backend.Config{
		Address:  btcSettings.Address,
		UserName: btcSettings.UserName,
		Pass:     btcSettings.Pass,
	}, func(f func()) { engine.Reactor().Post(f) })

	p2p, err := node.New(&cfg.P2P, effectiveDataDir)
	if err != nil {
		log.Fatal("Failed to start P2P node", "error", err)
	}
	defer p2p.Close()

	channel := node.NewChannel(p2p, store)

	engine = swap.NewEngine(swap.EngineConfig{
		Store:     store,
		Kdf:       kdf,
		Gateway:   gateway,
		BTC:       btcClient,
		Channel:   channel,
		Net:       netParams,
		BTCFeeSat: btcSettings.FeeRate,
	})

	gateway.Bind(engine)
	channel.Bind(engine)

	gateway.Start()
	channel.Start()
	if err := engine.Start(); err != nil {
		log.Fatal("Failed to start swap engine", "error", err)
	}

	log.Info("beamswapd started",
		"version", version,
		"data_dir", effectiveDataDir,
		"beam_node", cfg.BeamNode.Address,
		"network", netParams.Name)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("Shutting down")
	engine.Stop()
	channel.Stop()
	gateway.Stop()
}

// applySettingsOverrides persists CLI-provided BTC connection options.
func applySettingsOverrides(p *config.SettingsProvider, addr, user, pass string, log *logging.Logger) {
	if addr == "" && user == "" && pass == "" {
		return
	}
	s := p.Borrow()
	p.Release()
	if addr != "" {
		s.Address = addr
	}
	if user != "" {
		s.UserName = user
	}
	if pass != "" {
		s.Pass = pass
	}
	if err := p.SetSettings(s); err != nil {
		log.Fatal("Failed to store BTC settings", "error", err)
	}
}

// loadWalletKdf reads the wallet mnemonic, creating one on first run.
func loadWalletKdf(dataDir string) (*mw.Kdf, error) {
	path := filepath.Join(dataDir, "wallet.seed")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		mnemonic, gerr := mw.GenerateMnemonic()
		if gerr != nil {
			return nil, gerr
		}
		if werr := os.WriteFile(path, []byte(mnemonic+"\n"), 0600); werr != nil {
			return nil, werr
		}
		logging.Warn("Generated new wallet seed", "path", path)
		return mw.KdfFromMnemonic(mnemonic, "")
	}
	if err != nil {
		return nil, err
	}
	return mw.KdfFromMnemonic(strings.TrimSpace(string(data)), "")
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

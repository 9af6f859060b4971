// Package node provides the libp2p transport carrying swap parameter
// bundles between counterparties.
package node

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/DrakenTech/beam/internal/config"
	"github.com/DrakenTech/beam/pkg/logging"
)

// Node wraps the libp2p host.
type Node struct {
	host host.Host
	log  *logging.Logger
}

// New creates and starts a libp2p host from the P2P configuration. The
// identity key is loaded from (or created at) keyFile inside dataDir.
func New(cfg *config.P2PConfig, dataDir string) (*Node, error) {
	priv, err := loadOrCreateIdentity(filepath.Join(dataDir, cfg.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("identity key: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	n := &Node{host: h, log: logging.GetDefault().Component("p2p")}
	n.log.Info("P2P node started", "id", h.ID().String())

	for _, addr := range cfg.BootstrapPeers {
		if err := n.connectBootstrap(addr); err != nil {
			n.log.Warn("Bootstrap connect failed", "addr", addr, "error", err)
		}
	}
	return n, nil
}

// Host returns the underlying libp2p host.
func (n *Node) Host() host.Host { return n.host }

// ID returns this node's peer id.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Close shuts down the host.
func (n *Node) Close() error { return n.host.Close() }

func (n *Node) connectBootstrap(addr string) error {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return err
	}
	n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerAddrTTL)
	return n.host.Connect(context.Background(), *info)
}

func loadOrCreateIdentity(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	priv, _, err := crypto.GenerateEd25519Key(crand.Reader)
	if err != nil {
		return nil, err
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return nil, err
	}
	return priv, nil
}

// Package node - the peer channel: persisted outbox, retry delivery, and
// inbound deduplication for swap parameter bundles.
package node

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/DrakenTech/beam/internal/storage"
	"github.com/DrakenTech/beam/internal/swap"
	"github.com/DrakenTech/beam/pkg/logging"
)

// ProtocolID identifies the swap parameter stream.
const ProtocolID = protocol.ID("/beamswap/params/1.0.0")

const (
	peerAddrTTL       = 24 * time.Hour
	retryInterval     = 10 * time.Second
	maxRetryInterval  = 10 * time.Minute
	maxRetries        = 50
	deliveryTimeout   = 15 * time.Second
	outboxWorkerBatch = 32
)

// Envelope is the wire frame around a parameter bundle.
type Envelope struct {
	MessageID string             `json:"message_id"`
	FromPeer  string             `json:"from_peer"`
	Bundle    swap.SetTxParameter `json:"bundle"`
}

// ack is the single-line reply confirming receipt.
type ack struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"message_id"`
}

// Engine is what the channel needs from the swap engine.
type Engine interface {
	ApplyPeerMessage(peerID string, msg swap.SetTxParameter)
}

// Channel delivers parameter bundles over libp2p with persistence and
// retry. It implements swap.PeerChannel.
type Channel struct {
	node   *Node
	store  *storage.Storage
	engine Engine
	log    *logging.Logger
	stop   chan struct{}
}

// NewChannel creates the channel and installs the inbound stream handler.
func NewChannel(n *Node, store *storage.Storage) *Channel {
	c := &Channel{
		node:  n,
		store: store,
		log:   logging.GetDefault().Component("peer-channel"),
		stop:  make(chan struct{}),
	}
	n.Host().SetStreamHandler(ProtocolID, c.handleStream)
	return c
}

// Bind attaches the swap engine receiving inbound bundles.
func (c *Channel) Bind(e Engine) {
	c.engine = e
}

// Start launches the outbox retry worker.
func (c *Channel) Start() {
	go c.runOutbox()
}

// Stop halts the retry worker.
func (c *Channel) Stop() {
	close(c.stop)
}

// Send persists a bundle to the outbox and attempts immediate delivery. The
// bundle survives restarts until the peer acknowledges it.
func (c *Channel) Send(msg swap.SetTxParameter) error {
	rec, err := c.store.GetSwap(msg.TxID.String())
	if err != nil {
		return fmt.Errorf("unknown swap %s: %w", msg.TxID.String(), err)
	}
	if rec.PeerID == "" {
		return fmt.Errorf("swap %s has no peer address", msg.TxID.String())
	}

	env := Envelope{
		MessageID: uuid.New().String(),
		FromPeer:  c.node.ID().String(),
		Bundle:    msg,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	// Persist before any delivery attempt.
	err = c.store.EnqueueMessage(&storage.OutboxMessage{
		MessageID: env.MessageID,
		TxID:      msg.TxID.String(),
		PeerID:    rec.PeerID,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	go c.attemptDelivery(env.MessageID, rec.PeerID, payload, 0)
	return nil
}

func (c *Channel) runOutbox() {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			msgs, err := c.store.DueMessages(outboxWorkerBatch)
			if err != nil {
				c.log.Error("Failed to read outbox", "error", err)
				continue
			}
			for _, m := range msgs {
				if m.RetryCount >= maxRetries {
					c.log.Warn("Giving up on message", "id", m.MessageID)
					_ = c.store.SetMessageStatus(m.MessageID, storage.OutboxFailed)
					continue
				}
				go c.attemptDelivery(m.MessageID, m.PeerID, m.Payload, m.RetryCount)
			}
		}
	}
}

// attemptDelivery opens a stream, writes the frame and waits for the ack.
func (c *Channel) attemptDelivery(messageID, peerID string, payload []byte, retryCount int) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		c.log.Error("Malformed peer id", "peer", peerID, "error", err)
		_ = c.store.SetMessageStatus(messageID, storage.OutboxFailed)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	stream, err := c.node.Host().NewStream(ctx, pid, ProtocolID)
	if err != nil {
		c.reschedule(messageID, retryCount)
		return
	}
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(deliveryTimeout))

	if _, err := stream.Write(append(payload, '\n')); err != nil {
		c.reschedule(messageID, retryCount)
		return
	}

	var reply ack
	if err := json.NewDecoder(bufio.NewReader(stream)).Decode(&reply); err != nil || !reply.OK {
		c.reschedule(messageID, retryCount)
		return
	}

	if err := c.store.SetMessageStatus(messageID, storage.OutboxAcked); err != nil {
		c.log.Error("Failed to mark message acked", "id", messageID, "error", err)
	}
}

// reschedule bumps the retry bookkeeping with exponential backoff.
func (c *Channel) reschedule(messageID string, retryCount int) {
	backoff := retryInterval << uint(retryCount)
	if backoff > maxRetryInterval || backoff <= 0 {
		backoff = maxRetryInterval
	}
	if err := c.store.RescheduleMessage(messageID, time.Now().Add(backoff)); err != nil {
		c.log.Error("Failed to reschedule message", "id", messageID, "error", err)
	}
}

// handleStream processes one inbound frame: dedup by message id, ack, and
// hand the bundle to the engine. A duplicate is acked again but not
// redelivered.
func (c *Channel) handleStream(stream network.Stream) {
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(deliveryTimeout))

	reader := bufio.NewReader(stream)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return
	}

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		c.log.Warn("Malformed envelope from peer", "peer", stream.Conn().RemotePeer().String())
		return
	}

	fresh, err := c.store.RecordInbound(env.MessageID, env.Bundle.TxID.String(), env.FromPeer)
	if err != nil {
		c.log.Error("Failed to record inbound message", "error", err)
		return
	}

	reply, _ := json.Marshal(ack{OK: true, MessageID: env.MessageID})
	_, _ = stream.Write(append(reply, '\n'))

	if !fresh {
		return
	}
	if c.engine != nil {
		c.engine.ApplyPeerMessage(stream.Conn().RemotePeer().String(), env.Bundle)
	}
}

// Ensure Channel implements the engine's channel surface.
var _ swap.PeerChannel = (*Channel)(nil)

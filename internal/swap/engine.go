// Package swap - Engine owns the reactor thread and every active swap.
package swap

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	"github.com/DrakenTech/beam/internal/mw"
	"github.com/DrakenTech/beam/internal/storage"
	"github.com/DrakenTech/beam/pkg/logging"
)

// Engine errors.
var (
	ErrSwapExists   = errors.New("swap already exists")
	ErrSwapNotFound = errors.New("swap not found")
)

// EngineConfig wires the engine to its collaborators.
type EngineConfig struct {
	Store   *storage.Storage
	Kdf     *mw.Kdf
	Gateway BeamGateway
	BTC     BitcoinRPC
	Channel PeerChannel
	Net     *chaincfg.Params

	// BTCFeeSat is the flat fee for BTC-side withdraw transactions.
	BTCFeeSat uint64

	// TickInterval drives periodic re-ticks of active swaps (confirmation
	// polling, locktime checks). Default 30s.
	TickInterval time.Duration
}

// Engine manages active swaps. All swap progress happens on the reactor.
type Engine struct {
	store   *storage.Storage
	kdf     *mw.Kdf
	gateway BeamGateway
	btc     BitcoinRPC
	channel PeerChannel
	net     *chaincfg.Params

	btcFeeSat    uint64
	tickInterval time.Duration

	reactor *Reactor
	log     *logging.Logger

	mu    sync.Mutex
	swaps map[TxID]*Swap

	stopTicker chan struct{}
}

// NewEngine creates a swap engine.
func NewEngine(cfg EngineConfig) *Engine {
	interval := cfg.TickInterval
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		store:        cfg.Store,
		kdf:          cfg.Kdf,
		gateway:      cfg.Gateway,
		btc:          cfg.BTC,
		channel:      cfg.Channel,
		net:          cfg.Net,
		btcFeeSat:    cfg.BTCFeeSat,
		tickInterval: interval,
		reactor:      NewReactor(),
		log:          logging.GetDefault().Component("swap"),
		swaps:        make(map[TxID]*Swap),
		stopTicker:   make(chan struct{}),
	}
}

// Reactor exposes the engine's scheduler for callback dispatch.
func (e *Engine) Reactor() *Reactor { return e.reactor }

// Start restores pending swaps from storage and begins periodic ticking.
func (e *Engine) Start() error {
	pending, err := e.store.GetPendingSwaps()
	if err != nil {
		return fmt.Errorf("failed to load pending swaps: %w", err)
	}
	for _, rec := range pending {
		txID, err := uuid.Parse(rec.TxID)
		if err != nil {
			e.log.Warn("Skipping swap with malformed id", "tx", rec.TxID)
			continue
		}
		s := e.bindSwap(txID)
		e.log.Info("Resuming swap", "tx", rec.TxID, "state", rec.State)
		e.reactor.Post(s.Tick)
	}

	go e.runTicker()
	return nil
}

// Stop halts the ticker and drains the reactor.
func (e *Engine) Stop() {
	close(e.stopTicker)
	e.reactor.Stop()
}

func (e *Engine) runTicker() {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopTicker:
			return
		case <-ticker.C:
			e.mu.Lock()
			swaps := make([]*Swap, 0, len(e.swaps))
			for _, s := range e.swaps {
				swaps = append(swaps, s)
			}
			e.mu.Unlock()
			for _, s := range swaps {
				e.reactor.Post(s.Tick)
			}
		}
	}
}

// SwapParams are the user-facing parameters of a new swap.
type SwapParams struct {
	AmountBeam  uint64 // Beam-side amount
	FeeBeam     uint64 // Beam-side kernel fee
	AmountSwap  uint64 // BTC-side amount in satoshi
	SwapCoin    string // BTC-family coin tag
	IsBeamOwner bool   // true when this party sends Beam and receives BTC
	PeerID      string // transport address of the counterparty
	MinHeight   uint64 // Beam chain height at creation
	CreateTime  int64  // swap creation timestamp t0
}

// StartSwap creates and starts a new swap as the initiator.
func (e *Engine) StartSwap(p SwapParams) (TxID, error) {
	txID := uuid.New()

	if p.CreateTime == 0 {
		p.CreateTime = time.Now().Unix()
	}
	if p.MinHeight == 0 {
		p.MinHeight = e.gateway.Tip()
	}

	rec := &storage.SwapRecord{
		TxID:        txID.String(),
		PeerID:      p.PeerID,
		IsSender:    p.IsBeamOwner,
		IsInitiator: true,
		AmountBeam:  p.AmountBeam,
		AmountSwap:  p.AmountSwap,
		SwapCoin:    p.SwapCoin,
		State:       "initial",
	}
	if err := e.store.SaveSwap(rec); err != nil {
		return uuid.Nil, err
	}

	params := NewParamStore(txID, e.store)
	params.Put(SubTxDefault, ParamIsSender, encodeBool(p.IsBeamOwner), false)
	params.Put(SubTxDefault, ParamIsInitiator, encodeBool(true), false)
	params.Put(SubTxDefault, ParamAmount, encodeUint64(p.AmountBeam), false)
	params.Put(SubTxDefault, ParamFee, encodeUint64(p.FeeBeam), false)
	params.Put(SubTxDefault, ParamAtomicSwapAmount, encodeUint64(p.AmountSwap), false)
	params.Put(SubTxDefault, ParamAtomicSwapCoin, []byte(p.SwapCoin), false)
	params.Put(SubTxDefault, ParamCreateTime, encodeUint64(uint64(p.CreateTime)), false)
	params.Put(SubTxDefault, ParamMinHeight, encodeUint64(p.MinHeight), false)
	if err := params.Flush(); err != nil {
		return uuid.Nil, err
	}

	s := e.bindSwapWith(txID, params)
	e.reactor.Post(s.Tick)
	return txID, nil
}

// ApplyPeerMessage applies an inbound parameter bundle and ticks the swap.
// Unknown parameter ids are ignored; writing a value already set to the same
// bytes is a no-op, so replayed bundles never advance state twice. A bundle
// for an unknown swap creates the responder side.
func (e *Engine) ApplyPeerMessage(peerID string, msg SetTxParameter) {
	e.reactor.Post(func() {
		s, created, err := e.swapForMessage(peerID, msg)
		if err != nil {
			e.log.Warn("Dropping peer bundle", "tx", msg.TxID.String(), "error", err)
			return
		}
		if s.State().IsTerminal() {
			return
		}

		changed := created
		for _, p := range msg.Params {
			if !knownParameters[p.ID] {
				continue
			}
			if s.params.Put(msg.SubTxID, p.ID, p.Value, false) {
				changed = true
			}
		}
		if err := s.params.Flush(); err != nil {
			e.log.Error("Failed to persist peer parameters", "error", err)
			return
		}
		if changed {
			s.Tick()
		}
	})
}

// swapForMessage finds or creates the swap a bundle belongs to.
func (e *Engine) swapForMessage(peerID string, msg SetTxParameter) (*Swap, bool, error) {
	e.mu.Lock()
	s, ok := e.swaps[msg.TxID]
	e.mu.Unlock()
	if ok {
		return s, false, nil
	}

	if _, err := e.store.GetSwap(msg.TxID.String()); err == nil {
		return e.bindSwap(msg.TxID), false, nil
	}

	// A new bundle may only open a swap through a proper invitation.
	var isSender, haveRole bool
	var amountBeam, amountSwap uint64
	var coin string
	for _, p := range msg.Params {
		switch p.ID {
		case ParamIsSender:
			isSender, haveRole = decodeBool(p.Value)
		case ParamAmount:
			amountBeam, _ = decodeUint64(p.Value)
		case ParamAtomicSwapAmount:
			amountSwap, _ = decodeUint64(p.Value)
		case ParamAtomicSwapCoin:
			coin = string(p.Value)
		}
	}
	if msg.SubTxID != SubTxDefault || !haveRole {
		return nil, false, errors.New("not an invitation")
	}

	rec := &storage.SwapRecord{
		TxID:        msg.TxID.String(),
		PeerID:      peerID,
		IsSender:    isSender,
		IsInitiator: false,
		AmountBeam:  amountBeam,
		AmountSwap:  amountSwap,
		SwapCoin:    coin,
		State:       "initial",
	}
	if err := e.store.SaveSwap(rec); err != nil {
		return nil, false, err
	}

	params := NewParamStore(msg.TxID, e.store)
	params.Put(SubTxDefault, ParamIsInitiator, encodeBool(false), false)

	s = e.bindSwapWith(msg.TxID, params)
	e.log.Info("Accepted swap invitation", "tx", msg.TxID.String(), "beam_sender", isSender)
	return s, true, nil
}

// GetSwap returns an active swap.
func (e *Engine) GetSwap(txID TxID) (*Swap, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.swaps[txID]
	return s, ok
}

// CancelSwap requests a clean cancellation; legal only before the Beam lock
// commit point.
func (e *Engine) CancelSwap(txID TxID) error {
	s, ok := e.GetSwap(txID)
	if !ok {
		return ErrSwapNotFound
	}
	e.reactor.Post(s.cancel)
	return nil
}

func (e *Engine) bindSwap(txID TxID) *Swap {
	return e.bindSwapWith(txID, NewParamStore(txID, e.store))
}

func (e *Engine) bindSwapWith(txID TxID, params *ParamStore) *Swap {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.swaps[txID]; ok {
		return s
	}
	s := NewSwap(SwapConfig{
		TxID:          txID,
		Params:        params,
		Kdf:           e.kdf,
		Coins:         &walletCoins{store: e.store},
		Gateway:       e.gateway,
		BTC:           e.btc,
		Channel:       e.channel,
		Net:           e.net,
		BTCFeeSat:     e.btcFeeSat,
		OnStateChange: e.onSwapStateChange,
		Log:           e.log,
	})
	e.swaps[txID] = s
	return s
}

// onSwapStateChange mirrors top-level transitions into the summary row.
func (e *Engine) onSwapStateChange(s *Swap) {
	state := s.State()
	reason := ""
	if r := s.FailureReason(); r != FailureNone {
		reason = r.String()
	}
	if err := e.store.UpdateSwapState(s.ID().String(), state.summaryState(), reason); err != nil {
		e.log.Error("Failed to update swap summary", "tx", s.ID().String(), "error", err)
	}
	if state.IsTerminal() {
		e.mu.Lock()
		delete(e.swaps, s.ID())
		e.mu.Unlock()
	}
}

// walletCoins adapts the storage coin registry to the builders' CoinSource.
type walletCoins struct {
	store *storage.Storage
}

func (w *walletCoins) SelectCoins(txID TxID, amount uint64) ([]mw.CoinID, uint64, error) {
	coins, err := w.store.AvailableCoins()
	if err != nil {
		return nil, 0, err
	}

	var selected []mw.CoinID
	var total uint64
	for _, c := range coins {
		selected = append(selected, mw.CoinID{Idx: c.Idx, SubIdx: c.SubIdx, Value: c.Value})
		total += c.Value
		if total >= amount {
			break
		}
	}
	if total < amount {
		return nil, 0, fmt.Errorf("insufficient funds: have %d, need %d", total, amount)
	}
	for _, id := range selected {
		if err := w.store.SetCoinStatus(id.Idx, id.SubIdx, storage.CoinStatusLocked, txID.String()); err != nil {
			return nil, 0, err
		}
	}
	return selected, total, nil
}

func (w *walletCoins) AllocateCoin(value uint64, subIdx uint32) (mw.CoinID, error) {
	idx, err := w.store.NextCoinIdx()
	if err != nil {
		return mw.CoinID{}, err
	}
	id := mw.CoinID{Idx: idx, SubIdx: subIdx, Value: value}
	err = w.store.SaveCoin(&storage.Coin{
		Idx:    id.Idx,
		SubIdx: id.SubIdx,
		Value:  id.Value,
		Status: storage.CoinStatusAvailable,
	})
	if err != nil {
		return mw.CoinID{}, err
	}
	return id, nil
}

// PutSwapParam durably writes a parameter of a swap from a gateway
// completion. Runs on the reactor.
func (e *Engine) PutSwapParam(txID TxID, sub SubTxID, id ParameterID, value []byte) {
	e.reactor.Post(func() {
		s, ok := e.GetSwap(txID)
		if !ok {
			return
		}
		s.params.Put(sub, id, value, true)
	})
}

// TickSwap posts a tick for a swap.
func (e *Engine) TickSwap(txID TxID) {
	e.reactor.Post(func() {
		if s, ok := e.GetSwap(txID); ok {
			s.Tick()
		}
	})
}

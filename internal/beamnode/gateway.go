// Package beamnode implements the swap engine's gateway to a Beam node:
// transaction registration, kernel confirmation, kernel retrieval and tip
// tracking over the node's JSON-RPC wallet API.
package beamnode

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DrakenTech/beam/internal/mw"
	"github.com/DrakenTech/beam/internal/swap"
	"github.com/DrakenTech/beam/pkg/logging"
)

// Config holds the Beam node connection options.
type Config struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"-"`

	// TipRefresh is how often the chain tip is re-read. Default 20s.
	TipRefresh time.Duration `yaml:"-"`
}

// SwapAccess is what the gateway needs from the engine: durable parameter
// writes and tick delivery, both serialized on the reactor.
type SwapAccess interface {
	PutSwapParam(txID swap.TxID, sub swap.SubTxID, id swap.ParameterID, value []byte)
	TickSwap(txID swap.TxID)
}

// Gateway talks to a Beam node. Completions write into the owning swap's
// parameter store and tick it.
type Gateway struct {
	rpcURL     string
	httpClient *http.Client
	requestID  atomic.Uint64
	swaps      SwapAccess
	log        *logging.Logger

	tip        atomic.Uint64
	tipRefresh time.Duration
	stop       chan struct{}
	stopOnce   sync.Once

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates a gateway. Call Start to begin tip tracking and Bind to attach
// the engine.
func New(cfg *Config) *Gateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	refresh := cfg.TipRefresh
	if refresh == 0 {
		refresh = 20 * time.Second
	}
	url := cfg.Address
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return &Gateway{
		rpcURL:     url,
		httpClient: &http.Client{Timeout: timeout},
		log:        logging.GetDefault().Component("beam-node"),
		tipRefresh: refresh,
		stop:       make(chan struct{}),
		inFlight:   make(map[string]bool),
	}
}

// Bind attaches the engine the gateway reports into.
func (g *Gateway) Bind(swaps SwapAccess) {
	g.swaps = swaps
}

// Start begins background tip tracking.
func (g *Gateway) Start() {
	g.refreshTip()
	go func() {
		ticker := time.NewTicker(g.tipRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-g.stop:
				return
			case <-ticker.C:
				g.refreshTip()
			}
		}
	}()
}

// Stop halts tip tracking.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// Tip returns the last observed chain tip height.
func (g *Gateway) Tip() uint64 {
	return g.tip.Load()
}

func (g *Gateway) refreshTip() {
	result, err := g.call("get_tip", nil)
	if err != nil {
		g.log.Warn("Failed to read chain tip", "error", err)
		return
	}
	var reply struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(result, &reply); err != nil {
		g.log.Warn("Malformed tip reply", "error", err)
		return
	}
	g.tip.Store(reply.Height)
}

// RegisterTx broadcasts a transaction. The acceptance result is written
// under TransactionRegistered of the owning sub-transaction.
func (g *Gateway) RegisterTx(txID swap.TxID, sub swap.SubTxID, tx *mw.Transaction) {
	op := fmt.Sprintf("register:%s:%d", txID, sub)
	if !g.claim(op) {
		return
	}
	go func() {
		defer g.release(op)

		_, err := g.call("register_tx", map[string]interface{}{
			"txid": txID.String(),
			"tx":   hex.EncodeToString(tx.Serialize()),
		})
		accepted := err == nil
		if err != nil {
			g.log.Error("register_tx failed", "tx", txID.String(), "error", err)
		}
		g.swaps.PutSwapParam(txID, sub, swap.ParamTransactionRegistered, encodeBool(accepted))
		g.swaps.TickSwap(txID)
	}()
}

// ConfirmKernel requests proof of inclusion for a kernel and stores the
// proof height under the owning sub-transaction.
func (g *Gateway) ConfirmKernel(txID swap.TxID, sub swap.SubTxID, kernelID [32]byte) {
	op := fmt.Sprintf("confirm:%s:%d", txID, sub)
	if !g.claim(op) {
		return
	}
	go func() {
		defer g.release(op)

		result, err := g.call("confirm_kernel", map[string]interface{}{
			"kernel_id": hex.EncodeToString(kernelID[:]),
		})
		if err != nil {
			return
		}
		var reply struct {
			Height uint64 `json:"height"`
		}
		if err := json.Unmarshal(result, &reply); err != nil || reply.Height == 0 {
			return
		}
		g.swaps.PutSwapParam(txID, sub, swap.ParamKernelProofHeight, encodeUint64(reply.Height))
		g.swaps.TickSwap(txID)
	}()
}

// GetKernel fetches a kernel body and extracts the embedded preimage.
func (g *Gateway) GetKernel(txID swap.TxID, sub swap.SubTxID, kernelID [32]byte) {
	op := fmt.Sprintf("kernel:%s:%d", txID, sub)
	if !g.claim(op) {
		return
	}
	go func() {
		defer g.release(op)

		result, err := g.call("get_kernel", map[string]interface{}{
			"kernel_id": hex.EncodeToString(kernelID[:]),
		})
		if err != nil {
			return
		}
		var reply struct {
			Kernel string `json:"kernel"`
			Height uint64 `json:"height"`
		}
		if err := json.Unmarshal(result, &reply); err != nil {
			return
		}
		raw, err := hex.DecodeString(reply.Kernel)
		if err != nil {
			return
		}
		kernel, err := mw.ParseKernel(raw)
		if err != nil || kernel.Preimage == nil {
			return
		}
		if reply.Height > 0 {
			g.swaps.PutSwapParam(txID, sub, swap.ParamKernelProofHeight, encodeUint64(reply.Height))
		}
		g.swaps.PutSwapParam(txID, sub, swap.ParamPreImage, kernel.Preimage[:])
		g.swaps.TickSwap(txID)
	}()
}

func (g *Gateway) claim(op string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[op] {
		return false
	}
	g.inFlight[op] = true
	return true
}

func (g *Gateway) release(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, op)
}

func (g *Gateway) call(method string, params interface{}) (json.RawMessage, error) {
	id := g.requestID.Add(1)

	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		request["params"] = params
	}
	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", g.rpcURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("malformed reply: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}

func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return b
}

// Ensure Gateway implements the engine's gateway surface.
var _ swap.BeamGateway = (*Gateway)(nil)

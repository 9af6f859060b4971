// Package backend - the wallet RPC surface the swap engine consumes.
package backend

import (
	"encoding/json"
	"fmt"

	"github.com/DrakenTech/beam/internal/swap"
)

// GetRawChangeAddress fetches a fresh legacy change address. Legacy (P2PKH)
// is required: the HTLC contract script commits to pubkey hashes.
func (c *Client) GetRawChangeAddress(cb func(addr string, err error)) {
	c.async("getrawchangeaddress", []interface{}{"legacy"}, func(result json.RawMessage, err error) {
		if err != nil {
			cb("", err)
			return
		}
		var addr string
		if err := json.Unmarshal(result, &addr); err != nil {
			cb("", fmt.Errorf("%w: %v", swap.ErrRpc, err))
			return
		}
		cb(addr, nil)
	})
}

// FundRawTransaction lets the node select inputs and attach a change output.
func (c *Client) FundRawTransaction(hexTx string, cb func(fundedHex string, changePos int, fee float64, err error)) {
	c.async("fundrawtransaction", []interface{}{hexTx}, func(result json.RawMessage, err error) {
		if err != nil {
			cb("", 0, 0, err)
			return
		}
		var reply struct {
			Hex       string  `json:"hex"`
			ChangePos int     `json:"changepos"`
			Fee       float64 `json:"fee"`
		}
		if err := json.Unmarshal(result, &reply); err != nil {
			cb("", 0, 0, fmt.Errorf("%w: %v", swap.ErrRpc, err))
			return
		}
		cb(reply.Hex, reply.ChangePos, reply.Fee, nil)
	})
}

// SignRawTransaction signs a transaction with the node wallet's keys.
func (c *Client) SignRawTransaction(hexTx string, cb func(signedHex string, complete bool, err error)) {
	c.async("signrawtransaction", []interface{}{hexTx}, func(result json.RawMessage, err error) {
		if err != nil {
			cb("", false, err)
			return
		}
		var reply struct {
			Hex      string `json:"hex"`
			Complete bool   `json:"complete"`
		}
		if err := json.Unmarshal(result, &reply); err != nil {
			cb("", false, fmt.Errorf("%w: %v", swap.ErrRpc, err))
			return
		}
		cb(reply.Hex, reply.Complete, nil)
	})
}

// CreateRawTransaction builds an unsigned transaction. Output amounts are
// decimal BTC strings, marshalled as raw JSON numbers to avoid float
// rounding. A zero locktime is omitted.
func (c *Client) CreateRawTransaction(inputs []swap.RawTxInput, outputs map[string]string, locktime int64, cb func(hexTx string, err error)) {
	outs := make(map[string]json.RawMessage, len(outputs))
	for addr, amount := range outputs {
		outs[addr] = json.RawMessage(amount)
	}
	params := []interface{}{inputs, outs}
	if locktime > 0 {
		params = append(params, locktime)
	}
	c.async("createrawtransaction", params, func(result json.RawMessage, err error) {
		if err != nil {
			cb("", err)
			return
		}
		var hexTx string
		if err := json.Unmarshal(result, &hexTx); err != nil {
			cb("", fmt.Errorf("%w: %v", swap.ErrRpc, err))
			return
		}
		cb(hexTx, nil)
	})
}

// DumpPrivKey exports the private key of a wallet address.
func (c *Client) DumpPrivKey(addr string, cb func(wif string, err error)) {
	c.async("dumpprivkey", []interface{}{addr}, func(result json.RawMessage, err error) {
		if err != nil {
			cb("", err)
			return
		}
		var wif string
		if err := json.Unmarshal(result, &wif); err != nil {
			cb("", fmt.Errorf("%w: %v", swap.ErrRpc, err))
			return
		}
		cb(wif, nil)
	})
}

// SendRawTransaction broadcasts a transaction.
func (c *Client) SendRawTransaction(hexTx string, cb func(txid string, err error)) {
	c.async("sendrawtransaction", []interface{}{hexTx}, func(result json.RawMessage, err error) {
		if err != nil {
			cb("", err)
			return
		}
		var txid string
		if err := json.Unmarshal(result, &txid); err != nil {
			cb("", fmt.Errorf("%w: %v", swap.ErrRpc, err))
			return
		}
		cb(txid, nil)
	})
}

// GetTxOut reports the confirmation depth of an unspent output. A null
// result (spent or unknown output) reports found=false with no error.
func (c *Client) GetTxOut(txid string, vout int, cb func(confirmations int64, found bool, err error)) {
	c.async("gettxout", []interface{}{txid, vout}, func(result json.RawMessage, err error) {
		if err != nil {
			cb(0, false, err)
			return
		}
		if len(result) == 0 || string(result) == "null" {
			cb(0, false, nil)
			return
		}
		var reply struct {
			Confirmations int64 `json:"confirmations"`
		}
		if err := json.Unmarshal(result, &reply); err != nil {
			cb(0, false, fmt.Errorf("%w: %v", swap.ErrRpc, err))
			return
		}
		cb(reply.Confirmations, true, nil)
	})
}

// Ensure Client implements the engine's RPC surface.
var _ swap.BitcoinRPC = (*Client)(nil)

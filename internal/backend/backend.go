// Package backend implements the Bitcoin Core style JSON-RPC client used for
// the BTC side of atomic swaps.
package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/DrakenTech/beam/internal/swap"
	"github.com/DrakenTech/beam/pkg/logging"
)

// Config holds the node connection options.
type Config struct {
	Address  string `yaml:"address"` // host:port or full URL
	UserName string `yaml:"username"`
	Pass     string `yaml:"password"`
	Timeout  time.Duration
}

// Client is an asynchronous Bitcoin JSON-RPC client. Each request runs on
// its own goroutine; the reply callback is dispatched through the provided
// post function (the swap engine reactor), so callbacks never race swap
// state.
type Client struct {
	rpcURL     string
	rpcUser    string
	rpcPass    string
	httpClient *http.Client
	requestID  atomic.Uint64
	post       func(func())
	log        *logging.Logger
}

// NewClient creates a client dispatching callbacks through post.
func NewClient(cfg *Config, post func(func())) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	url := cfg.Address
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return &Client{
		rpcURL:     url,
		rpcUser:    cfg.UserName,
		rpcPass:    cfg.Pass,
		httpClient: &http.Client{Timeout: timeout},
		post:       post,
		log:        logging.GetDefault().Component("btc-rpc"),
	}
}

// call performs one synchronous JSON-RPC exchange.
func (c *Client) call(method string, params []interface{}) (json.RawMessage, error) {
	id := c.requestID.Add(1)

	request := map[string]interface{}{
		"jsonrpc": "1.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", c.rpcURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.rpcUser != "" {
		req.SetBasicAuth(c.rpcUser, c.rpcPass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrEmptyReply, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrEmptyReply, err)
	}
	if len(body) == 0 {
		return nil, swap.ErrEmptyReply
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: malformed reply: %v", swap.ErrRpc, err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%w: %d: %s", swap.ErrRpc, response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}

// async runs a call on its own goroutine and dispatches done on the reactor.
func (c *Client) async(method string, params []interface{}, done func(json.RawMessage, error)) {
	go func() {
		result, err := c.call(method, params)
		c.post(func() { done(result, err) })
	}()
}

// Package rpc wraps the go-ethereum client with timeouts, a circuit
// breaker, and automatic range splitting for log queries.
package rpc

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig tunes the breaker guarding the RPC endpoint.
type CircuitBreakerConfig struct {
	// MaxRequests is the number of probe requests allowed while half-open.
	MaxRequests uint32
	// Interval is the cyclic period of the closed state that resets counters.
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold uint32
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the HTTP(S) endpoint of the node. Required.
	URL string
	// Proxy is an optional HTTPS proxy URL for outbound RPC traffic.
	Proxy string
	// ChainID, when nonzero, is verified against the node at dial time.
	ChainID uint64
	// Timeout bounds each individual RPC call.
	Timeout time.Duration
	// MaxRetries bounds retries for transient failures inside FilterLogs.
	MaxRetries int

	CircuitBreaker CircuitBreakerConfig
}

// DefaultConfig returns production defaults. URL must still be set.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      5,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Client is a circuit-broken Ethereum JSON-RPC client.
type Client struct {
	eth     *ethclient.Client
	cfg     ClientConfig
	breaker *gobreaker.CircuitBreaker
}

// New dials the endpoint and, when cfg.ChainID is set, verifies the
// remote chain id matches before returning.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rpc: endpoint URL is required")
	}

	var dialOpts []gethrpc.ClientOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("rpc: parse proxy URL: %w", err)
		}
		httpClient := &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
			Timeout:   cfg.Timeout,
		}
		dialOpts = append(dialOpts, gethrpc.WithHTTPClient(httpClient))
	}

	raw, err := gethrpc.DialOptions(ctx, cfg.URL, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		eth: ethclient.NewClient(raw),
		cfg: cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "rpc",
			MaxRequests: cfg.CircuitBreaker.MaxRequests,
			Interval:    cfg.CircuitBreaker.Interval,
			Timeout:     cfg.CircuitBreaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.CircuitBreaker.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("component", "rpc").
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		}),
	}

	if cfg.ChainID != 0 {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		remote, err := c.eth.ChainID(callCtx)
		if err != nil {
			c.eth.Close()
			return nil, fmt.Errorf("rpc: fetch chain id: %w", err)
		}
		if remote.Uint64() != cfg.ChainID {
			c.eth.Close()
			return nil, fmt.Errorf("rpc: chain id mismatch: node reports %d, want %d", remote.Uint64(), cfg.ChainID)
		}
	}

	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func (c *Client) execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	return c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		return op(callCtx)
	})
}

// BlockNumber returns the current head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	v, err := c.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.eth.BlockNumber(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("rpc: block number: %w", err)
	}
	return v.(uint64), nil
}

// HeaderByNumber returns the header at the given height.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	v, err := c.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.eth.HeaderByNumber(ctx, number)
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: header by number: %w", err)
	}
	return v.(*types.Header), nil
}

// TransactionSender recovers the sender of the transaction containing a log.
func (c *Client) TransactionSender(ctx context.Context, txHash common.Hash, blockHash common.Hash, txIndex uint) (common.Address, error) {
	v, err := c.execute(ctx, func(ctx context.Context) (interface{}, error) {
		tx, _, err := c.eth.TransactionByHash(ctx, txHash)
		if err != nil {
			return common.Address{}, err
		}
		return c.eth.TransactionSender(ctx, tx, blockHash, txIndex)
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("rpc: transaction sender %s: %w", txHash.Hex(), err)
	}
	return v.(common.Address), nil
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	v, err := c.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.eth.CallContract(ctx, msg, blockNumber)
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: call contract: %w", err)
	}
	return v.([]byte), nil
}

// filterRetryDelay spaces transient-failure retries inside FilterLogs.
const filterRetryDelay = 500 * time.Millisecond

// filterWithRetry runs fetch up to attempts times, sleeping between
// transient failures. Range-too-large errors are returned immediately
// since retrying the same window cannot help; the caller splits instead.
func filterWithRetry(ctx context.Context, attempts int, fetch func() ([]types.Log, error)) ([]types.Log, error) {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		logs, err := fetch()
		if err == nil || isRangeTooLargeError(err) {
			return logs, err
		}
		if attempt >= attempts {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(filterRetryDelay):
		}
	}
}

// FilterLogs fetches logs for the query, retrying transient failures up
// to MaxRetries and transparently halving the block range whenever the
// node rejects the window as too large.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := filterWithRetry(ctx, c.cfg.MaxRetries, func() ([]types.Log, error) {
		v, err := c.execute(ctx, func(ctx context.Context) (interface{}, error) {
			return c.eth.FilterLogs(ctx, q)
		})
		if err != nil {
			return nil, err
		}
		return v.([]types.Log), nil
	})
	if err == nil {
		return logs, nil
	}

	if !isRangeTooLargeError(err) || q.FromBlock == nil || q.ToBlock == nil {
		return nil, fmt.Errorf("rpc: filter logs: %w", err)
	}

	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	if from >= to {
		return nil, fmt.Errorf("rpc: filter logs: range [%d, %d] cannot be split further: %w", from, to, err)
	}

	mid := from + (to-from)/2
	log.Debug().
		Str("component", "rpc").
		Uint64("from", from).
		Uint64("mid", mid).
		Uint64("to", to).
		Msg("log range too large, splitting")

	left := q
	left.FromBlock = new(big.Int).SetUint64(from)
	left.ToBlock = new(big.Int).SetUint64(mid)
	lower, err := c.FilterLogs(ctx, left)
	if err != nil {
		return nil, err
	}

	right := q
	right.FromBlock = new(big.Int).SetUint64(mid + 1)
	right.ToBlock = new(big.Int).SetUint64(to)
	upper, err := c.FilterLogs(ctx, right)
	if err != nil {
		return nil, err
	}

	return append(lower, upper...), nil
}

// rangeTooLargeIndicators are substrings various providers use when an
// eth_getLogs window exceeds their limits.
var rangeTooLargeIndicators = []string{
	"query returned more than",
	"block range too large",
	"exceed maximum block range",
	"too many results",
	"range too wide",
	"range is too wide",
	"query timeout",
	"response too large",
	"max results",
	"limit exceeded",
}

func isRangeTooLargeError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range rangeTooLargeIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

/*

This file contains the EVM read boundary: pool accumulator snapshots fetched
over JSON-RPC with endpoint redundancy. Retries and backoff live here; the
pure computation layers above only ever see a snapshot or an unavailable
error. When every endpoint is down a previously cached snapshot is served
stale, since fee accounting against a slightly old snapshot is preferable to
no answer at all.

*/

package chainreader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/veridian-labs/lmt/internal/cache"
	"github.com/veridian-labs/lmt/internal/logger"
	"github.com/veridian-labs/lmt/internal/types"
)

var readerLogger = logger.GetForComponent("chain_reader")

// ErrDataUnavailable is returned when every configured endpoint failed and
// no cached snapshot exists to fall back on.
var ErrDataUnavailable = errors.New("pool state unavailable")

const (
	maxRetries  = 2
	baseDelay   = 500 * time.Millisecond
	callTimeout = 10 * time.Second
)

// Client reads pool state over an ordered list of JSON-RPC endpoints.
// Connections are dialed lazily and reused.
type Client struct {
	endpoints []string
	cache     *cache.DataCache

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewClient builds a Client over the given endpoints. At least one endpoint
// is required; the first is primary and the rest are fallbacks.
func NewClient(endpoints []string, dataCache *cache.DataCache) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("chain reader requires at least one RPC endpoint")
	}
	return &Client{
		endpoints: append([]string(nil), endpoints...),
		cache:     dataCache,
		clients:   make(map[string]*ethclient.Client),
	}, nil
}

// Close releases all dialed connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ec := range c.clients {
		ec.Close()
	}
	c.clients = make(map[string]*ethclient.Client)
}

// PoolState fetches a consistent accumulator snapshot for a position range.
// Fresh cached snapshots are served without touching the network. On total
// endpoint failure a stale snapshot is served if one exists, otherwise
// ErrDataUnavailable.
func (c *Client) PoolState(ctx context.Context, pool string, tickLower, tickUpper int) (types.PoolState, error) {
	key := fmt.Sprintf("poolstate:%s:%d:%d", pool, tickLower, tickUpper)
	if cached, ok := cache.Lookup[types.PoolState](c.cache, key); ok {
		return cached, nil
	}

	var joined error
	for _, endpoint := range c.endpoints {
		state, err := c.fetchFrom(ctx, endpoint, pool, tickLower, tickUpper)
		if err == nil {
			if c.cache != nil {
				c.cache.Set(key, state, cache.PoolStatsTTL)
			}
			return state, nil
		}
		joined = errors.Join(joined, fmt.Errorf("%s: %w", endpoint, err))
		readerLogger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Str("pool", pool).
			Msg("Endpoint failed, trying next")
	}

	if stale, storedAt, ok := func() (any, time.Time, bool) {
		if c.cache == nil {
			return nil, time.Time{}, false
		}
		return c.cache.GetStale(key)
	}(); ok {
		if state, isState := stale.(types.PoolState); isState {
			readerLogger.Warn().
				Str("pool", pool).
				Time("storedAt", storedAt).
				Msg("All endpoints failed, serving stale pool state")
			return state, nil
		}
	}

	return types.PoolState{}, fmt.Errorf("%w: %s: %w", ErrDataUnavailable, pool, joined)
}

func (c *Client) fetchFrom(ctx context.Context, endpoint, pool string, tickLower, tickUpper int) (types.PoolState, error) {
	ec, err := c.clientFor(ctx, endpoint)
	if err != nil {
		return types.PoolState{}, err
	}

	var state types.PoolState
	err = withRetry(ctx, maxRetries, baseDelay, func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		var fetchErr error
		state, fetchErr = fetchPoolState(callCtx, ec, pool, tickLower, tickUpper)
		return fetchErr
	})
	if err != nil {
		// Drop the cached connection so the next attempt redials.
		c.mu.Lock()
		if cached, ok := c.clients[endpoint]; ok && cached == ec {
			cached.Close()
			delete(c.clients, endpoint)
		}
		c.mu.Unlock()
		return types.PoolState{}, err
	}
	return state, nil
}

func (c *Client) clientFor(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ec, ok := c.clients[endpoint]; ok {
		return ec, nil
	}
	ec, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	c.clients[endpoint] = ec
	return ec, nil
}

// fetchPoolState issues the five eth_call reads that make up a snapshot.
func fetchPoolState(ctx context.Context, ec *ethclient.Client, pool string, tickLower, tickUpper int) (types.PoolState, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return types.PoolState{}, fmt.Errorf("parse pool abi: %w", err)
	}
	addr := common.HexToAddress(pool)

	slot0, err := callPoolMethod(ctx, ec, addr, poolABI, "slot0")
	if err != nil {
		return types.PoolState{}, err
	}
	if len(slot0) < 2 {
		return types.PoolState{}, fmt.Errorf("slot0 returned %d values", len(slot0))
	}
	currentTick, err := asInt24(slot0[1])
	if err != nil {
		return types.PoolState{}, fmt.Errorf("slot0 tick: %w", err)
	}

	global0, err := callAccumulator(ctx, ec, addr, poolABI, "feeGrowthGlobal0X128")
	if err != nil {
		return types.PoolState{}, err
	}
	global1, err := callAccumulator(ctx, ec, addr, poolABI, "feeGrowthGlobal1X128")
	if err != nil {
		return types.PoolState{}, err
	}

	lower, err := fetchTickInfo(ctx, ec, addr, poolABI, tickLower)
	if err != nil {
		return types.PoolState{}, err
	}
	upper, err := fetchTickInfo(ctx, ec, addr, poolABI, tickUpper)
	if err != nil {
		return types.PoolState{}, err
	}

	return types.PoolState{
		Pool:                 pool,
		CurrentTick:          currentTick,
		FeeGrowthGlobal0X128: global0,
		FeeGrowthGlobal1X128: global1,
		Lower:                lower,
		Upper:                upper,
		ObservedAt:           time.Now(),
	}, nil
}

func fetchTickInfo(ctx context.Context, ec *ethclient.Client, pool common.Address, poolABI abi.ABI, tick int) (types.TickInfo, error) {
	values, err := callPoolMethod(ctx, ec, pool, poolABI, "ticks", big.NewInt(int64(tick)))
	if err != nil {
		return types.TickInfo{}, err
	}
	if len(values) < 4 {
		return types.TickInfo{}, fmt.Errorf("ticks(%d) returned %d values", tick, len(values))
	}
	outside0, err := asUint256(values[2])
	if err != nil {
		return types.TickInfo{}, fmt.Errorf("ticks(%d) feeGrowthOutside0: %w", tick, err)
	}
	outside1, err := asUint256(values[3])
	if err != nil {
		return types.TickInfo{}, fmt.Errorf("ticks(%d) feeGrowthOutside1: %w", tick, err)
	}
	return types.TickInfo{
		Tick:                  tick,
		FeeGrowthOutside0X128: outside0,
		FeeGrowthOutside1X128: outside1,
	}, nil
}

func callAccumulator(ctx context.Context, ec *ethclient.Client, pool common.Address, poolABI abi.ABI, method string) (*uint256.Int, error) {
	values, err := callPoolMethod(ctx, ec, pool, poolABI, method)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	v, err := asUint256(values[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return v, nil
}

func callPoolMethod(ctx context.Context, ec *ethclient.Client, pool common.Address, poolABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := poolABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &pool, Data: data}
	resp, err := ec.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := poolABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func asUint256(v interface{}) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", v)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("value exceeds 256 bits")
	}
	return u, nil
}

func asInt24(v interface{}) (int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	if !b.IsInt64() {
		return 0, fmt.Errorf("tick out of range: %s", b)
	}
	return int(b.Int64()), nil
}

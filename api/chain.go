package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockClock reports the current block height. Cooldown windows and
// opened-at/registered-at markers are measured in blocks, so the engine
// depends on this instead of wall clocks.
type BlockClock interface {
	Height(ctx context.Context) (uint64, error)
}

// ChainClock reads block heights from an Ethereum JSON-RPC endpoint.
type ChainClock struct {
	client *ethclient.Client
}

var _ BlockClock = (*ChainClock)(nil)

// DialChainClock connects to the RPC endpoint at rawURL.
func DialChainClock(ctx context.Context, rawURL string) (*ChainClock, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rawURL, err)
	}
	return &ChainClock{client: client}, nil
}

// Height returns the latest block number.
func (c *ChainClock) Height(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// Close releases the underlying RPC connection.
func (c *ChainClock) Close() {
	c.client.Close()
}

// ManualClock is a BlockClock driven by hand. Used in tests and in
// deployments without a chain endpoint.
type ManualClock struct {
	mu     sync.Mutex
	height uint64
}

var _ BlockClock = (*ManualClock)(nil)

// NewManualClock starts a manual clock at the given height.
func NewManualClock(height uint64) *ManualClock {
	return &ManualClock{height: height}
}

// Height returns the current manual height.
func (c *ManualClock) Height(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

// Advance moves the clock forward by n blocks.
func (c *ManualClock) Advance(n uint64) {
	c.mu.Lock()
	c.height += n
	c.mu.Unlock()
}

// SetHeight pins the clock to an absolute height.
func (c *ManualClock) SetHeight(h uint64) {
	c.mu.Lock()
	c.height = h
	c.mu.Unlock()
}

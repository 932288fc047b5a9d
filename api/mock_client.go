package api

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MockVenue is an in-memory exchange plus custody implementation for
// testing. It keeps real token balances per account so balance-delta
// assertions in the engine behave the way they would against a live
// venue.
type MockVenue struct {
	mu sync.Mutex

	// EngineAccount is the custody account funds are pulled into.
	EngineAccount common.Address

	// Balances holds token -> account -> balance.
	Balances map[common.Address]map[common.Address]*big.Int

	// SwapOut overrides the swap output when set; otherwise swaps are 1:1.
	SwapOut *big.Int

	// SkipCredit makes Swap report success without crediting the
	// recipient, simulating a non-conforming exchange.
	SkipCredit bool

	// Call tracking for assertions
	Calls map[string]int

	// Error injection for testing error paths
	ErrorOnNext map[string]error
}

var _ Exchange = (*MockVenue)(nil)
var _ AssetCustody = (*MockVenue)(nil)

// NewMockVenue creates an empty mock venue.
func NewMockVenue(engineAccount common.Address) *MockVenue {
	return &MockVenue{
		EngineAccount: engineAccount,
		Balances:      make(map[common.Address]map[common.Address]*big.Int),
		Calls:         make(map[string]int),
		ErrorOnNext:   make(map[string]error),
	}
}

// trackCall counts the call and pops any injected error for it.
func (m *MockVenue) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// Fund credits an account so tests can set up balances.
func (m *MockVenue) Fund(token, account common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(token, account, amount)
}

// Balance reads a tracked balance without counting a call.
func (m *MockVenue) Balance(token, account common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.Balances[token][account]
	if cur == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(cur)
}

func (m *MockVenue) credit(token, account common.Address, amount *big.Int) {
	if m.Balances[token] == nil {
		m.Balances[token] = make(map[common.Address]*big.Int)
	}
	cur := m.Balances[token][account]
	if cur == nil {
		cur = big.NewInt(0)
	}
	m.Balances[token][account] = new(big.Int).Add(cur, amount)
}

func (m *MockVenue) debit(token, account common.Address, amount *big.Int) error {
	cur := m.Balances[token][account]
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("mock venue: insufficient balance for %s", account.Hex())
	}
	m.Balances[token][account] = new(big.Int).Sub(cur, amount)
	return nil
}

// BalanceOf returns the tracked balance (zero when unknown).
func (m *MockVenue) BalanceOf(_ context.Context, token, account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("BalanceOf"); err != nil {
		return nil, err
	}
	cur := m.Balances[token][account]
	if cur == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(cur), nil
}

// PullFrom moves amount of token from owner into the engine account.
func (m *MockVenue) PullFrom(_ context.Context, token, owner common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("PullFrom"); err != nil {
		return err
	}
	if err := m.debit(token, owner, amount); err != nil {
		return err
	}
	m.credit(token, m.EngineAccount, amount)
	return nil
}

// PushTo moves amount of token from the engine account to recipient.
func (m *MockVenue) PushTo(_ context.Context, token, recipient common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("PushTo"); err != nil {
		return err
	}
	if err := m.debit(token, m.EngineAccount, amount); err != nil {
		return err
	}
	m.credit(token, recipient, amount)
	return nil
}

// ApproveSpender records the approval; the mock venue keeps no real
// allowance bookkeeping.
func (m *MockVenue) ApproveSpender(_ context.Context, token, spender common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackCall("ApproveSpender")
}

// Quote returns [amountIn, estimatedOut].
func (m *MockVenue) Quote(_ context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address) ([]*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("Quote"); err != nil {
		return nil, err
	}
	out := m.swapOutFor(amountIn)
	return []*big.Int{new(big.Int).Set(amountIn), out}, nil
}

// Swap debits the engine account and credits the recipient with the
// configured output, enforcing amountOutMin like a real router.
func (m *MockVenue) Swap(_ context.Context, amountIn, amountOutMin *big.Int, tokenIn, tokenOut common.Address, recipient common.Address, deadline int64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("Swap"); err != nil {
		return nil, err
	}

	out := m.swapOutFor(amountIn)
	if out.Cmp(amountOutMin) < 0 {
		return nil, fmt.Errorf("mock venue: output %s below minimum %s", out, amountOutMin)
	}

	if err := m.debit(tokenIn, m.EngineAccount, amountIn); err != nil {
		return nil, err
	}
	if !m.SkipCredit {
		m.credit(tokenOut, recipient, out)
	}
	return out, nil
}

func (m *MockVenue) swapOutFor(amountIn *big.Int) *big.Int {
	if m.SwapOut != nil {
		return new(big.Int).Set(m.SwapOut)
	}
	return new(big.Int).Set(amountIn)
}

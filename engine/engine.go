// Package engine implements the mirror-trading ledger core: leader
// registry, mirror-session lifecycle, trail execution, and replica
// positions.
//
// Every mutating operation funnels through one mutex, so check-then-act
// sequences (cooldown, allocation, caps) never race. Collaborator calls
// happen while the lock is held; a collaborator that calls back into a
// mutating operation is rejected instead of deadlocking (see guard).
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/api"
	"mirror-ledger/ledger"
	"mirror-ledger/storage"
)

// Protocol constants. Fee and slippage are expressed in basis points.
const (
	FeeBps         = 15
	BpsDenominator = 10000
	MaxSlippageBps = 10000

	MaxOpenReplicas     = 32
	MaxLeaders          = 512
	MaxFollowersCeiling = 500
	MaxRouterUpdates    = 8

	DefaultCooldownBlocks = 5
)

// Params carries deployment-specific engine settings.
type Params struct {
	CooldownBlocks uint64
	FeeVault       common.Address
	Owner          common.Address
	Operator       common.Address
	Router         common.Address
}

// Engine owns the authoritative ledger and enforces every invariant
// binding allocations, cooldowns, and caps.
type Engine struct {
	mu  sync.RWMutex
	led *ledger.Ledger

	exchange api.Exchange
	custody  api.AssetCustody
	clock    api.BlockClock
	journal  storage.TradeJournal // optional write-behind history, may be nil

	cooldownBlocks uint64
	feeVault       common.Address
	owner          common.Address
	operator       common.Address
	router         common.Address
	halted         bool

	metrics  Metrics
	volumeIn *big.Int
}

// New wires up an engine. journal may be nil to disable history
// persistence.
func New(exchange api.Exchange, custody api.AssetCustody, clock api.BlockClock, journal storage.TradeJournal, params Params) *Engine {
	cooldown := params.CooldownBlocks
	if cooldown == 0 {
		cooldown = DefaultCooldownBlocks
	}
	return &Engine{
		led:            ledger.New(),
		exchange:       exchange,
		custody:        custody,
		clock:          clock,
		journal:        journal,
		cooldownBlocks: cooldown,
		feeVault:       params.FeeVault,
		owner:          params.Owner,
		operator:       params.Operator,
		router:         params.Router,
		volumeIn:       big.NewInt(0),
	}
}

// inFlightKey marks contexts handed to collaborators while a mutating
// operation is mid-flight.
type inFlightKey struct{}

// markInFlight tags the context passed to collaborator calls.
func markInFlight(ctx context.Context) context.Context {
	return context.WithValue(ctx, inFlightKey{}, true)
}

// guard rejects calls re-entering the engine from inside an in-flight
// collaborator call.
func guard(ctx context.Context) error {
	if v, _ := ctx.Value(inFlightKey{}).(bool); v {
		return ErrReentrant
	}
	return nil
}

// isOwner reports whether caller is the contract owner.
func (e *Engine) isOwner(caller common.Address) bool {
	return caller == e.owner
}

// isOperator reports whether caller holds the operator role. The owner
// always qualifies.
func (e *Engine) isOperator(caller common.Address) bool {
	return caller == e.operator || caller == e.owner
}

// height reads the current block from the clock collaborator.
func (e *Engine) height(ctx context.Context) (uint64, error) {
	h, err := e.clock.Height(markInFlight(ctx))
	if err != nil {
		return 0, fmt.Errorf("%w: block height: %v", ErrCollaborator, err)
	}
	return h, nil
}

// cooldownElapsed reports whether the leader may trail at the given
// height. A leader that never trailed (marker 0) is never throttled.
func (e *Engine) cooldownElapsed(lastTrailBlock, height uint64) bool {
	if lastTrailBlock == 0 {
		return true
	}
	if height < lastTrailBlock {
		return false
	}
	return height-lastTrailBlock >= e.cooldownBlocks
}

// feeOn computes the 15 bps fee on amount and the remainder that
// reaches the exchange.
func feeOn(amount *big.Int) (fee, afterFee *big.Int) {
	fee = new(big.Int).Mul(amount, big.NewInt(FeeBps))
	fee.Div(fee, big.NewInt(BpsDenominator))
	afterFee = new(big.Int).Sub(amount, fee)
	return fee, afterFee
}

// reserveAllocation is the single gate keeping a session's cumulative
// mirrored exposure under its authorized ceiling. It mutates the staged
// session only on success.
func reserveAllocation(used, max, amount *big.Int) (*big.Int, error) {
	next := new(big.Int).Add(used, amount)
	if next.Cmp(max) > 0 {
		return nil, fmt.Errorf("%w: allocation %s + %s exceeds %s", ErrCapacityExceeded, used, amount, max)
	}
	return next, nil
}

var zeroAddress common.Address

// validAmount reports whether amount is a positive value.
func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

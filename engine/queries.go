package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/models"
)

// Queries run under a read lock and return copies, so callers observe a
// consistent snapshot and can never mutate ledger state through a
// returned pointer.

// Leader returns the profile for id.
func (e *Engine) Leader(id uint64) (*models.LeaderProfile, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p := e.led.Leader(id)
	if p == nil {
		return nil, fmt.Errorf("%w: leader %d", ErrNotFound, id)
	}
	return p.Clone(), nil
}

// LeaderByAddress resolves addr to its current profile.
func (e *Engine) LeaderByAddress(addr common.Address) (*models.LeaderProfile, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p := e.led.Leader(e.led.LeaderIDByAddress(addr))
	if p == nil {
		return nil, fmt.Errorf("%w: no leader at %s", ErrNotFound, addr.Hex())
	}
	return p.Clone(), nil
}

// Leaders is the batched variant of Leader.
func (e *Engine) Leaders(ids []uint64) ([]*models.LeaderProfile, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.LeaderProfile, 0, len(ids))
	for _, id := range ids {
		p := e.led.Leader(id)
		if p == nil {
			return nil, fmt.Errorf("%w: leader %d", ErrNotFound, id)
		}
		out = append(out, p.Clone())
	}
	return out, nil
}

// Session returns the session for id.
func (e *Engine) Session(id uint64) (*models.MirrorSession, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.led.Session(id)
	if s == nil {
		return nil, fmt.Errorf("%w: session %d", ErrNotFound, id)
	}
	return s.Clone(), nil
}

// Sessions is the batched variant of Session.
func (e *Engine) Sessions(ids []uint64) ([]*models.MirrorSession, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.MirrorSession, 0, len(ids))
	for _, id := range ids {
		s := e.led.Session(id)
		if s == nil {
			return nil, fmt.Errorf("%w: session %d", ErrNotFound, id)
		}
		out = append(out, s.Clone())
	}
	return out, nil
}

// Replica returns the position for id.
func (e *Engine) Replica(id uint64) (*models.ReplicaPosition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r := e.led.Replica(id)
	if r == nil {
		return nil, fmt.Errorf("%w: replica %d", ErrNotFound, id)
	}
	return r.Clone(), nil
}

// Trail returns the record for id.
func (e *Engine) Trail(id uint64) (*models.TrailRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r := e.led.Trail(id)
	if r == nil {
		return nil, fmt.Errorf("%w: trail %d", ErrNotFound, id)
	}
	return r.Clone(), nil
}

// Trails is the batched variant of Trail.
func (e *Engine) Trails(ids []uint64) ([]*models.TrailRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.TrailRecord, 0, len(ids))
	for _, id := range ids {
		r := e.led.Trail(id)
		if r == nil {
			return nil, fmt.Errorf("%w: trail %d", ErrNotFound, id)
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// LeaderIDs enumerates every leader id ever designated.
func (e *Engine) LeaderIDs() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.LeaderIDs()
}

// SessionIDs enumerates every session id ever opened.
func (e *Engine) SessionIDs() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.SessionIDs()
}

// FollowerSessionIDs lists follower's sessions.
func (e *Engine) FollowerSessionIDs(follower common.Address) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.FollowerSessionIDs(follower)
}

// LeaderSessionIDs lists the sessions enrolled against leader.
func (e *Engine) LeaderSessionIDs(leader common.Address) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.LeaderSessionIDs(leader)
}

// FollowerReplicaIDs lists follower's replica positions.
func (e *Engine) FollowerReplicaIDs(follower common.Address) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.FollowerReplicaIDs(follower)
}

// FollowerTrailIDs lists follower's trail records.
func (e *Engine) FollowerTrailIDs(follower common.Address) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.FollowerTrailIDs(follower)
}

// LeaderTrailIDs lists leader's trail records.
func (e *Engine) LeaderTrailIDs(leader common.Address) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.LeaderTrailIDs(leader)
}

// RemainingAllocation returns how much input volume the session can
// still absorb.
func (e *Engine) RemainingAllocation(sessionID uint64) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.led.Session(sessionID)
	if s == nil {
		return nil, fmt.Errorf("%w: session %d", ErrNotFound, sessionID)
	}
	return s.RemainingAlloc(), nil
}

// OpenReplicaCount counts follower's positions not yet closed.
func (e *Engine) OpenReplicaCount(follower common.Address) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.OpenReplicaCount(follower)
}

// CanExecuteTrail reports whether the leader's cooldown window has
// elapsed at the current block.
func (e *Engine) CanExecuteTrail(ctx context.Context, leader common.Address) (bool, error) {
	height, err := e.height(ctx)
	if err != nil {
		return false, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	lp := e.led.Leader(e.led.LeaderIDByAddress(leader))
	if lp == nil {
		return false, fmt.Errorf("%w: no leader at %s", ErrNotFound, leader.Hex())
	}
	return e.cooldownElapsed(lp.LastTrailBlock, height), nil
}

// EstimateMinOut quotes amountIn through the exchange and applies the
// session's slippage tolerance to the estimated output.
func (e *Engine) EstimateMinOut(ctx context.Context, sessionID uint64, amountIn *big.Int, tokenIn, tokenOut common.Address) (*big.Int, error) {
	if !validAmount(amountIn) {
		return nil, fmt.Errorf("%w: zero amount", ErrInvalidArgument)
	}

	e.mu.RLock()
	s := e.led.Session(sessionID)
	if s == nil {
		e.mu.RUnlock()
		return nil, fmt.Errorf("%w: session %d", ErrNotFound, sessionID)
	}
	slippageBps := s.SlippageBps
	e.mu.RUnlock()

	amounts, err := e.exchange.Quote(markInFlight(ctx), amountIn, tokenIn, tokenOut)
	if err != nil {
		return nil, fmt.Errorf("%w: quote: %v", ErrCollaborator, err)
	}
	if len(amounts) == 0 {
		return nil, fmt.Errorf("%w: empty quote", ErrCollaborator)
	}
	estimated := amounts[len(amounts)-1]

	minOut := new(big.Int).Mul(estimated, big.NewInt(int64(BpsDenominator-slippageBps)))
	minOut.Div(minOut, big.NewInt(BpsDenominator))
	return minOut, nil
}

// RouterUpdates returns every recorded endpoint rotation.
func (e *Engine) RouterUpdates() []models.RouterUpdate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.RouterUpdates()
}

// Halted reports the state of the global halt gate.
func (e *Engine) Halted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

// Router returns the current exchange endpoint address.
func (e *Engine) Router() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.router
}

// Operator returns the current operator address.
func (e *Engine) Operator() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.operator
}

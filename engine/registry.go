package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/models"
)

// DesignateLeader registers leader with a follower cap and returns the
// fresh leader id. Restricted to the operator role.
func (e *Engine) DesignateLeader(ctx context.Context, caller, leader common.Address, maxFollowersCap uint32) (uint64, error) {
	if err := guard(ctx); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOperator(caller) {
		return 0, fmt.Errorf("%w: caller %s is not an operator", ErrUnauthorized, caller.Hex())
	}
	if leader == zeroAddress {
		return 0, fmt.Errorf("%w: zero leader address", ErrInvalidArgument)
	}
	if maxFollowersCap == 0 || maxFollowersCap > MaxFollowersCeiling {
		return 0, fmt.Errorf("%w: follower cap %d out of range [1, %d]", ErrInvalidArgument, maxFollowersCap, MaxFollowersCeiling)
	}
	if e.led.LeaderIDByAddress(leader) != 0 {
		return 0, fmt.Errorf("%w: %s is already a leader", ErrStateConflict, leader.Hex())
	}
	if e.led.LeaderCount() >= MaxLeaders {
		return 0, fmt.Errorf("%w: leader ceiling %d reached", ErrCapacityExceeded, MaxLeaders)
	}

	height, err := e.height(ctx)
	if err != nil {
		return 0, err
	}

	p := e.led.DesignateLeader(leader, maxFollowersCap, height)
	log.Printf("[Registry] designated leader %s id=%d cap=%d", leader.Hex(), p.ID, maxFollowersCap)
	e.journalLeader(ctx, p)
	return p.ID, nil
}

// RevokeLeader clears the leader's active flag and frees the address
// for re-designation. The old profile record persists for history; a
// re-designated address gets a brand-new record with reset follower
// count and volume.
func (e *Engine) RevokeLeader(ctx context.Context, caller, leader common.Address) error {
	if err := guard(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOperator(caller) {
		return fmt.Errorf("%w: caller %s is not an operator", ErrUnauthorized, caller.Hex())
	}
	id := e.led.LeaderIDByAddress(leader)
	if id == 0 {
		return fmt.Errorf("%w: no leader on record for %s", ErrNotFound, leader.Hex())
	}

	e.led.RevokeLeader(leader)
	log.Printf("[Registry] revoked leader %s id=%d", leader.Hex(), id)
	if p := e.led.Leader(id); p != nil {
		e.journalLeader(ctx, p)
	}
	return nil
}

// journalLeader is write-behind: the ledger committed already, so a
// journal failure is logged, not propagated.
func (e *Engine) journalLeader(ctx context.Context, p *models.LeaderProfile) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveLeader(ctx, *p.Clone()); err != nil {
		log.Printf("[Registry] journal leader %d: %v", p.ID, err)
	}
}

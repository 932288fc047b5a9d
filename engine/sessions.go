package engine

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/models"
)

// Enroll opens a mirror session binding the calling follower to a
// leader, bounded by maxAlloc cumulative input volume. Exactly one
// active session may exist per (follower, leader) pair.
func (e *Engine) Enroll(ctx context.Context, follower, leader common.Address, maxAlloc *big.Int, slippageBps uint32) (uint64, error) {
	if err := guard(ctx); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return 0, ErrHalted
	}
	if follower == zeroAddress || leader == zeroAddress {
		return 0, fmt.Errorf("%w: zero address", ErrInvalidArgument)
	}
	if !validAmount(maxAlloc) {
		return 0, fmt.Errorf("%w: zero allocation", ErrInvalidArgument)
	}
	if slippageBps > MaxSlippageBps {
		return 0, fmt.Errorf("%w: slippage %d bps exceeds %d", ErrInvalidArgument, slippageBps, MaxSlippageBps)
	}

	lp := e.led.ActiveLeaderByAddress(leader)
	if lp == nil {
		return 0, fmt.Errorf("%w: no active leader at %s", ErrNotFound, leader.Hex())
	}
	if lp.FollowerCount >= lp.MaxFollowersCap {
		return 0, fmt.Errorf("%w: leader %d follower cap %d reached", ErrCapacityExceeded, lp.ID, lp.MaxFollowersCap)
	}
	if e.led.ActiveSessionID(follower, leader) != 0 {
		return 0, fmt.Errorf("%w: already enrolled with leader %s", ErrStateConflict, leader.Hex())
	}

	height, err := e.height(ctx)
	if err != nil {
		return 0, err
	}

	s := e.led.CreateSession(follower, leader, maxAlloc, slippageBps, height)
	lp.FollowerCount++
	log.Printf("[Sessions] enrolled follower %s with leader %s session=%d maxAlloc=%s",
		follower.Hex(), leader.Hex(), s.ID, maxAlloc)
	e.journalSession(ctx, s)
	return s.ID, nil
}

// Unenroll deactivates the caller's session. The session's allocation
// fields are frozen from this point; re-enrolling later creates a fresh
// session id.
func (e *Engine) Unenroll(ctx context.Context, caller common.Address, sessionID uint64) error {
	if err := guard(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return ErrHalted
	}

	s := e.led.Session(sessionID)
	if s == nil {
		return fmt.Errorf("%w: session %d", ErrNotFound, sessionID)
	}
	if !s.Active {
		return fmt.Errorf("%w: session %d already inactive", ErrStateConflict, sessionID)
	}
	if s.Follower != caller {
		return fmt.Errorf("%w: caller %s is not the session follower", ErrUnauthorized, caller.Hex())
	}

	e.led.DeactivateSession(sessionID)

	// Follower count tracks whatever profile the leader address maps to
	// now; floor at zero.
	if lp := e.led.Leader(e.led.LeaderIDByAddress(s.Leader)); lp != nil && lp.FollowerCount > 0 {
		lp.FollowerCount--
	}

	log.Printf("[Sessions] unenrolled session=%d follower=%s", sessionID, caller.Hex())
	e.journalSession(ctx, s)
	return nil
}

func (e *Engine) journalSession(ctx context.Context, s *models.MirrorSession) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveSession(ctx, *s.Clone()); err != nil {
		log.Printf("[Sessions] journal session %d: %v", s.ID, err)
	}
}

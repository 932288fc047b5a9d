package engine

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/models"
)

// OpenReplica opens a long-lived mirrored position against the
// follower's session with the calling leader. The full amountIn is
// pulled into custody with no fee at open time and charged against the
// session allocation immediately.
func (e *Engine) OpenReplica(ctx context.Context, caller, follower, tokenIn, tokenOut common.Address, amountIn *big.Int) (uint64, error) {
	if err := guard(ctx); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return 0, ErrHalted
	}
	if caller == zeroAddress || follower == zeroAddress || tokenIn == zeroAddress || tokenOut == zeroAddress {
		return 0, fmt.Errorf("%w: zero address", ErrInvalidArgument)
	}
	if !validAmount(amountIn) {
		return 0, fmt.Errorf("%w: zero amount", ErrInvalidArgument)
	}

	sid := e.led.ActiveSessionID(follower, caller)
	if sid == 0 {
		return 0, fmt.Errorf("%w: no active session for follower %s", ErrNotFound, follower.Hex())
	}
	if e.led.OpenReplicaCount(follower) >= MaxOpenReplicas {
		return 0, fmt.Errorf("%w: follower %s has %d open replicas", ErrCapacityExceeded, follower.Hex(), MaxOpenReplicas)
	}

	height, err := e.height(ctx)
	if err != nil {
		return 0, err
	}

	tx := e.led.Begin()
	session := tx.Session(sid)

	used, err := reserveAllocation(session.UsedAlloc, session.MaxAlloc, amountIn)
	if err != nil {
		return 0, err
	}

	if err := e.custody.PullFrom(markInFlight(ctx), tokenIn, caller, amountIn); err != nil {
		return 0, fmt.Errorf("%w: custody pull: %v", ErrCollaborator, err)
	}

	session.UsedAlloc = used
	rec := &models.ReplicaPosition{
		Follower:    follower,
		Leader:      caller,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    new(big.Int).Set(amountIn),
		OpenedBlock: height,
	}
	tx.CreateReplica(rec)
	tx.Commit()

	e.metrics.ReplicasOpened++
	log.Printf("[Replicas] opened replica=%d leader=%s follower=%s amountIn=%s",
		rec.ID, caller.Hex(), follower.Hex(), amountIn)
	e.journalReplica(ctx, rec)

	return rec.ID, nil
}

// CloseReplica terminates the caller's position exactly once. The 15
// bps fee is computed on the stored amountIn and taken at close from
// the custodied principal; the remainder is swapped to tokenOut for the
// follower with the same balance-delta measurement as a trail.
func (e *Engine) CloseReplica(ctx context.Context, caller common.Address, replicaID uint64, amountOutMin *big.Int, deadline int64) (*big.Int, error) {
	if err := guard(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return nil, ErrHalted
	}
	if amountOutMin == nil {
		amountOutMin = big.NewInt(0)
	}

	base := e.led.Replica(replicaID)
	if base == nil {
		return nil, fmt.Errorf("%w: replica %d", ErrNotFound, replicaID)
	}
	if base.Closed {
		return nil, fmt.Errorf("%w: replica %d already closed", ErrStateConflict, replicaID)
	}
	if base.Follower != caller {
		return nil, fmt.Errorf("%w: caller %s is not the position follower", ErrUnauthorized, caller.Hex())
	}

	tx := e.led.Begin()
	rec := tx.Replica(replicaID)

	fee, afterFee := feeOn(rec.AmountIn)
	cctx := markInFlight(ctx)

	if err := e.custody.ApproveSpender(cctx, rec.TokenIn, e.router, afterFee); err != nil {
		return nil, fmt.Errorf("%w: approve router: %v", ErrCollaborator, err)
	}
	balBefore, err := e.custody.BalanceOf(cctx, rec.TokenOut, rec.Follower)
	if err != nil {
		return nil, fmt.Errorf("%w: balance read: %v", ErrCollaborator, err)
	}
	if _, err := e.exchange.Swap(cctx, afterFee, amountOutMin, rec.TokenIn, rec.TokenOut, rec.Follower, deadline); err != nil {
		return nil, fmt.Errorf("%w: swap: %v", ErrCollaborator, err)
	}
	balAfter, err := e.custody.BalanceOf(cctx, rec.TokenOut, rec.Follower)
	if err != nil {
		return nil, fmt.Errorf("%w: balance read after swap: %v", ErrCollaborator, err)
	}
	delta := new(big.Int).Sub(balAfter, balBefore)
	if delta.Sign() <= 0 {
		return nil, fmt.Errorf("%w: swap delivered no output", ErrCollaborator)
	}

	if fee.Sign() > 0 {
		if err := e.custody.PushTo(cctx, rec.TokenIn, e.feeVault, fee); err != nil {
			return nil, fmt.Errorf("%w: fee transfer: %v", ErrCollaborator, err)
		}
	}

	rec.Closed = true
	rec.AmountOutOnClose = delta
	tx.Commit()

	e.metrics.ReplicasClosed++
	log.Printf("[Replicas] closed replica=%d follower=%s out=%s", replicaID, caller.Hex(), delta)
	e.journalReplica(ctx, rec)

	return delta, nil
}

func (e *Engine) journalReplica(ctx context.Context, r *models.ReplicaPosition) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveReplica(ctx, *r.Clone()); err != nil {
		log.Printf("[Replicas] journal replica %d: %v", r.ID, err)
	}
}

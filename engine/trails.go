package engine

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/models"
)

// ExecuteTrail mirrors one trade of the calling leader onto follower's
// session. The full pre-fee amountIn is charged against the session
// allocation; the exchange receives amountIn minus the 15 bps fee. The
// realized output is the follower's tokenOut balance delta around the
// swap, not the value the exchange reports.
//
// The call is all-or-nothing: ledger mutations are staged and committed
// only after every collaborator step succeeds, and a custody pull is
// refunded if a later step fails before the swap spends it.
func (e *Engine) ExecuteTrail(ctx context.Context, caller, follower, tokenIn, tokenOut common.Address, amountIn, amountOutMin *big.Int, deadline int64) (*big.Int, uint64, error) {
	if err := guard(ctx); err != nil {
		return nil, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return nil, 0, ErrHalted
	}
	if caller == zeroAddress || follower == zeroAddress || tokenIn == zeroAddress || tokenOut == zeroAddress {
		return nil, 0, fmt.Errorf("%w: zero address", ErrInvalidArgument)
	}
	if !validAmount(amountIn) {
		return nil, 0, fmt.Errorf("%w: zero amount", ErrInvalidArgument)
	}
	if amountOutMin == nil {
		amountOutMin = big.NewInt(0)
	}

	height, err := e.height(ctx)
	if err != nil {
		return nil, 0, err
	}

	lid := e.led.LeaderIDByAddress(caller)
	if lid == 0 {
		return nil, 0, fmt.Errorf("%w: caller %s is not a leader", ErrNotFound, caller.Hex())
	}
	sid := e.led.ActiveSessionID(follower, caller)
	if sid == 0 {
		return nil, 0, fmt.Errorf("%w: no active session for follower %s", ErrNotFound, follower.Hex())
	}

	tx := e.led.Begin()
	session := tx.Session(sid)
	lp := tx.Leader(lid)

	used, err := reserveAllocation(session.UsedAlloc, session.MaxAlloc, amountIn)
	if err != nil {
		return nil, 0, err
	}
	if !e.cooldownElapsed(lp.LastTrailBlock, height) {
		return nil, 0, fmt.Errorf("%w: leader %d last trailed at block %d", ErrThrottled, lid, lp.LastTrailBlock)
	}

	fee, afterFee := feeOn(amountIn)
	cctx := markInFlight(ctx)

	if err := e.custody.PullFrom(cctx, tokenIn, caller, amountIn); err != nil {
		return nil, 0, fmt.Errorf("%w: custody pull: %v", ErrCollaborator, err)
	}
	// Everything past the pull compensates with a refund on failure so
	// a failed single trail leaves custody as untouched as the ledger.
	if err := e.custody.ApproveSpender(cctx, tokenIn, e.router, afterFee); err != nil {
		e.refund(cctx, tokenIn, caller, amountIn)
		return nil, 0, fmt.Errorf("%w: approve router: %v", ErrCollaborator, err)
	}
	balBefore, err := e.custody.BalanceOf(cctx, tokenOut, follower)
	if err != nil {
		e.refund(cctx, tokenIn, caller, amountIn)
		return nil, 0, fmt.Errorf("%w: balance read: %v", ErrCollaborator, err)
	}
	if _, err := e.exchange.Swap(cctx, afterFee, amountOutMin, tokenIn, tokenOut, follower, deadline); err != nil {
		e.refund(cctx, tokenIn, caller, amountIn)
		return nil, 0, fmt.Errorf("%w: swap: %v", ErrCollaborator, err)
	}
	balAfter, err := e.custody.BalanceOf(cctx, tokenOut, follower)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: balance read after swap: %v", ErrCollaborator, err)
	}

	delta := new(big.Int).Sub(balAfter, balBefore)
	if delta.Sign() <= 0 {
		return nil, 0, fmt.Errorf("%w: swap delivered no output", ErrCollaborator)
	}

	if fee.Sign() > 0 {
		if err := e.custody.PushTo(cctx, tokenIn, e.feeVault, fee); err != nil {
			return nil, 0, fmt.Errorf("%w: fee transfer: %v", ErrCollaborator, err)
		}
	}

	session.UsedAlloc = used
	lp.VolumeIn = new(big.Int).Add(lp.VolumeIn, amountIn)
	lp.LastTrailBlock = height

	rec := &models.TrailRecord{
		Leader:    caller,
		Follower:  follower,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: delta,
		Block:     height,
	}
	tx.AppendTrail(rec)
	tx.Commit()

	e.metrics.TrailsExecuted++
	e.volumeIn.Add(e.volumeIn, amountIn)
	log.Printf("[TrailEngine] trail=%d leader=%s follower=%s in=%s out=%s",
		rec.ID, caller.Hex(), follower.Hex(), amountIn, delta)
	e.journalTrail(ctx, rec)

	return delta, rec.ID, nil
}

// ExecuteTrailBatch applies the single-trail checks per entry but skips
// failing entries instead of aborting. Only a length mismatch fails the
// whole call. Returns the executed count and the first trail id
// assigned in this batch (the counter value at entry when nothing
// executed).
//
// The cooldown gate relaxes inside a batch: entries are exempt until
// the first success; afterwards entries are checked against the
// leader's pre-batch marker, so a batch never throttles itself on the
// marker it just wrote.
//
// Batch entries do not compensate: an entry whose swap fails keeps its
// custody pull and fee transfer.
func (e *Engine) ExecuteTrailBatch(ctx context.Context, caller common.Address, followers, tokensIn, tokensOut []common.Address, amountsIn, amountsOutMin []*big.Int, deadline int64) (int, uint64, error) {
	if err := guard(ctx); err != nil {
		return 0, 0, err
	}

	n := len(followers)
	if len(tokensIn) != n || len(tokensOut) != n || len(amountsIn) != n || len(amountsOutMin) != n {
		return 0, 0, fmt.Errorf("%w: batch length mismatch", ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return 0, 0, ErrHalted
	}

	firstID := e.led.NextTrailID()
	if n == 0 {
		return 0, firstID, nil
	}

	height, err := e.height(ctx)
	if err != nil {
		return 0, 0, err
	}

	lid := e.led.LeaderIDByAddress(caller)
	preBatchLast := uint64(0)
	if lp := e.led.Leader(lid); lp != nil {
		preBatchLast = lp.LastTrailBlock
	}

	executed := 0
	for i := 0; i < n; i++ {
		out := e.batchEntry(ctx, batchEntryArgs{
			caller:       caller,
			follower:     followers[i],
			tokenIn:      tokensIn[i],
			tokenOut:     tokensOut[i],
			amountIn:     amountsIn[i],
			amountOutMin: amountsOutMin[i],
			deadline:     deadline,
			height:       height,
			leaderID:     lid,
			preBatchLast: preBatchLast,
			executed:     executed,
		})
		if out.committed {
			executed++
			e.metrics.TrailsExecuted++
			e.volumeIn.Add(e.volumeIn, amountsIn[i])
			log.Printf("[TrailEngine] batch entry %d committed trail=%d follower=%s", i, out.trailID, followers[i].Hex())
		} else {
			e.metrics.TrailsSkipped++
			log.Printf("[TrailEngine] batch entry %d skipped: %s", i, out.reason)
		}
	}

	return executed, firstID, nil
}

type batchEntryArgs struct {
	caller       common.Address
	follower     common.Address
	tokenIn      common.Address
	tokenOut     common.Address
	amountIn     *big.Int
	amountOutMin *big.Int
	deadline     int64
	height       uint64
	leaderID     uint64
	preBatchLast uint64
	executed     int
}

type trailOutcome struct {
	committed bool
	trailID   uint64
	reason    string
}

func skipped(format string, args ...interface{}) trailOutcome {
	return trailOutcome{reason: fmt.Sprintf(format, args...)}
}

// batchEntry runs one batch entry under the already-held engine lock.
// All failures are silent skips; custody effects taken before a failed
// swap stay taken.
func (e *Engine) batchEntry(ctx context.Context, a batchEntryArgs) trailOutcome {
	if a.leaderID == 0 {
		return skipped("caller is not a leader")
	}
	if a.follower == zeroAddress || a.tokenIn == zeroAddress || a.tokenOut == zeroAddress {
		return skipped("zero address")
	}
	if !validAmount(a.amountIn) {
		return skipped("zero amount")
	}
	amountOutMin := a.amountOutMin
	if amountOutMin == nil {
		amountOutMin = big.NewInt(0)
	}

	sid := e.led.ActiveSessionID(a.follower, a.caller)
	if sid == 0 {
		return skipped("no active session for %s", a.follower.Hex())
	}

	tx := e.led.Begin()
	session := tx.Session(sid)
	lp := tx.Leader(a.leaderID)

	used, err := reserveAllocation(session.UsedAlloc, session.MaxAlloc, a.amountIn)
	if err != nil {
		return skipped("allocation exceeded for session %d", sid)
	}
	if a.executed > 0 && !e.cooldownElapsed(a.preBatchLast, a.height) {
		return skipped("cooldown active for leader %d", a.leaderID)
	}

	fee, afterFee := feeOn(a.amountIn)
	cctx := markInFlight(ctx)

	if err := e.custody.PullFrom(cctx, a.tokenIn, a.caller, a.amountIn); err != nil {
		return skipped("custody pull: %v", err)
	}
	if fee.Sign() > 0 {
		if err := e.custody.PushTo(cctx, a.tokenIn, e.feeVault, fee); err != nil {
			return skipped("fee transfer: %v", err)
		}
	}
	if err := e.custody.ApproveSpender(cctx, a.tokenIn, e.router, afterFee); err != nil {
		return skipped("approve router: %v", err)
	}
	balBefore, err := e.custody.BalanceOf(cctx, a.tokenOut, a.follower)
	if err != nil {
		return skipped("balance read: %v", err)
	}
	if _, err := e.exchange.Swap(cctx, afterFee, amountOutMin, a.tokenIn, a.tokenOut, a.follower, a.deadline); err != nil {
		return skipped("swap: %v", err)
	}
	balAfter, err := e.custody.BalanceOf(cctx, a.tokenOut, a.follower)
	if err != nil {
		return skipped("balance read after swap: %v", err)
	}
	delta := new(big.Int).Sub(balAfter, balBefore)
	if delta.Sign() <= 0 {
		return skipped("swap delivered no output")
	}

	session.UsedAlloc = used
	lp.VolumeIn = new(big.Int).Add(lp.VolumeIn, a.amountIn)
	lp.LastTrailBlock = a.height

	rec := &models.TrailRecord{
		Leader:    a.caller,
		Follower:  a.follower,
		TokenIn:   a.tokenIn,
		TokenOut:  a.tokenOut,
		AmountIn:  new(big.Int).Set(a.amountIn),
		AmountOut: delta,
		Block:     a.height,
	}
	tx.AppendTrail(rec)
	tx.Commit()
	e.journalTrail(ctx, rec)

	return trailOutcome{committed: true, trailID: rec.ID}
}

// refund returns a pulled amount to its owner after a failed step.
// Best effort: a refund failure is logged, never surfaced.
func (e *Engine) refund(ctx context.Context, token, owner common.Address, amount *big.Int) {
	if err := e.custody.PushTo(ctx, token, owner, amount); err != nil {
		log.Printf("[TrailEngine] refund of %s to %s failed: %v", amount, owner.Hex(), err)
	}
}

func (e *Engine) journalTrail(ctx context.Context, rec *models.TrailRecord) {
	if e.journal == nil {
		return
	}
	if err := e.journal.AppendTrail(ctx, *rec.Clone()); err != nil {
		log.Printf("[TrailEngine] journal trail %d: %v", rec.ID, err)
	}
}

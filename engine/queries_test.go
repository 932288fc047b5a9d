package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/api"
)

func TestCanExecuteTrail(t *testing.T) {
	eng, venue, clock := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CanExecuteTrail(ctx, leaderA); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown leader err = %v, want ErrNotFound", err)
	}

	designateAndEnroll(t, eng, leaderA, followerA, 1_000_000)
	venue.Fund(tokenUSD, leaderA, big.NewInt(100_000))

	ok, err := eng.CanExecuteTrail(ctx, leaderA)
	if err != nil {
		t.Fatalf("CanExecuteTrail: %v", err)
	}
	if !ok {
		t.Error("fresh leader should be able to trail")
	}

	if _, _, err := eng.ExecuteTrail(ctx, leaderA, followerA, tokenUSD, tokenETH, big.NewInt(10_000), nil, 0); err != nil {
		t.Fatalf("ExecuteTrail: %v", err)
	}

	ok, err = eng.CanExecuteTrail(ctx, leaderA)
	if err != nil {
		t.Fatalf("CanExecuteTrail: %v", err)
	}
	if ok {
		t.Error("leader inside window should be throttled")
	}

	clock.Advance(5)
	ok, err = eng.CanExecuteTrail(ctx, leaderA)
	if err != nil {
		t.Fatalf("CanExecuteTrail: %v", err)
	}
	if !ok {
		t.Error("leader past window should be able to trail")
	}
}

func TestEstimateMinOut(t *testing.T) {
	eng, venue, _ := newTestEngine(t)
	ctx := context.Background()

	sid := designateAndEnroll(t, eng, leaderA, followerA, 1_000_000)
	venue.SwapOut = big.NewInt(10_000)

	// Session slippage is 100 bps: 10000 * 9900 / 10000 = 9900.
	minOut, err := eng.EstimateMinOut(ctx, sid, big.NewInt(10_000), tokenUSD, tokenETH)
	if err != nil {
		t.Fatalf("EstimateMinOut: %v", err)
	}
	if minOut.Int64() != 9_900 {
		t.Errorf("minOut = %s, want 9900", minOut)
	}

	if _, err := eng.EstimateMinOut(ctx, 999, big.NewInt(1), tokenUSD, tokenETH); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session err = %v, want ErrNotFound", err)
	}
	if _, err := eng.EstimateMinOut(ctx, sid, big.NewInt(0), tokenUSD, tokenETH); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero amount err = %v, want ErrInvalidArgument", err)
	}
}

// emptyQuoteExchange models a router that answers quotes with an empty
// path.
type emptyQuoteExchange struct{}

func (emptyQuoteExchange) Quote(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address) ([]*big.Int, error) {
	return nil, nil
}

func (emptyQuoteExchange) Swap(ctx context.Context, amountIn, amountOutMin *big.Int, tokenIn, tokenOut common.Address, recipient common.Address, deadline int64) (*big.Int, error) {
	return nil, fmt.Errorf("swap unavailable")
}

func TestEstimateMinOutEmptyQuote(t *testing.T) {
	venue := api.NewMockVenue(testEngineAcct)
	eng := New(emptyQuoteExchange{}, venue, api.NewManualClock(100), nil, Params{
		CooldownBlocks: 5,
		FeeVault:       testVault,
		Owner:          testOwner,
		Operator:       testOperator,
		Router:         testRouter,
	})
	sid := designateAndEnroll(t, eng, leaderA, followerA, 1_000_000)

	_, err := eng.EstimateMinOut(context.Background(), sid, big.NewInt(100), tokenUSD, tokenETH)
	if !errors.Is(err, ErrCollaborator) {
		t.Errorf("empty quote err = %v, want ErrCollaborator", err)
	}
}

func TestQueriesReturnCopies(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	sid := designateAndEnroll(t, eng, leaderA, followerA, 5_000)

	s1, err := eng.Session(sid)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	s1.MaxAlloc.SetInt64(1)
	s1.Active = false

	s2, err := eng.Session(sid)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if s2.MaxAlloc.Int64() != 5_000 {
		t.Errorf("maxAlloc = %s, want 5000 (caller mutation leaked in)", s2.MaxAlloc)
	}
	if !s2.Active {
		t.Error("session should still be active")
	}

	lp1, err := eng.LeaderByAddress(leaderA)
	if err != nil {
		t.Fatalf("LeaderByAddress: %v", err)
	}
	lp1.VolumeIn.SetInt64(777)

	lp2, err := eng.LeaderByAddress(leaderA)
	if err != nil {
		t.Fatalf("LeaderByAddress: %v", err)
	}
	if lp2.VolumeIn.Sign() != 0 {
		t.Errorf("volume = %s, want 0 (caller mutation leaked in)", lp2.VolumeIn)
	}
}

func TestEnumerations(t *testing.T) {
	eng, venue, clock := newTestEngine(t)
	ctx := context.Background()

	designateAndEnroll(t, eng, leaderA, followerA, 1_000_000)
	if _, err := eng.DesignateLeader(ctx, testOperator, leaderB, 10); err != nil {
		t.Fatalf("DesignateLeader: %v", err)
	}
	if _, err := eng.Enroll(ctx, followerA, leaderB, big.NewInt(1_000_000), 0); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	venue.Fund(tokenUSD, leaderA, big.NewInt(100_000))
	venue.Fund(tokenUSD, leaderB, big.NewInt(100_000))

	if _, _, err := eng.ExecuteTrail(ctx, leaderA, followerA, tokenUSD, tokenETH, big.NewInt(10_000), nil, 0); err != nil {
		t.Fatalf("trail leaderA: %v", err)
	}
	clock.Advance(1)
	if _, _, err := eng.ExecuteTrail(ctx, leaderB, followerA, tokenUSD, tokenETH, big.NewInt(5_000), nil, 0); err != nil {
		t.Fatalf("trail leaderB: %v", err)
	}

	if got := eng.LeaderIDs(); len(got) != 2 {
		t.Errorf("leader ids = %v, want 2 entries", got)
	}
	if got := eng.FollowerSessionIDs(followerA); len(got) != 2 {
		t.Errorf("follower sessions = %v, want 2 entries", got)
	}
	if got := eng.FollowerTrailIDs(followerA); len(got) != 2 {
		t.Errorf("follower trails = %v, want 2 entries", got)
	}
	if got := eng.LeaderTrailIDs(leaderA); len(got) != 1 {
		t.Errorf("leaderA trails = %v, want 1 entry", got)
	}
	if got := eng.LeaderTrailIDs(leaderB); len(got) != 1 {
		t.Errorf("leaderB trails = %v, want 1 entry", got)
	}
}

package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDesignateLeader(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := eng.DesignateLeader(ctx, testOperator, leaderA, 10)
	if err != nil {
		t.Fatalf("DesignateLeader: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}

	lp, err := eng.Leader(id)
	if err != nil {
		t.Fatalf("Leader: %v", err)
	}
	if lp.Address != leaderA {
		t.Errorf("address = %s, want %s", lp.Address.Hex(), leaderA.Hex())
	}
	if !lp.Active {
		t.Error("leader should be active")
	}
	if lp.MaxFollowersCap != 10 {
		t.Errorf("cap = %d, want 10", lp.MaxFollowersCap)
	}
	if lp.RegisteredBlock != 100 {
		t.Errorf("registered block = %d, want 100", lp.RegisteredBlock)
	}
	if lp.LastTrailBlock != 0 {
		t.Errorf("last trail block = %d, want 0", lp.LastTrailBlock)
	}
}

func TestDesignateLeaderValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  common.Address
		leader  common.Address
		cap     uint32
		wantErr error
	}{
		{"not operator", followerA, leaderA, 10, ErrUnauthorized},
		{"zero leader", testOperator, common.Address{}, 10, ErrInvalidArgument},
		{"zero cap", testOperator, leaderA, 0, ErrInvalidArgument},
		{"cap over ceiling", testOperator, leaderA, MaxFollowersCeiling + 1, ErrInvalidArgument},
		{"owner allowed", testOwner, leaderA, MaxFollowersCeiling, nil},
		{"duplicate", testOperator, leaderA, 10, ErrStateConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.DesignateLeader(ctx, tt.caller, tt.leader, tt.cap)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRevokeLeader(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := eng.DesignateLeader(ctx, testOperator, leaderA, 10)
	if err != nil {
		t.Fatalf("DesignateLeader: %v", err)
	}

	if err := eng.RevokeLeader(ctx, followerA, leaderA); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-operator revoke err = %v, want ErrUnauthorized", err)
	}
	if err := eng.RevokeLeader(ctx, testOperator, leaderB); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown leader revoke err = %v, want ErrNotFound", err)
	}

	if err := eng.RevokeLeader(ctx, testOperator, leaderA); err != nil {
		t.Fatalf("RevokeLeader: %v", err)
	}

	// Old record persists but is inactive.
	lp, err := eng.Leader(id)
	if err != nil {
		t.Fatalf("Leader: %v", err)
	}
	if lp.Active {
		t.Error("revoked leader should be inactive")
	}
	if _, err := eng.LeaderByAddress(leaderA); !errors.Is(err, ErrNotFound) {
		t.Errorf("LeaderByAddress err = %v, want ErrNotFound", err)
	}
}

func TestRedesignateResetsProfile(t *testing.T) {
	eng, venue, clock := newTestEngine(t)
	ctx := context.Background()

	designateAndEnroll(t, eng, leaderA, followerA, 1_000_000)
	venue.Fund(tokenUSD, leaderA, big.NewInt(10_000))

	if _, _, err := eng.ExecuteTrail(ctx, leaderA, followerA, tokenUSD, tokenETH, big.NewInt(10_000), nil, 0); err != nil {
		t.Fatalf("ExecuteTrail: %v", err)
	}

	if err := eng.RevokeLeader(ctx, testOperator, leaderA); err != nil {
		t.Fatalf("RevokeLeader: %v", err)
	}

	clock.Advance(1)
	id2, err := eng.DesignateLeader(ctx, testOperator, leaderA, 20)
	if err != nil {
		t.Fatalf("re-designate: %v", err)
	}
	if id2 != 2 {
		t.Errorf("second id = %d, want 2", id2)
	}

	lp, err := eng.Leader(id2)
	if err != nil {
		t.Fatalf("Leader: %v", err)
	}
	if lp.FollowerCount != 0 {
		t.Errorf("follower count = %d, want 0", lp.FollowerCount)
	}
	if lp.VolumeIn.Sign() != 0 {
		t.Errorf("volume = %s, want 0", lp.VolumeIn)
	}
	if lp.LastTrailBlock != 0 {
		t.Errorf("last trail block = %d, want 0", lp.LastTrailBlock)
	}
}

func TestLeaderCeiling(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < MaxLeaders; i++ {
		addr := common.BigToAddress(big.NewInt(int64(0x10000 + i)))
		if _, err := eng.DesignateLeader(ctx, testOperator, addr, 5); err != nil {
			t.Fatalf("DesignateLeader %d: %v", i, err)
		}
	}

	extra := common.BigToAddress(big.NewInt(0x20000))
	if _, err := eng.DesignateLeader(ctx, testOperator, extra, 5); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("err = %v, want ErrCapacityExceeded", err)
	}
}

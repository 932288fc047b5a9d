package storage

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/models"
)

var (
	journalLeader   = common.HexToAddress("0x0000000000000000000000000000000000000021")
	journalFollower = common.HexToAddress("0x0000000000000000000000000000000000000022")
	journalTokenIn  = common.HexToAddress("0x0000000000000000000000000000000000000031")
	journalTokenOut = common.HexToAddress("0x0000000000000000000000000000000000000032")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func trailFixture(id uint64, amountIn, amountOut int64, block uint64) models.TrailRecord {
	return models.TrailRecord{
		ID:        id,
		Leader:    journalLeader,
		Follower:  journalFollower,
		TokenIn:   journalTokenIn,
		TokenOut:  journalTokenOut,
		AmountIn:  big.NewInt(amountIn),
		AmountOut: big.NewInt(amountOut),
		Block:     block,
	}
}

func TestStoreTrailRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := trailFixture(1, 10_000, 9_985, 100)
	if err := store.AppendTrail(ctx, want); err != nil {
		t.Fatalf("AppendTrail: %v", err)
	}

	got, err := store.GetTrail(ctx, 1)
	if err != nil {
		t.Fatalf("GetTrail: %v", err)
	}
	if got.Leader != want.Leader || got.Follower != want.Follower {
		t.Errorf("addresses = (%s, %s), want (%s, %s)",
			got.Leader.Hex(), got.Follower.Hex(), want.Leader.Hex(), want.Follower.Hex())
	}
	if got.AmountIn.Cmp(want.AmountIn) != 0 {
		t.Errorf("amountIn = %s, want %s", got.AmountIn, want.AmountIn)
	}
	if got.AmountOut.Cmp(want.AmountOut) != 0 {
		t.Errorf("amountOut = %s, want %s", got.AmountOut, want.AmountOut)
	}
	if got.Block != want.Block {
		t.Errorf("block = %d, want %d", got.Block, want.Block)
	}

	if _, err := store.GetTrail(ctx, 999); err == nil {
		t.Error("expected error for missing trail")
	}
}

func TestStoreBigAmounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Amounts past int64 range must survive the text encoding.
	huge, _ := new(big.Int).SetString("123456789012345678901234567890123456789", 10)
	rec := trailFixture(1, 0, 0, 7)
	rec.AmountIn = huge
	rec.AmountOut = new(big.Int).Sub(huge, big.NewInt(1))

	if err := store.AppendTrail(ctx, rec); err != nil {
		t.Fatalf("AppendTrail: %v", err)
	}
	got, err := store.GetTrail(ctx, 1)
	if err != nil {
		t.Fatalf("GetTrail: %v", err)
	}
	if got.AmountIn.Cmp(huge) != 0 {
		t.Errorf("amountIn = %s, want %s", got.AmountIn, huge)
	}
}

func TestStoreListTrails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	otherLeader := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	for i := uint64(1); i <= 5; i++ {
		rec := trailFixture(i, int64(i*100), int64(i*99), i)
		if i == 3 {
			rec.Leader = otherLeader
		}
		if err := store.AppendTrail(ctx, rec); err != nil {
			t.Fatalf("AppendTrail %d: %v", i, err)
		}
	}

	trails, err := store.ListLeaderTrails(ctx, journalLeader, 10)
	if err != nil {
		t.Fatalf("ListLeaderTrails: %v", err)
	}
	if len(trails) != 4 {
		t.Fatalf("trails = %d, want 4", len(trails))
	}
	// Most recent first.
	if trails[0].ID != 5 {
		t.Errorf("first id = %d, want 5", trails[0].ID)
	}

	limited, err := store.ListLeaderTrails(ctx, journalLeader, 2)
	if err != nil {
		t.Fatalf("ListLeaderTrails limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited trails = %d, want 2", len(limited))
	}

	byFollower, err := store.ListFollowerTrails(ctx, journalFollower, 10)
	if err != nil {
		t.Fatalf("ListFollowerTrails: %v", err)
	}
	if len(byFollower) != 5 {
		t.Errorf("follower trails = %d, want 5", len(byFollower))
	}

	n, err := store.TrailCount(ctx)
	if err != nil {
		t.Fatalf("TrailCount: %v", err)
	}
	if n != 5 {
		t.Errorf("count = %d, want 5", n)
	}
}

func TestStoreSnapshotUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	leader := models.LeaderProfile{
		ID:              1,
		Address:         journalLeader,
		MaxFollowersCap: 10,
		VolumeIn:        big.NewInt(0),
		Active:          true,
		RegisteredBlock: 50,
	}
	if err := store.SaveLeader(ctx, leader); err != nil {
		t.Fatalf("SaveLeader: %v", err)
	}
	leader.FollowerCount = 3
	leader.VolumeIn = big.NewInt(12_000)
	leader.LastTrailBlock = 60
	if err := store.SaveLeader(ctx, leader); err != nil {
		t.Fatalf("SaveLeader update: %v", err)
	}

	session := models.MirrorSession{
		ID:          1,
		Follower:    journalFollower,
		Leader:      journalLeader,
		MaxAlloc:    big.NewInt(100_000),
		UsedAlloc:   big.NewInt(0),
		SlippageBps: 50,
		OpenedBlock: 55,
		Active:      true,
	}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	session.UsedAlloc = big.NewInt(40_000)
	session.Active = false
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession update: %v", err)
	}

	replica := models.ReplicaPosition{
		ID:          1,
		Follower:    journalFollower,
		Leader:      journalLeader,
		TokenIn:     journalTokenIn,
		TokenOut:    journalTokenOut,
		AmountIn:    big.NewInt(20_000),
		OpenedBlock: 58,
	}
	if err := store.SaveReplica(ctx, replica); err != nil {
		t.Fatalf("SaveReplica: %v", err)
	}
	replica.Closed = true
	replica.AmountOutOnClose = big.NewInt(19_970)
	if err := store.SaveReplica(ctx, replica); err != nil {
		t.Fatalf("SaveReplica update: %v", err)
	}
}

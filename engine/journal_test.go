package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"mirror-ledger/api"
	"mirror-ledger/storage"
)

func newJournaledEngine(t *testing.T) (*Engine, *api.MockVenue, *storage.MockJournal) {
	t.Helper()
	venue := api.NewMockVenue(testEngineAcct)
	journal := storage.NewMockJournal()
	eng := New(venue, venue, api.NewManualClock(100), journal, Params{
		CooldownBlocks: 5,
		FeeVault:       testVault,
		Owner:          testOwner,
		Operator:       testOperator,
		Router:         testRouter,
	})
	return eng, venue, journal
}

func TestJournalReceivesRecords(t *testing.T) {
	eng, venue, journal := newJournaledEngine(t)
	ctx := context.Background()

	designateAndEnroll(t, eng, leaderA, followerA, 100_000)
	venue.Fund(tokenUSD, leaderA, big.NewInt(10_000))

	if _, _, err := eng.ExecuteTrail(ctx, leaderA, followerA, tokenUSD, tokenETH, big.NewInt(10_000), nil, 0); err != nil {
		t.Fatalf("ExecuteTrail: %v", err)
	}

	if journal.Calls["SaveLeader"] != 1 {
		t.Errorf("SaveLeader calls = %d, want 1", journal.Calls["SaveLeader"])
	}
	if journal.Calls["SaveSession"] != 1 {
		t.Errorf("SaveSession calls = %d, want 1", journal.Calls["SaveSession"])
	}
	if journal.Calls["AppendTrail"] != 1 {
		t.Errorf("AppendTrail calls = %d, want 1", journal.Calls["AppendTrail"])
	}
	if len(journal.Trails) != 1 {
		t.Fatalf("journal trails = %d, want 1", len(journal.Trails))
	}
	if journal.Trails[0].AmountIn.Int64() != 10_000 {
		t.Errorf("journaled amountIn = %s, want 10000", journal.Trails[0].AmountIn)
	}
}

func TestJournalFailureDoesNotAbort(t *testing.T) {
	eng, venue, journal := newJournaledEngine(t)
	ctx := context.Background()

	designateAndEnroll(t, eng, leaderA, followerA, 100_000)
	venue.Fund(tokenUSD, leaderA, big.NewInt(10_000))
	journal.ErrorOnNext["AppendTrail"] = errors.New("disk full")

	// The journal is write-behind: the trade stands even when history
	// persistence fails.
	out, trailID, err := eng.ExecuteTrail(ctx, leaderA, followerA, tokenUSD, tokenETH, big.NewInt(10_000), nil, 0)
	if err != nil {
		t.Fatalf("ExecuteTrail: %v", err)
	}
	if out.Int64() != 9985 {
		t.Errorf("out = %s, want 9985", out)
	}
	if _, err := eng.Trail(trailID); err != nil {
		t.Errorf("Trail: %v", err)
	}
	if len(journal.Trails) != 0 {
		t.Errorf("journal trails = %d, want 0", len(journal.Trails))
	}
}

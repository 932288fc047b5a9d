package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/models"
)

// MockJournal is an in-memory TradeJournal for testing.
type MockJournal struct {
	mu sync.Mutex

	// Storage maps
	Leaders  map[uint64]models.LeaderProfile
	Sessions map[uint64]models.MirrorSession
	Replicas map[uint64]models.ReplicaPosition
	Trails   []models.TrailRecord

	// Call tracking for assertions
	Calls map[string]int

	// Error injection for testing error paths
	ErrorOnNext map[string]error
}

// NewMockJournal creates a new mock journal.
func NewMockJournal() *MockJournal {
	return &MockJournal{
		Leaders:     make(map[uint64]models.LeaderProfile),
		Sessions:    make(map[uint64]models.MirrorSession),
		Replicas:    make(map[uint64]models.ReplicaPosition),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockJournal) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// Close is a no-op.
func (m *MockJournal) Close() error { return nil }

// SaveLeader stores the snapshot keyed by id.
func (m *MockJournal) SaveLeader(_ context.Context, p models.LeaderProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SaveLeader"); err != nil {
		return err
	}
	m.Leaders[p.ID] = p
	return nil
}

// SaveSession stores the snapshot keyed by id.
func (m *MockJournal) SaveSession(_ context.Context, s models.MirrorSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SaveSession"); err != nil {
		return err
	}
	m.Sessions[s.ID] = s
	return nil
}

// SaveReplica stores the snapshot keyed by id.
func (m *MockJournal) SaveReplica(_ context.Context, r models.ReplicaPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SaveReplica"); err != nil {
		return err
	}
	m.Replicas[r.ID] = r
	return nil
}

// AppendTrail appends the record.
func (m *MockJournal) AppendTrail(_ context.Context, rec models.TrailRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("AppendTrail"); err != nil {
		return err
	}
	m.Trails = append(m.Trails, rec)
	return nil
}

// GetTrail finds a trail by id.
func (m *MockJournal) GetTrail(_ context.Context, id uint64) (*models.TrailRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetTrail"); err != nil {
		return nil, err
	}
	for i := range m.Trails {
		if m.Trails[i].ID == id {
			rec := m.Trails[i]
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("mock journal: trail %d not found", id)
}

// ListLeaderTrails filters trails by leader.
func (m *MockJournal) ListLeaderTrails(_ context.Context, leader common.Address, limit int) ([]models.TrailRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ListLeaderTrails"); err != nil {
		return nil, err
	}
	return m.filterTrails(func(rec models.TrailRecord) bool { return rec.Leader == leader }, limit), nil
}

// ListFollowerTrails filters trails by follower.
func (m *MockJournal) ListFollowerTrails(_ context.Context, follower common.Address, limit int) ([]models.TrailRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ListFollowerTrails"); err != nil {
		return nil, err
	}
	return m.filterTrails(func(rec models.TrailRecord) bool { return rec.Follower == follower }, limit), nil
}

func (m *MockJournal) filterTrails(keep func(models.TrailRecord) bool, limit int) []models.TrailRecord {
	if limit <= 0 {
		limit = 100
	}
	var out []models.TrailRecord
	for i := len(m.Trails) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(m.Trails[i]) {
			out = append(out, m.Trails[i])
		}
	}
	return out
}

// TrailCount returns the number of stored trails.
func (m *MockJournal) TrailCount(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("TrailCount"); err != nil {
		return 0, err
	}
	return len(m.Trails), nil
}

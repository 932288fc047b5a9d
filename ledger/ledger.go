// Package ledger owns the authoritative in-memory state for leaders,
// mirror sessions, replica positions, and trail records.
//
// The ledger itself is not synchronized: the execution engine funnels
// every mutating operation through a single serialization point and
// holds a read lock for queries, so at most one writer ever touches
// these maps at a time.
package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/models"
)

// pairKey indexes the one active session allowed per (follower, leader).
type pairKey struct {
	follower common.Address
	leader   common.Address
}

// Ledger is the single authoritative store. Entities are keyed by
// monotonic 1-based ids; id 0 always means "unassigned". Index slices
// are derived, append-only views used purely for enumeration.
type Ledger struct {
	leaders        map[uint64]*models.LeaderProfile
	leaderIDByAddr map[common.Address]uint64
	leaderIDs      []uint64

	sessions         map[uint64]*models.MirrorSession
	activePair       map[pairKey]uint64
	sessionIDs       []uint64
	followerSessions map[common.Address][]uint64
	leaderSessions   map[common.Address][]uint64

	replicas         map[uint64]*models.ReplicaPosition
	followerReplicas map[common.Address][]uint64

	trails         map[uint64]*models.TrailRecord
	followerTrails map[common.Address][]uint64
	leaderTrails   map[common.Address][]uint64

	routerUpdates []models.RouterUpdate

	nextLeaderID  uint64
	nextSessionID uint64
	nextReplicaID uint64
	nextTrailID   uint64
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		leaders:          make(map[uint64]*models.LeaderProfile),
		leaderIDByAddr:   make(map[common.Address]uint64),
		sessions:         make(map[uint64]*models.MirrorSession),
		activePair:       make(map[pairKey]uint64),
		followerSessions: make(map[common.Address][]uint64),
		leaderSessions:   make(map[common.Address][]uint64),
		replicas:         make(map[uint64]*models.ReplicaPosition),
		followerReplicas: make(map[common.Address][]uint64),
		trails:           make(map[uint64]*models.TrailRecord),
		followerTrails:   make(map[common.Address][]uint64),
		leaderTrails:     make(map[common.Address][]uint64),
		nextLeaderID:     1,
		nextSessionID:    1,
		nextReplicaID:    1,
		nextTrailID:      1,
	}
}

// --- leaders ---

// DesignateLeader stores a fresh active profile for addr and returns it.
// The caller is responsible for validation (unknown address, caps).
func (l *Ledger) DesignateLeader(addr common.Address, maxFollowersCap uint32, block uint64) *models.LeaderProfile {
	p := &models.LeaderProfile{
		ID:              l.nextLeaderID,
		Address:         addr,
		MaxFollowersCap: maxFollowersCap,
		VolumeIn:        big.NewInt(0),
		Active:          true,
		RegisteredBlock: block,
	}
	l.nextLeaderID++
	l.leaders[p.ID] = p
	l.leaderIDByAddr[addr] = p.ID
	l.leaderIDs = append(l.leaderIDs, p.ID)
	return p
}

// RevokeLeader clears the active flag and the address mapping. The
// profile record persists for history; the address is immediately free
// to be re-designated as a brand-new leader.
func (l *Ledger) RevokeLeader(addr common.Address) {
	id := l.leaderIDByAddr[addr]
	if p, ok := l.leaders[id]; ok {
		p.Active = false
	}
	delete(l.leaderIDByAddr, addr)
}

// Leader returns the profile for id, or nil.
func (l *Ledger) Leader(id uint64) *models.LeaderProfile {
	return l.leaders[id]
}

// LeaderIDByAddress returns the current id mapped to addr (0 if none).
func (l *Ledger) LeaderIDByAddress(addr common.Address) uint64 {
	return l.leaderIDByAddr[addr]
}

// ActiveLeaderByAddress resolves addr to its active profile, or nil.
func (l *Ledger) ActiveLeaderByAddress(addr common.Address) *models.LeaderProfile {
	p := l.leaders[l.leaderIDByAddr[addr]]
	if p == nil || !p.Active {
		return nil
	}
	return p
}

// LeaderCount returns how many leader records were ever designated.
func (l *Ledger) LeaderCount() int { return len(l.leaderIDs) }

// LeaderIDs enumerates every leader id ever assigned.
func (l *Ledger) LeaderIDs() []uint64 { return append([]uint64(nil), l.leaderIDs...) }

// --- sessions ---

// CreateSession stores a fresh active session and wires all indices.
func (l *Ledger) CreateSession(follower, leader common.Address, maxAlloc *big.Int, slippageBps uint32, block uint64) *models.MirrorSession {
	s := &models.MirrorSession{
		ID:          l.nextSessionID,
		Follower:    follower,
		Leader:      leader,
		MaxAlloc:    new(big.Int).Set(maxAlloc),
		UsedAlloc:   big.NewInt(0),
		SlippageBps: slippageBps,
		OpenedBlock: block,
		Active:      true,
	}
	l.nextSessionID++
	l.sessions[s.ID] = s
	l.activePair[pairKey{follower, leader}] = s.ID
	l.sessionIDs = append(l.sessionIDs, s.ID)
	l.followerSessions[follower] = append(l.followerSessions[follower], s.ID)
	l.leaderSessions[leader] = append(l.leaderSessions[leader], s.ID)
	return s
}

// DeactivateSession clears the active flag and the pair index entry.
// Allocation fields are frozen from this point on.
func (l *Ledger) DeactivateSession(id uint64) {
	s := l.sessions[id]
	if s == nil {
		return
	}
	s.Active = false
	key := pairKey{s.Follower, s.Leader}
	if l.activePair[key] == id {
		delete(l.activePair, key)
	}
}

// Session returns the session for id, or nil.
func (l *Ledger) Session(id uint64) *models.MirrorSession {
	return l.sessions[id]
}

// ActiveSessionID returns the id of the active (follower, leader)
// session, or 0 when none exists.
func (l *Ledger) ActiveSessionID(follower, leader common.Address) uint64 {
	return l.activePair[pairKey{follower, leader}]
}

// SessionIDs enumerates every session id ever assigned.
func (l *Ledger) SessionIDs() []uint64 { return append([]uint64(nil), l.sessionIDs...) }

// FollowerSessionIDs lists the session ids opened by follower.
func (l *Ledger) FollowerSessionIDs(follower common.Address) []uint64 {
	return append([]uint64(nil), l.followerSessions[follower]...)
}

// LeaderSessionIDs lists the session ids enrolled against leader.
func (l *Ledger) LeaderSessionIDs(leader common.Address) []uint64 {
	return append([]uint64(nil), l.leaderSessions[leader]...)
}

// --- replicas ---

// Replica returns the position for id, or nil.
func (l *Ledger) Replica(id uint64) *models.ReplicaPosition {
	return l.replicas[id]
}

// FollowerReplicaIDs lists the replica ids opened for follower.
func (l *Ledger) FollowerReplicaIDs(follower common.Address) []uint64 {
	return append([]uint64(nil), l.followerReplicas[follower]...)
}

// OpenReplicaCount counts follower positions not yet closed.
func (l *Ledger) OpenReplicaCount(follower common.Address) int {
	n := 0
	for _, id := range l.followerReplicas[follower] {
		if r := l.replicas[id]; r != nil && !r.Closed {
			n++
		}
	}
	return n
}

// --- trails ---

// Trail returns the record for id, or nil.
func (l *Ledger) Trail(id uint64) *models.TrailRecord {
	return l.trails[id]
}

// NextTrailID exposes the id the next committed trail will receive.
func (l *Ledger) NextTrailID() uint64 { return l.nextTrailID }

// FollowerTrailIDs lists the trail ids recorded for follower.
func (l *Ledger) FollowerTrailIDs(follower common.Address) []uint64 {
	return append([]uint64(nil), l.followerTrails[follower]...)
}

// LeaderTrailIDs lists the trail ids recorded for leader.
func (l *Ledger) LeaderTrailIDs(leader common.Address) []uint64 {
	return append([]uint64(nil), l.leaderTrails[leader]...)
}

// --- router updates ---

// AppendRouterUpdate records one exchange-endpoint rotation.
func (l *Ledger) AppendRouterUpdate(u models.RouterUpdate) {
	l.routerUpdates = append(l.routerUpdates, u)
}

// RouterUpdates returns all recorded endpoint rotations in order.
func (l *Ledger) RouterUpdates() []models.RouterUpdate {
	return append([]models.RouterUpdate(nil), l.routerUpdates...)
}

// RouterUpdateCount returns how many rotations were recorded.
func (l *Ledger) RouterUpdateCount() int { return len(l.routerUpdates) }

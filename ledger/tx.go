package ledger

import (
	"mirror-ledger/models"
)

// Tx stages mutations for operations that call out to a collaborator
// mid-flight. Reads go through the staged copies; nothing reaches the
// ledger until Commit. Discarding a Tx (dropping it without Commit)
// leaves the ledger untouched, which is how a failed exchange call
// rolls back every increment performed earlier in the same operation.
type Tx struct {
	l *Ledger

	leaders  map[uint64]*models.LeaderProfile
	sessions map[uint64]*models.MirrorSession
	replicas map[uint64]*models.ReplicaPosition

	newTrails   []*models.TrailRecord
	newReplicas []*models.ReplicaPosition
}

// Begin opens a staged transaction over the ledger.
func (l *Ledger) Begin() *Tx {
	return &Tx{
		l:        l,
		leaders:  make(map[uint64]*models.LeaderProfile),
		sessions: make(map[uint64]*models.MirrorSession),
		replicas: make(map[uint64]*models.ReplicaPosition),
	}
}

// Leader returns a staged copy of the profile for id, or nil.
func (t *Tx) Leader(id uint64) *models.LeaderProfile {
	if p, ok := t.leaders[id]; ok {
		return p
	}
	base := t.l.leaders[id]
	if base == nil {
		return nil
	}
	cp := base.Clone()
	t.leaders[id] = cp
	return cp
}

// Session returns a staged copy of the session for id, or nil.
func (t *Tx) Session(id uint64) *models.MirrorSession {
	if s, ok := t.sessions[id]; ok {
		return s
	}
	base := t.l.sessions[id]
	if base == nil {
		return nil
	}
	cp := base.Clone()
	t.sessions[id] = cp
	return cp
}

// Replica returns a staged copy of the position for id, or nil.
func (t *Tx) Replica(id uint64) *models.ReplicaPosition {
	if r, ok := t.replicas[id]; ok {
		return r
	}
	base := t.l.replicas[id]
	if base == nil {
		return nil
	}
	cp := base.Clone()
	t.replicas[id] = cp
	return cp
}

// CreateReplica stages a new position. Its id is assigned on Commit
// (left 0 until then) so a discarded Tx never consumes the counter.
func (t *Tx) CreateReplica(r *models.ReplicaPosition) {
	t.newReplicas = append(t.newReplicas, r)
}

// AppendTrail stages a new immutable trail record; the id is assigned
// on Commit.
func (t *Tx) AppendTrail(r *models.TrailRecord) {
	t.newTrails = append(t.newTrails, r)
}

// Commit applies every staged copy and append to the ledger and stamps
// ids onto newly created records. A Tx must not be reused afterwards.
func (t *Tx) Commit() {
	for id, p := range t.leaders {
		t.l.leaders[id] = p
	}
	for id, s := range t.sessions {
		t.l.sessions[id] = s
	}
	for id, r := range t.replicas {
		t.l.replicas[id] = r
	}
	for _, r := range t.newReplicas {
		r.ID = t.l.nextReplicaID
		t.l.nextReplicaID++
		t.l.replicas[r.ID] = r
		t.l.followerReplicas[r.Follower] = append(t.l.followerReplicas[r.Follower], r.ID)
	}
	for _, r := range t.newTrails {
		r.ID = t.l.nextTrailID
		t.l.nextTrailID++
		t.l.trails[r.ID] = r
		t.l.followerTrails[r.Follower] = append(t.l.followerTrails[r.Follower], r.ID)
		t.l.leaderTrails[r.Leader] = append(t.l.leaderTrails[r.Leader], r.ID)
	}
}

package models

import "math/big"

// Clone returns a deep copy of the profile.
func (p *LeaderProfile) Clone() *LeaderProfile {
	cp := *p
	cp.VolumeIn = new(big.Int).Set(p.VolumeIn)
	return &cp
}

// Clone returns a deep copy of the session.
func (s *MirrorSession) Clone() *MirrorSession {
	cp := *s
	cp.MaxAlloc = new(big.Int).Set(s.MaxAlloc)
	cp.UsedAlloc = new(big.Int).Set(s.UsedAlloc)
	return &cp
}

// Clone returns a deep copy of the position.
func (r *ReplicaPosition) Clone() *ReplicaPosition {
	cp := *r
	cp.AmountIn = new(big.Int).Set(r.AmountIn)
	if r.AmountOutOnClose != nil {
		cp.AmountOutOnClose = new(big.Int).Set(r.AmountOutOnClose)
	}
	return &cp
}

// Clone returns a deep copy of the record.
func (r *TrailRecord) Clone() *TrailRecord {
	cp := *r
	cp.AmountIn = new(big.Int).Set(r.AmountIn)
	cp.AmountOut = new(big.Int).Set(r.AmountOut)
	return &cp
}

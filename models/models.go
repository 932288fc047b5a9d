package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LeaderProfile represents a designated leader whose trades may be mirrored.
type LeaderProfile struct {
	ID              uint64         `json:"id"`
	Address         common.Address `json:"address"`
	MaxFollowersCap uint32         `json:"max_followers_cap"`
	FollowerCount   uint32         `json:"follower_count"`
	VolumeIn        *big.Int       `json:"volume_in"` // cumulative pre-fee input volume across trails
	Active          bool           `json:"active"`
	RegisteredBlock uint64         `json:"registered_block"`
	LastTrailBlock  uint64         `json:"last_trail_block"` // 0 until the first successful trail
}

// MirrorSession is one follower's subscription to one leader.
// UsedAlloc only ever increases; once Active is cleared both
// allocation fields are frozen.
type MirrorSession struct {
	ID          uint64         `json:"id"`
	Follower    common.Address `json:"follower"`
	Leader      common.Address `json:"leader"`
	MaxAlloc    *big.Int       `json:"max_alloc"`
	UsedAlloc   *big.Int       `json:"used_alloc"`
	SlippageBps uint32         `json:"slippage_bps"`
	OpenedBlock uint64         `json:"opened_block"`
	Active      bool           `json:"active"`
}

// RemainingAlloc returns MaxAlloc - UsedAlloc (never negative).
func (s *MirrorSession) RemainingAlloc() *big.Int {
	rem := new(big.Int).Sub(s.MaxAlloc, s.UsedAlloc)
	if rem.Sign() < 0 {
		return big.NewInt(0)
	}
	return rem
}

// ReplicaPosition is a long-lived mirrored exposure opened against a
// session, pending a future close. Closing is one-directional.
type ReplicaPosition struct {
	ID               uint64         `json:"id"`
	Follower         common.Address `json:"follower"`
	Leader           common.Address `json:"leader"`
	TokenIn          common.Address `json:"token_in"`
	TokenOut         common.Address `json:"token_out"`
	AmountIn         *big.Int       `json:"amount_in"`
	OpenedBlock      uint64         `json:"opened_block"`
	Closed           bool           `json:"closed"`
	AmountOutOnClose *big.Int       `json:"amount_out_on_close"`
}

// TrailRecord is the immutable audit record of one completed mirrored
// trade. Never mutated after creation.
type TrailRecord struct {
	ID        uint64         `json:"id"`
	Leader    common.Address `json:"leader"`
	Follower  common.Address `json:"follower"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  *big.Int       `json:"amount_in"`  // pre-fee amount charged against the session
	AmountOut *big.Int       `json:"amount_out"` // realized balance delta at the follower
	Block     uint64         `json:"block"`
}

// RouterUpdate records one exchange-endpoint rotation.
type RouterUpdate struct {
	Seq    uint32         `json:"seq"`
	Router common.Address `json:"router"`
	Block  uint64         `json:"block"`
}

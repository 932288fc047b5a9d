package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/models"
)

// TradeJournal is the durable history behind the in-memory ledger. The
// engine writes behind its own commit: journal rows mirror committed
// ledger state and are never read back to reconstruct it.
type TradeJournal interface {
	Close() error

	// Snapshot writes (upserts keyed by entity id)
	SaveLeader(ctx context.Context, p models.LeaderProfile) error
	SaveSession(ctx context.Context, s models.MirrorSession) error
	SaveReplica(ctx context.Context, r models.ReplicaPosition) error

	// Append-only trail history
	AppendTrail(ctx context.Context, rec models.TrailRecord) error
	GetTrail(ctx context.Context, id uint64) (*models.TrailRecord, error)
	ListLeaderTrails(ctx context.Context, leader common.Address, limit int) ([]models.TrailRecord, error)
	ListFollowerTrails(ctx context.Context, follower common.Address, limit int) ([]models.TrailRecord, error)
	TrailCount(ctx context.Context) (int, error)
}

// Ensure all implementations satisfy the interface
var _ TradeJournal = (*Store)(nil)
var _ TradeJournal = (*PostgresStore)(nil)
var _ TradeJournal = (*MockJournal)(nil)

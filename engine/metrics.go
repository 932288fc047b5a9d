package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const metricsKey = "mirrorledger:metrics"

// Metrics aggregates execution counters since process start.
type Metrics struct {
	TrailsExecuted uint64 `json:"trails_executed"`
	TrailsSkipped  uint64 `json:"trails_skipped"`
	ReplicasOpened uint64 `json:"replicas_opened"`
	ReplicasClosed uint64 `json:"replicas_closed"`
	VolumeIn       string `json:"volume_in"` // decimal wei, cumulative pre-fee input
}

// Snapshot returns a copy of the current counters.
func (e *Engine) Snapshot() Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m := e.metrics
	m.VolumeIn = e.volumeIn.String()
	return m
}

// MetricsStore publishes engine snapshots to Redis with a TTL so
// external monitors can read them without touching the engine.
type MetricsStore struct {
	redis *redis.Client
}

// NewMetricsStore creates a store over an existing Redis client.
func NewMetricsStore(redisClient *redis.Client) *MetricsStore {
	return &MetricsStore{redis: redisClient}
}

type metricsEnvelope struct {
	Engine    Metrics   `json:"engine"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Save writes the snapshot under the metrics key.
func (s *MetricsStore) Save(ctx context.Context, m Metrics) error {
	data, err := json.Marshal(metricsEnvelope{Engine: m, UpdatedAt: time.Now()})
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, metricsKey, data, 24*time.Hour).Err()
}

// Load reads the last saved snapshot; a missing key returns zero
// metrics.
func (s *MetricsStore) Load(ctx context.Context) (Metrics, error) {
	raw, err := s.redis.Get(ctx, metricsKey).Result()
	if err == redis.Nil {
		return Metrics{}, nil
	}
	if err != nil {
		return Metrics{}, err
	}
	var env metricsEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Metrics{}, err
	}
	return env.Engine, nil
}

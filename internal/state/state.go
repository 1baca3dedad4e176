// Package state holds the live per-stream outputs of the service: latest
// frame statistics, stream status, and a pub/sub channel per stream that the
// WebSocket layer fans out to subscribers.
//
// Two implementations exist. The etcd-backed store shares state across
// replicas and gets TTL expiry from leases; the in-memory store keeps the
// same semantics inside one process and is the automatic fallback when etcd
// is unreachable at startup.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/config"
	"github.com/crowdsight/crowd-density-server/internal/logger"
	"github.com/crowdsight/crowd-density-server/internal/zones"
)

// ErrNotFound is returned when a stream has no stored value (never stored,
// or expired).
var ErrNotFound = errors.New("state: not found")

// ErrUnavailable marks an operation that failed because the backend could
// not be reached. Callers treat it as transient.
var ErrUnavailable = errors.New("state: backend unavailable")

// Stream status values.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusError    = "error"
)

// Snapshot is the latest aggregate view of one stream, cached with the
// stats TTL and served from GET /streams/{id}/stats.
type Snapshot struct {
	StreamID  string       `json:"stream_id"`
	Count     int          `json:"count"`
	Smoothed  float64      `json:"smoothed"`
	FPS       float64      `json:"fps"`
	LatencyMS float64      `json:"latency_ms"`
	Zones     []zones.Stat `json:"zones"`
	Model     string       `json:"model"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// LiveMessage is the per-frame pub/sub payload, serialized as-is to
// WebSocket subscribers.
type LiveMessage struct {
	Type      string       `json:"type"`
	Timestamp float64      `json:"ts"`
	Count     int          `json:"count"`
	Zones     []zones.Stat `json:"zones"`
	FPS       float64      `json:"fps"`
	Model     string       `json:"model"`
	Heatmap   string       `json:"heatmap,omitempty"`
	Frame     string       `json:"frame,omitempty"`
}

// Placeholder returns the zero-valued message pushed to subscribers of a
// stream that has produced no statistics yet.
func Placeholder() *LiveMessage {
	return &LiveMessage{
		Type:      "frame_stats",
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Count:     0,
		Zones:     []zones.Stat{},
	}
}

// Store is the live state backend. All methods are safe for concurrent use.
type Store interface {
	// UpdateStats caches the latest statistics snapshot for a stream with
	// the stats TTL.
	UpdateStats(ctx context.Context, streamID string, snap *Snapshot) error
	// GetStats returns the cached snapshot, or ErrNotFound.
	GetStats(ctx context.Context, streamID string) (*Snapshot, error)
	// SetStatus records the stream lifecycle status with the status TTL.
	SetStatus(ctx context.Context, streamID, status string) error
	// GetStatus returns the recorded status, or ErrNotFound.
	GetStatus(ctx context.Context, streamID string) (string, error)
	// Publish delivers a message to current subscribers of the stream.
	// Delivery is best-effort: a slow subscriber drops messages rather
	// than blocking the publisher.
	Publish(ctx context.Context, streamID string, msg *LiveMessage) error
	// Subscribe returns a channel of messages for the stream and a cancel
	// function that releases the subscription.
	Subscribe(ctx context.Context, streamID string) (<-chan *LiveMessage, func(), error)
	// Close releases backend resources.
	Close() error
}

// New connects the configured etcd backend, falling back to the in-memory
// store when etcd cannot be reached. A missing backend degrades the service
// to single-process state; it never prevents startup.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) Store {
	if len(cfg.EtcdEndpoints) == 0 {
		log.Info("State", "no etcd endpoints configured, using in-memory store")
		return NewMemoryStore(cfg.StatsTTL, cfg.StatusTTL)
	}
	st, err := NewEtcdStore(ctx, cfg)
	if err != nil {
		log.Warn("State", "etcd unreachable (%v), falling back to in-memory store", err)
		return NewMemoryStore(cfg.StatsTTL, cfg.StatusTTL)
	}
	log.Info("State", "connected to etcd at %v", cfg.EtcdEndpoints)
	return st
}

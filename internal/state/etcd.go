package state

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/crowdsight/crowd-density-server/internal/config"
)

// EtcdStore backs the live state with an etcd cluster so multiple replicas
// see the same streams. TTLs come from leases; pub/sub comes from watching
// each stream's live key.
type EtcdStore struct {
	cli       *clientv3.Client
	namespace string
	statsTTL  time.Duration
	statusTTL time.Duration
}

// NewEtcdStore dials the cluster and verifies it responds before returning.
func NewEtcdStore(ctx context.Context, cfg *config.Config) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd dial: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if _, err := cli.Get(probeCtx, "health-probe"); err != nil {
		cli.Close()
		return nil, fmt.Errorf("etcd probe: %w", err)
	}

	return &EtcdStore{
		cli:       cli,
		namespace: cfg.EtcdNamespace,
		statsTTL:  cfg.StatsTTL,
		statusTTL: cfg.StatusTTL,
	}, nil
}

func (s *EtcdStore) statsKey(id string) string  { return path.Join(s.namespace, "stats", id) }
func (s *EtcdStore) statusKey(id string) string { return path.Join(s.namespace, "status", id) }
func (s *EtcdStore) liveKey(id string) string   { return path.Join(s.namespace, "live", id) }

// putWithTTL writes a value bound to a fresh lease so etcd expires it.
func (s *EtcdStore) putWithTTL(ctx context.Context, key, val string, ttl time.Duration) error {
	lease, err := s.cli.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("%w: grant: %v", ErrUnavailable, err)
	}
	if _, err := s.cli.Put(ctx, key, val, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *EtcdStore) UpdateStats(ctx context.Context, streamID string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return s.putWithTTL(ctx, s.statsKey(streamID), string(data), s.statsTTL)
}

func (s *EtcdStore) GetStats(ctx context.Context, streamID string) (*Snapshot, error) {
	resp, err := s.cli.Get(ctx, s.statsKey(streamID))
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	var snap Snapshot
	if err := json.Unmarshal(resp.Kvs[0].Value, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	return &snap, nil
}

func (s *EtcdStore) SetStatus(ctx context.Context, streamID, status string) error {
	return s.putWithTTL(ctx, s.statusKey(streamID), status, s.statusTTL)
}

func (s *EtcdStore) GetStatus(ctx context.Context, streamID string) (string, error) {
	resp, err := s.cli.Get(ctx, s.statusKey(streamID))
	if err != nil {
		return "", fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	if len(resp.Kvs) == 0 {
		return "", ErrNotFound
	}
	return string(resp.Kvs[0].Value), nil
}

// Publish writes the message to the stream's live key; every subscriber's
// watch sees the put. The value rides the stats TTL so idle keys get
// collected.
func (s *EtcdStore) Publish(ctx context.Context, streamID string, msg *LiveMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal live message: %w", err)
	}
	return s.putWithTTL(ctx, s.liveKey(streamID), string(data), s.statsTTL)
}

// Subscribe watches the stream's live key and decodes each revision into a
// message. The returned cancel stops the watch and closes the channel.
func (s *EtcdStore) Subscribe(ctx context.Context, streamID string) (<-chan *LiveMessage, func(), error) {
	watchCtx, cancelWatch := context.WithCancel(ctx)
	wch := s.cli.Watch(watchCtx, s.liveKey(streamID))

	out := make(chan *LiveMessage, 16)
	go func() {
		defer close(out)
		for resp := range wch {
			if resp.Err() != nil {
				return
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				var msg LiveMessage
				if err := json.Unmarshal(ev.Kv.Value, &msg); err != nil {
					continue
				}
				select {
				case out <- &msg:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() { once.Do(cancelWatch) }
	return out, cancel, nil
}

func (s *EtcdStore) Close() error {
	return s.cli.Close()
}

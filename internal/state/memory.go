package state

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	snap    *Snapshot
	status  string
	expires time.Time
}

// MemoryStore is the in-process Store. TTL semantics match the etcd backend:
// reads past the deadline behave as if the key were never written.
type MemoryStore struct {
	statsTTL  time.Duration
	statusTTL time.Duration

	mu       sync.RWMutex
	stats    map[string]entry
	statuses map[string]entry

	subMu  sync.Mutex
	nextID int
	subs   map[string]map[int]chan *LiveMessage
}

// NewMemoryStore creates an empty in-memory store with the given TTLs.
func NewMemoryStore(statsTTL, statusTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		statsTTL:  statsTTL,
		statusTTL: statusTTL,
		stats:     make(map[string]entry),
		statuses:  make(map[string]entry),
		subs:      make(map[string]map[int]chan *LiveMessage),
	}
}

func (s *MemoryStore) UpdateStats(_ context.Context, streamID string, snap *Snapshot) error {
	s.mu.Lock()
	s.stats[streamID] = entry{snap: snap, expires: time.Now().Add(s.statsTTL)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetStats(_ context.Context, streamID string) (*Snapshot, error) {
	s.mu.RLock()
	e, ok := s.stats[streamID]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, ErrNotFound
	}
	return e.snap, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, streamID, status string) error {
	s.mu.Lock()
	s.statuses[streamID] = entry{status: status, expires: time.Now().Add(s.statusTTL)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetStatus(_ context.Context, streamID string) (string, error) {
	s.mu.RLock()
	e, ok := s.statuses[streamID]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return "", ErrNotFound
	}
	return e.status, nil
}

// Publish hands the message to every subscriber of the stream. Sends are
// non-blocking: a subscriber whose buffer is full misses this message and
// catches up on the next one.
func (s *MemoryStore) Publish(_ context.Context, streamID string, msg *LiveMessage) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs[streamID] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, streamID string) (<-chan *LiveMessage, func(), error) {
	ch := make(chan *LiveMessage, 16)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[streamID] == nil {
		s.subs[streamID] = make(map[int]chan *LiveMessage)
	}
	s.subs[streamID][id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs[streamID], id)
			if len(s.subs[streamID]) == 0 {
				delete(s.subs, streamID)
			}
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

package session

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type memoryEntry struct {
	mu      sync.Mutex
	s       Session
	deleted bool
}

// MemoryStore keeps sessions in a go-cache with sliding expiry. Every Get or
// Update pushes the expiry back by the TTL.
type MemoryStore struct {
	cache *cache.Cache
	now   func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cleanup := ttl / 3
	if cleanup < time.Second {
		cleanup = time.Second
	}
	c := cache.New(ttl, cleanup)
	// Expired entries may still be held by an in-flight Update.
	c.OnEvicted(func(_ string, x interface{}) {
		e := x.(*memoryEntry)
		e.mu.Lock()
		e.deleted = true
		e.mu.Unlock()
	})
	return &MemoryStore{cache: c, now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context) (Session, error) {
	s := newSession(m.now().UTC())
	m.cache.Set(s.ID, &memoryEntry{s: s}, cache.DefaultExpiration)
	return s.clone(), nil
}

func (m *MemoryStore) entry(id string) (*memoryEntry, bool) {
	x, ok := m.cache.Get(id)
	if !ok {
		return nil, false
	}
	return x.(*memoryEntry), true
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	e, ok := m.entry(id)
	if !ok {
		return Session{}, notFound(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Session{}, notFound(id)
	}
	m.cache.Set(id, e, cache.DefaultExpiration)
	return e.s.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*Session) error) (Session, error) {
	e, ok := m.entry(id)
	if !ok {
		return Session{}, notFound(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Session{}, notFound(id)
	}
	next := e.s.clone()
	if err := fn(&next); err != nil {
		return e.s.clone(), err
	}
	// fn may run for the length of a model call; do not bring back a session
	// that expired meanwhile.
	if _, ok := m.cache.Get(id); !ok {
		e.deleted = true
		return Session{}, notFound(id)
	}
	next.ID = e.s.ID
	next.UpdatedAt = m.now().UTC()
	e.s = next
	m.cache.Set(id, e, cache.DefaultExpiration)
	return next.clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	e, ok := m.entry(id)
	if !ok {
		return notFound(id)
	}
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	m.cache.Delete(id)
	return nil
}

func (m *MemoryStore) Len() int { return m.cache.ItemCount() }

func (m *MemoryStore) Close() error {
	m.cache.Flush()
	return nil
}

package session

import (
	"sync"
	"sync/atomic"
)

// Store guards the id to Session map. Every method is atomic with respect to
// the others for the same id.
type Store interface {
	// Insert adds s under s.ID. It returns false if the id is taken.
	Insert(s *Session) bool
	// Load returns the session stored under id.
	Load(id string) (*Session, bool)
	// LoadAndDelete removes id and returns what it mapped to.
	LoadAndDelete(id string) (*Session, bool)
	// CompareAndDelete removes id only while it still maps to s.
	CompareAndDelete(id string, s *Session) bool
	// Range calls fn for every session until fn returns false.
	Range(fn func(s *Session) bool)
	// Len returns the number of sessions.
	Len() int
}

// LockedStore is a Store backed by a map and a sync.RWMutex
type LockedStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewLockedStore creates an empty mutex-guarded store
func NewLockedStore() *LockedStore {
	return &LockedStore{sessions: make(map[string]*Session)}
}

func (m *LockedStore) Insert(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return false
	}
	m.sessions[s.ID] = s
	return true
}

func (m *LockedStore) Load(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *LockedStore) LoadAndDelete(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return s, ok
}

func (m *LockedStore) CompareAndDelete(id string, s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[id]
	if !ok || current != s {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Range iterates over a snapshot so fn may call back into the store.
func (m *LockedStore) Range(fn func(s *Session) bool) {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

func (m *LockedStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SyncMapStore is a lock-free Store backed by sync.Map
type SyncMapStore struct {
	m     sync.Map
	count atomic.Int64
}

// NewSyncMapStore creates an empty sync.Map-backed store
func NewSyncMapStore() *SyncMapStore {
	return &SyncMapStore{}
}

func (m *SyncMapStore) Insert(s *Session) bool {
	if _, loaded := m.m.LoadOrStore(s.ID, s); loaded {
		return false
	}
	m.count.Add(1)
	return true
}

func (m *SyncMapStore) Load(id string) (*Session, bool) {
	v, ok := m.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

func (m *SyncMapStore) LoadAndDelete(id string) (*Session, bool) {
	v, ok := m.m.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	m.count.Add(-1)
	return v.(*Session), true
}

func (m *SyncMapStore) CompareAndDelete(id string, s *Session) bool {
	if !m.m.CompareAndDelete(id, s) {
		return false
	}
	m.count.Add(-1)
	return true
}

func (m *SyncMapStore) Range(fn func(s *Session) bool) {
	m.m.Range(func(_, v any) bool {
		return fn(v.(*Session))
	})
}

func (m *SyncMapStore) Len() int {
	return int(m.count.Load())
}

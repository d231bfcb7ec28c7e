package storage

import (
	"sync"

	"github.com/arjunmenon/paxosrsm/internal/paxos"
)

// decidedRecord is the durable record for one decided instance.
type decidedRecord struct {
	view  int32
	value []byte
}

// MemoryStorage is an in-memory Storage: defensive copies in and out, a
// single sync.RWMutex guarding everything. It provides no durability
// across process restart — only across the abstraction boundary within a
// process — and exists for tests and the demo.
type MemoryStorage struct {
	mu sync.RWMutex

	view     int32
	decided  map[int32]decidedRecord
	snapshot *paxos.Snapshot
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{decided: make(map[int32]decidedRecord)}
}

var _ paxos.Storage = (*MemoryStorage)(nil)

func (m *MemoryStorage) LoadView() (int32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view, nil
}

func (m *MemoryStorage) SetView(view int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if view > m.view {
		m.view = view
	}
	return nil
}

func (m *MemoryStorage) MarkDecided(id int32, view int32, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decided[id] = decidedRecord{view: view, value: append([]byte(nil), value...)}
	return nil
}

func (m *MemoryStorage) LoadDecided(id int32) (int32, []byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.decided[id]
	if !ok {
		return 0, nil, false
	}
	return rec.view, append([]byte(nil), rec.value...), true
}

func (m *MemoryStorage) DecidedIDs() []int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int32, 0, len(m.decided))
	for id := range m.decided {
		ids = append(ids, id)
	}
	return ids
}

func (m *MemoryStorage) ForgetBelow(id int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for existing := range m.decided {
		if existing < id {
			delete(m.decided, existing)
		}
	}
}

func (m *MemoryStorage) SaveSnapshot(snap *paxos.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	cp.ServiceBytes = append([]byte(nil), snap.ServiceBytes...)
	cp.ClientReplyCache = append([]byte(nil), snap.ClientReplyCache...)
	m.snapshot = &cp
	return nil
}

func (m *MemoryStorage) LoadSnapshot() *paxos.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return nil
	}
	cp := *m.snapshot
	cp.ServiceBytes = append([]byte(nil), m.snapshot.ServiceBytes...)
	cp.ClientReplyCache = append([]byte(nil), m.snapshot.ClientReplyCache...)
	return &cp
}

package oplog

import "sync"

// MemoryLog is an in-memory append-only operation store. It satisfies both
// OperationLog and ReviewLogStore; use separate instances for each role.
// Nothing survives process exit, which is exactly right for ephemeral stores
// and tests.
type MemoryLog struct {
	mu  sync.Mutex
	ops []Operation
}

// NewMemoryLog returns an empty in-memory operation store.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(ops []Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, ops...)
	return nil
}

func (l *MemoryLog) All() ([]Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Operation, len(l.ops))
	copy(out, l.ops)
	return out, nil
}

// MemoryPending is an in-memory PendingQueue.
type MemoryPending struct {
	mu     sync.Mutex
	nextID int64
	items  []PendingOperation
}

// NewMemoryPending returns an empty in-memory pending queue.
func NewMemoryPending() *MemoryPending {
	return &MemoryPending{}
}

func (q *MemoryPending) Enqueue(ops []Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range ops {
		q.nextID++
		q.items = append(q.items, PendingOperation{LocalID: q.nextID, Op: op})
	}
	return nil
}

func (q *MemoryPending) List() ([]PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingOperation, len(q.items))
	copy(out, q.items)
	return out, nil
}

func (q *MemoryPending) Remove(localIDs []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	drop := make(map[int64]struct{}, len(localIDs))
	for _, id := range localIDs {
		drop[id] = struct{}{}
	}
	kept := q.items[:0]
	for _, item := range q.items {
		if _, gone := drop[item.LocalID]; !gone {
			kept = append(kept, item)
		}
	}
	q.items = kept
	return nil
}

// MemoryMeta is an in-memory MetaStore.
type MemoryMeta struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryMeta returns an empty in-memory meta store.
func NewMemoryMeta() *MemoryMeta {
	return &MemoryMeta{values: make(map[string]string)}
}

func (m *MemoryMeta) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *MemoryMeta) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

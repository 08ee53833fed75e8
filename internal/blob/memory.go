package blob

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

type memObject struct {
	data  []byte
	attrs Attrs
	mod   time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject), now: time.Now}
}

func (m *MemoryStore) Put(ctx context.Context, data []byte, attrs Attrs) (string, error) {
	addr := Address(data)
	return addr, m.PutNamed(ctx, addr, data, attrs)
}

// PutNamed stores data under an arbitrary name. Used for legacy objects that
// were not named by their content address.
func (m *MemoryStore) PutNamed(_ context.Context, name string, data []byte, attrs Attrs) error {
	cp := make(Attrs, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = memObject{data: append([]byte(nil), data...), attrs: cp, mod: m.now()}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, address string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[address]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemoryStore) Stat(_ context.Context, address string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[address]
	if !ok {
		return Object{}, ErrNotFound
	}
	return Object{Address: address, Size: int64(len(obj.data)), Attrs: obj.attrs, ModTime: obj.mod}, nil
}

func (m *MemoryStore) FindByAttribute(_ context.Context, key, value string, limit int) (string, error) {
	m.mu.RLock()
	objs := make([]Object, 0, len(m.objects))
	for name, obj := range m.objects {
		objs = append(objs, Object{Address: name, Attrs: obj.attrs, ModTime: obj.mod})
	}
	m.mu.RUnlock()
	return findNewest(objs, key, value, limit)
}

func findNewest(objs []Object, key, value string, limit int) (string, error) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].ModTime.After(objs[j].ModTime) })
	if limit > 0 && len(objs) > limit {
		objs = objs[:limit]
	}
	for _, o := range objs {
		if o.Attrs[key] == value {
			return o.Address, nil
		}
	}
	return "", ErrNotFound
}

package memstore

import (
	"context"
	"sync"

	"github.com/theDeemoonn/foodMobile/credentials"
)

var _ credentials.Store = (*MemStore)(nil)

// MemStore keeps credentials in memory. Writes and removals can be made to
// fail to exercise persistence error paths.
type MemStore struct {
	values map[credentials.Key]string
	lock   sync.RWMutex

	setErr    error
	removeErr error
}

func New() *MemStore {
	return &MemStore{
		values: make(map[credentials.Key]string),
	}
}

// FailWrites makes every subsequent Set return err (nil restores normal behaviour).
func (m *MemStore) FailWrites(err error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.setErr = err
}

// FailRemovals makes every subsequent Remove return err.
func (m *MemStore) FailRemovals(err error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.removeErr = err
}

func (m *MemStore) Set(ctx context.Context, key credentials.Key, value string) error {
	if err := credentials.CheckKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func (m *MemStore) Get(ctx context.Context, key credentials.Key) (string, bool, error) {
	if err := credentials.CheckKey(key); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemStore) Remove(ctx context.Context, key credentials.Key) error {
	if err := credentials.CheckKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemStore) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.values)
}

package mocks

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// SequentialIDGenerator is an in-memory stand-in for IDGenerator.
type SequentialIDGenerator struct {
	GenerateFunc func() string
	counter      int
	mu           sync.Mutex
}

func NewSequentialIDGenerator() *SequentialIDGenerator {
	return &SequentialIDGenerator{}
}

func (m *SequentialIDGenerator) Generate() string {
	if m.GenerateFunc != nil {
		return m.GenerateFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return "mock-id-" + strconv.Itoa(m.counter)
}

// FakeIdempotencyStore is an in-memory stand-in for IdempotencyStore.
// A claimed key without a response holds nil.
type FakeIdempotencyStore struct {
	mu   sync.Mutex
	data map[string][]byte

	ReserveFunc func(ctx context.Context, key string, ttl time.Duration) (bool, []byte, error)
}

func NewFakeIdempotencyStore() *FakeIdempotencyStore {
	return &FakeIdempotencyStore{
		data: make(map[string][]byte),
	}
}

func (m *FakeIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, []byte, error) {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.data[key]; ok {
		return false, existing, nil
	}
	m.data[key] = nil
	return true, nil, nil
}

func (m *FakeIdempotencyStore) Complete(_ context.Context, key string, response []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = response
	return nil
}

func (m *FakeIdempotencyStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Stored returns the response kept for key and whether the key is claimed.
func (m *FakeIdempotencyStore) Stored(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

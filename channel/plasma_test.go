package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/streamcore/streamid"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[streamid.ID][]byte
	sealed  map[streamid.ID]bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[streamid.ID][]byte), sealed: make(map[streamid.ID]bool)}
}

func (s *fakeObjectStore) Put(_ context.Context, id streamid.ID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = append([]byte(nil), data...)
	return nil
}

func (s *fakeObjectStore) Get(_ context.Context, id streamid.ID, _ time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[id]
	if !ok {
		return nil, assertNotFound{}
	}
	return data, nil
}

func (s *fakeObjectStore) Seal(_ context.Context, id streamid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed[id] = true
	return nil
}

func (s *fakeObjectStore) Release(_ context.Context, id streamid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
	return nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

func TestPlasmaBackendProduceConsumeInOrder(t *testing.T) {
	store := newFakeObjectStore()
	b := NewPlasmaBackend(store)
	ctx := context.Background()
	ch := streamid.ID{7}

	require.NoError(t, b.ProduceItem(ctx, ch, []byte("first")))
	require.NoError(t, b.ProduceItem(ctx, ch, []byte("second")))

	off0, data0, err := b.ConsumeItem(ctx, ch, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off0)
	assert.Equal(t, []byte("first"), data0)

	off1, data1, err := b.ConsumeItem(ctx, ch, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), off1)
	assert.Equal(t, []byte("second"), data1)
}

func TestPlasmaBackendClearCheckpointReleases(t *testing.T) {
	store := newFakeObjectStore()
	b := NewPlasmaBackend(store)
	ctx := context.Background()
	ch := streamid.ID{8}

	require.NoError(t, b.ProduceItem(ctx, ch, []byte("a")))
	require.NoError(t, b.ProduceItem(ctx, ch, []byte("b")))
	require.NoError(t, b.ClearCheckpoint(ctx, ch, 0, 1))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.objects)
}

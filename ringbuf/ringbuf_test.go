package ringbuf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/streamcore/message"
	"github.com/flowcore/streamcore/status"
)

func TestPushFrontPopOrder(t *testing.T) {
	r := New(4)
	for i := 1; i <= 3; i++ {
		st := r.Push(message.Message{SeqID: uint64(i)})
		require.Equal(t, status.OK, st)
	}
	assert.Equal(t, 3, r.Size())

	front, ok := r.Front()
	require.True(t, ok)
	assert.Equal(t, uint64(1), front.SeqID)

	for i := 1; i <= 3; i++ {
		m, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, uint64(i), m.SeqID)
	}
	assert.True(t, r.IsEmpty())
}

func TestPushFullReturnsFullChannel(t *testing.T) {
	r := New(2)
	require.Equal(t, status.OK, r.Push(message.Message{SeqID: 1}))
	require.Equal(t, status.OK, r.Push(message.Message{SeqID: 2}))
	assert.True(t, r.IsFull())
	assert.Equal(t, status.FullChannel, r.Push(message.Message{SeqID: 3}))
}

func TestPushBlockingUnblocksOnPop(t *testing.T) {
	r := New(1)
	require.Equal(t, status.OK, r.Push(message.Message{SeqID: 1}))

	stopCh := make(chan struct{})
	done := make(chan status.Status, 1)
	go func() {
		done <- r.PushBlocking(message.Message{SeqID: 2}, stopCh, time.Millisecond)
	}()

	select {
	case <-done:
		t.Fatal("PushBlocking returned before ring had room")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := r.Pop()
	require.True(t, ok)

	select {
	case st := <-done:
		assert.Equal(t, status.OK, st)
	case <-time.After(time.Second):
		t.Fatal("PushBlocking never unblocked")
	}
}

func TestPushBlockingInterrupted(t *testing.T) {
	r := New(1)
	require.Equal(t, status.OK, r.Push(message.Message{SeqID: 1}))
	stopCh := make(chan struct{})
	close(stopCh)
	st := r.PushBlocking(message.Message{SeqID: 2}, stopCh, time.Millisecond)
	assert.Equal(t, status.Interrupted, st)
}

func TestTransientLifecycle(t *testing.T) {
	r := New(4)
	assert.False(t, r.HasTransient())
	assert.False(t, r.HasData())

	buf := r.ReallocTransient(16)
	assert.Len(t, buf, 16)
	assert.False(t, r.HasTransient())

	copy(r.TransientMut(), []byte("0123456789abcdef"))
	r.MarkTransientReady(message.BundleTypeBundle)
	assert.True(t, r.HasTransient())
	assert.True(t, r.HasData())
	assert.Equal(t, []byte("0123456789abcdef"), r.Transient())

	r.FreeTransient(false)
	assert.False(t, r.HasTransient())
	assert.False(t, r.HasData())
}

func TestFreeTransientForceReclaimsBarrierStaging(t *testing.T) {
	r := New(4)
	r.ReallocTransient(8)
	r.MarkTransientReady(message.BundleTypeBarrier)
	require.True(t, r.HasTransient())
	// force=false still reclaims a Ready staging area, Barrier included.
	r.FreeTransient(false)
	assert.False(t, r.HasTransient())
}

func TestReallocTransientLeavesRingMessagesUntouched(t *testing.T) {
	r := New(4)
	require.Equal(t, status.OK, r.Push(message.Message{SeqID: 1}))
	r.ReallocTransient(32)
	m, ok := r.Front()
	require.True(t, ok)
	assert.Equal(t, uint64(1), m.SeqID)
	assert.Equal(t, 1, r.Size())
}

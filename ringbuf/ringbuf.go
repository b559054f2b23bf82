// Package ringbuf implements an SPSC bounded buffer: a fixed-capacity
// queue of message.Message plus a detachable
// transient staging area used to hold one bundle's wire image between
// collection and flush. Sized allocation for the transient area is
// grounded on cache/mempool's size-classed pool (the teacher's own
// mcache-backed growth strategy), while the circular indexing is a
// classic head/tail/count queue discipline, since the ring buffer needs
// push/pop rather than container/ring's pointer-walking API.
package ringbuf

import (
	"sync"
	"time"

	"github.com/cloudwego/gopkg/cache/mempool"

	"github.com/flowcore/streamcore/message"
	"github.com/flowcore/streamcore/status"
)

// TransientState is the lifecycle of the detachable staging area.
type TransientState int

const (
	// TransientEmpty means no bundle is staged.
	TransientEmpty TransientState = iota
	// TransientFilling means ReallocTransient was called but the caller
	// has not yet finished writing the staged bundle.
	TransientFilling
	// TransientReady means a complete bundle's wire image sits in the
	// staging area, not counted against ring capacity.
	TransientReady
)

// RingBuffer is a single-producer/single-consumer bounded queue of
// message.Message plus one detachable transient byte buffer.
//
// Push is called from the application thread; Front/Pop/transient methods
// are called from the owning writer loop thread. The mutex exists only to
// make the struct safe for the SPSC handoff, not to serialize a fan-in.
type RingBuffer struct {
	mu       sync.Mutex
	items    []message.Message
	head     int
	count    int
	capacity int

	transState      TransientState
	transient       []byte
	transientBundle message.BundleType
}

// New returns a RingBuffer with room for capacity messages.
func New(capacity int) *RingBuffer {
	return &RingBuffer{
		items:    make([]message.Message, capacity),
		capacity: capacity,
	}
}

// Push appends msg to the back of the ring. Returns status.FullChannel
// without blocking if the ring is at capacity; callers wanting bounded
// sleep-poll back-pressure should use PushBlocking.
func (r *RingBuffer) Push(msg message.Message) status.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == r.capacity {
		return status.FullChannel
	}
	tail := (r.head + r.count) % r.capacity
	r.items[tail] = msg
	r.count++
	return status.OK
}

// PushBlocking retries Push with sleeps of pollInterval while the ring is
// full, returning status.Interrupted if stopCh fires first. This is the
// writer's TIME_WAIT_UNIT spin-poll.
func (r *RingBuffer) PushBlocking(msg message.Message, stopCh <-chan struct{}, pollInterval time.Duration) status.Status {
	for {
		st := r.Push(msg)
		if st == status.OK {
			return status.OK
		}
		select {
		case <-stopCh:
			return status.Interrupted
		case <-time.After(pollInterval):
		}
	}
}

// Front returns the oldest message without removing it.
func (r *RingBuffer) Front() (message.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return message.Message{}, false
	}
	return r.items[r.head], true
}

// Pop removes and returns the oldest message.
func (r *RingBuffer) Pop() (message.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return message.Message{}, false
	}
	m := r.items[r.head]
	r.items[r.head] = message.Message{}
	r.head = (r.head + 1) % r.capacity
	r.count--
	return m, true
}

// IsEmpty reports whether the ring holds no buffered messages. It does
// not consider the transient staging area; use HasData for the writer
// loop's "anything to flush" check.
func (r *RingBuffer) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == 0
}

// IsFull reports whether the ring is at capacity.
func (r *RingBuffer) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == r.capacity
}

// Size returns the number of buffered messages.
func (r *RingBuffer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// HasData reports whether the ring has messages to collect or a staged
// transient bundle ready to flush (write_channel_process).
func (r *RingBuffer) HasData() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count > 0 || r.transState == TransientReady
}

// ReallocTransient grows (or shrinks) the transient staging area to n
// bytes without touching any buffered ring message, and marks it
// Filling. The returned slice is valid until the next ReallocTransient or
// FreeTransient call.
func (r *RingBuffer) ReallocTransient(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transient != nil {
		mempool.Free(r.transient)
	}
	r.transient = mempool.Malloc(n)
	r.transState = TransientFilling
	return r.transient
}

// TransientMut returns the staging area for in-place writes.
func (r *RingBuffer) TransientMut() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transient
}

// Transient returns the staging area for read-only access, e.g. handing
// it to the channel backend for produce_item.
func (r *RingBuffer) Transient() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transient
}

// MarkTransientReady transitions the staging area from Filling to Ready,
// recording the bundle type it holds (Barrier bundles get eager release,
// see FreeTransient).
func (r *RingBuffer) MarkTransientReady(bt message.BundleType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transState = TransientReady
	r.transientBundle = bt
}

// HasTransient reports whether a complete bundle sits in the staging
// area.
func (r *RingBuffer) HasTransient() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transState == TransientReady
}

// FreeTransient releases the staging area's bytes back to the mempool.
// A Ready transient is always released, whatever bundle type it holds
// (Barrier included), so oversize staging areas never linger after a
// flush; a non-Ready transient (Empty or still Filling) is only
// released when force is true.
func (r *RingBuffer) FreeTransient(force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transState != TransientReady {
		if !force {
			return
		}
	}
	if r.transientBundle == message.BundleTypeBarrier {
		force = true
	}
	if r.transState == TransientReady || force {
		if r.transient != nil {
			mempool.Free(r.transient)
		}
		r.transient = nil
		r.transState = TransientEmpty
		r.transientBundle = 0
	}
}

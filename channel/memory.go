package channel

import (
	"context"
	"sync"
	"time"

	"github.com/flowcore/streamcore/status"
	"github.com/flowcore/streamcore/streamid"
)

// MemoryBackend is the InMemory/Mock backend a
// FIFO deque per channel, in-process, used by tests and as the default
// for single-process pipelines. One MemoryBackend instance serves both
// the ProducerTransfer and ConsumerTransfer roles, since there is no
// process boundary to cross.
type MemoryBackend struct {
	capacity int // max pending bundles per channel before ProduceItem reports FullChannel

	mu     sync.Mutex
	queues map[streamid.ID]*memQueue
}

type memQueue struct {
	mu               sync.Mutex
	pending          [][]byte
	nextOffset       uint64 // offset assigned to the next produced item
	closed           bool
	reclaimWatermark uint64
}

func newMemQueue() *memQueue {
	return &memQueue{}
}

// NewMemoryBackend returns a MemoryBackend whose per-channel queues hold
// at most capacity un-consumed bundles before ProduceItem returns
// status.FullChannel.
func NewMemoryBackend(capacity int) *MemoryBackend {
	return &MemoryBackend{
		capacity: capacity,
		queues:   make(map[streamid.ID]*memQueue),
	}
}

func (b *MemoryBackend) queue(channelID streamid.ID) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[channelID]
	if !ok {
		q = newMemQueue()
		b.queues[channelID] = q
	}
	return q
}

// Create registers channelID if it doesn't already exist.
func (b *MemoryBackend) Create(_ context.Context, channelID streamid.ID) error {
	b.queue(channelID)
	return nil
}

// Destroy marks channelID closed; pending consumers wake with
// status.ChannelClosed.
func (b *MemoryBackend) Destroy(_ context.Context, channelID streamid.ID) error {
	q := b.queue(channelID)
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

// ProduceItem appends data to channelID's deque, or reports
// status.FullChannel if the channel is at capacity.
func (b *MemoryBackend) ProduceItem(_ context.Context, channelID streamid.ID, data []byte) error {
	q := b.queue(channelID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return status.New(status.ChannelClosed, "produce to closed channel")
	}
	if b.capacity > 0 && len(q.pending) >= b.capacity {
		return status.New(status.FullChannel, "memory channel at capacity")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	q.pending = append(q.pending, cp)
	return nil
}

// pollInterval is how often ConsumeItem rechecks an empty queue. Kept
// short relative to read_item_timeout_ms default (10ms) so a
// bounded-timeout consume gets several chances before it expires.
const pollInterval = 2 * time.Millisecond

// ConsumeItem waits up to timeout (negative blocks indefinitely) for the
// next bundle on channelID.
func (b *MemoryBackend) ConsumeItem(_ context.Context, channelID streamid.ID, timeout time.Duration) (uint64, []byte, error) {
	q := b.queue(channelID)

	var deadline time.Time
	hasDeadline := timeout >= 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			item := q.pending[0]
			q.pending = q.pending[1:]
			offset := q.nextOffset
			q.nextOffset++
			q.mu.Unlock()
			return offset, item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return 0, nil, status.New(status.ChannelClosed, "channel closed with no pending items")
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return 0, nil, status.New(status.NoSuchItem, "consume timed out")
		}
		time.Sleep(pollInterval)
	}
}

// WaitChannelsReady always succeeds: memory channels are ready as soon
// as Create registers them.
func (b *MemoryBackend) WaitChannelsReady(_ context.Context, ids []streamid.ID, _ time.Duration) ([]streamid.ID, error) {
	for _, id := range ids {
		b.queue(id)
	}
	return nil, nil
}

// NotifyConsumed advances channelID's reclaim watermark to offset if it
// is larger than the current watermark.
func (b *MemoryBackend) NotifyConsumed(_ context.Context, channelID streamid.ID, offset uint64) error {
	q := b.queue(channelID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if offset > q.reclaimWatermark {
		q.reclaimWatermark = offset
	}
	return nil
}

// ReclaimWatermark returns channelID's last-notified reclaim offset.
func (b *MemoryBackend) ReclaimWatermark(channelID streamid.ID) uint64 {
	q := b.queue(channelID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reclaimWatermark
}

// ClearCheckpoint is a no-op for the memory backend: there is no backend
// storage to reclaim beyond the reclaim watermark itself.
func (b *MemoryBackend) ClearCheckpoint(context.Context, streamid.ID, uint64, uint64) error {
	return nil
}

// RefreshChannelInfo is a no-op for the memory backend.
func (b *MemoryBackend) RefreshChannelInfo(context.Context, streamid.ID) error {
	return nil
}

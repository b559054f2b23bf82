package queueservice

import (
	"sync"

	"github.com/flowcore/streamcore/status"
	"github.com/flowcore/streamcore/streamid"
)

// ReaderQueue is the downstream per-queue state :
// inbound Data messages land here via on_data. Buffered payloads are
// drained through Pop.
type ReaderQueue struct {
	ChannelID streamid.ID

	mu        sync.Mutex
	backlog   [][]byte
	lastSeqID uint64
}

func newReaderQueue(channelID streamid.ID) *ReaderQueue {
	return &ReaderQueue{ChannelID: channelID}
}

// OnData appends payload to the queue's backlog and records seqID as the
// high-water mark.
func (q *ReaderQueue) OnData(seqID uint64, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastSeqID = seqID
	q.backlog = append(q.backlog, payload)
	return nil
}

// Pop removes and returns the oldest buffered payload, if any.
func (q *ReaderQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.backlog) == 0 {
		return nil, false
	}
	item := q.backlog[0]
	q.backlog = q.backlog[1:]
	return item, true
}

// LastSeqID returns the seq id of the most recently received Data
// message.
func (q *ReaderQueue) LastSeqID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSeqID
}

// WriterQueue is the upstream per-queue state :
// inbound Notification messages land here via on_notify, advancing the
// queue's reclaim watermark and invoking the callback registered with
// SetOnNotify.
type WriterQueue struct {
	ChannelID streamid.ID

	mu               sync.Mutex
	reclaimWatermark uint64
	onNotify         func(seqID uint64)
}

func newWriterQueue(channelID streamid.ID) *WriterQueue {
	return &WriterQueue{ChannelID: channelID}
}

// OnNotify advances the reclaim watermark to seqID if it supersedes the
// current value — a later seq id notification supersedes an earlier one
// for reclamation purposes — and, if set, invokes the registered
// callback.
func (q *WriterQueue) OnNotify(seqID uint64) {
	q.mu.Lock()
	if seqID > q.reclaimWatermark {
		q.reclaimWatermark = seqID
	}
	cb := q.onNotify
	q.mu.Unlock()
	if cb != nil {
		cb(seqID)
	}
}

// ReclaimWatermark returns the highest acknowledged seq id.
func (q *WriterQueue) ReclaimWatermark() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reclaimWatermark
}

// SetOnNotify registers a callback invoked (on the service thread) on
// every OnNotify call, whether or not it advanced the watermark.
func (q *WriterQueue) SetOnNotify(cb func(seqID uint64)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onNotify = cb
}

// errUnknownQueue is returned when a message references a queue id this
// side never registered.
func errUnknownQueue(id streamid.ID) error {
	return status.New(status.ChannelClosed, "queueservice: unknown queue "+id.String())
}

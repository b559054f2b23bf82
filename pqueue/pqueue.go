// Package pqueue implements the reader-side priority queue: a k-way
// merge ordered by (bundle_ts, bundle_type_rank, channel_id), enforcing
// the max-one-bundle-per-channel invariant the merger relies on.
// Grounded on container/ring's discipline of owning a fixed internal
// slice and exposing a narrow accessor surface, adapted here to
// container/heap since the merger genuinely needs priority-order
// extraction rather than ring traversal.
package pqueue

import (
	"container/heap"
	"fmt"

	"github.com/flowcore/streamcore/streamid"
)

// Item is anything the merger can order: the
// (bundle_ts, bundle_type_rank, channel_id) triple.
type Item interface {
	// PriorityKey returns the bundle timestamp, the bundle-type rank
	// (Barrier < Bundle < Empty), and the source channel id.
	PriorityKey() (ts uint64, typeRank int, channel streamid.ID)
}

// Queue is a min-heap of Item ordered by PriorityKey, with at most one
// Item per channel id held at a time.
type Queue struct {
	h       itemHeap
	present map[streamid.ID]bool
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{present: make(map[streamid.ID]bool)}
}

// Push inserts item. It returns an error if a bundle from the same
// channel is already queued — the caller must Pop (or otherwise drain)
// that channel's bundle before pushing another, preserving the
// max-one-per-channel invariant.
func (q *Queue) Push(item Item) error {
	_, _, ch := item.PriorityKey()
	if q.present[ch] {
		return fmt.Errorf("pqueue: channel %s already has a queued bundle", ch)
	}
	q.present[ch] = true
	heap.Push(&q.h, item)
	return nil
}

// Pop removes and returns the highest-priority item (earliest bundle_ts,
// then lowest type rank, then lowest channel id). Returns false if the
// queue is empty.
func (q *Queue) Pop() (Item, bool) {
	if q.h.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&q.h).(Item)
	_, _, ch := item.PriorityKey()
	delete(q.present, ch)
	return item, true
}

// Len returns the number of queued bundles.
func (q *Queue) Len() int {
	return q.h.Len()
}

// HasChannel reports whether channel currently has a queued bundle.
func (q *Queue) HasChannel(channel streamid.ID) bool {
	return q.present[channel]
}

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	tsI, rankI, chI := h[i].PriorityKey()
	tsJ, rankJ, chJ := h[j].PriorityKey()
	if tsI != tsJ {
		return tsI < tsJ
	}
	if rankI != rankJ {
		return rankI < rankJ
	}
	return chI.String() < chJ.String()
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(Item))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

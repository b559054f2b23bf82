// Package reader implements the consumer-side pump: a k-way merge
// across every subscribed channel's bundle stream, enforcing the
// max-one-bundle-per-channel invariant via pqueue and replacing a
// popped channel's slot before the next GetBundle call can starve it.
package reader

import (
	"context"
	"sync"
	"time"

	"github.com/flowcore/streamcore/channel"
	"github.com/flowcore/streamcore/message"
	"github.com/flowcore/streamcore/pqueue"
	"github.com/flowcore/streamcore/status"
	"github.com/flowcore/streamcore/streamid"
	"github.com/flowcore/streamcore/wire"
)

// readItemTimeout is the teacher-style fixed poll granularity GetMessageFromChannel
// uses against the backend's ConsumeItem (kReadItemTimeout).
const readItemTimeout = 10 * time.Millisecond

// DataBundle pairs a decoded Bundle with the channel it came from and the
// backend offset it was fetched at, the unit the merger orders.
type DataBundle struct {
	Channel streamid.ID
	Offset  uint64
	Bundle  *message.Bundle
}

// PriorityKey orders DataBundles by (bundle_ts, bundle_type_rank,
// channel_id), implementing pqueue.Item.
func (d *DataBundle) PriorityKey() (ts uint64, typeRank int, channel streamid.ID) {
	return d.Bundle.BundleTS, d.Bundle.BundleType.Rank(), d.Channel
}

// Reader is the single-threaded consumer pump owning the merger and every
// subscribed channel's ConsumerChannelInfo.
type Reader struct {
	transfer channel.ConsumerTransfer

	mu       sync.Mutex
	merger   *pqueue.Queue
	channels map[streamid.ID]*channel.ConsumerChannelInfo

	// lastFetched is the channel GetBundle must refill before it may pop
	// a different channel's bundle.
	lastFetched   streamid.ID
	haveLastFetch bool

	// pendingSeed holds every channel that has never had a bundle pushed
	// into the merger yet. GetBundle drains this set before it is
	// allowed to pop, seeding one item from every channel into the
	// merged queue up front; a channel not ready yet simply stays
	// pending and is retried next call.
	pendingSeed map[streamid.ID]bool
}

// New returns a Reader bound to transfer.
func New(transfer channel.ConsumerTransfer) *Reader {
	return &Reader{
		transfer:    transfer,
		merger:      pqueue.New(),
		channels:    make(map[streamid.ID]*channel.ConsumerChannelInfo),
		pendingSeed: make(map[streamid.ID]bool),
	}
}

// Init creates and subscribes to every channel in ids, waiting up to
// timeout for the backend to report them ready, mirroring writer.Init's
// contract.
func (r *Reader) Init(ctx context.Context, ids []streamid.ID, timeout time.Duration) error {
	r.mu.Lock()
	for _, id := range ids {
		if _, ok := r.channels[id]; ok {
			continue
		}
		r.channels[id] = &channel.ConsumerChannelInfo{ChannelID: id}
		r.pendingSeed[id] = true
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.transfer.Create(ctx, id); err != nil {
			return status.Wrap(status.InitQueueFailed, "create channel", err)
		}
	}
	abnormal, err := r.transfer.WaitChannelsReady(ctx, ids, timeout)
	if err != nil {
		return status.Wrap(status.InitQueueFailed, "wait channels ready", err)
	}
	if len(abnormal) > 0 {
		return status.New(status.InitQueueFailed, "channels never became ready")
	}
	return nil
}

// seedPendingChannels fetches one bundle from every channel that has
// never had a bundle pushed into the merger yet, bootstrapping the
// refill-then-pop discipline before the very first pop can happen.
// A channel with nothing to fetch yet simply stays pending and is
// retried on the next GetBundle call rather than failing it outright.
func (r *Reader) seedPendingChannels(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	pending := make([]streamid.ID, 0, len(r.pendingSeed))
	for id := range r.pendingSeed {
		pending = append(pending, id)
	}
	r.mu.Unlock()

	for _, id := range pending {
		err := r.refillChannel(ctx, id, timeout)
		if err == nil {
			r.mu.Lock()
			delete(r.pendingSeed, id)
			r.mu.Unlock()
			continue
		}
		if status.Is(err, status.GetBundleTimeOut) {
			continue
		}
		return err
	}
	return nil
}

// GetBundle implements GetBundle: refill the channel the
// previous call drained (if any), then pop the merger's highest-priority
// bundle. Returns status.GetBundleTimeOut if the merger is still empty
// once timeout elapses.
func (r *Reader) GetBundle(ctx context.Context, timeout time.Duration) (*DataBundle, status.Status) {
	r.mu.Lock()
	prev, havePrev := r.lastFetched, r.haveLastFetch
	r.haveLastFetch = false
	r.mu.Unlock()

	if havePrev {
		if err := r.refillChannel(ctx, prev, timeout); err != nil && !status.Is(err, status.GetBundleTimeOut) {
			return nil, errStatus(err)
		}
	}

	if err := r.seedPendingChannels(ctx, timeout); err != nil {
		return nil, errStatus(err)
	}

	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		item, ok := r.merger.Pop()
		r.mu.Unlock()
		if ok {
			db := item.(*DataBundle)
			r.mu.Lock()
			r.lastFetched = db.Channel
			r.haveLastFetch = true
			r.mu.Unlock()
			return db, status.OK
		}
		if !time.Now().Before(deadline) {
			return nil, status.GetBundleTimeOut
		}
		select {
		case <-ctx.Done():
			return nil, status.Interrupted
		case <-time.After(readItemTimeout):
		}
	}
}

// refillChannel fetches one fresh bundle from channelID and inserts it
// into the merger, satisfying the max-one-per-channel invariant before
// GetBundle is allowed to pop again.
func (r *Reader) refillChannel(ctx context.Context, channelID streamid.ID, timeout time.Duration) error {
	db, err := r.GetMessageFromChannel(ctx, channelID, timeout)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.channels[channelID]; ok {
		info.CurrentSeqID = db.Offset
		info.LastMessageID = db.Bundle.LastMessageID
	}
	if pushErr := r.merger.Push(db); pushErr != nil {
		// Already present: the previous bundle from this channel was never
		// popped. This should not happen given GetBundle's discipline, but
		// surfacing it as a status rather than panicking keeps a caller's
		// retry loop intact.
		return status.New(status.InitQueueFailed, pushErr.Error())
	}
	return nil
}

// GetMessageFromChannel implements GetMessageFromChannel:
// it calls the backend's ConsumeItem with kReadItemTimeout repeatedly,
// retrying transient status.NoSuchItem results until timeout's budget is
// exhausted, and parses the returned bytes as a Bundle.
func (r *Reader) GetMessageFromChannel(ctx context.Context, channelID streamid.ID, timeout time.Duration) (*DataBundle, error) {
	deadline := time.Now().Add(timeout)
	for {
		offset, data, err := r.transfer.ConsumeItem(ctx, channelID, readItemTimeout)
		if err == nil {
			b, decErr := wire.DecodeBundleBytes(data)
			if decErr != nil {
				return nil, decErr
			}
			return &DataBundle{Channel: channelID, Offset: offset, Bundle: b}, nil
		}
		if !status.Is(err, status.NoSuchItem) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, status.New(status.GetBundleTimeOut, "get message from channel timed out")
		}
		select {
		case <-ctx.Done():
			return nil, status.New(status.Interrupted, "context cancelled")
		default:
		}
	}
}

// GetOffsetInfo returns a snapshot of every subscribed channel's
// ConsumerChannelInfo.
func (r *Reader) GetOffsetInfo() map[streamid.ID]channel.ConsumerChannelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[streamid.ID]channel.ConsumerChannelInfo, len(r.channels))
	for id, info := range r.channels {
		out[id] = *info
	}
	return out
}

// NotifyConsumedItem delivers a Notification message upstream telling the
// writer that everything up to and including offset on channelID has
// been consumed and may be reclaimed, then advances the local
// ReclaimWatermark bookkeeping.
func (r *Reader) NotifyConsumedItem(ctx context.Context, channelID streamid.ID, offset uint64) error {
	if err := r.transfer.NotifyConsumed(ctx, channelID, offset); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.channels[channelID]; ok && offset > info.ReclaimWatermark {
		info.ReclaimWatermark = offset
	}
	return nil
}

func errStatus(err error) status.Status {
	if se, ok := err.(*status.Error); ok {
		return se.Code()
	}
	return status.IoError
}

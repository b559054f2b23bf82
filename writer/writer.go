// Package writer implements the writer loop a
// single-threaded pump that drains each output channel's ring buffer,
// coalesces messages into bundles under size/type constraints, handles
// full-channel back-pressure, and emits heartbeat empty bundles when
// idle. The loop itself follows the teacher's gopool worker-loop shape
// (a for-select driven by one owned goroutine, torn down by closing a
// stop channel and joining a WaitGroup) rather than a raw unmanaged
// goroutine.
package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	cring "github.com/cloudwego/gopkg/container/ring"

	"github.com/flowcore/streamcore"
	"github.com/flowcore/streamcore/channel"
	"github.com/flowcore/streamcore/config"
	"github.com/flowcore/streamcore/message"
	"github.com/flowcore/streamcore/ringbuf"
	"github.com/flowcore/streamcore/status"
	"github.com/flowcore/streamcore/streamid"
	"github.com/flowcore/streamcore/wire"
)

// State is the writer loop's run state.
type State int32

const (
	StateRunning State = iota
	StateInterrupted
)

// pushPollInterval is the poll granularity PushBlocking spins on while a
// ring buffer is full.
const pushPollInterval = time.Millisecond

// Channel is one output channel's writer-owned state: the ring buffer
// application threads push into, plus its ProducerChannelInfo
// bookkeeping.
type Channel struct {
	mu   sync.Mutex
	Info channel.ProducerChannelInfo
	Ring *ringbuf.RingBuffer

	// stagedLastMessageID/stagedBundleType describe the bundle currently
	// sitting in Ring's transient staging area, set when
	// collectFromRingBuffer (or writeEmptyMessage) builds it, consumed
	// when the flush succeeds.
	stagedLastMessageID uint64
	stagedBundleType    message.BundleType
}

// Writer is the single-threaded pump owning every output channel's ring
// buffer.
type Writer struct {
	cfg      *config.Config
	transfer channel.ProducerTransfer

	mu       sync.RWMutex
	order    []streamid.ID
	sweep    *cring.Ring[streamid.ID] // round-robin sweep order, rebuilt whenever order changes
	channels map[streamid.ID]*Channel

	state  atomic.Int32
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a Writer bound to transfer, using cfg for ring capacity,
// queue size, and heartbeat pacing.
func New(cfg *config.Config, transfer channel.ProducerTransfer) *Writer {
	if cfg == nil {
		cfg = config.Default()
	}
	w := &Writer{
		cfg:      cfg,
		transfer: transfer,
		channels: make(map[streamid.ID]*Channel),
		stopCh:   make(chan struct{}),
	}
	w.state.Store(int32(StateRunning))
	return w
}

// Init creates and registers one output channel per id, sized by
// cfg.RingBufferCapacity/cfg.QueueSize, then waits for every channel to
// become ready via the backend's handshake (Init
// contract, wait_channels_ready).
func (w *Writer) Init(ctx context.Context, ids []streamid.ID, timeout time.Duration) error {
	w.mu.Lock()
	for _, id := range ids {
		if _, ok := w.channels[id]; ok {
			continue
		}
		ch := &Channel{
			Info: channel.ProducerChannelInfo{
				ChannelID:       id,
				MessagePassByTs: nowMs(),
				QueueSize:       w.cfg.QueueSize,
			},
			Ring: ringbuf.New(w.cfg.RingBufferCapacity),
		}
		w.channels[id] = ch
		w.order = append(w.order, id)
	}
	w.sweep = cring.NewFromSlice(append([]streamid.ID(nil), w.order...))
	w.mu.Unlock()

	for _, id := range ids {
		if err := w.transfer.Create(ctx, id); err != nil {
			return status.Wrap(status.InitQueueFailed, "create channel", err)
		}
	}
	abnormal, err := w.transfer.WaitChannelsReady(ctx, ids, timeout)
	if err != nil {
		return status.Wrap(status.InitQueueFailed, "wait channels ready", err)
	}
	if len(abnormal) > 0 {
		return status.New(status.InitQueueFailed, "channels never became ready")
	}
	return nil
}

// State returns the writer's current run state.
func (w *Writer) State() State {
	return State(w.state.Load())
}

// WriteMessageToBufferRing is the application entry point: it assigns the next message_seq_id on channelID, then spins
// pushing into that channel's ring while it is full and the writer is
// Running. Returns 0 (the spec's sentinel "dropped") if the writer is
// not Running before the push or flips away from Running while
// spinning; otherwise returns the assigned seq id.
func (w *Writer) WriteMessageToBufferRing(channelID streamid.ID, payload []byte, msgType message.Type) uint64 {
	ch := w.channel(channelID)
	if ch == nil {
		return 0
	}

	ch.mu.Lock()
	ch.Info.CurrentMessageID++
	seqID := ch.Info.CurrentMessageID
	ch.mu.Unlock()

	if w.State() != StateRunning {
		return 0
	}
	msg := message.Message{SeqID: seqID, MsgType: msgType, Payload: payload}
	st := ch.Ring.PushBlocking(msg, w.stopCh, pushPollInterval)
	if st != status.OK {
		return 0
	}
	return seqID
}

func (w *Writer) channel(id streamid.ID) *Channel {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.channels[id]
}

// Loop runs the writer pump while State() == Running. It
// returns when Stop is called or ctx is cancelled.
func (w *Writer) Loop(ctx context.Context) {
	for {
		if w.State() != StateRunning {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		w.mu.RLock()
		var channels []*Channel
		if w.sweep != nil {
			channels = make([]*Channel, 0, w.sweep.Len())
			w.sweep.Do(func(id *streamid.ID) {
				channels = append(channels, w.channels[*id])
			})
		}
		w.mu.RUnlock()

		emptySent := 0
		minPassByTs := int64(0)
		haveMin := false
		for _, ch := range channels {
			st, isEmpty := w.writeChannelProcess(ctx, ch)
			switch st {
			case status.OK:
				ch.mu.Lock()
				ch.Info.MessagePassByTs = nowMs()
				pass := ch.Info.MessagePassByTs
				ch.mu.Unlock()
				if isEmpty {
					emptySent++
					if !haveMin || pass < minPassByTs {
						minPassByTs = pass
						haveMin = true
					}
				}
			case status.FullChannel, status.EmptyRingBuffer, status.SkipSendEmptyMessage:
				// recoverable locally and silently; retried
				// next sweep.
			default:
				streamcore.Logger("writer: channel %s: %v", ch.Info.ChannelID, st)
			}
		}

		if len(channels) > 0 && emptySent == len(channels) {
			sleepMs := w.cfg.EmptyMessageIntervalMs - (nowMs() - minPassByTs)
			if sleepMs < 0 {
				sleepMs = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-time.After(time.Duration(sleepMs) * time.Millisecond):
			}
		}
	}
}

// writeChannelProcess implements write_channel_process:
// flush buffered data if any is available, else emit a heartbeat once
// the channel has been idle past EmptyMessageIntervalMs, else report
// EmptyRingBuffer.
func (w *Writer) writeChannelProcess(ctx context.Context, ch *Channel) (status.Status, bool) {
	if ch.Ring.HasData() {
		return w.writeBufferToChannel(ctx, ch), false
	}
	ch.mu.Lock()
	idleMs := nowMs() - ch.Info.MessagePassByTs
	ch.mu.Unlock()
	if idleMs >= w.cfg.EmptyMessageIntervalMs {
		return w.writeEmptyMessage(ctx, ch), true
	}
	return status.EmptyRingBuffer, false
}

func (w *Writer) writeBufferToChannel(ctx context.Context, ch *Channel) status.Status {
	if !ch.Ring.HasTransient() {
		if st := w.collectFromRingBuffer(ch); st != status.OK {
			return st
		}
	}
	return w.flushTransient(ctx, ch)
}

// collectFromRingBuffer implements collect_from_ring_buffer:
// drain front-to-back until the message count hits RingBufferCapacity,
// the next message would bring the running byte total to QueueSize or
// more (and the bundle is already non-empty), the next message's type
// differs from the bundle's current type, or the bundle already holds a
// Barrier message (a Barrier bundle carries exactly one).
func (w *Writer) collectFromRingBuffer(ch *Channel) status.Status {
	var msgs []message.Message
	var runningBytes int
	var curType message.Type

	for {
		next, ok := ch.Ring.Front()
		if !ok {
			break
		}
		if len(msgs) >= w.cfg.RingBufferCapacity {
			break
		}
		if len(msgs) > 0 {
			if curType == message.TypeBarrier || next.MsgType != curType {
				break
			}
			if runningBytes+next.Size() >= ch.Info.QueueSize {
				break
			}
		}
		m, _ := ch.Ring.Pop()
		msgs = append(msgs, m)
		runningBytes += m.Size()
		curType = m.MsgType
	}

	if len(msgs) == 0 {
		return status.EmptyRingBuffer
	}

	bundleType := message.BundleTypeBundle
	if curType == message.TypeBarrier {
		bundleType = message.BundleTypeBarrier
	}
	b := &message.Bundle{
		LastMessageID: msgs[len(msgs)-1].SeqID,
		BundleTS:      uint64(nowMs()),
		BundleType:    bundleType,
		Messages:      msgs,
	}

	sz := wire.BundleEncodedSize(b)
	buf := ch.Ring.ReallocTransient(sz)
	if _, err := wire.EncodeBundleInto(buf, b); err != nil {
		return status.IoError
	}
	ch.Ring.MarkTransientReady(bundleType)
	ch.mu.Lock()
	ch.stagedLastMessageID = b.LastMessageID
	ch.stagedBundleType = bundleType
	ch.mu.Unlock()
	return status.OK
}

// writeEmptyMessage implements write_empty_message: it is
// skipped (SkipSendEmptyMessage) if the ring is not truly empty yet —
// message_last_commit_id < current_message_id means a bundle is still
// pending, and emitting a heartbeat now would race with it.
func (w *Writer) writeEmptyMessage(ctx context.Context, ch *Channel) status.Status {
	ch.mu.Lock()
	if ch.Info.MessageLastCommitID < ch.Info.CurrentMessageID {
		ch.mu.Unlock()
		return status.SkipSendEmptyMessage
	}
	lastMessageID := ch.Info.CurrentMessageID
	ch.mu.Unlock()

	b := message.EmptyBundle(lastMessageID, uint64(nowMs()))
	sz := wire.BundleEncodedSize(b)
	buf := ch.Ring.ReallocTransient(sz)
	if _, err := wire.EncodeBundleInto(buf, b); err != nil {
		return status.IoError
	}
	ch.Ring.MarkTransientReady(message.BundleTypeEmpty)
	ch.mu.Lock()
	ch.stagedLastMessageID = b.LastMessageID
	ch.stagedBundleType = message.BundleTypeEmpty
	ch.mu.Unlock()

	return w.flushTransient(ctx, ch)
}

// flushTransient hands the ring's staged bundle to the backend. On
// success it advances message_last_commit_id/current_seq_id and frees
// the transient staging area (ringbuf.FreeTransient releases a Ready
// transient of any bundle type, Barrier included).
func (w *Writer) flushTransient(ctx context.Context, ch *Channel) status.Status {
	data := ch.Ring.Transient()
	err := w.transfer.ProduceItem(ctx, ch.Info.ChannelID, data)
	if err != nil {
		if se, ok := err.(*status.Error); ok {
			return se.Code()
		}
		return status.IoError
	}

	ch.mu.Lock()
	ch.Info.MessageLastCommitID = ch.stagedLastMessageID
	ch.Info.CurrentSeqID++
	ch.mu.Unlock()
	ch.Ring.FreeTransient(false)
	return status.OK
}

// Stop flips the writer to Interrupted: the loop exits at its next
// top-of-sweep check, and any in-flight WriteMessageToBufferRing spin
// returns 0.
func (w *Writer) Stop() {
	w.state.Store(int32(StateInterrupted))
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

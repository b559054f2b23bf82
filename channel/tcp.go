package channel

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cloudwego/gopkg/concurrency/gopool"
	"github.com/cloudwego/gopkg/netx"

	"github.com/flowcore/streamcore"
	"github.com/flowcore/streamcore/status"
	"github.com/flowcore/streamcore/streamid"
	"github.com/flowcore/streamcore/wire"
)

// channelShardCount is the number of independent channel-registry shards
// a TCPBackend keeps, each guarded by its own mutex. A channel's shard is
// chosen by streamid.ID.Hash() so the demux read loop and concurrent
// ConsumeItem callers across many channels don't all serialize on one
// lock, the same reason the teacher shards its own connection tables by
// hash rather than a single global map.
const channelShardCount = 16

// TCPBackend is the "streaming_queue" backend: a concrete
// ProducerTransfer/ConsumerTransfer implementation over a real
// socket, built on the teacher's netx.Conn (nocopy bufiox reads/writes
// over net.Conn) with connstate's poller detecting peer close. One
// TCPBackend multiplexes every logical channel to the same peer actor
// over a single net.Conn, demultiplexing inbound wire.MsgTypeData frames
// by queue id, the way the teacher layers a protocol over one pooled
// connection rather than one socket per logical stream.
type TCPBackend struct {
	conn       netx.Conn
	localActor streamid.ID
	peerActor  streamid.ID
	writeMu    sync.Mutex
	pool       *gopool.GoPool

	shards [channelShardCount]channelShard

	mu       sync.Mutex
	closed   bool
	closeErr error
}

// channelShard is one bucket of the channel registry, keyed by
// streamid.ID.Hash() mod channelShardCount.
type channelShard struct {
	mu       sync.Mutex
	channels map[streamid.ID]*tcpChannelState
}

type tcpChannelState struct {
	mu               sync.Mutex
	pending          [][]byte
	nextOffset       uint64
	reclaimWatermark uint64
}

// NewTCPBackend wraps conn and starts the demux read loop on pool (or the
// package-level gopool fallback if pool is nil). localActor/peerActor
// identify the two endpoints for protocol headers.
func NewTCPBackend(conn net.Conn, localActor, peerActor streamid.ID, pool *gopool.GoPool) (*TCPBackend, error) {
	wrapped, err := netx.Wrap(conn)
	if err != nil {
		return nil, status.Wrap(status.IoError, "wrap tcp conn", err)
	}
	b := &TCPBackend{
		conn:       wrapped,
		localActor: localActor,
		peerActor:  peerActor,
		pool:       pool,
	}
	for i := range b.shards {
		b.shards[i].channels = make(map[streamid.ID]*tcpChannelState)
	}
	run := gopool.Go
	if pool != nil {
		run = pool.Go
	}
	run(b.readLoop)
	return b, nil
}

// shardFor returns the channel registry shard owning channelID.
func (b *TCPBackend) shardFor(channelID streamid.ID) *channelShard {
	return &b.shards[channelID.Hash()%channelShardCount]
}

func (b *TCPBackend) state(channelID streamid.ID) *tcpChannelState {
	sh := b.shardFor(channelID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.channels[channelID]
	if !ok {
		st = &tcpChannelState{}
		sh.channels[channelID] = st
	}
	return st
}

func (b *TCPBackend) readLoop() {
	for {
		msg, err := wire.ParseMessage(b.conn.Reader())
		if err != nil {
			b.fail(err)
			return
		}
		switch msg.Type {
		case wire.MsgTypeData:
			st := b.state(msg.QueueID)
			st.mu.Lock()
			st.pending = append(st.pending, msg.Payload)
			st.mu.Unlock()
		case wire.MsgTypeCheck:
			b.replyCheckOK(msg.QueueID)
		case wire.MsgTypeNotification:
			st := b.state(msg.QueueID)
			st.mu.Lock()
			if msg.SeqID > st.reclaimWatermark {
				st.reclaimWatermark = msg.SeqID
			}
			st.mu.Unlock()
		case wire.MsgTypeCheckRsp:
			// A CheckRsp must only arrive on the synchronous call path; seeing
			// one here means the peer is replying to a Check this backend
			// never issued through the async loop. Treat as fatal protocol
			// corruption.
			streamcore.Logger("channel: fatal: unexpected async CheckRsp from %s", b.peerActor)
			b.fail(status.New(status.UnknownMessageType, "unexpected async CheckRsp"))
			return
		default:
			b.fail(status.New(status.UnknownMessageType, "unknown protocol message"))
			return
		}
		_ = b.conn.Reader().Release(nil)
	}
}

func (b *TCPBackend) fail(err error) {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.closeErr = err
	}
	b.mu.Unlock()
}

func (b *TCPBackend) replyCheckOK(queueID streamid.ID) {
	rsp := &wire.ProtocolMessage{
		Header:   wire.Header{Type: wire.MsgTypeCheckRsp, QueueID: queueID, ActorID: b.localActor, PeerActorID: b.peerActor},
		CheckErr: wire.CheckOK,
	}
	if err := b.writeMessage(rsp); err != nil {
		streamcore.Logger("channel: reply to check for %s failed: %v", queueID, err)
	}
}

func (b *TCPBackend) writeMessage(m *wire.ProtocolMessage) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := wire.EncodeMessage(b.conn.Writer(), m); err != nil {
		return err
	}
	return b.conn.Writer().Flush()
}

// Create is a no-op: the channel registers lazily on first use.
func (b *TCPBackend) Create(context.Context, streamid.ID) error { return nil }

// Destroy drops the channel's local demux state. It does not close the
// shared connection, which may still carry other channels.
func (b *TCPBackend) Destroy(_ context.Context, channelID streamid.ID) error {
	sh := b.shardFor(channelID)
	sh.mu.Lock()
	delete(sh.channels, channelID)
	sh.mu.Unlock()
	return nil
}

// ProduceItem sends data as a Data frame for channelID.
func (b *TCPBackend) ProduceItem(_ context.Context, channelID streamid.ID, data []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return status.New(status.ChannelClosed, "tcp backend closed")
	}
	m := &wire.ProtocolMessage{
		Header:  wire.Header{Type: wire.MsgTypeData, QueueID: channelID, ActorID: b.localActor, PeerActorID: b.peerActor},
		Payload: data,
	}
	if err := b.writeMessage(m); err != nil {
		if err == io.EOF {
			return status.New(status.ChannelClosed, "peer closed connection")
		}
		return status.Wrap(status.IoError, "produce item", err)
	}
	return nil
}

// ConsumeItem waits up to timeout (negative blocks indefinitely) for the
// next demuxed Data frame on channelID.
func (b *TCPBackend) ConsumeItem(_ context.Context, channelID streamid.ID, timeout time.Duration) (uint64, []byte, error) {
	st := b.state(channelID)
	var deadline time.Time
	hasDeadline := timeout >= 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}
	for {
		st.mu.Lock()
		if len(st.pending) > 0 {
			item := st.pending[0]
			st.pending = st.pending[1:]
			offset := st.nextOffset
			st.nextOffset++
			st.mu.Unlock()
			return offset, item, nil
		}
		st.mu.Unlock()

		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return 0, nil, status.New(status.ChannelClosed, "tcp backend closed")
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return 0, nil, status.New(status.NoSuchItem, "consume timed out")
		}
		time.Sleep(pollInterval)
	}
}

// WaitChannelsReady confirms the underlying connection is still alive.
// The Check/CheckRsp handshake itself lives in package queueservice,
// which drives this backend's ProduceItem/ConsumeItem once a channel is
// confirmed ready.
func (b *TCPBackend) WaitChannelsReady(_ context.Context, ids []streamid.ID, timeout time.Duration) ([]streamid.ID, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ids, status.New(status.ChannelClosed, "tcp backend closed")
	}
	return nil, nil
}

// NotifyConsumed sends a Notification frame so the peer can reclaim
// storage up to offset.
func (b *TCPBackend) NotifyConsumed(_ context.Context, channelID streamid.ID, offset uint64) error {
	m := &wire.ProtocolMessage{
		Header: wire.Header{Type: wire.MsgTypeNotification, QueueID: channelID, ActorID: b.localActor, PeerActorID: b.peerActor},
		SeqID:  offset,
	}
	if err := b.writeMessage(m); err != nil {
		return status.Wrap(status.IoError, "notify consumed", err)
	}
	return nil
}

// ClearCheckpoint has no backend storage to release over raw TCP beyond
// the reclaim watermark NotifyConsumed already advances.
func (b *TCPBackend) ClearCheckpoint(context.Context, streamid.ID, uint64, uint64) error {
	return nil
}

// RefreshChannelInfo is a no-op: TCPBackend has no out-of-band channel
// metadata to refresh.
func (b *TCPBackend) RefreshChannelInfo(context.Context, streamid.ID) error {
	return nil
}

package queueservice

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/streamcore/streamid"
	"github.com/flowcore/streamcore/transport"
	"github.com/flowcore/streamcore/wire"
)

func actorID(b byte) streamid.ID {
	var id streamid.ID
	id[0] = b
	return id
}

func TestDownstreamServiceDataDelivery(t *testing.T) {
	local := actorID(1)
	svc := newDownstreamService(local)
	svc.Start()
	defer svc.Stop()

	ch := actorID(2)
	q := svc.AddQueue(ch)

	msg := &wire.ProtocolMessage{Header: wire.Header{Type: wire.MsgTypeData, QueueID: ch}, SeqID: 5, Payload: []byte("hi")}
	buf, err := wire.EncodeMessageBytes(msg)
	require.NoError(t, err)
	svc.DispatchMessage(buf)

	require.Eventually(t, func() bool {
		_, ok := q.Pop()
		return ok || q.LastSeqID() == 5
	}, time.Second, time.Millisecond)
}

func TestDownstreamServiceCheckHandshake(t *testing.T) {
	local := actorID(1)
	svc := newDownstreamService(local)
	svc.Start()
	defer svc.Stop()

	ch := actorID(2)
	svc.AddQueue(ch)

	check := &wire.ProtocolMessage{Header: wire.Header{Type: wire.MsgTypeCheck, QueueID: ch, ActorID: actorID(9)}}
	buf, err := wire.EncodeMessageBytes(check)
	require.NoError(t, err)

	reply := svc.DispatchMessageSync(buf)
	require.NotNil(t, reply)
	rsp, err := wire.ParseMessageBytes(reply)
	require.NoError(t, err)
	assert.Equal(t, wire.MsgTypeCheckRsp, rsp.Type)
	assert.Equal(t, wire.CheckOK, rsp.CheckErr)
	assert.Equal(t, actorID(9), rsp.PeerActorID)
}

func TestDownstreamServiceCheckQueueNotExist(t *testing.T) {
	local := actorID(1)
	svc := newDownstreamService(local)
	svc.Start()
	defer svc.Stop()

	check := &wire.ProtocolMessage{Header: wire.Header{Type: wire.MsgTypeCheck, QueueID: actorID(42), ActorID: actorID(9)}}
	buf, err := wire.EncodeMessageBytes(check)
	require.NoError(t, err)

	reply := svc.DispatchMessageSync(buf)
	rsp, err := wire.ParseMessageBytes(reply)
	require.NoError(t, err)
	assert.Equal(t, wire.CheckQueueNotExist, rsp.CheckErr)
}

func TestUpstreamServiceNotificationAdvancesWatermark(t *testing.T) {
	local := actorID(1)
	svc := newUpstreamService(local, nil, "")
	svc.Start()
	defer svc.Stop()

	ch := actorID(2)
	q := svc.AddQueue(ch)

	var notified int32
	q.SetOnNotify(func(uint64) { atomic.AddInt32(&notified, 1) })

	n := &wire.ProtocolMessage{Header: wire.Header{Type: wire.MsgTypeNotification, QueueID: ch}, SeqID: 10}
	buf, err := wire.EncodeMessageBytes(n)
	require.NoError(t, err)
	svc.DispatchMessage(buf)

	require.Eventually(t, func() bool { return q.ReclaimWatermark() == 10 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&notified))
}

// fakeCheckCaller answers every CallForResult as if it were the
// downstream peer's synchronous Check handler.
type fakeCheckCaller struct {
	downstream *DownstreamService
}

func (f *fakeCheckCaller) Call(ctx context.Context, actor streamid.ID, function string, buf []byte) error {
	return nil
}

func (f *fakeCheckCaller) CallForResult(ctx context.Context, actor streamid.ID, function string, buf []byte, timeout time.Duration) ([]byte, error) {
	return f.downstream.DispatchMessageSync(buf), nil
}

func TestCheckQueueSyncRoundTrip(t *testing.T) {
	downLocal := actorID(2)
	down := newDownstreamService(downLocal)
	down.Start()
	defer down.Stop()
	ch := actorID(5)
	down.AddQueue(ch)

	upLocal := actorID(1)
	caller := &fakeCheckCaller{downstream: down}
	tr := transport.New(caller, nil)
	up := newUpstreamService(upLocal, tr, "check")

	ok, err := up.CheckQueueSync(context.Background(), ch, downLocal, 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitQueuesSucceedsAfterRetries(t *testing.T) {
	downLocal := actorID(2)
	down := newDownstreamService(downLocal)
	down.Start()
	defer down.Stop()
	ch := actorID(6)
	// Queue is registered only after a short delay, simulating the
	// handshake retry scenario.
	go func() {
		time.Sleep(20 * time.Millisecond)
		down.AddQueue(ch)
	}()

	upLocal := actorID(1)
	caller := &fakeCheckCaller{downstream: down}
	tr := transport.New(caller, nil)
	up := newUpstreamService(upLocal, tr, "check")

	start := time.Now()
	failed := up.WaitQueues(context.Background(), []streamid.ID{ch}, downLocal, 3, time.Second, time.Second)
	assert.Empty(t, failed)
	assert.Less(t, time.Since(start), time.Second)
}

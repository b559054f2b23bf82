package reader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/streamcore/channel"
	"github.com/flowcore/streamcore/message"
	"github.com/flowcore/streamcore/streamid"
	"github.com/flowcore/streamcore/wire"
)

func chanID(b byte) streamid.ID {
	var id streamid.ID
	id[0] = b
	return id
}

func produceBundle(t *testing.T, backend *channel.MemoryBackend, ch streamid.ID, ts uint64, payload []byte) {
	t.Helper()
	b := &message.Bundle{
		LastMessageID: ts,
		BundleTS:      ts,
		BundleType:    message.BundleTypeBundle,
		Messages: []message.Message{
			{SeqID: ts, MsgType: message.TypeMessage, Payload: payload},
		},
	}
	buf, err := wire.EncodeBundleBytes(b)
	require.NoError(t, err)
	require.NoError(t, backend.ProduceItem(context.Background(), ch, buf))
}

func TestSingleChannelInOrder(t *testing.T) {
	backend := channel.NewMemoryBackend(16)
	ch := chanID(1)
	r := New(backend)
	require.NoError(t, r.Init(context.Background(), []streamid.ID{ch}, time.Second))

	produceBundle(t, backend, ch, 100, []byte("first"))
	produceBundle(t, backend, ch, 200, []byte("second"))

	db1, st := r.GetBundle(context.Background(), time.Second)
	require.Equal(t, 0, int(st))
	assert.Equal(t, []byte("first"), db1.Bundle.Messages[0].Payload)

	db2, st := r.GetBundle(context.Background(), time.Second)
	require.Equal(t, 0, int(st))
	assert.Equal(t, []byte("second"), db2.Bundle.Messages[0].Payload)
}

func TestMultiChannelFanoutOrdersByTimestamp(t *testing.T) {
	backend := channel.NewMemoryBackend(16)
	chA, chB := chanID(1), chanID(2)
	r := New(backend)
	require.NoError(t, r.Init(context.Background(), []streamid.ID{chA, chB}, time.Second))

	produceBundle(t, backend, chA, 500, []byte("later-a"))
	produceBundle(t, backend, chB, 100, []byte("earlier-b"))

	db1, st := r.GetBundle(context.Background(), time.Second)
	require.Equal(t, 0, int(st))
	assert.Equal(t, chB, db1.Channel)
	assert.Equal(t, []byte("earlier-b"), db1.Bundle.Messages[0].Payload)

	db2, st := r.GetBundle(context.Background(), time.Second)
	require.Equal(t, 0, int(st))
	assert.Equal(t, chA, db2.Channel)
	assert.Equal(t, []byte("later-a"), db2.Bundle.Messages[0].Payload)
}

func TestGetBundleTimesOutWhenEmpty(t *testing.T) {
	backend := channel.NewMemoryBackend(16)
	ch := chanID(3)
	r := New(backend)
	require.NoError(t, r.Init(context.Background(), []streamid.ID{ch}, time.Second))

	_, st := r.GetBundle(context.Background(), 30*time.Millisecond)
	assert.Equal(t, "GetBundleTimeOut", st.String())
}

func TestReaderRefillsDrainedChannelBeforeNextPop(t *testing.T) {
	backend := channel.NewMemoryBackend(16)
	ch := chanID(4)
	r := New(backend)
	require.NoError(t, r.Init(context.Background(), []streamid.ID{ch}, time.Second))

	for i := 0; i < 3; i++ {
		produceBundle(t, backend, ch, uint64(100*(i+1)), []byte{byte(i)})
	}

	for i := 0; i < 3; i++ {
		db, st := r.GetBundle(context.Background(), time.Second)
		require.Equal(t, 0, int(st))
		assert.Equal(t, []byte{byte(i)}, db.Bundle.Messages[0].Payload)
	}
}

func TestNotifyConsumedItemAdvancesReclaimWatermark(t *testing.T) {
	backend := channel.NewMemoryBackend(16)
	ch := chanID(5)
	r := New(backend)
	require.NoError(t, r.Init(context.Background(), []streamid.ID{ch}, time.Second))
	produceBundle(t, backend, ch, 42, []byte("x"))

	db, st := r.GetBundle(context.Background(), time.Second)
	require.Equal(t, 0, int(st))

	require.NoError(t, r.NotifyConsumedItem(context.Background(), ch, db.Offset))

	info := r.GetOffsetInfo()[ch]
	assert.Equal(t, db.Offset, info.ReclaimWatermark)
	assert.Equal(t, db.Offset, backend.ReclaimWatermark(ch))
}

package pqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/streamcore/streamid"
)

type testItem struct {
	ts      uint64
	rank    int
	channel streamid.ID
	label   string
}

func (it testItem) PriorityKey() (uint64, int, streamid.ID) {
	return it.ts, it.rank, it.channel
}

func chanID(b byte) streamid.ID {
	var id streamid.ID
	id[0] = b
	return id
}

func TestOrdersByTimestampThenRankThenChannel(t *testing.T) {
	q := New()
	require.NoError(t, q.Push(testItem{ts: 5, rank: 1, channel: chanID(2), label: "bundle@5"}))
	require.NoError(t, q.Push(testItem{ts: 1, rank: 1, channel: chanID(1), label: "bundle@1"}))
	require.NoError(t, q.Push(testItem{ts: 5, rank: 0, channel: chanID(3), label: "barrier@5"}))

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "bundle@1", first.(testItem).label)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "barrier@5", second.(testItem).label, "barrier ranks ahead of bundle at equal timestamp")

	third, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "bundle@5", third.(testItem).label)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestRejectsSecondBundleFromSameChannel(t *testing.T) {
	q := New()
	ch := chanID(1)
	require.NoError(t, q.Push(testItem{ts: 1, channel: ch}))
	assert.True(t, q.HasChannel(ch))
	err := q.Push(testItem{ts: 2, channel: ch})
	assert.Error(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestPopFreesChannelSlot(t *testing.T) {
	q := New()
	ch := chanID(1)
	require.NoError(t, q.Push(testItem{ts: 1, channel: ch}))
	_, ok := q.Pop()
	require.True(t, ok)
	assert.False(t, q.HasChannel(ch))
	require.NoError(t, q.Push(testItem{ts: 2, channel: ch}))
}

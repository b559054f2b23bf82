package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/streamcore/streamid"
	"github.com/flowcore/streamcore/wire"
)

type fakeCaller struct {
	callCount int32
	replies   [][]byte
	callErr   error
}

func (f *fakeCaller) Call(ctx context.Context, actor streamid.ID, function string, buf []byte) error {
	atomic.AddInt32(&f.callCount, 1)
	return f.callErr
}

func (f *fakeCaller) CallForResult(ctx context.Context, actor streamid.ID, function string, buf []byte, timeout time.Duration) ([]byte, error) {
	i := int(atomic.AddInt32(&f.callCount, 1)) - 1
	if f.callErr != nil {
		return nil, f.callErr
	}
	if i >= len(f.replies) {
		return nil, nil
	}
	return f.replies[i], nil
}

func TestSendForResultReturnsNilOnNotReady(t *testing.T) {
	c := &fakeCaller{replies: [][]byte{wire.NotReadySentinel[:]}}
	tr := New(c, nil)
	reply := tr.SendForResult(context.Background(), streamid.ID{}, "fn", nil, time.Second)
	assert.Nil(t, reply)
}

func TestSendForResultWithRetrySucceedsAfterNotReady(t *testing.T) {
	c := &fakeCaller{replies: [][]byte{
		wire.NotReadySentinel[:],
		wire.NotReadySentinel[:],
		wire.NotReadySentinel[:],
		[]byte("ok-payload"),
	}}
	tr := New(c, nil)
	reply := tr.SendForResultWithRetry(context.Background(), streamid.ID{}, "fn", nil, 5, time.Second)
	require.NotNil(t, reply)
	assert.Equal(t, []byte("ok-payload"), reply)
	assert.Equal(t, int32(4), c.callCount)
}

func TestSendForResultWithRetryExhausted(t *testing.T) {
	c := &fakeCaller{}
	tr := New(c, nil)
	reply := tr.SendForResultWithRetry(context.Background(), streamid.ID{}, "fn", nil, 3, time.Second)
	assert.Nil(t, reply)
	assert.Equal(t, int32(3), c.callCount)
}

func TestSendSwallowsErrors(t *testing.T) {
	c := &fakeCaller{callErr: assertError{}}
	tr := New(c, nil)
	tr.Send(context.Background(), streamid.ID{}, "fn", nil)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&c.callCount) == 1
	}, time.Second, time.Millisecond)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

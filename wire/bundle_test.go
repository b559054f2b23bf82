package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/streamcore/message"
)

func TestEncodeDecodeBundleRoundTrip(t *testing.T) {
	b := &message.Bundle{
		LastMessageID: 42,
		BundleTS:      1700000000000,
		BundleType:    message.BundleTypeBundle,
		Messages: []message.Message{
			{SeqID: 41, MsgType: message.TypeMessage, Payload: []byte{0x01, 0x02, 0x03, 0xFF}},
			{SeqID: 42, MsgType: message.TypeMessage, Payload: []byte("hello")},
		},
	}

	buf, err := EncodeBundleBytes(b)
	require.NoError(t, err)

	got, err := DecodeBundleBytes(buf)
	require.NoError(t, err)

	assert.Equal(t, b.LastMessageID, got.LastMessageID)
	assert.Equal(t, b.BundleTS, got.BundleTS)
	assert.Equal(t, b.BundleType, got.BundleType)
	require.Len(t, got.Messages, 2)
	for i := range b.Messages {
		assert.Equal(t, b.Messages[i].SeqID, got.Messages[i].SeqID)
		assert.Equal(t, b.Messages[i].MsgType, got.Messages[i].MsgType)
		assert.Equal(t, b.Messages[i].Payload, got.Messages[i].Payload)
	}
}

func TestEncodeDecodeEmptyBundle(t *testing.T) {
	b := message.EmptyBundle(100, 123)
	buf, err := EncodeBundleBytes(b)
	require.NoError(t, err)

	got, err := DecodeBundleBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, message.BundleTypeEmpty, got.BundleType)
	assert.Equal(t, uint64(100), got.LastMessageID)
	assert.Equal(t, 0, got.MessageCount())
}

func TestDecodeBundleBadMagic(t *testing.T) {
	buf := make([]byte, BundleHeaderSize)
	_, err := DecodeBundleBytes(buf)
	require.Error(t, err)
}

func TestDecodeBundleTruncated(t *testing.T) {
	b := message.EmptyBundle(1, 1)
	buf, err := EncodeBundleBytes(b)
	require.NoError(t, err)
	_, err = DecodeBundleBytes(buf[:len(buf)-4])
	require.Error(t, err)
}

func TestEncodeBundleRejectsMixedTypes(t *testing.T) {
	b := &message.Bundle{
		BundleType: message.BundleTypeBundle,
		Messages: []message.Message{
			{SeqID: 1, MsgType: message.TypeMessage, Payload: []byte("a")},
			{SeqID: 2, MsgType: message.TypeBarrier, Payload: []byte("b")},
		},
	}
	_, err := EncodeBundleBytes(b)
	require.Error(t, err)
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/streamcore/streamid"
)

func mkID(b byte) streamid.ID {
	var id streamid.ID
	id[0] = b
	return id
}

func TestEncodeParseDataMessage(t *testing.T) {
	m := &ProtocolMessage{
		Header: Header{
			Type:        MsgTypeData,
			QueueID:     mkID(1),
			ActorID:     mkID(2),
			PeerActorID: mkID(3),
		},
		SeqID:   7,
		Payload: []byte("payload-bytes"),
	}
	buf, err := EncodeMessageBytes(m)
	require.NoError(t, err)

	got, err := ParseMessageBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeData, got.Type)
	assert.Equal(t, m.QueueID, got.QueueID)
	assert.Equal(t, m.ActorID, got.ActorID)
	assert.Equal(t, m.PeerActorID, got.PeerActorID)
	assert.Equal(t, uint64(7), got.SeqID)
	assert.Equal(t, m.Payload, got.Payload)
}

func TestEncodeParseCheckAndCheckRsp(t *testing.T) {
	check := &ProtocolMessage{Header: Header{Type: MsgTypeCheck, QueueID: mkID(9)}}
	buf, err := EncodeMessageBytes(check)
	require.NoError(t, err)
	got, err := ParseMessageBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeCheck, got.Type)

	rsp := &ProtocolMessage{Header: Header{Type: MsgTypeCheckRsp, QueueID: mkID(9)}, CheckErr: CheckQueueNotExist}
	buf, err = EncodeMessageBytes(rsp)
	require.NoError(t, err)
	got, err = ParseMessageBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, CheckQueueNotExist, got.CheckErr)
}

func TestEncodeParseNotification(t *testing.T) {
	n := &ProtocolMessage{Header: Header{Type: MsgTypeNotification}, SeqID: 99}
	buf, err := EncodeMessageBytes(n)
	require.NoError(t, err)
	got, err := ParseMessageBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), got.SeqID)
}

func TestNotReadySentinelDetection(t *testing.T) {
	assert.True(t, IsNotReady(NotReadySentinel[:]))
	assert.False(t, IsNotReady([]byte{0, 0, 0, 0, 0}))
	assert.False(t, IsNotReady([]byte{1, 2, 3, 4}))
}

func TestParseMessageBadMagic(t *testing.T) {
	_, err := ParseMessageBytes(make([]byte, protoHeaderSize))
	require.Error(t, err)
}

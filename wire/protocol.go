package wire

import (
	"encoding/binary"

	"github.com/cloudwego/gopkg/bufiox"

	"github.com/flowcore/streamcore/status"
	"github.com/flowcore/streamcore/streamid"
)

// MessageType tags the actor-to-actor protocol messages: Data and
// Notification flow through async Dispatch, Check/CheckRsp drive the
// handshake and (on the sync path only) the reply to a CheckQueueSync
// call.
type MessageType uint32

const (
	MsgTypeData MessageType = 1 + iota
	MsgTypeNotification
	MsgTypeCheck
	MsgTypeCheckRsp
)

func (t MessageType) String() string {
	switch t {
	case MsgTypeData:
		return "Data"
	case MsgTypeNotification:
		return "Notification"
	case MsgTypeCheck:
		return "Check"
	case MsgTypeCheckRsp:
		return "CheckRsp"
	default:
		return "UnknownMessageType"
	}
}

// CheckError is the error code carried by a CheckRsp.
type CheckError uint32

const (
	CheckOK CheckError = 0
	CheckQueueNotExist CheckError = 1
)

// NotReadySentinel is the reserved 4-byte reply meaning "peer not yet
// initialized, retry". Implementations must never produce
// a legitimate 4-byte reply, or send_for_result cannot tell the two apart.
var NotReadySentinel = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}

// IsNotReady reports whether buf is exactly the not-ready sentinel.
func IsNotReady(buf []byte) bool {
	return len(buf) == 4 && buf[0] == NotReadySentinel[0] && buf[1] == NotReadySentinel[1] &&
		buf[2] == NotReadySentinel[2] && buf[3] == NotReadySentinel[3]
}

// ProtoMagic is the magic number for protocol messages, distinct from the
// bundle Magic so a misrouted buffer is caught immediately.
const ProtoMagic uint32 = 0xBADC0FEE ^ 0x5A5A5A5A

// protoHeaderSize is 4(magic) + 4(type) + 3*streamid.Size(queue/actor/peer).
const protoHeaderSize = 4 + 4 + 3*streamid.Size

// Header is the shared prefix of every protocol message.
type Header struct {
	Type         MessageType
	QueueID      streamid.ID
	ActorID      streamid.ID
	PeerActorID  streamid.ID
}

// ProtocolMessage is the parsed union ParseMessage produces: exactly one
// of the payload fields is meaningful, selected by Header.Type.
type ProtocolMessage struct {
	Header

	// Data
	SeqID   uint64
	Payload []byte

	// CheckRsp
	CheckErr CheckError
}

// EncodeMessage serializes m's header and type-specific payload onto w.
// This is the Go name for on-the-wire encode half of
// ParseMessage.
func EncodeMessage(w bufiox.Writer, m *ProtocolMessage) error {
	hdr, err := w.Malloc(protoHeaderSize)
	if err != nil {
		return status.Wrap(status.IoError, "malloc protocol header", err)
	}
	binary.BigEndian.PutUint32(hdr[0:4], ProtoMagic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(m.Type))
	off := 8
	copy(hdr[off:off+streamid.Size], m.QueueID[:])
	off += streamid.Size
	copy(hdr[off:off+streamid.Size], m.ActorID[:])
	off += streamid.Size
	copy(hdr[off:off+streamid.Size], m.PeerActorID[:])

	switch m.Type {
	case MsgTypeData:
		buf, err := w.Malloc(8 + 4 + len(m.Payload))
		if err != nil {
			return status.Wrap(status.IoError, "malloc data payload", err)
		}
		binary.BigEndian.PutUint64(buf[0:8], m.SeqID)
		binary.BigEndian.PutUint32(buf[8:12], uint32(len(m.Payload)))
		copy(buf[12:], m.Payload)
	case MsgTypeNotification:
		buf, err := w.Malloc(8)
		if err != nil {
			return status.Wrap(status.IoError, "malloc notification payload", err)
		}
		binary.BigEndian.PutUint64(buf[0:8], m.SeqID)
	case MsgTypeCheck:
		// empty payload
	case MsgTypeCheckRsp:
		buf, err := w.Malloc(4)
		if err != nil {
			return status.Wrap(status.IoError, "malloc checkrsp payload", err)
		}
		binary.BigEndian.PutUint32(buf[0:4], uint32(m.CheckErr))
	default:
		return status.New(status.UnknownMessageType, "encode: unknown message type")
	}
	return nil
}

// ParseMessage parses one protocol message frame from r.
func ParseMessage(r bufiox.Reader) (*ProtocolMessage, error) {
	hdr, err := r.Next(protoHeaderSize)
	if err != nil {
		return nil, status.Wrap(status.Truncated, "read protocol header", err)
	}
	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != ProtoMagic {
		return nil, status.New(status.BadMagic, "bad protocol magic")
	}
	m := &ProtocolMessage{}
	m.Type = MessageType(binary.BigEndian.Uint32(hdr[4:8]))
	off := 8
	copy(m.QueueID[:], hdr[off:off+streamid.Size])
	off += streamid.Size
	copy(m.ActorID[:], hdr[off:off+streamid.Size])
	off += streamid.Size
	copy(m.PeerActorID[:], hdr[off:off+streamid.Size])

	switch m.Type {
	case MsgTypeData:
		lenBuf, err := r.Next(8 + 4)
		if err != nil {
			return nil, status.Wrap(status.Truncated, "read data header", err)
		}
		m.SeqID = binary.BigEndian.Uint64(lenBuf[0:8])
		plen := binary.BigEndian.Uint32(lenBuf[8:12])
		payload, err := r.Next(int(plen))
		if err != nil {
			return nil, status.Wrap(status.Truncated, "read data payload", err)
		}
		m.Payload = append([]byte(nil), payload...)
	case MsgTypeNotification:
		buf, err := r.Next(8)
		if err != nil {
			return nil, status.Wrap(status.Truncated, "read notification payload", err)
		}
		m.SeqID = binary.BigEndian.Uint64(buf[0:8])
	case MsgTypeCheck:
		// no payload
	case MsgTypeCheckRsp:
		buf, err := r.Next(4)
		if err != nil {
			return nil, status.Wrap(status.Truncated, "read checkrsp payload", err)
		}
		m.CheckErr = CheckError(binary.BigEndian.Uint32(buf[0:4]))
	default:
		return nil, status.New(status.UnknownMessageType, "parse: unknown message type")
	}
	return m, nil
}

// EncodeMessageBytes is a convenience wrapper for callers without a
// bufiox.Writer of their own (e.g. package queueservice).
func EncodeMessageBytes(m *ProtocolMessage) ([]byte, error) {
	var out []byte
	w := bufiox.NewBytesWriter(&out)
	if err := EncodeMessage(w, m); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseMessageBytes is the byte-slice convenience counterpart to
// ParseMessage.
func ParseMessageBytes(buf []byte) (*ProtocolMessage, error) {
	r := bufiox.NewBytesReader(buf)
	m, err := ParseMessage(r)
	if err != nil {
		return nil, err
	}
	_ = r.Release(nil)
	return m, nil
}

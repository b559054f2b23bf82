// Package wire implements the bit-exact binary framing used for
// bundles and protocol messages, using the teacher's bufiox
// Malloc-then-fill technique (see protocol/ttheader in the example
// corpus) instead of encoding/gob or a generated codec.
package wire

import (
	"encoding/binary"

	"github.com/cloudwego/gopkg/bufiox"

	"github.com/flowcore/streamcore/message"
	"github.com/flowcore/streamcore/status"
)

// Magic is the fixed 32-bit magic number every bundle frame starts with.
const Magic uint32 = 0xBADC0FEE

// BundleHeaderSize is the size in bytes of a bundle's fixed header.
const BundleHeaderSize = 4 + 4 + 8 + 8 + 4 + 4

// EncodeBundle writes b's wire image to w: a BundleHeaderSize header
// followed by b.MessageCount() framed messages. Big-endian throughout.
func EncodeBundle(w bufiox.Writer, b *message.Bundle) error {
	if err := b.Validate(); err != nil {
		return status.Wrap(status.IoError, "encode bundle", err)
	}
	payloadLen := 0
	for _, m := range b.Messages {
		payloadLen += 4 + m.Size()
	}
	buf, err := w.Malloc(BundleHeaderSize)
	if err != nil {
		return status.Wrap(status.IoError, "malloc bundle header", err)
	}
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(b.BundleType))
	binary.BigEndian.PutUint64(buf[8:16], b.LastMessageID)
	binary.BigEndian.PutUint64(buf[16:24], b.BundleTS)
	binary.BigEndian.PutUint32(buf[24:28], uint32(len(b.Messages)))
	binary.BigEndian.PutUint32(buf[28:32], uint32(payloadLen))

	for _, m := range b.Messages {
		frame, err := w.Malloc(4 + m.Size())
		if err != nil {
			return status.Wrap(status.IoError, "malloc message frame", err)
		}
		binary.BigEndian.PutUint32(frame[0:4], uint32(m.Size()))
		frame[4] = byte(m.MsgType)
		binary.BigEndian.PutUint64(frame[5:13], m.SeqID)
		copy(frame[13:], m.Payload)
	}
	return nil
}

// DecodeBundle reads one bundle frame from r. The returned Bundle's
// message payloads are copies: callers may retain them after r.Release.
func DecodeBundle(r bufiox.Reader) (*message.Bundle, error) {
	hdr, err := r.Next(BundleHeaderSize)
	if err != nil {
		return nil, status.Wrap(status.Truncated, "read bundle header", err)
	}
	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != Magic {
		return nil, status.New(status.BadMagic, "bad bundle magic")
	}
	bt := message.BundleType(binary.BigEndian.Uint32(hdr[4:8]))
	switch bt {
	case message.BundleTypeBundle, message.BundleTypeBarrier, message.BundleTypeEmpty:
	default:
		return nil, status.New(status.UnknownMessageType, "unknown bundle type")
	}
	b := &message.Bundle{
		LastMessageID: binary.BigEndian.Uint64(hdr[8:16]),
		BundleTS:      binary.BigEndian.Uint64(hdr[16:24]),
		BundleType:    bt,
	}
	count := binary.BigEndian.Uint32(hdr[24:28])
	payloadLen := binary.BigEndian.Uint32(hdr[28:32])

	if count == 0 {
		if payloadLen != 0 {
			return nil, status.New(status.LengthMismatch, "empty bundle with non-zero payload_len")
		}
		return b, nil
	}

	b.Messages = make([]message.Message, 0, count)
	consumed := 0
	for i := uint32(0); i < count; i++ {
		szBuf, err := r.Next(4)
		if err != nil {
			return nil, status.Wrap(status.Truncated, "read message frame size", err)
		}
		sz := int(binary.BigEndian.Uint32(szBuf))
		if sz < message.FrameOverhead {
			return nil, status.New(status.LengthMismatch, "message frame shorter than overhead")
		}
		frame, err := r.Next(sz)
		if err != nil {
			return nil, status.Wrap(status.Truncated, "read message frame", err)
		}
		m := message.Message{
			MsgType: message.Type(frame[0]),
			SeqID:   binary.BigEndian.Uint64(frame[1:9]),
		}
		if n := sz - message.FrameOverhead; n > 0 {
			m.Payload = append([]byte(nil), frame[message.FrameOverhead:]...)
		}
		b.Messages = append(b.Messages, m)
		consumed += 4 + sz
	}
	if consumed != int(payloadLen) {
		return nil, status.New(status.LengthMismatch, "bundle payload_len mismatch")
	}
	if err := b.Validate(); err != nil {
		return nil, status.Wrap(status.LengthMismatch, "decoded bundle", err)
	}
	return b, nil
}

// BundleEncodedSize returns the exact number of bytes EncodeBundleInto
// needs to hold b's wire image, so a caller can pre-size a destination
// buffer (e.g. a ringbuf.RingBuffer's transient staging area) and encode
// into it directly, with no intermediate allocation.
func BundleEncodedSize(b *message.Bundle) int {
	n := BundleHeaderSize
	for _, m := range b.Messages {
		n += 4 + m.Size()
	}
	return n
}

// EncodeBundleInto writes b's wire image directly into buf, which must
// be exactly BundleEncodedSize(b) bytes — the no-extra-copy path
// collectFromRingBuffer uses to fill a ring's transient staging area in
// place.
func EncodeBundleInto(buf []byte, b *message.Bundle) (int, error) {
	if err := b.Validate(); err != nil {
		return 0, status.Wrap(status.IoError, "encode bundle", err)
	}
	need := BundleEncodedSize(b)
	if len(buf) != need {
		return 0, status.New(status.LengthMismatch, "destination buffer is not BundleEncodedSize(b) bytes")
	}
	payloadLen := need - BundleHeaderSize
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(b.BundleType))
	binary.BigEndian.PutUint64(buf[8:16], b.LastMessageID)
	binary.BigEndian.PutUint64(buf[16:24], b.BundleTS)
	binary.BigEndian.PutUint32(buf[24:28], uint32(len(b.Messages)))
	binary.BigEndian.PutUint32(buf[28:32], uint32(payloadLen))

	off := BundleHeaderSize
	for _, m := range b.Messages {
		frameLen := 4 + m.Size()
		frame := buf[off : off+frameLen]
		binary.BigEndian.PutUint32(frame[0:4], uint32(m.Size()))
		frame[4] = byte(m.MsgType)
		binary.BigEndian.PutUint64(frame[5:13], m.SeqID)
		copy(frame[13:], m.Payload)
		off += frameLen
	}
	return need, nil
}

// EncodeBundleBytes encodes b into a freshly allocated byte slice.
func EncodeBundleBytes(b *message.Bundle) ([]byte, error) {
	var out []byte
	w := bufiox.NewBytesWriter(&out)
	if err := EncodeBundle(w, b); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeBundleBytes decodes a single bundle frame from buf.
func DecodeBundleBytes(buf []byte) (*message.Bundle, error) {
	r := bufiox.NewBytesReader(buf)
	b, err := DecodeBundle(r)
	if err != nil {
		return nil, err
	}
	_ = r.Release(nil)
	return b, nil
}

// Package message defines the in-memory shapes of a streaming message
// and its bundle: the units the writer loop coalesces and the reader
// merger delivers. Wire framing for these types lives in package wire;
// this package is transport-agnostic.
package message

// Type is the per-message type tag.
type Type uint8

const (
	// TypeMessage is an ordinary application message.
	TypeMessage Type = 1
	// TypeBarrier is a checkpoint fence: the core preserves it but does
	// not interpret it.
	TypeBarrier Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeMessage:
		return "Message"
	case TypeBarrier:
		return "Barrier"
	default:
		return "UnknownType"
	}
}

// BundleType is the per-bundle type tag.
type BundleType uint8

const (
	// BundleTypeBundle carries one or more application messages.
	BundleTypeBundle BundleType = 1
	// BundleTypeBarrier carries exactly one Barrier message.
	BundleTypeBarrier BundleType = 2
	// BundleTypeEmpty is a header-only heartbeat; MessageCount is 0 and
	// LastMessageID carries the channel's current high-water mark.
	BundleTypeEmpty BundleType = 3
)

func (t BundleType) String() string {
	switch t {
	case BundleTypeBundle:
		return "Bundle"
	case BundleTypeBarrier:
		return "Barrier"
	case BundleTypeEmpty:
		return "Empty"
	default:
		return "UnknownBundleType"
	}
}

// Rank orders bundle types for the merger tie-break:
// Barrier < Bundle < Empty.
func (t BundleType) Rank() int {
	switch t {
	case BundleTypeBarrier:
		return 0
	case BundleTypeBundle:
		return 1
	case BundleTypeEmpty:
		return 2
	default:
		return 3
	}
}

// Message is a single unit authored by the application on one channel.
// Immutable once created; ownership transfers into a Bundle when
// coalesced by the writer loop.
type Message struct {
	// SeqID is the monotonically increasing per-channel sequence number,
	// starting at 1.
	SeqID uint64
	// MsgType is Message or Barrier.
	MsgType Type
	// Payload is the opaque application bytes.
	Payload []byte
}

// Size returns the on-wire frame size of m, excluding the 4-byte length
// prefix itself (see FrameOverhead).
func (m Message) Size() int {
	return FrameOverhead + len(m.Payload)
}

// FrameOverhead is the per-message framing cost: 1 byte type + 8 bytes
// seq_id.
const FrameOverhead = 1 + 8

// Bundle is a contiguous group of messages drained from one ring buffer
// at one moment.
type Bundle struct {
	// LastMessageID is the seq id of the last message in the bundle, or
	// the channel's current high-water mark for an Empty bundle.
	LastMessageID uint64
	// BundleTS is the producer wall-clock ms at which the bundle formed.
	BundleTS uint64
	// BundleType is Bundle, Barrier, or Empty.
	BundleType BundleType
	// Messages holds the bundle's payload; nil/empty for BundleTypeEmpty.
	Messages []Message
}

// MessageCount returns len(b.Messages).
func (b *Bundle) MessageCount() int {
	return len(b.Messages)
}

// Validate checks the invariants: Bundle implies a single shared message
// type, Empty implies zero messages, Barrier implies exactly one Barrier
// message.
func (b *Bundle) Validate() error {
	switch b.BundleType {
	case BundleTypeEmpty:
		if len(b.Messages) != 0 {
			return errInvalidBundle{"empty bundle carries messages"}
		}
	case BundleTypeBarrier:
		if len(b.Messages) != 1 || b.Messages[0].MsgType != TypeBarrier {
			return errInvalidBundle{"barrier bundle must carry exactly one barrier message"}
		}
	case BundleTypeBundle:
		if len(b.Messages) == 0 {
			return errInvalidBundle{"non-empty bundle type carries no messages"}
		}
		want := b.Messages[0].MsgType
		for _, m := range b.Messages[1:] {
			if m.MsgType != want {
				return errInvalidBundle{"bundle mixes message types"}
			}
		}
	default:
		return errInvalidBundle{"unknown bundle type"}
	}
	return nil
}

type errInvalidBundle struct{ reason string }

func (e errInvalidBundle) Error() string { return "message: invalid bundle: " + e.reason }

// PayloadSize returns the total byte size of all message payloads and
// their per-message framing overhead, i.e. the size
// writer.collectFromRingBuffer charges against a channel's QueueSize budget.
func (b *Bundle) PayloadSize() int {
	n := 0
	for _, m := range b.Messages {
		n += m.Size()
	}
	return n
}

// EmptyBundle builds the header-only heartbeat bundle write_empty_message
// emits: BundleTypeEmpty with LastMessageID set to the channel's current
// high-water mark.
func EmptyBundle(lastMessageID uint64, bundleTS uint64) *Bundle {
	return &Bundle{
		LastMessageID: lastMessageID,
		BundleTS:      bundleTS,
		BundleType:    BundleTypeEmpty,
	}
}

// Package channel implements the pluggable channel abstraction: a
// producer-side and consumer-side transfer façade over one of three
// backends (Memory, TCP standing in for "streaming_queue", or Plasma). A
// tagged BackendKind plus a thin Go interface stands in for a C++-style
// virtual base, mirroring how the teacher's netx.Conn wraps a net.Conn
// behind a narrow interface instead of exposing its concrete type.
package channel

import (
	"context"
	"time"

	"github.com/flowcore/streamcore/streamid"
)

// ProducerChannelInfo is the per-channel state the writer loop owns.
type ProducerChannelInfo struct {
	ChannelID           streamid.ID
	CurrentMessageID    uint64 // next seq id to assign - 1
	CurrentSeqID        uint64 // bundle counter
	MessageLastCommitID uint64 // last seq id whose bundle was handed to the backend
	MessagePassByTs     int64  // ms of last successful outbound bundle
	QueueSize           int    // per-bundle byte budget
}

// ConsumerChannelInfo is the per-channel state the reader owns.
type ConsumerChannelInfo struct {
	ChannelID       streamid.ID
	CurrentSeqID    uint64 // last delivered bundle seq
	LastMessageID   uint64
	ReclaimWatermark uint64
}

// ProducerTransfer is the producer-side half of the channel abstraction.
type ProducerTransfer interface {
	Create(ctx context.Context, channelID streamid.ID) error
	Destroy(ctx context.Context, channelID streamid.ID) error
	// ProduceItem hands bundle bytes to the backend. May fail with
	// status.FullChannel, status.ChannelClosed, or status.IoError.
	ProduceItem(ctx context.Context, channelID streamid.ID, data []byte) error
	// WaitChannelsReady blocks up to timeout, returning the subset of ids
	// that never became ready.
	WaitChannelsReady(ctx context.Context, ids []streamid.ID, timeout time.Duration) (abnormal []streamid.ID, err error)
	NotifyConsumed(ctx context.Context, channelID streamid.ID, offset uint64) error
	ClearCheckpoint(ctx context.Context, channelID streamid.ID, checkpointID uint64, checkpointOffset uint64) error
	RefreshChannelInfo(ctx context.Context, channelID streamid.ID) error
}

// ConsumerTransfer is the consumer-side half of the channel abstraction.
type ConsumerTransfer interface {
	Create(ctx context.Context, channelID streamid.ID) error
	Destroy(ctx context.Context, channelID streamid.ID) error
	// ConsumeItem blocks up to timeout (negative blocks indefinitely),
	// returning the next bundle's offset id and bytes.
	ConsumeItem(ctx context.Context, channelID streamid.ID, timeout time.Duration) (offsetID uint64, data []byte, err error)
	WaitChannelsReady(ctx context.Context, ids []streamid.ID, timeout time.Duration) (abnormal []streamid.ID, err error)
	// NotifyConsumed tells the upstream producer that items up to and
	// including offset have been consumed and may be reclaimed.
	NotifyConsumed(ctx context.Context, channelID streamid.ID, offset uint64) error
	ClearCheckpoint(ctx context.Context, channelID streamid.ID, checkpointID uint64, checkpointOffset uint64) error
	RefreshChannelInfo(ctx context.Context, channelID streamid.ID) error
}

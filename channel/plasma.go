package channel

import (
	"context"
	"sync"
	"time"

	"github.com/flowcore/streamcore/status"
	"github.com/flowcore/streamcore/streamid"
)

// ObjectStore is the shared-memory object store PlasmaBackend delegates
// to. The plasma store itself is treated as an out-of-scope external
// collaborator; no concrete client ships in this module (see
// DESIGN.md), so a host wanting the Plasma backend supplies this seam.
type ObjectStore interface {
	Put(ctx context.Context, id streamid.ID, data []byte) error
	Get(ctx context.Context, id streamid.ID, timeout time.Duration) ([]byte, error)
	Seal(ctx context.Context, id streamid.ID) error
	Release(ctx context.Context, id streamid.ID) error
}

// PlasmaBackend implements ProducerTransfer/ConsumerTransfer by mapping
// each produced bundle onto one sealed object in an injected
// ObjectStore, keyed by a deterministic per-channel, per-offset id
// derived from channelID and the bundle's position in the stream.
type PlasmaBackend struct {
	store ObjectStore

	mu          sync.Mutex
	offsets     map[streamid.ID]uint64 // next offset ProduceItem writes
	readOffsets map[streamid.ID]uint64 // next offset ConsumeItem reads
}

// NewPlasmaBackend wraps store.
func NewPlasmaBackend(store ObjectStore) *PlasmaBackend {
	return &PlasmaBackend{store: store, offsets: make(map[streamid.ID]uint64), readOffsets: make(map[streamid.ID]uint64)}
}

// objectID derives the object store key for the offset'th bundle on
// channelID: the channel id's bytes with offset XORed into the low
// 8 bytes, so every offset within one channel maps to a distinct id.
func objectID(channelID streamid.ID, offset uint64) streamid.ID {
	id := channelID
	for i := 0; i < 8; i++ {
		id[streamid.Size-1-i] ^= byte(offset >> (8 * i))
	}
	return id
}

func (b *PlasmaBackend) nextOffset(channelID streamid.ID) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	off := b.offsets[channelID]
	b.offsets[channelID] = off + 1
	return off
}

func (b *PlasmaBackend) peekOffset(channelID streamid.ID) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readOffsets[channelID]
}

// Create is a no-op: plasma objects are created lazily by ProduceItem.
func (b *PlasmaBackend) Create(context.Context, streamid.ID) error { return nil }

// Destroy resets the channel's produce and consume offset counters.
func (b *PlasmaBackend) Destroy(_ context.Context, channelID streamid.ID) error {
	b.mu.Lock()
	delete(b.offsets, channelID)
	delete(b.readOffsets, channelID)
	b.mu.Unlock()
	return nil
}

// ProduceItem puts and seals data as the next object for channelID.
func (b *PlasmaBackend) ProduceItem(ctx context.Context, channelID streamid.ID, data []byte) error {
	off := b.nextOffset(channelID)
	id := objectID(channelID, off)
	if err := b.store.Put(ctx, id, data); err != nil {
		return status.Wrap(status.IoError, "plasma put", err)
	}
	if err := b.store.Seal(ctx, id); err != nil {
		return status.Wrap(status.IoError, "plasma seal", err)
	}
	return nil
}

// ConsumeItem reads the next unread object for channelID from the store.
func (b *PlasmaBackend) ConsumeItem(ctx context.Context, channelID streamid.ID, timeout time.Duration) (uint64, []byte, error) {
	off := b.peekOffset(channelID)
	id := objectID(channelID, off)
	data, err := b.store.Get(ctx, id, timeout)
	if err != nil {
		return 0, nil, status.Wrap(status.NoSuchItem, "plasma get", err)
	}
	b.mu.Lock()
	b.readOffsets[channelID] = off + 1
	b.mu.Unlock()
	return off, data, nil
}

// WaitChannelsReady has nothing to wait on: plasma objects exist the
// instant ProduceItem seals them, there is no peer handshake.
func (b *PlasmaBackend) WaitChannelsReady(_ context.Context, ids []streamid.ID, _ time.Duration) ([]streamid.ID, error) {
	return nil, nil
}

// ClearCheckpoint releases every plasma object up to and including
// checkpointOffset for channelID.
func (b *PlasmaBackend) ClearCheckpoint(ctx context.Context, channelID streamid.ID, _ uint64, checkpointOffset uint64) error {
	for off := uint64(0); off <= checkpointOffset; off++ {
		if err := b.store.Release(ctx, objectID(channelID, off)); err != nil {
			return status.Wrap(status.IoError, "plasma release", err)
		}
	}
	return nil
}

// RefreshChannelInfo is a no-op: PlasmaBackend keeps no out-of-band
// channel metadata beyond the offset counter it already tracks.
func (b *PlasmaBackend) RefreshChannelInfo(context.Context, streamid.ID) error {
	return nil
}

// NotifyConsumed is equivalent to ClearCheckpoint with checkpointID 0 for
// the plasma backend: there is no separate notification channel, a
// release is itself the reclamation signal.
func (b *PlasmaBackend) NotifyConsumed(ctx context.Context, channelID streamid.ID, offset uint64) error {
	return b.ClearCheckpoint(ctx, channelID, 0, offset)
}

// Package config carries the runtime's tunables, plus the handful of
// ambient knobs a Go transport/pool layer needs that configuration
// loading is left to handle elsewhere (out of scope: this package only
// defines the struct and its defaults, never a loader).
package config

import "time"

// BackendKind selects the channel.ProducerTransfer/ConsumerTransfer
// implementation a queue uses. Mirrors queue_type.
type BackendKind int

const (
	// BackendMemory is the in-process FIFO deque backend, used by tests
	// and single-process pipelines.
	BackendMemory BackendKind = iota
	// BackendTCP stands in for "streaming_queue" backend: a
	// concrete actor-to-actor transfer over sockets.
	BackendTCP
	// BackendPlasma delegates to an injected shared-memory object store.
	BackendPlasma
)

func (k BackendKind) String() string {
	switch k {
	case BackendMemory:
		return "memory"
	case BackendTCP:
		return "streaming_queue"
	case BackendPlasma:
		return "plasma"
	default:
		return "unknown"
	}
}

// Config collects every runtime tunable, plus the ambient transport/pool
// knobs this Go rewrite needs (DialTimeout, MaxInflightSends) that a
// process-wide flag set would otherwise carry.
type Config struct {
	// EmptyMessageIntervalMs is the minimum gap between heartbeats on an
	// idle channel. Default 50.
	EmptyMessageIntervalMs int64
	// RingBufferCapacity bounds the number of in-flight messages per
	// output channel's ring buffer. Default 512.
	RingBufferCapacity int
	// QueueSize is the per-bundle byte budget used by collectFromRingBuffer.
	// Default 10 MiB.
	QueueSize int
	// QueueType selects the channel backend.
	QueueType BackendKind
	// ReadItemTimeoutMs bounds a single consume_item call.
	// Default 10.
	ReadItemTimeoutMs int64
	// SyncCallTimeoutMs is the default timeout for CheckQueueSync.
	// Default 5000.
	SyncCallTimeoutMs int64
	// CheckQueueRetries bounds CheckQueueSync's retry count. Default 10.
	CheckQueueRetries int

	// DialTimeout bounds the BackendTCP dial step when establishing a
	// new peer connection.
	DialTimeout time.Duration
	// MaxInflightSends bounds the gopool queue backing
	// transport.Transport's fire-and-forget Send calls.
	MaxInflightSends int
}

// Default returns a populated Config, in the spirit of gopool.DefaultOption:
// a pure function, no package-level mutable default.
func Default() *Config {
	return &Config{
		EmptyMessageIntervalMs: 50,
		RingBufferCapacity:     512,
		QueueSize:              10 << 20,
		QueueType:              BackendMemory,
		ReadItemTimeoutMs:      10,
		SyncCallTimeoutMs:      5000,
		CheckQueueRetries:      10,
		DialTimeout:            5 * time.Second,
		MaxInflightSends:       1000,
	}
}

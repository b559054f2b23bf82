package queueservice

import (
	"context"
	"sync"
	"time"

	"github.com/flowcore/streamcore/status"
	"github.com/flowcore/streamcore/streamid"
	"github.com/flowcore/streamcore/transport"
	"github.com/flowcore/streamcore/wire"
)

// UpstreamService is the producer-side process-wide singleton: it owns
// every WriterQueue, processes inbound Notification messages, and drives
// the Check handshake against downstream peers via CheckQueueSync.
type UpstreamService struct {
	*Service

	localActor    streamid.ID
	transport     *transport.Transport
	checkFunction string // host RPC function name DownstreamService's sync handler is registered under

	mu     sync.Mutex
	queues map[streamid.ID]*WriterQueue
}

func newUpstreamService(localActor streamid.ID, t *transport.Transport, checkFunction string) *UpstreamService {
	s := &UpstreamService{localActor: localActor, transport: t, checkFunction: checkFunction, queues: make(map[streamid.ID]*WriterQueue)}
	s.Service = newService(s.handle)
	return s
}

// AddQueue registers channelID, returning its WriterQueue (creating it if
// necessary).
func (s *UpstreamService) AddQueue(channelID streamid.ID) *WriterQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[channelID]
	if !ok {
		q = newWriterQueue(channelID)
		s.queues[channelID] = q
	}
	return q
}

// Queue returns channelID's WriterQueue, or nil if never registered.
func (s *UpstreamService) Queue(channelID streamid.ID) *WriterQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[channelID]
}

// RemoveQueue drops channelID's WriterQueue.
func (s *UpstreamService) RemoveQueue(channelID streamid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, channelID)
}

func (s *UpstreamService) handle(buf []byte) ([]byte, error) {
	msg, err := wire.ParseMessageBytes(buf)
	if err != nil {
		return nil, err
	}
	switch msg.Type {
	case wire.MsgTypeNotification:
		q := s.Queue(msg.QueueID)
		if q == nil {
			return nil, errUnknownQueue(msg.QueueID)
		}
		q.OnNotify(msg.SeqID)
		return nil, nil
	case wire.MsgTypeCheckRsp:
		// Fatal: only the synchronous call path may observe a CheckRsp.
		panic("queueservice: UpstreamService received CheckRsp asynchronously")
	case wire.MsgTypeData:
		return nil, status.New(status.UnknownMessageType, "upstream: data is downstream-only")
	default:
		return nil, status.New(status.UnknownMessageType, "upstream: unexpected message type")
	}
}

// CheckQueueSync sends a Check to peerActor for queueID via
// send_for_result_with_retry, asserts the CheckRsp's peer actor id
// echoes this side's local actor id, and reports whether the queue
// exists.
func (s *UpstreamService) CheckQueueSync(ctx context.Context, queueID, peerActor streamid.ID, retries int, timeout time.Duration) (bool, error) {
	req := &wire.ProtocolMessage{Header: wire.Header{Type: wire.MsgTypeCheck, QueueID: queueID, ActorID: s.localActor, PeerActorID: peerActor}}
	buf, err := wire.EncodeMessageBytes(req)
	if err != nil {
		return false, err
	}
	reply := s.transport.SendForResultWithRetry(ctx, peerActor, s.checkFunction, buf, retries, timeout)
	if reply == nil {
		return false, status.New(status.IoError, "check queue: no reply after retries")
	}
	rsp, err := wire.ParseMessageBytes(reply)
	if err != nil {
		return false, err
	}
	if rsp.Type != wire.MsgTypeCheckRsp {
		return false, status.New(status.UnknownMessageType, "check queue: expected CheckRsp")
	}
	if rsp.PeerActorID != s.localActor {
		// A peer-actor-id mismatch in a CheckRsp indicates protocol
		// corruption; the core may not continue safely.
		panic("queueservice: CheckRsp peer actor id mismatch")
	}
	return rsp.CheckErr == wire.CheckOK, nil
}

// WaitQueues polls CheckQueueSync on every not-yet-ready id with a 50ms
// back-off between sweeps, until totalTimeout elapses, returning the ids
// that never became ready.
func (s *UpstreamService) WaitQueues(ctx context.Context, ids []streamid.ID, peerActor streamid.ID, retries int, callTimeout, totalTimeout time.Duration) []streamid.ID {
	const backoff = 50 * time.Millisecond
	deadline := time.Now().Add(totalTimeout)
	pending := append([]streamid.ID(nil), ids...)

	for len(pending) > 0 {
		var stillPending []streamid.ID
		for _, id := range pending {
			ok, err := s.CheckQueueSync(ctx, id, peerActor, retries, callTimeout)
			if err != nil || !ok {
				stillPending = append(stillPending, id)
			}
		}
		pending = stillPending
		if len(pending) == 0 || !time.Now().Before(deadline) {
			break
		}
		time.Sleep(backoff)
	}
	return pending
}

var (
	upstreamMu  sync.Mutex
	upstreamSvc *UpstreamService
)

// GetUpstreamService lazily creates (on first call) and starts the
// process-wide UpstreamService singleton.
func GetUpstreamService(localActor streamid.ID, t *transport.Transport, checkFunction string) *UpstreamService {
	upstreamMu.Lock()
	defer upstreamMu.Unlock()
	if upstreamSvc == nil {
		upstreamSvc = newUpstreamService(localActor, t, checkFunction)
		upstreamSvc.Start()
	}
	return upstreamSvc
}

// ReleaseAllUpstreamQueues stops the singleton's service thread and
// clears it.
func ReleaseAllUpstreamQueues() {
	upstreamMu.Lock()
	defer upstreamMu.Unlock()
	if upstreamSvc != nil {
		upstreamSvc.Stop()
		upstreamSvc = nil
	}
}

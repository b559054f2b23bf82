package queueservice

import (
	"sync"

	"github.com/flowcore/streamcore/status"
	"github.com/flowcore/streamcore/streamid"
	"github.com/flowcore/streamcore/wire"
)

// DownstreamService is the consumer-side process-wide singleton: it owns
// every ReaderQueue and answers Check handshake probes from upstream
// peers.
type DownstreamService struct {
	*Service

	localActor streamid.ID

	mu     sync.Mutex
	queues map[streamid.ID]*ReaderQueue
}

func newDownstreamService(localActor streamid.ID) *DownstreamService {
	s := &DownstreamService{localActor: localActor, queues: make(map[streamid.ID]*ReaderQueue)}
	s.Service = newService(s.handle)
	return s
}

// AddQueue registers channelID, returning its ReaderQueue (creating it if
// necessary).
func (s *DownstreamService) AddQueue(channelID streamid.ID) *ReaderQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[channelID]
	if !ok {
		q = newReaderQueue(channelID)
		s.queues[channelID] = q
	}
	return q
}

// Queue returns channelID's ReaderQueue, or nil if it was never
// registered.
func (s *DownstreamService) Queue(channelID streamid.ID) *ReaderQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[channelID]
}

// RemoveQueue drops channelID's ReaderQueue.
func (s *DownstreamService) RemoveQueue(channelID streamid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, channelID)
}

func (s *DownstreamService) handle(buf []byte) ([]byte, error) {
	msg, err := wire.ParseMessageBytes(buf)
	if err != nil {
		return nil, err
	}
	switch msg.Type {
	case wire.MsgTypeData:
		q := s.Queue(msg.QueueID)
		if q == nil {
			return nil, errUnknownQueue(msg.QueueID)
		}
		return nil, q.OnData(msg.SeqID, msg.Payload)
	case wire.MsgTypeCheck:
		rsp := &wire.ProtocolMessage{
			Header: wire.Header{
				Type:        wire.MsgTypeCheckRsp,
				QueueID:     msg.QueueID,
				ActorID:     s.localActor,
				PeerActorID: msg.ActorID,
			},
		}
		if s.Queue(msg.QueueID) != nil {
			rsp.CheckErr = wire.CheckOK
		} else {
			rsp.CheckErr = wire.CheckQueueNotExist
		}
		return wire.EncodeMessageBytes(rsp)
	case wire.MsgTypeCheckRsp:
		// Receiving a CheckRsp through async dispatch is a fatal protocol
		// error — it must only arrive on the synchronous call path.
		panic("queueservice: DownstreamService received CheckRsp asynchronously")
	default:
		return nil, status.New(status.UnknownMessageType, "downstream: unexpected message type")
	}
}

var (
	downstreamMu  sync.Mutex
	downstreamSvc *DownstreamService
)

// GetDownstreamService lazily creates (on first call) and starts the
// process-wide DownstreamService singleton.
func GetDownstreamService(localActor streamid.ID) *DownstreamService {
	downstreamMu.Lock()
	defer downstreamMu.Unlock()
	if downstreamSvc == nil {
		downstreamSvc = newDownstreamService(localActor)
		downstreamSvc.Start()
	}
	return downstreamSvc
}

// ReleaseAllDownstreamQueues stops the singleton's service thread and
// clears it, so a subsequent GetDownstreamService call creates a fresh
// one (explicit release lifecycle).
func ReleaseAllDownstreamQueues() {
	downstreamMu.Lock()
	defer downstreamMu.Unlock()
	if downstreamSvc != nil {
		downstreamSvc.Stop()
		downstreamSvc = nil
	}
}

// Package queueservice implements the single-threaded wire-protocol
// service: a cooperative, non-blocking event loop that owns per-queue
// state and drains an inbox of Data / Notification / Check / CheckRsp
// messages. Two process-wide singletons exist, UpstreamService
// (producer side) and DownstreamService (consumer side), each reached
// through a lazily initialized handle behind a thin accessor rather
// than a context object threaded through the RPC registration closure
// — the host RPC substrate here carries no such context, the same
// constraint the teacher's own process-wide gopool works under.
package queueservice

import (
	"sync"

	"github.com/cloudwego/gopkg/concurrency/gopool"

	"github.com/flowcore/streamcore"
)

// inboxItem is one pending dispatch: either fire-and-forget (replyCh
// nil) or synchronous (replyCh receives the handler's reply, acting as
// the one-shot promise DispatchMessageSync blocks on).
type inboxItem struct {
	buf     []byte
	replyCh chan []byte
}

// Handler processes one inbound protocol message buffer and optionally
// produces a reply (used only by the synchronous call path).
type Handler func(buf []byte) (reply []byte, err error)

// Service is the shared event-loop machinery both UpstreamService and
// DownstreamService embed.
type Service struct {
	handler Handler
	inbox   chan inboxItem

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newService(handler Handler) *Service {
	return &Service{handler: handler, inbox: make(chan inboxItem, 256)}
}

// Start launches the service thread if it is not already running.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	gopool.Go(func() {
		defer s.wg.Done()
		s.loop(s.stopCh)
	})
}

func (s *Service) loop(stopCh chan struct{}) {
	for {
		select {
		case item := <-s.inbox:
			reply, err := s.handler(item.buf)
			if err != nil {
				streamcore.Logger("queueservice: dispatch error: %v", err)
				reply = nil
			}
			if item.replyCh != nil {
				item.replyCh <- reply
			}
		case <-stopCh:
			return
		}
	}
}

// Stop ends the service loop and joins the service thread. Messages
// still in the inbox, or dispatched after Stop, are not handled.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// DispatchMessage posts buf to the service thread and returns
// immediately (async dispatch).
func (s *Service) DispatchMessage(buf []byte) {
	s.inbox <- inboxItem{buf: buf}
}

// DispatchMessageSync posts buf and blocks the calling (RPC-caller)
// thread until the service thread produces a reply.
func (s *Service) DispatchMessageSync(buf []byte) []byte {
	replyCh := make(chan []byte, 1)
	s.inbox <- inboxItem{buf: buf, replyCh: replyCh}
	return <-replyCh
}

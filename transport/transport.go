// Package transport wraps the host RPC substrate the design treats as
// an external collaborator, exposing the three call shapes the rest of
// the core needs: fire-and-forget, single-attempt synchronous, and
// synchronous-with-retry. Fire-and-forget sends run on the teacher's
// concurrency/gopool pool rather than a raw `go` statement, matching the
// bounded-worker-reuse idiom gopool.go itself uses for its own task
// dispatch.
package transport

import (
	"context"
	"time"

	"github.com/cloudwego/gopkg/concurrency/gopool"

	"github.com/flowcore/streamcore"
	"github.com/flowcore/streamcore/streamid"
	"github.com/flowcore/streamcore/wire"
)

// Caller is the host RPC surface Transport wraps: a single actor-task
// call, named by function, with a request payload and optional typed
// result. This is the seam the out-of-scope "RPC substrate" fills in.
type Caller interface {
	// Call fires buf at actor's function and does not wait for a reply.
	Call(ctx context.Context, actor streamid.ID, function string, buf []byte) error
	// CallForResult fires buf at actor's function and blocks up to
	// timeout for a reply. Returns (nil, nil) on timeout, matching
	// "RPC failure, remote exception" -> None contract, which
	// Transport.SendForResult maps onto a nil result.
	CallForResult(ctx context.Context, actor streamid.ID, function string, buf []byte, timeout time.Duration) ([]byte, error)
}

// Transport implements send / send_for_result /
// send_for_result_with_retry over a host Caller.
type Transport struct {
	caller Caller
	pool   *gopool.GoPool
}

// New wraps caller. pool may be nil, in which case fire-and-forget sends
// use the package-level gopool.Go fallback.
func New(caller Caller, pool *gopool.GoPool) *Transport {
	return &Transport{caller: caller, pool: pool}
}

// Send is fire-and-forget: failures are logged and swallowed, since
// at-least-once delivery is the data plane's job, not the transport's.
func (t *Transport) Send(ctx context.Context, actor streamid.ID, function string, buf []byte) {
	run := gopool.Go
	if t.pool != nil {
		run = t.pool.Go
	}
	run(func() {
		if err := t.caller.Call(ctx, actor, function, buf); err != nil {
			streamcore.Logger("transport: send to %s/%s failed: %v", actor, function, err)
		}
	})
}

// SendForResult makes a single attempt, returning nil if the call fails,
// the remote raised an exception, or the reply is the reserved 4-byte
// not-ready sentinel.
func (t *Transport) SendForResult(ctx context.Context, actor streamid.ID, function string, buf []byte, timeout time.Duration) []byte {
	reply, err := t.caller.CallForResult(ctx, actor, function, buf, timeout)
	if err != nil {
		return nil
	}
	if wire.IsNotReady(reply) {
		return nil
	}
	return reply
}

// SendForResultWithRetry loops SendForResult up to nRetries times,
// returning the first non-nil result, or nil if every attempt failed.
func (t *Transport) SendForResultWithRetry(ctx context.Context, actor streamid.ID, function string, buf []byte, nRetries int, timeout time.Duration) []byte {
	for i := 0; i < nRetries; i++ {
		if reply := t.SendForResult(ctx, actor, function, buf, timeout); reply != nil {
			return reply
		}
	}
	return nil
}

package planstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/planstream/planstream-go/internal/sse"
)

const readBufferSize = 32 << 10

// connHooks receives what a connection reads. The Client implements it.
type connHooks interface {
	connOpened(cn *connection)
	connRecord(cn *connection, rec sse.Record)
}

// connection is one physical stream. It is never reused: reconnecting
// creates a new connection with a fresh parser, which also forgets the last
// event id.
type connection struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	parser     *sse.Parser
	yieldEvery int

	mu    sync.Mutex
	state connState
}

func newConnection(parent context.Context, parser *sse.Parser, yieldEvery int) *connection {
	ctx, cancel := context.WithCancel(parent)
	return &connection{
		id:         uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
		parser:     parser,
		yieldEvery: yieldEvery,
		state:      connConnecting,
	}
}

func (cn *connection) getState() connState {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.state
}

func (cn *connection) setState(s connState) {
	cn.mu.Lock()
	cn.state = s
	cn.mu.Unlock()
}

// aborted reports whether close was called or the parent was cancelled.
func (cn *connection) aborted() bool {
	return cn.ctx.Err() != nil
}

// close aborts any in-flight dial or read. Safe to call more than once.
func (cn *connection) close() {
	cn.cancel()
	cn.setState(connClosed)
}

// run dials and reads until the stream fails, ends, or is aborted. It
// returns the cancellation error when aborted, ErrStreamEnded on a clean
// EOF, and the transport or framing error otherwise.
func (cn *connection) run(t Transport, req *StreamRequest, hooks connHooks) error {
	defer cn.close()

	body, err := t.Dial(cn.ctx, req)
	if err != nil {
		if cn.aborted() {
			return cn.ctx.Err()
		}
		return err
	}
	defer body.Close()

	// Some readers ignore the request context; closing the body unblocks them.
	stop := context.AfterFunc(cn.ctx, func() { body.Close() })
	defer stop()

	buf := make([]byte, readBufferSize)
	chunks := 0
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if cn.aborted() {
				return cn.ctx.Err()
			}
			if cn.getState() == connConnecting {
				cn.setState(connOpen)
				hooks.connOpened(cn)
			}

			recs, perr := cn.parser.Feed(buf[:n])
			for _, rec := range recs {
				if cn.aborted() {
					return cn.ctx.Err()
				}
				hooks.connRecord(cn, rec)
			}
			if perr != nil {
				return fmt.Errorf("stream framing: %w", perr)
			}

			chunks++
			if chunks%cn.yieldEvery == 0 {
				runtime.Gosched()
			}
		}
		if rerr != nil {
			if cn.aborted() {
				return cn.ctx.Err()
			}
			if errors.Is(rerr, io.EOF) {
				return ErrStreamEnded
			}
			return fmt.Errorf("stream read: %w", rerr)
		}
	}
}

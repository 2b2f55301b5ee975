package transport

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// peer is the broker-facing side of one WebSocket connection. Outbound
// frames go through a bounded queue drained by writeLoop.
type peer struct {
	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func newPeer(queueSize int) *peer {
	return &peer{out: make(chan []byte, queueSize)}
}

// Send enqueues payload without blocking. It reports false when the queue is
// full or the connection is shutting down.
func (p *peer) Send(payload []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.out <- payload:
		return true
	default:
		return false
	}
}

// close stops further sends. Safe to call more than once.
func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.out)
	}
}

// writeLoop writes queued frames to conn until the queue is closed, ctx ends
// or a write fails. onFail is called on write failure.
func (p *peer) writeLoop(ctx context.Context, conn *websocket.Conn, writeTimeout time.Duration, onFail func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-p.out:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				onFail(err)
				return
			}
		}
	}
}

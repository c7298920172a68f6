package live

import (
	stderrors "errors"
	"sync"

	"github.com/gorilla/websocket"
)

const sendBuffer = 16

var (
	errSlowConsumer = stderrors.New("live: send buffer full")
	errConnClosed   = stderrors.New("live: connection closed")
)

// conn wraps one websocket. All writes go through the buffered send channel
// and a single writePump goroutine, so Send never blocks the caller: a
// consumer that cannot keep up gets errSlowConsumer instead of stalling
// fanout delivery to its session peers.
type conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return errSlowConsumer
	}
}

// Close is safe to call multiple times and from any goroutine. Buffered
// messages are flushed before the socket closes.
func (c *conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *conn) writePump() {
	defer c.ws.Close()

	for p := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
			return
		}
	}
}

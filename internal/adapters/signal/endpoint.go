// Package signal is the WebSocket transport for the pairing core. One
// connection is one endpoint; a participant may hold several at once.
package signal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

const sendBuffer = 256

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// wsEndpoint implements core.Endpoint over one WebSocket connection. Send
// never blocks: a full buffer is a slow consumer and reports backpressure
// instead of stalling the caller.
type wsEndpoint struct {
	id   domain.EndpointID
	conn WSConn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newWSEndpoint(id domain.EndpointID, conn WSConn) *wsEndpoint {
	return &wsEndpoint{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

func (e *wsEndpoint) ID() domain.EndpointID { return e.id }

func (e *wsEndpoint) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return core.ErrEndpointClosed
	}
	select {
	case e.send <- data:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (e *wsEndpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.send)
	_ = e.conn.Close()
	e.mu.Unlock()
}

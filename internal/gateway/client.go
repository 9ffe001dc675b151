package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// wsConn is the subset of *websocket.Conn the gateway uses.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
)

type client struct {
	id    string
	conn  wsConn
	state atomic.Int32
	done  chan struct{}
	once  sync.Once

	wmu sync.Mutex
}

func newClient(conn wsConn) *client {
	return &client{id: uuid.NewString(), conn: conn, done: make(chan struct{})}
}

func (c *client) open() bool {
	return c.state.Load() == stateOpen
}

func (c *client) write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *client) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// close starts the close handshake and waits until the read loop has
// observed it. Already closed clients return immediately.
func (c *client) close(code websocket.StatusCode, reason string) {
	if !c.state.CompareAndSwap(stateOpen, stateClosing) {
		if c.state.Load() == stateClosed {
			return
		}
	} else {
		c.conn.Close(code, reason)
	}
	<-c.done
}

func (c *client) markClosed() {
	c.state.Store(stateClosed)
	c.once.Do(func() { close(c.done) })
}

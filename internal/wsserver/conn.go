package wsserver

import (
	"context"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-arena/internal/session"
)

// Conn adapts one websocket to session.Transport. Writes are serialized;
// the read loop owns reads.
type Conn struct {
	ws     *websocket.Conn
	remote string

	writeM sync.Mutex
	closed atomic.Bool
}

func newConn(ws *websocket.Conn, remote string) *Conn {
	return &Conn{ws: ws, remote: remote}
}

func (c *Conn) Send(ctx context.Context, msg any) error {
	if c.closed.Load() {
		return session.ErrTransportClosed
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	return wsjson.Write(ctx, c.ws, msg)
}

func (c *Conn) Open() bool { return !c.closed.Load() }

// Close sends a normal closure with the reason. Only the first call has effect.
func (c *Conn) Close(reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}

// markClosed records that the peer went away without sending a close frame.
func (c *Conn) markClosed() { c.closed.Store(true) }

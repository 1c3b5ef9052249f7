package rtshare

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn adapts a gorilla websocket connection to net.Conn, exposing
// the sequence of binary messages as a continuous byte stream. An empty
// binary message marks end-of-stream for the direction it was sent on: a
// websocket close frame would make the whole connection write-fatal, so it
// cannot express a TCP-style half close. Both a received empty message and
// a normal websocket close surface as io.EOF on the read side.
type WebSocketConn struct {
	ws     *websocket.Conn
	reader io.Reader

	// newMsg is true while no bytes of the current message have been
	// consumed yet
	newMsg bool

	// rdEOF latches once the peer's end-of-stream marker has been read
	rdEOF bool
}

// NewWebSocketConn wraps an established websocket connection. The returned
// conn becomes the owner of the websocket and is responsible for closing it.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{ws: ws}
}

// Read implements net.Conn, continuing into the next binary message whenever
// the current one is exhausted
func (c *WebSocketConn) Read(p []byte) (int, error) {
	for {
		if c.rdEOF {
			return 0, io.EOF
		}
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				// non-binary frames carry no tunnel payload
				io.Copy(io.Discard, r)
				continue
			}
			c.reader = r
			c.newMsg = true
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n == 0 {
				if c.newMsg {
					// an empty message is the peer's end-of-stream marker
					c.rdEOF = true
					return 0, io.EOF
				}
				continue
			}
			err = nil
		}
		c.newMsg = false
		return n, err
	}
}

// Write implements net.Conn; each write becomes one binary message. A
// zero-length write sends nothing, since an empty message would read as
// end-of-stream on the peer.
func (c *WebSocketConn) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CloseWrite sends the empty end-of-stream message so the remote reader
// sees io.EOF, while both sides of the websocket stay usable for the
// remote peer to drain its remaining bytes
func (c *WebSocketConn) CloseWrite() error {
	return c.ws.WriteMessage(websocket.BinaryMessage, []byte{})
}

// Close implements net.Conn
func (c *WebSocketConn) Close() error {
	return c.ws.Close()
}

// LocalAddr implements net.Conn
func (c *WebSocketConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

// RemoteAddr implements net.Conn
func (c *WebSocketConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// SetDeadline implements net.Conn
func (c *WebSocketConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn
func (c *WebSocketConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn
func (c *WebSocketConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

package hub

import (
	"context"

	"nhooyr.io/websocket"
)

// WSConn adapts a websocket connection to the hub's Conn interface.
type WSConn struct {
	conn *websocket.Conn
}

// NewWSConn wraps an accepted websocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Write sends one text frame; the caller supplies the timeout context.
func (c *WSConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close closes the underlying socket.
func (c *WSConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "stream closed")
}

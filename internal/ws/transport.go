// Package ws adapts WebSocket connections to the delivery transport.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/nadeko0/wschat/internal/delivery"
	"nhooyr.io/websocket"
)

// Application close codes sent to peers, in the private 4000-4999 range.
const (
	StatusUnauthorized   websocket.StatusCode = 4001
	StatusReplaced       websocket.StatusCode = 4002
	StatusLoggedOut      websocket.StatusCode = 4003
	StatusStorageFailure websocket.StatusCode = 4004
)

// DefaultReadLimit caps one inbound frame.
const DefaultReadLimit = 64 << 10

// AcceptOptions configures the upgrade.
type AcceptOptions struct {
	// OriginPatterns lists host patterns allowed to open cross-origin connections.
	// A "*" entry disables the origin check.
	OriginPatterns []string
	// ReadLimit caps one inbound frame; 0 means DefaultReadLimit.
	ReadLimit int64
}

// Conn is a delivery.Transport over one WebSocket connection.
type Conn struct {
	c      *websocket.Conn
	remote string
}

var _ delivery.Transport = (*Conn)(nil)

// Accept upgrades the request. On failure the response has already been written.
func Accept(w http.ResponseWriter, r *http.Request, opts AcceptOptions) (*Conn, error) {
	ao := &websocket.AcceptOptions{}
	for _, p := range opts.OriginPatterns {
		if p == "*" {
			ao.InsecureSkipVerify = true
			continue
		}
		ao.OriginPatterns = append(ao.OriginPatterns, p)
	}
	c, err := websocket.Accept(w, r, ao)
	if err != nil {
		return nil, fmt.Errorf("websocket accept: %w", err)
	}
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)
	return &Conn{c: c, remote: r.RemoteAddr}, nil
}

// Receive returns the next text or binary message payload.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	_, p, err := c.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Send writes payload as one text message.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	return c.c.Write(ctx, websocket.MessageText, payload)
}

// Close performs the closing handshake with a code describing reason.
func (c *Conn) Close(reason delivery.CloseReason) error {
	return c.c.Close(StatusFor(reason), reason.String())
}

// RemoteAddr is the peer address as seen by the HTTP server.
func (c *Conn) RemoteAddr() string { return c.remote }

// StatusFor maps a close reason to the code sent on the wire.
func StatusFor(reason delivery.CloseReason) websocket.StatusCode {
	switch reason {
	case delivery.CloseNormal:
		return websocket.StatusNormalClosure
	case delivery.CloseUnauthorized:
		return StatusUnauthorized
	case delivery.CloseReplaced:
		return StatusReplaced
	case delivery.CloseLogout:
		return StatusLoggedOut
	case delivery.CloseStorageFailure:
		return StatusStorageFailure
	case delivery.CloseShutdown:
		return websocket.StatusGoingAway
	default:
		return websocket.StatusInternalError
	}
}

// IsClosed reports whether err means the connection is already gone.
func IsClosed(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

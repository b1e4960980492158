package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nadeko0/wschat/internal/model"
	"github.com/nadeko0/wschat/internal/ws"
	"nhooyr.io/websocket"
)

func liveURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

func dialLive(ctx context.Context, base, token string) (*websocket.Conn, error) {
	c, _, err := websocket.Dial(ctx, liveURL(base), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}

func sendMessage(ctx context.Context, c *websocket.Conn, to int64, text string) error {
	b, err := json.Marshal(model.Inbound{ReceiverID: to, Content: text})
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, b)
}

// closeReason describes a close code sent by the server.
func closeReason(code websocket.StatusCode) string {
	switch code {
	case websocket.StatusNormalClosure:
		return "closed"
	case ws.StatusUnauthorized:
		return "not authorized, log in again"
	case ws.StatusReplaced:
		return "another session connected"
	case ws.StatusLoggedOut:
		return "logged out"
	case ws.StatusStorageFailure:
		return "server storage unavailable"
	case websocket.StatusGoingAway:
		return "server shutting down"
	default:
		return fmt.Sprintf("closed with code %d", code)
	}
}

// listen prints every pushed message as one JSON line until the connection ends.
func listen(ctx context.Context, c *websocket.Conn, out io.Writer) error {
	for {
		_, p, err := c.Read(ctx)
		if err != nil {
			if code := websocket.CloseStatus(err); code != -1 {
				if code == websocket.StatusNormalClosure {
					return nil
				}
				return errors.New(closeReason(code))
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintln(out, string(p)); err != nil {
			return err
		}
	}
}

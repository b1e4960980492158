package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nadeko0/wschat/internal/delivery"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newServer(t *testing.T, opts AcceptOptions, fn func(*Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r, opts)
		if err != nil {
			return
		}
		fn(c)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConn_Echo(t *testing.T) {
	t.Parallel()
	srv := newServer(t, AcceptOptions{}, func(c *Conn) {
		ctx := context.Background()
		p, err := c.Receive(ctx)
		if err != nil {
			return
		}
		_ = c.Send(ctx, p)
		_ = c.Close(delivery.CloseNormal)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	cl, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer cl.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, cl.Write(ctx, websocket.MessageText, []byte(`{"receiver_id":2,"content":"hi"}`)))
	typ, p, err := cl.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	require.Equal(t, `{"receiver_id":2,"content":"hi"}`, string(p))

	_, _, err = cl.Read(ctx)
	require.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestConn_CloseCarriesReason(t *testing.T) {
	t.Parallel()
	srv := newServer(t, AcceptOptions{}, func(c *Conn) {
		_ = c.Close(delivery.CloseReplaced)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	cl, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)

	_, _, err = cl.Read(ctx)
	require.Equal(t, StatusReplaced, websocket.CloseStatus(err))
	require.True(t, IsClosed(err))
}

func TestAccept_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	srv := newServer(t, AcceptOptions{OriginPatterns: []string{"chat.example.com"}}, func(c *Conn) {
		_ = c.Close(delivery.CloseNormal)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {"http://evil.example.org"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAccept_WildcardOrigin(t *testing.T) {
	t.Parallel()
	srv := newServer(t, AcceptOptions{OriginPatterns: []string{"*"}}, func(c *Conn) {
		_ = c.Close(delivery.CloseNormal)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	cl, _, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {"http://anywhere.example.org"}},
	})
	require.NoError(t, err)
	cl.Close(websocket.StatusNormalClosure, "")
}

func TestConn_ReadLimit(t *testing.T) {
	t.Parallel()
	got := make(chan error, 1)
	srv := newServer(t, AcceptOptions{ReadLimit: 16}, func(c *Conn) {
		_, err := c.Receive(context.Background())
		got <- err
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	cl, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer cl.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, cl.Write(ctx, websocket.MessageText, []byte(strings.Repeat("x", 100))))
	select {
	case err := <-got:
		require.Error(t, err)
	case <-ctx.Done():
		t.Fatal("oversized frame was not rejected")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	cases := map[delivery.CloseReason]websocket.StatusCode{
		delivery.CloseNormal:         websocket.StatusNormalClosure,
		delivery.CloseUnauthorized:   StatusUnauthorized,
		delivery.CloseReplaced:       StatusReplaced,
		delivery.CloseLogout:         StatusLoggedOut,
		delivery.CloseStorageFailure: StatusStorageFailure,
		delivery.CloseShutdown:       websocket.StatusGoingAway,
		delivery.CloseInternal:       websocket.StatusInternalError,
	}
	for reason, want := range cases {
		require.Equal(t, want, StatusFor(reason), reason.String())
	}
}

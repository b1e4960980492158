package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of one channel.
type State int32

const (
	StateConnecting State = iota
	StateVerifying
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateVerifying:
		return "verifying"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errChannelClosed = errors.New("channel closed")

// channel is the presence handle for one live connection. Other goroutines may only signal
// it to close; the goroutine running Serve performs the actual teardown.
type channel struct {
	id     string
	userID int64
	tr     Transport

	state atomic.Int32

	closeOnce sync.Once
	done      chan struct{}
	reason    CloseReason // written once before done is closed

	trOnce sync.Once
	trErr  error

	sendMu sync.Mutex
}

func newChannel(id string, tr Transport) *channel {
	return &channel{id: id, tr: tr, done: make(chan struct{})}
}

// ID implements presence.Channel.
func (c *channel) ID() string { return c.id }

func (c *channel) State() State { return State(c.state.Load()) }

func (c *channel) setState(s State) { c.state.Store(int32(s)) }

// signalClose asks the owning goroutine to tear the channel down. Only the first reason sticks.
func (c *channel) signalClose(reason CloseReason) bool {
	first := false
	c.closeOnce.Do(func() {
		c.reason = reason
		if c.State() == StateActive {
			c.setState(StateClosing)
		}
		close(c.done)
		first = true
	})
	return first
}

// closeTransport closes the transport with the recorded reason. Only the first call reaches
// the transport; it must follow signalClose.
func (c *channel) closeTransport() error {
	c.trOnce.Do(func() { c.trErr = c.tr.Close(c.reason) })
	return c.trErr
}

func (c *channel) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// send pushes one unit; concurrent senders are serialized per channel.
func (c *channel) send(ctx context.Context, payload []byte) error {
	if c.closing() {
		return errChannelClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.tr.Send(ctx, payload)
}

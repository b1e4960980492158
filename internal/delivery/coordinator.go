// Package delivery runs live channels: it verifies the credential presented on connect,
// keeps the presence registry in step with channel lifetimes, persists every inbound message
// and pushes it to the receiver when the receiver is online.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/nadeko0/wschat/internal/errs"
	"github.com/nadeko0/wschat/internal/model"
	"github.com/nadeko0/wschat/internal/presence"
	"github.com/nadeko0/wschat/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Verifier resolves a session credential to a user identity.
type Verifier interface {
	Verify(token string) (int64, error)
}

// Options tunes a Coordinator. Zero values fall back to defaults.
type Options struct {
	// WriteTimeout bounds one live push to a receiver.
	WriteTimeout time.Duration
	// StoreTimeout bounds one storage call (append, last-seen stamp, receiver lookup).
	StoreTimeout time.Duration
	// InboundRate limits inbound units per second on one channel; 0 disables the limit.
	// Excess units wait, they are never dropped.
	InboundRate  float64
	InboundBurst int
	// ValidateReceivers drops units addressed to users that do not exist.
	ValidateReceivers bool
	// Clock supplies the time used for last-seen stamps.
	Clock func() time.Time
}

const (
	defaultWriteTimeout = 5 * time.Second
	defaultStoreTimeout = 5 * time.Second
)

// Coordinator owns every live channel of the process.
type Coordinator struct {
	verifier Verifier
	registry *presence.Registry
	messages repository.MessageRepository
	users    repository.UserRepository
	log      *zap.Logger
	opts     Options

	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

// NewCoordinator wires a Coordinator to its collaborators.
func NewCoordinator(
	verifier Verifier,
	registry *presence.Registry,
	messages repository.MessageRepository,
	users repository.UserRepository,
	log *zap.Logger,
	opts Options,
) *Coordinator {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.InboundRate > 0 && opts.InboundBurst <= 0 {
		opts.InboundBurst = 1
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		verifier: verifier,
		registry: registry,
		messages: messages,
		users:    users,
		log:      log,
		opts:     opts,
	}
}

// Serve runs one accepted connection until it ends and returns only after cleanup is done.
// A credential that does not verify closes the transport with CloseUnauthorized and returns
// an error wrapping errs.ErrUnauthorized. A failed append closes the channel with
// CloseStorageFailure and returns an error wrapping errs.ErrStorage. Peer disconnects,
// context cancellation, logout and shutdown return nil.
func (c *Coordinator) Serve(ctx context.Context, tr Transport, token string) error {
	c.wg.Add(1)
	defer c.wg.Done()

	id, err := uuid.NewV4()
	if err != nil {
		_ = tr.Close(CloseInternal)
		return fmt.Errorf("channel id: %w", err)
	}
	ch := newChannel(id.String(), tr)
	log := c.log.With(zap.String("channel", ch.id), zap.String("remote", tr.RemoteAddr()))

	ch.setState(StateVerifying)
	userID, err := c.verifier.Verify(token)
	if err != nil {
		log.Info("channel rejected", zap.Error(err))
		ch.signalClose(CloseUnauthorized)
		if cerr := tr.Close(CloseUnauthorized); cerr != nil {
			log.Debug("close transport", zap.Error(cerr))
		}
		ch.setState(StateClosed)
		if !errors.Is(err, errs.ErrUnauthorized) {
			err = fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
		}
		return err
	}
	ch.userID = userID
	log = log.With(zap.Int64("user_id", userID))

	c.activate(ch, log)
	defer c.cleanup(ch, log)

	return c.loop(ctx, ch, log)
}

// activate installs ch in the registry and evicts whatever channel it displaced.
func (c *Coordinator) activate(ch *channel, log *zap.Logger) {
	ch.setState(StateActive)
	prev, replaced := c.registry.Register(ch.userID, ch)
	if replaced {
		if old, ok := prev.(*channel); ok {
			log.Info("replacing live channel", zap.String("previous", old.id))
			go old.signalClose(CloseReplaced)
		}
	}
	if c.shuttingDown.Load() {
		ch.signalClose(CloseShutdown)
	}
	c.touch(ch.userID, log)
	log.Info("channel active")
}

// loop reads inbound units in order until the channel is told to close or the peer leaves.
func (c *Coordinator) loop(ctx context.Context, ch *channel, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ch.done:
			// Close before cancel: a cancelled pending read drops the connection without a close code.
			if err := ch.closeTransport(); err != nil {
				log.Debug("close transport", zap.Error(err))
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	var lim *rate.Limiter
	if c.opts.InboundRate > 0 {
		lim = rate.NewLimiter(rate.Limit(c.opts.InboundRate), c.opts.InboundBurst)
	}

	for {
		// Wait before reading so a close during the wait leaves the next unit unread.
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return nil
			}
		}
		raw, err := ch.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && !ch.closing() {
				log.Debug("receive ended", zap.Error(err))
			}
			return nil
		}
		if err := c.handle(ctx, ch, raw, log); err != nil {
			ch.signalClose(CloseStorageFailure)
			return err
		}
	}
}

// handle persists one inbound unit and then attempts live delivery.
// Only storage failures are returned; bad units are logged and skipped.
func (c *Coordinator) handle(ctx context.Context, ch *channel, raw []byte, log *zap.Logger) error {
	var in model.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Warn("malformed unit skipped", zap.Error(err), zap.Int("size", len(raw)))
		return nil
	}
	if in.ReceiverID <= 0 {
		log.Warn("unit without receiver skipped", zap.Int64("receiver_id", in.ReceiverID))
		return nil
	}

	// The append outlives the channel: a unit that was read is stored even if the peer leaves.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.StoreTimeout)
	defer cancel()

	if c.opts.ValidateReceivers {
		if _, err := c.users.GetByID(sctx, in.ReceiverID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				log.Info("unit for unknown receiver skipped", zap.Int64("receiver_id", in.ReceiverID))
				return nil
			}
			log.Error("receiver lookup failed", zap.Error(err))
			return fmt.Errorf("lookup receiver: %w", err)
		}
	}

	msg, err := c.messages.Append(sctx, ch.userID, in.ReceiverID, in.Content)
	if err != nil {
		log.Error("append failed", zap.Int64("receiver_id", in.ReceiverID), zap.Error(err))
		if !errors.Is(err, errs.ErrStorage) {
			err = fmt.Errorf("%w: %w", errs.ErrStorage, err)
		}
		return err
	}
	log.Debug("message stored", zap.Int64("message_id", msg.ID), zap.Int64("receiver_id", in.ReceiverID))

	c.deliver(ctx, in.ReceiverID, raw, log)
	return nil
}

// deliver pushes payload to the receiver's live channel, if there is one.
// It reports whether the push succeeded; failures are logged and never retried.
func (c *Coordinator) deliver(ctx context.Context, receiverID int64, payload []byte, log *zap.Logger) bool {
	h, ok := c.registry.Lookup(receiverID)
	if !ok {
		return false
	}
	target, ok := h.(*channel)
	if !ok {
		log.Error("foreign presence handle", zap.Int64("receiver_id", receiverID), zap.String("handle", h.ID()))
		return false
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.WriteTimeout)
	defer cancel()
	if err := target.send(wctx, payload); err != nil {
		log.Warn("live delivery failed",
			zap.Int64("receiver_id", receiverID),
			zap.String("target", target.id),
			zap.Error(err))
		return false
	}
	return true
}

// cleanup runs once per activated channel, on the goroutine that served it.
func (c *Coordinator) cleanup(ch *channel, log *zap.Logger) {
	ch.signalClose(CloseNormal)
	ch.setState(StateClosing)

	if !c.registry.Deregister(ch.userID, ch) {
		log.Debug("presence already taken by a newer channel")
	}
	if err := ch.closeTransport(); err != nil {
		log.Debug("close transport", zap.Error(err))
	}
	c.touch(ch.userID, log)

	ch.setState(StateClosed)
	log.Info("channel closed", zap.Stringer("reason", ch.reason))
}

func (c *Coordinator) touch(userID int64, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StoreTimeout)
	defer cancel()
	if err := c.users.TouchLastSeen(ctx, userID, c.opts.Clock()); err != nil {
		log.Warn("last-seen update failed", zap.Error(err))
	}
}

// Disconnect closes the user's live channel, if any, with CloseLogout.
func (c *Coordinator) Disconnect(userID int64) bool {
	h, ok := c.registry.Lookup(userID)
	if !ok {
		return false
	}
	ch, ok := h.(*channel)
	if !ok {
		return false
	}
	return ch.signalClose(CloseLogout)
}

// Shutdown closes every live channel with CloseShutdown. Channels that finish verifying
// afterwards are closed as soon as they activate.
func (c *Coordinator) Shutdown() {
	c.shuttingDown.Store(true)
	n := 0
	c.registry.Each(func(_ int64, h presence.Channel) {
		if ch, ok := h.(*channel); ok && ch.signalClose(CloseShutdown) {
			n++
		}
	})
	c.log.Info("closing live channels", zap.Int("count", n))
}

// Wait blocks until every Serve call has returned or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Online reports whether userID currently holds a live channel.
func (c *Coordinator) Online(userID int64) bool {
	_, ok := c.registry.Lookup(userID)
	return ok
}

// Active is the number of live channels.
func (c *Coordinator) Active() int { return c.registry.Len() }

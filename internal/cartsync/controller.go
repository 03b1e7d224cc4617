package cartsync

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"

	"chat-order/internal/cart"
	"chat-order/internal/entity"
	"chat-order/internal/errs"
)

// DraftStore is the remote draft-order resource. PutCart replaces the whole
// line set of the session's draft.
type DraftStore interface {
	PutCart(ctx context.Context, sessionID string, lines []entity.LineRequest) error
}

type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSynced  State = "synced"
	// StatePending means the latest cart has not reached the server and the
	// last attempt failed.
	StatePending State = "pending"
)

type Status struct {
	State          State
	Revision       uint64
	PushedRevision uint64
	LastError      error
}

type Config struct {
	Timeout        time.Duration
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Controller pushes the cart of one session to the draft store. Pushes run one
// at a time on the goroutine calling Run; intents published while a push is in
// flight collapse into the newest one.
type Controller struct {
	drafts    DraftStore
	sessionID string
	cfg       Config
	log       zerolog.Logger

	mu       sync.Mutex
	next     *cart.Intent
	last     cart.Intent
	pushed   uint64
	inFlight bool
	lastErr  error
	changed  chan struct{}
	wake     chan struct{}
}

func New(drafts DraftStore, sessionID string, cfg Config, log zerolog.Logger) *Controller {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	return &Controller{
		drafts:    drafts,
		sessionID: sessionID,
		cfg:       cfg,
		log:       log.With().Str("session", sessionID).Logger(),
		changed:   make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Publish queues intent, replacing any intent not yet picked up.
func (c *Controller) Publish(intent cart.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if intent.Revision <= c.last.Revision {
		return
	}
	c.last = intent
	c.next = &intent
	c.notify()
	c.signal()
}

// Run pushes queued intents until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}

		for {
			intent, ok := c.take()
			if !ok {
				break
			}
			c.push(ctx, intent)
		}
	}
}

// Flush waits until the latest published revision has been pushed. A push that
// already gave up is tried once more.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.pushed < c.last.Revision && !c.inFlight && c.next == nil {
		intent := c.last
		c.next = &intent
		c.signal()
	}
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if c.pushed >= c.last.Revision {
			c.mu.Unlock()
			return nil
		}
		if !c.inFlight && c.next == nil && c.lastErr != nil {
			err := c.lastErr
			c.mu.Unlock()
			return err
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return errs.Transport("cart sync", ctx.Err())
		case <-ch:
		}
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{Revision: c.last.Revision, PushedRevision: c.pushed, LastError: c.lastErr}
	switch {
	case c.inFlight:
		st.State = StateSyncing
	case c.last.Revision == 0:
		st.State = StateIdle
	case c.pushed >= c.last.Revision:
		st.State = StateSynced
	case c.lastErr != nil:
		st.State = StatePending
	default:
		st.State = StateSyncing
	}
	return st
}

func (c *Controller) take() (cart.Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.next == nil {
		return cart.Intent{}, false
	}
	intent := *c.next
	c.next = nil
	c.inFlight = true
	c.notify()
	return intent, true
}

func (c *Controller) push(ctx context.Context, intent cart.Intent) {
	policy := backoff.NewExponentialBackOff()
	if c.cfg.InitialBackoff > 0 {
		policy.InitialInterval = c.cfg.InitialBackoff
	}
	if c.cfg.MaxBackoff > 0 {
		policy.MaxInterval = c.cfg.MaxBackoff
	}
	policy.MaxElapsedTime = 0
	policy.Reset()

	for attempt := 1; ; attempt++ {
		err := c.putOnce(ctx, intent)
		if err == nil {
			c.finish(intent.Revision, nil)
			c.log.Debug().Msgf("Cart revision %d synced (%d lines)", intent.Revision, len(intent.Lines))
			return
		}

		c.log.Warn().Err(err).Msgf("Cart sync attempt %d for revision %d failed", attempt, intent.Revision)
		if c.superseded(err) {
			return
		}

		wait := policy.NextBackOff()
		if uint64(attempt) >= c.cfg.MaxAttempts || wait == backoff.Stop {
			c.finish(0, err)
			c.log.Error().Err(err).Msgf("Giving up cart sync for revision %d", intent.Revision)
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.finish(0, err)
			return
		case <-c.wake:
			// a newer intent is queued and carries the latest state
			timer.Stop()
			c.finish(0, err)
			c.signal()
			return
		case <-timer.C:
		}
	}
}

func (c *Controller) putOnce(ctx context.Context, intent cart.Intent) error {
	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	err := c.drafts.PutCart(callCtx, c.sessionID, intent.Lines)
	if err != nil {
		if _, ok := errs.KindOf(err); !ok {
			err = errs.Transport("cart sync", err)
		}
	}
	return err
}

// superseded records a failure and reports whether a newer intent is queued.
func (c *Controller) superseded(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastErr = err
	if c.next == nil {
		return false
	}
	c.inFlight = false
	c.notify()
	return true
}

func (c *Controller) finish(revision uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if revision > c.pushed {
		c.pushed = revision
	}
	c.lastErr = err
	c.inFlight = false
	c.notify()
}

// notify wakes Flush waiters. Must be called with mu held.
func (c *Controller) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

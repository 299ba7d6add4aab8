// Package lifecycle ties authentication state to the push channel and the
// session store for the lifetime of the application.
package lifecycle

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/auth"
	"github.com/zhouzirui/quotesync/internal/channel"
	"github.com/zhouzirui/quotesync/internal/logger"
	"github.com/zhouzirui/quotesync/internal/service/session"
)

var (
	ErrAlreadyStarted   = errors.New("controller already started")
	ErrNotStarted       = errors.New("controller not started")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Channel is the push channel surface the controller drives.
type Channel interface {
	session.Registrar
	Connect(ctx context.Context, token string) error
	Disconnect()
}

// Store is the session store surface the controller drives.
type Store interface {
	LoadInitialSession()
	LoadExistingSession(ctx context.Context, id string) error
	Bind(r session.Registrar) func()
}

// Auth is the token holder the controller follows.
type Auth interface {
	Current() auth.State
	Subscribe(fn func(auth.State)) func()
	HandleUnauthorized()
}

// Controller connects the channel while authenticated and disconnects it
// otherwise. It never reconnects on its own after a transport close.
type Controller struct {
	store   Store
	channel Channel
	auth    Auth
	logger  *zap.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unbind      func()
	unsubscribe func()
	wg          sync.WaitGroup
	// authGen increments on every auth event; a connect attempt only
	// proceeds while its generation is still the latest.
	authGen uint64

	// connMu serialises connect attempts so a stale one finishes before the
	// next starts.
	connMu sync.Mutex
}

// New creates a stopped controller.
func New(store Store, ch Channel, a Auth, log *zap.Logger) *Controller {
	return &Controller{
		store:   store,
		channel: ch,
		auth:    a,
		logger:  logger.OrNop(log).With(zap.String("module", "lifecycle")),
	}
}

// Start installs a fresh local session, binds the store to the channel and
// follows the auth provider, applying its current state immediately.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.store.LoadInitialSession()
	unbind := c.store.Bind(c.channel)
	unsubscribe := c.auth.Subscribe(c.onAuthChange)

	c.mu.Lock()
	c.unbind = unbind
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.onAuthChange(c.auth.Current())
	c.logger.Info("lifecycle started")
	return nil
}

// Stop unsubscribes from auth, disconnects the channel and unbinds the
// store. It waits for connect attempts in flight to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	unbind := c.unbind
	unsubscribe := c.unsubscribe
	c.cancel, c.unbind, c.unsubscribe = nil, nil, nil
	c.mu.Unlock()

	unsubscribe()
	cancel()
	c.channel.Disconnect()
	unbind()
	c.wg.Wait()
	c.logger.Info("lifecycle stopped")
}

// Reconnect retries the channel with the current token and waits for the
// outcome.
func (c *Controller) Reconnect() error {
	ctx, err := c.acquire()
	if err != nil {
		return err
	}
	defer c.wg.Done()

	state := c.auth.Current()
	if !state.Authenticated() {
		return ErrNotAuthenticated
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connect(ctx, state.Token)
}

// Bootstrap loads sessionID when given; otherwise the fresh local session
// installed by Start is kept.
func (c *Controller) Bootstrap(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return c.store.LoadExistingSession(ctx, sessionID)
}

// NewChat replaces the current session with a fresh empty one.
func (c *Controller) NewChat() {
	c.store.LoadInitialSession()
}

func (c *Controller) onAuthChange(state auth.State) {
	c.mu.Lock()
	c.authGen++
	gen := c.authGen
	c.mu.Unlock()

	if !state.Authenticated() {
		c.channel.Disconnect()
		return
	}

	ctx, err := c.acquire()
	if err != nil {
		return
	}
	go func() {
		defer c.wg.Done()
		c.connectFor(ctx, gen, state.Token)
	}()
}

// connectFor connects with token unless auth moved on first, and drops the
// connection again when auth changed while dialing.
func (c *Controller) connectFor(ctx context.Context, gen uint64, token string) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.authIsCurrent(gen, token) {
		c.logger.Debug("skipping connect for superseded auth state")
		return
	}
	if err := c.connect(ctx, token); err != nil {
		return
	}
	if !c.authIsCurrent(gen, token) {
		c.logger.Debug("auth changed while connecting, dropping channel")
		c.channel.Disconnect()
	}
}

func (c *Controller) authIsCurrent(gen uint64, token string) bool {
	c.mu.Lock()
	latest := c.authGen == gen
	c.mu.Unlock()
	return latest && c.auth.Current().Token == token
}

func (c *Controller) connect(ctx context.Context, token string) error {
	err := c.channel.Connect(ctx, token)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, channel.ErrConnectAborted):
		c.logger.Debug("connect superseded")
	case errors.Is(err, channel.ErrUnauthorized):
		c.logger.Warn("channel rejected token")
		c.auth.HandleUnauthorized()
	default:
		c.logger.Warn("connect failed", zap.Error(err))
	}
	return err
}

// acquire registers a connect attempt with the running controller. Callers
// must call c.wg.Done when the attempt ends.
func (c *Controller) acquire() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return nil, ErrNotStarted
	}
	c.wg.Add(1)
	return c.ctx, nil
}

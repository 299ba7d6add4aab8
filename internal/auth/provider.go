// Package auth holds the bearer token used by the REST client and the push
// channel, and tells subscribers when it appears, changes or goes away.
package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/logger"
)

// State is a snapshot of the authentication state.
type State struct {
	Token     string
	TokenType string
	Subject   string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Authenticated reports whether a token is present.
func (s State) Authenticated() bool {
	return s.Token != ""
}

// Options tunes automatic logout.
type Options struct {
	// ExpiryLead logs out this long before the token's exp.
	ExpiryLead time.Duration
	// MinLogoutDelay is the shortest delay scheduled for a still-valid token.
	MinLogoutDelay time.Duration
	Now            func() time.Time
}

func (o *Options) withDefaults() Options {
	out := Options{ExpiryLead: 5 * time.Second, MinLogoutDelay: time.Second, Now: time.Now}
	if o == nil {
		return out
	}
	if o.ExpiryLead > 0 {
		out.ExpiryLead = o.ExpiryLead
	}
	if o.MinLogoutDelay > 0 {
		out.MinLogoutDelay = o.MinLogoutDelay
	}
	if o.Now != nil {
		out.Now = o.Now
	}
	return out
}

// Provider owns the current token. Create one per application root.
type Provider struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	timer   *time.Timer
	subs    map[int]func(State)
	nextSub int
}

// NewProvider creates an unauthenticated provider.
func NewProvider(opts *Options, log *zap.Logger) *Provider {
	return &Provider{
		opts:   opts.withDefaults(),
		logger: logger.OrNop(log).With(zap.String("module", "auth")),
		subs:   make(map[int]func(State)),
	}
}

// Current returns the current state.
func (p *Provider) Current() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Token returns the current bearer token, or "" when logged out.
func (p *Provider) Token() string {
	return p.Current().Token
}

// SetToken installs a token and schedules logout ahead of its expiry. The
// token's claims are read without signature verification; the server is the
// authority on validity.
func (p *Provider) SetToken(token, tokenType string) {
	if token == "" {
		p.Logout()
		return
	}
	if tokenType == "" {
		tokenType = "bearer"
	}

	next := State{Token: token, TokenType: tokenType}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		p.logger.Warn("token claims unreadable, no automatic logout", zap.Error(err))
	} else {
		next.Subject = claims.Subject
		if claims.ExpiresAt != nil {
			next.ExpiresAt = claims.ExpiresAt.Time
		}
	}

	now := p.opts.Now()
	if !next.ExpiresAt.IsZero() && !next.ExpiresAt.After(now) {
		p.logger.Info("token already expired")
		p.Logout()
		return
	}

	p.mu.Lock()
	p.stopTimerLocked()
	p.state = next
	if !next.ExpiresAt.IsZero() {
		delay := next.ExpiresAt.Sub(now) - p.opts.ExpiryLead
		if delay < p.opts.MinLogoutDelay {
			delay = p.opts.MinLogoutDelay
		}
		p.timer = time.AfterFunc(delay, func() { p.expire(token) })
	}
	p.mu.Unlock()

	p.publish(next)
}

// Logout clears the token.
func (p *Provider) Logout() {
	p.mu.Lock()
	p.stopTimerLocked()
	was := p.state.Authenticated()
	p.state = State{}
	p.mu.Unlock()

	if was {
		p.logger.Info("logged out")
	}
	p.publish(State{})
}

// HandleUnauthorized is called when a request was rejected with 401.
func (p *Provider) HandleUnauthorized() {
	p.logger.Warn("request unauthorized, forcing logout")
	p.Logout()
}

// Subscribe registers fn for every state change and returns its removal.
func (p *Provider) Subscribe(fn func(State)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Close stops the expiry timer.
func (p *Provider) Close() {
	p.mu.Lock()
	p.stopTimerLocked()
	p.mu.Unlock()
}

func (p *Provider) expire(token string) {
	p.mu.Lock()
	current := p.state.Token == token
	p.mu.Unlock()
	if !current {
		return
	}
	p.logger.Info("token expiring, logging out")
	p.Logout()
}

func (p *Provider) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Provider) publish(s State) {
	p.mu.Lock()
	subs := make([]func(State), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

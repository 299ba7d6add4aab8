// Package session holds the client's single source of truth for the current
// quote session and mediates optimistic local edits against authoritative
// server pushes.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/channel"
	"github.com/zhouzirui/quotesync/internal/logger"
	"github.com/zhouzirui/quotesync/internal/model/quote"
)

var (
	ErrNoSession       = errors.New("no current session")
	ErrScenarioMissing = errors.New("scenario not found")
	ErrItemMissing     = errors.New("line item not found")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrNotConfigured   = errors.New("collaborator not configured")
)

// Status is the store's load state.
type Status int

const (
	Idle Status = iota
	Loading
	Ready
	Error
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// Fetcher loads a session by id.
type Fetcher interface {
	Fetch(ctx context.Context, sessionID string) (*quote.Session, error)
}

// Saver persists a session and returns the canonical copy.
type Saver interface {
	Save(ctx context.Context, session *quote.Session) (*quote.Session, error)
}

// Emitter sends events over the push channel.
type Emitter interface {
	Emit(ev channel.Event) error
}

// Registrar is the handler registration half of a channel.
type Registrar interface {
	On(event channel.EventName, h channel.Handler)
	Off(event channel.EventName, h channel.Handler)
}

// Snapshot is an immutable view of the store. Session must not be modified.
type Snapshot struct {
	Session   *quote.Session
	Status    Status
	Err       string
	RoundTrip time.Duration

	version uint64
}

// Options wires the store's collaborators.
type Options struct {
	Fetcher Fetcher
	Saver   Saver
	Emitter Emitter
	UserID  string
	Now     func() time.Time
}

// Store is safe for concurrent use.
type Store struct {
	fetcher Fetcher
	saver   Saver
	emitter Emitter
	userID  string
	now     func() time.Time
	logger  *zap.Logger

	mu        sync.Mutex
	session   *quote.Session
	status    Status
	errMsg    string
	roundTrip time.Duration
	// pendingSent is when the last unanswered update left; nil once answered.
	pendingSent *time.Time
	lastSentID  string
	lastSentRev int64

	// version counts committed changes; publish never delivers a snapshot
	// older than one it already delivered.
	version uint64

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	pubMu     sync.Mutex
	published uint64
}

// NewStore creates an idle store.
func NewStore(opts Options, log *zap.Logger) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		fetcher: opts.Fetcher,
		saver:   opts.Saver,
		emitter: opts.Emitter,
		userID:  opts.UserID,
		now:     now,
		logger:  logger.OrNop(log).With(zap.String("module", "session")),
		subs:    make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current view.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Session: s.session, Status: s.status, Err: s.errMsg, RoundTrip: s.roundTrip, version: s.version}
}

// commitLocked records a state change and returns the snapshot to publish.
func (s *Store) commitLocked() Snapshot {
	s.version++
	return s.snapshotLocked()
}

// Subscribe registers fn to run after every state change and returns a
// function that removes it. Subscribers are called one snapshot at a time
// and never see an older snapshot after a newer one. fn must not call back
// into the store's mutating methods or Subscribe.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// LoadInitialSession installs a fresh empty session. It never fails.
func (s *Store) LoadInitialSession() {
	s.mu.Lock()
	s.session = quote.NewSession(s.userID)
	s.status = Ready
	s.errMsg = ""
	s.pendingSent = nil
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Debug("initial session created", zap.String("session_id", snap.Session.ID))
	s.publish(snap)
}

// LoadExistingSession fetches id and replaces the current session with it.
// On failure the previous session is kept and the store enters Error.
// Concurrent loads are not coalesced; whichever response lands last wins.
func (s *Store) LoadExistingSession(ctx context.Context, id string) error {
	s.begin(true)

	if s.fetcher == nil {
		return s.fail("load session", ErrNotConfigured)
	}
	fetched, err := s.fetcher.Fetch(ctx, id)
	if err != nil {
		return s.fail("load session", err)
	}

	next := fetched.Clone()
	next.Thinking = false

	s.mu.Lock()
	s.session = next
	s.status = Ready
	s.pendingSent = nil
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info("session loaded", zap.String("session_id", next.ID))
	s.publish(snap)
	return nil
}

// SaveSession persists session. Success replaces the current session with
// the server's canonical copy; failure leaves local state untouched.
func (s *Store) SaveSession(ctx context.Context, session *quote.Session) error {
	if session == nil {
		return ErrNoSession
	}
	s.begin(false)

	if s.saver == nil {
		return s.fail("save session", ErrNotConfigured)
	}
	saved, err := s.saver.Save(ctx, session.Clone())
	if err != nil {
		return s.fail("save session", err)
	}

	next := saved.Clone()
	next.UnsavedChanges = false

	s.mu.Lock()
	s.session = next
	s.status = Ready
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info("session saved", zap.String("session_id", next.ID))
	s.publish(snap)
	return nil
}

// SendUpdate optimistically installs session, marks it as awaiting the
// server and emits it. It does not wait for a reply.
func (s *Store) SendUpdate(session *quote.Session) error {
	if session == nil {
		return ErrNoSession
	}
	now := s.now()
	next := session.Clone()
	next.Thinking = true
	next.LastSentAt = quote.EpochMillis(now)

	s.mu.Lock()
	rev := next.Revision
	if next.ID == s.lastSentID && s.lastSentRev > rev {
		rev = s.lastSentRev
	}
	if s.session != nil && s.session.ID == next.ID && s.session.Revision > rev {
		rev = s.session.Revision
	}
	next.Revision = rev + 1
	s.lastSentID = next.ID
	s.lastSentRev = next.Revision
	s.session = next
	s.pendingSent = &now
	if s.status == Idle {
		s.status = Ready
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)

	if s.emitter == nil {
		return nil
	}
	if err := s.emitter.Emit(channel.QuoteUpdatedClient{Session: next}); err != nil {
		s.logger.Error("emit update", zap.String("session_id", next.ID), zap.Error(err))
		return err
	}
	s.logger.Debug("update sent", zap.String("session_id", next.ID), zap.Int64("revision", next.Revision))
	return nil
}

// ApplyRemoteUpdate replaces the current session with an authoritative copy
// from the server. A push older than the last revision sent for the same
// session is dropped.
func (s *Store) ApplyRemoteUpdate(session *quote.Session) {
	if session == nil {
		return
	}
	now := s.now()

	s.mu.Lock()
	if session.Revision != 0 && session.ID == s.lastSentID && session.Revision < s.lastSentRev {
		sent := s.lastSentRev
		s.mu.Unlock()
		s.logger.Warn("dropping stale remote update",
			zap.String("session_id", session.ID),
			zap.Int64("revision", session.Revision),
			zap.Int64("last_sent", sent))
		return
	}

	next := session.Clone()
	next.Thinking = false
	next.LastReceivedAt = quote.EpochMillis(now)
	next.LastSentAt = nil

	var rt time.Duration
	measured := false
	if s.pendingSent != nil {
		rt = now.Sub(*s.pendingSent)
		s.roundTrip = rt
		s.pendingSent = nil
		measured = true
	}
	s.session = next
	if s.status == Idle {
		s.status = Ready
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	if measured {
		s.logger.Info("round trip", zap.String("session_id", next.ID), zap.Duration("latency", rt))
	}
	s.publish(snap)
}

// AppendUserMessage adds a user chat turn and sends the result.
func (s *Store) AppendUserMessage(content string) error {
	current := s.Snapshot().Session
	if current == nil {
		return ErrNoSession
	}
	next := current.Clone()
	next.ChatMessages = append(next.ChatMessages, quote.NewMessage(next.ID, quote.RoleUser, content, s.now()))
	return s.SendUpdate(next)
}

// SetQuantity changes one line item's quantity, recalculates the summary and
// sends the result.
func (s *Store) SetQuantity(scenarioID, itemID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	current := s.Snapshot().Session
	if current == nil {
		return ErrNoSession
	}

	next := current.Clone()
	sc, ok := next.Scenario(scenarioID)
	if !ok || sc.Quote == nil {
		return ErrScenarioMissing
	}
	item, ok := sc.Quote.Item(itemID)
	if !ok {
		return ErrItemMissing
	}
	item.Quantity = qty
	sc.Quote.Recalculate()
	next.UnsavedChanges = true
	return s.SendUpdate(next)
}

// MarkModified flags session as having unsaved edits and sends it.
func (s *Store) MarkModified(session *quote.Session) error {
	if session == nil {
		return ErrNoSession
	}
	next := session.Clone()
	next.UnsavedChanges = true
	return s.SendUpdate(next)
}

// Bind registers the store's listeners on r and returns a function that
// removes them.
func (s *Store) Bind(r Registrar) func() {
	updated := channel.Listen(func(ev channel.QuoteUpdated) {
		s.ApplyRemoteUpdate(ev.Session)
	})
	serverErr := channel.Listen(func(ev channel.ServerError) {
		s.remoteFailure(ev.Message)
	})
	unknown := channel.Listen(func(ev channel.UnknownEvent) {
		s.logger.Warn("server did not recognise event", zap.String("event", ev.Event))
	})

	r.On(channel.EventQuoteUpdated, updated)
	r.On(channel.EventError, serverErr)
	r.On(channel.EventUnknown, unknown)

	return func() {
		r.Off(channel.EventQuoteUpdated, updated)
		r.Off(channel.EventError, serverErr)
		r.Off(channel.EventUnknown, unknown)
	}
}

func (s *Store) remoteFailure(msg string) {
	if msg == "" {
		msg = "server error"
	}
	s.mu.Lock()
	s.status = Error
	s.errMsg = msg
	if s.session != nil && s.session.Thinking {
		next := s.session.Clone()
		next.Thinking = false
		s.session = next
	}
	s.pendingSent = nil
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Warn("server reported error", zap.String("message", msg))
	s.publish(snap)
}

// begin clears the previous error at the start of a network-backed attempt.
func (s *Store) begin(loading bool) {
	s.mu.Lock()
	s.errMsg = ""
	if loading {
		s.status = Loading
	} else if s.status == Error {
		s.status = Ready
	}
	snap := s.commitLocked()
	s.mu.Unlock()
	s.publish(snap)
}

func (s *Store) fail(op string, err error) error {
	s.mu.Lock()
	s.status = Error
	s.errMsg = err.Error()
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Warn(op+" failed", zap.Error(err))
	s.publish(snap)
	return err
}

func (s *Store) publish(snap Snapshot) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if snap.version <= s.published {
		return
	}
	s.published = snap.version

	s.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

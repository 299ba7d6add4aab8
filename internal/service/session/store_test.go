package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/quotesync/internal/channel"
	"github.com/zhouzirui/quotesync/internal/diff"
	"github.com/zhouzirui/quotesync/internal/model/quote"
	"github.com/zhouzirui/quotesync/internal/service/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []channel.Event
}

func (e *recordingEmitter) Emit(ev channel.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) last() channel.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		return nil
	}
	return e.events[len(e.events)-1]
}

type fakeAPI struct {
	fetched *quote.Session
	saved   *quote.Session
	err     error
}

func (f *fakeAPI) Fetch(_ context.Context, id string) (*quote.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := f.fetched.Clone()
	out.ID = id
	return out, nil
}

func (f *fakeAPI) Save(_ context.Context, s *quote.Session) (*quote.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.saved = s.Clone()
	return s.Clone(), nil
}

type fakeRegistrar struct {
	handlers map[channel.EventName][]channel.Handler
}

func newRegistrar() *fakeRegistrar {
	return &fakeRegistrar{handlers: map[channel.EventName][]channel.Handler{}}
}

func (r *fakeRegistrar) On(name channel.EventName, h channel.Handler) {
	r.handlers[name] = append(r.handlers[name], h)
}

func (r *fakeRegistrar) Off(name channel.EventName, h channel.Handler) {
	list := r.handlers[name]
	for i, existing := range list {
		if existing == h {
			r.handlers[name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (r *fakeRegistrar) deliver(ev channel.Event) {
	for _, h := range r.handlers[ev.Name()] {
		h.HandleEvent(ev)
	}
}

func sampleSession() *quote.Session {
	return &quote.Session{
		ID:           "sess-1",
		ChatMessages: []quote.ChatMessage{},
		Scenarios: []quote.Scenario{{
			ID:    "base",
			Label: "Base",
			Quote: &quote.Quote{
				Items: []quote.LineItem{
					{ID: "A", UnitPrice: 10, Quantity: 1, Currency: quote.CurrencyUSD, LeadTime: quote.Instant()},
					{ID: "B", UnitPrice: 5, Quantity: 2, Currency: quote.CurrencyUSD, LeadTime: quote.Days(3)},
				},
				Summary: &quote.PricingSummary{Currency: quote.CurrencyUSD, Subtotal: 20, Total: 20},
			},
		}},
	}
}

func TestLoadInitialSession(t *testing.T) {
	store := session.NewStore(session.Options{UserID: "u1"}, nil)
	assert.Equal(t, session.Idle, store.Snapshot().Status)

	store.LoadInitialSession()
	snap := store.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, session.Ready, snap.Status)
	assert.NotEmpty(t, snap.Session.ID)
	assert.Equal(t, "u1", snap.Session.UserID)
	assert.Empty(t, snap.Session.ChatMessages)
	assert.Empty(t, snap.Session.Scenarios)
	assert.False(t, snap.Session.Thinking)
	assert.False(t, snap.Session.UnsavedChanges)
}

func TestLoadExistingSession(t *testing.T) {
	fetched := sampleSession()
	fetched.Thinking = true
	api := &fakeAPI{fetched: fetched}
	store := session.NewStore(session.Options{Fetcher: api}, nil)

	var statuses []session.Status
	store.Subscribe(func(s session.Snapshot) { statuses = append(statuses, s.Status) })

	require.NoError(t, store.LoadExistingSession(context.Background(), "sess-9"))
	snap := store.Snapshot()
	assert.Equal(t, "sess-9", snap.Session.ID)
	assert.False(t, snap.Session.Thinking, "thinking is forced off after a load")
	assert.Equal(t, []session.Status{session.Loading, session.Ready}, statuses)
}

func TestLoadFailureKeepsPriorSessionAndClearsOnRetry(t *testing.T) {
	api := &fakeAPI{fetched: sampleSession(), err: errors.New("network down")}
	store := session.NewStore(session.Options{Fetcher: api}, nil)
	store.LoadInitialSession()
	before := store.Snapshot().Session

	err := store.LoadExistingSession(context.Background(), "x")
	require.Error(t, err)
	snap := store.Snapshot()
	assert.Equal(t, session.Error, snap.Status)
	assert.Equal(t, "network down", snap.Err)
	assert.Same(t, before, snap.Session)

	api.err = nil
	var sawCleared bool
	store.Subscribe(func(s session.Snapshot) {
		if s.Status == session.Loading && s.Err == "" {
			sawCleared = true
		}
	})
	require.NoError(t, store.LoadExistingSession(context.Background(), "x"))
	assert.True(t, sawCleared)
	assert.Empty(t, store.Snapshot().Err)
}

func TestSendUpdateIsOptimistic(t *testing.T) {
	clock := newClock()
	em := &recordingEmitter{}
	store := session.NewStore(session.Options{Emitter: em, Now: clock.Now}, nil)

	input := sampleSession()
	require.NoError(t, store.SendUpdate(input))

	snap := store.Snapshot()
	assert.True(t, snap.Session.Thinking)
	require.NotNil(t, snap.Session.LastSentAt)
	assert.Equal(t, clock.Now().UnixMilli(), *snap.Session.LastSentAt)
	assert.Equal(t, int64(1), snap.Session.Revision)
	assert.False(t, input.Thinking, "caller's value is not mutated")

	sent, ok := em.last().(channel.QuoteUpdatedClient)
	require.True(t, ok)
	assert.Same(t, snap.Session, sent.Session)
}

func TestRoundTripMeasuredOnce(t *testing.T) {
	clock := newClock()
	store := session.NewStore(session.Options{Emitter: &recordingEmitter{}, Now: clock.Now}, nil)

	require.NoError(t, store.SendUpdate(sampleSession()))
	clock.Advance(250 * time.Millisecond)
	store.ApplyRemoteUpdate(store.Snapshot().Session)

	snap := store.Snapshot()
	assert.Equal(t, 250*time.Millisecond, snap.RoundTrip)
	assert.False(t, snap.Session.Thinking)
	assert.Nil(t, snap.Session.LastSentAt)
	require.NotNil(t, snap.Session.LastReceivedAt)
	assert.Equal(t, clock.Now().UnixMilli(), *snap.Session.LastReceivedAt)

	clock.Advance(time.Second)
	store.ApplyRemoteUpdate(snap.Session)
	assert.Equal(t, 250*time.Millisecond, store.Snapshot().RoundTrip, "a push without a pending send does not re-measure")
}

func TestStaleRemoteRevisionDropped(t *testing.T) {
	store := session.NewStore(session.Options{Emitter: &recordingEmitter{}}, nil)

	require.NoError(t, store.SendUpdate(sampleSession()))
	second := store.Snapshot().Session.Clone()
	second.Title = "second"
	require.NoError(t, store.SendUpdate(second))
	assert.Equal(t, int64(2), store.Snapshot().Session.Revision)

	stale := sampleSession()
	stale.Revision = 1
	stale.Title = "stale"
	store.ApplyRemoteUpdate(stale)
	assert.Equal(t, "second", store.Snapshot().Session.Title)
	assert.True(t, store.Snapshot().Session.Thinking)

	untracked := sampleSession()
	untracked.Title = "server without revisions"
	store.ApplyRemoteUpdate(untracked)
	assert.Equal(t, "server without revisions", store.Snapshot().Session.Title)
}

func TestSaveSession(t *testing.T) {
	api := &fakeAPI{}
	store := session.NewStore(session.Options{Saver: api}, nil)
	local := sampleSession()
	local.UnsavedChanges = true

	require.NoError(t, store.SaveSession(context.Background(), local))
	snap := store.Snapshot()
	assert.False(t, snap.Session.UnsavedChanges)
	assert.Equal(t, session.Ready, snap.Status)
	require.NotNil(t, api.saved)
}

func TestSaveFailureLeavesLocalState(t *testing.T) {
	api := &fakeAPI{err: errors.New("503")}
	store := session.NewStore(session.Options{Saver: api, Emitter: &recordingEmitter{}}, nil)
	require.NoError(t, store.MarkModified(sampleSession()))

	err := store.SaveSession(context.Background(), store.Snapshot().Session)
	require.Error(t, err)
	snap := store.Snapshot()
	assert.Equal(t, session.Error, snap.Status)
	assert.Equal(t, "503", snap.Err)
	assert.True(t, snap.Session.UnsavedChanges)
}

func TestMissingCollaboratorsBecomeErrors(t *testing.T) {
	store := session.NewStore(session.Options{}, nil)
	assert.ErrorIs(t, store.LoadExistingSession(context.Background(), "x"), session.ErrNotConfigured)
	assert.Equal(t, session.Error, store.Snapshot().Status)
}

func TestLocalEditHelpers(t *testing.T) {
	em := &recordingEmitter{}
	store := session.NewStore(session.Options{Emitter: em}, nil)
	assert.ErrorIs(t, store.AppendUserMessage("hi"), session.ErrNoSession)

	require.NoError(t, store.SendUpdate(sampleSession()))
	require.NoError(t, store.AppendUserMessage("add a router"))
	msg, ok := store.Snapshot().Session.LastUserMessage()
	require.True(t, ok)
	assert.Equal(t, "add a router", msg.Content)
	assert.Equal(t, "sess-1", msg.SessionID)

	assert.ErrorIs(t, store.SetQuantity("base", "A", 0), session.ErrInvalidQuantity)
	assert.ErrorIs(t, store.SetQuantity("nope", "A", 2), session.ErrScenarioMissing)
	assert.ErrorIs(t, store.SetQuantity("base", "Z", 2), session.ErrItemMissing)

	require.NoError(t, store.SetQuantity("base", "A", 4))
	q := store.Snapshot().Session.Scenarios[0].Quote
	assert.Equal(t, 4, q.Items[0].Quantity)
	assert.InDelta(t, 50, q.Summary.Total, 1e-9)
	assert.True(t, store.Snapshot().Session.UnsavedChanges)
	assert.Len(t, em.events, 3)
}

func TestBindRoutesChannelEvents(t *testing.T) {
	reg := newRegistrar()
	store := session.NewStore(session.Options{Emitter: &recordingEmitter{}}, nil)
	unbind := store.Bind(reg)

	require.NoError(t, store.SendUpdate(sampleSession()))
	reg.deliver(channel.ServerError{Message: "invalid quote"})
	snap := store.Snapshot()
	assert.Equal(t, session.Error, snap.Status)
	assert.Equal(t, "invalid quote", snap.Err)
	assert.False(t, snap.Session.Thinking)

	pushed := sampleSession()
	pushed.Title = "pushed"
	reg.deliver(channel.QuoteUpdated{Session: pushed})
	assert.Equal(t, "pushed", store.Snapshot().Session.Title)

	unbind()
	assert.Empty(t, reg.handlers[channel.EventQuoteUpdated])
	assert.Empty(t, reg.handlers[channel.EventError])
	assert.Empty(t, reg.handlers[channel.EventUnknown])
}

func TestUnsubscribe(t *testing.T) {
	store := session.NewStore(session.Options{}, nil)
	calls := 0
	unsubscribe := store.Subscribe(func(session.Snapshot) { calls++ })
	store.LoadInitialSession()
	unsubscribe()
	store.LoadInitialSession()
	assert.Equal(t, 1, calls)
}

func TestQuantityEditEndToEnd(t *testing.T) {
	clock := newClock()
	em := &recordingEmitter{}
	reg := newRegistrar()
	store := session.NewStore(session.Options{Emitter: em, Now: clock.Now}, nil)
	store.Bind(reg)

	tracker := diff.NewSessionTracker()
	var latest map[string]diff.Changes
	store.Subscribe(func(s session.Snapshot) {
		// Only confirmed versions are diffed.
		if !s.Session.Thinking {
			latest = tracker.Observe(s.Session)
		}
	})

	store.ApplyRemoteUpdate(sampleSession())
	assert.True(t, latest["base"].Empty())

	edited := store.Snapshot().Session.Clone()
	edited.Scenarios[0].Quote.Items[0].Quantity = 3
	require.NoError(t, store.SendUpdate(edited))

	local := store.Snapshot().Session
	assert.Equal(t, 3, local.Scenarios[0].Quote.Items[0].Quantity)
	assert.True(t, local.Thinking)

	echo := em.last().(channel.QuoteUpdatedClient).Session.Clone()
	echo.Scenarios[0].Quote.Recalculate()
	clock.Advance(80 * time.Millisecond)
	reg.deliver(channel.QuoteUpdated{Session: echo})

	snap := store.Snapshot()
	assert.False(t, snap.Session.Thinking)
	assert.Equal(t, 80*time.Millisecond, snap.RoundTrip)
	assert.InDelta(t, 40, snap.Session.Scenarios[0].Quote.Summary.Total, 1e-9)

	changes := latest["base"]
	assert.Equal(t, diff.CellChanges{Qty: true}, changes.Cells("A"))
	assert.False(t, changes.Row("B"))
	assert.True(t, changes.Total)
}

func TestSubscribersEndOnLatestSnapshot(t *testing.T) {
	store := session.NewStore(session.Options{}, nil)

	var (
		mu        sync.Mutex
		delivered *quote.Session
	)
	store.Subscribe(func(s session.Snapshot) {
		mu.Lock()
		delivered = s.Session
		mu.Unlock()
	})

	for i := 0; i < 200; i++ {
		local := sampleSession()
		remote := sampleSession()
		remote.Title = "remote"

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.SendUpdate(local))
		}()
		go func() {
			defer wg.Done()
			store.ApplyRemoteUpdate(remote)
		}()
		wg.Wait()

		mu.Lock()
		last := delivered
		mu.Unlock()
		require.Same(t, store.Snapshot().Session, last, "iteration %d", i)
	}
}

// Package channel implements the typed push channel between the client and
// the quote server. Outbound events are queued while the transport is not
// open and flushed in order on the next successful Connect; inbound frames are
// decoded into a closed set of events and dispatched to registered handlers.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/logger"
)

// State is the connection state of a Channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "disconnected"
	}
}

var (
	// ErrTokenRequired is returned by Connect when called without a token.
	ErrTokenRequired = errors.New("connect called without token")
	// ErrConnectAborted is returned by Connect when Disconnect ran while dialing.
	ErrConnectAborted = errors.New("connect aborted by disconnect")
)

// Channel is a reconnect-capable duplex event channel. The zero value is not
// usable; construct with New.
type Channel struct {
	baseURL string
	dialer  Dialer
	logger  *zap.Logger

	mu    sync.Mutex
	state State
	conn  Conn
	// gen increments on every connect attempt and disconnect so stale dials
	// and read loops can tell they no longer own the connection.
	gen   uint64
	queue [][]byte

	hmu      sync.RWMutex
	handlers map[EventName][]Handler

	smu          sync.Mutex
	stateSubs    map[int]func(State)
	nextStateSub int
}

// New creates a disconnected channel for baseURL.
func New(baseURL string, dialer Dialer, log *zap.Logger) *Channel {
	if dialer == nil {
		dialer = NewWebsocketDialer(nil)
	}
	return &Channel{
		baseURL:   baseURL,
		dialer:    dialer,
		logger:    logger.OrNop(log).With(zap.String("module", "channel")),
		handlers:  make(map[EventName][]Handler),
		stateSubs: make(map[int]func(State)),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of frames waiting for the next open transport.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Connect opens the transport with token. It is a no-op while a connection
// is already being established or open. On open the queued frames are
// flushed in FIFO order before any later Emit can write.
func (c *Channel) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrTokenRequired
	}

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.state = Connecting
	c.mu.Unlock()
	c.notifyState(Connecting)

	conn, err := c.dialer.Dial(ctx, withToken(c.baseURL, token))

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		c.logger.Debug("discarding dial superseded by disconnect")
		return ErrConnectAborted
	}
	if err != nil {
		c.state = Disconnected
		c.mu.Unlock()
		c.notifyState(Disconnected)
		c.logger.Warn("connect failed", zap.Error(err))
		return err
	}

	c.conn = conn
	c.state = Open
	flushed, flushErr := c.flushLocked()
	var stale Conn
	if flushErr != nil {
		stale = c.dropLocked()
	}
	c.mu.Unlock()

	c.notifyState(Open)
	if flushErr != nil {
		_ = stale.Close()
		c.notifyState(Disconnected)
		c.logger.Warn("flush failed, connection dropped", zap.Error(flushErr), zap.Int("flushed", flushed))
		return fmt.Errorf("flush queued frames: %w", flushErr)
	}

	c.logger.Info("channel open", zap.Int("flushed", flushed))
	go c.readLoop(gen, conn)
	return nil
}

// Disconnect closes the transport if open and clears the outbound queue.
// Frames still queued are dropped; callers must treat them as not delivered.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	prev := c.state
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = Disconnected
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("close transport", zap.Error(err))
		}
	}
	if prev != Disconnected {
		c.notifyState(Disconnected)
		c.logger.Info("channel disconnected", zap.Int("dropped", dropped))
	}
}

// Emit sends ev immediately when the transport is open, otherwise queues it
// for the next successful Connect. Only encoding failures are returned; there
// is no delivery acknowledgement.
func (c *Channel) Emit(ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != Open || c.conn == nil {
		c.queue = append(c.queue, data)
		c.mu.Unlock()
		return nil
	}

	if err := c.conn.WriteMessage(data); err != nil {
		c.queue = append(c.queue, data)
		stale := c.dropLocked()
		c.mu.Unlock()

		_ = stale.Close()
		c.notifyState(Disconnected)
		c.logger.Warn("write failed, frame re-queued", zap.String("event", string(ev.Name())), zap.Error(err))
		return nil
	}
	c.mu.Unlock()
	return nil
}

// On registers h for event. Registering the same handler twice is a no-op.
func (c *Channel) On(event EventName, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	for _, existing := range c.handlers[event] {
		if existing == h {
			return
		}
	}
	c.handlers[event] = append(c.handlers[event], h)
}

// Off removes h from event.
func (c *Channel) Off(event EventName, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	list := c.handlers[event]
	for i, existing := range list {
		if existing == h {
			c.handlers[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

// OnStateChange registers fn to observe state transitions and returns a
// function that removes it.
func (c *Channel) OnStateChange(fn func(State)) func() {
	c.smu.Lock()
	id := c.nextStateSub
	c.nextStateSub++
	c.stateSubs[id] = fn
	c.smu.Unlock()

	return func() {
		c.smu.Lock()
		delete(c.stateSubs, id)
		c.smu.Unlock()
	}
}

// flushLocked writes queued frames in order. On a write failure the unsent
// frames stay queued. Callers hold c.mu.
func (c *Channel) flushLocked() (int, error) {
	for i, data := range c.queue {
		if err := c.conn.WriteMessage(data); err != nil {
			c.queue = c.queue[i:]
			return i, err
		}
	}
	n := len(c.queue)
	c.queue = nil
	return n, nil
}

// dropLocked detaches the current connection and returns it for closing
// outside the lock. Callers hold c.mu.
func (c *Channel) dropLocked() Conn {
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = Disconnected
	return conn
}

func (c *Channel) owns(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.gen == gen
			if current {
				c.dropLocked()
			}
			c.mu.Unlock()

			_ = conn.Close()
			if current {
				c.notifyState(Disconnected)
				c.logger.Warn("transport closed", zap.Error(err))
			}
			return
		}

		ev, err := Decode(data)
		if err != nil {
			c.logger.Warn("dropping inbound frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if !c.owns(gen) {
			return
		}
		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev Event) {
	c.hmu.RLock()
	handlers := append([]Handler(nil), c.handlers[ev.Name()]...)
	c.hmu.RUnlock()

	for _, h := range handlers {
		c.invoke(h, ev)
	}
}

func (c *Channel) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", zap.String("event", string(ev.Name())), zap.Any("panic", r))
		}
	}()
	h.HandleEvent(ev)
}

func (c *Channel) notifyState(s State) {
	c.smu.Lock()
	subs := make([]func(State), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		subs = append(subs, fn)
	}
	c.smu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

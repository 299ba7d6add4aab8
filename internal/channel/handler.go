package channel

// Handler receives inbound events. Implementations must be comparable
// (typically pointers) because registration has set semantics.
type Handler interface {
	HandleEvent(Event)
}

// Listener adapts a typed callback to Handler. The returned pointer is the
// identity used by On and Off.
type Listener[T Event] struct {
	fn func(T)
}

// Listen wraps fn so it only receives events of type T.
func Listen[T Event](fn func(T)) *Listener[T] {
	return &Listener[T]{fn: fn}
}

// HandleEvent implements Handler.
func (l *Listener[T]) HandleEvent(ev Event) {
	if v, ok := ev.(T); ok {
		l.fn(v)
	}
}

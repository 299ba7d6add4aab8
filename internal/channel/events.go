package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zhouzirui/quotesync/internal/model/quote"
)

// EventName is the wire name carried in the "event" field of a frame.
type EventName string

const (
	// EventQuoteUpdated carries the authoritative session pushed by the server.
	EventQuoteUpdated EventName = "QUOTE_UPDATED"
	// EventQuoteUpdatedClient carries a locally edited session to the server.
	EventQuoteUpdatedClient EventName = "QUOTE_UPDATED_CLIENT"
	// EventError reports a server-side failure handling a client frame.
	EventError EventName = "ERROR"
	// EventUnknown is the server's reply to an event it does not recognise.
	EventUnknown EventName = "UNKNOWN_EVENT"
)

var (
	// ErrMalformedFrame covers frames that are not JSON or carry no event name.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnrecognizedEvent covers well-formed frames naming an event outside the known set.
	ErrUnrecognizedEvent = errors.New("unrecognized event")
)

// Event is the closed set of messages the channel understands.
type Event interface {
	Name() EventName
	payload() any
}

// QuoteUpdated is pushed by the server with the full authoritative session.
type QuoteUpdated struct {
	Session *quote.Session
}

// QuoteUpdatedClient is sent to the server with the full locally edited session.
type QuoteUpdatedClient struct {
	Session *quote.Session
}

// ServerError carries the server's description of a failure.
type ServerError struct {
	Message string
}

// UnknownEvent echoes the event name the server did not recognise.
type UnknownEvent struct {
	Event string
}

func (QuoteUpdated) Name() EventName       { return EventQuoteUpdated }
func (QuoteUpdatedClient) Name() EventName { return EventQuoteUpdatedClient }
func (ServerError) Name() EventName        { return EventError }
func (UnknownEvent) Name() EventName       { return EventUnknown }

func (e QuoteUpdated) payload() any       { return e.Session }
func (e QuoteUpdatedClient) payload() any { return e.Session }
func (e ServerError) payload() any        { return e.Message }
func (e UnknownEvent) payload() any       { return e.Event }

type frame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode renders ev as a {"event","data"} frame.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev.payload())
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Name(), err)
	}
	return json.Marshal(frame{Event: ev.Name(), Data: data})
}

// Decode parses a frame into one of the known event variants. Anything that
// does not decode cleanly into a known variant is rejected.
func Decode(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}

	switch f.Event {
	case EventQuoteUpdated, EventQuoteUpdatedClient:
		session, err := decodeSession(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Event, err)
		}
		if f.Event == EventQuoteUpdated {
			return QuoteUpdated{Session: session}, nil
		}
		return QuoteUpdatedClient{Session: session}, nil
	case EventError:
		return ServerError{Message: decodeText(f.Data)}, nil
	case EventUnknown:
		return UnknownEvent{Event: decodeText(f.Data)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedEvent, f.Event)
	}
}

func decodeSession(data json.RawMessage) (*quote.Session, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, errors.New("missing session payload")
	}
	var session quote.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	if err := quote.Validate(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// decodeText accepts a JSON string and falls back to the raw JSON text.
func decodeText(data json.RawMessage) string {
	if len(data) == 0 || string(data) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}

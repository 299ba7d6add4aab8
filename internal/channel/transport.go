package channel

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrUnauthorized is returned by a Dialer when the server rejects the token.
var ErrUnauthorized = errors.New("transport rejected credentials")

// Conn is an open duplex transport carrying text frames.
type Conn interface {
	// ReadMessage blocks until the next frame or a transport error.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Close shuts the transport down gracefully. It must be safe to call
	// concurrently with ReadMessage and more than once.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// withToken appends the bearer token as a "token" query parameter.
func withToken(base, token string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

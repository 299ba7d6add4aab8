// Package session stores quote sessions for the development server.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zhouzirui/quotesync/internal/config"
	"github.com/zhouzirui/quotesync/internal/model/quote"
)

// ErrNotFound is returned when no session is stored under an id.
var ErrNotFound = errors.New("session not found")

// Repository persists whole sessions keyed by id.
type Repository interface {
	Get(ctx context.Context, id string) (*quote.Session, error)
	Save(ctx context.Context, s *quote.Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// New selects the backend named in cfg.
func New(cfg config.ServerConfig) (Repository, error) {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	switch cfg.SessionStore {
	case "", "memory":
		return NewMemoryRepository(ttl), nil
	case "redis":
		return NewRedisRepository(cfg.RedisURL, ttl)
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

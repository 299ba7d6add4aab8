package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/zhouzirui/quotesync/internal/model/quote"
)

// MemoryRepository keeps sessions in process. Each save restarts the TTL.
type MemoryRepository struct {
	cache *cache.Cache
}

// NewMemoryRepository creates an empty in-process repository.
func NewMemoryRepository(ttl time.Duration) *MemoryRepository {
	return &MemoryRepository{cache: cache.New(ttl, 10*time.Minute)}
}

// Get returns a copy of the stored session or ErrNotFound.
func (r *MemoryRepository) Get(_ context.Context, id string) (*quote.Session, error) {
	x, found := r.cache.Get(id)
	if !found {
		return nil, ErrNotFound
	}
	return x.(*quote.Session).Clone(), nil
}

// Save stores a copy of s.
func (r *MemoryRepository) Save(_ context.Context, s *quote.Session) error {
	r.cache.Set(s.ID, s.Clone(), cache.DefaultExpiration)
	return nil
}

// Delete removes the session with id.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.cache.Delete(id)
	return nil
}

// Close drops every stored session.
func (r *MemoryRepository) Close() error {
	r.cache.Flush()
	return nil
}

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/quotesync/internal/config"
	"github.com/zhouzirui/quotesync/internal/model/quote"
	"github.com/zhouzirui/quotesync/internal/repository/session"
)

func sample() *quote.Session {
	return &quote.Session{
		ID:    "sess-1",
		Title: "Acme",
		Scenarios: []quote.Scenario{{
			ID: "base",
			Quote: &quote.Quote{Items: []quote.LineItem{
				{ID: "A", UnitPrice: 10, Quantity: 2, Currency: quote.CurrencyUSD, LeadTime: quote.Days(5)},
			}},
		}},
	}
}

func exercise(t *testing.T, repo session.Repository) {
	t.Helper()
	ctx := context.Background()

	_, err := repo.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, session.ErrNotFound)

	original := sample()
	require.NoError(t, repo.Save(ctx, original))
	original.Title = "mutated after save"

	got, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Title)
	assert.Equal(t, quote.Days(5), got.Scenarios[0].Quote.Items[0].LeadTime)

	require.NoError(t, repo.Delete(ctx, "sess-1"))
	_, err = repo.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestMemoryRepository(t *testing.T) {
	repo := session.NewMemoryRepository(time.Minute)
	defer repo.Close()
	exercise(t, repo)
}

func TestRedisRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	repo, err := session.NewRedisRepository("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Ping(context.Background()))
	exercise(t, repo)
}

func TestRedisRepositoryExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	repo, err := session.NewRedisRepository("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Save(context.Background(), sample()))
	assert.Equal(t, time.Minute, mr.TTL("quote:session:sess-1"))

	mr.FastForward(2 * time.Minute)
	_, err = repo.Get(context.Background(), "sess-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestNewSelectsBackend(t *testing.T) {
	repo, err := session.New(config.ServerConfig{SessionStore: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &session.MemoryRepository{}, repo)

	mr := miniredis.RunT(t)
	repo, err = session.New(config.ServerConfig{SessionStore: "redis", RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &session.RedisRepository{}, repo)
	_ = repo.Close()

	_, err = session.New(config.ServerConfig{SessionStore: "etcd"})
	assert.Error(t, err)
}

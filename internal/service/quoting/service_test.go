package quoting_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/quotesync/internal/model/quote"
	repo "github.com/zhouzirui/quotesync/internal/repository/session"
	"github.com/zhouzirui/quotesync/internal/service/quoting"
)

func newService() (*quoting.Service, repo.Repository) {
	r := repo.NewMemoryRepository(time.Hour)
	return quoting.NewService(r, nil), r
}

func TestGetSessionSeedsUnknownID(t *testing.T) {
	svc, r := newService()
	ctx := context.Background()

	got, err := svc.GetSession(ctx, "alice", "sess-7")
	require.NoError(t, err)
	assert.Equal(t, "sess-7", got.ID)
	assert.Equal(t, "alice", got.UserID)
	require.Len(t, got.Scenarios, 3)
	assert.NoError(t, quote.Validate(got))

	stored, err := r.Get(ctx, "sess-7")
	require.NoError(t, err)
	assert.Equal(t, got.Title, stored.Title)
	assert.Equal(t, "sess-7", stored.ChatMessages[0].SessionID)
}

func TestGetSessionReturnsStored(t *testing.T) {
	svc, r := newService()
	ctx := context.Background()
	require.NoError(t, r.Save(ctx, &quote.Session{ID: "s", Title: "mine"}))

	got, err := svc.GetSession(ctx, "alice", "s")
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Title)
}

func TestSaveSessionClearsFlags(t *testing.T) {
	svc, _ := newService()
	saved, err := svc.SaveSession(context.Background(), &quote.Session{ID: "s", UnsavedChanges: true, Thinking: true})
	require.NoError(t, err)
	assert.False(t, saved.UnsavedChanges)
	assert.False(t, saved.Thinking)

	_, err = svc.SaveSession(context.Background(), &quote.Session{})
	assert.Error(t, err)
}

func TestApplyClientUpdateRepricesAndAnswers(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	session, err := svc.GetSession(ctx, "alice", "")
	require.NoError(t, err)

	edited := session.Clone()
	balanced, ok := edited.Scenario(quoting.ScenarioBalanced)
	require.True(t, ok)
	balanced.Quote.Items[0].Quantity = 3
	edited.ChatMessages = append(edited.ChatMessages, quote.NewMessage(edited.ID, quote.RoleUser, "three routers please", time.Now()))
	edited.Thinking = true

	out, err := svc.ApplyClientUpdate(ctx, edited)
	require.NoError(t, err)
	assert.False(t, out.Thinking)

	b, _ := out.Scenario(quoting.ScenarioBalanced)
	assert.InDelta(t, 3*500+120, b.Quote.Summary.Total, 1e-9)

	last := out.ChatMessages[len(out.ChatMessages)-1]
	assert.Equal(t, quote.RoleAssistant, last.Role)
	assert.Contains(t, last.Content, "three routers please")
	assert.Equal(t, "Balanced Solution", out.Title)

	again, err := svc.ApplyClientUpdate(ctx, out)
	require.NoError(t, err)
	assert.Len(t, again.ChatMessages, len(out.ChatMessages), "no reply when the last message is not from the user")
}

func TestApplyClientUpdateRejectsInvalid(t *testing.T) {
	svc, _ := newService()
	bad := &quote.Session{ID: "s", Scenarios: []quote.Scenario{{ID: "x", Quote: &quote.Quote{Items: []quote.LineItem{
		{ID: "i", UnitPrice: 1, Quantity: 0, Currency: quote.CurrencyUSD, LeadTime: quote.Instant()},
	}}}}}
	_, err := svc.ApplyClientUpdate(context.Background(), bad)
	assert.Error(t, err)
}

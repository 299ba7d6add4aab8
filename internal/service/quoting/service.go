// Package quoting is the server side of the quote conversation used by the
// development server: it stores sessions, recomputes pricing and answers
// client edits.
package quoting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/logger"
	"github.com/zhouzirui/quotesync/internal/model/quote"
	repo "github.com/zhouzirui/quotesync/internal/repository/session"
)

var ErrSessionRequired = errors.New("session is required")

// Service answers session reads, saves and client updates.
type Service struct {
	sessions  repo.Repository
	assistant Assistant
	now       func() time.Time
	logger    *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithAssistant answers user messages with a. Without it, or when a fails,
// the service replies with a short acknowledgement.
func WithAssistant(a Assistant) Option {
	return func(s *Service) { s.assistant = a }
}

// NewService creates a service backed by sessions.
func NewService(sessions repo.Repository, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		now:      time.Now,
		logger:   logger.OrNop(log).With(zap.String("module", "quoting")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSession returns the stored session. Unknown or empty ids get a freshly
// seeded sample session that is stored under the requested id.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*quote.Session, error) {
	if sessionID != "" {
		stored, err := s.sessions.Get(ctx, sessionID)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	seeded := SampleSession(userID, s.now())
	if sessionID != "" {
		seeded.ID = sessionID
		for i := range seeded.ChatMessages {
			seeded.ChatMessages[i].SessionID = sessionID
		}
	}
	if err := s.sessions.Save(ctx, seeded); err != nil {
		return nil, err
	}
	s.logger.Info("seeded sample session", zap.String("session_id", seeded.ID), zap.String("user", userID))
	return seeded, nil
}

// SaveSession stores session and returns the canonical copy.
func (s *Service) SaveSession(ctx context.Context, session *quote.Session) (*quote.Session, error) {
	if session == nil {
		return nil, ErrSessionRequired
	}
	if err := quote.Validate(session); err != nil {
		return nil, err
	}

	canonical := session.Clone()
	canonical.UnsavedChanges = false
	canonical.Thinking = false
	if err := s.sessions.Save(ctx, canonical); err != nil {
		return nil, err
	}
	return canonical, nil
}

// ApplyClientUpdate recomputes every quote summary, answers the latest user
// message and stores the result.
func (s *Service) ApplyClientUpdate(ctx context.Context, session *quote.Session) (*quote.Session, error) {
	if session == nil {
		return nil, ErrSessionRequired
	}
	if err := quote.Validate(session); err != nil {
		return nil, err
	}

	next := session.Clone()
	for i := range next.Scenarios {
		if q := next.Scenarios[i].Quote; q != nil {
			q.Recalculate()
		}
	}

	if msg, ok := next.LastUserMessage(); ok {
		reply := s.reply(ctx, next, msg)
		next.ChatMessages = append(next.ChatMessages, quote.NewMessage(next.ID, quote.RoleAssistant, reply, s.now()))
	}
	if balanced, ok := next.Scenario(ScenarioBalanced); ok && balanced.Quote != nil && balanced.Quote.Header.Title != "" {
		next.Title = balanced.Quote.Header.Title
	}
	next.Thinking = false

	if err := s.sessions.Save(ctx, next); err != nil {
		return nil, err
	}
	s.logger.Debug("client update applied",
		zap.String("session_id", next.ID),
		zap.Int64("revision", next.Revision),
		zap.Int("scenarios", len(next.Scenarios)))
	return next, nil
}

func (s *Service) reply(ctx context.Context, session *quote.Session, msg quote.ChatMessage) string {
	if s.assistant == nil {
		return acknowledge(session, msg)
	}
	reply, err := s.assistant.Reply(ctx, session, msg)
	if err != nil {
		s.logger.Warn("assistant reply failed, acknowledging instead", zap.String("session_id", session.ID), zap.Error(err))
		return acknowledge(session, msg)
	}
	return reply
}

func acknowledge(s *quote.Session, msg quote.ChatMessage) string {
	priced := 0
	for _, sc := range s.Scenarios {
		if sc.Quote != nil && sc.Quote.Summary != nil {
			priced++
		}
	}
	if priced == 0 {
		return fmt.Sprintf("Noted: %q. No scenarios are priced yet.", msg.Content)
	}
	return fmt.Sprintf("Noted: %q. Repriced %d scenario(s).", msg.Content, priced)
}

package quote

import (
	"time"

	"github.com/google/uuid"
)

// Session is the whole quoting conversation for one thread: chat history plus
// the scenario tabs. A Session value is treated as immutable once published;
// writers build a new version with Clone and replace the reference.
type Session struct {
	ID             string        `json:"id" validate:"required"`
	UserID         string        `json:"userId"`
	ChatMessages   []ChatMessage `json:"chatMessages" validate:"dive"`
	Scenarios      []Scenario    `json:"scenarios" validate:"dive"`
	Title          string        `json:"title"`
	Thinking       bool          `json:"thinking"`
	UnsavedChanges bool          `json:"unsavedChanges"`
	Revision       int64         `json:"revision,omitempty" validate:"gte=0"`
	LastSentAt     *int64        `json:"lastSentAt,omitempty"`
	LastReceivedAt *int64        `json:"lastReceivedAt,omitempty"`
}

// Scenario is one alternative quote configuration, shown as a tab.
type Scenario struct {
	ID    string `json:"id" validate:"required"`
	Label string `json:"label"`
	Quote *Quote `json:"quote"`
}

// NewSession returns an empty session with a fresh random id.
func NewSession(userID string) *Session {
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		ChatMessages: []ChatMessage{},
		Scenarios:    []Scenario{},
	}
}

// Clone returns a deep copy so the receiver can stay untouched.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.ChatMessages = append([]ChatMessage(nil), s.ChatMessages...)
	if s.ChatMessages != nil && out.ChatMessages == nil {
		out.ChatMessages = []ChatMessage{}
	}
	out.Scenarios = make([]Scenario, len(s.Scenarios))
	for i, sc := range s.Scenarios {
		out.Scenarios[i] = Scenario{ID: sc.ID, Label: sc.Label, Quote: sc.Quote.Clone()}
	}
	out.LastSentAt = cloneInt64(s.LastSentAt)
	out.LastReceivedAt = cloneInt64(s.LastReceivedAt)
	return &out
}

// Scenario looks up a scenario by id.
func (s *Session) Scenario(id string) (*Scenario, bool) {
	for i := range s.Scenarios {
		if s.Scenarios[i].ID == id {
			return &s.Scenarios[i], true
		}
	}
	return nil, false
}

// LastUserMessage returns the newest chat message when it was written by the user.
func (s *Session) LastUserMessage() (ChatMessage, bool) {
	if len(s.ChatMessages) == 0 {
		return ChatMessage{}, false
	}
	last := s.ChatMessages[len(s.ChatMessages)-1]
	if last.Role != RoleUser {
		return ChatMessage{}, false
	}
	return last, true
}

// EpochMillis converts t to the millisecond timestamps carried on Session.
func EpochMillis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

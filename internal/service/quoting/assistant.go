package quoting

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/quotesync/internal/model/quote"
)

// historyLimit caps the chat turns sent to the model, the new user turn excluded.
const historyLimit = 10

// Assistant writes the assistant turn that answers a user message.
type Assistant interface {
	Reply(ctx context.Context, session *quote.Session, msg quote.ChatMessage) (string, error)
}

// ModelAssistant answers through a chat model with the priced scenarios in
// its system prompt.
type ModelAssistant struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewModelAssistant compiles the prompt chain around chatModel.
func NewModelAssistant(ctx context.Context, chatModel model.ChatModel) (*ModelAssistant, error) {
	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile assistant chain: %w", err)
	}
	return &ModelAssistant{chain: runnable}, nil
}

// Reply runs the chain for msg. An empty model answer is an error.
func (a *ModelAssistant) Reply(ctx context.Context, session *quote.Session, msg quote.ChatMessage) (string, error) {
	out, err := a.chain.Invoke(ctx, map[string]any{
		"system":  systemPrompt(session),
		"history": history(session.ChatMessages),
		"query":   msg.Content,
	})
	if err != nil {
		return "", fmt.Errorf("run assistant chain: %w", err)
	}
	reply := strings.TrimSpace(out.Content)
	if reply == "" {
		return "", fmt.Errorf("assistant returned an empty reply")
	}
	return reply, nil
}

func systemPrompt(s *quote.Session) string {
	var b strings.Builder
	b.WriteString("You are a sales engineering assistant helping a customer build a quote. ")
	b.WriteString("Answer briefly and only from the scenarios below; never invent prices.\n")

	if len(s.Scenarios) == 0 {
		b.WriteString("\nNo scenarios have been priced yet.")
		return b.String()
	}
	for _, sc := range s.Scenarios {
		label := sc.Label
		if label == "" {
			label = sc.ID
		}
		fmt.Fprintf(&b, "\nScenario %s:", label)
		if sc.Quote == nil {
			b.WriteString(" not priced yet.")
			continue
		}
		for _, it := range sc.Quote.Items {
			fmt.Fprintf(&b, "\n- %s x%d at %.2f %s (lead time %s)", it.Product, it.Quantity, it.UnitPrice, it.Currency, it.LeadTime)
		}
		if sum := sc.Quote.Summary; sum != nil {
			fmt.Fprintf(&b, "\n  total %.2f %s", sum.Total, sum.Currency)
		}
	}
	return b.String()
}

// history converts the turns before the newest user message.
func history(messages []quote.ChatMessage) []*schema.Message {
	if n := len(messages); n > 0 && messages[n-1].Role == quote.RoleUser {
		messages = messages[:n-1]
	}
	if len(messages) > historyLimit {
		messages = messages[len(messages)-historyLimit:]
	}

	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case quote.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case quote.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		}
	}
	return out
}

// Package chat holds the concierge conversation: an append-only log and the
// bridge that turns one user question into one model call.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joelkehle/cancer-navigator/internal/apperr"
	"github.com/joelkehle/cancer-navigator/internal/catalog"
	"github.com/joelkehle/cancer-navigator/internal/llm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	Unavailable = "The assistant is unavailable right now. Please try again shortly."

	maxMessageRunes = 4000
)

type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type Log []Message

// Append returns a new log with msgs added. The receiver's backing array is
// never written to.
func (l Log) Append(msgs ...Message) Log {
	out := make(Log, 0, len(l)+len(msgs))
	out = append(out, l...)
	return append(out, msgs...)
}

type Bridge struct {
	model  llm.Caller
	logger *zap.Logger
	now    func() time.Time
}

func NewBridge(model llm.Caller, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{model: model, logger: logger, now: time.Now}
}

// Submit appends the question and exactly one assistant reply. Model failures
// become the Unavailable reply; only an empty or oversized message is an
// error, and then log is returned unchanged.
func (b *Bridge) Submit(ctx context.Context, log Log, p catalog.Profile, message string) (Log, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return log, apperr.UnsupportedInput("message must not be empty")
	}
	if len([]rune(message)) > maxMessageRunes {
		return log, apperr.UnsupportedInput(fmt.Sprintf("message must be at most %d characters", maxMessageRunes))
	}

	out := log.Append(Message{Role: RoleUser, Content: message, At: b.now().UTC()})
	reply, err := b.ask(ctx, p, message)
	if err != nil {
		b.logger.Warn("chat generation failed", zap.String("cancer_type", p.CancerType), zap.Error(err))
		reply = Unavailable
	}
	return out.Append(Message{Role: RoleAssistant, Content: reply, At: b.now().UTC()}), nil
}

func (b *Bridge) ask(ctx context.Context, p catalog.Profile, message string) (string, error) {
	if b.model == nil {
		return "", fmt.Errorf("chat model not configured")
	}
	return b.model.Generate(ctx, llm.Prompt{Text: Prompt(p, message)})
}

func Prompt(p catalog.Profile, message string) string {
	return fmt.Sprintf("Context: %s, %s, %s, %s. Question: %s", p.Organ, p.CancerType, p.Grade, p.Mutation, message)
}

// Package llm is the language-model collaborator: one Generate call that takes
// a text prompt with an optional image and returns text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"

	DefaultGeminiModel    = "gemini-2.0-flash"
	DefaultAnthropicModel = "claude-sonnet-4-5"

	defaultSystemPrompt = "You are an oncology information assistant for patients and caregivers. Be factual and concise, say when data is uncertain, and never give a diagnosis or treatment instruction."
)

var tracer = otel.Tracer("github.com/joelkehle/cancer-navigator/internal/llm")

var statusCodeRe = regexp.MustCompile(`status(?:\s+code)?[:=\s]+(\d{3})`)

// Image is an inline image attached to a prompt.
type Image struct {
	MediaType string
	Data      []byte
}

type Prompt struct {
	System string
	Text   string
	Image  *Image
}

func (p Prompt) system() string {
	if strings.TrimSpace(p.System) != "" {
		return p.System
	}
	return defaultSystemPrompt
}

type Caller interface {
	Generate(ctx context.Context, p Prompt) (string, error)
	ModelName() string
}

type FailureClass int

const (
	FailureUnknown FailureClass = iota
	FailureTimeout
	FailureRateLimit
	FailureServer
	FailureClient
	FailureEmpty
)

func (c FailureClass) String() string {
	switch c {
	case FailureTimeout:
		return "timeout"
	case FailureRateLimit:
		return "rate_limit"
	case FailureServer:
		return "server"
	case FailureClient:
		return "client"
	case FailureEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// ServiceError is returned for every failed Generate call, whatever the
// provider. Callers convert it to a fallback message.
type ServiceError struct {
	Provider string
	Class    FailureClass
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s %s failure: %v", e.Provider, e.Class, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

var errEmptyResponse = errors.New("empty response")

func serviceError(provider string, err error) *ServiceError {
	if errors.Is(err, errEmptyResponse) {
		return &ServiceError{Provider: provider, Class: FailureEmpty, Err: err}
	}
	return &ServiceError{Provider: provider, Class: classifyTransportError(err), Err: err}
}

type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// New builds the caller for cfg.Provider.
func New(cfg Config) (Caller, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		c, err := NewGeminiCaller(GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderAnthropic:
		c, err := NewAnthropicCaller(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func classifyTransportError(err error) FailureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		switch {
		case m[1] == "429":
			return FailureRateLimit
		case strings.HasPrefix(m[1], "5"):
			return FailureServer
		case strings.HasPrefix(m[1], "4"):
			return FailureClient
		}
	}
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"):
		return FailureRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "api key"):
		return FailureClient
	default:
		return FailureServer
	}
}

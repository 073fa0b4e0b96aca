package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiCaller talks to the generateContent REST endpoint directly.
type GeminiCaller struct {
	cfg GeminiConfig
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiCaller(cfg GeminiConfig) (*GeminiCaller, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key not configured")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &GeminiCaller{cfg: cfg}, nil
}

func (g *GeminiCaller) ModelName() string { return g.cfg.Model }

func (g *GeminiCaller) Generate(ctx context.Context, p Prompt) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.provider", ProviderGemini),
		attribute.String("llm.model", g.cfg.Model),
		attribute.Bool("llm.image", p.Image != nil),
	))
	defer span.End()

	out, err := g.generate(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generateContent failed")
		return "", serviceError(ProviderGemini, err)
	}
	return out, nil
}

func (g *GeminiCaller) generate(ctx context.Context, p Prompt) (string, error) {
	parts := make([]geminiPart, 0, 2)
	if p.Image != nil {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: p.Image.MediaType,
			Data:     base64.StdEncoding.EncodeToString(p.Image.Data),
		}})
	}
	parts = append(parts, geminiPart{Text: p.Text})
	payload, err := json.Marshal(geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: p.system()}}},
		Contents:          []geminiContent{{Role: "user", Parts: parts}},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	res, err := g.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if res.StatusCode >= 400 {
		return "", fmt.Errorf("status code: %d body=%s", res.StatusCode, truncate(string(body), 512))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode generateContent response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", errEmptyResponse
	}
	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", errEmptyResponse
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

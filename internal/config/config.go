// Package config reads process settings from the environment. A local .env
// file, when present, is loaded first and acts as the secret store.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joelkehle/cancer-navigator/internal/apperr"
	"github.com/joelkehle/cancer-navigator/internal/llm"
	"github.com/joelkehle/cancer-navigator/internal/report"
	"github.com/joelkehle/cancer-navigator/internal/session"
	"github.com/joelkehle/cancer-navigator/internal/trials"
)

type Config struct {
	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMBaseURL  string

	EncryptionKey string

	TrialsBaseURL  string
	TrialsPageSize int
	TrialsMaxBytes int

	SessionTTL time.Duration
	SessionDB  string

	LogFile string

	OTelEnabled  bool
	OTelEndpoint string
}

// Load reads .env files (missing files are fine) and then the environment.
// Variables already set in the environment win over .env entries.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		LLMProvider:   strings.ToLower(getEnv("LLM_PROVIDER", llm.ProviderGemini)),
		LLMModel:      os.Getenv("LLM_MODEL"),
		LLMBaseURL:    os.Getenv("LLM_BASE_URL"),
		EncryptionKey: strings.TrimSpace(os.Getenv("ENCRYPTION_KEY")),
		TrialsBaseURL: getEnv("TRIALS_BASE_URL", trials.DefaultBaseURL),
		SessionDB:     os.Getenv("SESSION_DB"),
		LogFile:       os.Getenv("LOG_FILE"),
		OTelEnabled:   strings.EqualFold(getEnv("OTEL_ENABLED", "false"), "true"),
		OTelEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var errs []error
	switch cfg.LLMProvider {
	case llm.ProviderGemini:
		cfg.LLMAPIKey = firstEnv("LLM_API_KEY", "GEMINI_API_KEY")
	case llm.ProviderAnthropic:
		cfg.LLMAPIKey = firstEnv("LLM_API_KEY", "ANTHROPIC_API_KEY")
	default:
		errs = append(errs, apperr.ConfigurationMissing(fmt.Sprintf("LLM_PROVIDER must be %q or %q, got %q", llm.ProviderGemini, llm.ProviderAnthropic, cfg.LLMProvider)))
	}
	if cfg.LLMAPIKey == "" && len(errs) == 0 {
		errs = append(errs, apperr.ConfigurationMissing(fmt.Sprintf("LLM_API_KEY (or the %s provider key) is not set", cfg.LLMProvider)))
	}
	if cfg.EncryptionKey == "" {
		errs = append(errs, apperr.ConfigurationMissing("ENCRYPTION_KEY is not set"))
	}

	var err error
	if cfg.TrialsPageSize, err = intEnv("TRIALS_PAGE_SIZE", trials.DefaultPageSize); err != nil {
		errs = append(errs, err)
	}
	cfg.TrialsPageSize = trials.ClampPageSize(cfg.TrialsPageSize)
	if cfg.TrialsMaxBytes, err = intEnv("TRIALS_MAX_BYTES", report.DefaultMaxTrialsBytes); err != nil {
		errs = append(errs, err)
	}
	minutes, err := intEnv("SESSION_TTL_MINUTES", int(session.DefaultTTL/time.Minute))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.SessionTTL = time.Duration(minutes) * time.Minute

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperr.ConfigurationMissing(fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
	}
	return n, nil
}

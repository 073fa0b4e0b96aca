// Package trials queries the public ClinicalTrials.gov v2 studies endpoint and
// returns the raw JSON document.
package trials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL  = "https://clinicaltrials.gov"
	StudiesPath     = "/api/v2/studies"
	DefaultPageSize = 6
	MinPageSize     = 5
	MaxPageSize     = 8

	maxResponseBytes = 4 << 20
)

var tracer = otel.Tracer("github.com/joelkehle/cancer-navigator/internal/trials")

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

type Query struct {
	Condition string
	Term      string
	PageSize  int
}

// StatusError is returned when the endpoint answers with HTTP >= 400.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status code: %d body=%s", e.StatusCode, e.Body)
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg}
}

// ClampPageSize bounds n to MinPageSize..MaxPageSize; zero or negative means
// DefaultPageSize.
func ClampPageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n < MinPageSize:
		return MinPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

// Search runs one request; there is no retry. A non-JSON body is an error.
func (c *Client) Search(ctx context.Context, q Query) (json.RawMessage, error) {
	pageSize := ClampPageSize(q.PageSize)
	ctx, span := tracer.Start(ctx, "trials.search", trace.WithAttributes(
		attribute.String("trials.condition", q.Condition),
		attribute.Int("trials.page_size", pageSize),
	))
	defer span.End()

	if strings.TrimSpace(q.Condition) == "" {
		err := errors.New("trials search requires a condition")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	params := url.Values{}
	params.Set("query.cond", q.Condition)
	if strings.TrimSpace(q.Term) != "" {
		params.Set("query.term", q.Term)
	}
	params.Set("pageSize", strconv.Itoa(pageSize))
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + StudiesPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("trials request: %w", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	if res.StatusCode >= 400 {
		err := &StatusError{StatusCode: res.StatusCode, Body: truncateBody(string(b))}
		span.SetStatus(codes.Error, "bad status")
		return nil, err
	}
	if !json.Valid(b) {
		err := errors.New("trials response is not valid JSON")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return json.RawMessage(b), nil
}

// StudyCount reports len(studies) in a v2 response, or -1 when the field is
// missing.
func StudyCount(doc json.RawMessage) int {
	var body struct {
		Studies []json.RawMessage `json:"studies"`
	}
	if err := json.Unmarshal(doc, &body); err != nil || body.Studies == nil {
		return -1
	}
	return len(body.Studies)
}

func truncateBody(s string) string {
	if len(s) <= 512 {
		return s
	}
	return s[:512] + "..."
}

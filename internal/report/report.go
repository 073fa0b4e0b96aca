// Package report builds the clinical-trials briefing: one trials search, then
// one model call over the raw search document.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/joelkehle/cancer-navigator/internal/apperr"
	"github.com/joelkehle/cancer-navigator/internal/catalog"
	"github.com/joelkehle/cancer-navigator/internal/llm"
	"github.com/joelkehle/cancer-navigator/internal/trials"
)

const (
	DefaultMaxTrialsBytes = 24 << 10
	TruncatedMarker       = "[truncated]"
	DefaultRegion         = "any region"
)

var Sections = []string{"## Top Centers", "## Active Trials", "## Contacts", "## Research Direction"}

type Searcher interface {
	Search(ctx context.Context, q trials.Query) (json.RawMessage, error)
}

type Config struct {
	PageSize       int
	MaxTrialsBytes int
}

type Request struct {
	Profile catalog.Profile
	Region  string
}

type Report struct {
	CancerType  string    `json:"cancer_type"`
	Mutation    string    `json:"mutation"`
	Region      string    `json:"region"`
	Studies     int       `json:"studies"`
	Truncated   bool      `json:"truncated"`
	Model       string    `json:"model"`
	Markdown    string    `json:"markdown"`
	HTML        string    `json:"html"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Generator struct {
	trials Searcher
	model  llm.Caller
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewGenerator(searcher Searcher, model llm.Caller, cfg Config, logger *zap.Logger) *Generator {
	cfg.PageSize = trials.ClampPageSize(cfg.PageSize)
	if cfg.MaxTrialsBytes <= 0 {
		cfg.MaxTrialsBytes = DefaultMaxTrialsBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{trials: searcher, model: model, cfg: cfg, logger: logger, now: time.Now}
}

func (g *Generator) Generate(ctx context.Context, req Request) (Report, error) {
	p := req.Profile
	if strings.TrimSpace(p.CancerType) == "" {
		return Report{}, apperr.UnsupportedInput("select or enter a cancer type before generating a report")
	}
	region := strings.TrimSpace(req.Region)
	if region == "" {
		region = DefaultRegion
	}

	doc, err := g.trials.Search(ctx, trials.Query{Condition: p.CancerType, Term: p.Mutation, PageSize: g.cfg.PageSize})
	if err != nil {
		fields := []zap.Field{zap.String("condition", p.CancerType), zap.Error(err)}
		var se *trials.StatusError
		if errors.As(err, &se) {
			fields = append(fields, zap.Int("status", se.StatusCode))
		}
		g.logger.Warn("trials search failed", fields...)
		return Report{}, apperr.ExternalService("The clinical trials registry could not be reached. No report was generated.", err)
	}
	studies := trials.StudyCount(doc)
	g.logger.Info("trials search completed", zap.String("condition", p.CancerType), zap.Int("studies", studies))

	rep := Report{
		CancerType: p.CancerType,
		Mutation:   p.Mutation,
		Region:     region,
		Studies:    studies,
	}
	// Nothing to summarise: fixed report, no model call.
	if studies == 0 {
		return g.finish(rep, NoTrialsMarkdown(p))
	}

	data, truncated := Cap(doc, g.cfg.MaxTrialsBytes)
	text, err := g.model.Generate(ctx, llm.Prompt{Text: Prompt(p, region, data)})
	if err != nil {
		g.logger.Warn("report generation failed", zap.String("condition", p.CancerType), zap.Error(err))
		return Report{}, apperr.ExternalService("The report could not be generated right now. Please try again shortly.", err)
	}
	rep.Truncated = truncated
	rep.Model = g.model.ModelName()
	return g.finish(rep, text)
}

func (g *Generator) finish(rep Report, md string) (Report, error) {
	html, err := RenderHTML(md)
	if err != nil {
		return Report{}, apperr.Internal("render report", err)
	}
	rep.Markdown = md
	rep.HTML = html
	rep.GeneratedAt = g.now().UTC()
	return rep, nil
}

func NoTrialsMarkdown(p catalog.Profile) string {
	query := p.CancerType
	if strings.TrimSpace(p.Mutation) != "" {
		query += " / " + p.Mutation
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ClinicalTrials.gov returned no matching studies for %s.\n\n", query)
	for _, s := range Sections {
		b.WriteString(s + "\n")
		b.WriteString("No matching trials were found.\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func Prompt(p catalog.Profile, region, trialsData string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient profile: %s, %s, %s, %s. Region: %s.\n", p.Organ, p.CancerType, p.Grade, p.Mutation, region)
	b.WriteString("Using only the ClinicalTrials.gov search results below, write a Markdown report with exactly these sections:\n")
	b.WriteString("## Top Centers\n")
	b.WriteString("## Active Trials (for each trial give the phase, the goal and the link)\n")
	b.WriteString("## Contacts\n")
	b.WriteString("## Research Direction\n")
	b.WriteString("If the results do not support a section, say so plainly. Do not invent trials, centers or contacts.\n\n")
	b.WriteString("Search results (JSON):\n")
	b.WriteString(trialsData)
	return b.String()
}

// Cap returns doc as a string of at most max bytes plus the truncation
// marker. The cut never splits a UTF-8 sequence.
func Cap(doc []byte, max int) (string, bool) {
	if len(doc) <= max {
		return string(doc), false
	}
	n := max
	for n > 0 && !utf8.RuneStart(doc[n]) {
		n--
	}
	return string(doc[:n]) + "\n" + TruncatedMarker, true
}

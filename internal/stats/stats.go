// Package stats turns a resolved profile into the dashboard numbers: a table
// lookup when every tier matched the catalog, a model prompt otherwise.
package stats

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/joelkehle/cancer-navigator/internal/catalog"
	"github.com/joelkehle/cancer-navigator/internal/llm"
)

const (
	SourceCatalog  = "catalog"
	SourceModel    = "model"
	SourceFallback = "fallback"

	Unavailable = "statistics unavailable for this type"

	averageOutlook = 50
	mutantOutlook  = 85
	otherOutlook   = 40
)

type Outlook struct {
	Average int `json:"average"`
	Profile int `json:"profile"`
}

type Stats struct {
	Source           string  `json:"source"`
	Incidence        string  `json:"incidence,omitempty"`
	Risk             string  `json:"risk,omitempty"`
	FiveYearSurvival string  `json:"five_year_survival,omitempty"`
	Outcome          string  `json:"outcome,omitempty"`
	Text             string  `json:"text,omitempty"`
	ProfileLabel     string  `json:"profile_label"`
	Outlook          Outlook `json:"outlook"`
}

type Resolver struct {
	tree   *catalog.Tree
	model  llm.Caller
	logger *zap.Logger
}

func NewResolver(tree *catalog.Tree, model llm.Caller, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{tree: tree, model: model, logger: logger}
}

// Resolve never fails: model errors degrade to the Unavailable sentinel.
func (r *Resolver) Resolve(ctx context.Context, p catalog.Profile) Stats {
	out := Stats{ProfileLabel: p.Label(), Outlook: OutlookFor(p.Mutation)}
	if !p.IsFreeform() {
		organ, _ := r.tree.Stats(p.Organ)
		out.Source = SourceCatalog
		out.Incidence = organ.Incidence
		out.Risk = organ.Risk
		out.FiveYearSurvival = organ.FiveYearSurvival
		out.Outcome = r.tree.Outcome(p.Organ, p.CancerType, p.Grade)
		return out
	}

	if r.model == nil {
		r.logger.Warn("stats model not configured", zap.String("organ", p.Organ))
		out.Source = SourceFallback
		out.Text = Unavailable
		return out
	}
	text, err := r.model.Generate(ctx, llm.Prompt{Text: Prompt(p)})
	if err != nil {
		r.logger.Warn("stats generation failed",
			zap.String("organ", p.Organ),
			zap.String("cancer_type", p.CancerType),
			zap.Error(err),
		)
		out.Source = SourceFallback
		out.Text = Unavailable
		return out
	}
	out.Source = SourceModel
	out.Text = text
	return out
}

func Prompt(p catalog.Profile) string {
	return fmt.Sprintf("Provide current clinical statistics for %s %s %s. Return as 3 bullets: Incidence, Median Progression-Free Survival, 5-Year Survival.",
		p.Organ, p.CancerType, p.Grade)
}

// OutlookFor is the illustrative comparison bar shown next to the stats. It
// is not a clinical estimate.
func OutlookFor(mutation string) Outlook {
	score := otherOutlook
	if strings.Contains(mutation, "Mutant") {
		score = mutantOutlook
	}
	return Outlook{Average: averageOutlook, Profile: score}
}

package imaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/joelkehle/cancer-navigator/internal/llm"
)

const (
	AnalysisPrompt = "Review this medical image. Describe any visually concerning features such as masses, asymmetry, abnormal enhancement or edema, in plain language for a patient. State that this is not a diagnosis and that a radiologist must review the study."

	AnalysisUnavailable = "Image analysis is unavailable right now. Please try again shortly."
)

type Analysis struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

type Analyzer struct {
	model  llm.Caller
	logger *zap.Logger
}

func NewAnalyzer(model llm.Caller, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{model: model, logger: logger}
}

func (a *Analyzer) Analyze(ctx context.Context, scan Scan) Analysis {
	if a.model == nil || len(scan.PNG) == 0 {
		return Analysis{Source: "fallback", Text: AnalysisUnavailable}
	}
	text, err := a.model.Generate(ctx, llm.Prompt{
		Text:  AnalysisPrompt,
		Image: &llm.Image{MediaType: "image/png", Data: scan.PNG},
	})
	if err != nil {
		a.logger.Warn("scan analysis failed", zap.String("format", scan.Format), zap.Error(err))
		return Analysis{Source: "fallback", Text: AnalysisUnavailable}
	}
	return Analysis{Source: "model", Text: text}
}

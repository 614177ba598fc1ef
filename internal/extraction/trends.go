package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/evaluation"
	"github.com/forecast-agent/backend/internal/llm"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/pkg/logger"
)

const (
	InsufficientData          = "Insufficient data for trend analysis"
	InsufficientValidQuarters = "Insufficient valid quarters for comparison"
)

const trendSystemPrompt = `You are a financial analyst comparing quarterly results.
Use only the figures present in the supplied data. Do not introduce numbers, estimates, or projections that are not in the data.
Fields marked "N/A" were not reported; say so instead of guessing.`

const trendPrompt = `Analyze the following financial metrics across quarters and identify key trends:

Quarters Data:
%s

Provide a concise trend analysis covering:
1. Revenue trajectory (growing/declining/stable)
2. Profitability trends
3. Margin performance
4. Notable changes or inflection points

Focus only on what the data explicitly shows.`

type TrendSynthesizer struct {
	llm llm.Inferer
}

func NewTrendSynthesizer(inferer llm.Inferer) *TrendSynthesizer {
	return &TrendSynthesizer{llm: inferer}
}

// Analyze compares the valid records. Fewer than two valid records yields an
// insufficient-data result without an inference call.
func (s *TrendSynthesizer) Analyze(ctx context.Context, records []domain.FinancialMetrics) domain.TrendResult {
	if len(records) < 2 {
		return domain.TrendResult{Analysis: InsufficientData, InsufficientData: true}
	}

	valid := make([]domain.FinancialMetrics, 0, len(records))
	for _, r := range records {
		if r.Valid() {
			valid = append(valid, r)
		}
	}
	if len(valid) < 2 {
		return domain.TrendResult{
			Analysis:         InsufficientValidQuarters,
			QuartersAnalyzed: len(valid),
			InsufficientData: true,
		}
	}

	data, err := json.MarshalIndent(valid, "", "  ")
	if err != nil {
		return s.failed(err)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: trendSystemPrompt,
		UserPrompt:   fmt.Sprintf(trendPrompt, data),
		Temperature:  0.2,
	})
	if err != nil {
		return s.failed(err)
	}

	analysis := strings.TrimSpace(resp.Content)
	result := domain.TrendResult{
		Analysis:         analysis,
		QuartersAnalyzed: len(valid),
	}

	report := evaluation.CheckGrounding(analysis, valid)
	if !report.Grounded() {
		result.UngroundedFigures = report.Ungrounded
		metrics.UngroundedFigures.Add(float64(len(report.Ungrounded)))
		logger.Warn("Trend analysis cites figures absent from the extracted metrics",
			zap.Int("ungrounded", len(report.Ungrounded)),
			zap.Int("checked", report.FiguresChecked),
		)
	}

	logger.Info("Trend analysis completed", zap.Int("quarters_analyzed", len(valid)))
	return result
}

func (s *TrendSynthesizer) failed(err error) domain.TrendResult {
	logger.Error("Error in trend analysis", zap.Error(err))
	return domain.TrendResult{
		Analysis: fmt.Sprintf("Error: %v", err),
		Error:    err.Error(),
	}
}

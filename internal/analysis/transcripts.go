package analysis

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/ingestion"
	"github.com/forecast-agent/backend/internal/vector"
	"github.com/forecast-agent/backend/pkg/logger"
)

const noTranscripts = "No transcripts provided"

// TranscriptAnalyst is the qualitative branch: corpus preparation, a
// per-request semantic index, then facet analysis.
type TranscriptAnalyst struct {
	processor *ingestion.Processor
	builder   vector.Builder
	analyzer  *Analyzer
}

func NewTranscriptAnalyst(processor *ingestion.Processor, builder vector.Builder, analyzer *Analyzer) *TranscriptAnalyst {
	return &TranscriptAnalyst{processor: processor, builder: builder, analyzer: analyzer}
}

// Analyze never returns an error; failures are reported in the result.
func (t *TranscriptAnalyst) Analyze(ctx context.Context, transcripts []domain.RawDocument) domain.QualitativeResult {
	start := time.Now()
	logger.Info("Analyzing transcripts", zap.Int("count", len(transcripts)))

	if len(transcripts) == 0 {
		return failedResult(noTranscripts)
	}

	chunks := t.processor.Prepare(transcripts)

	idx, err := t.builder.Build(ctx, chunks)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, domain.ErrEmptyCorpus) {
			msg = domain.ErrEmptyCorpus.Error()
		}
		logger.Error("Failed to build semantic index", zap.Error(err))
		return failedResult(msg)
	}
	defer func() {
		if err := idx.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release semantic index", zap.Error(err))
		}
	}()

	result := t.analyzer.Analyze(ctx, idx)
	result.TranscriptsAnalyzed = len(transcripts)

	logger.Info("Transcript analysis completed",
		zap.Int("transcripts", len(transcripts)),
		zap.Int("chunks", idx.Len()),
		zap.Int("failed_facets", len(result.FacetErrors)),
		zap.Duration("duration", time.Since(start)),
	)

	return result
}

// failedResult keeps every list present so a degraded branch serializes the
// same shape as a successful one.
func failedResult(msg string) domain.QualitativeResult {
	return domain.QualitativeResult{
		ManagementOutlook: domain.ManagementOutlook{Sources: []string{}},
		RecurringThemes:   []string{},
		Risks:             []string{},
		Opportunities:     []string{},
		Error:             msg,
	}
}

package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/llm"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/internal/vector"
	"github.com/forecast-agent/backend/pkg/logger"
)

const defaultFacetTimeout = 90 * time.Second

type Analyzer struct {
	llm          llm.Inferer
	facetTimeout time.Duration
}

func NewAnalyzer(inferer llm.Inferer, facetTimeout time.Duration) *Analyzer {
	if facetTimeout <= 0 {
		facetTimeout = defaultFacetTimeout
	}
	return &Analyzer{llm: inferer, facetTimeout: facetTimeout}
}

type facetOutput struct {
	text    string
	sources []string
	err     error
}

// Analyze runs every facet concurrently against idx. A failing facet leaves
// an error marker in its slot and does not affect the others.
func (a *Analyzer) Analyze(ctx context.Context, idx vector.Index) domain.QualitativeResult {
	outputs := make([]facetOutput, len(facetSpecs))

	var wg sync.WaitGroup
	for i, spec := range facetSpecs {
		wg.Add(1)
		go func(i int, spec facetSpec) {
			defer wg.Done()
			outputs[i] = a.runFacet(ctx, idx, spec)
		}(i, spec)
	}
	wg.Wait()

	result := domain.QualitativeResult{
		RecurringThemes: []string{},
		Risks:           []string{},
		Opportunities:   []string{},
	}

	for i, spec := range facetSpecs {
		out := outputs[i]
		if out.err != nil {
			marker := fmt.Sprintf("Error: %v", out.err)
			if result.FacetErrors == nil {
				result.FacetErrors = make(map[domain.Facet]string)
			}
			result.FacetErrors[spec.facet] = marker
			metrics.FacetFailures.WithLabelValues(string(spec.facet)).Inc()
			logger.Warn("Facet analysis failed",
				zap.String("facet", string(spec.facet)),
				zap.Error(out.err),
			)

			switch spec.facet {
			case domain.FacetOutlook:
				result.ManagementOutlook = domain.ManagementOutlook{Summary: marker, Sources: []string{}}
			case domain.FacetSentiment:
				result.SentimentSummary = marker
			}
			continue
		}

		switch spec.facet {
		case domain.FacetOutlook:
			result.ManagementOutlook = domain.ManagementOutlook{Summary: out.text, Sources: out.sources}
		case domain.FacetThemes:
			result.RecurringThemes = ParseBullets(out.text, spec.limit)
		case domain.FacetRisks:
			result.Risks = ParseBullets(out.text, spec.limit)
		case domain.FacetOpportunities:
			result.Opportunities = ParseBullets(out.text, spec.limit)
		case domain.FacetSentiment:
			result.SentimentSummary = out.text
		}
	}

	return result
}

func (a *Analyzer) runFacet(ctx context.Context, idx vector.Index, spec facetSpec) facetOutput {
	ctx, cancel := context.WithTimeout(ctx, a.facetTimeout)
	defer cancel()

	start := time.Now()

	hits, err := idx.Query(ctx, spec.query, spec.k)
	if err != nil {
		return facetOutput{err: fmt.Errorf("retrieval failed: %w", err)}
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: spec.system,
		UserPrompt:   fmt.Sprintf(spec.prompt, buildContext(hits)),
	})
	if err != nil {
		return facetOutput{err: err}
	}

	logger.Debug("Facet analyzed",
		zap.String("facet", string(spec.facet)),
		zap.Int("chunks", len(hits)),
		zap.Duration("duration", time.Since(start)),
	)

	out := facetOutput{text: strings.TrimSpace(resp.Content)}
	if spec.facet == domain.FacetOutlook {
		out.sources = sourceTitles(hits, outlookSourceCount)
	}
	return out
}

func buildContext(hits []vector.SearchResult) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Chunk.Content
	}
	return strings.Join(parts, "\n\n")
}

func sourceTitles(hits []vector.SearchResult, n int) []string {
	titles := make([]string, 0, n)
	for i := 0; i < len(hits) && i < n; i++ {
		title := hits[i].Chunk.SourceTitle
		if title == "" {
			title = "Unknown"
		}
		titles = append(titles, title)
	}
	return titles
}

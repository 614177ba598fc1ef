package forecast

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecast-agent/backend/internal/acquisition"
	"github.com/forecast-agent/backend/internal/analysis"
	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/extraction"
	"github.com/forecast-agent/backend/internal/ingestion"
	"github.com/forecast-agent/backend/internal/llm/llmtest"
	"github.com/forecast-agent/backend/internal/vector/memory"
)

func doc(kind domain.DocumentKind, title string) domain.RawDocument {
	return domain.RawDocument{Title: title, URL: "https://docs.example/" + strings.ReplaceAll(title, " ", "-"), Kind: kind}
}

func twoByTwoSource() *fakeSource {
	r1, r2 := doc(domain.KindReport, "Q1 results"), doc(domain.KindReport, "Q2 results")
	t1, t2 := doc(domain.KindTranscript, "Q1 concall"), doc(domain.KindTranscript, "Q2 concall")
	return &fakeSource{
		listing: &acquisition.Listing{
			Reports:     []domain.RawDocument{r1, r2},
			Transcripts: []domain.RawDocument{t1, t2},
		},
		texts: map[string]string{
			r1.URL: "report one", r2.URL: "report two",
			t1.URL: "transcript one", t2.URL: "transcript two",
		},
	}
}

func qualitativeResult() domain.QualitativeResult {
	return domain.QualitativeResult{
		ManagementOutlook:   domain.ManagementOutlook{Summary: "Confident about FY26 demand.", Sources: []string{"Q1 concall"}},
		RecurringThemes:     []string{"GenAI adoption", "Cost optimisation"},
		Risks:               []string{"Tariff uncertainty", "Attrition"},
		Opportunities:       []string{"Vendor consolidation"},
		SentimentSummary:    "Overall sentiment: cautious.",
		TranscriptsAnalyzed: 2,
	}
}

func TestRun_MergesBothBranches(t *testing.T) {
	source := twoByTwoSource()
	extractor := &fakeExtractor{}
	qualitative := &fakeQualitative{result: qualitativeResult()}
	trends := &fakeTrends{result: domain.TrendResult{Analysis: "Revenue grew quarter on quarter.", QuartersAnalyzed: 2}}
	observer := &stageRecorder{}

	o := NewOrchestrator(source, extractor, trends, qualitative)
	result, err := o.Run(context.Background(), "req-1", "TCS", 2, observer)
	require.NoError(t, err)

	assert.Equal(t, "req-1", result.RequestID)
	assert.Equal(t, "TCS", result.Company)
	assert.False(t, result.GeneratedAt.IsZero())
	assert.Empty(t, result.Degradations)

	require.Len(t, extractor.got, 2)
	assert.Equal(t, "report one", extractor.got[0].Text)
	require.Len(t, qualitative.got, 2)
	assert.Equal(t, "transcript two", qualitative.got[1].Text)

	assert.Len(t, result.FinancialTrends.QuarterlyMetrics, 2)
	assert.Equal(t, 2, result.FinancialTrends.QuartersAnalyzed)
	assert.Equal(t, "Revenue grew quarter on quarter.", result.FinancialTrends.TrendAnalysis)

	assert.Equal(t, []domain.RiskOpportunity{
		{Type: domain.RiskTypeRisk, Description: "Tariff uncertainty"},
		{Type: domain.RiskTypeRisk, Description: "Attrition"},
		{Type: domain.RiskTypeOpportunity, Description: "Vendor consolidation"},
	}, result.RisksOpportunities)

	assert.Equal(t, "MANAGEMENT OUTLOOK:\nConfident about FY26 demand.\n\n"+
		"SENTIMENT ANALYSIS:\nOverall sentiment: cautious.\n\n"+
		"RECURRING BUSINESS THEMES:\n- GenAI adoption\n- Cost optimisation\n\n"+
		"FINANCIAL TRAJECTORY:\nRevenue grew quarter on quarter.", result.ForwardOutlook)

	wantStages := []string{"acquiring", "extracting", "analyzing", "synthesizing", "done"}
	assert.Equal(t, wantStages, observer.stages)
	require.Len(t, result.Stages, len(wantStages))
	assert.Equal(t, "done", result.Stages[4].Stage)
}

func TestRun_OmitsFailedDocuments(t *testing.T) {
	source := twoByTwoSource()
	failing := source.listing.Reports[1]
	source.errs = map[string]error{
		failing.URL: &domain.AcquisitionError{Reason: domain.ReasonFetchFailed, Title: failing.Title, Err: errors.New("timeout")},
	}
	source.texts[source.listing.Transcripts[0].URL] = "   "
	extractor := &fakeExtractor{}
	qualitative := &fakeQualitative{result: qualitativeResult()}

	result, err := NewOrchestrator(source, extractor, &fakeTrends{}, qualitative, WithFetchWorkers(1)).
		Run(context.Background(), "req-2", "TCS", 2, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, source.fetchCount())
	require.Len(t, extractor.got, 1)
	assert.Equal(t, "Q1 results", extractor.got[0].Title)
	require.Len(t, qualitative.got, 1)
	assert.Equal(t, "Q2 concall", qualitative.got[0].Title)

	require.Len(t, result.Degradations, 2)
	assert.Contains(t, result.Degradations[0], "Q2 results")
	assert.Contains(t, result.Degradations[0], "fetch_failed")
	assert.Contains(t, result.Degradations[1], "empty_text")
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name      string
		source    *fakeSource
		preflight func() error
		stage     Stage
		target    error
		reason    domain.AcquisitionReason
	}{
		{
			name:      "missing credential",
			source:    twoByTwoSource(),
			preflight: func() error { return &domain.ConfigurationError{Field: "llm.apiKey", Reason: "missing"} },
			stage:     StagePreflight,
			target:    domain.ErrConfiguration,
		},
		{
			name:   "listing unavailable",
			source: &fakeSource{listErr: &domain.AcquisitionError{Reason: domain.ReasonSectionNotFound}},
			stage:  StageAcquiring,
			target: domain.ErrAcquisition,
			reason: domain.ReasonSectionNotFound,
		},
		{
			name: "nothing usable",
			source: &fakeSource{listing: &acquisition.Listing{
				Reports: []domain.RawDocument{doc(domain.KindReport, "Q1 results")},
			}},
			stage:  StageAcquiring,
			target: domain.ErrAcquisition,
			reason: domain.ReasonNoDocuments,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := &fakeExtractor{}
			observer := &stageRecorder{}
			o := NewOrchestrator(tt.source, extractor, &fakeTrends{}, &fakeQualitative{}, WithPreflight(tt.preflight))

			result, err := o.Run(context.Background(), "req-f", "TCS", 2, observer)
			assert.Nil(t, result)
			require.Error(t, err)

			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, "req-f", reqErr.RequestID)
			assert.Equal(t, tt.stage, reqErr.Stage)
			assert.ErrorIs(t, err, tt.target)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, domain.AcquisitionReasonOf(err))
			}

			assert.Nil(t, extractor.got)
			assert.Equal(t, "failed", observer.stages[len(observer.stages)-1])
		})
	}
}

func TestRun_PreflightRunsBeforeAcquisition(t *testing.T) {
	source := twoByTwoSource()
	o := NewOrchestrator(source, &fakeExtractor{}, &fakeTrends{}, &fakeQualitative{},
		WithPreflight(func() error { return &domain.ConfigurationError{Field: "llm.apiKey", Reason: "missing"} }))

	_, err := o.Run(context.Background(), "req-p", "TCS", 2, nil)
	require.Error(t, err)
	assert.Zero(t, source.fetchCount())
}

func TestRun_DegradedBranchesStillProduceFullShape(t *testing.T) {
	source := twoByTwoSource()
	extractor := &fakeExtractor{records: func(docs []domain.RawDocument) []domain.FinancialMetrics {
		return []domain.FinancialMetrics{
			{Quarter: domain.UnknownQuarter, Error: "inference failed", SourceDocument: "Q1 results"},
			{Quarter: "Q2 FY2025", SourceDocument: "Q2 results"},
		}
	}}
	trends := &fakeTrends{result: domain.TrendResult{Analysis: extraction.InsufficientValidQuarters, InsufficientData: true, QuartersAnalyzed: 1}}
	qualitative := &fakeQualitative{result: domain.QualitativeResult{Error: "No valid transcript content to create vector store"}}

	result, err := NewOrchestrator(source, extractor, trends, qualitative).Run(context.Background(), "req-d", "TCS", 2, nil)
	require.NoError(t, err)

	assert.NotNil(t, result.RisksOpportunities)
	assert.Empty(t, result.RisksOpportunities)
	assert.Contains(t, result.ForwardOutlook, "MANAGEMENT OUTLOOK:\nNo outlook data available")
	assert.Contains(t, result.ForwardOutlook, "SENTIMENT ANALYSIS:\nNo sentiment data")
	assert.Contains(t, result.ForwardOutlook, "FINANCIAL TRAJECTORY:\n"+extraction.InsufficientValidQuarters)
	assert.Equal(t, "No valid transcript content to create vector store", result.QualitativeSummary.Error)

	joined := strings.Join(result.Degradations, "\n")
	assert.Contains(t, joined, `metrics extraction failed for "Q1 results"`)
	assert.Contains(t, joined, "trend analysis: "+extraction.InsufficientValidQuarters)
	assert.Contains(t, joined, "qualitative analysis: No valid transcript content")
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	qualitative := &fakeQualitative{}
	extractor := &fakeExtractor{records: func(docs []domain.RawDocument) []domain.FinancialMetrics {
		cancel()
		return nil
	}}

	_, err := NewOrchestrator(twoByTwoSource(), extractor, &fakeTrends{}, qualitative).Run(ctx, "req-c", "TCS", 2, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func endToEndReport(quarter, revenue string) string {
	return "Tata Consultancy Services quarterly results for " + quarter + ". " +
		strings.Repeat("Revenue from operations was "+revenue+" for the quarter, with a stable operating margin. ", 3)
}

// Real extraction, trend and transcript components over scripted inference.
func newEndToEnd(source *fakeSource, inferer *llmtest.Inferer) *Orchestrator {
	processor := ingestion.NewProcessor(ingestion.NewSplitter(ingestion.WithChunkSize(300), ingestion.WithOverlap(50)), domain.MinContentLength)
	analyst := analysis.NewTranscriptAnalyst(processor, memory.NewBuilder(&llmtest.Embedder{}), analysis.NewAnalyzer(inferer, time.Second))
	return NewOrchestrator(source, extraction.NewExtractor(inferer), extraction.NewTrendSynthesizer(inferer), analyst)
}

func TestRun_EndToEndReportsWithoutTranscripts(t *testing.T) {
	r1, r2 := doc(domain.KindReport, "Q1 results"), doc(domain.KindReport, "Q2 results")
	source := &fakeSource{
		listing: &acquisition.Listing{Reports: []domain.RawDocument{r1, r2}},
		texts: map[string]string{
			r1.URL: endToEndReport("Q1 FY2025", "₹62,613 crore"),
			r2.URL: endToEndReport("Q2 FY2025", "₹64,259 crore"),
		},
	}

	metrics := func(quarter, revenue string) string {
		return llmtest.JSON(map[string]any{
			"quarter": quarter, "total_revenue": revenue, "net_profit": "N/A", "operating_margin": "N/A",
			"revenue_growth": "N/A", "profit_growth": "N/A", "key_highlights": []string{},
		})
	}
	inferer := llmtest.NewInferer().
		On("Quarters Data", "Revenue rose from ₹62,613 crore in Q1 FY2025 to ₹64,259 crore in Q2 FY2025.").
		On("Q1 FY2025", metrics("Q1 FY2025", "₹62,613 crore")).
		On("Q2 FY2025", metrics("Q2 FY2025", "₹64,259 crore"))

	result, err := newEndToEnd(source, inferer).Run(context.Background(), "req-e2e", "TCS", 2, nil)
	require.NoError(t, err)

	records := result.FinancialTrends.QuarterlyMetrics
	require.Len(t, records, 2)
	assert.Equal(t, "Q1 FY2025", records[0].Quarter)
	assert.Equal(t, "Q2 FY2025", records[1].Quarter)
	assert.Contains(t, result.FinancialTrends.TrendAnalysis, "Q1 FY2025")
	assert.Contains(t, result.FinancialTrends.TrendAnalysis, "Q2 FY2025")
	assert.Empty(t, result.FinancialTrends.UngroundedFigures)

	assert.Equal(t, "No transcripts provided", result.QualitativeSummary.Error)
	assert.Zero(t, result.QualitativeSummary.TranscriptsAnalyzed)
	assert.Equal(t, 3, inferer.Calls())
}

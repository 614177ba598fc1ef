package forecast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/acquisition"
	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/pkg/logger"
)

type Stage string

const (
	StageAcquiring    Stage = "acquiring"
	StageExtracting   Stage = "extracting"
	StageAnalyzing    Stage = "analyzing"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"

	// StagePreflight only appears in errors; it is not a state of the run.
	StagePreflight Stage = "preflight"
)

const (
	noOutlook   = "No outlook data available"
	noSentiment = "No sentiment data"
)

type DocumentSource interface {
	ListDocuments(ctx context.Context, company string, quarters int) (*acquisition.Listing, error)
	FetchText(ctx context.Context, doc domain.RawDocument) (string, error)
}

type MetricsExtractor interface {
	ExtractAll(ctx context.Context, docs []domain.RawDocument) []domain.FinancialMetrics
}

type TrendAnalyzer interface {
	Analyze(ctx context.Context, records []domain.FinancialMetrics) domain.TrendResult
}

type QualitativeAnalyzer interface {
	Analyze(ctx context.Context, transcripts []domain.RawDocument) domain.QualitativeResult
}

// Observer receives every stage transition of a run.
type Observer interface {
	OnStage(requestID string, record domain.StageRecord)
}

type ObserverFunc func(requestID string, record domain.StageRecord)

func (f ObserverFunc) OnStage(requestID string, record domain.StageRecord) { f(requestID, record) }

type Orchestrator struct {
	source       DocumentSource
	extractor    MetricsExtractor
	trends       TrendAnalyzer
	qualitative  QualitativeAnalyzer
	preflight    func() error
	fetchWorkers int
}

type Option func(*Orchestrator)

// WithPreflight sets a check that runs before acquisition. A failure ends the
// run without touching any collaborator.
func WithPreflight(check func() error) Option {
	return func(o *Orchestrator) {
		o.preflight = check
	}
}

func WithFetchWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.fetchWorkers = n
		}
	}
}

func NewOrchestrator(source DocumentSource, extractor MetricsExtractor, trends TrendAnalyzer, qualitative QualitativeAnalyzer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:       source,
		extractor:    extractor,
		trends:       trends,
		qualitative:  qualitative,
		fetchWorkers: 4,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type run struct {
	requestID string
	observer  Observer
	stages    []domain.StageRecord
}

func (r *run) enter(stage Stage, detail string) {
	record := domain.StageRecord{Stage: string(stage), At: time.Now(), Detail: detail}
	r.stages = append(r.stages, record)

	logger.Info("Forecast stage",
		zap.String("request_id", r.requestID),
		zap.String("stage", string(stage)),
		zap.String("detail", detail),
	)
	if r.observer != nil {
		r.observer.OnStage(r.requestID, record)
	}
}

func (r *run) fail(stage Stage, err error) error {
	metrics.StageFailures.WithLabelValues(string(stage), failureReason(err)).Inc()
	r.enter(StageFailed, err.Error())
	return &RequestError{RequestID: r.requestID, Stage: stage, Err: err}
}

// Run executes one forecast. Partial failures are reported inside the result;
// an error is returned only when the run reaches the failed stage.
func (o *Orchestrator) Run(ctx context.Context, requestID, company string, quarters int, observer Observer) (*domain.ForecastResult, error) {
	r := &run{requestID: requestID, observer: observer}

	if o.preflight != nil {
		if err := o.preflight(); err != nil {
			return nil, r.fail(StagePreflight, err)
		}
	}

	r.enter(StageAcquiring, fmt.Sprintf("company=%s quarters=%d", company, quarters))
	done := timeStage(StageAcquiring)
	reports, transcripts, degradations, err := o.acquire(ctx, company, quarters)
	done()
	if err != nil {
		return nil, r.fail(StageAcquiring, err)
	}

	var (
		wg          sync.WaitGroup
		records     []domain.FinancialMetrics
		trend       domain.TrendResult
		qualitative domain.QualitativeResult
	)

	r.enter(StageExtracting, fmt.Sprintf("%d reports", len(reports)))
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer timeStage(StageExtracting)()
		records = o.extractor.ExtractAll(ctx, reports)
		trend = o.trends.Analyze(ctx, records)
	}()

	r.enter(StageAnalyzing, fmt.Sprintf("%d transcripts", len(transcripts)))
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer timeStage(StageAnalyzing)()
		qualitative = o.qualitative.Analyze(ctx, transcripts)
	}()

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, r.fail(StageSynthesizing, err)
	}

	r.enter(StageSynthesizing, "")
	done = timeStage(StageSynthesizing)
	result := synthesize(company, records, trend, qualitative)
	result.RequestID = requestID
	result.Degradations = append(degradations, collectDegradations(records, trend, qualitative)...)
	done()

	r.enter(StageDone, fmt.Sprintf("%d degradations", len(result.Degradations)))
	result.Stages = r.stages

	if len(result.Degradations) > 0 {
		logger.Warn("Forecast completed with degradations",
			zap.String("request_id", requestID),
			zap.Strings("degradations", result.Degradations),
		)
	}

	return result, nil
}

func timeStage(stage Stage) func() {
	start := time.Now()
	return func() {
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}

type fetched struct {
	doc domain.RawDocument
	err error
}

func (o *Orchestrator) acquire(ctx context.Context, company string, quarters int) (reports, transcripts []domain.RawDocument, degradations []string, err error) {
	listing, err := o.source.ListDocuments(ctx, company, quarters)
	if err != nil {
		return nil, nil, nil, err
	}

	descriptors := append(append([]domain.RawDocument{}, listing.Reports...), listing.Transcripts...)
	results := make([]fetched, len(descriptors))
	sem := make(chan struct{}, o.fetchWorkers)

	var wg sync.WaitGroup
	for i, d := range descriptors {
		wg.Add(1)
		go func(i int, d domain.RawDocument) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			text, err := o.source.FetchText(ctx, d)
			if err == nil && strings.TrimSpace(text) == "" {
				err = &domain.AcquisitionError{Reason: domain.ReasonEmptyText, Title: d.Title, URL: d.URL}
			}
			d.Text = text
			results[i] = fetched{doc: d, err: err}
		}(i, d)
	}
	wg.Wait()

	for _, f := range results {
		if f.err != nil {
			metrics.DocumentsAcquired.WithLabelValues(string(f.doc.Kind), "omitted").Inc()
			logger.Warn("Document omitted",
				zap.String("title", f.doc.Title),
				zap.String("url", f.doc.URL),
				zap.String("reason", string(domain.AcquisitionReasonOf(f.err))),
				zap.Error(f.err),
			)
			degradations = append(degradations, fmt.Sprintf("%s %q omitted: %v", f.doc.Kind, f.doc.Title, f.err))
			continue
		}
		metrics.DocumentsAcquired.WithLabelValues(string(f.doc.Kind), "ok").Inc()
		switch f.doc.Kind {
		case domain.KindTranscript:
			transcripts = append(transcripts, f.doc)
		default:
			reports = append(reports, f.doc)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	if len(reports) == 0 && len(transcripts) == 0 {
		return nil, nil, nil, &domain.AcquisitionError{Reason: domain.ReasonNoDocuments, Title: company}
	}

	logger.Info("Documents acquired",
		zap.String("company", company),
		zap.Int("reports", len(reports)),
		zap.Int("transcripts", len(transcripts)),
		zap.Int("omitted", len(descriptors)-len(reports)-len(transcripts)),
	)

	return reports, transcripts, degradations, nil
}

func synthesize(company string, records []domain.FinancialMetrics, trend domain.TrendResult, q domain.QualitativeResult) *domain.ForecastResult {
	if records == nil {
		records = []domain.FinancialMetrics{}
	}

	return &domain.ForecastResult{
		Company:     company,
		GeneratedAt: time.Now().UTC(),
		FinancialTrends: domain.FinancialTrends{
			QuarterlyMetrics:  records,
			TrendAnalysis:     trend.Analysis,
			QuartersAnalyzed:  len(records),
			InsufficientData:  trend.InsufficientData,
			UngroundedFigures: trend.UngroundedFigures,
		},
		QualitativeSummary: q,
		RisksOpportunities: risksAndOpportunities(q),
		ForwardOutlook:     forwardOutlook(trend, q),
	}
}

// risksAndOpportunities lists every risk, then every opportunity.
func risksAndOpportunities(q domain.QualitativeResult) []domain.RiskOpportunity {
	items := make([]domain.RiskOpportunity, 0, len(q.Risks)+len(q.Opportunities))
	for _, r := range q.Risks {
		items = append(items, domain.RiskOpportunity{Type: domain.RiskTypeRisk, Description: r})
	}
	for _, o := range q.Opportunities {
		items = append(items, domain.RiskOpportunity{Type: domain.RiskTypeOpportunity, Description: o})
	}
	return items
}

func forwardOutlook(trend domain.TrendResult, q domain.QualitativeResult) string {
	outlook := orDefault(q.ManagementOutlook.Summary, noOutlook)
	sentiment := orDefault(q.SentimentSummary, noSentiment)
	trajectory := orDefault(trend.Analysis, "Insufficient data for trend analysis")

	themes := make([]string, 0, len(q.RecurringThemes))
	for _, t := range q.RecurringThemes {
		themes = append(themes, "- "+t)
	}

	var sb strings.Builder
	sb.WriteString("MANAGEMENT OUTLOOK:\n")
	sb.WriteString(outlook)
	sb.WriteString("\n\nSENTIMENT ANALYSIS:\n")
	sb.WriteString(sentiment)
	sb.WriteString("\n\nRECURRING BUSINESS THEMES:\n")
	sb.WriteString(strings.Join(themes, "\n"))
	sb.WriteString("\n\nFINANCIAL TRAJECTORY:\n")
	sb.WriteString(trajectory)

	return strings.TrimSpace(sb.String())
}

func collectDegradations(records []domain.FinancialMetrics, trend domain.TrendResult, q domain.QualitativeResult) []string {
	var out []string

	if len(records) == 0 {
		out = append(out, "no quarterly reports acquired")
	}
	for _, r := range records {
		if !r.Valid() {
			out = append(out, fmt.Sprintf("metrics extraction failed for %q: %s", r.SourceDocument, r.Error))
		}
	}

	switch {
	case trend.Error != "":
		out = append(out, "trend analysis failed: "+trend.Error)
	case trend.InsufficientData:
		out = append(out, "trend analysis: "+trend.Analysis)
	}
	if n := len(trend.UngroundedFigures); n > 0 {
		out = append(out, fmt.Sprintf("trend analysis cites %d figure(s) not found in the extracted metrics", n))
	}

	if q.Error != "" {
		out = append(out, "qualitative analysis: "+q.Error)
	}
	for _, f := range domain.AllFacets {
		if msg, failed := q.FacetErrors[f]; failed {
			out = append(out, fmt.Sprintf("%s facet failed: %s", f, msg))
		}
	}

	return out
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

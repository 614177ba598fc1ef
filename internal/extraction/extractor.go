package extraction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/ingestion"
	"github.com/forecast-agent/backend/internal/llm"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/pkg/logger"
	"github.com/forecast-agent/backend/pkg/utils"
)

const (
	DefaultMaxChars = 15000
	defaultWorkers  = 4
)

const extractionSystemPrompt = `You are a financial analyst expert specializing in extracting precise financial metrics from quarterly reports.

CRITICAL INSTRUCTIONS:
1. Extract ONLY explicit values stated in the document
2. Never hallucinate or estimate numbers
3. Always cite values exactly as they appear in tables or text
4. If a value is not found, mark it as "N/A"
5. Include currency symbols and units exactly as stated
6. For growth percentages, extract from year-over-year or quarter-over-quarter comparisons
7. Extract 3-5 key financial highlights that are explicitly mentioned

Your analysis must be grounded entirely in the source document.`

const extractionPromptPrefix = "Extract financial metrics from this quarterly report:\n\n"

type Extractor struct {
	llm       llm.Inferer
	validate  *validator.Validate
	minLength int
	maxChars  int
	workers   int
}

type Option func(*Extractor)

func WithMaxChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

func WithMinLength(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.minLength = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

func NewExtractor(inferer llm.Inferer, opts ...Option) *Extractor {
	e := &Extractor{
		llm:       inferer,
		validate:  validator.New(),
		minLength: domain.MinContentLength,
		maxChars:  DefaultMaxChars,
		workers:   defaultWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract never fails: problems are reported through the record's Error field
// with Quarter set to domain.UnknownQuarter.
func (e *Extractor) Extract(ctx context.Context, text, title string) domain.FinancialMetrics {
	start := time.Now()
	logger.Info("Extracting metrics", zap.String("document", title))

	if !ingestion.HasContent(text, e.minLength) {
		return e.failed(title, domain.ErrInsufficientContent)
	}

	var payload metricsPayload
	err := e.llm.CompleteStructured(ctx, llm.CompletionRequest{
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   extractionPromptPrefix + utils.Truncate(text, e.maxChars),
		Temperature:  0.1,
	}, metricsSchema, &payload)
	if err != nil {
		return e.failed(title, err)
	}

	if err := e.validate.Struct(payload); err != nil {
		return e.failed(title, fmt.Errorf("%w: %v", domain.ErrMalformedOutput, err))
	}

	result := domain.FinancialMetrics{
		Quarter:         strings.TrimSpace(payload.Quarter),
		TotalRevenue:    orNotFound(payload.TotalRevenue),
		NetProfit:       orNotFound(payload.NetProfit),
		OperatingMargin: orNotFound(payload.OperatingMargin),
		RevenueGrowth:   orNotFound(payload.RevenueGrowth),
		ProfitGrowth:    orNotFound(payload.ProfitGrowth),
		KeyHighlights:   cleanHighlights(payload.KeyHighlights),
		SourceDocument:  title,
	}

	logger.Info("Successfully extracted metrics",
		zap.String("document", title),
		zap.String("quarter", result.Quarter),
		zap.Int("input_chars", utf8.RuneCountInString(text)),
		zap.Duration("duration", time.Since(start)),
	)

	return result
}

// ExtractAll extracts every document concurrently and returns records in
// input order.
func (e *Extractor) ExtractAll(ctx context.Context, docs []domain.RawDocument) []domain.FinancialMetrics {
	results := make([]domain.FinancialMetrics, len(docs))
	sem := make(chan struct{}, e.workers)

	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		go func(i int, doc domain.RawDocument) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.Extract(ctx, doc.Text, doc.Title)
		}(i, doc)
	}
	wg.Wait()

	return results
}

func (e *Extractor) failed(title string, err error) domain.FinancialMetrics {
	metrics.ExtractionFailures.Inc()
	logger.Error("Error extracting financial metrics",
		zap.String("document", title),
		zap.Error(err),
	)
	return domain.FinancialMetrics{
		Quarter:         domain.UnknownQuarter,
		TotalRevenue:    domain.NotFound,
		NetProfit:       domain.NotFound,
		OperatingMargin: domain.NotFound,
		RevenueGrowth:   domain.NotFound,
		ProfitGrowth:    domain.NotFound,
		KeyHighlights:   []string{},
		SourceDocument:  title,
		Error:           err.Error(),
	}
}

func orNotFound(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "n/a") || strings.EqualFold(v, "not found") {
		return domain.NotFound
	}
	return v
}

func cleanHighlights(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

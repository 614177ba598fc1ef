package forecast

import (
	"context"
	"sync"

	"github.com/forecast-agent/backend/internal/acquisition"
	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/storage/models"
)

type fakeSource struct {
	listing *acquisition.Listing
	listErr error
	texts   map[string]string
	errs    map[string]error

	mu      sync.Mutex
	fetched []string
}

func (f *fakeSource) ListDocuments(ctx context.Context, company string, quarters int) (*acquisition.Listing, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listing, nil
}

func (f *fakeSource) FetchText(ctx context.Context, doc domain.RawDocument) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, doc.URL)
	f.mu.Unlock()
	if err := f.errs[doc.URL]; err != nil {
		return "", err
	}
	return f.texts[doc.URL], nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type fakeExtractor struct {
	records func(docs []domain.RawDocument) []domain.FinancialMetrics
	got     []domain.RawDocument
}

func (f *fakeExtractor) ExtractAll(ctx context.Context, docs []domain.RawDocument) []domain.FinancialMetrics {
	f.got = docs
	if f.records != nil {
		return f.records(docs)
	}
	out := make([]domain.FinancialMetrics, len(docs))
	for i, d := range docs {
		out[i] = domain.FinancialMetrics{Quarter: d.Title, TotalRevenue: "₹64,259 crore", SourceDocument: d.Title}
	}
	return out
}

type fakeTrends struct {
	result domain.TrendResult
}

func (f *fakeTrends) Analyze(ctx context.Context, records []domain.FinancialMetrics) domain.TrendResult {
	return f.result
}

type fakeQualitative struct {
	result domain.QualitativeResult
	got    []domain.RawDocument
}

func (f *fakeQualitative) Analyze(ctx context.Context, transcripts []domain.RawDocument) domain.QualitativeResult {
	f.got = transcripts
	return f.result
}

type memoryStore struct {
	mu      sync.Mutex
	saved   map[string]*domain.ForecastResult
	order   []string
	errors  []models.ErrorRecord
	saveErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: make(map[string]*domain.ForecastResult)}
}

func (m *memoryStore) Save(ctx context.Context, result *domain.ForecastResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, exists := m.saved[result.RequestID]; !exists {
		m.order = append(m.order, result.RequestID)
	}
	m.saved[result.RequestID] = result
	return nil
}

func (m *memoryStore) RecordError(ctx context.Context, requestID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, models.ErrorRecord{RequestID: requestID, Message: message})
	return nil
}

func (m *memoryStore) ListRecent(ctx context.Context, limit int) ([]models.ForecastRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ForecastRecord
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.saved[m.order[i]]
		out = append(out, models.ForecastRecord{RequestID: r.RequestID, Company: r.Company, Forecast: r})
	}
	return out, nil
}

func (m *memoryStore) Get(ctx context.Context, requestID string) (*models.ForecastRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.saved[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &models.ForecastRecord{RequestID: r.RequestID, Company: r.Company, Forecast: r}, nil
}

type recordingExporter struct {
	err      error
	exported []string
}

func (e *recordingExporter) Name() string { return "recording" }

func (e *recordingExporter) Export(ctx context.Context, result *domain.ForecastResult) error {
	e.exported = append(e.exported, result.RequestID)
	return e.err
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []string
}

func (s *stageRecorder) OnStage(requestID string, record domain.StageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, record.Stage)
}

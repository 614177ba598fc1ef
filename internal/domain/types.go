package domain

import "time"

type DocumentKind string

const (
	KindReport     DocumentKind = "report"
	KindTranscript DocumentKind = "transcript"
)

const (
	// NotFound marks a metric the source document does not state.
	NotFound = "N/A"
	// UnknownQuarter labels a metrics record that could not be extracted.
	UnknownQuarter = "Unknown"
	// MinContentLength is the shortest trimmed text worth extracting or indexing.
	MinContentLength = 100
)

type RawDocument struct {
	Title string       `json:"title"`
	URL   string       `json:"url"`
	Kind  DocumentKind `json:"kind"`
	Text  string       `json:"-"`
}

type Chunk struct {
	Content       string `json:"content"`
	SourceTitle   string `json:"source_title"`
	SequenceIndex int    `json:"sequence_index"`
	// Offset is the rune offset of Content within the source text.
	Offset int `json:"offset"`
}

type EmbeddedChunk struct {
	Chunk
	Vector []float32 `json:"-"`
}

type FinancialMetrics struct {
	Quarter         string   `json:"quarter"`
	TotalRevenue    string   `json:"total_revenue"`
	NetProfit       string   `json:"net_profit"`
	OperatingMargin string   `json:"operating_margin"`
	RevenueGrowth   string   `json:"revenue_growth"`
	ProfitGrowth    string   `json:"profit_growth"`
	KeyHighlights   []string `json:"key_highlights"`
	SourceDocument  string   `json:"source_document"`
	Error           string   `json:"error,omitempty"`
}

func (m FinancialMetrics) Valid() bool {
	return m.Error == ""
}

type UngroundedFigure struct {
	Figure   string `json:"figure"`
	Sentence string `json:"sentence"`
}

type TrendResult struct {
	Analysis          string             `json:"analysis"`
	QuartersAnalyzed  int                `json:"quarters_analyzed"`
	InsufficientData  bool               `json:"insufficient_data"`
	Error             string             `json:"error,omitempty"`
	UngroundedFigures []UngroundedFigure `json:"ungrounded_figures,omitempty"`
}

type ManagementOutlook struct {
	Summary string   `json:"summary"`
	Sources []string `json:"sources"`
}

type Facet string

const (
	FacetOutlook       Facet = "outlook"
	FacetThemes        Facet = "themes"
	FacetRisks         Facet = "risks"
	FacetOpportunities Facet = "opportunities"
	FacetSentiment     Facet = "sentiment"
)

var AllFacets = []Facet{FacetOutlook, FacetThemes, FacetRisks, FacetOpportunities, FacetSentiment}

type QualitativeResult struct {
	ManagementOutlook   ManagementOutlook `json:"management_outlook"`
	RecurringThemes     []string          `json:"recurring_themes"`
	Risks               []string          `json:"risks"`
	Opportunities       []string          `json:"opportunities"`
	SentimentSummary    string            `json:"sentiment"`
	TranscriptsAnalyzed int               `json:"transcripts_analyzed"`
	Error               string            `json:"error,omitempty"`
	FacetErrors         map[Facet]string  `json:"facet_errors,omitempty"`
}

func (q QualitativeResult) FacetFailed(f Facet) bool {
	_, failed := q.FacetErrors[f]
	return failed
}

type RiskType string

const (
	RiskTypeRisk        RiskType = "risk"
	RiskTypeOpportunity RiskType = "opportunity"
)

type RiskOpportunity struct {
	Type        RiskType `json:"type"`
	Description string   `json:"description"`
}

type FinancialTrends struct {
	QuarterlyMetrics  []FinancialMetrics `json:"quarterly_metrics"`
	TrendAnalysis     string             `json:"trend_analysis"`
	QuartersAnalyzed  int                `json:"quarters_analyzed"`
	InsufficientData  bool               `json:"insufficient_data"`
	UngroundedFigures []UngroundedFigure `json:"ungrounded_figures,omitempty"`
}

type StageRecord struct {
	Stage  string    `json:"stage"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

type ForecastResult struct {
	RequestID          string            `json:"request_id"`
	Company            string            `json:"company"`
	GeneratedAt        time.Time         `json:"timestamp"`
	FinancialTrends    FinancialTrends   `json:"financial_trends"`
	QualitativeSummary QualitativeResult `json:"qualitative_summary"`
	RisksOpportunities []RiskOpportunity `json:"risks_opportunities"`
	ForwardOutlook     string            `json:"forward_outlook"`
	Degradations       []string          `json:"degradations,omitempty"`
	Stages             []StageRecord     `json:"stages,omitempty"`
}

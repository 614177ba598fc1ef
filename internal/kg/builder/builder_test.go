package builder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecast-agent/backend/internal/domain"
)

func sampleForecast() *domain.ForecastResult {
	return &domain.ForecastResult{
		RequestID:   "req-1",
		Company:     "TCS",
		GeneratedAt: time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC),
		FinancialTrends: domain.FinancialTrends{
			QuarterlyMetrics: []domain.FinancialMetrics{
				{Quarter: "Q1 FY2026", TotalRevenue: "₹63,437 crore", SourceDocument: "Q1 results"},
				{Quarter: domain.UnknownQuarter, Error: "Document text is too short or empty"},
			},
			QuartersAnalyzed: 2,
		},
		QualitativeSummary: domain.QualitativeResult{
			RecurringThemes: []string{"GenAI adoption", "genai adoption ", "Cost optimisation"},
			Risks:           []string{"Tariff uncertainty"},
			Opportunities:   []string{"Vendor consolidation"},
		},
	}
}

func count(g Graph, label Label) int {
	n := 0
	for _, node := range g.Nodes {
		if node.Label == label {
			n++
		}
	}
	return n
}

func TestBuild(t *testing.T) {
	g := Build(sampleForecast())

	assert.Equal(t, 1, count(g, LabelCompany))
	assert.Equal(t, 1, count(g, LabelForecast))
	assert.Equal(t, 1, count(g, LabelQuarter), "failed extractions are not exported")
	assert.Equal(t, 2, count(g, LabelTheme), "themes are deduplicated case-insensitively")
	assert.Equal(t, 1, count(g, LabelRisk))
	assert.Equal(t, 1, count(g, LabelOpportunity))

	ids := make(map[string]bool)
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}
	for _, e := range g.Edges {
		assert.True(t, ids[e.From], "edge source %s exists", e.From)
		assert.True(t, ids[e.To], "edge target %s exists", e.To)
	}
}

func TestBuild_StableIDs(t *testing.T) {
	first := Build(sampleForecast())

	other := sampleForecast()
	other.RequestID = "req-2"
	second := Build(other)

	risk := func(g Graph) string {
		for _, n := range g.Nodes {
			if n.Label == LabelRisk {
				return n.ID
			}
		}
		return ""
	}
	require.NotEmpty(t, risk(first))
	assert.Equal(t, risk(first), risk(second))
	assert.NotEqual(t, first.Nodes[1].ID, second.Nodes[1].ID, "forecast nodes are per request")
}

func TestBuild_SkipsFailedFacets(t *testing.T) {
	f := sampleForecast()
	f.QualitativeSummary.Risks = nil
	f.QualitativeSummary.FacetErrors = map[domain.Facet]string{domain.FacetRisks: "timeout"}

	g := Build(f)
	assert.Zero(t, count(g, LabelRisk))
	assert.Equal(t, 2, count(g, LabelTheme))
}

package builder

import (
	"strings"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/pkg/utils"
)

type Label string

const (
	LabelCompany     Label = "Company"
	LabelForecast    Label = "Forecast"
	LabelQuarter     Label = "Quarter"
	LabelTheme       Label = "Theme"
	LabelRisk        Label = "Risk"
	LabelOpportunity Label = "Opportunity"
)

const (
	RelForecastFor    = "FORECAST_FOR"
	RelReported       = "REPORTED"
	RelHasTheme       = "HAS_THEME"
	RelFacesRisk      = "FACES_RISK"
	RelHasOpportunity = "HAS_OPPORTUNITY"
	RelMentions       = "MENTIONS"
)

type Node struct {
	ID         string
	Label      Label
	Name       string
	Properties map[string]any
}

type Edge struct {
	From      string
	Predicate string
	To        string
}

type Graph struct {
	Nodes []Node
	Edges []Edge
}

// Build turns a forecast into company-centred insight nodes. Ids are derived
// from content, so exporting the same insight twice merges into one node.
func Build(result *domain.ForecastResult) Graph {
	b := &graphBuilder{seen: make(map[string]bool)}

	companyID := nodeID(LabelCompany, result.Company)
	b.node(Node{ID: companyID, Label: LabelCompany, Name: result.Company})

	forecastID := nodeID(LabelForecast, result.RequestID)
	b.node(Node{
		ID:    forecastID,
		Label: LabelForecast,
		Name:  result.RequestID,
		Properties: map[string]any{
			"generated_at":      result.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"),
			"quarters_analyzed": result.FinancialTrends.QuartersAnalyzed,
			"degradations":      len(result.Degradations),
		},
	})
	b.edge(forecastID, RelForecastFor, companyID)

	for _, m := range result.FinancialTrends.QuarterlyMetrics {
		if !m.Valid() {
			continue
		}
		id := nodeID(LabelQuarter, result.Company, m.Quarter)
		b.node(Node{
			ID:    id,
			Label: LabelQuarter,
			Name:  m.Quarter,
			Properties: map[string]any{
				"total_revenue":    m.TotalRevenue,
				"net_profit":       m.NetProfit,
				"operating_margin": m.OperatingMargin,
				"revenue_growth":   m.RevenueGrowth,
				"profit_growth":    m.ProfitGrowth,
				"source_document":  m.SourceDocument,
			},
		})
		b.edge(companyID, RelReported, id)
		b.edge(forecastID, RelMentions, id)
	}

	q := result.QualitativeSummary
	b.insights(companyID, forecastID, LabelTheme, RelHasTheme, result.Company, q.RecurringThemes, q.FacetFailed(domain.FacetThemes))
	b.insights(companyID, forecastID, LabelRisk, RelFacesRisk, result.Company, q.Risks, q.FacetFailed(domain.FacetRisks))
	b.insights(companyID, forecastID, LabelOpportunity, RelHasOpportunity, result.Company, q.Opportunities, q.FacetFailed(domain.FacetOpportunities))

	return b.graph
}

type graphBuilder struct {
	graph Graph
	seen  map[string]bool
}

func (b *graphBuilder) node(n Node) {
	if b.seen[n.ID] {
		return
	}
	b.seen[n.ID] = true
	b.graph.Nodes = append(b.graph.Nodes, n)
}

func (b *graphBuilder) edge(from, predicate, to string) {
	b.graph.Edges = append(b.graph.Edges, Edge{From: from, Predicate: predicate, To: to})
}

func (b *graphBuilder) insights(companyID, forecastID string, label Label, predicate, company string, items []string, failed bool) {
	if failed {
		return
	}
	for _, item := range items {
		text := strings.TrimSpace(item)
		if text == "" {
			continue
		}
		id := nodeID(label, company, strings.ToLower(text))
		if b.seen[id] {
			continue
		}
		b.node(Node{ID: id, Label: label, Name: text})
		b.edge(companyID, predicate, id)
		b.edge(forecastID, RelMentions, id)
	}
}

func nodeID(label Label, parts ...string) string {
	return strings.ToLower(string(label)) + ":" + utils.ShortID(16, parts...)
}

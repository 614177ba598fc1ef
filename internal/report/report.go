package report

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/forecast-agent/backend/internal/domain"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Linkify),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// Markdown renders a forecast as a markdown document.
func Markdown(r *domain.ForecastResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s financial forecast\n\n", r.Company)
	fmt.Fprintf(&b, "Request `%s`, generated %s.\n\n", r.RequestID, r.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"))

	b.WriteString("## Quarterly metrics\n\n")
	if len(r.FinancialTrends.QuarterlyMetrics) == 0 {
		b.WriteString("No quarterly reports were analyzed.\n\n")
	} else {
		b.WriteString("| Quarter | Revenue | Net profit | Operating margin | Revenue growth | Profit growth | Source |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, m := range r.FinancialTrends.QuarterlyMetrics {
			if !m.Valid() {
				fmt.Fprintf(&b, "| %s | %s | | | | | %s |\n", cell(m.Quarter), cell("Error: "+m.Error), cell(m.SourceDocument))
				continue
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
				cell(m.Quarter), cell(m.TotalRevenue), cell(m.NetProfit), cell(m.OperatingMargin),
				cell(m.RevenueGrowth), cell(m.ProfitGrowth), cell(m.SourceDocument))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Trend analysis\n\n")
	b.WriteString(strings.TrimSpace(r.FinancialTrends.TrendAnalysis))
	b.WriteString("\n\n")
	if figures := r.FinancialTrends.UngroundedFigures; len(figures) > 0 {
		b.WriteString("> Figures not found in the extracted metrics: ")
		names := make([]string, len(figures))
		for i, f := range figures {
			names[i] = "`" + f.Figure + "`"
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n\n")
	}

	q := r.QualitativeSummary
	b.WriteString("## Management outlook\n\n")
	if q.Error != "" {
		fmt.Fprintf(&b, "Qualitative analysis unavailable: %s\n\n", q.Error)
	} else {
		b.WriteString(strings.TrimSpace(q.ManagementOutlook.Summary))
		b.WriteString("\n\n")
		if len(q.ManagementOutlook.Sources) > 0 {
			fmt.Fprintf(&b, "Sources: %s\n\n", strings.Join(q.ManagementOutlook.Sources, "; "))
		}
		writeList(&b, "Recurring themes", withFacetError(q, domain.FacetThemes, q.RecurringThemes))
		b.WriteString("### Sentiment\n\n")
		b.WriteString(strings.TrimSpace(q.SentimentSummary))
		b.WriteString("\n\n")
	}

	b.WriteString("## Risks and opportunities\n\n")
	items := append([]domain.RiskOpportunity{}, r.RisksOpportunities...)
	if marker, ok := q.FacetErrors[domain.FacetRisks]; ok {
		items = append(items, domain.RiskOpportunity{Type: domain.RiskTypeRisk, Description: marker})
	}
	if marker, ok := q.FacetErrors[domain.FacetOpportunities]; ok {
		items = append(items, domain.RiskOpportunity{Type: domain.RiskTypeOpportunity, Description: marker})
	}
	if len(items) == 0 {
		b.WriteString("None identified.\n\n")
	}
	for _, item := range items {
		fmt.Fprintf(&b, "- **%s**: %s\n", item.Type, item.Description)
	}
	if len(items) > 0 {
		b.WriteString("\n")
	}

	if len(r.Degradations) > 0 {
		writeList(&b, "Gaps", r.Degradations)
	}

	return b.String()
}

// HTML renders the markdown report as a standalone page. Raw HTML in model
// output is not passed through.
func HTML(r *domain.ForecastResult) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(r)), &body); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&page, "<title>%s forecast %s</title>", html.EscapeString(r.Company), html.EscapeString(r.RequestID))
	page.WriteString("</head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}

// withFacetError appends the facet's error marker, if any, so a failed list
// facet reads as a failure rather than as an empty finding.
func withFacetError(q domain.QualitativeResult, f domain.Facet, items []string) []string {
	marker, ok := q.FacetErrors[f]
	if !ok {
		return items
	}
	return append(append([]string{}, items...), marker)
}

func writeList(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "### %s\n\n", title)
	if len(items) == 0 {
		b.WriteString("None.\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", strings.TrimSpace(item))
	}
	b.WriteString("\n")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.Join(strings.Fields(s), " ")
}

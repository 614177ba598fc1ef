package extraction

import (
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/forecast-agent/backend/internal/llm"
)

// metricsPayload is the shape requested from the model. Source document and
// error fields are filled in locally.
type metricsPayload struct {
	Quarter         string   `json:"quarter" validate:"required,max=64"`
	TotalRevenue    string   `json:"total_revenue"`
	NetProfit       string   `json:"net_profit"`
	OperatingMargin string   `json:"operating_margin"`
	RevenueGrowth   string   `json:"revenue_growth"`
	ProfitGrowth    string   `json:"profit_growth"`
	KeyHighlights   []string `json:"key_highlights" validate:"dive,max=500"`
}

var metricsSchema = llm.Schema{
	Name:        "financial_metrics",
	Description: "Financial metrics extracted from a quarterly report",
	Definition: jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"quarter": {
				Type:        jsonschema.String,
				Description: "Quarter and year (e.g., Q1 FY2024)",
			},
			"total_revenue": {
				Type:        jsonschema.String,
				Description: "Total revenue with units (e.g., '₹59,162 crores'), or N/A",
			},
			"net_profit": {
				Type:        jsonschema.String,
				Description: "Net profit with units, or N/A",
			},
			"operating_margin": {
				Type:        jsonschema.String,
				Description: "Operating margin percentage, or N/A",
			},
			"revenue_growth": {
				Type:        jsonschema.String,
				Description: "Revenue growth percentage YoY or QoQ, or N/A",
			},
			"profit_growth": {
				Type:        jsonschema.String,
				Description: "Profit growth percentage, or N/A",
			},
			"key_highlights": {
				Type:        jsonschema.Array,
				Description: "3-5 key financial highlights from the report",
				Items:       &jsonschema.Definition{Type: jsonschema.String},
			},
		},
		Required: []string{
			"quarter", "total_revenue", "net_profit", "operating_margin",
			"revenue_growth", "profit_growth", "key_highlights",
		},
		AdditionalProperties: false,
	},
}

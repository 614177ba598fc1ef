package analysis

import "github.com/forecast-agent/backend/internal/domain"

type facetSpec struct {
	facet domain.Facet
	query string
	k     int
	// limit caps list facets; zero means free text.
	limit  int
	system string
	prompt string
}

const groundingRules = `Only use information explicitly stated in the provided context.
If the context does not contain the requested information, say "Not found in the provided transcripts." instead of guessing.
Do not invent figures, names, or quotes.`

var facetSpecs = []facetSpec{
	{
		facet: domain.FacetOutlook,
		query: "What is management's outlook for future quarters? What are their growth expectations and business forecasts?",
		k:     5,
		system: `You are an expert financial analyst analyzing earnings call transcripts.

Extract management's forward-looking outlook and expectations. Focus on:
1. Revenue and growth projections
2. Strategic initiatives for upcoming quarters
3. Market expectations and guidance
4. Key focus areas for the business

` + groundingRules + `
Include direct quotes where relevant.`,
		prompt: "Context from transcripts:\n%s\n\nProvide a structured summary of management's outlook.",
	},
	{
		facet:  domain.FacetThemes,
		query:  "What are the recurring business themes, strategic priorities, and key initiatives mentioned by management?",
		k:      5,
		limit:  7,
		system: "You identify recurring business themes in earnings call transcripts.\n" + groundingRules,
		prompt: "Based on the following transcript excerpts, identify 5-7 recurring business themes and strategic priorities:\n\n%s\n\nList the themes as concise bullet points (one per line, starting with \"- \"), citing specific mentions from the transcripts.",
	},
	{
		facet:  domain.FacetRisks,
		query:  "What risks, challenges, or concerns does management mention?",
		k:      4,
		limit:  5,
		system: "You identify risks and challenges raised in earnings call transcripts.\n" + groundingRules,
		prompt: "List 3-5 key risks or challenges mentioned, one per line, each starting with \"- \":\n\n%s",
	},
	{
		facet:  domain.FacetOpportunities,
		query:  "What opportunities, growth drivers, or positive factors does management highlight?",
		k:      4,
		limit:  5,
		system: "You identify opportunities and growth drivers highlighted in earnings call transcripts.\n" + groundingRules,
		prompt: "List 3-5 key opportunities or growth drivers mentioned, one per line, each starting with \"- \":\n\n%s",
	},
	{
		facet:  domain.FacetSentiment,
		query:  "What is the overall tone and sentiment of management's statements?",
		k:      4,
		system: "You assess management tone in earnings call transcripts.\n" + groundingRules,
		prompt: `Analyze the sentiment and tone of management's statements:

%s

Provide:
1. Overall sentiment (positive/neutral/cautious/negative)
2. Confidence level (high/moderate/low)
3. Key sentiment indicators with brief quotes

Be objective and cite specific evidence.`,
	},
}

// outlookSourceCount is how many retrieved chunk titles are cited for the outlook.
const outlookSourceCount = 3

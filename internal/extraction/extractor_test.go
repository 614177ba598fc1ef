package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/llm/llmtest"
)

func report(quarter string) string {
	return "TCS Limited quarterly results for " + quarter + ". " +
		strings.Repeat("Revenue for the quarter was ₹64,259 crore, up 7.6% year on year. Net profit stood at ₹11,909 crore. ", 3)
}

func TestExtract_Success(t *testing.T) {
	inferer := llmtest.NewInferer().On("Q2 FY2025", llmtest.JSON(map[string]any{
		"quarter":          "Q2 FY2025",
		"total_revenue":    "₹64,259 crore",
		"net_profit":       "₹11,909 crore",
		"operating_margin": "",
		"revenue_growth":   "7.6%",
		"profit_growth":    "N/A",
		"key_highlights":   []string{"Revenue up 7.6% YoY", " "},
	}))

	m := NewExtractor(inferer).Extract(context.Background(), report("Q2 FY2025"), "Q2 FY2025 results")

	assert.True(t, m.Valid())
	assert.Equal(t, "Q2 FY2025", m.Quarter)
	assert.Equal(t, "₹64,259 crore", m.TotalRevenue)
	assert.Equal(t, domain.NotFound, m.OperatingMargin)
	assert.Equal(t, domain.NotFound, m.ProfitGrowth)
	assert.Equal(t, []string{"Revenue up 7.6% YoY"}, m.KeyHighlights)
	assert.Equal(t, "Q2 FY2025 results", m.SourceDocument)
}

func TestExtract_TooShortSkipsInference(t *testing.T) {
	inferer := llmtest.NewInferer()

	m := NewExtractor(inferer).Extract(context.Background(), strings.Repeat("x", 50), "stub.pdf")

	assert.False(t, m.Valid())
	assert.Equal(t, "Document text is too short or empty", m.Error)
	assert.Equal(t, domain.UnknownQuarter, m.Quarter)
	assert.Equal(t, "stub.pdf", m.SourceDocument)
	assert.Zero(t, inferer.Calls())
}

func TestExtract_FailedRecordCarriesSentinels(t *testing.T) {
	m := NewExtractor(llmtest.NewInferer()).Extract(context.Background(), "x", "doc")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"quarter": "Unknown",
		"total_revenue": "N/A",
		"net_profit": "N/A",
		"operating_margin": "N/A",
		"revenue_growth": "N/A",
		"profit_growth": "N/A",
		"key_highlights": [],
		"source_document": "doc",
		"error": "Document text is too short or empty"
	}`, string(data))
}

func TestExtract_InferenceFailure(t *testing.T) {
	inferer := llmtest.NewInferer().Fail("Extract financial metrics", errors.New("upstream 503"))

	m := NewExtractor(inferer).Extract(context.Background(), report("Q1 FY2025"), "Q1 results")

	assert.False(t, m.Valid())
	assert.Contains(t, m.Error, "upstream 503")
	assert.Equal(t, domain.UnknownQuarter, m.Quarter)
}

func TestExtract_MissingQuarterIsMalformed(t *testing.T) {
	inferer := llmtest.NewInferer().On("Extract financial metrics", `{"quarter":"","total_revenue":"₹1 crore"}`)

	m := NewExtractor(inferer).Extract(context.Background(), report("Q1 FY2025"), "Q1 results")

	assert.False(t, m.Valid())
	assert.Contains(t, m.Error, domain.ErrMalformedOutput.Error())
}

func TestExtract_TruncatesInput(t *testing.T) {
	inferer := llmtest.NewInferer().On("Extract financial metrics", `{"quarter":"Q1 FY2025"}`)
	text := strings.Repeat("a", 20000)

	NewExtractor(inferer, WithMaxChars(15000)).Extract(context.Background(), text, "long.pdf")

	prompts := inferer.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, 15000, strings.Count(prompts[0].UserPrompt, "a")-strings.Count(extractionPromptPrefix, "a"))
	assert.Less(t, utf8.RuneCountInString(prompts[0].UserPrompt), 15100)
}

func TestExtractAll_PreservesOrder(t *testing.T) {
	inferer := llmtest.NewInferer().
		On("Q1 FY2025", `{"quarter":"Q1 FY2025"}`).
		On("Q2 FY2025", `{"quarter":"Q2 FY2025"}`).
		On("Q3 FY2025", `{"quarter":"Q3 FY2025"}`)

	docs := []domain.RawDocument{
		{Title: "q3", Text: report("Q3 FY2025")},
		{Title: "bad", Text: "too short"},
		{Title: "q1", Text: report("Q1 FY2025")},
		{Title: "q2", Text: report("Q2 FY2025")},
	}

	results := NewExtractor(inferer, WithWorkers(2)).ExtractAll(context.Background(), docs)

	require.Len(t, results, 4)
	assert.Equal(t, "Q3 FY2025", results[0].Quarter)
	assert.Equal(t, domain.UnknownQuarter, results[1].Quarter)
	assert.Equal(t, "Q1 FY2025", results[2].Quarter)
	assert.Equal(t, "Q2 FY2025", results[3].Quarter)
}

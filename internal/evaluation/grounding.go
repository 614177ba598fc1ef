package evaluation

import (
	"regexp"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/pkg/logger"
)

var figurePattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

type GroundingReport struct {
	FiguresChecked int
	Ungrounded     []domain.UngroundedFigure
}

func (r GroundingReport) Grounded() bool {
	return len(r.Ungrounded) == 0
}

// CheckGrounding finds figures in narrative that do not appear in any of the
// source metrics. Single-digit numbers are ignored since they are mostly
// list numbering and counts.
func CheckGrounding(narrative string, source []domain.FinancialMetrics) GroundingReport {
	known := make(map[string]struct{})
	for _, m := range source {
		for _, field := range metricTexts(m) {
			for _, f := range figurePattern.FindAllString(field, -1) {
				known[normalizeFigure(f)] = struct{}{}
			}
		}
	}

	var report GroundingReport
	seen := make(map[string]struct{})
	for _, sentence := range sentences(narrative) {
		for _, f := range figurePattern.FindAllString(sentence, -1) {
			norm := normalizeFigure(f)
			if !significant(norm) {
				continue
			}
			report.FiguresChecked++
			if _, ok := known[norm]; ok {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			report.Ungrounded = append(report.Ungrounded, domain.UngroundedFigure{
				Figure:   f,
				Sentence: strings.TrimSpace(sentence),
			})
		}
	}

	return report
}

func metricTexts(m domain.FinancialMetrics) []string {
	texts := []string{
		m.Quarter, m.TotalRevenue, m.NetProfit, m.OperatingMargin,
		m.RevenueGrowth, m.ProfitGrowth, m.SourceDocument,
	}
	return append(texts, m.KeyHighlights...)
}

func sentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		logger.Debug("Sentence segmentation failed, checking text as a whole", zap.Error(err))
		return []string{text}
	}

	out := make([]string, 0, len(doc.Sentences()))
	for _, s := range doc.Sentences() {
		out = append(out, s.Text)
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func normalizeFigure(f string) string {
	f = strings.ReplaceAll(f, ",", "")
	f = strings.TrimSuffix(f, ".")
	if strings.Contains(f, ".") {
		f = strings.TrimRight(f, "0")
		f = strings.TrimSuffix(f, ".")
	}
	return f
}

func significant(norm string) bool {
	return len(norm) > 1
}

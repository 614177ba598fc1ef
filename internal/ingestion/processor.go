package ingestion

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/pkg/logger"
)

type Processor struct {
	splitter         *Splitter
	minContentLength int
}

func NewProcessor(splitter *Splitter, minContentLength int) *Processor {
	if splitter == nil {
		splitter = NewSplitter()
	}
	if minContentLength <= 0 {
		minContentLength = domain.MinContentLength
	}
	return &Processor{
		splitter:         splitter,
		minContentLength: minContentLength,
	}
}

// HasContent reports whether text is long enough to be worth processing.
func HasContent(text string, minLength int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) >= minLength
}

// Prepare chunks every document with enough content, in document order.
// SequenceIndex on the returned chunks is their position in the corpus.
func (p *Processor) Prepare(docs []domain.RawDocument) []domain.Chunk {
	var corpus []domain.Chunk

	for _, doc := range docs {
		if !HasContent(doc.Text, p.minContentLength) {
			logger.Warn("Skipping document with insufficient content",
				zap.String("title", doc.Title),
				zap.Int("length", utf8.RuneCountInString(strings.TrimSpace(doc.Text))),
			)
			continue
		}

		chunks := p.splitter.Split(doc.Text, doc.Title)
		for _, c := range chunks {
			c.SequenceIndex = len(corpus)
			corpus = append(corpus, c)
		}

		logger.Debug("Document chunked",
			zap.String("title", doc.Title),
			zap.Int("chunks", len(chunks)),
		)
	}

	logger.Info("Corpus prepared",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(corpus)),
	)

	return corpus
}

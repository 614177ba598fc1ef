package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecast-agent/backend/internal/domain"
)

func TestPrepare_SkipsShortDocuments(t *testing.T) {
	p := NewProcessor(NewSplitter(WithChunkSize(200), WithOverlap(20)), domain.MinContentLength)

	docs := []domain.RawDocument{
		{Title: "empty", Kind: domain.KindTranscript, Text: "   "},
		{Title: "short", Kind: domain.KindTranscript, Text: strings.Repeat("a", 50)},
		{Title: "Q1 call", Kind: domain.KindTranscript, Text: sampleTranscript(4)},
		{Title: "Q2 call", Kind: domain.KindTranscript, Text: sampleTranscript(4)},
	}

	chunks := p.Prepare(docs)

	require.NotEmpty(t, chunks)
	titles := map[string]bool{}
	for i, c := range chunks {
		titles[c.SourceTitle] = true
		assert.Equal(t, i, c.SequenceIndex)
	}
	assert.Equal(t, map[string]bool{"Q1 call": true, "Q2 call": true}, titles)
	assert.Equal(t, "Q1 call", chunks[0].SourceTitle)
	assert.Equal(t, "Q2 call", chunks[len(chunks)-1].SourceTitle)
}

func TestPrepare_NoUsableDocuments(t *testing.T) {
	p := NewProcessor(nil, 0)
	assert.Empty(t, p.Prepare([]domain.RawDocument{{Title: "tiny", Text: "hello"}}))
	assert.Empty(t, p.Prepare(nil))
}

func TestHasContent(t *testing.T) {
	assert.False(t, HasContent(strings.Repeat(" ", 500), 100))
	assert.False(t, HasContent(strings.Repeat("a", 99), 100))
	assert.True(t, HasContent(strings.Repeat("a", 100), 100))
	assert.True(t, HasContent(strings.Repeat("₹", 100), 100))
}

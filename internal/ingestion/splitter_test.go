package ingestion

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecast-agent/backend/internal/domain"
)

func sampleTranscript(paragraphs int) string {
	var sb strings.Builder
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&sb, "Paragraph %d. Revenue in the quarter rose on strong deal wins in BFSI. ", i)
		sb.WriteString("Management expects margins to improve as utilisation normalises. ")
		sb.WriteString("Attrition moderated again and the order book stands at a record ₹1,20,000 crore.\n")
		if i%3 == 2 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func reconstruct(chunks []domain.Chunk) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i+1 < len(chunks) {
			sb.WriteString(string([]rune(c.Content)[:chunks[i+1].Offset-c.Offset]))
			continue
		}
		sb.WriteString(c.Content)
	}
	return sb.String()
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	s := NewSplitter()
	assert.Empty(t, s.Split("", "doc"))
	assert.Empty(t, s.Split(" \n\t\n  ", "doc"))
}

func TestSplit_ShortTextIsSingleChunk(t *testing.T) {
	s := NewSplitter(WithChunkSize(100), WithOverlap(20))

	text := strings.Repeat("a", 100)
	chunks := s.Split(text, "Q1 transcript")

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
	assert.Equal(t, "Q1 transcript", chunks[0].SourceTitle)
	assert.Zero(t, chunks[0].Offset)
}

func TestSplit_ReconstructsText(t *testing.T) {
	cases := []struct {
		size, overlap int
	}{
		{1000, 200},
		{300, 50},
		{120, 0},
		{64, 63},
	}

	text := sampleTranscript(40)
	for _, tc := range cases {
		t.Run(fmt.Sprintf("size=%d overlap=%d", tc.size, tc.overlap), func(t *testing.T) {
			s := NewSplitter(WithChunkSize(tc.size), WithOverlap(tc.overlap))
			chunks := s.Split(text, "doc")

			require.Greater(t, len(chunks), 1)
			assert.Equal(t, text, reconstruct(chunks))
			for i, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), s.ChunkSize())
				assert.Equal(t, i, c.SequenceIndex)
			}
		})
	}
}

func TestSplit_OverlapBetweenAdjacentChunks(t *testing.T) {
	s := NewSplitter(WithChunkSize(200), WithOverlap(40))
	chunks := s.Split(sampleTranscript(10), "doc")

	require.Greater(t, len(chunks), 2)
	for i := 0; i+1 < len(chunks); i++ {
		end := chunks[i].Offset + utf8.RuneCountInString(chunks[i].Content)
		assert.Equal(t, end-40, chunks[i+1].Offset)
	}
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	first := strings.Repeat("word ", 120) // 600 runes
	second := strings.Repeat("more ", 120)
	text := first + "\n\n" + second

	chunks := NewSplitter().Split(text, "doc")

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, first+"\n\n", chunks[0].Content)
}

func TestSplit_FallsBackToHardCut(t *testing.T) {
	text := strings.Repeat("x", 2500)
	chunks := NewSplitter().Split(text, "doc")

	require.Len(t, chunks, 3)
	assert.Equal(t, 1000, utf8.RuneCountInString(chunks[0].Content))
	assert.Equal(t, 800, chunks[1].Offset)
	assert.Equal(t, text, reconstruct(chunks))
}

func TestSplit_Deterministic(t *testing.T) {
	s := NewSplitter(WithChunkSize(250), WithOverlap(50))
	text := sampleTranscript(20)
	assert.Equal(t, s.Split(text, "doc"), s.Split(text, "doc"))
}

func TestNewSplitter_ClampsOverlap(t *testing.T) {
	s := NewSplitter(WithChunkSize(100), WithOverlap(150))
	assert.Equal(t, 25, s.Overlap())
}

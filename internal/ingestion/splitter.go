package ingestion

import (
	"strings"

	"github.com/forecast-agent/backend/internal/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Boundaries in priority order. A hard character cut is the final fallback.
var defaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", " "}

type Splitter struct {
	chunkSize  int
	overlap    int
	separators [][]rune
}

type Option func(*Splitter)

func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func NewSplitter(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: toRunes(defaultSeparators),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}

	return s
}

func toRunes(separators []string) [][]rune {
	out := make([][]rune, 0, len(separators))
	for _, sep := range separators {
		if sep != "" {
			out = append(out, []rune(sep))
		}
	}
	return out
}

func (s *Splitter) ChunkSize() int { return s.chunkSize }
func (s *Splitter) Overlap() int   { return s.overlap }

// Split cuts text into chunks of at most chunkSize runes. Each chunk is an
// exact substring of text and starts overlap runes before the previous
// chunk's end.
func (s *Splitter) Split(text, sourceTitle string) []domain.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	chunks := make([]domain.Chunk, 0, n/(s.chunkSize-s.overlap)+1)
	start := 0
	for {
		end := n
		if n-start > s.chunkSize {
			end = start + s.cut(runes[start:start+s.chunkSize])
		}

		chunks = append(chunks, domain.Chunk{
			Content:       string(runes[start:end]),
			SourceTitle:   sourceTitle,
			SequenceIndex: len(chunks),
			Offset:        start,
		})

		if end >= n {
			break
		}

		next := end - s.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// cut picks the chunk length within window: just past the last occurrence of
// the highest-priority separator that still leaves room beyond the overlap.
func (s *Splitter) cut(window []rune) int {
	for _, sep := range s.separators {
		for i := len(window) - len(sep); i >= 0; i-- {
			pos := i + len(sep)
			if pos <= s.overlap {
				break
			}
			if hasPrefixAt(window, i, sep) {
				return pos
			}
		}
	}
	return len(window)
}

func hasPrefixAt(runes []rune, i int, sep []rune) bool {
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

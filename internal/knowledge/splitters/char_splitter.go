package splitters

import (
	"errors"
	"strings"

	"pagepilot/internal/knowledge/interfaces"
)

// ErrInvalidConfig is returned when the window parameters cannot produce a
// strictly advancing cursor.
var ErrInvalidConfig = errors.New("splitter: max chars must be > 0 and overlap in [0, max chars)")

// CharSplitter implements the Splitter interface by cutting text into
// character windows of at most MaxChars runes, each overlapping the previous
// one by Overlap runes.
type CharSplitter struct {
	MaxChars int
	Overlap  int
}

// NewCharSplitter creates a new CharSplitter. The advance per iteration is
// MaxChars - Overlap; a configuration where that is not positive is rejected
// here rather than looping forever at split time.
func NewCharSplitter(maxChars, overlap int) (*CharSplitter, error) {
	if maxChars <= 0 || overlap < 0 || overlap >= maxChars {
		return nil, ErrInvalidConfig
	}
	return &CharSplitter{MaxChars: maxChars, Overlap: overlap}, nil
}

// Split cuts text into windows. Windows that are empty after trimming are
// dropped; all other windows keep their original whitespace so that
// concatenating them with overlaps removed reconstructs the input.
func (s *CharSplitter) Split(text string) []string {
	runes := []rune(text)
	step := s.MaxChars - s.Overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.MaxChars
		if end > len(runes) {
			end = len(runes)
		}

		chunk := string(runes[start:end])
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
	}

	return chunks
}

// compile-time check to ensure CharSplitter implements the Splitter interface
var _ interfaces.Splitter = (*CharSplitter)(nil)

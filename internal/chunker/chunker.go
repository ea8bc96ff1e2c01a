// Package chunker splits normalized document text into bounded, possibly
// overlapping segments for embedding and retrieval.
//
// A single Chunker supports two strategies selected by configuration:
//
//   - StrategyFixed: exact fixed-size windows with no boundary snapping.
//     Lossless: concatenating the chunk texts reconstructs the input.
//   - StrategyRecursive: recursive separator-priority splitting with
//     boundary-snapped overlap and quality filtering.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Strategy names accepted by Config.Strategy.
const (
	StrategyFixed     = "fixed"
	StrategyRecursive = "recursive"
)

var (
	// ErrInvalidConfig indicates invalid chunker configuration.
	ErrInvalidConfig = errors.New("invalid chunker configuration")
)

// DefaultSeparators is the separator priority order used when none is
// configured: paragraph break, line break, sentence end, word boundary,
// and finally character-level splitting.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Config holds chunker configuration.
type Config struct {
	// Strategy selects the splitting algorithm: "fixed" or "recursive".
	// Default: "recursive"
	Strategy string

	// ChunkSize is the target chunk size in characters.
	// Default: 1000
	ChunkSize int

	// Overlap is the approximate number of trailing characters shared with
	// the next chunk. Must be smaller than ChunkSize. Only used by the
	// recursive strategy. Default: 0
	Overlap int

	// Separators is the split-marker priority list, highest priority first.
	// The empty string means character-level splitting and is always the
	// implicit last resort. Default: DefaultSeparators
	Separators []string

	// MinWords is the minimum word count for a chunk to survive quality
	// filtering. Zero disables the floor. Default: 3
	MinWords int

	// MaxPunctuationRatio is the maximum allowed ratio of punctuation
	// runes to total runes. Zero disables the ceiling. Default: 0.5
	MaxPunctuationRatio float64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyRecursive
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if len(c.Separators) == 0 {
		c.Separators = DefaultSeparators
	}
	if c.MinWords == 0 {
		c.MinWords = 3
	}
	if c.MaxPunctuationRatio == 0 {
		c.MaxPunctuationRatio = 0.5
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Strategy != StrategyFixed && c.Strategy != StrategyRecursive {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative", ErrInvalidConfig)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidConfig, c.Overlap, c.ChunkSize)
	}
	if c.MaxPunctuationRatio < 0 || c.MaxPunctuationRatio > 1 {
		return fmt.Errorf("%w: max punctuation ratio must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}

// Chunk is a bounded contiguous span of a document's text. Chunks are
// immutable once created; document and tenant attribution live in the
// index record metadata, not here.
type Chunk struct {
	ID           string
	Text         string
	Index        int
	CharCount    int
	WordCount    int
	QualityScore float64
}

// Chunker splits text according to its configured strategy.
type Chunker struct {
	config Config
}

// New creates a Chunker with the given configuration.
func New(config Config) (*Chunker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: config}, nil
}

// Config returns the chunker's effective configuration.
func (c *Chunker) Config() Config {
	return c.config
}

// Split splits text into ordered chunks. Empty input yields an empty slice
// and no error. Input no longer than the chunk size yields a single chunk.
func (c *Chunker) Split(text string) ([]Chunk, error) {
	if text == "" {
		return []Chunk{}, nil
	}

	var segments []segment
	switch c.config.Strategy {
	case StrategyFixed:
		segments = splitFixed(text, c.config.ChunkSize)
	case StrategyRecursive:
		segments = c.splitRecursive(text)
		if c.config.Overlap > 0 && len(segments) > 1 {
			segments = c.applyOverlap(segments)
		}
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.config.Strategy)
	}

	chunks := make([]Chunk, 0, len(segments))
	for _, seg := range segments {
		chunks = append(chunks, newChunk(seg))
	}

	if c.config.Strategy == StrategyRecursive {
		chunks = c.filterQuality(chunks)
	}

	// Reindex after filtering so ordering stays monotonic.
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks, nil
}

// segment is an intermediate split result. truncated marks segments produced
// by character-level splitting, which may end mid-word.
type segment struct {
	text      string
	truncated bool
}

// splitFixed cuts text into exact ChunkSize-rune windows. The concatenation
// of all windows equals the input.
func splitFixed(text string, size int) []segment {
	runes := []rune(text)
	segments := make([]segment, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, segment{
			text:      string(runes[start:end]),
			truncated: end < len(runes),
		})
	}
	return segments
}

// splitRecursive splits on the first separator in priority order that yields
// segments within the target size, falling back to lower-priority separators
// for oversized pieces and ending at character-level splitting.
func (c *Chunker) splitRecursive(text string) []segment {
	return splitWithSeparators(text, c.config.Separators, c.config.ChunkSize)
}

func splitWithSeparators(text string, separators []string, size int) []segment {
	if len([]rune(text)) <= size {
		return []segment{{text: text}}
	}
	if len(separators) == 0 {
		return splitFixed(text, size)
	}

	sep := separators[0]
	rest := separators[1:]
	if sep == "" {
		return splitFixed(text, size)
	}

	pieces := splitKeepSeparator(text, sep)
	if len(pieces) == 1 {
		// Separator absent; fall through to the next priority.
		return splitWithSeparators(text, rest, size)
	}

	// Greedily merge adjacent pieces up to the target size, recursing into
	// any piece that is itself oversized.
	var segments []segment
	var pending strings.Builder
	flush := func() {
		if pending.Len() > 0 {
			segments = append(segments, segment{text: pending.String()})
			pending.Reset()
		}
	}
	for _, piece := range pieces {
		if len([]rune(piece)) > size {
			flush()
			segments = append(segments, splitWithSeparators(piece, rest, size)...)
			continue
		}
		if len([]rune(pending.String()))+len([]rune(piece)) > size {
			flush()
		}
		pending.WriteString(piece)
	}
	flush()
	return segments
}

// splitKeepSeparator splits text on sep, keeping the separator attached to
// the preceding piece so reassembly loses nothing.
func splitKeepSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return parts
	}
	pieces := make([]string, 0, len(parts))
	for i, part := range parts {
		if i < len(parts)-1 {
			pieces = append(pieces, part+sep)
		} else if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

// applyOverlap prepends roughly Overlap trailing characters of each chunk to
// its successor, snapped to the nearest separator boundary rather than an
// exact character offset.
func (c *Chunker) applyOverlap(segments []segment) []segment {
	out := make([]segment, len(segments))
	out[0] = segments[0]
	for i := 1; i < len(segments); i++ {
		tail := overlapTail(segments[i-1].text, c.config.Overlap, c.config.Separators)
		out[i] = segment{
			text:      tail + segments[i].text,
			truncated: segments[i].truncated,
		}
	}
	return out
}

// overlapTail returns the trailing portion of text closest to n runes long,
// starting just after the nearest separator boundary.
func overlapTail(text string, n int, separators []string) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	tail := string(runes[len(runes)-n:])

	// Snap forward to the first separator boundary inside the raw tail so
	// the overlap starts on a clean break instead of mid-word.
	for _, sep := range separators {
		if sep == "" {
			continue
		}
		if idx := strings.Index(tail, sep); idx >= 0 {
			return tail[idx+len(sep):]
		}
	}
	return tail
}

// newChunk builds a Chunk from a segment, computing its quality metrics.
func newChunk(seg segment) Chunk {
	words := strings.Fields(seg.text)
	return Chunk{
		ID:           uuid.NewString(),
		Text:         seg.text,
		CharCount:    len([]rune(seg.text)),
		WordCount:    len(words),
		QualityScore: scoreSegment(seg),
	}
}

// scoreSegment scores a segment in [0,1] from word count, punctuation
// density and whether it ends on a complete word.
func scoreSegment(seg segment) float64 {
	words := len(strings.Fields(seg.text))
	if words == 0 {
		return 0
	}

	score := 1.0
	if words < 5 {
		score -= 0.2
	}
	if ratio := punctuationRatio(seg.text); ratio > 0.3 {
		score -= ratio
	}
	if seg.truncated {
		score -= 0.3
	}
	if score < 0 {
		score = 0
	}
	return score
}

// punctuationRatio returns punctuation runes over total runes.
func punctuationRatio(text string) float64 {
	total := 0
	punct := 0
	for _, r := range text {
		total++
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(punct) / float64(total)
}

// filterQuality drops chunks below the word floor or above the punctuation
// ceiling. If filtering would leave the document with zero chunks, the
// highest-scoring chunk is kept instead.
func (c *Chunker) filterQuality(chunks []Chunk) []Chunk {
	if len(chunks) == 0 {
		return chunks
	}

	kept := make([]Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if c.config.MinWords > 0 && ch.WordCount < c.config.MinWords {
			continue
		}
		if c.config.MaxPunctuationRatio > 0 && punctuationRatio(ch.Text) > c.config.MaxPunctuationRatio {
			continue
		}
		kept = append(kept, ch)
	}

	if len(kept) == 0 {
		best := chunks[0]
		for _, ch := range chunks[1:] {
			if ch.QualityScore > best.QualityScore {
				best = ch
			}
		}
		return []Chunk{best}
	}
	return kept
}

package chunker

import (
	"strings"
)

const (
	// DefaultChunkSize is the target window size in words
	DefaultChunkSize = 500

	// DefaultOverlap is the number of words shared by consecutive windows
	DefaultOverlap = 50

	// DefaultMinBudget floors the body budget left after a context prefix
	DefaultMinBudget = 50
)

// Chunk is one retrievable unit of text
type Chunk struct {
	Text       string
	Title      string
	ChunkIndex int
	Metadata   map[string]any
}

// Chunker splits extracted text into overlapping word windows
type Chunker struct {
	size      int
	overlap   int
	minBudget int
}

// Option configures a Chunker
type Option func(*Chunker)

// WithChunkSize sets the target window size in words
func WithChunkSize(words int) Option {
	return func(c *Chunker) {
		if words > 0 {
			c.size = words
		}
	}
}

// WithOverlap sets the overlap between consecutive windows in words
func WithOverlap(words int) Option {
	return func(c *Chunker) {
		if words >= 0 {
			c.overlap = words
		}
	}
}

// WithMinBudget sets the floor for the body budget of prefixed chunks
func WithMinBudget(words int) Option {
	return func(c *Chunker) {
		if words > 0 {
			c.minBudget = words
		}
	}
}

// New creates a new Chunker instance
func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:      DefaultChunkSize,
		overlap:   DefaultOverlap,
		minBudget: DefaultMinBudget,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Size returns the target window size in words
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in words
func (c *Chunker) Overlap() int { return c.overlap }

// WordCount counts whitespace-delimited words
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// SplitIntoWindows splits text into windows of at most size words where
// consecutive windows share overlap words. The final window is always kept.
// Empty text yields no windows. An overlap >= size is clamped to size-1.
func SplitIntoWindows(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap >= size {
		overlap = size - 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	step := size - overlap
	windows := make([]string, 0, (len(words)-overlap+step-1)/step)
	for start := 0; ; start += step {
		end := min(start+size, len(words))
		windows = append(windows, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return windows
}

// ChunkPlain windows text and gives every chunk its own copy of meta
func (c *Chunker) ChunkPlain(text, title string, meta map[string]any) []Chunk {
	windows := SplitIntoWindows(text, c.size, c.overlap)
	chunks := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, Chunk{
			Text:       w,
			Title:      title,
			ChunkIndex: i,
			Metadata:   CloneMetadata(meta),
		})
	}
	return chunks
}

// ChunkWithPrefix prepends a fixed context prefix to body. When the prefixed
// text exceeds the target size the body is windowed with the remaining budget
// (floored at the minimum) and the prefix is repeated on every window.
func (c *Chunker) ChunkWithPrefix(prefix, body, title string, meta map[string]any) []Chunk {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if WordCount(prefix+body) <= c.size {
		return []Chunk{{
			Text:     prefix + body,
			Title:    title,
			Metadata: CloneMetadata(meta),
		}}
	}

	budget := max(c.size-WordCount(prefix), c.minBudget)
	windows := SplitIntoWindows(body, budget, c.overlap)
	chunks := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, Chunk{
			Text:       prefix + w,
			Title:      title,
			ChunkIndex: i,
			Metadata:   CloneMetadata(meta),
		})
	}
	return chunks
}

// Renumber assigns sequential chunk indexes across a whole unit
func Renumber(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].ChunkIndex = i
	}
	return chunks
}

// CloneMetadata deep-copies maps and slices so chunks never share metadata
func CloneMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

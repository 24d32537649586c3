package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMarkdown_Sections(t *testing.T) {
	body := `Preface line.

# Project
Intro text.

## Setup
Install things.

## Usage
Run it.
`
	c := New()
	chunks := c.ChunkMarkdown(body, "README", map[string]any{"tags": []string{"x"}})
	require.Len(t, chunks, 4)

	assert.NotContains(t, chunks[0].Metadata, "heading_path")
	assert.Contains(t, chunks[0].Text, "Preface")

	assert.Equal(t, "Project", chunks[1].Metadata["heading_path"])
	assert.Equal(t, "Project > Setup", chunks[2].Metadata["heading_path"])
	assert.Equal(t, "Project > Usage", chunks[3].Metadata["heading_path"])
	assert.Contains(t, chunks[3].Text, "## Usage")

	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, "README", ch.Title)
	}
}

func TestChunkMarkdown_FoldsEmptyHeadings(t *testing.T) {
	body := "# Top\n## Sub\nContent here.\n"
	chunks := New().ChunkMarkdown(body, "t", nil)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Top > Sub", chunks[0].Metadata["heading_path"])
	assert.Contains(t, chunks[0].Text, "# Top")
}

func TestChunkMarkdown_IgnoresFencedHeadings(t *testing.T) {
	body := "# Real\ntext\n```sh\n# not a heading\n```\n"
	chunks := New().ChunkMarkdown(body, "t", nil)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Real", chunks[0].Metadata["heading_path"])
	assert.Contains(t, chunks[0].Text, "# not a heading")
}

func TestChunkMarkdown_Empty(t *testing.T) {
	assert.Empty(t, New().ChunkMarkdown("", "t", nil))
	assert.Empty(t, New().ChunkMarkdown("\n\n", "t", nil))
}

func TestParseHeading(t *testing.T) {
	tests := []struct {
		in    string
		level int
		text  string
		ok    bool
	}{
		{"# A", 1, "A", true},
		{"### Deep ###", 3, "Deep", true},
		{"#NoSpace", 0, "", false},
		{"####### seven", 0, "", false},
		{"plain", 0, "", false},
		{"#", 0, "", false},
	}
	for _, tt := range tests {
		level, text, ok := parseHeading(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.level, level, tt.in)
		assert.Equal(t, tt.text, text, tt.in)
	}
}

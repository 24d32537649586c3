package chunker

import (
	"strings"
)

// section is a run of markdown under one heading path
type section struct {
	path []string
	text string
}

// ChunkMarkdown splits body at ATX headings, windows each section and
// records the heading path ("Top > Sub") in metadata. Headings inside fenced
// code blocks are ignored and a heading with no body is folded into the next
// section.
func (c *Chunker) ChunkMarkdown(body, title string, meta map[string]any) []Chunk {
	var chunks []Chunk
	for _, s := range splitSections(body) {
		m := CloneMetadata(meta)
		if len(s.path) > 0 {
			m["heading_path"] = strings.Join(s.path, " > ")
		}
		chunks = append(chunks, c.ChunkPlain(s.text, title, m)...)
	}
	return Renumber(chunks)
}

func splitSections(body string) []section {
	var (
		sections []section
		stack    []string
		buf      strings.Builder
		pending  []string // heading lines not yet followed by content
		inFence  bool
		hasBody  bool
	)

	flush := func() {
		if hasBody {
			sections = append(sections, section{
				path: append([]string(nil), stack...),
				text: buf.String(),
			})
			buf.Reset()
			pending = nil
			hasBody = false
		}
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if level, text, ok := parseHeading(trimmed); ok {
				flush()
				if len(stack) >= level {
					stack = stack[:level-1]
				}
				for len(stack) < level-1 {
					stack = append(stack, "")
				}
				stack = append(stack, text)
				pending = append(pending, line)
				buf.Reset()
				for _, p := range pending {
					buf.WriteString(p)
					buf.WriteByte('\n')
				}
				continue
			}
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
		if trimmed != "" {
			hasBody = true
		}
	}
	flush()
	if len(sections) == 0 && len(pending) > 0 {
		sections = append(sections, section{path: compact(stack), text: buf.String()})
	}
	for i := range sections {
		sections[i].path = compact(sections[i].path)
	}
	return sections
}

// parseHeading recognises "# Title" through "###### Title"
func parseHeading(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	text := strings.TrimSpace(strings.TrimRight(line[level:], "#"))
	if text == "" {
		return 0, "", false
	}
	return level, text, true
}

func compact(path []string) []string {
	out := make([]string, 0, len(path))
	for _, p := range path {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

package indexer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/dshills/localrag/internal/chunker"
	"github.com/dshills/localrag/pkg/types"
)

// documentTypes maps document extensions to source types
var documentTypes = map[string]string{
	".md":   types.SourceMarkdown,
	".txt":  types.SourcePlaintext,
	".csv":  types.SourcePlaintext,
	".json": types.SourcePlaintext,
	".yaml": types.SourcePlaintext,
	".yml":  types.SourcePlaintext,
	".html": types.SourceHTML,
	".htm":  types.SourceHTML,
	".pdf":  "pdf",
	".docx": "docx",
}

// unsupportedTypes are recognized formats without an extractor in this build
var unsupportedTypes = map[string]bool{
	"pdf":  true,
	"docx": true,
}

// documentType returns the source type for a document path
func documentType(path string) (string, bool) {
	t, ok := documentTypes[strings.ToLower(filepath.Ext(path))]
	return t, ok
}

// extractDocument reads a document and chunks it by type
func extractDocument(path, sourceType string, c *chunker.Chunker) ([]chunker.Chunk, error) {
	if unsupportedTypes[sourceType] {
		return nil, fmt.Errorf("no extractor for %s files", sourceType)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	title := filepath.Base(path)

	switch sourceType {
	case types.SourceMarkdown:
		doc := parseMarkdown(string(content), title)
		meta := map[string]any{}
		if len(doc.Tags) > 0 {
			meta["tags"] = doc.Tags
		}
		if len(doc.Links) > 0 {
			meta["links"] = doc.Links
		}
		for k, v := range doc.Fields {
			meta[k] = v
		}
		return c.ChunkMarkdown(doc.Body, doc.Title, meta), nil
	case types.SourceHTML:
		text, err := htmlText(content)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return c.ChunkPlain(text, title, nil), nil
	default:
		text := strings.ToValidUTF8(string(content), "\ufffd")
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return c.ChunkPlain(text, title, nil), nil
	}
}

// markdownDoc is a markdown note split into frontmatter-derived fields and body
type markdownDoc struct {
	Title  string
	Body   string
	Tags   []string
	Links  []string
	Fields map[string]any // date, author, authors
}

var (
	inlineTag = regexp.MustCompile(`(?:^|\s)#([\p{L}][\p{L}\p{N}_/-]*)`)
	wikiLink  = regexp.MustCompile(`\[\[([^\]|#]+)`)
)

// parseMarkdown splits YAML frontmatter from the body and collects tags and
// wiki links
func parseMarkdown(text, filename string) markdownDoc {
	doc := markdownDoc{
		Title:  strings.TrimSuffix(filename, filepath.Ext(filename)),
		Body:   text,
		Fields: map[string]any{},
	}

	fm, body, ok := splitFrontmatter(text)
	if ok {
		doc.Body = body
		var front map[string]any
		if err := yaml.Unmarshal([]byte(fm), &front); err == nil {
			if t, ok := front["title"].(string); ok && strings.TrimSpace(t) != "" {
				doc.Title = strings.TrimSpace(t)
			}
			doc.Tags = append(doc.Tags, stringList(front["tags"])...)
			if d := dateString(front["date"]); d != "" {
				doc.Fields["date"] = d
			}
			if a, ok := front["author"].(string); ok && a != "" {
				doc.Fields["author"] = a
			}
			if authors := stringList(front["authors"]); len(authors) > 0 {
				doc.Fields["authors"] = authors
			}
		}
	}

	seen := make(map[string]bool, len(doc.Tags))
	for _, t := range doc.Tags {
		seen[t] = true
	}
	for _, m := range inlineTag.FindAllStringSubmatch(doc.Body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			doc.Tags = append(doc.Tags, m[1])
		}
	}

	linked := map[string]bool{}
	for _, m := range wikiLink.FindAllStringSubmatch(doc.Body, -1) {
		link := strings.TrimSpace(m[1])
		if link != "" && !linked[link] {
			linked[link] = true
			doc.Links = append(doc.Links, link)
		}
	}
	return doc
}

func splitFrontmatter(text string) (front, body string, ok bool) {
	text = strings.TrimPrefix(text, "\ufeff")
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return "", text, false
	}
	lines := strings.SplitAfter(text, "\n")
	for i := 1; i < len(lines); i++ {
		l := strings.TrimRight(lines[i], "\r\n")
		if l == "---" || l == "..." {
			return strings.Join(lines[1:i], ""), strings.Join(lines[i+1:], ""), true
		}
	}
	return "", text, false
}

// stringList accepts a YAML list or a comma/space separated string
func stringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimPrefix(strings.TrimSpace(s), "#"))
			}
		}
	case string:
		for _, s := range strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, strings.TrimPrefix(s, "#"))
		}
	}
	return out
}

func dateString(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.DateOnly)
	case string:
		return strings.TrimSpace(t)
	}
	return ""
}

// htmlText returns the visible text of an HTML document, one line per block
func htmlText(content []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(content))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			return collapseBlankLines(b.String()), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "template":
				skip++
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "template":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip == 0 {
				if t := strings.TrimSpace(string(z.Text())); t != "" {
					b.WriteString(t)
					b.WriteByte(' ')
				}
			}
		}
	}
}

func collapseBlankLines(s string) string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

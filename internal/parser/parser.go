package parser

import (
	"fmt"
	"go/token"
	"os"
	"strings"
	"unicode/utf8"
)

// Symbol types reported on blocks
const (
	SymbolFunction  = "function"
	SymbolMethod    = "method"
	SymbolClass     = "class"
	SymbolType      = "type"
	SymbolStruct    = "struct"
	SymbolInterface = "interface"
	SymbolModuleTop = "module_top"

	// Names of blocks that are not a single declaration
	NameTopLevel = "(top-level)"
	NameFile     = "(file)"
)

// Block is a structural unit of a source file
type Block struct {
	Text       string
	Language   string
	SymbolName string
	SymbolType string
	StartLine  int // 1-based, inclusive
	EndLine    int // 1-based, inclusive
	FilePath   string
}

// Document is a parsed source file
type Document struct {
	FilePath string
	Language string
	Blocks   []Block
}

// span marks the lines of one declaration
type span struct {
	start, end int
	name, kind string
}

// Parser splits source files into blocks
type Parser struct {
	fset *token.FileSet
}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{
		fset: token.NewFileSet(),
	}
}

// ParseFile reads absPath and splits it into blocks. relPath is recorded on
// every block for display.
func (p *Parser) ParseFile(absPath, relPath, language string) (*Document, error) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseSource(content, relPath, language), nil
}

// ParseSource splits already-read content into blocks. Languages without a
// structural splitter, and sources that fail to parse, become one file block.
func (p *Parser) ParseSource(content []byte, relPath, language string) *Document {
	doc := &Document{FilePath: relPath, Language: language}

	text := decode(content)
	if strings.TrimSpace(text) == "" {
		return doc
	}

	var spans []span
	var ok bool
	switch language {
	case LangGo:
		spans, ok = p.goSpans(relPath, content)
	case LangPython:
		spans, ok = pythonSpans(text), true
	}

	if ok {
		doc.Blocks = buildBlocks(strings.Split(text, "\n"), spans, language, relPath)
	}

	if len(doc.Blocks) == 0 {
		doc.Blocks = append(doc.Blocks, Block{
			Text:       text,
			Language:   language,
			SymbolName: NameFile,
			SymbolType: SymbolModuleTop,
			StartLine:  1,
			EndLine:    strings.Count(text, "\n") + 1,
			FilePath:   relPath,
		})
	}
	return doc
}

// buildBlocks emits one block per span and gathers the lines between spans
// into top-level blocks
func buildBlocks(lines []string, spans []span, language, relPath string) []Block {
	var blocks []Block

	flushTop := func(from, to int) {
		for from <= to && strings.TrimSpace(lines[from-1]) == "" {
			from++
		}
		for to >= from && strings.TrimSpace(lines[to-1]) == "" {
			to--
		}
		if from > to {
			return
		}
		blocks = append(blocks, Block{
			Text:       strings.Join(lines[from-1:to], "\n"),
			Language:   language,
			SymbolName: NameTopLevel,
			SymbolType: SymbolModuleTop,
			StartLine:  from,
			EndLine:    to,
			FilePath:   relPath,
		})
	}

	next := 1
	for _, s := range spans {
		if s.start < next || s.end > len(lines) || s.end < s.start {
			continue
		}
		flushTop(next, s.start-1)
		blocks = append(blocks, Block{
			Text:       strings.Join(lines[s.start-1:s.end], "\n"),
			Language:   language,
			SymbolName: s.name,
			SymbolType: s.kind,
			StartLine:  s.start,
			EndLine:    s.end,
			FilePath:   relPath,
		})
		next = s.end + 1
	}
	flushTop(next, len(lines))

	return blocks
}

// decode converts content to a string, replacing invalid UTF-8
func decode(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), "\ufffd")
}

// Package parser splits source files into structural blocks for indexing.
//
// Go files are parsed with go/ast: every top-level function, method and type
// declaration (with its doc comment) becomes a block. Python files are split
// at column-zero def and class statements. Code between declarations is
// gathered into "(top-level)" blocks of type module_top.
//
// Every other language, and any file that fails to parse, becomes a single
// "(file)" block. Whitespace-only files yield no blocks.
//
//	p := parser.New()
//	doc, err := p.ParseFile("/repo/pkg/user.go", "pkg/user.go", "go")
//	for _, b := range doc.Blocks {
//	    fmt.Printf("%s %s:%d-%d\n", b.SymbolType, b.SymbolName, b.StartLine, b.EndLine)
//	}
package parser

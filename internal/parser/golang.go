package parser

import (
	"go/ast"
	"go/parser"
	"go/token"
)

// goSpans returns one span per top-level func, method and type declaration.
// The second result is false when the file does not parse.
func (p *Parser) goSpans(filename string, content []byte) ([]span, bool) {
	file, err := parser.ParseFile(p.fset, filename, content, parser.ParseComments)
	if err != nil || file == nil {
		return nil, false
	}

	spans := make([]span, 0, len(file.Decls))
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			s := span{
				start: p.line(d.Pos()),
				end:   p.line(d.End()),
				name:  d.Name.Name,
				kind:  SymbolFunction,
			}
			if d.Doc != nil {
				s.start = p.line(d.Doc.Pos())
			}
			if d.Recv != nil && len(d.Recv.List) > 0 {
				s.kind = SymbolMethod
				if recv := receiverType(d.Recv.List[0].Type); recv != "" {
					s.name = recv + "." + d.Name.Name
				}
			}
			spans = append(spans, s)
		case *ast.GenDecl:
			if d.Tok != token.TYPE || len(d.Specs) == 0 {
				continue
			}
			ts, ok := d.Specs[0].(*ast.TypeSpec)
			if !ok {
				continue
			}
			s := span{
				start: p.line(d.Pos()),
				end:   p.line(d.End()),
				name:  ts.Name.Name,
				kind:  SymbolType,
			}
			if d.Doc != nil {
				s.start = p.line(d.Doc.Pos())
			}
			if len(d.Specs) == 1 {
				switch ts.Type.(type) {
				case *ast.StructType:
					s.kind = SymbolStruct
				case *ast.InterfaceType:
					s.kind = SymbolInterface
				}
			}
			spans = append(spans, s)
		}
	}
	return spans, true
}

func (p *Parser) line(pos token.Pos) int {
	return p.fset.Position(pos).Line
}

// receiverType extracts the receiver type name from a method
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

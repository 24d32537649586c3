package parser

import (
	"strings"
)

// pythonSpans splits at column-zero def, async def and class statements,
// pulling any decorators above them into the same span
func pythonSpans(text string) []span {
	lines := strings.Split(text, "\n")
	var spans []span

	for i := 0; i < len(lines); {
		start := i
		j := i
		for j < len(lines) && strings.HasPrefix(lines[j], "@") {
			j++
		}
		if j >= len(lines) {
			break
		}
		name, kind, ok := pythonHeader(lines[j])
		if !ok {
			i = j + 1
			continue
		}

		end := j
		for k := j + 1; k < len(lines); k++ {
			line := lines[k]
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !continuesBlock(line) {
				break
			}
			end = k
		}

		spans = append(spans, span{start: start + 1, end: end + 1, name: name, kind: kind})
		i = end + 1
	}
	return spans
}

// continuesBlock reports whether a non-blank line belongs to the block above
func continuesBlock(line string) bool {
	switch line[0] {
	case ' ', '\t', ')', ']', '}':
		return true
	}
	return false
}

func pythonHeader(line string) (name, kind string, ok bool) {
	rest := line
	switch {
	case strings.HasPrefix(rest, "async def "):
		rest, kind = rest[len("async def "):], SymbolFunction
	case strings.HasPrefix(rest, "def "):
		rest, kind = rest[len("def "):], SymbolFunction
	case strings.HasPrefix(rest, "class "):
		rest, kind = rest[len("class "):], SymbolClass
	default:
		return "", "", false
	}
	end := strings.IndexAny(rest, "(:[ ")
	if end < 0 {
		end = len(rest)
	}
	name = strings.TrimSpace(rest[:end])
	if name == "" {
		return "", "", false
	}
	return name, kind, true
}

package parser

import (
	"path/filepath"
	"sort"
	"strings"
)

// Language names reported in block metadata
const (
	LangGo        = "go"
	LangPython    = "python"
	LangPlaintext = "plaintext"
	LangMarkdown  = "markdown"
)

var extensionLanguages = map[string]string{
	".py":     LangPython,
	".go":     LangGo,
	".tf":     "hcl",
	".tfvars": "hcl",
	".hcl":    "hcl",
	".ts":     "typescript",
	".tsx":    "tsx",
	".js":     "javascript",
	".jsx":    "javascript",
	".rs":     "rust",
	".java":   "java",
	".c":      "c",
	".h":      "c",
	".cpp":    "cpp",
	".cc":     "cpp",
	".hpp":    "cpp",
	".cs":     "csharp",
	".rb":     "ruby",
	".sh":     "bash",
	".bash":   "bash",
	".yaml":   "yaml",
	".yml":    "yaml",
	".json":   "json",
	".txt":    LangPlaintext,
	".csv":    LangPlaintext,
	".rst":    LangPlaintext,
	".md":     LangMarkdown,
	".toml":   "toml",
	".sql":    "sql",
	".xml":    "xml",
	".html":   "html",
	".htm":    "html",
	".css":    "css",
	".scss":   "scss",
}

var filenameLanguages = map[string]string{
	"Dockerfile": "dockerfile",
	"Makefile":   "make",
}

// Language reports the language of a file from its name or extension.
func Language(path string) (string, bool) {
	base := filepath.Base(path)
	if lang, ok := filenameLanguages[base]; ok {
		return lang, true
	}
	lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(base))]
	return lang, ok
}

// IsCodeFile reports whether path has a known language
func IsCodeFile(path string) bool {
	_, ok := Language(path)
	return ok
}

// SupportedExtensions returns the sorted list of recognized extensions
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionLanguages))
	for ext := range extensionLanguages {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

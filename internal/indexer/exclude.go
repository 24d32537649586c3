package indexer

import (
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExcludePatterns is the deny-list applied to repository files before
// language detection: build output, dependency trees, lockfiles and editor
// metadata.
var DefaultExcludePatterns = []string{
	"**/.DS_Store",
	"**/.idea/**",
	"**/.vscode/**",
	"**/node_modules/**",
	"**/__pycache__/**",
	"**/.mypy_cache/**",
	"**/.pytest_cache/**",
	"**/.tox/**",
	"**/dist/**",
	"**/build/**",
	"**/*.egg-info/**",
	"**/vendor/**",
	"**/.terraform/**",
	"**/.terraform.lock.hcl",
	"**/go.sum",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/Cargo.lock",
	"**/poetry.lock",
	"**/uv.lock",
	"**/cdk.out/**",
}

// Excluder matches slash-separated relative paths against glob patterns
type Excluder struct {
	patterns []string
}

// NewExcluder returns an Excluder for the default patterns plus extra
func NewExcluder(extra ...string) (*Excluder, error) {
	patterns := append([]string(nil), DefaultExcludePatterns...)
	for _, p := range extra {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
		patterns = append(patterns, p)
	}
	return &Excluder{patterns: patterns}, nil
}

// Excluded reports whether relPath matches any pattern
func (e *Excluder) Excluded(relPath string) bool {
	rel := filepath.ToSlash(relPath)
	for _, p := range e.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

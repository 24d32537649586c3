package types

// CollectionType classifies a collection
type CollectionType string

const (
	CollectionSystem  CollectionType = "system"
	CollectionProject CollectionType = "project"
	CollectionCode    CollectionType = "code"
)

// Valid reports whether t is a known collection type
func (t CollectionType) Valid() bool {
	switch t {
	case CollectionSystem, CollectionProject, CollectionCode:
		return true
	}
	return false
}

// Source types produced by the shipped drivers
const (
	SourceMarkdown  = "markdown"
	SourcePlaintext = "plaintext"
	SourceHTML      = "html"
	SourceCode      = "code"
	SourceCommit    = "commit"
)

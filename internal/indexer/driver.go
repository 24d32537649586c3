package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/localrag/internal/chunker"
	"github.com/dshills/localrag/internal/storage"
	"github.com/dshills/localrag/pkg/types"
)

// Driver supplies the units of one collection and extracts their text.
// Everything else (change detection, embedding, persistence, error
// isolation) is done by the Indexer.
type Driver interface {
	// Name is the collection the driver indexes into
	Name() string
	CollectionType() types.CollectionType
	// Enumerate lists the units of this run. It may remove obsolete
	// sources through run.Delete.
	Enumerate(ctx context.Context, run *Run) ([]Unit, error)
	// Extract returns the chunks of one unit; no chunks means skipped
	Extract(ctx context.Context, unit Unit) (*Extraction, error)
}

// Fingerprinter computes fingerprints that Enumerate leaves empty. File
// drivers hash lazily so one unreadable file is a unit error, not a run error.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, unit Unit) (fingerprint, modifiedAt string, err error)
}

// Finisher runs after the last unit, typically to move watermarks
type Finisher interface {
	Finish(ctx context.Context, run *Run) error
}

// PathProvider is implemented by drivers whose collection records root paths
type PathProvider interface {
	Paths() []string
}

// Unit is one indexable source
type Unit struct {
	SourcePath  string
	SourceType  string
	Fingerprint string
	ModifiedAt  string
	// Label names the unit in progress output and error messages
	Label string
	// Group ties units to a watermark key, such as a repository
	Group string
}

func (u Unit) label() string {
	if u.Label != "" {
		return u.Label
	}
	return u.SourcePath
}

// Extraction is the chunked content of a unit
type Extraction struct {
	Chunks []chunker.Chunk
}

// Outcome is the result of indexing one unit
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeIndexed
	OutcomeSkipped
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIndexed:
		return "indexed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeError:
		return "error"
	default:
		return "pending"
	}
}

// Run is the state shared by the Indexer and a Driver for one run
type Run struct {
	ID         string
	Collection *storage.Collection
	Force      bool
	// Watermarks is a working copy; changes are persisted after Finish
	Watermarks storage.Watermarks
	Logger     zerolog.Logger
	Summary    *RunSummary

	store    storage.Storage
	mu       sync.Mutex
	outcomes map[string]Outcome
}

// Outcome reports what happened to the unit with sourcePath
func (r *Run) Outcome(sourcePath string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[sourcePath]
}

func (r *Run) record(sourcePath string, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[sourcePath] = o
}

// Cancelled reports whether the run stopped before every unit was processed
func (r *Run) Cancelled() bool {
	return r.Summary.Cancelled
}

// Delete removes a source with its documents and vectors. Missing sources
// are ignored.
func (r *Run) Delete(ctx context.Context, sourcePath string) error {
	src, err := r.store.GetSource(ctx, r.Collection.ID, sourcePath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.store.DeleteSource(ctx, src.ID); err != nil {
		return fmt.Errorf("delete %s: %w", sourcePath, err)
	}
	r.Summary.Deleted++
	r.Logger.Debug().Str("source", sourcePath).Msg("deleted source")
	return nil
}

// DeletePrefix removes every source of sourceType whose path starts with prefix
func (r *Run) DeletePrefix(ctx context.Context, sourceType, prefix string) error {
	n, err := r.store.DeleteSourcesByPrefix(ctx, r.Collection.ID, sourceType, prefix)
	if err != nil {
		return err
	}
	r.Summary.Deleted += n
	return nil
}

// SourcePaths lists the stored source paths of sourceType in this collection
func (r *Run) SourcePaths(ctx context.Context, sourceType string) ([]string, error) {
	return r.store.ListSourcePaths(ctx, r.Collection.ID, sourceType)
}

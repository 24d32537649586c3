package indexer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/localrag/internal/embedder"
	"github.com/dshills/localrag/internal/storage"
	"github.com/dshills/localrag/pkg/types"
)

// Indexer runs the change-detection and upsert protocol for a Driver:
// fingerprint, compare, then skip or extract, embed and replace.
type Indexer struct {
	storage   storage.Storage
	embedder  embedder.Embedder
	batchSize int
	logger    zerolog.Logger
}

// Option configures an Indexer
type Option func(*Indexer)

// WithBatchSize sets how many chunk texts go into one embedding request
func WithBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(idx *Indexer) { idx.logger = logger }
}

// New creates a new Indexer instance
func New(store storage.Storage, emb embedder.Embedder, opts ...Option) *Indexer {
	idx := &Indexer{
		storage:   store,
		embedder:  emb,
		batchSize: embedder.DefaultBatchSize,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// ProgressFunc is called before each unit with its 1-based position
type ProgressFunc func(current, total int, label string)

// RunOptions controls one run
type RunOptions struct {
	// Force bypasses fingerprint comparison and re-embeds every unit
	Force    bool
	Progress ProgressFunc
	// Description replaces the collection description when non-empty
	Description string
}

// Run indexes every unit the driver enumerates. Unit failures are counted
// in the summary and never stop sibling units. Fatal errors (see
// types.IsFatal) abort the run and are returned with the partial summary,
// as is ctx.Err() when the context is cancelled between units.
func (idx *Indexer) Run(ctx context.Context, d Driver, opts RunOptions) (*RunSummary, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := idx.logger.With().
		Str("run_id", runID).
		Str("collection", d.Name()).
		Logger()

	summary := &RunSummary{RunID: runID, Collection: d.Name()}
	defer func() {
		summary.Duration = time.Since(start)
		summary.finalize()
	}()

	var paths []string
	if pp, ok := d.(PathProvider); ok {
		paths = pp.Paths()
	}
	var collOpts []storage.CollectionOption
	if opts.Description != "" {
		collOpts = append(collOpts, storage.WithDescription(opts.Description))
	}
	coll, err := idx.storage.GetOrCreateCollection(ctx, d.Name(), d.CollectionType(), paths, collOpts...)
	if err != nil {
		return summary, fmt.Errorf("failed to get or create collection: %w", err)
	}

	run := &Run{
		ID:         runID,
		Collection: coll,
		Force:      opts.Force,
		Watermarks: coll.Watermarks.Clone(),
		Logger:     logger,
		Summary:    summary,
		store:      idx.storage,
		outcomes:   make(map[string]Outcome),
	}

	units, err := d.Enumerate(ctx, run)
	if err != nil {
		return summary, fmt.Errorf("failed to enumerate %s: %w", d.Name(), err)
	}
	summary.TotalFound = len(units)
	logger.Info().Int("units", len(units)).Bool("force", opts.Force).Msg("index run started")

	for i, unit := range units {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(units), unit.label())
		}

		outcome, err := idx.indexUnit(ctx, run, d, unit)
		if err != nil {
			if types.IsFatal(err) {
				run.record(unit.SourcePath, OutcomeError)
				logger.Error().Err(err).Str("unit", unit.label()).Msg("aborting run")
				return summary, err
			}
			if ctx.Err() != nil {
				summary.Cancelled = true
				break
			}
			outcome = OutcomeError
			msg := fmt.Sprintf("%s: %v", unit.label(), err)
			if summary.addError(msg) {
				logger.Error().Err(err).Str("unit", unit.label()).Msg("failed to index unit")
			} else if summary.Suppressed() == 1 {
				logger.Warn().Msg("further errors suppressed")
			}
		}
		run.record(unit.SourcePath, outcome)

		switch outcome {
		case OutcomeIndexed:
			summary.Indexed++
		case OutcomeSkipped:
			summary.Skipped++
		}
	}

	if f, ok := d.(Finisher); ok {
		if err := f.Finish(ctx, run); err != nil {
			return summary, fmt.Errorf("failed to finish %s: %w", d.Name(), err)
		}
	}
	if !maps.Equal(run.Watermarks, coll.Watermarks) {
		if err := idx.storage.SetWatermarks(ctx, coll.ID, run.Watermarks); err != nil {
			return summary, fmt.Errorf("failed to save watermarks: %w", err)
		}
	}

	logger.Info().
		Int("indexed", summary.Indexed).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Int("deleted", summary.Deleted).
		Int("total_found", summary.TotalFound).
		Dur("elapsed", time.Since(start)).
		Msg("index run finished")

	if summary.Cancelled {
		return summary, ctx.Err()
	}
	return summary, nil
}

// indexUnit applies the protocol to one unit
func (idx *Indexer) indexUnit(ctx context.Context, run *Run, d Driver, unit Unit) (Outcome, error) {
	if unit.Fingerprint == "" {
		if fp, ok := d.(Fingerprinter); ok {
			hash, modified, err := fp.Fingerprint(ctx, unit)
			if errors.Is(err, errSkipUnit) {
				run.Logger.Warn().Str("unit", unit.label()).Msg("unit disappeared, skipping")
				return OutcomeSkipped, nil
			}
			if err != nil {
				return OutcomeError, err
			}
			unit.Fingerprint = hash
			if unit.ModifiedAt == "" {
				unit.ModifiedAt = modified
			}
		}
	}

	if !run.Force && unit.Fingerprint != "" {
		existing, err := idx.storage.GetSource(ctx, run.Collection.ID, unit.SourcePath)
		switch {
		case err == nil:
			if existing.FileHash != nil && *existing.FileHash == unit.Fingerprint {
				run.Logger.Debug().Str("unit", unit.label()).Msg("unchanged, skipping")
				return OutcomeSkipped, nil
			}
		case !errors.Is(err, storage.ErrNotFound):
			return OutcomeError, err
		}
	}

	ext, err := d.Extract(ctx, unit)
	if errors.Is(err, errSkipUnit) {
		run.Logger.Warn().Str("unit", unit.label()).Msg("unit disappeared, skipping")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeError, err
	}
	if ext == nil || len(ext.Chunks) == 0 {
		run.Logger.Debug().Str("unit", unit.label()).Msg("no content extracted, skipping")
		return OutcomeSkipped, nil
	}

	texts := make([]string, len(ext.Chunks))
	for i, c := range ext.Chunks {
		texts[i] = c.Text
	}
	vectors, err := embedder.EmbedTexts(ctx, idx.embedder, texts, idx.batchSize, run.Logger)
	if err != nil {
		return OutcomeError, fmt.Errorf("embed: %w", err)
	}

	if err := idx.replaceSource(ctx, run.Collection.ID, unit, ext, vectors); err != nil {
		return OutcomeError, err
	}
	run.Logger.Info().Str("unit", unit.label()).Int("chunks", len(ext.Chunks)).Msg("indexed")
	return OutcomeIndexed, nil
}

// replaceSource swaps the stored documents of a unit for new ones in one
// transaction
func (idx *Indexer) replaceSource(ctx context.Context, collectionID int64, unit Unit, ext *Extraction, vectors [][]float32) error {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := tx.GetSource(ctx, collectionID, unit.SourcePath)
	switch {
	case err == nil:
		if err := tx.DeleteDocumentsBySource(ctx, existing.ID); err != nil {
			return err
		}
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	src := &storage.Source{
		CollectionID: collectionID,
		SourceType:   unit.SourceType,
		SourcePath:   unit.SourcePath,
	}
	if unit.Fingerprint != "" {
		src.FileHash = &unit.Fingerprint
	}
	if unit.ModifiedAt != "" {
		src.FileModifiedAt = &unit.ModifiedAt
	}
	if err := tx.UpsertSource(ctx, src); err != nil {
		return err
	}

	for i, c := range ext.Chunks {
		doc := &storage.Document{
			SourceID:     src.ID,
			CollectionID: collectionID,
			ChunkIndex:   i,
			Title:        c.Title,
			Content:      c.Text,
			Metadata:     c.Metadata,
		}
		if err := tx.InsertDocument(ctx, doc, vectors[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

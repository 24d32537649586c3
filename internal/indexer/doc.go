// Package indexer runs the change-detection and upsert protocol that keeps
// collections in step with their sources.
//
// # Basic Usage
//
//	idx := indexer.New(store, emb, indexer.WithLogger(logger))
//
//	driver := indexer.NewProjectDriver("notes", []string{"/path/to/notes"}, chunker.New(), logger)
//	summary, err := idx.Run(ctx, driver, indexer.RunOptions{})
//
//	fmt.Println(summary) // Indexed: 12, Skipped: 240, Errors: 0, Total found: 252
//
// # Drivers
//
// A Driver enumerates the units of one collection (files, commits) and
// extracts their chunks. The Indexer owns everything else:
//
//  1. Fingerprint: taken from the unit, or computed lazily by a Fingerprinter
//  2. Compare: an unchanged fingerprint is skipped unless the run is forced
//  3. Extract: the driver returns chunks; none means skipped
//  4. Embed: chunk texts are embedded in batches
//  5. Replace: old documents are removed and new ones written in one transaction
//
// Shipped drivers are ProjectDriver (document folders), ObsidianDriver
// (vaults) and GitDriver (a group of repositories with their commit history).
//
// # Error Handling
//
// A failing unit is counted in the RunSummary and never stops its siblings.
// The first MaxErrorMessages messages are kept, followed by a single
// "... and N more errors suppressed" line.
//
// Fatal errors (types.IsFatal), such as the embedding service refusing
// connections, abort the run. The partial summary is returned with the error.
//
// # Watermarks
//
// Git drivers record progress per repository in the collection watermarks:
//
//	/home/me/src/app          -> HEAD sha of the last clean code pass
//	/home/me/src/app:history  -> last commit whose history was indexed
//
// The code watermark only moves when every file of the pass succeeded, so
// a failure is retried with the same diff on the next run.
//
// # Cancellation
//
// The context is checked between units. A cancelled run keeps whatever
// units finished, reports Cancelled in the summary and returns ctx.Err().
package indexer

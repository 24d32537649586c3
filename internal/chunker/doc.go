// Package chunker turns extracted text into bounded, metadata-carrying chunks.
//
// Sizes are whitespace-delimited word counts. SplitIntoWindows produces
// windows of at most size words where neighbours share overlap words; the
// final window is kept even when short.
//
// Structured sources (code blocks, commit diffs) use ChunkWithPrefix: a
// fixed context prefix such as
//
//	[internal/app/run.go:12-48] [go] [function: Run]
//
// is prepended before the size check. If prefix and body do not fit, only
// the body is windowed, with a budget of size minus the prefix words (never
// below the minimum budget), and the prefix is repeated on every window.
//
// Every chunk owns a deep copy of the metadata it was given. Callers that
// assemble chunks from several blocks call Renumber so chunk indexes run
// sequentially across the whole unit.
package chunker

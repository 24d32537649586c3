package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/localrag/internal/chunker"
	"github.com/dshills/localrag/internal/gitrepo"
	"github.com/dshills/localrag/internal/parser"
	"github.com/dshills/localrag/internal/storage"
	"github.com/dshills/localrag/pkg/types"
)

// DefaultHistoryMonths bounds how far back the commit history is read
const DefaultHistoryMonths = 6

// commitURIScheme prefixes commit source paths: git://<repo>#<sha>
const commitURIScheme = "git://"

// errSkipUnit marks a unit that vanished between enumeration and indexing
var errSkipUnit = errors.New("unit skipped")

// RepoOpener opens the repository rooted at path
type RepoOpener func(ctx context.Context, path string) (gitrepo.Repo, error)

func openExec(ctx context.Context, path string) (gitrepo.Repo, error) {
	return gitrepo.Open(ctx, path)
}

// GitOptions configures a GitDriver
type GitOptions struct {
	// HistoryMonths enables the commit-history stream when positive
	HistoryMonths int
	// SubjectBlacklist drops commits whose subject starts with any entry
	SubjectBlacklist []string
	// Exclude adds doublestar patterns to DefaultExcludePatterns
	Exclude []string
	// Open defaults to gitrepo.Open
	Open RepoOpener
}

// GitDriver indexes a group of repositories into one code collection. Each
// repository contributes a code stream (tracked source files, incremental
// on the HEAD watermark) and optionally a history stream (one source per
// commit, incremental on the last fully indexed commit).
type GitDriver struct {
	name     string
	repos    []string
	opts     GitOptions
	excluder *Excluder
	parser   *parser.Parser
	chunker  *chunker.Chunker
	logger   zerolog.Logger

	states  []*repoState
	commits map[string]*commitRef
}

// repoState is what Enumerate learned about one repository in this run
type repoState struct {
	key  string
	name string
	repo gitrepo.Repo
	head string
	// codePass is false when HEAD matched the watermark or listing failed
	codePass  bool
	codeUnits []string
	// history holds every commit read from the log, blacklisted ones included
	history    []gitrepo.Commit
	historyRun bool
}

type commitRef struct {
	state  *repoState
	commit gitrepo.Commit
}

// NewGitDriver creates a driver for the code group name
func NewGitDriver(name string, repos []string, c *chunker.Chunker, opts GitOptions, logger zerolog.Logger) (*GitDriver, error) {
	excluder, err := NewExcluder(opts.Exclude...)
	if err != nil {
		return nil, err
	}
	if opts.Open == nil {
		opts.Open = openExec
	}
	return &GitDriver{
		name:     name,
		repos:    absPaths(repos),
		opts:     opts,
		excluder: excluder,
		parser:   parser.New(),
		chunker:  c,
		logger:   logger,
	}, nil
}

func (g *GitDriver) Name() string { return g.name }

func (g *GitDriver) CollectionType() types.CollectionType { return types.CollectionCode }

func (g *GitDriver) Paths() []string { return append([]string(nil), g.repos...) }

// Enumerate lists changed files and new commits of every repository.
// Repositories that cannot be read are reported in the summary and do not
// stop the others.
func (g *GitDriver) Enumerate(ctx context.Context, run *Run) ([]Unit, error) {
	g.states = nil
	g.commits = make(map[string]*commitRef)

	var units []Unit
	for _, path := range g.repos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		repo, err := g.opts.Open(ctx, path)
		if err != nil {
			run.Summary.addError(fmt.Sprintf("%s: %v", path, err))
			run.Logger.Error().Err(err).Str("repo", path).Msg("failed to open repository")
			continue
		}
		head, err := repo.HeadSHA(ctx)
		if err != nil {
			run.Summary.addError(fmt.Sprintf("%s: %v", path, err))
			run.Logger.Error().Err(err).Str("repo", path).Msg("failed to resolve HEAD")
			continue
		}
		st := &repoState{key: path, name: filepath.Base(path), repo: repo, head: head}
		g.states = append(g.states, st)

		codeUnits, err := g.codeUnits(ctx, run, st)
		if err != nil {
			if types.IsFatal(err) || ctx.Err() != nil {
				return nil, err
			}
			run.Summary.addError(fmt.Sprintf("%s: %v", path, err))
			run.Logger.Error().Err(err).Str("repo", path).Msg("failed to list changed files")
		}
		units = append(units, codeUnits...)

		if g.opts.HistoryMonths > 0 {
			commitUnits, err := g.commitUnits(ctx, run, st)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				run.Summary.addError(fmt.Sprintf("%s history: %v", path, err))
				run.Logger.Error().Err(err).Str("repo", path).Msg("failed to read commit history")
			}
			units = append(units, commitUnits...)
		}
	}
	return units, nil
}

// codeUnits runs the full / incremental / no-op decision for one repository
func (g *GitDriver) codeUnits(ctx context.Context, run *Run, st *repoState) ([]Unit, error) {
	logger := run.Logger.With().Str("repo", st.key).Logger()

	var (
		files   []string
		removed []string
	)
	old, ok := run.Watermarks.Get(st.key)
	switch {
	case !run.Force && ok && old == st.head:
		logger.Info().Str("head", st.head).Msg("no new commits")
		return nil, nil

	case !run.Force && ok && st.repo.CommitExists(ctx, old):
		changed, err := st.repo.DiffNames(ctx, old, st.head)
		if err != nil {
			return nil, err
		}
		tracked, err := st.repo.LsFiles(ctx)
		if err != nil {
			return nil, err
		}
		isTracked := make(map[string]bool, len(tracked))
		for _, f := range tracked {
			isTracked[f] = true
		}
		for _, f := range changed {
			if isTracked[f] {
				files = append(files, f)
			} else {
				removed = append(removed, f)
			}
		}
		logger.Info().
			Str("from", old).
			Str("to", st.head).
			Int("changed", len(files)).
			Int("removed", len(removed)).
			Msg("incremental index")

	default:
		if ok && !run.Force {
			logger.Warn().Str("watermark", old).Msg("watermark commit not found, running full index")
		}
		tracked, err := st.repo.LsFiles(ctx)
		if err != nil {
			return nil, err
		}
		files = tracked
	}

	sort.Strings(removed)
	for _, rel := range removed {
		if err := run.Delete(ctx, filepath.Join(st.key, filepath.FromSlash(rel))); err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	units := make([]Unit, 0, len(files))
	for _, rel := range files {
		if g.excluder.Excluded(rel) || !parser.IsCodeFile(rel) {
			continue
		}
		abs := filepath.Join(st.key, filepath.FromSlash(rel))
		units = append(units, Unit{
			SourcePath: abs,
			SourceType: types.SourceCode,
			Label:      st.name + "/" + rel,
			Group:      st.key,
		})
		st.codeUnits = append(st.codeUnits, abs)
	}
	st.codePass = true
	return units, nil
}

// commitUnits lists commits newer than the history watermark
func (g *GitDriver) commitUnits(ctx context.Context, run *Run, st *repoState) ([]Unit, error) {
	key := st.key + storage.HistorySuffix
	prefix := commitURIScheme + st.key + "#"

	since := ""
	if run.Force {
		if err := run.DeletePrefix(ctx, types.SourceCommit, prefix); err != nil {
			return nil, err
		}
	} else if wm, ok := run.Watermarks.Get(key); ok {
		since = wm
		if !st.repo.CommitExists(ctx, since) {
			run.Logger.Warn().Str("repo", st.key).Str("watermark", since).
				Msg("history watermark not found, reading full window")
			since = ""
		}
	}

	commits, err := st.repo.LogSince(ctx, since, g.opts.HistoryMonths)
	if err != nil {
		return nil, err
	}
	st.history = commits
	st.historyRun = true

	units := make([]Unit, 0, len(commits))
	filtered := 0
	for _, c := range commits {
		if g.blacklisted(c.Subject) {
			filtered++
			continue
		}
		path := prefix + c.SHA
		g.commits[path] = &commitRef{state: st, commit: c}
		units = append(units, Unit{
			SourcePath:  path,
			SourceType:  types.SourceCommit,
			Fingerprint: c.SHA,
			ModifiedAt:  c.AuthorDate,
			Label:       st.name + "@" + c.ShortSHA(),
			Group:       key,
		})
	}
	run.Logger.Info().
		Str("repo", st.key).
		Int("commits", len(units)).
		Int("filtered", filtered).
		Msg("commit history listed")
	return units, nil
}

func (g *GitDriver) blacklisted(subject string) bool {
	for _, p := range g.opts.SubjectBlacklist {
		if p != "" && strings.HasPrefix(subject, p) {
			return true
		}
	}
	return false
}

// Fingerprint hashes code files; a file deleted from the work tree since
// listing is skipped rather than failed
func (g *GitDriver) Fingerprint(_ context.Context, unit Unit) (string, string, error) {
	hash, modified, err := hashFile(unit.SourcePath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", errSkipUnit
	}
	return hash, modified, err
}

func (g *GitDriver) Extract(ctx context.Context, unit Unit) (*Extraction, error) {
	if unit.SourceType == types.SourceCommit {
		return g.extractCommit(ctx, unit)
	}
	return g.extractCode(unit)
}

func (g *GitDriver) extractCode(unit Unit) (*Extraction, error) {
	rel, err := filepath.Rel(unit.Group, unit.SourcePath)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)
	lang, ok := parser.Language(rel)
	if !ok {
		return nil, nil
	}
	doc, err := g.parser.ParseFile(unit.SourcePath, rel, lang)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errSkipUnit
		}
		return nil, err
	}

	var chunks []chunker.Chunk
	for _, b := range doc.Blocks {
		prefix := fmt.Sprintf("[%s:%d-%d] [%s] [%s: %s]\n",
			rel, b.StartLine, b.EndLine, b.Language, b.SymbolType, b.SymbolName)
		meta := map[string]any{
			"language":    b.Language,
			"symbol_name": b.SymbolName,
			"symbol_type": b.SymbolType,
			"start_line":  b.StartLine,
			"end_line":    b.EndLine,
			"file_path":   rel,
		}
		chunks = append(chunks, g.chunker.ChunkWithPrefix(prefix, b.Text, rel, meta)...)
	}
	return &Extraction{Chunks: chunker.Renumber(chunks)}, nil
}

func (g *GitDriver) extractCommit(ctx context.Context, unit Unit) (*Extraction, error) {
	ref, ok := g.commits[unit.SourcePath]
	if !ok {
		return nil, fmt.Errorf("unknown commit unit %s", unit.SourcePath)
	}
	c := ref.commit
	repo := ref.state.repo

	changes, err := repo.FileChangesInCommit(ctx, c.SHA)
	if err != nil {
		return nil, err
	}

	date := c.AuthorDate
	if len(date) > 10 {
		date = date[:10]
	}
	var chunks []chunker.Chunk
	for _, fc := range changes {
		if fc.Binary {
			continue
		}
		diff, err := repo.FileDiff(ctx, c.SHA, fc.Path)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(diff) == "" {
			continue
		}
		title := ref.state.name + "/" + fc.Path
		prefix := fmt.Sprintf("[%s] [commit: %s] [%s]\n", title, c.ShortSHA(), date)
		meta := map[string]any{
			"commit_sha":       c.SHA,
			"commit_sha_short": c.ShortSHA(),
			"author_name":      c.AuthorName,
			"author_email":     c.AuthorEmail,
			"author_date":      c.AuthorDate,
			"commit_message":   c.Subject,
			"file_path":        fc.Path,
			"additions":        fc.Additions,
			"deletions":        fc.Deletions,
		}
		body := c.Subject + "\n\n" + diff
		chunks = append(chunks, g.chunker.ChunkWithPrefix(prefix, body, title, meta)...)
	}
	return &Extraction{Chunks: chunker.Renumber(chunks)}, nil
}

// Finish moves watermarks. The code watermark jumps to HEAD only when every
// file of the repository was indexed or skipped, so a failed file is retried
// with the same diff. The history watermark advances commit by commit and
// stops before the first commit that was not processed.
func (g *GitDriver) Finish(_ context.Context, run *Run) error {
	for _, st := range g.states {
		if st.codePass {
			failed := 0
			for _, path := range st.codeUnits {
				if o := run.Outcome(path); o != OutcomeIndexed && o != OutcomeSkipped {
					failed++
				}
			}
			if failed == 0 && !run.Cancelled() {
				run.Watermarks[st.key] = st.head
			} else {
				run.Logger.Warn().
					Str("repo", st.key).
					Int("failed", failed).
					Msg("code watermark not advanced")
			}
		}

		if st.historyRun {
			prefix := commitURIScheme + st.key + "#"
			last := ""
			for _, c := range st.history {
				if !g.blacklisted(c.Subject) {
					if o := run.Outcome(prefix + c.SHA); o != OutcomeIndexed && o != OutcomeSkipped {
						break
					}
				}
				last = c.SHA
			}
			if last != "" {
				run.Watermarks[st.key+storage.HistorySuffix] = last
			}
		}
	}
	return nil
}

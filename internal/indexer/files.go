package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/dshills/localrag/internal/chunker"
	"github.com/dshills/localrag/pkg/types"
)

// ObsidianCollection is the system collection holding every configured vault
const ObsidianCollection = "obsidian"

// vaultSkipDirs are never descended into inside a vault
var vaultSkipDirs = map[string]bool{
	".obsidian": true,
	".trash":    true,
	".git":      true,
}

// fileDriver holds what the folder-backed drivers share
type fileDriver struct {
	roots   []string
	chunker *chunker.Chunker
	logger  zerolog.Logger
}

func (f *fileDriver) Paths() []string {
	return append([]string(nil), f.roots...)
}

func (f *fileDriver) Fingerprint(_ context.Context, unit Unit) (string, string, error) {
	return hashFile(unit.SourcePath)
}

func (f *fileDriver) Extract(_ context.Context, unit Unit) (*Extraction, error) {
	chunks, err := extractDocument(unit.SourcePath, unit.SourceType, f.chunker)
	if err != nil {
		return nil, err
	}
	return &Extraction{Chunks: chunks}, nil
}

// units turns absolute file paths into units, dropping formats that have
// no extractor
func (f *fileDriver) units(files []string) []Unit {
	units := make([]Unit, 0, len(files))
	unsupported := 0
	for _, path := range files {
		st, _ := documentType(path)
		if unsupportedTypes[st] {
			unsupported++
			continue
		}
		units = append(units, Unit{
			SourcePath: path,
			SourceType: st,
			Label:      f.label(path),
		})
	}
	if unsupported > 0 {
		f.logger.Info().Int("files", unsupported).Msg("skipping files without a text extractor")
	}
	return units
}

func (f *fileDriver) label(path string) string {
	for _, root := range f.roots {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") && rel != "." {
			return rel
		}
	}
	return filepath.Base(path)
}

// fileSourceTypes are the source types the folder drivers store
var fileSourceTypes = []string{types.SourceMarkdown, types.SourcePlaintext, types.SourceHTML}

// prune deletes every stored source the enumeration did not produce: files
// removed from disk, files now excluded, and files under roots no longer
// configured. Sources under a configured root that is missing from disk are
// kept, so an unmounted drive does not empty the collection.
func (f *fileDriver) prune(ctx context.Context, run *Run, current []Unit) error {
	seen := make(map[string]bool, len(current))
	for _, u := range current {
		seen[u.SourcePath] = true
	}
	offline := f.missingRoots()
	for _, root := range offline {
		run.Logger.Warn().Str("path", root).Msg("keeping sources of missing path")
	}

	for _, st := range fileSourceTypes {
		paths, err := run.SourcePaths(ctx, st)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if seen[p] || under(p, offline) {
				continue
			}
			if err := run.Delete(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// missingRoots returns the configured roots that cannot be found on disk
func (f *fileDriver) missingRoots() []string {
	var missing []string
	for _, root := range f.roots {
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, root)
		}
	}
	return missing
}

// under reports whether path is one of roots or inside one
func under(path string, roots []string) bool {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ProjectDriver indexes document folders into a named project collection
type ProjectDriver struct {
	fileDriver
	name string
}

// NewProjectDriver creates a driver for the given files and folders
func NewProjectDriver(name string, paths []string, c *chunker.Chunker, logger zerolog.Logger) *ProjectDriver {
	return &ProjectDriver{
		fileDriver: fileDriver{roots: absPaths(paths), chunker: c, logger: logger},
		name:       name,
	}
}

func (p *ProjectDriver) Name() string { return p.name }

func (p *ProjectDriver) CollectionType() types.CollectionType { return types.CollectionProject }

func (p *ProjectDriver) Enumerate(ctx context.Context, run *Run) ([]Unit, error) {
	var files []string
	for _, root := range p.roots {
		info, err := os.Stat(root)
		if err != nil {
			run.Logger.Warn().Str("path", root).Msg("path does not exist")
			continue
		}
		if !info.IsDir() {
			if _, ok := documentType(root); ok && !isHidden(filepath.Base(root)) {
				files = append(files, root)
			} else {
				run.Logger.Warn().Str("path", root).Msg("unsupported file extension, skipping")
			}
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && isHidden(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return ctx.Err()
			}
			if _, ok := documentType(path); ok {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)

	units := p.units(files)
	if err := p.prune(ctx, run, units); err != nil {
		return nil, err
	}
	return units, nil
}

// ObsidianDriver indexes Obsidian vaults into the obsidian collection
type ObsidianDriver struct {
	fileDriver
	exclude []string
}

// NewObsidianDriver creates a driver for the given vaults. Exclude entries
// are folder names or doublestar patterns relative to the vault root.
func NewObsidianDriver(vaults, exclude []string, c *chunker.Chunker, logger zerolog.Logger) *ObsidianDriver {
	return &ObsidianDriver{
		fileDriver: fileDriver{roots: absPaths(vaults), chunker: c, logger: logger},
		exclude:    exclude,
	}
}

func (o *ObsidianDriver) Name() string { return ObsidianCollection }

func (o *ObsidianDriver) CollectionType() types.CollectionType { return types.CollectionSystem }

func (o *ObsidianDriver) Enumerate(ctx context.Context, run *Run) ([]Unit, error) {
	var files []string
	for _, vault := range o.roots {
		info, err := os.Stat(vault)
		if err != nil || !info.IsDir() {
			run.Logger.Warn().Str("vault", vault).Msg("vault path does not exist or is not a directory")
			continue
		}
		err = filepath.WalkDir(vault, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path == vault {
				return nil
			}
			rel, _ := filepath.Rel(vault, path)
			if d.IsDir() {
				if isHidden(d.Name()) || vaultSkipDirs[d.Name()] || o.excluded(filepath.ToSlash(rel)) {
					return filepath.SkipDir
				}
				return ctx.Err()
			}
			if isHidden(d.Name()) {
				return nil
			}
			if _, ok := documentType(path); ok {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)

	units := o.units(files)
	if err := o.prune(ctx, run, units); err != nil {
		return nil, err
	}
	return units, nil
}

// excluded matches a vault-relative folder against the exclude list
func (o *ObsidianDriver) excluded(relDir string) bool {
	base := relDir[strings.LastIndex(relDir, "/")+1:]
	for _, p := range o.exclude {
		if p == base || p == relDir {
			return true
		}
		if ok, _ := doublestar.Match(p, relDir); ok {
			return true
		}
	}
	return false
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func absPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}

// hashFile returns the hex SHA-256 of a file and its modification time
func hashFile(path string) (string, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", "", err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(h.Sum(nil)), info.ModTime().UTC().Format(time.RFC3339), nil
}

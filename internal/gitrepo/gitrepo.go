// Package gitrepo is the port through which the indexer reads git
// repositories. Exec implements it over the git binary.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNotRepository is returned when a path is not inside a git work tree
var ErrNotRepository = errors.New("not a git repository")

// Commit is one entry of the commit log
type Commit struct {
	SHA         string
	AuthorName  string
	AuthorEmail string
	AuthorDate  string // ISO 8601 (%aI)
	Subject     string
}

// ShortSHA returns the first seven characters of the commit id
func (c Commit) ShortSHA() string {
	if len(c.SHA) > 7 {
		return c.SHA[:7]
	}
	return c.SHA
}

// FileChange is one file touched by a commit
type FileChange struct {
	Path      string
	Additions int
	Deletions int
	Binary    bool
}

// Repo is a read-only view of one repository
type Repo interface {
	// Path returns the repository root as given to Open
	Path() string
	HeadSHA(ctx context.Context) (string, error)
	// LsFiles lists tracked files relative to the root
	LsFiles(ctx context.Context) ([]string, error)
	// DiffNames lists files changed between two commits
	DiffNames(ctx context.Context, from, to string) ([]string, error)
	CommitExists(ctx context.Context, sha string) bool
	// LogSince returns non-merge commits after sinceSHA (or all when empty)
	// authored within the last months, oldest first
	LogSince(ctx context.Context, sinceSHA string, months int) ([]Commit, error)
	FileChangesInCommit(ctx context.Context, sha string) ([]FileChange, error)
	FileDiff(ctx context.Context, sha, path string) (string, error)
}

// Exec runs git commands against a work tree
type Exec struct {
	dir string
	bin string
}

// Open returns an Exec for dir after checking that it is a repository
func Open(ctx context.Context, dir string) (*Exec, error) {
	e := &Exec{dir: dir, bin: "git"}
	if _, err := e.run(ctx, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	return e, nil
}

func (e *Exec) Path() string {
	return e.dir
}

func (e *Exec) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.bin, append([]string{"-C", e.dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (e *Exec) HeadSHA(ctx context.Context) (string, error) {
	out, err := e.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (e *Exec) LsFiles(ctx context.Context) ([]string, error) {
	out, err := e.run(ctx, "ls-files")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

func (e *Exec) DiffNames(ctx context.Context, from, to string) ([]string, error) {
	if to == "" {
		to = "HEAD"
	}
	out, err := e.run(ctx, "diff", "--name-only", from+".."+to)
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

func (e *Exec) CommitExists(ctx context.Context, sha string) bool {
	if sha == "" {
		return false
	}
	_, err := e.run(ctx, "cat-file", "-t", sha)
	return err == nil
}

func (e *Exec) LogSince(ctx context.Context, sinceSHA string, months int) ([]Commit, error) {
	args := []string{
		"log",
		"--no-merges",
		fmt.Sprintf("--since=%d months ago", months),
		"--pretty=format:%H|%an|%ae|%aI|%s",
	}
	if sinceSHA != "" {
		args = append(args, sinceSHA+"..HEAD")
	}
	out, err := e.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseLog(out), nil
}

// ParseLog parses %H|%an|%ae|%aI|%s lines (newest first, as git prints
// them) and returns commits oldest first. Malformed lines are skipped.
func ParseLog(out string) []Commit {
	var commits []Commit
	for _, line := range lines(out) {
		parts := strings.SplitN(line, "|", 5)
		if len(parts) != 5 {
			continue
		}
		commits = append(commits, Commit{
			SHA:         parts[0],
			AuthorName:  parts[1],
			AuthorEmail: parts[2],
			AuthorDate:  parts[3],
			Subject:     parts[4],
		})
	}
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits
}

func (e *Exec) FileChangesInCommit(ctx context.Context, sha string) ([]FileChange, error) {
	out, err := e.run(ctx, "show", "--numstat", "--format=", sha)
	if err != nil {
		return nil, err
	}
	return ParseNumstat(out), nil
}

// ParseNumstat parses `git show --numstat` output. Binary files appear
// as "-\t-\tpath".
func ParseNumstat(out string) []FileChange {
	var changes []FileChange
	for _, line := range lines(out) {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		fc := FileChange{Path: parts[2]}
		if parts[0] == "-" && parts[1] == "-" {
			fc.Binary = true
		} else {
			fc.Additions, _ = strconv.Atoi(parts[0])
			fc.Deletions, _ = strconv.Atoi(parts[1])
		}
		changes = append(changes, fc)
	}
	return changes
}

func (e *Exec) FileDiff(ctx context.Context, sha, path string) (string, error) {
	return e.run(ctx, "show", sha, "--", path)
}

func lines(out string) []string {
	var result []string
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if l != "" {
			result = append(result, l)
		}
	}
	return result
}

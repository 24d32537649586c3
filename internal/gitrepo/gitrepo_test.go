package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLog(t *testing.T) {
	out := "bbb|Ann|ann@x.io|2026-02-01T10:00:00+00:00|second | with pipe\n" +
		"malformed line\n" +
		"aaa|Bob|bob@x.io|2026-01-01T10:00:00+00:00|first\n"

	commits := ParseLog(out)
	require.Len(t, commits, 2)
	assert.Equal(t, "aaa", commits[0].SHA, "oldest first")
	assert.Equal(t, "second | with pipe", commits[1].Subject)
	assert.Equal(t, "ann@x.io", commits[1].AuthorEmail)
}

func TestParseNumstat(t *testing.T) {
	out := "3\t1\tmain.go\n-\t-\tlogo.png\n\n10\t0\tdocs/a b.md\n"
	changes := ParseNumstat(out)
	require.Len(t, changes, 3)
	assert.Equal(t, FileChange{Path: "main.go", Additions: 3, Deletions: 1}, changes[0])
	assert.True(t, changes[1].Binary)
	assert.Equal(t, "docs/a b.md", changes[2].Path)
}

func TestCommitShortSHA(t *testing.T) {
	assert.Equal(t, "0123456", Commit{SHA: "0123456789abcdef"}.ShortSHA())
	assert.Equal(t, "abc", Commit{SHA: "abc"}.ShortSHA())
}

func git(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir, "-c", "user.name=Test", "-c", "user.email=test@example.com"}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestExec(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()
	dir := t.TempDir()

	git(t, dir, "init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0644))
	git(t, dir, "add", ".")
	git(t, dir, "commit", "-q", "-m", "first")

	repo, err := Open(ctx, dir)
	require.NoError(t, err)
	first, err := repo.HeadSHA(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 40)
	assert.True(t, repo.CommitExists(ctx, first))
	assert.False(t, repo.CommitExists(ctx, "0000000000000000000000000000000000000000"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package a\n\nvar B = 1\n"), 0644))
	git(t, dir, "add", ".")
	git(t, dir, "commit", "-q", "-m", "second")

	files, err := repo.LsFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, files)

	head, err := repo.HeadSHA(ctx)
	require.NoError(t, err)
	changed, err := repo.DiffNames(ctx, first, head)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.go"}, changed)

	commits, err := repo.LogSince(ctx, "", 6)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "first", commits[0].Subject)

	commits, err = repo.LogSince(ctx, first, 6)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, head, commits[0].SHA)

	fc, err := repo.FileChangesInCommit(ctx, head)
	require.NoError(t, err)
	require.Len(t, fc, 1)
	assert.Equal(t, 3, fc[0].Additions)

	diff, err := repo.FileDiff(ctx, head, "b.go")
	require.NoError(t, err)
	assert.Contains(t, diff, "+var B = 1")
}

func TestOpen_NotRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := Open(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNotRepository)
}

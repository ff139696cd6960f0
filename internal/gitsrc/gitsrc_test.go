package gitsrc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExists(t *testing.T) {
	dir := t.TempDir()
	c := New()
	if c.Exists(dir) {
		t.Error("plain dir reported as a working copy")
	}
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if !c.Exists(dir) {
		t.Error("dir with .git not recognized")
	}
}

func TestExistsRejectsGitFile(t *testing.T) {
	// Submodules and worktrees keep a .git file, not a directory; those are
	// not deployment targets this tool manages.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: elsewhere"), 0644); err != nil {
		t.Fatal(err)
	}
	if New().Exists(dir) {
		t.Error(".git file accepted as a working copy")
	}
}

func TestStashMessage(t *testing.T) {
	at := time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC)
	got := StashMessage(at)
	want := "deployctl pre-deploy 2026-08-30T09:15:00Z"
	if got != want {
		t.Errorf("StashMessage = %q, want %q", got, want)
	}
}

func TestRunErrorCarriesOutput(t *testing.T) {
	c := &CLI{Bin: "git"}
	if _, err := safeGitVersion(c); err != nil {
		t.Skip("git not available")
	}
	_, err := c.CurrentCommit(context.Background(), t.TempDir())
	if err == nil {
		t.Fatal("rev-parse outside a repository succeeded")
	}
	if !strings.Contains(err.Error(), "git rev-parse") {
		t.Errorf("error %q does not name the failing command", err)
	}
}

func safeGitVersion(c *CLI) (string, error) {
	return c.run(context.Background(), "", "version")
}

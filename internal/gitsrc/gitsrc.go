package gitsrc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CLI wraps the git binary. Every failure carries the command's combined
// output so network, auth and ref errors stay diagnosable from the journal.
type CLI struct {
	Bin string
}

func New() *CLI { return &CLI{Bin: "git"} }

func (c *CLI) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return "git"
}

func (c *CLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.bin(), args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s",
			args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Exists reports whether dir holds a git working copy.
func (c *CLI) Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

func (c *CLI) Clone(ctx context.Context, url, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return fmt.Errorf("clone parent dir: %w", err)
	}
	_, err := c.run(ctx, "", "clone", url, dir)
	return err
}

func (c *CLI) Fetch(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "fetch", "--all", "--prune")
	return err
}

func (c *CLI) ResetHard(ctx context.Context, dir, ref string) error {
	_, err := c.run(ctx, dir, "reset", "--hard", ref)
	return err
}

func (c *CLI) CurrentCommit(ctx context.Context, dir string) (string, error) {
	out, err := c.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *CLI) HasLocalChanges(ctx context.Context, dir string) (bool, error) {
	out, err := c.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Stash sets uncommitted modifications aside, including untracked files.
func (c *CLI) Stash(ctx context.Context, dir string) error {
	msg := StashMessage(time.Now())
	out, err := c.run(ctx, dir, "stash", "push", "--include-untracked", "-m", msg)
	if err != nil {
		return err
	}
	log.Debug().Str("dir", dir).Str("output", strings.TrimSpace(out)).Msg("stashed local changes")
	return nil
}

// StashMessage names a stash after the deployment that displaced it.
func StashMessage(t time.Time) string {
	return "deployctl pre-deploy " + t.UTC().Format(time.RFC3339)
}

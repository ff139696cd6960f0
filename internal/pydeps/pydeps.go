package pydeps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Pip manages an isolated virtualenv inside the deployment target and
// installs the declared dependencies into it.
type Pip struct {
	Python string
}

func New(python string) *Pip {
	if python == "" {
		python = "python3"
	}
	return &Pip{Python: python}
}

// HasManifest reports whether the dependency manifest is present; its
// absence makes the install step a no-op, not an error.
func (p *Pip) HasManifest(dir, manifest string) bool {
	_, err := os.Stat(filepath.Join(dir, manifest))
	return err == nil
}

// EnvironmentPath returns where the virtualenv lives inside a target dir.
func EnvironmentPath(dir string) string {
	return filepath.Join(dir, "venv")
}

// EnsureEnvironment creates the virtualenv if it does not exist yet.
func (p *Pip) EnsureEnvironment(ctx context.Context, dir string) error {
	venv := EnvironmentPath(dir)
	if _, err := os.Stat(filepath.Join(venv, "bin", "python")); err == nil {
		return nil
	}
	out, err := p.runCmd(ctx, dir, p.Python, "-m", "venv", venv)
	if err != nil {
		return fmt.Errorf("create venv: %w: %s", err, out)
	}
	log.Debug().Str("venv", venv).Msg("created virtualenv")
	return nil
}

// Install upgrades the declared dependencies inside the virtualenv. Bounded
// only by the package source's own behavior, matching the caller's model of
// this step.
func (p *Pip) Install(ctx context.Context, dir, manifest string) error {
	pip := filepath.Join(EnvironmentPath(dir), "bin", "pip")
	out, err := p.runCmd(ctx, dir, pip, "install", "--upgrade", "-r", manifest)
	if err != nil {
		return fmt.Errorf("pip install: %w: %s", err, out)
	}
	return nil
}

func (p *Pip) runCmd(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

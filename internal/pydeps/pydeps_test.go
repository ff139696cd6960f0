package pydeps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaultsPython(t *testing.T) {
	if p := New(""); p.Python != "python3" {
		t.Errorf("Python = %q, want python3", p.Python)
	}
	if p := New("/usr/bin/python3.12"); p.Python != "/usr/bin/python3.12" {
		t.Errorf("Python = %q", p.Python)
	}
}

func TestHasManifest(t *testing.T) {
	dir := t.TempDir()
	p := New("")
	if p.HasManifest(dir, "requirements.txt") {
		t.Error("missing manifest reported present")
	}
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("flask==3.0.0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if !p.HasManifest(dir, "requirements.txt") {
		t.Error("manifest not found")
	}
}

func TestEnvironmentPath(t *testing.T) {
	if got := EnvironmentPath("/opt/app"); got != filepath.Join("/opt/app", "venv") {
		t.Errorf("EnvironmentPath = %q", got)
	}
}

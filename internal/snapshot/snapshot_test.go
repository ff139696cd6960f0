package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	return out
}

func TestTakeAndRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	snap := filepath.Join(dir, "app.backup")
	original := map[string]string{
		"app.py":               "print('v1')",
		"requirements.txt":     "flask==3.0.0",
		"templates/index.html": "<h1>shop</h1>",
	}
	writeTree(t, target, original)

	var d Dir
	if err := d.Take(target, snap); err != nil {
		t.Fatalf("Take: %v", err)
	}
	if !d.Exists(snap) {
		t.Fatal("snapshot missing after Take")
	}

	// A broken deploy mangles the target.
	writeTree(t, target, map[string]string{"app.py": "print('broken v2')"})
	if err := os.Remove(filepath.Join(target, "requirements.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := d.Restore(snap, target); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got := readTree(t, target)
	if len(got) != len(original) {
		t.Fatalf("restored %d files, want %d: %v", len(got), len(original), got)
	}
	for name, content := range original {
		if got[name] != content {
			t.Errorf("%s = %q, want %q", name, got[name], content)
		}
	}
}

func TestTakeReplacesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	snap := filepath.Join(dir, "app.backup")
	var d Dir

	writeTree(t, target, map[string]string{"app.py": "v1", "old.py": "obsolete"})
	if err := d.Take(target, snap); err != nil {
		t.Fatalf("first Take: %v", err)
	}

	if err := os.Remove(filepath.Join(target, "old.py")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeTree(t, target, map[string]string{"app.py": "v2"})
	if err := d.Take(target, snap); err != nil {
		t.Fatalf("second Take: %v", err)
	}

	got := readTree(t, snap)
	if got["app.py"] != "v2" {
		t.Errorf("snapshot app.py = %q, want v2", got["app.py"])
	}
	if _, ok := got["old.py"]; ok {
		t.Error("stale file from the first snapshot survived")
	}
}

func TestTakeLeavesNoStagingBehind(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	snap := filepath.Join(dir, "app.backup")
	writeTree(t, target, map[string]string{"app.py": "v1"})

	var d Dir
	if err := d.Take(target, snap); err != nil {
		t.Fatalf("Take: %v", err)
	}
	if _, err := os.Stat(snap + ".tmp"); !os.IsNotExist(err) {
		t.Error("staging directory left behind")
	}
}

func TestRestoreIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	snap := filepath.Join(dir, "app.backup")
	writeTree(t, target, map[string]string{"app.py": "v1"})

	var d Dir
	if err := d.Take(target, snap); err != nil {
		t.Fatalf("Take: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := d.Restore(snap, target); err != nil {
			t.Fatalf("Restore %d: %v", i+1, err)
		}
	}
	if !d.Exists(snap) {
		t.Error("snapshot consumed by restore")
	}
}

func TestTargetPopulated(t *testing.T) {
	dir := t.TempDir()
	var d Dir
	if d.TargetPopulated(filepath.Join(dir, "absent")) {
		t.Error("absent dir reported as populated")
	}
	empty := filepath.Join(dir, "empty")
	if err := os.Mkdir(empty, 0755); err != nil {
		t.Fatal(err)
	}
	if d.TargetPopulated(empty) {
		t.Error("empty dir reported as populated")
	}
	writeTree(t, empty, map[string]string{"app.py": "x"})
	if !d.TargetPopulated(empty) {
		t.Error("populated dir reported as empty")
	}
}

func TestExistsRejectsPlainFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "snap")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	var d Dir
	if d.Exists(file) {
		t.Error("plain file accepted as a snapshot")
	}
}

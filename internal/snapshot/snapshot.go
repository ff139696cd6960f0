package snapshot

import (
	"fmt"
	"os"

	cp "github.com/otiai10/copy"
)

// Dir keeps full-copy snapshots of the deployment target on disk. At most
// one snapshot exists per configured location; each Take replaces the
// previous one. A snapshot is staged under a temporary name and renamed
// into place, so the final path never holds a half-written copy.
type Dir struct{}

// TargetPopulated reports whether dir exists and contains at least one
// entry. An empty or absent target means there is nothing worth backing up
// (first-ever deployment).
func (Dir) TargetPopulated(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// Take replaces the snapshot with a full copy of target.
func (Dir) Take(target, snapshot string) error {
	staging := snapshot + ".tmp"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}
	if err := cp.Copy(target, staging); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("copy target: %w", err)
	}
	if err := os.RemoveAll(snapshot); err != nil {
		return fmt.Errorf("discard previous snapshot: %w", err)
	}
	if err := os.Rename(staging, snapshot); err != nil {
		return fmt.Errorf("swap snapshot into place: %w", err)
	}
	return nil
}

// Restore wipes target and copies the snapshot back. The snapshot itself is
// left untouched so a restore can be repeated.
func (Dir) Restore(snapshot, target string) error {
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("clear target: %w", err)
	}
	if err := cp.Copy(snapshot, target); err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}
	return nil
}

// Exists reports whether a complete snapshot is present.
func (Dir) Exists(snapshot string) bool {
	info, err := os.Stat(snapshot)
	return err == nil && info.IsDir()
}

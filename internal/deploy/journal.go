package deploy

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal is the append-only deployment record: one timestamped line per
// step outcome, at a fixed path that survives across runs. Entries are
// never rewritten; a new run simply appends below the previous one.
type Journal struct {
	mu   sync.Mutex
	path string
}

func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	// Touch the file so Tail works before the first append.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	_ = f.Close()
	return &Journal{path: path}, nil
}

// Append writes one step outcome line. Append failures are swallowed after
// logging to stderr: the journal must never abort a run.
func (j *Journal) Append(step Step, format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	line := fmt.Sprintf("%s [%s] %s\n",
		time.Now().UTC().Format(time.RFC3339), step, fmt.Sprintf(format, args...))
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal append: %v\n", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		fmt.Fprintf(os.Stderr, "journal append: %v\n", err)
	}
}

// Tail returns the last n journal lines, oldest first.
func (j *Journal) Tail(n int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.Open(j.path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func (j *Journal) Path() string { return j.path }

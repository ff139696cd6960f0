package deploy

import (
	"fmt"
	"strings"
	"time"
)

// Step identifies a phase of a deployment run as it appears in the journal.
type Step string

const (
	StepRun         Step = "run"
	StepStop        Step = "stop"
	StepBackup      Step = "backup"
	StepUpdate      Step = "update"
	StepInstall     Step = "install"
	StepStart       Step = "start"
	StepHealthCheck Step = "health-check"
	StepRollback    Step = "rollback"
	StepResult      Step = "result"
)

// ProcessControlError reports a failed start or stop of the application
// process. Stop failures are non-fatal; start failures trigger rollback.
type ProcessControlError struct {
	Op  string
	Err error
}

func (e *ProcessControlError) Error() string {
	return fmt.Sprintf("process control: %s: %v", e.Op, e.Err)
}

func (e *ProcessControlError) Unwrap() error { return e.Err }

// SourceUpdateError reports a failed clone, fetch or reset. Always fatal.
type SourceUpdateError struct {
	Op     string
	Output string
	Err    error
}

func (e *SourceUpdateError) Error() string {
	if out := strings.TrimSpace(e.Output); out != "" {
		return fmt.Sprintf("source update: %s: %v: %s", e.Op, e.Err, out)
	}
	return fmt.Sprintf("source update: %s: %v", e.Op, e.Err)
}

func (e *SourceUpdateError) Unwrap() error { return e.Err }

// DependencyError reports a failed environment creation or dependency
// install. Always fatal.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency install: %s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// HealthCheckTimeout reports that bounded liveness polling was exhausted
// without the application answering.
type HealthCheckTimeout struct {
	Attempts int
	Interval time.Duration
}

func (e *HealthCheckTimeout) Error() string {
	return fmt.Sprintf("health check: no response after %d attempts at %s intervals", e.Attempts, e.Interval)
}

// BackupUnavailableError is the one unrecoverable condition: a fatal step
// failed and no snapshot exists to roll back to. Cause carries the step
// failure, JournalTail the last journal lines for the operator.
type BackupUnavailableError struct {
	Cause       error
	JournalTail []string
}

func (e *BackupUnavailableError) Error() string {
	return fmt.Sprintf("rollback impossible, no backup snapshot: %v", e.Cause)
}

func (e *BackupUnavailableError) Unwrap() error { return e.Cause }

package api

// v0 contains public result types for embedding deployctl runs.

import "time"

type RunStatus string

const (
	RunDeployed       RunStatus = "deployed"
	RunRolledBack     RunStatus = "rolled_back"
	RunFailedNoBackup RunStatus = "failed_no_backup"
)

// StopOutcome distinguishes "nothing to stop" from a confirmed stop.
type StopOutcome string

const (
	StopNone     StopOutcome = "none"
	StopGraceful StopOutcome = "graceful"
	StopForced   StopOutcome = "forced"
)

// RunResult summarizes one deployment run.
type RunResult struct {
	ID          string        `json:"id" yaml:"id"`
	Status      RunStatus     `json:"status" yaml:"status"`
	Version     string        `json:"version" yaml:"version"`
	StopOutcome StopOutcome   `json:"stop_outcome" yaml:"stop_outcome"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Detail      string        `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// ExitCode maps a terminal status to the process exit code the CI pipeline
// branches on.
func ExitCode(s RunStatus) int {
	switch s {
	case RunDeployed:
		return 0
	case RunRolledBack:
		return 2
	case RunFailedNoBackup:
		return 3
	}
	return 1
}

package procs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/smallcart/deployctl/internal/deploy"
)

// OS is the local process supervisor. Spawned processes are placed in their
// own process group and tracked by the PID Spawn returned; Find exists only
// to adopt an application instance left behind by an earlier run.
type OS struct {
	// ProcRoot is /proc unless overridden in tests.
	ProcRoot string
}

func (s OS) procRoot() string {
	if s.ProcRoot != "" {
		return s.ProcRoot
	}
	return "/proc"
}

// Find returns the PIDs of processes whose command line contains the given
// signature. Duplicates are returned together so the caller can terminate
// them as one logical instance.
func (s OS) Find(signature string) ([]int, error) {
	entries, err := os.ReadDir(s.procRoot())
	if err != nil {
		return nil, fmt.Errorf("read proc: %w", err)
	}
	self := os.Getpid()
	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == self {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.procRoot(), e.Name(), "cmdline"))
		if err != nil {
			continue // process gone or not ours to read
		}
		cmdline := strings.ReplaceAll(string(raw), "\x00", " ")
		if strings.Contains(cmdline, signature) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// Spawn launches the application detached, with stdout and stderr appended
// to the configured log file, and returns its PID.
func (s OS) Spawn(ctx context.Context, spec deploy.StartSpec) (int, error) {
	if len(spec.Command) == 0 {
		return 0, fmt.Errorf("spawn: empty command")
	}
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if spec.LogPath != "" {
		logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return 0, fmt.Errorf("open app log: %w", err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start: %w", err)
	}
	pid := cmd.Process.Pid

	// Reap in the background so the child never turns into a zombie while
	// this process is still alive.
	go func() { _ = cmd.Wait() }()

	log.Debug().Int("pid", pid).Strs("command", spec.Command).Msg("spawned application process")
	return pid, nil
}

// Terminate sends SIGTERM (or SIGKILL when force is set) to the process
// group so children started by the application go down with it.
func (s OS) Terminate(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	// Negative PID targets the group; fall back to the single process when
	// the target was not a group leader.
	if err := syscall.Kill(-pid, sig); err != nil {
		if err := syscall.Kill(pid, sig); err != nil {
			if err == syscall.ESRCH {
				return nil // already gone
			}
			return fmt.Errorf("signal %v pid %d: %w", sig, pid, err)
		}
	}
	return nil
}

// Alive reports whether the process still exists.
func (s OS) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

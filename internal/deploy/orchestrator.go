package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smallcart/deployctl/pkg/api"
)

// StartSpec describes how to launch the application process.
type StartSpec struct {
	Dir     string
	Command []string
	Env     map[string]string
	LogPath string
}

// Supervisor controls the application process. Spawn returns the PID of the
// process it started; Find covers processes adopted from a previous run by
// matching their invocation signature.
type Supervisor interface {
	Find(signature string) ([]int, error)
	Spawn(ctx context.Context, spec StartSpec) (int, error)
	Terminate(pid int, force bool) error
	Alive(pid int) bool
}

// Source is the version control collaborator.
type Source interface {
	Exists(dir string) bool
	Clone(ctx context.Context, url, dir string) error
	Fetch(ctx context.Context, dir string) error
	ResetHard(ctx context.Context, dir, ref string) error
	CurrentCommit(ctx context.Context, dir string) (string, error)
	HasLocalChanges(ctx context.Context, dir string) (bool, error)
	Stash(ctx context.Context, dir string) error
}

// Installer is the dependency installer collaborator.
type Installer interface {
	HasManifest(dir, manifest string) bool
	EnsureEnvironment(ctx context.Context, dir string) error
	Install(ctx context.Context, dir, manifest string) error
}

// Prober performs a single synchronous liveness check; retries are the
// orchestrator's responsibility.
type Prober interface {
	IsReachable(host string, port int, path string) bool
}

// Snapshots owns the backup snapshot pair for the deployment target.
type Snapshots interface {
	TargetPopulated(dir string) bool
	Take(target, snapshot string) error
	Restore(snapshot, target string) error
	Exists(snapshot string) bool
}

// EventEmitter sends one best-effort event per finished run.
type EventEmitter interface {
	EmitRun(outcome, version string, d time.Duration)
}

// Orchestrator drives one deployment run through its steps:
// stop, backup, update, install, start, health-check, with a rollback
// branch reachable from update onwards. Strictly sequential; concurrent
// invocations are the caller's problem to prevent.
type Orchestrator struct {
	cfg     Config
	sup     Supervisor
	src     Source
	deps    Installer
	probe   Prober
	snaps   Snapshots
	journal *Journal
	store   *Store
	events  EventEmitter
}

func NewOrchestrator(cfg Config, sup Supervisor, src Source, deps Installer, probe Prober, snaps Snapshots, journal *Journal) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		sup:     sup,
		src:     src,
		deps:    deps,
		probe:   probe,
		snaps:   snaps,
		journal: journal,
	}
}

// WithStore attaches the optional run history store.
func (o *Orchestrator) WithStore(s *Store) *Orchestrator {
	o.store = s
	return o
}

// WithEvents attaches the optional telemetry emitter.
func (o *Orchestrator) WithEvents(e EventEmitter) *Orchestrator {
	o.events = e
	return o
}

// Run executes one deployment and always reaches a terminal state:
// Deployed, RolledBack or FailedNoBackup. The returned error is nil only
// for Deployed.
func (o *Orchestrator) Run(ctx context.Context) (api.RunResult, error) {
	started := time.Now()
	res := api.RunResult{ID: uuid.NewString(), StopOutcome: api.StopNone}
	o.journal.Append(StepRun, "run %s: deploying %s from %s", res.ID, o.cfg.App.Name, o.cfg.App.RepoURL)

	stop, err := o.stopApp(ctx)
	res.StopOutcome = stop
	if err != nil {
		// A failed stop is non-fatal; the reset/restore below supersedes
		// whatever is still running.
		log.Warn().Err(err).Msg("stopping previous instance failed")
		o.journal.Append(StepStop, "warning: %v", err)
	}

	if err := o.backup(); err != nil {
		// The target has not been touched yet; abort before any
		// destructive step rather than deploy without a safety net.
		res.Status = api.RunFailedNoBackup
		res.Detail = err.Error()
		o.finish(ctx, &res, started)
		return res, err
	}

	if err := o.update(ctx); err != nil {
		return o.rollback(ctx, &res, started, err)
	}
	res.Version = o.resolveVersion(ctx)

	if err := o.install(ctx); err != nil {
		return o.rollback(ctx, &res, started, err)
	}

	if _, err := o.start(ctx, res.Version); err != nil {
		return o.rollback(ctx, &res, started, err)
	}

	if err := o.healthCheck(ctx); err != nil {
		return o.rollback(ctx, &res, started, err)
	}

	res.Status = api.RunDeployed
	log.Info().Str("version", res.Version).Msg("deployed")
	o.finish(ctx, &res, started)
	return res, nil
}

// RunRollback restores the previous snapshot and restarts the application
// without updating, for operator-driven recovery.
func (o *Orchestrator) RunRollback(ctx context.Context) (api.RunResult, error) {
	started := time.Now()
	res := api.RunResult{ID: uuid.NewString(), StopOutcome: api.StopNone}
	o.journal.Append(StepRun, "run %s: operator rollback of %s", res.ID, o.cfg.App.Name)

	stop, err := o.stopApp(ctx)
	res.StopOutcome = stop
	if err != nil {
		o.journal.Append(StepStop, "warning: %v", err)
	}
	return o.rollback(ctx, &res, started, fmt.Errorf("operator-requested rollback"))
}

func (o *Orchestrator) signature() string { return o.cfg.App.Entrypoint }

func (o *Orchestrator) stopApp(ctx context.Context) (api.StopOutcome, error) {
	sig := o.signature()
	pids, err := o.sup.Find(sig)
	if err != nil {
		return api.StopNone, &ProcessControlError{Op: "find", Err: err}
	}
	if len(pids) == 0 {
		o.journal.Append(StepStop, "no running process matched %q", sig)
		return api.StopNone, nil
	}

	for _, pid := range pids {
		if err := o.sup.Terminate(pid, false); err != nil {
			log.Warn().Err(err).Int("pid", pid).Msg("graceful terminate failed")
		}
	}
	deadline := time.Now().Add(time.Duration(o.cfg.Stop.GraceSeconds) * time.Second)
	for o.anyAlive(pids) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return api.StopNone, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	if o.anyAlive(pids) {
		for _, pid := range pids {
			if err := o.sup.Terminate(pid, true); err != nil {
				return api.StopForced, &ProcessControlError{Op: "kill", Err: err}
			}
		}
		o.journal.Append(StepStop, "forced termination of %d process(es)", len(pids))
		return api.StopForced, nil
	}
	o.journal.Append(StepStop, "stopped %d process(es) within grace period", len(pids))
	return api.StopGraceful, nil
}

func (o *Orchestrator) anyAlive(pids []int) bool {
	for _, pid := range pids {
		if o.sup.Alive(pid) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) backup() error {
	if !o.snaps.TargetPopulated(o.cfg.App.TargetDir) {
		o.journal.Append(StepBackup, "target empty or absent, skipping backup")
		return nil
	}
	if err := o.snaps.Take(o.cfg.App.TargetDir, o.cfg.App.BackupDir); err != nil {
		o.journal.Append(StepBackup, "snapshot failed: %v", err)
		return fmt.Errorf("backup snapshot: %w", err)
	}
	o.journal.Append(StepBackup, "snapshot written to %s", o.cfg.App.BackupDir)
	return nil
}

func (o *Orchestrator) update(ctx context.Context) error {
	dir := o.cfg.App.TargetDir
	if !o.src.Exists(dir) {
		o.journal.Append(StepUpdate, "no working copy, cloning %s", o.cfg.App.RepoURL)
		if err := o.src.Clone(ctx, o.cfg.App.RepoURL, dir); err != nil {
			return o.failUpdate("clone", err)
		}
		return nil
	}

	dirty, err := o.src.HasLocalChanges(ctx, dir)
	if err != nil {
		return o.failUpdate("status", err)
	}
	if dirty {
		// Local edits are set aside, never silently discarded.
		o.journal.Append(StepUpdate, "uncommitted local modifications found, stashing")
		if err := o.src.Stash(ctx, dir); err != nil {
			return o.failUpdate("stash", err)
		}
	}
	if err := o.src.Fetch(ctx, dir); err != nil {
		return o.failUpdate("fetch", err)
	}
	ref := "origin/" + o.cfg.App.Branch
	if err := o.src.ResetHard(ctx, dir, ref); err != nil {
		return o.failUpdate("reset", err)
	}
	o.journal.Append(StepUpdate, "working copy reset to %s", ref)
	return nil
}

func (o *Orchestrator) failUpdate(op string, err error) error {
	serr := &SourceUpdateError{Op: op, Err: err}
	o.journal.Append(StepUpdate, "%v", serr)
	return serr
}

// resolveVersion returns the checked-out commit, or a timestamp when the
// working copy cannot answer (first broken clone, detached state).
func (o *Orchestrator) resolveVersion(ctx context.Context) string {
	commit, err := o.src.CurrentCommit(ctx, o.cfg.App.TargetDir)
	if err != nil || commit == "" {
		return time.Now().UTC().Format("20060102T150405Z")
	}
	return commit
}

func (o *Orchestrator) install(ctx context.Context) error {
	dir := o.cfg.App.TargetDir
	if !o.deps.HasManifest(dir, o.cfg.App.Manifest) {
		o.journal.Append(StepInstall, "no dependency manifest, skipping install")
		return nil
	}
	if err := o.deps.EnsureEnvironment(ctx, dir); err != nil {
		derr := &DependencyError{Op: "ensure environment", Err: err}
		o.journal.Append(StepInstall, "%v", derr)
		return derr
	}
	if err := o.deps.Install(ctx, dir, o.cfg.App.Manifest); err != nil {
		derr := &DependencyError{Op: "install", Err: err}
		o.journal.Append(StepInstall, "%v", derr)
		return derr
	}
	o.journal.Append(StepInstall, "dependencies installed from %s", o.cfg.App.Manifest)
	return nil
}

func (o *Orchestrator) start(ctx context.Context, version string) (int, error) {
	host, _ := os.Hostname()
	spec := StartSpec{
		Dir:     o.cfg.App.TargetDir,
		Command: o.startCommand(),
		Env: map[string]string{
			"OTEL_SERVICE_NAME":      o.cfg.App.Name,
			"OTEL_SERVICE_VERSION":   version,
			"DEPLOYMENT_ENVIRONMENT": o.cfg.App.Environment,
			"HOSTNAME":               host,
		},
		LogPath: o.cfg.App.LogPath,
	}
	pid, err := o.sup.Spawn(ctx, spec)
	if err != nil {
		perr := &ProcessControlError{Op: "spawn", Err: err}
		o.journal.Append(StepStart, "%v", perr)
		return 0, perr
	}
	if !o.sup.Alive(pid) {
		perr := &ProcessControlError{Op: "spawn", Err: fmt.Errorf("process %d exited immediately", pid)}
		o.journal.Append(StepStart, "%v", perr)
		return 0, perr
	}
	o.journal.Append(StepStart, "started pid %d, version %s", pid, version)
	return pid, nil
}

func (o *Orchestrator) startCommand() []string {
	python := o.cfg.App.Python
	if venv := filepath.Join(o.cfg.App.TargetDir, "venv", "bin", "python"); fileExists(venv) {
		python = venv
	}
	return []string{python, o.cfg.App.Entrypoint}
}

func (o *Orchestrator) healthCheck(ctx context.Context) error {
	interval := time.Duration(o.cfg.Probe.IntervalSeconds) * time.Second
	max := o.cfg.Probe.MaxAttempts
	for attempt := 1; attempt <= max; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if o.probe.IsReachable("127.0.0.1", o.cfg.App.Port, o.cfg.Probe.Path) {
			o.journal.Append(StepHealthCheck, "application answered on attempt %d/%d", attempt, max)
			return nil
		}
		if attempt < max {
			time.Sleep(interval)
		}
	}
	herr := &HealthCheckTimeout{Attempts: max, Interval: interval}
	o.journal.Append(StepHealthCheck, "%v", herr)
	return herr
}

func (o *Orchestrator) rollback(ctx context.Context, res *api.RunResult, started time.Time, cause error) (api.RunResult, error) {
	log.Error().Err(cause).Msg("deployment failed, attempting rollback")

	if !o.snaps.Exists(o.cfg.App.BackupDir) {
		o.journal.Append(StepRollback, "no backup snapshot available, host left as-is")
		berr := &BackupUnavailableError{Cause: cause, JournalTail: o.journal.Tail(20)}
		res.Status = api.RunFailedNoBackup
		res.Detail = cause.Error()
		o.finish(ctx, res, started)
		return *res, berr
	}

	// Whatever the broken deploy may have started goes down hard before
	// the target is replaced underneath it.
	if pids, err := o.sup.Find(o.signature()); err == nil {
		for _, pid := range pids {
			_ = o.sup.Terminate(pid, true)
		}
	}

	if err := o.snaps.Restore(o.cfg.App.BackupDir, o.cfg.App.TargetDir); err != nil {
		o.journal.Append(StepRollback, "restore failed: %v", err)
		berr := &BackupUnavailableError{
			Cause:       fmt.Errorf("restore failed: %w (while rolling back: %v)", err, cause),
			JournalTail: o.journal.Tail(20),
		}
		res.Status = api.RunFailedNoBackup
		res.Detail = berr.Error()
		o.finish(ctx, res, started)
		return *res, berr
	}

	res.Version = o.resolveVersion(ctx)
	if _, err := o.start(ctx, res.Version); err != nil {
		o.journal.Append(StepRollback, "restart after restore failed: %v", err)
	}
	o.journal.Append(StepRollback, "restored previous version %s", res.Version)
	res.Status = api.RunRolledBack
	res.Detail = cause.Error()
	o.finish(ctx, res, started)
	return *res, cause
}

// finish appends the final journal line, records the run in the history
// store and emits the telemetry event. Nothing here may fail the run.
func (o *Orchestrator) finish(ctx context.Context, res *api.RunResult, started time.Time) {
	res.Duration = time.Since(started)
	o.journal.Append(StepResult, "run %s finished: %s (version %q, stop %s, %s)",
		res.ID, res.Status, res.Version, res.StopOutcome, res.Duration.Round(time.Millisecond))
	if o.store != nil {
		row := RunRow{
			ID:          res.ID,
			StartedAt:   started,
			FinishedAt:  started.Add(res.Duration),
			Version:     res.Version,
			Status:      res.Status,
			StopOutcome: res.StopOutcome,
			Detail:      res.Detail,
		}
		if err := o.store.RecordRun(ctx, row); err != nil {
			log.Warn().Err(err).Msg("record run in history store")
		}
	}
	if o.events != nil {
		o.events.EmitRun(string(res.Status), res.Version, res.Duration)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

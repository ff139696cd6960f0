package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smallcart/deployctl/internal/deploy"
	"github.com/smallcart/deployctl/internal/gitsrc"
	"github.com/smallcart/deployctl/internal/probe"
	"github.com/smallcart/deployctl/internal/procs"
	"github.com/smallcart/deployctl/internal/pydeps"
	"github.com/smallcart/deployctl/internal/remote"
	"github.com/smallcart/deployctl/internal/snapshot"
	gssh "github.com/smallcart/deployctl/internal/ssh"
	"github.com/smallcart/deployctl/internal/telemetry"
	"github.com/smallcart/deployctl/pkg/api"
)

// Resolve the configuration for a subcommand
func resolveConfig(cmd *cobra.Command) (deploy.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return deploy.LoadConfig(cfgPath)
}

// Build a fully wired orchestrator for local runs
func buildOrchestrator(cfg deploy.Config) (*deploy.Orchestrator, func(), error) {
	journal, err := deploy.OpenJournal(cfg.Records.JournalPath)
	if err != nil {
		return nil, nil, err
	}
	o := deploy.NewOrchestrator(
		cfg,
		procs.OS{},
		gitsrc.New(),
		pydeps.New(cfg.App.Python),
		probe.New(),
		snapshot.Dir{},
		journal,
	)
	closeStore := func() {}
	store, err := deploy.NewStore(cfg.Records.HistoryDB)
	if err != nil {
		// The journal remains authoritative; history is best-effort.
		log.Warn().Err(err).Msg("open history store failed, continuing without it")
	} else {
		o.WithStore(store)
		closeStore = func() { _ = store.Close() }
	}
	o.WithEvents(telemetry.NewEmitter(
		cfg.Telemetry.Enabled, cfg.Telemetry.OTLPEndpoint,
		cfg.App.Name, cfg.App.Environment))
	return o, closeStore, nil
}

// Run a deployment, locally or on a remote host
func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the latest version, rolling back on failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			if host, _ := cmd.Flags().GetString("host"); host != "" {
				status, tail, err := remote.NewRunner(host, cfg).Deploy(cmd.Context())
				if err != nil {
					return err
				}
				for _, line := range tail {
					fmt.Println(line)
				}
				fmt.Printf("%s: %s\n", host, status)
				exitCode = api.ExitCode(status)
				return nil
			}

			o, closeStore, err := buildOrchestrator(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			res, runErr := o.Run(cmd.Context())
			printResult(res, runErr)
			exitCode = api.ExitCode(res.Status)
			return nil
		},
	}
	cmd.Flags().String("host", "", "deploy on a remote host over SSH instead of locally")
	return cmd
}

// Restore the previous snapshot without updating
func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Restore the backup snapshot and restart the previous version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			o, closeStore, err := buildOrchestrator(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			res, runErr := o.RunRollback(cmd.Context())
			printResult(res, runErr)
			if res.Status == api.RunRolledBack {
				// The requested outcome; don't hand CI a failure code.
				exitCode = 0
				return nil
			}
			exitCode = api.ExitCode(res.Status)
			return nil
		},
	}
}

// List recent runs from the history store
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent deployment runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			store, err := deploy.NewStore(cfg.Records.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Format("2006-01-02 15:04:05"),
					r.Status, r.Version, r.StopOutcome, r.Detail)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to show")
	return cmd
}

// Write a default config file
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				cfgPath = deploy.DefaultConfigPath()
			}
			if _, err := os.Stat(cfgPath); err == nil {
				fmt.Printf("config already exists at %s\n", cfgPath)
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0700); err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0600); err != nil {
				return err
			}
			fmt.Printf("wrote default config to %s\n", cfgPath)
			return nil
		},
	}
}

// Prepare SSH access to a deployment host
func newRemoteInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote-init",
		Short: "Generate SSH credentials for a host and push the config there",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			host, _ := cmd.Flags().GetString("host")
			hostKey, _ := cmd.Flags().GetString("host-key")

			if err := os.MkdirAll(cfg.SSH.KeyDir, 0700); err != nil {
				return err
			}
			keyPath := filepath.Join(cfg.SSH.KeyDir, "id_ed25519")
			if _, err := os.Stat(keyPath); os.IsNotExist(err) {
				pub, err := gssh.GenerateEd25519Keypair(keyPath)
				if err != nil {
					return err
				}
				fmt.Printf("generated %s\nauthorize this key on the host:\n%s", keyPath, pub)
			}

			if hostKey != "" {
				addr := fmt.Sprintf("%s:%d", host, cfg.SSH.Port)
				if err := gssh.AppendKnownHost(cfg.SSH.KnownHosts, addr, hostKey); err != nil {
					return err
				}
				fmt.Printf("recorded host key for %s\n", addr)
			}

			if push, _ := cmd.Flags().GetBool("push-config"); push {
				cfgPath, _ := cmd.Flags().GetString("config")
				if cfgPath == "" {
					cfgPath = deploy.DefaultConfigPath()
				}
				if err := remote.NewRunner(host, cfg).PushConfig(cmd.Context(), cfgPath); err != nil {
					return err
				}
				fmt.Printf("pushed config to %s\n", host)
			}
			return nil
		},
	}
	cmd.Flags().String("host", "", "deployment host address")
	cmd.Flags().String("host-key", "", "host public key line to trust in known_hosts")
	cmd.Flags().Bool("push-config", false, "upload the local config to the host over SFTP")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func printResult(res api.RunResult, runErr error) {
	var unrecoverable *deploy.BackupUnavailableError
	if errors.As(runErr, &unrecoverable) {
		fmt.Fprintln(os.Stderr, "deployment failed and could not be rolled back:")
		for _, line := range unrecoverable.JournalTail {
			fmt.Fprintln(os.Stderr, "  "+line)
		}
	} else if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
	}
	fmt.Printf("%s (version %s, stop %s, %s)\n",
		res.Status, res.Version, res.StopOutcome, res.Duration.Round(time.Millisecond))
}

const defaultConfigYAML = `app:
  name: smallcart-app
  target_dir: /opt/smallcart/app
  repo_url: https://example.com/smallcart/smallcart.git
  branch: main
  manifest: requirements.txt
  python: python3
  entrypoint: app.py
  port: 5000
  environment: production
probe:
  path: /
  interval_seconds: 3
  max_attempts: 10
stop:
  grace_seconds: 5
telemetry:
  enabled: false
  otlp_endpoint: ""
ssh:
  key_dir: ~/.config/deployctl/ssh
  known_hosts: ~/.config/deployctl/known_hosts
  user: ubuntu
  port: 22
`

package deploy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		TargetDir   string `yaml:"target_dir"`
		BackupDir   string `yaml:"backup_dir"`
		RepoURL     string `yaml:"repo_url"`
		Branch      string `yaml:"branch"`
		Manifest    string `yaml:"manifest"`
		Python      string `yaml:"python"`
		Entrypoint  string `yaml:"entrypoint"`
		Port        int    `yaml:"port"`
		Environment string `yaml:"environment"`
		LogPath     string `yaml:"log_path"`
	} `yaml:"app"`
	Probe struct {
		Path            string `yaml:"path"`
		IntervalSeconds int    `yaml:"interval_seconds"`
		MaxAttempts     int    `yaml:"max_attempts"`
	} `yaml:"probe"`
	Stop struct {
		GraceSeconds int `yaml:"grace_seconds"`
	} `yaml:"stop"`
	Records struct {
		JournalPath string `yaml:"journal_path"`
		HistoryDB   string `yaml:"history_db"`
	} `yaml:"records"`
	Telemetry struct {
		Enabled      bool   `yaml:"enabled"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`
	SSH struct {
		KeyDir     string `yaml:"key_dir"`
		KnownHosts string `yaml:"known_hosts"`
		User       string `yaml:"user"`
		Port       int    `yaml:"port"`
		RemoteBin  string `yaml:"remote_bin"`
	} `yaml:"ssh"`
}

// DefaultConfigPath resolves $XDG_CONFIG_HOME/deployctl/config.yaml or
// ~/.config/deployctl/config.yaml.
func DefaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "deployctl", "config.yaml")
}

// LoadConfig reads YAML configuration from a path. If path is empty the
// default location is used. Secrets from secrets.env and the environment
// override the repository URL so tokens never live in the YAML file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		path = DefaultConfigPath()
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	secrets, _ := LoadSecretsEnv("")
	if v := os.Getenv("DEPLOYCTL_REPO_URL"); v != "" {
		secrets["DEPLOYCTL_REPO_URL"] = v
	}
	if u, ok := secrets["DEPLOYCTL_REPO_URL"]; ok && u != "" {
		cfg.App.RepoURL = u
	}

	cfg.applyDefaults()
	return cfg, cfg.validate()
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "smallcart-app"
	}
	if c.App.Branch == "" {
		c.App.Branch = "main"
	}
	if c.App.Manifest == "" {
		c.App.Manifest = "requirements.txt"
	}
	if c.App.Python == "" {
		c.App.Python = "python3"
	}
	if c.App.Entrypoint == "" {
		c.App.Entrypoint = "app.py"
	}
	if c.App.Port == 0 {
		c.App.Port = 5000
	}
	if c.App.Environment == "" {
		c.App.Environment = "production"
	}
	if c.App.BackupDir == "" && c.App.TargetDir != "" {
		c.App.BackupDir = c.App.TargetDir + ".backup"
	}
	if c.App.LogPath == "" && c.App.TargetDir != "" {
		c.App.LogPath = filepath.Join(c.App.TargetDir, "app.log")
	}
	if c.Probe.Path == "" {
		c.Probe.Path = "/"
	}
	if c.Probe.IntervalSeconds == 0 {
		c.Probe.IntervalSeconds = 3
	}
	if c.Probe.MaxAttempts == 0 {
		c.Probe.MaxAttempts = 10
	}
	if c.Stop.GraceSeconds == 0 {
		c.Stop.GraceSeconds = 5
	}
	if c.Records.JournalPath == "" && c.App.TargetDir != "" {
		c.Records.JournalPath = c.App.TargetDir + ".deploy.log"
	}
	if c.Records.HistoryDB == "" && c.App.TargetDir != "" {
		c.Records.HistoryDB = c.App.TargetDir + ".deploy.db"
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.RemoteBin == "" {
		c.SSH.RemoteBin = "deployctl"
	}
}

func (c *Config) validate() error {
	if c.App.TargetDir == "" {
		return fmt.Errorf("config: app.target_dir is required")
	}
	if c.App.RepoURL == "" {
		return fmt.Errorf("config: app.repo_url is required")
	}
	return nil
}

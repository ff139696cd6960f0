package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smallcart/deployctl/internal/deploy"
	gssh "github.com/smallcart/deployctl/internal/ssh"
	"github.com/smallcart/deployctl/pkg/api"
)

// Runner drives a deployment on a remote host: it invokes deployctl there
// over SSH, maps the remote exit code back to a terminal status, and pulls
// the journal tail for the operator. The host is expected to have deployctl
// and its config installed (the provisioning that puts them there is out of
// scope here).
type Runner struct {
	Host string
	cfg  deploy.Config
}

func NewRunner(host string, cfg deploy.Config) *Runner {
	return &Runner{Host: host, cfg: cfg}
}

func (r *Runner) client() (*gssh.Client, error) {
	keyPath := filepath.Join(r.cfg.SSH.KeyDir, "id_ed25519")
	signer, err := gssh.LoadPrivateKeySigner(keyPath)
	if err != nil {
		return nil, err
	}
	kh, err := gssh.LoadKnownHostsCallback(r.cfg.SSH.KnownHosts)
	if err != nil {
		return nil, err
	}
	return &gssh.Client{
		Addr:       fmt.Sprintf("%s:%d", r.Host, r.cfg.SSH.Port),
		User:       r.cfg.SSH.User,
		Signer:     signer,
		KnownHosts: kh,
		Timeout:    15 * time.Second,
		Retries:    2,
		Backoff:    500 * time.Millisecond,
	}, nil
}

// Deploy runs `deployctl deploy` on the remote host and returns the
// resulting terminal status together with the tail of the remote journal.
func (r *Runner) Deploy(ctx context.Context) (api.RunStatus, []string, error) {
	c, err := r.client()
	if err != nil {
		return "", nil, err
	}

	cmd := r.cfg.SSH.RemoteBin + " deploy --log warn"
	out, code, err := c.RunCommand(ctx, cmd)
	if err != nil {
		return "", nil, fmt.Errorf("remote deploy: %w", err)
	}
	log.Debug().Int("exit", code).Str("host", r.Host).Msg("remote deploy finished")

	var status api.RunStatus
	switch code {
	case 0:
		status = api.RunDeployed
	case 2:
		status = api.RunRolledBack
	case 3:
		status = api.RunFailedNoBackup
	default:
		return "", nil, fmt.Errorf("remote deploy exited %d: %s", code, strings.TrimSpace(out))
	}

	tail, err := r.journalTail(ctx, c)
	if err != nil {
		// The status is already known; a missing tail only degrades
		// diagnostics.
		log.Warn().Err(err).Msg("pull remote journal failed")
	}
	return status, tail, nil
}

func (r *Runner) journalTail(ctx context.Context, c *gssh.Client) ([]string, error) {
	cli, err := gssh.Dial(ctx, c)
	if err != nil {
		return nil, err
	}
	defer cli.Close()

	local := filepath.Join(os.TempDir(), fmt.Sprintf("deployctl-journal-%d.log", time.Now().UnixNano()))
	defer os.Remove(local)
	if err := gssh.PullFile(ctx, cli, r.cfg.Records.JournalPath, local); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) > 20 {
		lines = lines[len(lines)-20:]
	}
	return lines, nil
}

// PushConfig uploads the local config file so a freshly provisioned host
// can run deployctl with the same settings.
func (r *Runner) PushConfig(ctx context.Context, localConfigPath string) error {
	c, err := r.client()
	if err != nil {
		return err
	}
	cli, err := gssh.Dial(ctx, c)
	if err != nil {
		return err
	}
	defer cli.Close()
	remote := ".config/deployctl/config.yaml"
	return gssh.PushFile(ctx, cli, localConfigPath, remote)
}

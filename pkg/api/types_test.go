package api

import "testing"

func TestExitCode(t *testing.T) {
	cases := []struct {
		status RunStatus
		want   int
	}{
		{RunDeployed, 0},
		{RunRolledBack, 2},
		{RunFailedNoBackup, 3},
		{RunStatus("bogus"), 1},
		{RunStatus(""), 1},
	}
	for _, c := range cases {
		if got := ExitCode(c.status); got != c.want {
			t.Errorf("ExitCode(%q) = %d, want %d", c.status, got, c.want)
		}
	}
}

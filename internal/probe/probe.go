package probe

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTP performs a single synchronous liveness check against the
// application. It never retries; bounded polling belongs to the caller.
type HTTP struct {
	Timeout time.Duration
}

func New() HTTP { return HTTP{Timeout: 2 * time.Second} }

// IsReachable reports whether a GET against host:port answers with a
// non-server-error status.
func (p HTTP) IsReachable(host string, port int, path string) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	url := fmt.Sprintf("http://%s:%d%s", host, port, path)
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 500
}

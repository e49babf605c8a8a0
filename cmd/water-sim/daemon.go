package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sweeney/water-sim/internal/config"
	"github.com/sweeney/water-sim/internal/web"
)

// errNoDaemon means nothing answered at the daemon address. The operator
// commands then fall back to opening the store directly.
var errNoDaemon = errors.New("no daemon reachable")

const daemonTimeout = 2 * time.Second

// daemonClient sends operator requests to a running daemon's HTTP server,
// which owns the store while it runs.
type daemonClient struct {
	base string
	http *http.Client
}

// daemon returns a client for the daemon the operator commands should try
// first, or nil if there is none to try. The --daemon flag wins over the
// configured HTTP address; "off" disables the daemon path.
func (g *globalFlags) daemon(cfg config.Config) *daemonClient {
	base := g.daemonURL
	if base == "off" {
		return nil
	}
	if base == "" {
		base = daemonURL(cfg.HTTP.Addr)
	}
	if base == "" {
		return nil
	}
	return &daemonClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: daemonTimeout},
	}
}

// daemonURL turns a listen address into a URL a local client can dial.
func daemonURL(addr string) string {
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// State fetches the daemon's last scanned process image.
func (c *daemonClient) State(ctx context.Context) (web.StateJSON, error) {
	var out web.StateJSON
	body, err := c.do(ctx, http.MethodGet, "/state.json", "")
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode daemon state: %w", err)
	}
	return out, nil
}

// StartBackwash asks the daemon to start a backwash cycle.
func (c *daemonClient) StartBackwash(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/backwash", "")
	return err
}

// SetTag asks the daemon to write raw to the tag at path.
func (c *daemonClient) SetTag(ctx context.Context, path, raw string) (web.TagJSON, error) {
	var out web.TagJSON
	p := (&url.URL{Path: strings.Trim(path, "/")}).EscapedPath()
	body, err := c.do(ctx, http.MethodPost, "/tags/"+p, raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode daemon reply: %w", err)
	}
	return out, nil
}

func (c *daemonClient) do(ctx context.Context, method, path, body string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v", errNoDaemon, c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read daemon reply: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("daemon %s %s: %s: %s",
			method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

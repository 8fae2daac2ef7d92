// Package httpprobe provides a generic HTTP health-probe executor.
//
// Success means the endpoint answered with a status below 400 within the
// timeout; the response body is discarded.
package httpprobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jobd/internal/registry"
	logx "jobd/pkg/logx"
)

// Config declares one HTTP probe instance.
type Config struct {
	URL string `json:"url"`

	// Method defaults to GET; HEAD is the other sensible choice.
	Method string `json:"method,omitempty"`

	// Timeout is a Go duration string; empty means 10s.
	Timeout string `json:"timeout,omitempty"`

	// ExpectStatus pins an exact status code. 0 accepts anything below 400.
	ExpectStatus int `json:"expect_status,omitempty"`
}

// New validates cfg and returns the executor body.
func New(cfg Config, log logx.Logger) (registry.Body, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("httpprobe: url required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("httpprobe: invalid url %q", raw)
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, fmt.Errorf("httpprobe: unsupported method %q", cfg.Method)
	}
	timeout := 10 * time.Second
	if s := strings.TrimSpace(cfg.Timeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("httpprobe: invalid timeout %q", cfg.Timeout)
		}
		timeout = d
	}

	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, method, raw, nil)
		if err != nil {
			return "", err
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", raw, err)
		}
		// Drain a little so keep-alive connections can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		_ = resp.Body.Close()
		dur := time.Since(start).Round(time.Millisecond)

		if cfg.ExpectStatus != 0 {
			if resp.StatusCode != cfg.ExpectStatus {
				return "", fmt.Errorf("probe %s: status %d, expected %d", raw, resp.StatusCode, cfg.ExpectStatus)
			}
		} else if resp.StatusCode >= 400 {
			return "", fmt.Errorf("probe %s: status %d", raw, resp.StatusCode)
		}
		return fmt.Sprintf("%s in %s", resp.Status, dur), nil
	}, nil
}

// Package shellexec provides a generic shell-command executor.
//
// It carries no job business logic: operators declare instances in config
// (command, env, timeout) and bind jobs to them by type key.
package shellexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/armon/circbuf"
	shellwords "github.com/mattn/go-shellwords"

	"jobd/internal/registry"
	logx "jobd/pkg/logx"
)

// maxBufSize caps how much command output we keep. Output beyond this is
// truncated from the front (ring buffer), so the tail survives.
const maxBufSize = 256000

// Config declares one shell executor instance.
type Config struct {
	// Command to run. Parsed into argv unless Shell is set.
	Command string `json:"command"`

	// Shell runs the command through "/bin/sh -c" instead of argv parsing.
	Shell bool `json:"shell,omitempty"`

	// Env entries ("K=V") appended to the inherited environment.
	Env []string `json:"env,omitempty"`

	// Dir is the working directory (empty means inherit).
	Dir string `json:"dir,omitempty"`

	// Timeout is a Go duration string; "0s" or empty disables it.
	Timeout string `json:"timeout,omitempty"`
}

// New validates cfg and returns the executor body.
func New(cfg Config, log logx.Logger) (registry.Body, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		return nil, errors.New("shellexec: command required")
	}
	var timeout time.Duration
	if s := strings.TrimSpace(cfg.Timeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("shellexec: invalid timeout %q: %w", cfg.Timeout, err)
		}
		if d < 0 {
			return nil, errors.New("shellexec: timeout must be >= 0")
		}
		timeout = d
	}
	if !cfg.Shell {
		// Fail argv parsing at registration time, not at first fire.
		args, err := shellwords.Parse(command)
		if err != nil {
			return nil, fmt.Errorf("shellexec: parse command: %w", err)
		}
		if len(args) == 0 {
			return nil, errors.New("shellexec: command is empty after parsing")
		}
	}

	return func(ctx context.Context) (string, error) {
		runCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cmd, err := buildCmd(runCtx, command, cfg.Shell, cfg.Env, cfg.Dir)
		if err != nil {
			return "", err
		}
		out, _ := circbuf.NewBuffer(maxBufSize)
		// One buffer for both streams so the detail reads like a terminal.
		cmd.Stdout = out
		cmd.Stderr = out

		start := time.Now()
		err = cmd.Run()
		dur := time.Since(start)

		if out.TotalWritten() > out.Size() {
			log.Debug("command output truncated",
				logx.String("command", command),
				logx.Int64("written", out.TotalWritten()),
				logx.Int64("kept", out.Size()),
			)
		}

		tail := strings.TrimSpace(string(out.Bytes()))
		if err != nil {
			if runCtx.Err() != nil && timeout > 0 {
				return "", fmt.Errorf("command timed out after %s: %w", timeout, runCtx.Err())
			}
			if tail != "" {
				return "", fmt.Errorf("%w: %s", err, lastLine(tail))
			}
			return "", err
		}
		detail := fmt.Sprintf("exit 0 in %s", dur.Round(time.Millisecond))
		if tail != "" {
			detail += "; " + lastLine(tail)
		}
		return detail, nil
	}, nil
}

func buildCmd(ctx context.Context, command string, useShell bool, env []string, dir string) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	if useShell {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	} else {
		args, err := shellwords.Parse(command)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, errors.New("shellexec: command is empty after parsing")
		}
		cmd = exec.CommandContext(ctx, args[0], args[1:]...)
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Dir = dir
	return cmd, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 300 {
		s = s[:297] + "..."
	}
	return s
}

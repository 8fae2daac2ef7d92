package app

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"jobd/internal/config"
	"jobd/internal/executors/httpprobe"
	"jobd/internal/executors/shellexec"
	"jobd/internal/registry"
	logx "jobd/pkg/logx"
)

// buildExecutorBody constructs one executor body from its raw config block.
// Construction validates the block (command parse, url, timeouts), so a bad
// block is rejected before it can reach the registry.
func buildExecutorBody(name string, raw config.ExecutorConfigRaw, log logx.Logger) (registry.Body, error) {
	typ := strings.ToLower(strings.TrimSpace(raw.Type))
	switch typ {
	case "shell":
		var c shellexec.Config
		if err := unmarshalStrict(raw.Config, &c); err != nil {
			return nil, fmt.Errorf("executors.%s: %w", name, err)
		}
		body, err := shellexec.New(c, log.With(logx.String("executor", name)))
		if err != nil {
			return nil, fmt.Errorf("executors.%s: %w", name, err)
		}
		return body, nil
	case "http":
		var c httpprobe.Config
		if err := unmarshalStrict(raw.Config, &c); err != nil {
			return nil, fmt.Errorf("executors.%s: %w", name, err)
		}
		body, err := httpprobe.New(c, log.With(logx.String("executor", name)))
		if err != nil {
			return nil, fmt.Errorf("executors.%s: %w", name, err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("executors.%s: unknown type %q", name, raw.Type)
	}
}

// applyExecutors synchronizes the registry with the config's executor map.
// Enabled entries are (re-)registered; entries that disappeared or were
// disabled are removed so jobs bound to them stop resolving.
func applyExecutors(reg *registry.Registry, prev, cur map[string]config.ExecutorConfigRaw, log logx.Logger) error {
	names := make([]string, 0, len(cur))
	for name := range cur {
		names = append(names, name)
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		raw := cur[name]
		if !raw.Enabled {
			reg.Register(name, nil)
			continue
		}
		body, err := buildExecutorBody(name, raw, log)
		if err != nil {
			// Keep whatever was registered before; a bad reload must not
			// tear down a working executor.
			log.Warn("executor config rejected; keeping previous registration",
				logx.String("executor", name),
				logx.Any("err", err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reg.Register(name, body)
	}

	// Unregister entries removed from config.
	for name := range prev {
		if _, ok := cur[name]; !ok {
			reg.Register(name, nil)
			log.Info("executor removed", logx.String("executor", name))
		}
	}
	return firstErr
}

// validateExecutors dry-builds every enabled executor without touching the
// registry. Used by the config validator to reject bad reloads up front.
func validateExecutors(cur map[string]config.ExecutorConfigRaw) error {
	for name, raw := range cur {
		if !raw.Enabled {
			continue
		}
		if _, err := buildExecutorBody(name, raw, logx.Nop()); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalStrict(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("config block required")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

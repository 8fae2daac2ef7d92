package config

import (
	"sort"
	"strings"

	logx "jobd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) a list of executor names that changed (enable/type/config).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Server (never log token)
	if oldCfg.Server.Enabled != newCfg.Server.Enabled ||
		strings.TrimSpace(oldCfg.Server.Addr) != strings.TrimSpace(newCfg.Server.Addr) ||
		oldCfg.Server.AllowInsecure != newCfg.Server.AllowInsecure ||
		oldCfg.Server.RatePerSec != newCfg.Server.RatePerSec ||
		oldCfg.Server.Burst != newCfg.Server.Burst ||
		strings.TrimSpace(oldCfg.Server.ReadTimeout) != strings.TrimSpace(newCfg.Server.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Server.WriteTimeout) != strings.TrimSpace(newCfg.Server.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Server.IdleTimeout) != strings.TrimSpace(newCfg.Server.IdleTimeout) ||
		(strings.TrimSpace(oldCfg.Server.Token) != "") != (strings.TrimSpace(newCfg.Server.Token) != "") {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.Bool("server.enabled", newCfg.Server.Enabled),
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.Bool("server.token_set", strings.TrimSpace(newCfg.Server.Token) != ""),
			logx.Int("server.rate_per_sec", newCfg.Server.RatePerSec),
		)
	}

	// Engine
	if oldCfg.Engine.Workers != newCfg.Engine.Workers ||
		oldCfg.Engine.QueueSize != newCfg.Engine.QueueSize ||
		strings.TrimSpace(oldCfg.Engine.Timezone) != strings.TrimSpace(newCfg.Engine.Timezone) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.String("engine.timezone", strings.TrimSpace(newCfg.Engine.Timezone)),
		)
	}

	// Storage. Nil means in-memory.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Executors (summarize only; details at debug)
	executorChanged := diffExecutors(oldCfg.Executors, newCfg.Executors)
	if len(executorChanged) > 0 {
		changed = append(changed, "executors")
		attrs = append(attrs,
			logx.Int("executors.changed_count", len(executorChanged)),
			logx.Int("executors.enabled_count", countEnabled(newCfg.Executors)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, executorChanged
}

func countEnabled(m map[string]ExecutorConfigRaw) int {
	if len(m) == 0 {
		return 0
	}
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffExecutors(oldM, newM map[string]ExecutorConfigRaw) []string {
	if oldM == nil {
		oldM = map[string]ExecutorConfigRaw{}
	}
	if newM == nil {
		newM = map[string]ExecutorConfigRaw{}
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o := oldM[name]
		n := newM[name]
		if o.Enabled != n.Enabled || o.Type != n.Type {
			out = append(out, name)
			continue
		}
		if canonicalHashJSON(o.Config) != canonicalHashJSON(n.Config) {
			out = append(out, name)
			continue
		}
	}
	sort.Strings(out)
	return out
}

package config

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Marshal re-serializes the catalog to a YAML document that Load parses back
// to a structurally equal Config. Defaults were filled in at load time, so
// the output spells every program field out except an empty workingdir or
// env (and the socket when it is the default); umask is rendered as octal
// digits.
func (c *Config) Marshal() ([]byte, error) {
	doc := map[string]any{}
	if c.Socket != "" && c.Socket != DefaultSocket {
		doc["socket"] = c.Socket
	}
	if c.Log != (LogSettings{}) {
		doc["log"] = c.Log
	}
	if c.Metrics != (MetricsSettings{}) {
		doc["metrics"] = c.Metrics
	}
	if c.Store != (StoreSettings{}) {
		doc["store"] = c.Store
	}
	if c.History != (HistorySettings{}) {
		doc["history"] = c.History
	}
	programs := map[string]map[string]any{}
	names := make([]string, 0, len(c.Programs))
	for n := range c.Programs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		p := c.Programs[n]
		fields := map[string]any{
			"cmd":          p.Cmd,
			"numprocs":     p.NumProcs,
			"umask":        fmt.Sprintf("%03o", p.Umask),
			"autostart":    p.AutoStart,
			"autorestart":  string(p.AutoRestart),
			"exitcodes":    p.ExitCodes,
			"startretries": p.StartRetries,
			"starttime":    p.StartTime,
			"stopsignal":   p.StopSignal,
			"stoptime":     p.StopTime,
			"stdout":       string(p.Stdout),
			"stderr":       string(p.Stderr),
		}
		if p.WorkingDir != "" {
			fields["workingdir"] = p.WorkingDir
		}
		if len(p.Env) > 0 {
			fields["env"] = p.Env
		}
		programs[n] = fields
	}
	doc["programs"] = programs
	return yaml.Marshal(doc)
}

package config

// LogTarget is the redirection target for a child stream: the sentinel AUTO
// (per-instance file under the daemon's log directory), NONE (discard), or a
// filesystem path.
type LogTarget string

const (
	LogAuto LogTarget = "AUTO"
	LogNone LogTarget = "NONE"
)

func (t LogTarget) IsAuto() bool { return t == LogAuto }
func (t LogTarget) IsNone() bool { return t == LogNone }

// Path returns the explicit file path, or "" for the sentinels.
func (t LogTarget) Path() string {
	if t.IsAuto() || t.IsNone() {
		return ""
	}
	return string(t)
}

package taskmaster

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/control"
	"github.com/loykin/taskmaster/internal/history"
	"github.com/loykin/taskmaster/internal/metrics"
	storfactory "github.com/loykin/taskmaster/internal/store/factory"
	"github.com/loykin/taskmaster/internal/supervisor"
	"github.com/loykin/taskmaster/pkg/client"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Program = cfg.Program

type HistorySink = history.Sink

// LoadConfig parses the catalog at path.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Supervisor is a thin facade over internal/supervisor for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(c *Config, configPath string) *Supervisor {
	return &Supervisor{inner: supervisor.New(c, configPath)}
}

// WithHistorySinks wires lifecycle event sinks; the returned recorder must be
// run by the caller (it is an I/O helper, not part of the supervisor loop).
func (s *Supervisor) WithHistorySinks(sinks ...HistorySink) *history.Recorder {
	rec := history.NewRecorder(sinks...)
	s.inner.SetRecorder(rec)
	return rec
}

// NewStoreSinkFromDSN builds a store-backed history sink from a DSN.
func NewStoreSinkFromDSN(ctx context.Context, dsn string) (HistorySink, error) {
	st, err := storfactory.NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return history.NewStoreSink(st), nil
}

// Run drives the supervisor loop until shutdown.
func (s *Supervisor) Run(ctx context.Context) { s.inner.Run(ctx) }

// Dispatch submits one control command line.
func (s *Supervisor) Dispatch(line string) string { return s.inner.Dispatch(line) }

// NewControlServer binds the control socket for this supervisor.
func (s *Supervisor) NewControlServer(socketPath string) *control.Server {
	return control.NewServer(socketPath, s.inner.Dispatch)
}

// Send submits one command through a daemon's control socket.
func Send(socketPath, line string) (string, error) { return client.Send(socketPath, line) }

// RegisterMetricsDefault registers collectors with the default registry.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default gatherer.
func MetricsHandler() http.Handler { return metrics.Handler() }

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/control"
	"github.com/loykin/taskmaster/internal/history"
	chsink "github.com/loykin/taskmaster/internal/history/clickhouse"
	"github.com/loykin/taskmaster/internal/logger"
	"github.com/loykin/taskmaster/internal/metrics"
	storfactory "github.com/loykin/taskmaster/internal/store/factory"
	"github.com/loykin/taskmaster/internal/supervisor"
)

const defaultConfigPath = "taskmaster.yaml"

func main() {
	// Flags resolve through viper so TASKMASTERD_SOCKET / TASKMASTERD_LOG_LEVEL
	// environment variables work as overrides too.
	v := viper.New()
	v.SetEnvPrefix("taskmasterd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "taskmasterd [config]",
		Short: "Supervise child programs from a declarative catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := defaultConfigPath
			if len(args) == 1 {
				configPath = args[0]
			}
			return runDaemon(configPath, v.GetString("socket"), v.GetString("log-level"))
		},
	}
	root.Flags().String("socket", "", "control socket path (overrides config)")
	root.Flags().String("log-level", "", "daemon log level (overrides config)")
	_ = v.BindPFlag("socket", root.Flags().Lookup("socket"))
	_ = v.BindPFlag("log-level", root.Flags().Lookup("log-level"))
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(configPath, socketPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	logger.Setup(logLevel)
	slog.Info("taskmasterd booting", "config", configPath, "programs", len(cfg.Programs))

	sup := supervisor.New(cfg, configPath)

	// Steady-state collaborators are best-effort; only config parsing and the
	// socket bind below are fatal.
	sinks, cleanup := buildSinks(cfg)
	defer cleanup()
	var rec *history.Recorder
	recCtx, recCancel := context.WithCancel(context.Background())
	defer recCancel()
	if len(sinks) > 0 {
		rec = history.NewRecorder(sinks...)
		sup.SetRecorder(rec)
		go rec.Run(recCtx)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			slog.Warn("metrics registration failed", "error", err)
		} else {
			go serveMetrics(cfg.Metrics.Listen)
		}
	}

	if socketPath == "" {
		socketPath = cfg.Socket
	}
	srv := control.NewServer(socketPath, sup.Dispatch)
	if err := srv.Listen(); err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go srv.Serve(ctx)

	sup.Run(ctx)

	if rec != nil {
		recCancel()
		rec.Wait()
	}
	slog.Info("taskmasterd exited cleanly")
	return nil
}

func buildSinks(cfg *config.Config) ([]history.Sink, func()) {
	var sinks []history.Sink
	var closers []func()
	if cfg.Store.Enabled && cfg.Store.DSN != "" {
		st, err := storfactory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			slog.Warn("store disabled", "dsn", cfg.Store.DSN, "error", err)
		} else if err := st.EnsureSchema(context.Background()); err != nil {
			slog.Warn("store schema failed, store disabled", "error", err)
			_ = st.Close()
		} else {
			sinks = append(sinks, history.NewStoreSink(st))
			closers = append(closers, func() { _ = st.Close() })
		}
	}
	if cfg.History.Enabled && cfg.History.ClickHouseAddr != "" {
		table := cfg.History.ClickHouseTable
		if table == "" {
			table = "taskmaster_events"
		}
		ch, err := chsink.New(cfg.History.ClickHouseAddr, table)
		if err != nil {
			slog.Warn("clickhouse sink disabled", "addr", cfg.History.ClickHouseAddr, "error", err)
		} else {
			sinks = append(sinks, ch)
			closers = append(closers, func() { _ = ch.Close() })
		}
	}
	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

func serveMetrics(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	slog.Info("metrics listening", "addr", listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Warn("metrics server stopped", "error", err)
	}
}

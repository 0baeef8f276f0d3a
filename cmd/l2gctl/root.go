package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"l2g/internal/config"
	"l2g/internal/logging"
	"l2g/pkg/l2g"
)

// globalFlags are shared by every subcommand. Unset flags fall back to the
// loaded configuration.
type globalFlags struct {
	configPath string
	storeKind  string
	storePath  string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "l2gctl",
		Short:         "Evolve self-assembly control protocols",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML configuration file (defaults are embedded)")
	pf.StringVar(&flags.storeKind, "store", "", "store backend: memory|sqlite|badger")
	pf.StringVar(&flags.storePath, "store-path", "", "sqlite database file or badger directory")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: auto|text|json")

	root.AddCommand(
		newRunCmd(flags),
		newReplayCmd(flags),
		newRunsCmd(flags),
		newLineageCmd(flags),
		newFitnessCmd(flags),
		newDiagnosticsCmd(flags),
		newPoolCmd(flags),
		newMutationVizCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

func (f *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.storeKind != "" {
		cfg.Store.Kind = f.storeKind
	}
	if f.storePath != "" {
		cfg.Store.Path = f.storePath
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	return cfg, cfg.Validate()
}

// session bundles what a subcommand needs: the merged config, a logger and
// an initialized client. close must be called when done.
type session struct {
	cfg    config.Config
	log    *logrus.Logger
	client *l2g.Client
	reg    *prometheus.Registry
}

func (f *globalFlags) open(cmd *cobra.Command, withMetrics bool) (*session, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: log}
	opts := l2g.Options{StoreKind: cfg.Store.Kind, StorePath: cfg.Store.Path, Logger: log}
	if withMetrics && cfg.Metrics.Listen != "" {
		s.reg = prometheus.NewRegistry()
		s.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Registerer = s.reg
	}
	client, err := l2g.New(opts)
	if err != nil {
		return nil, err
	}
	if err := client.Init(cmd.Context()); err != nil {
		_ = client.Close()
		return nil, err
	}
	s.client = client
	return s, nil
}

func (s *session) close() {
	if err := s.client.Close(); err != nil {
		s.log.WithError(err).Warn("close store")
	}
}

// serveMetrics exposes the session registry until ctx is done.
func (s *session) serveMetrics(ctx context.Context) {
	if s.reg == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: s.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.WithField("addr", s.cfg.Metrics.Listen).Info("serving metrics")
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

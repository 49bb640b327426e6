// Команда sip_trial прогоняет сценарий регистрации и вызовов для агентов
// из YAML топологии и отдаёт метрики Prometheus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/phsym/console-slog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/sip_trial/pkg/config"
	"github.com/arzzra/sip_trial/pkg/engine/sipgoengine"
	"github.com/arzzra/sip_trial/pkg/metrics"
	"github.com/arzzra/sip_trial/pkg/topology"
	"github.com/arzzra/sip_trial/pkg/trial"
	"github.com/arzzra/sip_trial/pkg/ua"
)

func main() {
	var (
		configPath   = flag.String("config", "topology.yaml", "Topology YAML file")
		metricsAddr  = flag.String("metrics", ":9100", "Prometheus listen address, empty to disable")
		logFormat    = flag.String("log-format", "console", "Log format: console, json")
		logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		phaseTimeout = flag.Duration("phase-timeout", 40*time.Second, "Timeout of a single scenario phase")
		perAgent     = flag.Bool("per-agent", false, "Label status metrics with agent index")
		sipDebug     = flag.Bool("sip-debug", false, "Dump SIP messages")
	)
	flag.Parse()

	logger, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)
	sip.SIPDebug = *sipDebug

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *metricsAddr, *phaseTimeout, *perAgent); err != nil {
		logger.Error("trial failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	switch format {
	case "console":
		return slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func run(ctx context.Context, logger *slog.Logger, path, metricsAddr string, phaseTimeout time.Duration, perAgent bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var topo *topology.Topology
	mcfg := metrics.DefaultConfig()
	mcfg.PerAgent = perAgent
	collector := metrics.New(reg, mcfg, func() int {
		if topo == nil {
			return 0
		}
		return topo.Admission().Pending()
	})

	tracker := trial.NewTracker()
	engines := sipgoengine.NewFactory(sipgoengine.DefaultOptions(), logger)
	topo, err = topology.New(cfg, engines,
		topology.WithLogger(logger),
		topology.WithDelegate(ua.MultiDelegate{collector, tracker}))
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return topo.Run(gctx) })

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics listening", slog.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// сценарий завершает всю группу
		defer cancel()
		sum, err := trial.New(topo, tracker,
			trial.WithLogger(logger),
			trial.WithPhaseTimeout(phaseTimeout)).Run(gctx)
		logSummary(logger, sum)
		return err
	})

	err = g.Wait()
	if cerr := topo.Close(); cerr != nil {
		logger.Warn("close topology", slog.String("error", cerr.Error()))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logSummary(logger *slog.Logger, sum trial.Summary) {
	attrs := []any{slog.Int("iterations", sum.Iterations)}
	for _, s := range ua.AllStatuses() {
		if n := sum.Counts[s]; n > 0 {
			attrs = append(attrs, slog.Int(s.String(), n))
		}
	}
	logger.Info("trial finished", attrs...)
}

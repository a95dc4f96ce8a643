// Command controller runs the fleet auto-scaling control plane: the
// Fair Exclusion Coordinator, Health-Aware Dispatcher, Forecast Client,
// Scaling Controller, and the admin HTTP gateway that fronts them.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fleetwatch/controlplane/internal/config"
	"github.com/fleetwatch/controlplane/internal/dispatch"
	"github.com/fleetwatch/controlplane/internal/events"
	"github.com/fleetwatch/controlplane/internal/fec"
	"github.com/fleetwatch/controlplane/internal/forecast"
	"github.com/fleetwatch/controlplane/internal/gateway"
	"github.com/fleetwatch/controlplane/internal/metrics"
	"github.com/fleetwatch/controlplane/internal/scaling"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := config.Load()

	overlayPath := os.Getenv("CONFIG_OVERLAY_PATH")
	watcher := config.NewWatcher(&cfg, overlayPath, log.With().Str("component", "config").Logger())
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("controller: config overlay watcher failed to start")
	}
	defer watcher.Close()

	coordinator := fec.New(cfg.StarvationWarn, log.With().Str("component", "fec").Logger())

	prober := dispatch.ProberFunc(func(ctx context.Context, displayName string) (bool, error) {
		// Real deployments probe the target's own health endpoint; absent
		// one configured here, assume reachable targets stay healthy.
		return true, nil
	})
	var dispatchOpts []dispatch.Option
	if cfg.LatencySimEnabled {
		dispatchOpts = append(dispatchOpts, dispatch.WithSimulatedLatency(cfg.LatencySimMinMs, cfg.LatencySimMaxMs))
	}
	dispatcher := dispatch.New(
		cfg.HealthTTL, prober, cfg.ProbeFailureDefaultHealthy,
		log.With().Str("component", "dispatch").Logger(),
		dispatchOpts...,
	)

	forecastClient := forecast.New(
		cfg.ForecastServiceURL, cfg.ForecastTimeout, cfg.CacheTTL,
		log.With().Str("component", "forecast").Logger(),
	)

	registry := metrics.New()

	bus := events.Connect(events.Config{
		URL:            cfg.NATSURL,
		Name:           "fleetwatch-controller",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	}, log.With().Str("component", "events").Logger())
	defer bus.Close()

	controller := scaling.New(
		cfg, dispatcher, forecastClient, coordinator, registry,
		log.With().Str("component", "scaling").Logger(),
		scaling.WithEvents(bus),
	)

	promSink := metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
	influxSink := metrics.NewInfluxSink(metrics.InfluxConfig{
		URL: cfg.InfluxURL, Token: cfg.InfluxToken, Org: cfg.InfluxOrg, Bucket: cfg.InfluxBucket,
	}, log.With().Str("component", "influx").Logger())
	defer influxSink.Close()

	gw := gateway.New(gateway.Config{
		Addr:            cfg.AdminAddr,
		JWTSecret:       cfg.AdminJWTSecret,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		RateLimitWindow: time.Minute,
		RateLimitMax:    100,
	}, controller, log.With().Str("component", "gateway").Logger())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controller.Start(ctx)

	sinkDone := make(chan struct{})
	go runSinkLoop(ctx, controller, promSink, influxSink, cfg.EvalPeriod, sinkDone)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.AdminAddr).Msg("controller: admin gateway starting")
		return gw.Start()
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return gw.Shutdown(shutdownCtx)
	})

	<-ctx.Done()
	log.Info().Msg("controller: shutdown signal received")

	controller.Stop()
	<-sinkDone

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("controller: gateway shutdown error")
	}

	log.Info().Msg("controller: stopped")
}

// runSinkLoop periodically pushes a Snapshot to the Prometheus and
// InfluxDB sinks until ctx is cancelled.
func runSinkLoop(ctx context.Context, controller *scaling.Controller, prom *metrics.PrometheusSink, influx *metrics.InfluxSink, period time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := controller.Snapshot()
			prom.Observe(snap)
			influx.Write(ctx, snap)
		case <-ctx.Done():
			return
		}
	}
}

// Command opcua-server wires every collaborator package into a running
// binary: load configuration, build the address space, session table
// and subscription engine, start the single-logical-thread ticker, and
// accept opc.tcp connections until a shutdown signal arrives.
//
// Grounded on the teacher's root main.go: automaxprocs import for
// side-effecting GOMAXPROCS, flag-driven debug override, structured
// config load, signal-based graceful shutdown.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/nexroute/opcua-server/addrspace"
	"github.com/nexroute/opcua-server/historian"
	"github.com/nexroute/opcua-server/internal/config"
	"github.com/nexroute/opcua-server/internal/diagnostics"
	"github.com/nexroute/opcua-server/internal/events"
	"github.com/nexroute/opcua-server/internal/identity"
	"github.com/nexroute/opcua-server/internal/logging"
	"github.com/nexroute/opcua-server/internal/metrics"
	"github.com/nexroute/opcua-server/internal/sysmonitor"
	"github.com/nexroute/opcua-server/internal/worker"
	"github.com/nexroute/opcua-server/securechannel"
	"github.com/nexroute/opcua-server/server"
	"github.com/nexroute/opcua-server/session"
	"github.com/nexroute/opcua-server/subscription"
	"github.com/nexroute/opcua-server/transport"
	"github.com/nexroute/opcua-server/ua"
)

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides OPCUA_LOG_LEVEL)")
	flag.Parse()

	bootLogger := logging.New(logging.Options{Level: logging.LevelInfo, Format: logging.FormatPretty})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Options{
		Level:  logging.Level(cfg.LogLevel),
		Format: logging.Format(cfg.LogFormat),
	})
	cfg.LogFields(logger)

	cpuMonitor := sysmonitor.NewCPUMonitor(logger)
	guard := sysmonitor.NewAdmissionGuard(sysmonitor.Limits{
		MaxSecureChannels: cfg.MaxSecureChannels,
		MaxSessions:       cfg.MaxSessions,
		CPURejectPercent:  cfg.CPURejectThreshold,
		CPUPausePercent:   cfg.CPUPauseThreshold,
		MemoryLimitBytes:  cfg.MemoryLimit,
		MaxGoroutines:     cfg.MaxGoroutines,
		PublishRatePerSec: cfg.MaxPublishRequestsPerSec,
	}, logger, cpuMonitor)

	desc, err := config.LoadServerDescription(cfg.Addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load server description")
	}
	logger.Info().Strs("namespaces", desc.Namespaces).Int("endpoints", len(desc.Endpoints)).Msg("server description loaded")

	space := addrspace.New()
	addrspace.BuildWellKnownNodes(space, time.Now())
	if nsNode := space.GetNode(addrspace.ServerNamespaceArray); nsNode != nil {
		items := make([]ua.Variant, len(desc.Namespaces))
		for i, ns := range desc.Namespaces {
			items[i] = ua.NewString(ns)
		}
		nsNode.Value = ua.DataValue{
			Value:  ua.Variant{Type: ua.TypeString, IsArray: true, Array: items},
			Status: ua.Good,
		}
	}

	diag := diagnostics.New()

	sessions := session.NewTable(session.Config{
		MaxSessions:       cfg.MaxSessions,
		MinSessionTimeout: cfg.MinSessionTimeout,
		MaxSessionTimeout: cfg.MaxSessionTimeout,
	})
	engine := subscription.NewEngine(cfg.MaxPublishRequestsQueued)

	var ident *identity.Validator
	if cfg.JWTSecret != "" {
		ident = identity.NewValidator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	}

	eventsPublisher, err := events.NewPublisher(cfg.EventsURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect events publisher")
	}

	var historyReader addrspace.HistoryReader
	if cfg.HistorianBrokers != "" {
		adapter, err := historian.NewAdapter(historian.Config{
			Brokers:       splitBrokers(cfg.HistorianBrokers),
			ConsumerGroup: cfg.HistorianConsumerGroup,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start historian adapter")
		}
		adapter.Start()
		defer adapter.Stop()
		historyReader = adapter
	}

	pool := worker.NewPool(4, 256, logger)

	channels := securechannel.NewManager(securechannel.NonePolicy{})
	hub := transport.NewHub()

	srv := server.NewServer(server.Config{
		Channels:    channels,
		Sessions:    sessions,
		Engine:      engine,
		Space:       space,
		Diagnostics: diag,
		Guard:       guard,
		Identity:    ident,
		History:     historyReader,
		Events:      eventsPublisher,
		Pool:        pool,
		Pusher:      hub,
		Logger:      logger,
		Limits: server.Limits{
			MaxSubscriptionsPerSession: cfg.MaxSubscriptionsPerSession,
			MaxMonitoredItemsPerSub:    cfg.MaxMonitoredItemsPerSub,
			MaxDurableHours:            cfg.MaxDurableHours,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	go srv.RunTicker(ctx, 50*time.Millisecond)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Addr).Msg("failed to bind listener")
	}
	listener := transport.NewListener(ln, channels, hub, srv, logger)
	go func() {
		if err := listener.Serve(); err != nil {
			logger.Info().Err(err).Msg("listener stopped accepting connections")
		}
	}()
	logger.Info().Str("addr", cfg.Addr).Msg("opcua-server listening")

	collector := metrics.NewCollector(cfg.MetricsInterval, func() float64 {
		percent, _, err := cpuMonitor.GetPercent()
		if err != nil {
			return 0
		}
		return percent
	}, sysmonitor.MemoryLimit)
	collector.Start()
	defer collector.Stop()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down opcua-server")
	cancel()
	_ = listener.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

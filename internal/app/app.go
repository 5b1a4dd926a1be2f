package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	server "dragons-keep/server"
	"dragons-keep/server/internal/config"
	"dragons-keep/server/internal/health"
	servernet "dragons-keep/server/internal/net"
	"dragons-keep/server/internal/net/ws"
	"dragons-keep/server/internal/telemetry"
	"dragons-keep/server/internal/tracing"
	"dragons-keep/server/logging"
	loggingSinks "dragons-keep/server/logging/sinks"
)

const (
	serviceName     = "dragons-keep"
	shutdownTimeout = 5 * time.Second
)

type Config struct {
	Logger   telemetry.Logger
	Settings config.Config
	// Listener, when set, replaces listening on Settings.HTTPAddr.
	Listener net.Listener
	// Ready is called once the HTTP server accepts connections.
	Ready func(addr net.Addr)
}

func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}
	settings := cfg.Settings.Normalized()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		ServiceName: serviceName,
		Endpoint:    settings.OTelEndpoint,
		Enabled:     settings.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			telemetryLogger.Printf("failed to flush traces: %v", err)
		}
	}()

	router, err := newRouter(settings, fallbackLogger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	counters := &logging.Metrics{}
	metrics := telemetry.WrapMetrics(counters)

	hubCfg := server.DefaultHubConfig()
	hubCfg.DefaultSpeed = settings.DefaultSpeed
	hubCfg.SightRadius = settings.SightRadius
	hubCfg.CodePrefix = settings.CodePrefix
	hubCfg.IdleTTL = settings.RoomIdleTTL
	hubCfg.SendBuffer = settings.SendBuffer
	hubCfg.EnforceGameMaster = settings.EnforceGameMaster
	hubCfg.Logger = telemetryLogger
	hubCfg.Metrics = metrics
	hub := server.NewHub(hubCfg, router)

	relay := ws.NewHandler(hub, ws.HandlerConfig{
		Logger:    telemetryLogger,
		Metrics:   metrics,
		Publisher: router,
		WriteWait: settings.WriteWait,
		PongWait:  settings.PongWait,
	})

	clientDir := settings.ClientDir
	if clientDir == "" {
		if dir, err := resolveClientAssetsDir(); err == nil {
			clientDir = dir
		} else {
			telemetryLogger.Printf("serving without client assets: %v", err)
		}
	}

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		ClientDir: clientDir,
		Logger:    telemetryLogger,
		Relay:     http.HandlerFunc(relay.Handle),
		Router:    router,
		Counters:  counters,
	})

	listener := cfg.Listener
	if listener == nil {
		listener, err = net.Listen("tcp", settings.HTTPAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", settings.HTTPAddr, err)
		}
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	var healthServer *health.Server
	var healthListener net.Listener
	if settings.HealthAddr != "" {
		healthListener, err = net.Listen("tcp", settings.HealthAddr)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to listen for health on %s: %w", settings.HealthAddr, err)
		}
		healthServer = health.NewServer()
		healthServer.SetServing(true)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		telemetryLogger.Printf("server listening on %s", listener.Addr())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return hub.RunJanitor(groupCtx, settings.JanitorInterval)
	})

	if healthServer != nil {
		group.Go(func() error {
			telemetryLogger.Printf("health listening on %s", healthListener.Addr())
			return healthServer.Serve(groupCtx, healthListener)
		})
	}

	if cfg.Ready != nil {
		cfg.Ready(listener.Addr())
	}
	return group.Wait()
}

func newRouter(settings config.Config, fallback *log.Logger) (*logging.Router, error) {
	logConfig := logging.DefaultConfig()
	logConfig.MinimumSeverity = settings.Severity()
	logConfig.Fallback = fallback
	logConfig.Fields = map[string]any{"service": serviceName}
	logConfig.JSONPath = settings.LogJSONPath

	sinks := []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, logConfig.ConsolePrefix)},
	}
	if logConfig.JSONPath != "" {
		file, err := os.OpenFile(logConfig.JSONPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log %s: %w", logConfig.JSONPath, err)
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(file, logConfig.FlushInterval)})
	}

	router, err := logging.NewRouter(logging.ClockFunc(time.Now), logConfig, sinks)
	if err != nil {
		return nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	return router, nil
}
